package risk

import (
	"fmt"
	"math"
	"sort"
	"time"

	"QuantCore/internal/domain/models"
	domsvc "QuantCore/internal/domain/service"

	"gonum.org/v1/gonum/stat"
)

const (
	// MinObservations is the floor below which no metric is estimated.
	// Fewer observations fail with ErrInsufficientData instead of
	// returning a low-confidence number silently.
	MinObservations = 20

	// TradingDaysPerYear annualizes daily volatility and Sharpe.
	TradingDaysPerYear = 252
)

// Engine computes risk metrics from aligned daily return series.
// VaR and expected shortfall use historical simulation, not a parametric
// fit: the empirical quantile of the observed return distribution.
type Engine struct {
	riskFreeRate float64 // annualized
}

// Option configures Engine.
type Option func(*Engine)

// WithRiskFreeRate sets the annualized risk-free rate used for Sharpe.
func WithRiskFreeRate(r float64) Option {
	return func(e *Engine) { e.riskFreeRate = r }
}

// New creates a risk engine.
func New(opts ...Option) *Engine {
	e := &Engine{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Compute derives the full metric set for one subject. benchmark may be
// nil; beta is then absent from the snapshot, never defaulted to 0.
func (e *Engine) Compute(series models.ReturnSeries, benchmark *models.ReturnSeries) (*models.RiskSnapshot, error) {
	rets := series.Values()
	if len(rets) < MinObservations {
		return nil, fmt.Errorf("%w: %d observations, need %d", models.ErrInsufficientData, len(rets), MinObservations)
	}

	logRets := make([]float64, len(rets))
	for i, r := range rets {
		if r <= -1 {
			return nil, fmt.Errorf("return %f at index %d implies total loss", r, i)
		}
		logRets[i] = math.Log1p(r)
	}

	dailyVol := math.Sqrt(stat.Variance(logRets, nil))
	vol := dailyVol * math.Sqrt(TradingDaysPerYear)

	snap := &models.RiskSnapshot{
		Subject:      series.Subject,
		Date:         lastDate(series),
		Observations: len(rets),
		Volatility:   vol,
		MaxDrawdown:  maxDrawdown(rets),
		Sharpe:       e.sharpe(logRets, vol),
		VaR95:        HistoricalVaR(rets, 0.95),
		VaR99:        HistoricalVaR(rets, 0.99),
		ES95:         ExpectedShortfall(rets, 0.95),
		ES99:         ExpectedShortfall(rets, 0.99),
	}

	if benchmark != nil {
		if b, ok := beta(series, *benchmark); ok {
			snap.Beta = &b
		}
	}
	return snap, nil
}

func (e *Engine) sharpe(logRets []float64, annualVol float64) float64 {
	if annualVol == 0 {
		return 0
	}
	meanExcess := stat.Mean(logRets, nil)*TradingDaysPerYear - e.riskFreeRate
	return meanExcess / annualVol
}

// HistoricalVaR returns the (1-confidence) empirical quantile of the
// return distribution, negative for a loss.
func HistoricalVaR(returns []float64, confidence float64) float64 {
	sorted := append([]float64(nil), returns...)
	sort.Float64s(sorted)
	return stat.Quantile(1-confidence, stat.Empirical, sorted, nil)
}

// ExpectedShortfall returns the mean of returns at or beyond the VaR
// threshold at the given confidence.
func ExpectedShortfall(returns []float64, confidence float64) float64 {
	threshold := HistoricalVaR(returns, confidence)
	sum, n := 0.0, 0
	for _, r := range returns {
		if r <= threshold {
			sum += r
			n++
		}
	}
	if n == 0 {
		return threshold
	}
	return sum / float64(n)
}

// maxDrawdown is the largest peak-to-trough decline of the cumulative
// wealth curve, reported as a negative fraction.
func maxDrawdown(returns []float64) float64 {
	wealth := 1.0
	peak := 1.0
	worst := 0.0
	for _, r := range returns {
		wealth *= 1 + r
		if wealth > peak {
			peak = wealth
		}
		dd := wealth/peak - 1
		if dd < worst {
			worst = dd
		}
	}
	return worst
}

// beta computes cov(asset, benchmark)/var(benchmark) over the dates the
// two series share. Returns ok=false when overlap is short or the
// benchmark is degenerate; the caller reports absence explicitly.
func beta(series, benchmark models.ReturnSeries) (float64, bool) {
	byDate := make(map[time.Time]float64, benchmark.Len())
	for _, p := range benchmark.Points {
		byDate[p.Date] = p.Return
	}
	var a, b []float64
	for _, p := range series.Points {
		if bv, ok := byDate[p.Date]; ok {
			a = append(a, p.Return)
			b = append(b, bv)
		}
	}
	if len(a) < MinObservations {
		return 0, false
	}
	benchVar := stat.Variance(b, nil)
	if benchVar == 0 || math.IsNaN(benchVar) {
		return 0, false
	}
	return stat.Covariance(a, b, nil) / benchVar, true
}

func lastDate(s models.ReturnSeries) time.Time {
	if s.Len() == 0 {
		return time.Time{}
	}
	return s.Points[s.Len()-1].Date
}

var _ domsvc.RiskEngine = (*Engine)(nil)
