package correlation

import (
	"fmt"
	"time"

	"QuantCore/internal/domain/models"
	domsvc "QuantCore/internal/domain/service"

	"gonum.org/v1/gonum/stat"
)

const (
	// MinOverlap is the minimum number of common observations a pair needs
	// before its coefficient is stored. Pairs below it are omitted, not
	// zero-filled: absence means "insufficient data".
	MinOverlap = 30

	// MaxPositions caps the number of series per matrix. The usecase
	// selects the largest positions by weight before calling in, so the
	// O(n^2 * m) pass stays bounded.
	MaxPositions = 30
)

// Engine computes pairwise Pearson correlations over date-aligned series.
type Engine struct {
	minOverlap int
}

// Option configures Engine.
type Option func(*Engine)

// WithMinOverlap overrides the overlap threshold.
func WithMinOverlap(n int) Option {
	return func(e *Engine) { e.minOverlap = n }
}

// New creates a correlation engine.
func New(opts ...Option) *Engine {
	e := &Engine{minOverlap: MinOverlap}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Compute builds the upper-triangular matrix for the given series. A
// single series yields one ticker and zero pairs, which is a valid result,
// not an error. The diagonal is implied 1.0 and never stored.
func (e *Engine) Compute(portfolio string, series []models.ReturnSeries, windowDays int) (*models.CorrelationMatrix, error) {
	if len(series) > MaxPositions {
		return nil, fmt.Errorf("too many series: %d, cap is %d", len(series), MaxPositions)
	}

	byDate := make([]map[time.Time]float64, len(series))
	tickers := make([]string, len(series))
	for i, s := range series {
		tickers[i] = s.Subject
		m := make(map[time.Time]float64, s.Len())
		for _, p := range s.Points {
			m[p.Date] = p.Return
		}
		byDate[i] = m
	}

	matrix := &models.CorrelationMatrix{
		Portfolio:   portfolio,
		Tickers:     tickers,
		WindowDays:  windowDays,
		GeneratedAt: time.Now().UTC(),
	}

	for i := 0; i < len(series); i++ {
		for j := i + 1; j < len(series); j++ {
			a, b := alignPair(series[i], byDate[j])
			if len(a) < e.minOverlap {
				continue
			}
			r := stat.Correlation(a, b, nil)
			// A constant series gives NaN; treat it as insufficient
			// information rather than storing garbage.
			if r != r {
				continue
			}
			matrix.Pairs = append(matrix.Pairs, models.CorrelationPair{
				A:           tickers[i],
				B:           tickers[j],
				Coefficient: clamp(r),
				Overlap:     len(a),
			})
		}
	}
	return matrix, nil
}

// alignPair intersects series a with the date-indexed values of b.
func alignPair(a models.ReturnSeries, b map[time.Time]float64) ([]float64, []float64) {
	var av, bv []float64
	for _, p := range a.Points {
		if v, ok := b[p.Date]; ok {
			av = append(av, p.Return)
			bv = append(bv, v)
		}
	}
	return av, bv
}

// clamp guards against floating-point drift just past the [-1, 1] bounds.
func clamp(r float64) float64 {
	if r > 1 {
		return 1
	}
	if r < -1 {
		return -1
	}
	return r
}

var _ domsvc.CorrelationEngine = (*Engine)(nil)
