package garch

import (
	"fmt"
	"math"
	"time"

	"QuantCore/internal/domain/models"
	domsvc "QuantCore/internal/domain/service"

	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

const (
	// MinObservations is the shortest history accepted for a stable fit.
	MinObservations = 250

	// MaxIterations bounds the Nelder-Mead search. The likelihood surface
	// has no early-exit guarantee, so the budget is hard.
	MaxIterations = 500

	// HighPersistenceThreshold flags near-unit-root fits.
	HighPersistenceThreshold = 0.95
)

// Forecaster fits sigma2_t = omega + alpha*eps2_{t-1} + beta*sigma2_{t-1}
// by Gaussian maximum likelihood and iterates the recursion forward for the
// forecast path. Confidence intervals assume normal innovations.
type Forecaster struct {
	maxIterations int
}

// Option configures Forecaster.
type Option func(*Forecaster)

// WithMaxIterations overrides the optimizer iteration budget.
func WithMaxIterations(n int) Option {
	return func(f *Forecaster) { f.maxIterations = n }
}

// New creates a GARCH forecaster.
func New(opts ...Option) *Forecaster {
	f := &Forecaster{maxIterations: MaxIterations}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// FitAndForecast estimates the parameters and produces a per-step forecast
// out to horizon days. Non-stationary fits (persistence >= 1) are reported
// with the NonStationary flag set, never clamped or rejected.
func (f *Forecaster) FitAndForecast(ticker string, returns []float64, horizon int, confidence float64) (*models.VolatilityForecast, error) {
	if len(returns) < MinObservations {
		return nil, fmt.Errorf("%w: %d observations, need %d", models.ErrInsufficientData, len(returns), MinObservations)
	}
	if horizon < 1 {
		return nil, fmt.Errorf("horizon must be >= 1, got %d", horizon)
	}

	mean := stat.Mean(returns, nil)
	eps := make([]float64, len(returns))
	for i, r := range returns {
		eps[i] = r - mean
	}
	sampleVar := stat.Variance(eps, nil)
	if sampleVar <= 0 {
		return nil, fmt.Errorf("%w: zero-variance series", models.ErrInsufficientData)
	}

	params, ll, iters, err := f.fit(eps, sampleVar)
	if err != nil {
		return nil, err
	}

	persistence := params.Persistence()
	fc := &models.VolatilityForecast{
		Ticker:          ticker,
		Horizon:         horizon,
		Confidence:      confidence,
		Params:          params,
		Persistence:     persistence,
		HighPersistence: persistence >= HighPersistenceThreshold,
		NonStationary:   persistence >= 1,
		LogLikelihood:   ll,
		Iterations:      iters,
		GeneratedAt:     time.Now().UTC(),
	}

	fc.Path = forecastPath(params, eps, sampleVar, horizon, confidence)
	return fc, nil
}

// fit runs Nelder-Mead over log-transformed parameters so positivity holds
// by construction.
func (f *Forecaster) fit(eps []float64, sampleVar float64) (models.GarchParams, float64, int, error) {
	nll := func(x []float64) float64 {
		omega, alpha, beta := math.Exp(x[0]), math.Exp(x[1]), math.Exp(x[2])
		return negLogLikelihood(eps, sampleVar, omega, alpha, beta)
	}

	// Textbook starting point: alpha 0.05, beta 0.90, omega sized so the
	// unconditional variance matches the sample.
	x0 := []float64{
		math.Log(sampleVar * 0.05),
		math.Log(0.05),
		math.Log(0.90),
	}

	settings := &optimize.Settings{
		MajorIterations: f.maxIterations,
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-9,
			Iterations: 50,
		},
	}

	problem := optimize.Problem{Func: nll}
	res, err := optimize.Minimize(problem, x0, settings, &optimize.NelderMead{})
	if err != nil {
		return models.GarchParams{}, 0, 0, fmt.Errorf("%w: %v", models.ErrConvergenceFailure, err)
	}
	if res.Status == optimize.IterationLimit || res.Status == optimize.FunctionEvaluationLimit {
		return models.GarchParams{}, 0, 0, fmt.Errorf("%w: hit iteration budget %d", models.ErrConvergenceFailure, f.maxIterations)
	}
	if math.IsInf(res.F, 0) || math.IsNaN(res.F) {
		return models.GarchParams{}, 0, 0, fmt.Errorf("%w: degenerate likelihood", models.ErrConvergenceFailure)
	}

	params := models.GarchParams{
		Omega: math.Exp(res.X[0]),
		Alpha: math.Exp(res.X[1]),
		Beta:  math.Exp(res.X[2]),
	}
	return params, -res.F, res.Stats.MajorIterations, nil
}

// negLogLikelihood is the Gaussian GARCH(1,1) negative log-likelihood with
// the variance recursion seeded at the sample variance.
func negLogLikelihood(eps []float64, sampleVar, omega, alpha, beta float64) float64 {
	if omega <= 0 || alpha < 0 || beta < 0 {
		return math.Inf(1)
	}
	sigma2 := sampleVar
	nll := 0.0
	for t := 1; t < len(eps); t++ {
		sigma2 = omega + alpha*eps[t-1]*eps[t-1] + beta*sigma2
		if sigma2 <= 0 || math.IsNaN(sigma2) {
			return math.Inf(1)
		}
		nll += 0.5 * (math.Log(2*math.Pi*sigma2) + eps[t]*eps[t]/sigma2)
	}
	return nll
}

// forecastPath iterates E[sigma2_{T+k}] = omega + (alpha+beta)*E[sigma2_{T+k-1}]
// from the last in-sample variance and wraps each step in a normal
// confidence interval for the one-day return.
func forecastPath(p models.GarchParams, eps []float64, sampleVar float64, horizon int, confidence float64) []models.ForecastPoint {
	// Replay the recursion to get the terminal in-sample variance.
	sigma2 := sampleVar
	for t := 1; t < len(eps); t++ {
		sigma2 = p.Omega + p.Alpha*eps[t-1]*eps[t-1] + p.Beta*sigma2
	}

	z := distuv.UnitNormal.Quantile((1 + confidence) / 2)
	last := eps[len(eps)-1]
	path := make([]models.ForecastPoint, 0, horizon)

	// One step ahead still sees the last squared innovation; beyond that
	// only persistence carries forward.
	next := p.Omega + p.Alpha*last*last + p.Beta*sigma2
	for k := 1; k <= horizon; k++ {
		sigma := math.Sqrt(next)
		path = append(path, models.ForecastPoint{
			Step:       k,
			Sigma:      sigma,
			LowerBound: -z * sigma,
			UpperBound: z * sigma,
		})
		next = p.Omega + p.Persistence()*next
	}
	return path
}

var _ domsvc.GarchForecaster = (*Forecaster)(nil)
