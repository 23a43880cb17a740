package service

import (
	"QuantCore/internal/domain/models"
)

// The engines are pure and stateless: they take aligned series in and
// return a result or an error. They never touch cache or storage state;
// the coordination layer owns every status transition.

// RiskEngine computes point-in-time risk metrics from a return series and
// an optional benchmark series (nil when absent).
type RiskEngine interface {
	Compute(series models.ReturnSeries, benchmark *models.ReturnSeries) (*models.RiskSnapshot, error)
}

// CorrelationEngine computes pairwise Pearson correlations for a set of
// return series aligned by date intersection.
type CorrelationEngine interface {
	Compute(portfolio string, series []models.ReturnSeries, windowDays int) (*models.CorrelationMatrix, error)
}

// GarchForecaster fits GARCH(1,1) by maximum likelihood and forecasts a
// volatility path out to the horizon.
type GarchForecaster interface {
	FitAndForecast(ticker string, returns []float64, horizon int, confidence float64) (*models.VolatilityForecast, error)
}

// RegimeTrainer fits an HMM over a discretized observation window.
type RegimeTrainer interface {
	Train(scope string, returns []float64, windowDays int) (*models.HmmModel, error)
}

// RegimeInferrer runs forward inference against a trained model.
type RegimeInferrer interface {
	Forecast(m *models.HmmModel, returns []float64, horizon int) (*models.RegimeForecast, error)
}
