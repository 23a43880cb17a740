package models

import (
	"math"
	"time"
)

// Regime labels for the hidden states, in model state order.
type Regime string

const (
	RegimeBull     Regime = "bull"
	RegimeBear     Regime = "bear"
	RegimeHighVol  Regime = "high_volatility"
	RegimeSideways Regime = "sideways"
)

// DistributionTolerance bounds how far a stored probability vector may
// drift from summing to exactly 1 before the write is rejected.
const DistributionTolerance = 0.05

// HmmModel is one trained model version. Versions are append-only and keyed
// by TrainedAt; inference always loads the latest.
type HmmModel struct {
	Scope      string    `json:"scope"` // market scope, e.g. "us_equities"
	States     []string  `json:"states"`
	Transition [][]float64 `json:"transition"` // N x N, row-stochastic
	Emission   [][]float64 `json:"emission"`   // N x M, row-stochastic
	// Discretization names the observation bucketing scheme the emission
	// columns are defined over.
	Discretization string    `json:"discretization"`
	WindowDays     int       `json:"window_days"`
	Accuracy       float64   `json:"accuracy"`
	LogLikelihood  float64   `json:"log_likelihood"`
	Iterations     int       `json:"iterations"`
	TrainedAt      time.Time `json:"trained_at"`
}

// Validate checks that every transition and emission row sums to 1 within
// tolerance. Out-of-tolerance models must never be persisted.
func (m *HmmModel) Validate() error {
	for _, row := range m.Transition {
		if err := ValidateDistribution(row); err != nil {
			return err
		}
	}
	for _, row := range m.Emission {
		if err := ValidateDistribution(row); err != nil {
			return err
		}
	}
	return nil
}

// RegimeForecast is the inferred regime distribution at a horizon.
type RegimeForecast struct {
	Scope        string    `json:"scope"`
	ForecastDate time.Time `json:"forecast_date"`
	Horizon      int       `json:"horizon"` // days
	// Predicted is the maximum-probability state at the horizon.
	Predicted Regime `json:"predicted"`
	// Probabilities is the full distribution over states, in model state
	// order; sums to 1 within DistributionTolerance.
	Probabilities []float64 `json:"probabilities"`
	// TransitionProbability is 1 minus the mass remaining on the current
	// most-likely state.
	TransitionProbability float64   `json:"transition_probability"`
	ModelTrainedAt        time.Time `json:"model_trained_at"`
}

// ValidateDistribution rejects probability vectors that do not sum to 1
// within DistributionTolerance or contain out-of-range entries.
func ValidateDistribution(p []float64) error {
	if len(p) == 0 {
		return ErrInvalidDistribution
	}
	sum := 0.0
	for _, v := range p {
		if v < 0 || v > 1 || math.IsNaN(v) {
			return ErrInvalidDistribution
		}
		sum += v
	}
	if math.Abs(sum-1) > DistributionTolerance {
		return ErrInvalidDistribution
	}
	return nil
}
