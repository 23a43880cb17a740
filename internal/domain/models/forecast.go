package models

import "time"

// GarchParams are the fitted GARCH(1,1) coefficients.
type GarchParams struct {
	Omega float64 `json:"omega"`
	Alpha float64 `json:"alpha"`
	Beta  float64 `json:"beta"`
}

// Persistence is alpha+beta: how slowly a volatility shock decays.
func (p GarchParams) Persistence() float64 { return p.Alpha + p.Beta }

// ForecastPoint is one step of a volatility forecast path.
type ForecastPoint struct {
	Step       int     `json:"step"` // days ahead, 1-based
	Sigma      float64 `json:"sigma"`
	LowerBound float64 `json:"lower_bound"`
	UpperBound float64 `json:"upper_bound"`
}

// VolatilityForecast is a fitted GARCH(1,1) model plus its forecast path.
// Confidence intervals assume normal innovations.
type VolatilityForecast struct {
	Ticker      string          `json:"ticker"`
	Horizon     int             `json:"horizon"` // days
	Confidence  float64         `json:"confidence"`
	Params      GarchParams     `json:"params"`
	Persistence float64         `json:"persistence"`
	// HighPersistence flags persistence >= 0.95; NonStationary flags >= 1.
	// Both are reported, never silently clamped.
	HighPersistence bool            `json:"high_persistence"`
	NonStationary   bool            `json:"non_stationary"`
	LogLikelihood   float64         `json:"log_likelihood"`
	Iterations      int             `json:"iterations"`
	Path            []ForecastPoint `json:"path"`
	GeneratedAt     time.Time       `json:"generated_at"`
}
