package models

import "time"

// RiskSnapshot holds point-in-time risk metrics for a subject (portfolio or
// single position) on a date. Immutable once written: one row per
// (subject, date).
type RiskSnapshot struct {
	Subject      string    `json:"subject"`
	Date         time.Time `json:"date"`
	Observations int       `json:"observations"`

	Volatility  float64 `json:"volatility"`   // annualized stddev of log returns
	MaxDrawdown float64 `json:"max_drawdown"` // largest peak-to-trough decline, negative
	// Beta is nil when no benchmark series was supplied or the benchmark
	// variance is degenerate. Absence is explicit, never defaulted to 0.
	Beta   *float64 `json:"beta,omitempty"`
	Sharpe float64  `json:"sharpe"`

	VaR95 float64 `json:"var_95"` // historical-simulation quantiles, negative
	VaR99 float64 `json:"var_99"`
	ES95  float64 `json:"es_95"` // mean loss at or beyond the VaR threshold
	ES99  float64 `json:"es_99"`
}

// CorrelationPair is one upper-triangular entry of a correlation matrix.
// Pairs with insufficient overlap are omitted from storage entirely;
// absence means "insufficient data", not zero.
type CorrelationPair struct {
	A           string  `json:"a"`
	B           string  `json:"b"`
	Coefficient float64 `json:"coefficient"` // Pearson, in [-1, 1]
	Overlap     int     `json:"overlap"`     // common observations used
}

// CorrelationMatrix holds pairwise correlations for a portfolio's largest
// positions. The diagonal is implied 1.0 and never stored.
type CorrelationMatrix struct {
	Portfolio   string            `json:"portfolio"`
	Tickers     []string          `json:"tickers"`
	Pairs       []CorrelationPair `json:"pairs"`
	WindowDays  int               `json:"window_days"`
	GeneratedAt time.Time         `json:"generated_at"`
}
