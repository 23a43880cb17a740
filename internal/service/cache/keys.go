package cache

import "fmt"

// Cache keys render the natural parameter tuple of each artifact kind
// canonically, so the same request always lands on the same entry.

// RiskKey identifies a risk snapshot computation.
func RiskKey(subject string, days int, benchmark string) string {
	if benchmark == "" {
		benchmark = "-"
	}
	return fmt.Sprintf("risk:%s:d%d:b%s", subject, days, benchmark)
}

// CorrelationKey identifies a portfolio correlation matrix.
func CorrelationKey(portfolio string, days int) string {
	return fmt.Sprintf("corr:%s:d%d", portfolio, days)
}

// VolForecastKey identifies a GARCH forecast.
func VolForecastKey(ticker string, horizon int, confidence float64) string {
	return fmt.Sprintf("vol:%s:h%d:c%.3f", ticker, horizon, confidence)
}

// RegimeKey identifies a regime forecast for a market scope.
func RegimeKey(scope string, horizon int) string {
	return fmt.Sprintf("regime:%s:h%d", scope, horizon)
}
