package models

// Position is a portfolio holding as read from the external position store.
// The core never mutates positions; it only selects the largest by weight
// for correlation analysis.
type Position struct {
	Portfolio string  `json:"portfolio"`
	Ticker    string  `json:"ticker"`
	Weight    float64 `json:"weight"` // fraction of portfolio value
}
