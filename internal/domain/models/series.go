package models

import "time"

// ReturnPoint is one observation in a return time series.
type ReturnPoint struct {
	Date   time.Time
	Return float64
}

// ReturnSeries is an ordered (ascending by date) sequence of returns for
// one subject. The core only ever reads these; external collaborators own
// the underlying rows.
type ReturnSeries struct {
	Subject string
	Points  []ReturnPoint
}

// Values extracts the raw return values in date order.
func (s ReturnSeries) Values() []float64 {
	out := make([]float64, len(s.Points))
	for i, p := range s.Points {
		out[i] = p.Return
	}
	return out
}

// Len returns the number of observations.
func (s ReturnSeries) Len() int { return len(s.Points) }
