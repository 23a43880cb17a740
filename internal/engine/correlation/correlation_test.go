package correlation

import (
	"math"
	"testing"
	"time"

	"QuantCore/internal/domain/models"
)

func mkSeries(ticker string, returns []float64) models.ReturnSeries {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	pts := make([]models.ReturnPoint, len(returns))
	for i, r := range returns {
		pts[i] = models.ReturnPoint{Date: base.AddDate(0, 0, i), Return: r}
	}
	return models.ReturnSeries{Subject: ticker, Points: pts}
}

func wave(n int, scale, phase float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = scale * math.Sin(float64(i)*0.3+phase)
	}
	return out
}

func TestSinglePositionYieldsNoPairs(t *testing.T) {
	m, err := New().Compute("p1", []models.ReturnSeries{mkSeries("AAPL", wave(60, 0.01, 0))}, 90)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(m.Tickers) != 1 || len(m.Pairs) != 0 {
		t.Fatalf("expected 1 ticker and 0 pairs, got %d/%d", len(m.Tickers), len(m.Pairs))
	}
}

func TestPerfectCorrelation(t *testing.T) {
	a := mkSeries("A", wave(60, 0.01, 0))
	b := mkSeries("B", wave(60, 0.02, 0)) // scaled copy, still r=1
	m, err := New().Compute("p1", []models.ReturnSeries{a, b}, 90)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(m.Pairs) != 1 {
		t.Fatalf("expected 1 pair, got %d", len(m.Pairs))
	}
	if math.Abs(m.Pairs[0].Coefficient-1) > 1e-9 {
		t.Fatalf("expected r=1, got %f", m.Pairs[0].Coefficient)
	}
}

func TestCoefficientsInRange(t *testing.T) {
	series := []models.ReturnSeries{
		mkSeries("A", wave(120, 0.01, 0)),
		mkSeries("B", wave(120, 0.01, 1.5)),
		mkSeries("C", wave(120, 0.02, 3.0)),
	}
	m, err := New().Compute("p1", series, 90)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(m.Pairs) != 3 {
		t.Fatalf("expected 3 pairs, got %d", len(m.Pairs))
	}
	for _, p := range m.Pairs {
		if p.Coefficient < -1 || p.Coefficient > 1 {
			t.Fatalf("coefficient out of range: %+v", p)
		}
		if p.A == p.B {
			t.Fatalf("diagonal pair stored: %+v", p)
		}
	}
}

func TestInsufficientOverlapOmitted(t *testing.T) {
	a := mkSeries("A", wave(60, 0.01, 0))
	// B only shares 10 dates with A.
	b := mkSeries("B", wave(10, 0.01, 0))
	m, err := New().Compute("p1", []models.ReturnSeries{a, b}, 90)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(m.Pairs) != 0 {
		t.Fatalf("pair with short overlap should be omitted, got %d pairs", len(m.Pairs))
	}
}

func TestConstantSeriesOmitted(t *testing.T) {
	a := mkSeries("A", wave(60, 0.01, 0))
	b := mkSeries("B", make([]float64, 60)) // zero variance
	m, err := New().Compute("p1", []models.ReturnSeries{a, b}, 90)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(m.Pairs) != 0 {
		t.Fatalf("constant series should produce no stored pair")
	}
}
