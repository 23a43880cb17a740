package risk

import (
	"errors"
	"math"
	"testing"
	"time"

	"QuantCore/internal/domain/models"
)

func mkSeries(subject string, returns []float64) models.ReturnSeries {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	pts := make([]models.ReturnPoint, len(returns))
	for i, r := range returns {
		pts[i] = models.ReturnPoint{Date: base.AddDate(0, 0, i), Return: r}
	}
	return models.ReturnSeries{Subject: subject, Points: pts}
}

func TestComputeInsufficientData(t *testing.T) {
	rets := make([]float64, 19)
	_, err := New().Compute(mkSeries("AAPL", rets), nil)
	if !errors.Is(err, models.ErrInsufficientData) {
		t.Fatalf("expected ErrInsufficientData, got %v", err)
	}
}

func TestComputeBetaAbsentWithoutBenchmark(t *testing.T) {
	rets := make([]float64, 40)
	for i := range rets {
		rets[i] = 0.01 * math.Sin(float64(i))
	}
	snap, err := New().Compute(mkSeries("AAPL", rets), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Beta != nil {
		t.Fatalf("beta should be absent without benchmark, got %v", *snap.Beta)
	}
}

func TestComputeBetaOfSelfIsOne(t *testing.T) {
	rets := make([]float64, 60)
	for i := range rets {
		rets[i] = 0.02 * math.Sin(float64(i)*0.7)
	}
	s := mkSeries("SPY", rets)
	snap, err := New().Compute(s, &s)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Beta == nil {
		t.Fatalf("expected beta")
	}
	if math.Abs(*snap.Beta-1) > 1e-9 {
		t.Fatalf("beta of series against itself should be 1, got %f", *snap.Beta)
	}
}

func TestComputeBetaAbsentWithDegenerateBenchmark(t *testing.T) {
	rets := make([]float64, 40)
	for i := range rets {
		rets[i] = 0.01 * math.Cos(float64(i))
	}
	flat := mkSeries("FLAT", make([]float64, 40))
	snap, err := New().Compute(mkSeries("AAPL", rets), &flat)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Beta != nil {
		t.Fatalf("beta should be absent for zero-variance benchmark")
	}
}

func TestHistoricalVaRAndShortfall(t *testing.T) {
	// 100 returns: one big loss, the rest mild.
	rets := make([]float64, 100)
	for i := range rets {
		rets[i] = 0.001
	}
	rets[0] = -0.10
	rets[1] = -0.05
	rets[2] = -0.04

	v95 := HistoricalVaR(rets, 0.95)
	if v95 >= 0 {
		t.Fatalf("VaR95 should be negative, got %f", v95)
	}
	es95 := ExpectedShortfall(rets, 0.95)
	if es95 > v95 {
		t.Fatalf("expected shortfall %f should be at or beyond VaR %f", es95, v95)
	}
}

func TestMaxDrawdown(t *testing.T) {
	// +10%, then -50%: trough is 0.55 relative to peak 1.10.
	rets := []float64{0.10, -0.50}
	dd := maxDrawdown(rets)
	if math.Abs(dd-(-0.50)) > 1e-9 {
		t.Fatalf("expected drawdown -0.50, got %f", dd)
	}
}

func TestVolatilityAnnualized(t *testing.T) {
	rets := make([]float64, 252)
	for i := range rets {
		if i%2 == 0 {
			rets[i] = 0.01
		} else {
			rets[i] = -0.01
		}
	}
	snap, err := New().Compute(mkSeries("X", rets), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Volatility <= 0.1 || snap.Volatility >= 0.2 {
		t.Fatalf("annualized vol out of expected range: %f", snap.Volatility)
	}
}
