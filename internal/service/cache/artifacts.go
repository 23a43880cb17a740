package cache

import (
	"encoding/json"
	"fmt"

	"QuantCore/internal/domain/models"
)

// Each artifact kind serializes as its own schema, and reads validate
// strictly: stored data is rejected when malformed or out of range rather
// than trusted blindly.

// EncodeRisk serializes a risk snapshot payload.
func EncodeRisk(s *models.RiskSnapshot) ([]byte, error) {
	return json.Marshal(s)
}

// DecodeRisk deserializes and validates a risk snapshot payload.
func DecodeRisk(b []byte) (*models.RiskSnapshot, error) {
	var s models.RiskSnapshot
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("decode risk payload: %w", err)
	}
	if s.Subject == "" || s.Observations < 1 {
		return nil, fmt.Errorf("risk payload missing subject or observations")
	}
	if s.MaxDrawdown > 0 {
		return nil, fmt.Errorf("stored drawdown %f is positive", s.MaxDrawdown)
	}
	return &s, nil
}

// EncodeCorrelation serializes a correlation matrix payload.
func EncodeCorrelation(m *models.CorrelationMatrix) ([]byte, error) {
	for _, p := range m.Pairs {
		if p.Coefficient < -1 || p.Coefficient > 1 {
			return nil, fmt.Errorf("coefficient %f for %s/%s out of [-1,1]", p.Coefficient, p.A, p.B)
		}
		if p.A == p.B {
			return nil, fmt.Errorf("diagonal pair %s must not be stored", p.A)
		}
	}
	return json.Marshal(m)
}

// DecodeCorrelation deserializes and validates a correlation payload.
func DecodeCorrelation(b []byte) (*models.CorrelationMatrix, error) {
	var m models.CorrelationMatrix
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("decode correlation payload: %w", err)
	}
	for _, p := range m.Pairs {
		if p.Coefficient < -1 || p.Coefficient > 1 {
			return nil, fmt.Errorf("stored coefficient %f out of range", p.Coefficient)
		}
		if p.A == p.B {
			return nil, fmt.Errorf("stored diagonal pair %s", p.A)
		}
	}
	return &m, nil
}

// EncodeVolForecast serializes a volatility forecast payload.
func EncodeVolForecast(f *models.VolatilityForecast) ([]byte, error) {
	return json.Marshal(f)
}

// DecodeVolForecast deserializes and validates a volatility forecast.
func DecodeVolForecast(b []byte) (*models.VolatilityForecast, error) {
	var f models.VolatilityForecast
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("decode vol forecast payload: %w", err)
	}
	if f.Params.Omega <= 0 || f.Params.Alpha < 0 || f.Params.Beta < 0 {
		return nil, fmt.Errorf("stored GARCH parameters invalid: %+v", f.Params)
	}
	for _, p := range f.Path {
		if p.Sigma < 0 {
			return nil, fmt.Errorf("stored forecast sigma negative at step %d", p.Step)
		}
	}
	return &f, nil
}

// EncodeRegime validates and serializes a regime forecast. A distribution
// outside tolerance is fatal for the write; the previous version stays.
func EncodeRegime(f *models.RegimeForecast) ([]byte, error) {
	if err := models.ValidateDistribution(f.Probabilities); err != nil {
		return nil, err
	}
	return json.Marshal(f)
}

// DecodeRegime deserializes and re-validates a regime forecast.
func DecodeRegime(b []byte) (*models.RegimeForecast, error) {
	var f models.RegimeForecast
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("decode regime payload: %w", err)
	}
	if err := models.ValidateDistribution(f.Probabilities); err != nil {
		return nil, err
	}
	return &f, nil
}
