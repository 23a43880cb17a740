package hmm

import (
	"fmt"
	"time"

	"QuantCore/internal/domain/models"
	domsvc "QuantCore/internal/domain/service"

	"gonum.org/v1/gonum/mat"
)

// Inferrer runs forward inference against a trained model version. It
// never mutates the model: training produces new versions, inference only
// reads them.
type Inferrer struct{}

// NewInferrer creates an inferrer.
func NewInferrer() *Inferrer { return &Inferrer{} }

// Forecast computes the current state distribution from the observation
// sequence, then propagates it through the transition matrix horizon
// times. The predicted regime is the maximum-probability state; the
// transition probability is 1 minus the mass remaining on the current
// most-likely state.
func (in *Inferrer) Forecast(m *models.HmmModel, returns []float64, horizon int) (*models.RegimeForecast, error) {
	if m == nil {
		return nil, fmt.Errorf("no trained model available")
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if horizon < 1 {
		return nil, fmt.Errorf("horizon must be >= 1, got %d", horizon)
	}

	symbols := Discretize(returns)
	if len(symbols) == 0 {
		return nil, fmt.Errorf("%w: series too short to discretize", models.ErrInsufficientData)
	}

	n := len(m.States)
	pi := make([]float64, n)
	for i := range pi {
		pi[i] = 1.0 / float64(n)
	}
	alpha, _ := forwardScaled(symbols, m.Transition, m.Emission, pi)
	current := append([]float64(nil), alpha[len(alpha)-1]...)
	normalize(current)
	currentBest := argmax(current)

	// Propagate: d_{t+h} = d_t * T^h, as a row vector against the
	// row-stochastic transition matrix.
	trans := mat.NewDense(n, n, flatten(m.Transition))
	dist := mat.NewVecDense(n, current)
	next := mat.NewVecDense(n, nil)
	for step := 0; step < horizon; step++ {
		next.MulVec(trans.T(), dist)
		dist, next = next, dist
	}

	probs := make([]float64, n)
	copy(probs, dist.RawVector().Data)
	normalize(probs)
	if err := models.ValidateDistribution(probs); err != nil {
		return nil, err
	}

	return &models.RegimeForecast{
		Scope:                 m.Scope,
		ForecastDate:          time.Now().UTC(),
		Horizon:               horizon,
		Predicted:             models.Regime(m.States[argmax(probs)]),
		Probabilities:         probs,
		TransitionProbability: 1 - probs[currentBest],
		ModelTrainedAt:        m.TrainedAt,
	}, nil
}

func argmax(v []float64) int {
	best := 0
	for i, x := range v {
		if x > v[best] {
			best = i
		}
	}
	return best
}

func flatten(rows [][]float64) []float64 {
	if len(rows) == 0 {
		return nil
	}
	out := make([]float64, 0, len(rows)*len(rows[0]))
	for _, r := range rows {
		out = append(out, r...)
	}
	return out
}

var _ domsvc.RegimeInferrer = (*Inferrer)(nil)
