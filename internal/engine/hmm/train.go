package hmm

import (
	"fmt"
	"math"
	"time"

	"QuantCore/internal/domain/models"
	domsvc "QuantCore/internal/domain/service"
)

const (
	// MinObservations is the shortest symbol sequence Baum-Welch accepts.
	MinObservations = 120

	// MaxIterations caps the EM loop; Baum-Welch has no early-exit
	// guarantee of its own.
	MaxIterations = 100

	// ConvergenceTol stops EM once the log-likelihood gain per iteration
	// falls below it.
	ConvergenceTol = 1e-4

	// holdoutFraction of the sequence tail is reserved for the accuracy
	// score and excluded from fitting.
	holdoutFraction = 0.2

	// smoothing keeps re-estimated rows strictly positive so a symbol
	// unseen in training does not zero out inference later.
	smoothing = 1e-6
)

// StateNames is the fixed regime ordering every model and forecast uses.
var StateNames = []string{
	string(models.RegimeBull),
	string(models.RegimeBear),
	string(models.RegimeHighVol),
	string(models.RegimeSideways),
}

// NumStates is the number of latent regimes.
const NumStates = 4

// Trainer fits HmmModel versions with Baum-Welch EM over discretized
// (return, volatility) observations.
type Trainer struct {
	maxIterations int
}

// TrainerOption configures Trainer.
type TrainerOption func(*Trainer)

// WithMaxIterations overrides the EM iteration cap.
func WithMaxIterations(n int) TrainerOption {
	return func(t *Trainer) { t.maxIterations = n }
}

// NewTrainer creates a trainer.
func NewTrainer(opts ...TrainerOption) *Trainer {
	t := &Trainer{maxIterations: MaxIterations}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Train fits a new model version over the rolling window. The returned
// model is validated (row-stochastic within tolerance) before it leaves
// this package; a model failing validation is never returned.
func (t *Trainer) Train(scope string, returns []float64, windowDays int) (*models.HmmModel, error) {
	symbols := Discretize(returns)
	if len(symbols) < MinObservations {
		return nil, fmt.Errorf("%w: %d observations after discretization, need %d", models.ErrInsufficientData, len(symbols), MinObservations)
	}

	holdout := int(float64(len(symbols)) * holdoutFraction)
	fitSeq := symbols[:len(symbols)-holdout]
	holdSeq := symbols[len(symbols)-holdout:]

	trans, emit, pi := initialParameters()

	var ll, prevLL float64
	prevLL = math.Inf(-1)
	iters := 0
	for iters = 1; iters <= t.maxIterations; iters++ {
		var next struct {
			trans [][]float64
			emit  [][]float64
			pi    []float64
		}
		next.trans, next.emit, next.pi, ll = baumWelchStep(fitSeq, trans, emit, pi)
		trans, emit, pi = next.trans, next.emit, next.pi
		if ll-prevLL < ConvergenceTol && ll >= prevLL {
			break
		}
		prevLL = ll
	}
	if iters > t.maxIterations {
		iters = t.maxIterations
	}

	m := &models.HmmModel{
		Scope:          scope,
		States:         append([]string(nil), StateNames...),
		Transition:     trans,
		Emission:       emit,
		Discretization: DiscretizationScheme,
		WindowDays:     windowDays,
		Accuracy:       holdoutAccuracy(fitSeq, holdSeq, trans, emit, pi),
		LogLikelihood:  ll,
		Iterations:     iters,
		TrainedAt:      time.Now().UTC(),
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// initialParameters seeds EM with sticky transitions and state-flavored
// emissions so the regimes do not start symmetric.
func initialParameters() (trans, emit [][]float64, pi []float64) {
	trans = make([][]float64, NumStates)
	for i := range trans {
		trans[i] = make([]float64, NumStates)
		for j := range trans[i] {
			if i == j {
				trans[i][j] = 0.85
			} else {
				trans[i][j] = 0.15 / float64(NumStates-1)
			}
		}
	}

	// Symbol layout: low-vol {down, flat, up} then high-vol {down, flat, up}.
	emit = [][]float64{
		{0.05, 0.25, 0.40, 0.05, 0.10, 0.15}, // bull: upward drift, calm
		{0.40, 0.20, 0.05, 0.20, 0.10, 0.05}, // bear: downward drift
		{0.05, 0.05, 0.05, 0.30, 0.25, 0.30}, // high volatility: wide swings
		{0.10, 0.55, 0.10, 0.05, 0.15, 0.05}, // sideways: flat dominates
	}

	pi = make([]float64, NumStates)
	for i := range pi {
		pi[i] = 1.0 / NumStates
	}
	return trans, emit, pi
}

// baumWelchStep is one full EM iteration with scaled forward-backward.
// It returns the re-estimated parameters and the sequence log-likelihood
// under the incoming parameters.
func baumWelchStep(obs []int, trans, emit [][]float64, pi []float64) ([][]float64, [][]float64, []float64, float64) {
	T := len(obs)

	alpha, scale := forwardScaled(obs, trans, emit, pi)
	beta := backwardScaled(obs, trans, emit, scale)

	ll := 0.0
	for _, c := range scale {
		ll += math.Log(c)
	}

	// gamma[t][i]: P(state i at t); xi accumulated directly into the
	// transition numerator to avoid a T*N*N buffer.
	gamma := make([][]float64, T)
	for t := 0; t < T; t++ {
		gamma[t] = make([]float64, NumStates)
		sum := 0.0
		for i := 0; i < NumStates; i++ {
			gamma[t][i] = alpha[t][i] * beta[t][i]
			sum += gamma[t][i]
		}
		if sum > 0 {
			for i := range gamma[t] {
				gamma[t][i] /= sum
			}
		}
	}

	newTrans := make([][]float64, NumStates)
	for i := range newTrans {
		newTrans[i] = make([]float64, NumStates)
	}
	for t := 0; t < T-1; t++ {
		denom := 0.0
		for i := 0; i < NumStates; i++ {
			for j := 0; j < NumStates; j++ {
				denom += alpha[t][i] * trans[i][j] * emit[j][obs[t+1]] * beta[t+1][j]
			}
		}
		if denom == 0 {
			continue
		}
		for i := 0; i < NumStates; i++ {
			for j := 0; j < NumStates; j++ {
				newTrans[i][j] += alpha[t][i] * trans[i][j] * emit[j][obs[t+1]] * beta[t+1][j] / denom
			}
		}
	}
	for i := 0; i < NumStates; i++ {
		rowSum := 0.0
		for j := range newTrans[i] {
			newTrans[i][j] += smoothing
			rowSum += newTrans[i][j]
		}
		for j := range newTrans[i] {
			newTrans[i][j] /= rowSum
		}
	}

	newEmit := make([][]float64, NumStates)
	for i := range newEmit {
		newEmit[i] = make([]float64, NumSymbols)
	}
	for t := 0; t < T; t++ {
		for i := 0; i < NumStates; i++ {
			newEmit[i][obs[t]] += gamma[t][i]
		}
	}
	for i := 0; i < NumStates; i++ {
		rowSum := 0.0
		for k := range newEmit[i] {
			newEmit[i][k] += smoothing
			rowSum += newEmit[i][k]
		}
		for k := range newEmit[i] {
			newEmit[i][k] /= rowSum
		}
	}

	newPi := append([]float64(nil), gamma[0]...)
	normalize(newPi)

	return newTrans, newEmit, newPi, ll
}

// forwardScaled runs the scaled forward pass; scale[t] is the per-step
// normalizer whose logs sum to the sequence log-likelihood.
func forwardScaled(obs []int, trans, emit [][]float64, pi []float64) (alpha [][]float64, scale []float64) {
	T := len(obs)
	alpha = make([][]float64, T)
	scale = make([]float64, T)

	alpha[0] = make([]float64, NumStates)
	for i := 0; i < NumStates; i++ {
		alpha[0][i] = pi[i] * emit[i][obs[0]]
		scale[0] += alpha[0][i]
	}
	rescale(alpha[0], &scale[0])

	for t := 1; t < T; t++ {
		alpha[t] = make([]float64, NumStates)
		for j := 0; j < NumStates; j++ {
			sum := 0.0
			for i := 0; i < NumStates; i++ {
				sum += alpha[t-1][i] * trans[i][j]
			}
			alpha[t][j] = sum * emit[j][obs[t]]
			scale[t] += alpha[t][j]
		}
		rescale(alpha[t], &scale[t])
	}
	return alpha, scale
}

// backwardScaled runs the backward pass reusing the forward scale factors.
func backwardScaled(obs []int, trans, emit [][]float64, scale []float64) [][]float64 {
	T := len(obs)
	beta := make([][]float64, T)
	beta[T-1] = make([]float64, NumStates)
	for i := range beta[T-1] {
		beta[T-1][i] = 1 / scale[T-1]
	}
	for t := T - 2; t >= 0; t-- {
		beta[t] = make([]float64, NumStates)
		for i := 0; i < NumStates; i++ {
			sum := 0.0
			for j := 0; j < NumStates; j++ {
				sum += trans[i][j] * emit[j][obs[t+1]] * beta[t+1][j]
			}
			beta[t][i] = sum / scale[t]
		}
	}
	return beta
}

// holdoutAccuracy scores one-step-ahead symbol prediction on the holdout
// tail: run forward over everything seen so far, predict the most likely
// next symbol, compare with what actually happened.
func holdoutAccuracy(fitSeq, holdSeq []int, trans, emit [][]float64, pi []float64) float64 {
	if len(holdSeq) == 0 {
		return 0
	}
	seen := append([]int(nil), fitSeq...)
	hits := 0
	for _, actual := range holdSeq {
		alpha, _ := forwardScaled(seen, trans, emit, pi)
		cur := alpha[len(alpha)-1]

		best, bestP := 0, math.Inf(-1)
		for k := 0; k < NumSymbols; k++ {
			p := 0.0
			for i := 0; i < NumStates; i++ {
				for j := 0; j < NumStates; j++ {
					p += cur[i] * trans[i][j] * emit[j][k]
				}
			}
			if p > bestP {
				best, bestP = k, p
			}
		}
		if best == actual {
			hits++
		}
		seen = append(seen, actual)
	}
	return float64(hits) / float64(len(holdSeq))
}

func rescale(v []float64, scale *float64) {
	if *scale == 0 {
		*scale = 1
		return
	}
	for i := range v {
		v[i] /= *scale
	}
}

func normalize(v []float64) {
	sum := 0.0
	for _, x := range v {
		sum += x
	}
	if sum == 0 {
		return
	}
	for i := range v {
		v[i] /= sum
	}
}

var _ domsvc.RegimeTrainer = (*Trainer)(nil)
