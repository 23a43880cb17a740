package models

import "errors"

// Sentinel errors for the analytics core. Callers branch with errors.Is;
// the HTTP layer maps them onto status codes.
var (
	// ErrInsufficientData means too few observations for a stable estimate.
	// Not retried: more data has to arrive first.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrConvergenceFailure means an iterative fit ran out of its iteration
	// budget without converging. Retried on the next scheduled attempt.
	ErrConvergenceFailure = errors.New("optimizer did not converge")

	// ErrUpstreamUnavailable means an external data fetch failed or was
	// suppressed by the failure tracker backoff.
	ErrUpstreamUnavailable = errors.New("upstream provider unavailable")

	// ErrAlreadyCalculating means another caller holds the calculating
	// claim for the same cache key.
	ErrAlreadyCalculating = errors.New("already calculating")

	// ErrInvalidDistribution means a probability vector failed the
	// sum-to-one check. The write is rejected, the previous version kept.
	ErrInvalidDistribution = errors.New("probability distribution out of tolerance")

	// ErrNoData means the time-series store has no rows for the subject.
	ErrNoData = errors.New("no data for subject")

	// ErrUnavailable means no fresh value could be produced and no prior
	// cached value exists to fall back on.
	ErrUnavailable = errors.New("unavailable, retry after backoff")
)
