package provider

import (
	"context"
	"math"
	"sync"
	"time"

	"QuantCore/internal/domain/models"
	domrepo "QuantCore/internal/domain/repository"
	"QuantCore/pkg/logger"
)

const (
	// DefaultBaseDelay seeds the exponential backoff for rate-limit and
	// API errors.
	DefaultBaseDelay = 30 * time.Second

	// DefaultMaxDelay caps the exponential growth.
	DefaultMaxDelay = time.Hour

	// DefaultNotFoundDelay is the long fixed penalty for tickers the
	// provider says do not exist: they are unlikely to start existing.
	DefaultNotFoundDelay = 24 * time.Hour

	// DefaultExponentCap bounds 2^n growth.
	DefaultExponentCap = 6

	// sweepAge is how far past retry_after a record must be before the
	// periodic sweep drops it, bounding table growth.
	sweepAge = 24 * time.Hour
)

// Tracker records recent upstream fetch failures per ticker and gates
// whether a fresh external fetch is attempted. A success deletes the
// record entirely: no residual penalty.
type Tracker struct {
	mu      sync.Mutex
	records map[string]*models.ProviderFailureRecord

	baseDelay     time.Duration
	maxDelay      time.Duration
	notFoundDelay time.Duration
	exponentCap   int

	metrics domrepo.Metrics
	log     *logger.Logger
	now     func() time.Time
}

// Option configures Tracker.
type Option func(*Tracker)

// WithDelays overrides the backoff schedule.
func WithDelays(base, max, notFound time.Duration) Option {
	return func(t *Tracker) {
		t.baseDelay = base
		t.maxDelay = max
		t.notFoundDelay = notFound
	}
}

// WithMetrics wires the instrumentation sink.
func WithMetrics(m domrepo.Metrics) Option {
	return func(t *Tracker) { t.metrics = m }
}

// WithLogger wires structured logging.
func WithLogger(l *logger.Logger) Option {
	return func(t *Tracker) { t.log = l }
}

// WithClock overrides the time source. Tests only.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// NewTracker creates a failure tracker.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		records:       make(map[string]*models.ProviderFailureRecord),
		baseDelay:     DefaultBaseDelay,
		maxDelay:      DefaultMaxDelay,
		notFoundDelay: DefaultNotFoundDelay,
		exponentCap:   DefaultExponentCap,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// ShouldAttempt reports whether a fetch for ticker is allowed: true when
// no failure record exists or its retry_after has passed.
func (t *Tracker) ShouldAttempt(ticker string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[ticker]
	if !ok {
		return true
	}
	return !t.now().Before(rec.RetryAfter)
}

// RecordFailure notes a failed fetch and pushes retry_after forward by a
// monotonically increasing function of the consecutive-failure count.
func (t *Tracker) RecordFailure(ticker string, kind models.FailureKind, msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	rec, ok := t.records[ticker]
	if !ok {
		rec = &models.ProviderFailureRecord{Ticker: ticker}
		t.records[ticker] = rec
	}
	rec.Kind = kind
	rec.ConsecutiveFailures++
	rec.LastAttemptAt = now
	rec.LastError = msg
	rec.RetryAfter = now.Add(t.delay(kind, rec.ConsecutiveFailures))

	if t.metrics != nil {
		t.metrics.RecordProviderFailure(string(kind))
	}
	if t.log != nil {
		t.log.Warn("provider failure recorded",
			logger.String("ticker", ticker),
			logger.String("kind", string(kind)),
			logger.Int("consecutive", rec.ConsecutiveFailures),
			logger.String("retry_after", rec.RetryAfter.Format(time.RFC3339)),
		)
	}
}

// RecordSuccess deletes the ticker's record entirely.
func (t *Tracker) RecordSuccess(ticker string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.records, ticker)
}

// Record returns a copy of the failure record for a ticker, if any.
func (t *Tracker) Record(ticker string) (models.ProviderFailureRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[ticker]
	if !ok {
		return models.ProviderFailureRecord{}, false
	}
	return *rec, true
}

// Sweep removes records whose retry_after is far in the past, bounding
// table growth. Returns the number of records dropped.
func (t *Tracker) Sweep() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-sweepAge)
	dropped := 0
	for ticker, rec := range t.records {
		if rec.RetryAfter.Before(cutoff) {
			delete(t.records, ticker)
			dropped++
		}
	}
	return dropped
}

// RunSweeper sweeps periodically until ctx is done.
func (t *Tracker) RunSweeper(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := t.Sweep(); n > 0 && t.log != nil {
				t.log.Info("failure records swept", logger.Int("dropped", n))
			}
		}
	}
}

// delay computes the penalty for the nth consecutive failure. not_found
// gets a long fixed delay; rate_limited and api_error grow exponentially
// up to the cap.
func (t *Tracker) delay(kind models.FailureKind, failures int) time.Duration {
	if kind == models.FailureNotFound {
		return t.notFoundDelay
	}
	exp := math.Min(float64(failures-1), float64(t.exponentCap))
	d := time.Duration(float64(t.baseDelay) * math.Pow(2, exp))
	if d > t.maxDelay {
		return t.maxDelay
	}
	return d
}
