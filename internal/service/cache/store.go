package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"QuantCore/internal/domain/models"
	domrepo "QuantCore/internal/domain/repository"
	pkgcache "QuantCore/pkg/cache"
	"QuantCore/pkg/logger"
)

// ComputeFunc produces a serialized artifact. It must respect ctx
// cancellation between major steps; the store guarantees the calculating
// claim is released however the computation ends.
type ComputeFunc func(ctx context.Context) ([]byte, error)

// Result is what GetOrCompute hands back. Stale is set when the payload
// predates the current TTL window (fail-open serving after a compute
// failure or while another caller holds the claim).
type Result struct {
	Payload     []byte
	Status      models.CacheStatus
	GeneratedAt time.Time
	Stale       bool
}

// Store coordinates artifact computation. It is the only mutable shared
// state in the core besides the failure tracker: engines stay pure and
// every status transition happens under the store's lock.
//
// Per key, the transition into calculating is the serialization point: a
// compare-and-swap under the mutex, backed by a lease with expiry so a
// crashed computation can never wedge the key. When a Redis-backed locker
// is configured the claim is additionally held across processes.
// claim is a held calculating lease. The token identifies the holder: a
// claim taken over after expiry gets a new token, so a late completion by
// the previous holder cannot commit over the takeover's transition.
type claim struct {
	token   uint64
	expires time.Time
}

type Store struct {
	mu       sync.Mutex
	entries  map[string]*models.CacheEntry
	leases   map[string]claim
	claimSeq uint64

	leaseTTL    time.Duration
	waitTimeout time.Duration
	pollEvery   time.Duration
	backoffBase time.Duration
	backoffMax  time.Duration
	backoffCap  int
	failClosed  bool

	locker  pkgcache.Service // optional cross-process claim
	metrics domrepo.Metrics
	log     *logger.Logger
	now     func() time.Time
}

// Option configures Store.
type Option func(*Store)

// WithLeaseTTL bounds how long a calculating claim survives without
// completing before another caller may take over.
func WithLeaseTTL(d time.Duration) Option {
	return func(s *Store) { s.leaseTTL = d }
}

// WithWaitTimeout bounds how long a race-losing caller with no stale
// payload waits for the winner before giving up.
func WithWaitTimeout(d time.Duration) Option {
	return func(s *Store) { s.waitTimeout = d }
}

// WithBackoff sets the error-retry schedule: base * 2^min(retries, cap),
// never exceeding max.
func WithBackoff(base, max time.Duration, cap int) Option {
	return func(s *Store) {
		s.backoffBase = base
		s.backoffMax = max
		s.backoffCap = cap
	}
}

// WithFailClosed makes compute failures surface as errors even when a
// previous payload exists. Default is fail-open: serve the last good value
// flagged stale.
func WithFailClosed() Option {
	return func(s *Store) { s.failClosed = true }
}

// WithLocker adds a distributed claim on top of the in-process one.
func WithLocker(l pkgcache.Service) Option {
	return func(s *Store) { s.locker = l }
}

// WithMetrics wires the instrumentation sink.
func WithMetrics(m domrepo.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// WithLogger wires structured logging.
func WithLogger(l *logger.Logger) Option {
	return func(s *Store) { s.log = l }
}

// WithClock overrides the time source. Tests only.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates a coordination store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		entries:     make(map[string]*models.CacheEntry),
		leases:      make(map[string]claim),
		leaseTTL:    2 * time.Minute,
		waitTimeout: 2 * time.Second,
		pollEvery:   25 * time.Millisecond,
		backoffBase: 30 * time.Second,
		backoffMax:  30 * time.Minute,
		backoffCap:  6,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetOrCompute returns the cached artifact for key, computing it when the
// entry is missing, stale, or errored past its backoff. Concurrent callers
// for the same key never compute twice: exactly one wins the claim, the
// rest serve the last payload or wait briefly.
func (s *Store) GetOrCompute(ctx context.Context, kind models.ArtifactKind, key string, ttl time.Duration, fn ComputeFunc) (Result, error) {
	res, token, err := s.tryServe(ctx, kind, key, ttl)
	if err != nil || token == 0 {
		return res, err
	}

	out, computeErr := s.runClaimed(ctx, kind, key, token, ttl, fn)
	if out != nil {
		return *out, nil
	}

	// Compute failed and fail-open had nothing to serve. The claim runner
	// gets the original error so callers can map it; only later callers
	// inside the backoff window see ErrUnavailable.
	return Result{Status: models.StatusError}, computeErr
}

// tryServe resolves the request without computing when possible, or
// claims the key. A non-zero token means the caller now owns the claim
// and must run the compute.
func (s *Store) tryServe(ctx context.Context, kind models.ArtifactKind, key string, ttl time.Duration) (Result, uint64, error) {
	s.mu.Lock()
	now := s.now()
	e, ok := s.entries[key]
	if !ok && s.locker != nil {
		// Cold local entry: another process may have computed this already.
		s.mu.Unlock()
		if res, hit := s.fetchMirror(ctx, kind, key, ttl); hit {
			return res, 0, nil
		}
		s.mu.Lock()
		now = s.now()
		e, ok = s.entries[key]
	}
	if !ok {
		// First reference creates the entry stale, per lifecycle.
		e = &models.CacheEntry{Key: key, Kind: kind, Status: models.StatusStale}
		s.entries[key] = e
	}

	// fresh -> stale flips automatically once wall clock passes expiry.
	if e.Status == models.StatusFresh && !now.Before(e.ExpiresAt) {
		e.Status = models.StatusStale
	}

	switch e.Status {
	case models.StatusFresh:
		res := Result{Payload: e.Payload, Status: e.Status, GeneratedAt: e.GeneratedAt}
		s.mu.Unlock()
		s.count(kind, "hit")
		return res, 0, nil

	case models.StatusCalculating:
		if c, held := s.leases[key]; held && now.Before(c.expires) {
			payload, gen := e.Payload, e.GeneratedAt
			s.mu.Unlock()
			if payload != nil {
				s.count(kind, "stale")
				return Result{Payload: payload, Status: models.StatusCalculating, GeneratedAt: gen, Stale: true}, 0, nil
			}
			res, werr := s.waitForWinner(ctx, kind, key)
			return res, 0, werr
		}
		// Lease expired: the computing process died. Take over.
		s.warn("calculating lease expired, taking over", key)

	case models.StatusError:
		wait := s.backoff(e.RetryCount)
		if now.Before(e.LastAttempt.Add(wait)) {
			payload, gen := e.Payload, e.GeneratedAt
			lastErr := e.LastError
			s.mu.Unlock()
			if payload != nil && !s.failClosed {
				s.count(kind, "stale")
				return Result{Payload: payload, Status: models.StatusError, GeneratedAt: gen, Stale: true}, 0, nil
			}
			return Result{Status: models.StatusError}, 0,
				fmt.Errorf("%w: %s (backoff %s)", models.ErrUnavailable, lastErr, wait)
		}
	}

	// Claim. The in-process CAS happened implicitly: we hold the mutex
	// and the entry is not freshly calculating. A takeover overwrites the
	// expired claim with a new token, orphaning the previous holder.
	e.Status = models.StatusCalculating
	e.LastAttempt = now
	s.claimSeq++
	token := s.claimSeq
	s.leases[key] = claim{token: token, expires: now.Add(s.leaseTTL)}
	s.mu.Unlock()

	if s.locker != nil {
		got, lockErr := s.locker.TryLock(ctx, lockKey(key), s.leaseTTL)
		if lockErr != nil || !got {
			// Another process holds the claim; step back. Only the local
			// claim is undone -- the distributed lock is theirs.
			prior, _ := s.releaseLocal(key, token, models.StatusStale, "")
			if lockErr != nil {
				s.warn("distributed lock error", key)
			}
			if prior != nil {
				// Same fail-open as the in-process race: serve the last
				// known payload stale instead of blocking on the winner.
				s.count(kind, "stale")
				return Result{Payload: prior.Payload, Status: models.StatusCalculating, GeneratedAt: prior.GeneratedAt, Stale: true}, 0, nil
			}
			res, werr := s.waitForWinner(ctx, kind, key)
			return res, 0, werr
		}
	}

	s.count(kind, "miss")
	return Result{}, token, nil
}

// runClaimed executes the compute under the held claim and performs the
// exactly-once completion transition: the commit happens only while the
// claim token still matches the lease, so a holder that outlived its lease
// cannot clobber a takeover's result. A nil Result means the compute failed
// and nothing could be served fail-open; the compute error comes back
// unwrapped for the claim holder.
func (s *Store) runClaimed(ctx context.Context, kind models.ArtifactKind, key string, token uint64, ttl time.Duration, fn ComputeFunc) (*Result, error) {
	start := s.now()
	var payload []byte
	var err error

	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("compute panicked: %v", r)
			}
		}()
		payload, err = fn(ctx)
	}()

	if s.metrics != nil {
		s.metrics.RecordComputeDuration(string(kind), s.now().Sub(start).Seconds())
	}

	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordComputeError(string(kind))
		}
		prior, owned := s.release(key, token, models.StatusError, err.Error())
		if !owned {
			// The lease expired mid-compute and another caller took over.
			// Its transition stands; serve whatever it produced.
			s.warn("lease lost during compute, discarding error transition", key)
			if res, ok := s.currentFresh(kind, key); ok {
				return &res, nil
			}
			return nil, err
		}
		if prior != nil && !s.failClosed {
			s.count(kind, "stale")
			return &Result{Payload: prior.Payload, Status: models.StatusError, GeneratedAt: prior.GeneratedAt, Stale: true}, nil
		}
		return nil, err
	}

	s.mu.Lock()
	now := s.now()
	c, held := s.leases[key]
	if !held || c.token != token {
		// Took longer than the lease: a takeover owns the key now. Hand the
		// just-computed value to our caller without committing it.
		s.mu.Unlock()
		s.warn("lease lost during compute, discarding commit", key)
		return &Result{Payload: payload, Status: models.StatusFresh, GeneratedAt: now}, nil
	}
	e := s.entries[key]
	e.Payload = payload
	e.GeneratedAt = now
	e.ExpiresAt = now.Add(ttl)
	e.Status = models.StatusFresh
	e.RetryCount = 0
	e.LastError = ""
	delete(s.leases, key)
	s.mu.Unlock()
	s.unlockDistributed(key)
	s.storeMirror(key, payload, now, ttl)

	return &Result{Payload: payload, Status: models.StatusFresh, GeneratedAt: now}, nil
}

// release transitions the entry out of calculating on a non-success path
// and returns a snapshot of the prior entry for fail-open serving.
// owned=false means the claim was taken over and nothing was changed.
func (s *Store) release(key string, token uint64, to models.CacheStatus, errMsg string) (*models.CacheEntry, bool) {
	prior, owned := s.releaseLocal(key, token, to, errMsg)
	if owned {
		s.unlockDistributed(key)
	}
	return prior, owned
}

// releaseLocal undoes the in-process claim without touching the
// distributed lock. No-op when token no longer matches the held lease.
func (s *Store) releaseLocal(key string, token uint64, to models.CacheStatus, errMsg string) (*models.CacheEntry, bool) {
	s.mu.Lock()
	c, held := s.leases[key]
	if !held || c.token != token {
		s.mu.Unlock()
		return nil, false
	}
	e := s.entries[key]
	var prior *models.CacheEntry
	if e.Payload != nil {
		cp := *e
		prior = &cp
	}
	e.Status = to
	if to == models.StatusError {
		e.RetryCount++
		e.LastError = errMsg
		// ExpiresAt deliberately unchanged: optimistic readers may still
		// decide to serve the previous fresh value.
	}
	delete(s.leases, key)
	s.mu.Unlock()
	return prior, true
}

// currentFresh serves the entry's current fresh payload, if any.
func (s *Store) currentFresh(kind models.ArtifactKind, key string) (Result, bool) {
	s.mu.Lock()
	e := s.entries[key]
	if e == nil || e.Status != models.StatusFresh {
		s.mu.Unlock()
		return Result{}, false
	}
	res := Result{Payload: e.Payload, Status: e.Status, GeneratedAt: e.GeneratedAt}
	s.mu.Unlock()
	s.count(kind, "hit")
	return res, true
}

// waitForWinner polls until the racing computation completes, the wait
// budget runs out, or ctx is done. Never blocks indefinitely.
func (s *Store) waitForWinner(ctx context.Context, kind models.ArtifactKind, key string) (Result, error) {
	deadline := s.now().Add(s.waitTimeout)
	ticker := time.NewTicker(s.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-ticker.C:
		}

		s.mu.Lock()
		e := s.entries[key]
		if e != nil && e.Status == models.StatusFresh {
			res := Result{Payload: e.Payload, Status: e.Status, GeneratedAt: e.GeneratedAt}
			s.mu.Unlock()
			s.count(kind, "hit")
			return res, nil
		}
		if e != nil && e.Status == models.StatusError {
			lastErr := e.LastError
			payload, gen := e.Payload, e.GeneratedAt
			s.mu.Unlock()
			if payload != nil && !s.failClosed {
				s.count(kind, "stale")
				return Result{Payload: payload, Status: models.StatusError, GeneratedAt: gen, Stale: true}, nil
			}
			return Result{Status: models.StatusError},
				fmt.Errorf("%w: %s", models.ErrUnavailable, lastErr)
		}
		s.mu.Unlock()

		if !s.now().Before(deadline) {
			return Result{Status: models.StatusCalculating}, models.ErrAlreadyCalculating
		}
	}
}

// Entry returns a copy of the status record for a key, for observability.
func (s *Store) Entry(key string) (models.CacheEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return models.CacheEntry{}, false
	}
	return *e, true
}

// backoff is the error-retry delay: base * 2^min(retries, cap), capped.
func (s *Store) backoff(retries int) time.Duration {
	if retries < 1 {
		return 0
	}
	exp := math.Min(float64(retries-1), float64(s.backoffCap))
	d := time.Duration(float64(s.backoffBase) * math.Pow(2, exp))
	if d > s.backoffMax {
		return s.backoffMax
	}
	return d
}

func (s *Store) unlockDistributed(key string) {
	if s.locker == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.locker.Unlock(ctx, lockKey(key)); err != nil && s.log != nil {
		s.log.Warn("distributed unlock failed", logger.String("key", key), logger.Error(err))
	}
}

func (s *Store) count(kind models.ArtifactKind, outcome string) {
	if s.metrics == nil {
		return
	}
	switch outcome {
	case "hit":
		s.metrics.RecordCacheHit(string(kind))
	case "miss":
		s.metrics.RecordCacheMiss(string(kind))
	case "stale":
		s.metrics.RecordCacheStale(string(kind))
	}
}

func (s *Store) warn(msg, key string) {
	if s.log != nil {
		s.log.Warn(msg, logger.String("key", key))
	}
}

// mirrorEntry is the cross-process payload envelope. GeneratedAt travels
// with the payload so a restarted process can reconstruct expiry.
type mirrorEntry struct {
	Payload     []byte    `json:"payload"`
	GeneratedAt time.Time `json:"generated_at"`
}

// fetchMirror tries to adopt a payload computed by another process. A hit
// installs a fresh local entry so later calls stay in-process.
func (s *Store) fetchMirror(ctx context.Context, kind models.ArtifactKind, key string, ttl time.Duration) (Result, bool) {
	raw, err := s.locker.Get(ctx, mirrorKey(key))
	if err != nil {
		if !errors.Is(err, pkgcache.ErrCacheMiss) {
			s.warn("mirror read failed", key)
		}
		return Result{}, false
	}

	var m mirrorEntry
	if err := json.Unmarshal(raw, &m); err != nil || m.Payload == nil {
		return Result{}, false
	}
	if !s.now().Before(m.GeneratedAt.Add(ttl)) {
		return Result{}, false
	}

	s.mu.Lock()
	if _, exists := s.entries[key]; !exists {
		s.entries[key] = &models.CacheEntry{
			Key:         key,
			Kind:        kind,
			Status:      models.StatusFresh,
			Payload:     m.Payload,
			GeneratedAt: m.GeneratedAt,
			ExpiresAt:   m.GeneratedAt.Add(ttl),
		}
	}
	s.mu.Unlock()

	s.count(kind, "hit")
	return Result{Payload: m.Payload, Status: models.StatusFresh, GeneratedAt: m.GeneratedAt}, true
}

// storeMirror publishes a freshly computed payload for other processes.
// Best effort: a mirror write failure never fails the computation.
func (s *Store) storeMirror(key string, payload []byte, generatedAt time.Time, ttl time.Duration) {
	if s.locker == nil {
		return
	}
	raw, err := json.Marshal(mirrorEntry{Payload: payload, GeneratedAt: generatedAt})
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.locker.Set(ctx, mirrorKey(key), raw, ttl); err != nil {
		s.warn("mirror write failed", key)
	}
}

func lockKey(key string) string   { return "lease:" + key }
func mirrorKey(key string) string { return "artifact:" + key }
