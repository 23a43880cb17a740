package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"QuantCore/internal/domain/models"
	pkgcache "QuantCore/pkg/cache"
)

func TestGetOrComputeIdempotent(t *testing.T) {
	s := NewStore()
	var calls int32
	fn := func(ctx context.Context) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		return []byte(`{"v":1}`), nil
	}

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		res, err := s.GetOrCompute(ctx, models.ArtifactRisk, "k1", time.Minute, fn)
		if err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
		if res.Stale {
			t.Fatalf("call %d unexpectedly stale", i)
		}
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("compute ran %d times for an unexpired entry, want 1", got)
	}
}

func TestAtMostOneCalculating(t *testing.T) {
	s := NewStore(WithWaitTimeout(3 * time.Second))
	var concurrent, maxSeen int32
	fn := func(ctx context.Context) ([]byte, error) {
		cur := atomic.AddInt32(&concurrent, 1)
		for {
			prev := atomic.LoadInt32(&maxSeen)
			if cur <= prev || atomic.CompareAndSwapInt32(&maxSeen, prev, cur) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		atomic.AddInt32(&concurrent, -1)
		return []byte(`{}`), nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.GetOrCompute(context.Background(), models.ArtifactRisk, "shared", time.Minute, fn)
			if err != nil && !errors.Is(err, models.ErrAlreadyCalculating) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt32(&maxSeen); got != 1 {
		t.Fatalf("observed %d concurrent computations for one key, want 1", got)
	}
}

func TestExpiredEntryRecomputes(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	s := NewStore(WithClock(func() time.Time { return clock() }))

	var calls int32
	fn := func(ctx context.Context) ([]byte, error) {
		n := atomic.AddInt32(&calls, 1)
		return []byte(fmt.Sprintf(`{"n":%d}`, n)), nil
	}

	ctx := context.Background()
	if _, err := s.GetOrCompute(ctx, models.ArtifactRisk, "k", time.Minute, fn); err != nil {
		t.Fatalf("first: %v", err)
	}

	// Past the TTL the fresh entry flips stale and recomputes.
	now = now.Add(2 * time.Minute)
	res, err := s.GetOrCompute(ctx, models.ArtifactRisk, "k", time.Minute, fn)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if string(res.Payload) != `{"n":2}` {
		t.Fatalf("expected recompute, got %s", res.Payload)
	}
}

func TestFailOpenServesStalePayload(t *testing.T) {
	now := time.Now()
	s := NewStore(WithClock(func() time.Time { return now }))
	ctx := context.Background()

	ok := func(ctx context.Context) ([]byte, error) { return []byte(`{"good":true}`), nil }
	bad := func(ctx context.Context) ([]byte, error) { return nil, errors.New("upstream down") }

	if _, err := s.GetOrCompute(ctx, models.ArtifactRisk, "k", time.Minute, ok); err != nil {
		t.Fatalf("seed: %v", err)
	}
	now = now.Add(2 * time.Minute)

	res, err := s.GetOrCompute(ctx, models.ArtifactRisk, "k", time.Minute, bad)
	if err != nil {
		t.Fatalf("fail-open should serve the previous payload: %v", err)
	}
	if !res.Stale {
		t.Fatalf("served payload must be flagged stale")
	}
	if string(res.Payload) != `{"good":true}` {
		t.Fatalf("wrong payload: %s", res.Payload)
	}

	e, _ := s.Entry("k")
	if e.Status != models.StatusError || e.RetryCount != 1 {
		t.Fatalf("entry should be error with retry 1: %+v", e)
	}
}

func TestFailClosedSurfacesError(t *testing.T) {
	now := time.Now()
	s := NewStore(WithFailClosed(), WithClock(func() time.Time { return now }))
	ctx := context.Background()

	ok := func(ctx context.Context) ([]byte, error) { return []byte(`{}`), nil }
	bad := func(ctx context.Context) ([]byte, error) { return nil, errors.New("boom") }

	if _, err := s.GetOrCompute(ctx, models.ArtifactRisk, "k", time.Minute, ok); err != nil {
		t.Fatalf("seed: %v", err)
	}
	now = now.Add(2 * time.Minute)

	// The claim holder sees the compute error itself, not the generic
	// unavailability wrap.
	if _, err := s.GetOrCompute(ctx, models.ArtifactRisk, "k", time.Minute, bad); err == nil || errors.Is(err, models.ErrUnavailable) {
		t.Fatalf("expected raw compute error, got %v", err)
	}
}

func TestErrorBackoffBlocksRetry(t *testing.T) {
	now := time.Now()
	s := NewStore(
		WithClock(func() time.Time { return now }),
		WithBackoff(30*time.Second, 30*time.Minute, 6),
	)
	ctx := context.Background()

	var calls int32
	bad := func(ctx context.Context) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		return nil, errors.New("still down")
	}

	if _, err := s.GetOrCompute(ctx, models.ArtifactRisk, "k", time.Minute, bad); err == nil {
		t.Fatalf("expected error from failing compute")
	}

	// Inside the backoff window: no new attempt.
	now = now.Add(10 * time.Second)
	if _, err := s.GetOrCompute(ctx, models.ArtifactRisk, "k", time.Minute, bad); !errors.Is(err, models.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable inside backoff, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("compute re-ran inside backoff window")
	}

	// Past the backoff: retry allowed.
	now = now.Add(time.Minute)
	_, _ = s.GetOrCompute(ctx, models.ArtifactRisk, "k", time.Minute, bad)
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("compute should retry after backoff, ran %d times", calls)
	}
}

func TestLeaseReleasedOnPanic(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	panicky := func(ctx context.Context) ([]byte, error) { panic("compute blew up") }
	if _, err := s.GetOrCompute(ctx, models.ArtifactRisk, "k", time.Minute, panicky); err == nil {
		t.Fatalf("expected error from panicking compute")
	}

	e, ok := s.Entry("k")
	if !ok {
		t.Fatalf("entry missing")
	}
	if e.Status == models.StatusCalculating {
		t.Fatalf("entry stuck in calculating after panic")
	}
}

func TestExpiredLeaseTakenOver(t *testing.T) {
	now := time.Now()
	s := NewStore(
		WithClock(func() time.Time { return now }),
		WithLeaseTTL(time.Minute),
	)

	// Simulate a crashed computation: claim the key, never complete.
	s.mu.Lock()
	s.entries["k"] = &models.CacheEntry{Key: "k", Kind: models.ArtifactRisk, Status: models.StatusCalculating}
	s.leases["k"] = claim{expires: now.Add(time.Minute)}
	s.mu.Unlock()

	now = now.Add(5 * time.Minute)
	res, err := s.GetOrCompute(context.Background(), models.ArtifactRisk, "k", time.Minute,
		func(ctx context.Context) ([]byte, error) { return []byte(`{"rescued":true}`), nil })
	if err != nil {
		t.Fatalf("takeover failed: %v", err)
	}
	if string(res.Payload) != `{"rescued":true}` {
		t.Fatalf("unexpected payload %s", res.Payload)
	}
}

// lockedClock is a clock safe to advance while another goroutine is
// mid-compute.
type lockedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *lockedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *lockedClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestStalledHolderFailureCannotDemoteTakeover(t *testing.T) {
	clock := &lockedClock{now: time.Now()}
	s := NewStore(WithClock(clock.Now), WithLeaseTTL(time.Minute))
	ctx := context.Background()

	started := make(chan struct{})
	unblock := make(chan struct{})
	type outcome struct {
		res Result
		err error
	}
	done := make(chan outcome, 1)

	// The first holder stalls inside its compute until released.
	go func() {
		res, err := s.GetOrCompute(ctx, models.ArtifactRisk, "k", time.Minute, func(ctx context.Context) ([]byte, error) {
			close(started)
			<-unblock
			return nil, errors.New("late failure")
		})
		done <- outcome{res, err}
	}()
	<-started

	// Past the lease a second caller takes over and completes.
	clock.Advance(5 * time.Minute)
	res, err := s.GetOrCompute(ctx, models.ArtifactRisk, "k", time.Minute,
		func(ctx context.Context) ([]byte, error) { return []byte(`{"from":"B"}`), nil })
	if err != nil {
		t.Fatalf("takeover: %v", err)
	}
	if string(res.Payload) != `{"from":"B"}` {
		t.Fatalf("takeover payload: %s", res.Payload)
	}

	// The stalled holder now fails. Its transition must not touch the
	// takeover's fresh entry; its caller gets that entry instead.
	close(unblock)
	out := <-done
	if out.err != nil {
		t.Fatalf("stalled holder should serve the takeover's result, got %v", out.err)
	}
	if string(out.res.Payload) != `{"from":"B"}` {
		t.Fatalf("stalled holder payload: %s", out.res.Payload)
	}

	e, _ := s.Entry("k")
	if e.Status != models.StatusFresh || e.RetryCount != 0 || e.LastError != "" {
		t.Fatalf("takeover result demoted by stalled holder: %+v", e)
	}
	if string(e.Payload) != `{"from":"B"}` {
		t.Fatalf("entry payload clobbered: %s", e.Payload)
	}
}

func TestStalledHolderSuccessCannotOverwriteTakeover(t *testing.T) {
	clock := &lockedClock{now: time.Now()}
	s := NewStore(WithClock(clock.Now), WithLeaseTTL(time.Minute))
	ctx := context.Background()

	started := make(chan struct{})
	unblock := make(chan struct{})
	type outcome struct {
		res Result
		err error
	}
	done := make(chan outcome, 1)

	go func() {
		res, err := s.GetOrCompute(ctx, models.ArtifactRisk, "k", time.Minute, func(ctx context.Context) ([]byte, error) {
			close(started)
			<-unblock
			return []byte(`{"from":"A"}`), nil
		})
		done <- outcome{res, err}
	}()
	<-started

	clock.Advance(5 * time.Minute)
	if _, err := s.GetOrCompute(ctx, models.ArtifactRisk, "k", time.Minute,
		func(ctx context.Context) ([]byte, error) { return []byte(`{"from":"B"}`), nil }); err != nil {
		t.Fatalf("takeover: %v", err)
	}

	// The stalled holder completes late: its value goes to its own caller
	// but never into the entry.
	close(unblock)
	out := <-done
	if out.err != nil {
		t.Fatalf("stalled holder: %v", out.err)
	}
	if string(out.res.Payload) != `{"from":"A"}` {
		t.Fatalf("stalled holder should get its own value, got %s", out.res.Payload)
	}

	e, _ := s.Entry("k")
	if string(e.Payload) != `{"from":"B"}` {
		t.Fatalf("takeover payload overwritten: %s", e.Payload)
	}
}

func TestBackoffMonotonic(t *testing.T) {
	s := NewStore(WithBackoff(time.Second, time.Hour, 6))
	prev := time.Duration(0)
	for r := 1; r <= 10; r++ {
		d := s.backoff(r)
		if d < prev {
			t.Fatalf("backoff decreased at retry %d: %s < %s", r, d, prev)
		}
		prev = d
	}
	if s.backoff(100) > time.Hour {
		t.Fatalf("backoff exceeded max")
	}
}

func TestDistributedLockerBlocksSecondProcess(t *testing.T) {
	locker := pkgcache.NewMemoryCache()
	defer locker.Close()
	ctx := context.Background()

	// Another process holds the claim.
	got, err := locker.TryLock(ctx, lockKey("k"), time.Minute)
	if err != nil || !got {
		t.Fatalf("seed lock: got=%v err=%v", got, err)
	}

	s := NewStore(
		WithLocker(locker),
		WithWaitTimeout(50*time.Millisecond),
	)
	var calls int32
	fn := func(ctx context.Context) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		return []byte(`{}`), nil
	}

	if _, err := s.GetOrCompute(ctx, models.ArtifactRisk, "k", time.Minute, fn); !errors.Is(err, models.ErrAlreadyCalculating) {
		t.Fatalf("expected ErrAlreadyCalculating while foreign claim held, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 0 {
		t.Fatalf("compute ran despite foreign claim")
	}

	// Claim released: computation may proceed.
	if err := locker.Unlock(ctx, lockKey("k")); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if _, err := s.GetOrCompute(ctx, models.ArtifactRisk, "k", time.Minute, fn); err != nil {
		t.Fatalf("after release: %v", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("compute ran %d times, want 1", calls)
	}
}

func TestForeignClaimServesStalePayload(t *testing.T) {
	locker := pkgcache.NewMemoryCache()
	defer locker.Close()
	ctx := context.Background()

	now := time.Now()
	s := NewStore(
		WithLocker(locker),
		WithClock(func() time.Time { return now }),
		WithWaitTimeout(50*time.Millisecond),
	)

	var calls int32
	seed := func(ctx context.Context) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		return []byte(`{"seed":true}`), nil
	}
	if _, err := s.GetOrCompute(ctx, models.ArtifactRisk, "k", time.Minute, seed); err != nil {
		t.Fatalf("seed: %v", err)
	}
	now = now.Add(2 * time.Minute)

	// Another process claims the recompute.
	got, err := locker.TryLock(ctx, lockKey("k"), time.Minute)
	if err != nil || !got {
		t.Fatalf("foreign lock: got=%v err=%v", got, err)
	}

	// Same fail-open as the in-process race: the stale payload is served
	// instead of waiting out ErrAlreadyCalculating.
	res, err := s.GetOrCompute(ctx, models.ArtifactRisk, "k", time.Minute, seed)
	if err != nil {
		t.Fatalf("expected stale payload while foreign claim held, got %v", err)
	}
	if !res.Stale || string(res.Payload) != `{"seed":true}` {
		t.Fatalf("unexpected result: %+v", res)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("compute ran %d times, want 1", calls)
	}
}

func TestDistributedMirrorWarmsColdProcess(t *testing.T) {
	locker := pkgcache.NewMemoryCache()
	defer locker.Close()
	ctx := context.Background()

	var calls int32
	fn := func(ctx context.Context) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		return []byte(`{"v":1}`), nil
	}

	first := NewStore(WithLocker(locker))
	if _, err := first.GetOrCompute(ctx, models.ArtifactRisk, "k", time.Minute, fn); err != nil {
		t.Fatalf("first process compute: %v", err)
	}

	// A second process with an empty local map adopts the mirrored payload.
	second := NewStore(WithLocker(locker))
	res, err := second.GetOrCompute(ctx, models.ArtifactRisk, "k", time.Minute, fn)
	if err != nil {
		t.Fatalf("second process: %v", err)
	}
	if res.Status != models.StatusFresh || string(res.Payload) != `{"v":1}` {
		t.Fatalf("unexpected mirrored result: %+v", res)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("compute ran %d times, want 1", calls)
	}
}
