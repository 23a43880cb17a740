package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestRegisterRejectsBadSchedule(t *testing.T) {
	s := New()
	err := s.Register(JobSpec{
		Name:     "bad",
		Schedule: "not a cron line",
		Enabled:  true,
		Run:      func(context.Context) error { return nil },
	})
	if err == nil {
		t.Fatal("expected schedule parse error")
	}
}

func TestRegisterRejectsDuplicateName(t *testing.T) {
	s := New()
	spec := JobSpec{
		Name:     "dup",
		Schedule: "*/1 * * * * *",
		Enabled:  true,
		Run:      func(context.Context) error { return nil },
	}
	if err := s.Register(spec); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := s.Register(spec); err == nil {
		t.Fatal("expected duplicate-name error")
	}
}

func TestDisabledJobNeverScheduledButVisible(t *testing.T) {
	s := New()
	var runs atomic.Int32
	err := s.Register(JobSpec{
		Name:     "off",
		Schedule: "*/1 * * * * *",
		Enabled:  false,
		Run: func(context.Context) error {
			runs.Add(1)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	statuses := s.Statuses()
	if len(statuses) != 1 || statuses[0].Name != "off" || statuses[0].Enabled {
		t.Fatalf("unexpected statuses: %+v", statuses)
	}
	if len(s.cron.Entries()) != 0 {
		t.Fatalf("disabled job was scheduled: %d entries", len(s.cron.Entries()))
	}
	if runs.Load() != 0 {
		t.Fatal("disabled job ran")
	}
}

func TestOverlapSkipped(t *testing.T) {
	s := New()
	release := make(chan struct{})
	var runs atomic.Int32
	if err := s.Register(JobSpec{
		Name:        "slow",
		Schedule:    "0 0 0 1 1 *",
		Enabled:     true,
		MaxDuration: time.Second,
		Run: func(ctx context.Context) error {
			runs.Add(1)
			<-release
			return nil
		},
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	st := s.byName["slow"]
	go s.runJob(st)

	// Wait until the first run holds the flag, then fire a second tick.
	deadline := time.Now().Add(time.Second)
	for !st.running.Load() {
		if time.Now().After(deadline) {
			t.Fatal("first run never started")
		}
		time.Sleep(time.Millisecond)
	}
	s.runJob(st)

	st.mu.Lock()
	skipped := st.skippedOverlaps
	st.mu.Unlock()
	if skipped != 1 {
		t.Fatalf("expected 1 skipped overlap, got %d", skipped)
	}
	if runs.Load() != 1 {
		t.Fatalf("job body ran %d times", runs.Load())
	}
	close(release)
}

func TestMaxDurationCancelsContext(t *testing.T) {
	s := New()
	observed := make(chan error, 1)
	if err := s.Register(JobSpec{
		Name:        "deadline",
		Schedule:    "0 0 0 1 1 *",
		Enabled:     true,
		MaxDuration: 20 * time.Millisecond,
		Run: func(ctx context.Context) error {
			<-ctx.Done()
			observed <- ctx.Err()
			return ctx.Err()
		},
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	s.runJob(s.byName["deadline"])

	select {
	case err := <-observed:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("expected deadline exceeded, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("job never saw cancellation")
	}
}

func TestFailureCountingAndReset(t *testing.T) {
	s := New()
	var fail atomic.Bool
	fail.Store(true)
	if err := s.Register(JobSpec{
		Name:     "flaky",
		Schedule: "0 0 0 1 1 *",
		Enabled:  true,
		Run: func(context.Context) error {
			if fail.Load() {
				return errors.New("boom")
			}
			return nil
		},
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	st := s.byName["flaky"]

	s.runJob(st)
	s.runJob(st)
	if got := s.Statuses()[0].ConsecutiveFailures; got != 2 {
		t.Fatalf("expected 2 consecutive failures, got %d", got)
	}

	fail.Store(false)
	s.runJob(st)
	status := s.Statuses()[0]
	if status.ConsecutiveFailures != 0 || status.LastError != "" {
		t.Fatalf("success should reset failure state: %+v", status)
	}
	if status.TotalRuns != 3 {
		t.Fatalf("expected 3 total runs, got %d", status.TotalRuns)
	}
}

func TestPanicRecoveredAsError(t *testing.T) {
	s := New()
	if err := s.Register(JobSpec{
		Name:     "panics",
		Schedule: "0 0 0 1 1 *",
		Enabled:  true,
		Run:      func(context.Context) error { panic("kaboom") },
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	st := s.byName["panics"]

	s.runJob(st)

	status := s.Statuses()[0]
	if status.ConsecutiveFailures != 1 {
		t.Fatalf("panic should count as failure: %+v", status)
	}
	if status.Running {
		t.Fatal("running flag stuck after panic")
	}
}

func TestTriggerUnknownJob(t *testing.T) {
	s := New()
	if err := s.Trigger("nope"); err == nil {
		t.Fatal("expected unknown-job error")
	}
}
