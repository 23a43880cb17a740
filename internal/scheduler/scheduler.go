package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	domrepo "QuantCore/internal/domain/repository"
	applogger "QuantCore/pkg/logger"
)

// JobFunc is one unit of scheduled work. It must honor ctx: the scheduler
// imposes the job's max duration as a deadline.
type JobFunc func(ctx context.Context) error

// JobSpec configures one named job.
type JobSpec struct {
	Name string
	// Schedule is a six-field cron expression (seconds first).
	Schedule    string
	Enabled     bool
	MaxDuration time.Duration
	Run         JobFunc
}

// JobStatus is the observable state of a registered job.
type JobStatus struct {
	Name                string     `json:"name"`
	Schedule            string     `json:"schedule"`
	Enabled             bool       `json:"enabled"`
	Running             bool       `json:"running"`
	LastRunAt           *time.Time `json:"last_run_at,omitempty"`
	LastDuration        string     `json:"last_duration,omitempty"`
	LastError           string     `json:"last_error,omitempty"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	TotalRuns           int64      `json:"total_runs"`
	SkippedOverlaps     int64      `json:"skipped_overlaps"`
}

type jobState struct {
	spec    JobSpec
	running atomic.Bool

	mu                  sync.Mutex
	lastRunAt           time.Time
	lastDuration        time.Duration
	lastError           string
	consecutiveFailures int
	totalRuns           int64
	skippedOverlaps     int64
}

// Scheduler runs named jobs on six-field cron schedules. A job never
// overlaps itself: a tick that fires while the previous run is still going
// is skipped and counted.
type Scheduler struct {
	cron    *cron.Cron
	jobs    []*jobState
	byName  map[string]*jobState
	metrics domrepo.Metrics
	events  domrepo.EventPublisher
	log     *applogger.Logger
}

// Option configures Scheduler.
type Option func(*Scheduler)

// WithMetrics wires the instrumentation sink for run outcomes.
func WithMetrics(m domrepo.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithEvents wires job-outcome event publishing.
func WithEvents(e domrepo.EventPublisher) Option {
	return func(s *Scheduler) { s.events = e }
}

// WithLogger wires structured logging.
func WithLogger(l *applogger.Logger) Option {
	return func(s *Scheduler) { s.log = l }
}

// New builds a scheduler with seconds-granularity cron parsing.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		cron:   cron.New(cron.WithSeconds()),
		byName: make(map[string]*jobState),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds a job. Disabled jobs are tracked for status but never
// scheduled. Registration fails on an unparseable schedule so a config
// typo surfaces at startup, not at first tick.
func (s *Scheduler) Register(spec JobSpec) error {
	if spec.Name == "" {
		return fmt.Errorf("job name required")
	}
	if _, exists := s.byName[spec.Name]; exists {
		return fmt.Errorf("job %q already registered", spec.Name)
	}
	if spec.MaxDuration <= 0 {
		spec.MaxDuration = 5 * time.Minute
	}

	st := &jobState{spec: spec}
	s.jobs = append(s.jobs, st)
	s.byName[spec.Name] = st

	if !spec.Enabled {
		if s.log != nil {
			s.log.Info("job registered disabled", applogger.String("job", spec.Name))
		}
		return nil
	}

	if _, err := s.cron.AddFunc(spec.Schedule, func() { s.runJob(st) }); err != nil {
		return fmt.Errorf("job %q schedule %q: %w", spec.Name, spec.Schedule, err)
	}
	if s.log != nil {
		s.log.Info("job registered",
			applogger.String("job", spec.Name),
			applogger.String("schedule", spec.Schedule),
			applogger.Duration("max_duration_ms", spec.MaxDuration),
		)
	}
	return nil
}

// Start begins firing schedules. Non-blocking.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling and waits for in-flight runs to finish.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop().Done()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Trigger runs a job by name immediately, outside its schedule. Overlap
// rules still apply.
func (s *Scheduler) Trigger(name string) error {
	st, ok := s.byName[name]
	if !ok {
		return fmt.Errorf("unknown job %q", name)
	}
	go s.runJob(st)
	return nil
}

// Statuses reports every registered job, registration order preserved.
func (s *Scheduler) Statuses() []JobStatus {
	out := make([]JobStatus, 0, len(s.jobs))
	for _, st := range s.jobs {
		st.mu.Lock()
		js := JobStatus{
			Name:                st.spec.Name,
			Schedule:            st.spec.Schedule,
			Enabled:             st.spec.Enabled,
			Running:             st.running.Load(),
			ConsecutiveFailures: st.consecutiveFailures,
			LastError:           st.lastError,
			TotalRuns:           st.totalRuns,
			SkippedOverlaps:     st.skippedOverlaps,
		}
		if !st.lastRunAt.IsZero() {
			t := st.lastRunAt
			js.LastRunAt = &t
			js.LastDuration = st.lastDuration.String()
		}
		st.mu.Unlock()
		out = append(out, js)
	}
	return out
}

func (s *Scheduler) runJob(st *jobState) {
	if !st.running.CompareAndSwap(false, true) {
		st.mu.Lock()
		st.skippedOverlaps++
		st.mu.Unlock()
		if s.log != nil {
			s.log.Warn("job still running, tick skipped", applogger.String("job", st.spec.Name))
		}
		if s.metrics != nil {
			s.metrics.RecordJobRun(st.spec.Name, "skipped", 0)
		}
		return
	}
	defer st.running.Store(false)

	ctx, cancel := context.WithTimeout(context.Background(), st.spec.MaxDuration)
	defer cancel()

	start := time.Now()
	err := runRecovered(ctx, st.spec.Run)
	elapsed := time.Since(start)

	st.mu.Lock()
	st.lastRunAt = start
	st.lastDuration = elapsed
	st.totalRuns++
	if err != nil {
		st.consecutiveFailures++
		st.lastError = err.Error()
	} else {
		st.consecutiveFailures = 0
		st.lastError = ""
	}
	st.mu.Unlock()

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	if s.metrics != nil {
		s.metrics.RecordJobRun(st.spec.Name, outcome, elapsed.Seconds())
	}
	if s.events != nil {
		pubCtx, pubCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if perr := s.events.PublishJobOutcome(pubCtx, st.spec.Name, elapsed, err); perr != nil && s.log != nil {
			s.log.Warn("job outcome publish failed",
				applogger.String("job", st.spec.Name),
				applogger.Error(perr),
			)
		}
		pubCancel()
	}

	if s.log == nil {
		return
	}
	if err != nil {
		s.log.Error("job failed",
			applogger.String("job", st.spec.Name),
			applogger.Duration("duration_ms", elapsed),
			applogger.Error(err),
		)
		return
	}
	s.log.Info("job completed",
		applogger.String("job", st.spec.Name),
		applogger.Duration("duration_ms", elapsed),
	)
}

func runRecovered(ctx context.Context, fn JobFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return fn(ctx)
}
