package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	cacheOutcomes    *prometheus.CounterVec
	computeDuration  *prometheus.HistogramVec
	computeErrors    *prometheus.CounterVec
	providerFailures *prometheus.CounterVec
	jobRuns          *prometheus.CounterVec
	jobDuration      *prometheus.HistogramVec
}

// New creates a new Prometheus metrics recorder.
func New() *Recorder {
	return &Recorder{
		cacheOutcomes: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quantcore_cache_requests_total",
				Help: "Cache lookups by artifact kind and outcome (hit, miss, stale)",
			},
			[]string{"kind", "outcome"},
		),
		computeDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "quantcore_compute_duration_seconds",
				Help:    "Artifact computation duration by kind",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"kind"},
		),
		computeErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quantcore_compute_errors_total",
				Help: "Failed artifact computations by kind",
			},
			[]string{"kind"},
		),
		providerFailures: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quantcore_provider_failures_total",
				Help: "Upstream provider failures by kind",
			},
			[]string{"kind"},
		),
		jobRuns: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quantcore_job_runs_total",
				Help: "Scheduled job runs by job and outcome (ok, error, skipped)",
			},
			[]string{"job", "outcome"},
		),
		jobDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "quantcore_job_duration_seconds",
				Help:    "Scheduled job duration",
				Buckets: []float64{.1, .5, 1, 5, 15, 30, 60, 120, 300},
			},
			[]string{"job"},
		),
	}
}

// RecordCacheHit records a fresh cache hit.
func (r *Recorder) RecordCacheHit(kind string) {
	r.cacheOutcomes.WithLabelValues(kind, "hit").Inc()
}

// RecordCacheMiss records a miss that triggered a computation.
func (r *Recorder) RecordCacheMiss(kind string) {
	r.cacheOutcomes.WithLabelValues(kind, "miss").Inc()
}

// RecordCacheStale records a stale payload served fail-open.
func (r *Recorder) RecordCacheStale(kind string) {
	r.cacheOutcomes.WithLabelValues(kind, "stale").Inc()
}

// RecordComputeDuration records one artifact computation.
func (r *Recorder) RecordComputeDuration(kind string, seconds float64) {
	r.computeDuration.WithLabelValues(kind).Observe(seconds)
}

// RecordComputeError records a failed computation.
func (r *Recorder) RecordComputeError(kind string) {
	r.computeErrors.WithLabelValues(kind).Inc()
}

// RecordProviderFailure records an upstream fetch failure.
func (r *Recorder) RecordProviderFailure(failureKind string) {
	r.providerFailures.WithLabelValues(failureKind).Inc()
}

// RecordJobRun records a scheduled job outcome.
func (r *Recorder) RecordJobRun(job, outcome string, seconds float64) {
	r.jobRuns.WithLabelValues(job, outcome).Inc()
	if outcome != "skipped" {
		r.jobDuration.WithLabelValues(job).Observe(seconds)
	}
}
