package repository

import (
	"context"
	"time"

	"QuantCore/internal/domain/models"
)

// RiskSnapshotStore persists immutable per-(subject, date) risk rows.
type RiskSnapshotStore interface {
	SaveSnapshot(ctx context.Context, s *models.RiskSnapshot) error
	LatestSnapshot(ctx context.Context, subject string) (*models.RiskSnapshot, error)
}

// HmmModelStore persists trained model versions append-only. A new training
// run never mutates a previous version.
type HmmModelStore interface {
	InsertModel(ctx context.Context, m *models.HmmModel) error
	LatestModel(ctx context.Context, scope string) (*models.HmmModel, error)
}

// EventPublisher announces artifact refreshes and job outcomes to
// downstream collaborators so they can react instead of polling.
type EventPublisher interface {
	PublishRefresh(ctx context.Context, kind models.ArtifactKind, key string, generatedAt time.Time) error
	PublishJobOutcome(ctx context.Context, job string, duration time.Duration, runErr error) error
	Close() error
}

// Metrics is the instrumentation sink the coordination layer reports into.
type Metrics interface {
	RecordCacheHit(kind string)
	RecordCacheMiss(kind string)
	RecordCacheStale(kind string)
	RecordComputeDuration(kind string, seconds float64)
	RecordComputeError(kind string)
	RecordProviderFailure(failureKind string)
	RecordJobRun(job, outcome string, seconds float64)
}
