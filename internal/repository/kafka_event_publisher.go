package repository

import (
	"context"
	"time"

	"QuantCore/internal/domain/models"
	domrepo "QuantCore/internal/domain/repository"
	pkgkafka "QuantCore/pkg/kafka"
	applogger "QuantCore/pkg/logger"
)

// KafkaEventPublisher announces artifact refreshes and job outcomes so
// downstream consumers (dashboards, alerting) react instead of polling.
type KafkaEventPublisher struct {
	producer     *pkgkafka.Producer
	refreshTopic string
	jobTopic     string
	l            *applogger.Logger
}

func NewKafkaEventPublisher(producer *pkgkafka.Producer, refreshTopic, jobTopic string) *KafkaEventPublisher {
	return &KafkaEventPublisher{
		producer:     producer,
		refreshTopic: refreshTopic,
		jobTopic:     jobTopic,
	}
}

// SetLogger injects a structured logger.
func (p *KafkaEventPublisher) SetLogger(l *applogger.Logger) { p.l = l }

type refreshEvent struct {
	Kind        string    `json:"kind"`
	Key         string    `json:"key"`
	GeneratedAt time.Time `json:"generated_at"`
}

type jobOutcomeEvent struct {
	Job        string    `json:"job"`
	DurationMs int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
}

func (p *KafkaEventPublisher) PublishRefresh(ctx context.Context, kind models.ArtifactKind, key string, generatedAt time.Time) error {
	ev := refreshEvent{Kind: string(kind), Key: key, GeneratedAt: generatedAt}
	// Keyed by cache key so per-artifact ordering holds under hashing.
	err := p.producer.Publish(ctx, p.refreshTopic, []byte(key), ev)
	if err != nil && p.l != nil {
		p.l.Warn("refresh event publish failed",
			applogger.String("key", key),
			applogger.Error(err),
		)
	}
	return err
}

func (p *KafkaEventPublisher) PublishJobOutcome(ctx context.Context, job string, duration time.Duration, runErr error) error {
	ev := jobOutcomeEvent{
		Job:        job,
		DurationMs: duration.Milliseconds(),
		FinishedAt: time.Now(),
	}
	if runErr != nil {
		ev.Error = runErr.Error()
	}
	return p.producer.Publish(ctx, p.jobTopic, []byte(job), ev)
}

func (p *KafkaEventPublisher) Close() error {
	return p.producer.Close()
}

var _ domrepo.EventPublisher = (*KafkaEventPublisher)(nil)
