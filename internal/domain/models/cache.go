package models

import "time"

// CacheStatus is the lifecycle state of a cached artifact.
type CacheStatus string

const (
	StatusFresh       CacheStatus = "fresh"
	StatusStale       CacheStatus = "stale"
	StatusCalculating CacheStatus = "calculating"
	StatusError       CacheStatus = "error"
)

// ArtifactKind tags the schema of a cached payload.
type ArtifactKind string

const (
	ArtifactRisk        ArtifactKind = "risk"
	ArtifactCorrelation ArtifactKind = "correlation"
	ArtifactVolForecast ArtifactKind = "vol_forecast"
	ArtifactRegime      ArtifactKind = "regime_forecast"
)

// CacheEntry is the status record the coordination layer keeps per key.
// At most one entry per key is ever in StatusCalculating; expires_at is
// always >= generated_at; retry_count resets to 0 on a fresh transition.
type CacheEntry struct {
	Key         string       `json:"key"`
	Kind        ArtifactKind `json:"kind"`
	Status      CacheStatus  `json:"status"`
	Payload     []byte       `json:"payload,omitempty"`
	GeneratedAt time.Time    `json:"generated_at"`
	ExpiresAt   time.Time    `json:"expires_at"`
	RetryCount  int          `json:"retry_count"`
	LastError   string       `json:"last_error,omitempty"`
	LastAttempt time.Time    `json:"last_attempt,omitempty"`
}

// FailureKind classifies an upstream provider failure.
type FailureKind string

const (
	FailureNotFound    FailureKind = "not_found"
	FailureRateLimited FailureKind = "rate_limited"
	FailureAPIError    FailureKind = "api_error"
)

// ProviderFailureRecord tracks recent upstream fetch failures for a ticker.
// No record means fetches are allowed; a success deletes the record.
type ProviderFailureRecord struct {
	Ticker              string      `json:"ticker"`
	Kind                FailureKind `json:"kind"`
	ConsecutiveFailures int         `json:"consecutive_failures"`
	RetryAfter          time.Time   `json:"retry_after"`
	LastAttemptAt       time.Time   `json:"last_attempt_at"`
	LastError           string      `json:"last_error,omitempty"`
}
