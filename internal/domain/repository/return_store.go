package repository

import (
	"context"
	"time"

	"QuantCore/internal/domain/models"
)

// ReturnStore provides read-only access to historical return series.
// Returns models.ErrNoData when the subject has no rows at all.
type ReturnStore interface {
	GetReturns(ctx context.Context, subject string, from, to time.Time) (models.ReturnSeries, error)
	GetLatestReturns(ctx context.Context, subject string, n int) (models.ReturnSeries, error)
}

// PositionStore reads portfolio holdings from the external CRUD-owned
// position table. Read-only from the core's point of view.
type PositionStore interface {
	GetPositions(ctx context.Context, portfolio string) ([]models.Position, error)
}
