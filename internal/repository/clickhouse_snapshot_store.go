package repository

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"QuantCore/internal/domain/models"
	domrepo "QuantCore/internal/domain/repository"
	pkgch "QuantCore/pkg/clickhouse"
	applogger "QuantCore/pkg/logger"
	"QuantCore/pkg/util"
)

// betaSentinel marks "no beta" in storage. ClickHouse Float64 columns have
// no NULL here; NaN round-trips back to a nil pointer on read.
var betaSentinel = math.NaN()

// CHSnapshotStore persists immutable per-(subject, date) risk rows.
type CHSnapshotStore struct {
	db *sql.DB
	l  *applogger.Logger
}

func NewCHSnapshotStore(ch *pkgch.Client) *CHSnapshotStore {
	return &CHSnapshotStore{db: ch.DB()}
}

// SetLogger injects a structured logger.
func (s *CHSnapshotStore) SetLogger(l *applogger.Logger) { s.l = l }

func (s *CHSnapshotStore) SaveSnapshot(ctx context.Context, snap *models.RiskSnapshot) error {
	start := time.Now()
	const q = `
        INSERT INTO quantcore.risk_snapshots
            (subject, date, observations, volatility, max_drawdown, beta, sharpe,
             var_95, var_99, es_95, es_99)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `
	beta := betaSentinel
	if snap.Beta != nil {
		beta = *snap.Beta
	}
	_, err := s.db.ExecContext(ctx, q,
		snap.Subject, util.Day(snap.Date), snap.Observations,
		snap.Volatility, snap.MaxDrawdown, beta, snap.Sharpe,
		snap.VaR95, snap.VaR99, snap.ES95, snap.ES99,
	)
	if err != nil {
		if s.l != nil {
			s.l.Error("save_snapshot insert error",
				applogger.String("subject", snap.Subject),
				applogger.Error(err),
			)
		}
		return fmt.Errorf("save snapshot: %w", err)
	}
	if s.l != nil {
		s.l.Debug("clickhouse save_snapshot ok",
			applogger.String("subject", snap.Subject),
			applogger.Duration("duration_ms", time.Since(start)),
		)
	}
	return nil
}

func (s *CHSnapshotStore) LatestSnapshot(ctx context.Context, subject string) (*models.RiskSnapshot, error) {
	const q = `
        SELECT subject, date, observations, volatility, max_drawdown, beta, sharpe,
               var_95, var_99, es_95, es_99
        FROM quantcore.risk_snapshots
        WHERE subject = ?
        ORDER BY date DESC
        LIMIT 1
    `
	var (
		snap models.RiskSnapshot
		beta float64
	)
	err := s.db.QueryRowContext(ctx, q, subject).Scan(
		&snap.Subject, &snap.Date, &snap.Observations,
		&snap.Volatility, &snap.MaxDrawdown, &beta, &snap.Sharpe,
		&snap.VaR95, &snap.VaR99, &snap.ES95, &snap.ES99,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", models.ErrNoData, subject)
	}
	if err != nil {
		return nil, fmt.Errorf("latest snapshot: %w", err)
	}
	if !math.IsNaN(beta) {
		snap.Beta = &beta
	}
	return &snap, nil
}

var _ domrepo.RiskSnapshotStore = (*CHSnapshotStore)(nil)
