package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"QuantCore/internal/domain/models"
	domrepo "QuantCore/internal/domain/repository"
	pkgch "QuantCore/pkg/clickhouse"
	applogger "QuantCore/pkg/logger"
	"QuantCore/pkg/util"
)

// CHReturnStore implements ReturnStore backed by ClickHouse. The core
// only reads from the returns table; ingestion is owned by external
// collaborators.
type CHReturnStore struct {
	db *sql.DB
	l  *applogger.Logger
}

func NewCHReturnStore(ch *pkgch.Client) *CHReturnStore {
	return &CHReturnStore{db: ch.DB()}
}

// SetLogger injects a structured logger.
func (s *CHReturnStore) SetLogger(l *applogger.Logger) { s.l = l }

func (s *CHReturnStore) GetReturns(ctx context.Context, subject string, from, to time.Time) (models.ReturnSeries, error) {
	start := time.Now()
	const q = `
        SELECT date, ret
        FROM quantcore.daily_returns
        WHERE subject = ? AND date >= ? AND date <= ?
        ORDER BY date ASC
    `
	rows, err := s.db.QueryContext(ctx, q, subject, util.Day(from), util.Day(to))
	if err != nil {
		s.logErr("get_returns query error", subject, err)
		return models.ReturnSeries{}, fmt.Errorf("get returns: %w", err)
	}
	defer rows.Close()

	series, err := scanSeries(rows, subject)
	if err != nil {
		s.logErr("get_returns scan error", subject, err)
		return models.ReturnSeries{}, err
	}
	if series.Len() == 0 {
		return models.ReturnSeries{}, fmt.Errorf("%w: %s", models.ErrNoData, subject)
	}
	if s.l != nil {
		s.l.Debug("clickhouse get_returns ok",
			applogger.String("subject", subject),
			applogger.Int("rows", series.Len()),
			applogger.Duration("duration_ms", time.Since(start)),
		)
	}
	return series, nil
}

func (s *CHReturnStore) GetLatestReturns(ctx context.Context, subject string, n int) (models.ReturnSeries, error) {
	start := time.Now()
	const q = `
        SELECT date, ret
        FROM quantcore.daily_returns
        WHERE subject = ?
        ORDER BY date DESC
        LIMIT ?
    `
	rows, err := s.db.QueryContext(ctx, q, subject, n)
	if err != nil {
		s.logErr("latest_returns query error", subject, err)
		return models.ReturnSeries{}, fmt.Errorf("get latest returns: %w", err)
	}
	defer rows.Close()

	series, err := scanSeries(rows, subject)
	if err != nil {
		s.logErr("latest_returns scan error", subject, err)
		return models.ReturnSeries{}, err
	}
	if series.Len() == 0 {
		return models.ReturnSeries{}, fmt.Errorf("%w: %s", models.ErrNoData, subject)
	}
	// The query walks newest-first; callers expect ascending dates.
	sort.Slice(series.Points, func(i, j int) bool {
		return series.Points[i].Date.Before(series.Points[j].Date)
	})
	if s.l != nil {
		s.l.Debug("clickhouse latest_returns ok",
			applogger.String("subject", subject),
			applogger.Int("rows", series.Len()),
			applogger.Duration("duration_ms", time.Since(start)),
		)
	}
	return series, nil
}

func scanSeries(rows *sql.Rows, subject string) (models.ReturnSeries, error) {
	series := models.ReturnSeries{Subject: subject, Points: make([]models.ReturnPoint, 0, 512)}
	for rows.Next() {
		var p models.ReturnPoint
		if err := rows.Scan(&p.Date, &p.Return); err != nil {
			return models.ReturnSeries{}, fmt.Errorf("scan return point: %w", err)
		}
		series.Points = append(series.Points, p)
	}
	if err := rows.Err(); err != nil {
		return models.ReturnSeries{}, fmt.Errorf("rows: %w", err)
	}
	return series, nil
}

func (s *CHReturnStore) logErr(msg, subject string, err error) {
	if s.l != nil {
		s.l.Error(msg,
			applogger.String("subject", subject),
			applogger.Error(err),
		)
	}
}

var _ domrepo.ReturnStore = (*CHReturnStore)(nil)

// CHPositionStore reads portfolio holdings from the CRUD-owned positions
// table.
type CHPositionStore struct {
	db *sql.DB
	l  *applogger.Logger
}

func NewCHPositionStore(ch *pkgch.Client) *CHPositionStore {
	return &CHPositionStore{db: ch.DB()}
}

// SetLogger injects a structured logger.
func (s *CHPositionStore) SetLogger(l *applogger.Logger) { s.l = l }

func (s *CHPositionStore) GetPositions(ctx context.Context, portfolio string) ([]models.Position, error) {
	const q = `
        SELECT portfolio, ticker, weight
        FROM quantcore.positions
        WHERE portfolio = ?
        ORDER BY weight DESC
    `
	rows, err := s.db.QueryContext(ctx, q, portfolio)
	if err != nil {
		if s.l != nil {
			s.l.Error("get_positions query error",
				applogger.String("portfolio", portfolio),
				applogger.Error(err),
			)
		}
		return nil, fmt.Errorf("get positions: %w", err)
	}
	defer rows.Close()

	out := make([]models.Position, 0, 64)
	for rows.Next() {
		var p models.Position
		if err := rows.Scan(&p.Portfolio, &p.Ticker, &p.Weight); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

var _ domrepo.PositionStore = (*CHPositionStore)(nil)
