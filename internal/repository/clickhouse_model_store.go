package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"QuantCore/internal/domain/models"
	domrepo "QuantCore/internal/domain/repository"
	pkgch "QuantCore/pkg/clickhouse"
	applogger "QuantCore/pkg/logger"
)

// CHModelStore keeps trained regime models append-only. Matrices are stored
// as JSON strings so a version is one self-contained row.
type CHModelStore struct {
	db *sql.DB
	l  *applogger.Logger
}

func NewCHModelStore(ch *pkgch.Client) *CHModelStore {
	return &CHModelStore{db: ch.DB()}
}

// SetLogger injects a structured logger.
func (s *CHModelStore) SetLogger(l *applogger.Logger) { s.l = l }

func (s *CHModelStore) InsertModel(ctx context.Context, m *models.HmmModel) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("insert model: %w", err)
	}
	start := time.Now()

	trans, err := json.Marshal(m.Transition)
	if err != nil {
		return fmt.Errorf("marshal transition: %w", err)
	}
	emis, err := json.Marshal(m.Emission)
	if err != nil {
		return fmt.Errorf("marshal emission: %w", err)
	}

	const q = `
        INSERT INTO quantcore.hmm_models
            (scope, states, transition, emission, discretization, window_days,
             accuracy, log_likelihood, iterations, trained_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `
	_, err = s.db.ExecContext(ctx, q,
		m.Scope, strings.Join(m.States, ","), string(trans), string(emis),
		m.Discretization, m.WindowDays, m.Accuracy, m.LogLikelihood,
		m.Iterations, m.TrainedAt,
	)
	if err != nil {
		if s.l != nil {
			s.l.Error("insert_model error",
				applogger.String("scope", m.Scope),
				applogger.Error(err),
			)
		}
		return fmt.Errorf("insert model: %w", err)
	}
	if s.l != nil {
		s.l.Info("hmm model version stored",
			applogger.String("scope", m.Scope),
			applogger.Int("iterations", m.Iterations),
			applogger.Duration("duration_ms", time.Since(start)),
		)
	}
	return nil
}

func (s *CHModelStore) LatestModel(ctx context.Context, scope string) (*models.HmmModel, error) {
	const q = `
        SELECT scope, states, transition, emission, discretization, window_days,
               accuracy, log_likelihood, iterations, trained_at
        FROM quantcore.hmm_models
        WHERE scope = ?
        ORDER BY trained_at DESC
        LIMIT 1
    `
	var (
		m      models.HmmModel
		states string
		trans  string
		emis   string
	)
	err := s.db.QueryRowContext(ctx, q, scope).Scan(
		&m.Scope, &states, &trans, &emis, &m.Discretization, &m.WindowDays,
		&m.Accuracy, &m.LogLikelihood, &m.Iterations, &m.TrainedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: no model for scope %s", models.ErrNoData, scope)
	}
	if err != nil {
		return nil, fmt.Errorf("latest model: %w", err)
	}
	m.States = strings.Split(states, ",")
	if err := json.Unmarshal([]byte(trans), &m.Transition); err != nil {
		return nil, fmt.Errorf("unmarshal transition: %w", err)
	}
	if err := json.Unmarshal([]byte(emis), &m.Emission); err != nil {
		return nil, fmt.Errorf("unmarshal emission: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("stored model invalid: %w", err)
	}
	return &m, nil
}

var _ domrepo.HmmModelStore = (*CHModelStore)(nil)
