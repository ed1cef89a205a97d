package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/aescanero/tickgraph/pkg/domain"
	"github.com/aescanero/tickgraph/pkg/ports"
)

const schema = `
CREATE TABLE IF NOT EXISTS tickgraph_runs (
	run_id       TEXT PRIMARY KEY,
	graph        TEXT NOT NULL,
	status       TEXT NOT NULL,
	state        JSONB NOT NULL,
	submitted_at TIMESTAMPTZ NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS tickgraph_runs_submitted_at_idx ON tickgraph_runs (submitted_at);
`

// DB is the subset of *pgxpool.Pool used by the storage
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewPool opens and pings a connection pool
func NewPool(ctx context.Context, dsn string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

// StateStorage implements StateStorage on a Postgres JSONB table
type StateStorage struct {
	db     DB
	logger *zap.Logger
}

// NewStateStorage creates a Postgres state storage
func NewStateStorage(db DB, logger *zap.Logger) *StateStorage {
	return &StateStorage{db: db, logger: logger}
}

// EnsureSchema creates the runs table if it does not exist
func (s *StateStorage) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// SaveState inserts or replaces a run
func (s *StateStorage) SaveState(ctx context.Context, state *domain.RunState) error {
	if state == nil || state.RunID == "" {
		return fmt.Errorf("invalid state: run id is required")
	}

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	query := `
		INSERT INTO tickgraph_runs (run_id, graph, status, state, submitted_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (run_id) DO UPDATE
		SET status = EXCLUDED.status, state = EXCLUDED.state, updated_at = now()
	`
	if _, err := s.db.Exec(ctx, query, state.RunID, state.Graph, string(state.Status), data, state.SubmittedAt); err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}

	s.logger.Debug("state saved",
		zap.String("run_id", state.RunID),
		zap.String("status", string(state.Status)))
	return nil
}

// GetState loads a run
func (s *StateStorage) GetState(ctx context.Context, runID string) (*domain.RunState, error) {
	var data []byte
	err := s.db.QueryRow(ctx, `SELECT state FROM tickgraph_runs WHERE run_id = $1`, runID).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", domain.ErrRunNotFound, runID)
		}
		return nil, fmt.Errorf("failed to get state: %w", err)
	}

	var state domain.RunState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	return &state, nil
}

// DeleteState removes a run
func (s *StateStorage) DeleteState(ctx context.Context, runID string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM tickgraph_runs WHERE run_id = $1`, runID); err != nil {
		return fmt.Errorf("failed to delete state: %w", err)
	}
	return nil
}

// ListStates returns every run, oldest submission first
func (s *StateStorage) ListStates(ctx context.Context) ([]*domain.RunState, error) {
	rows, err := s.db.Query(ctx, `SELECT state FROM tickgraph_runs ORDER BY submitted_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list states: %w", err)
	}
	defer rows.Close()

	var states []*domain.RunState
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan state: %w", err)
		}
		var state domain.RunState
		if err := json.Unmarshal(data, &state); err != nil {
			return nil, fmt.Errorf("failed to unmarshal state: %w", err)
		}
		states = append(states, &state)
	}
	return states, rows.Err()
}

var _ ports.StateStorage = (*StateStorage)(nil)
