package postgres

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/loykin/procsentry/internal/history"
)

// Sink persists termination events in PostgreSQL via pgx's database/sql driver.
type Sink struct {
	db    *sql.DB
	table string
}

func New(dsn, table string) (*Sink, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return &Sink{db: db, table: table}, nil
}

func (s *Sink) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// EnsureSchema creates the events table when missing.
func (s *Sink) EnsureSchema(ctx context.Context) error {
	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id BIGSERIAL PRIMARY KEY,
		type TEXT NOT NULL,
		occurred_at TIMESTAMPTZ NOT NULL,
		pid BIGINT NOT NULL,
		identity TEXT NOT NULL,
		name TEXT NOT NULL,
		strategy TEXT NOT NULL,
		state TEXT NOT NULL,
		success BOOLEAN NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		attempts INT NOT NULL,
		duration_ms BIGINT NOT NULL
	)`, s.table)
	_, err := s.db.ExecContext(ctx, stmt)
	return err
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	query := fmt.Sprintf(`INSERT INTO %s (type, occurred_at, pid, identity, name, strategy, state, success, reason, attempts, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`, s.table)
	res := e.Result
	_, err := s.db.ExecContext(ctx, query,
		string(e.Type),
		e.OccurredAt,
		int64(res.PID),
		res.Identity,
		res.Name,
		string(res.Strategy),
		string(res.State),
		res.Success,
		res.Reason,
		len(res.Attempts),
		res.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert event into postgres: %w", err)
	}
	return nil
}
