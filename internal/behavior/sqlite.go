package behavior

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists learned behavior in SQLite (modernc driver, CGO-free).
// Path is a filesystem path; use ":memory:" for tests.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	db, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// busy timeout helps with short concurrent locks
	_, _ = db.Exec("PRAGMA busy_timeout=3000;")
	s := &SQLiteStore{db: db}
	if err := s.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS learned_behavior(
			identity TEXT PRIMARY KEY,
			termination_attempts INTEGER NOT NULL,
			termination_failures INTEGER NOT NULL,
			restart_attempts INTEGER NOT NULL,
			restart_successes INTEGER NOT NULL,
			last_seen TIMESTAMP NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_learned_behavior_last_seen ON learned_behavior(last_seen);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT identity, termination_attempts, termination_failures,
		       restart_attempts, restart_successes, last_seen
		FROM learned_behavior;`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Identity, &e.TerminationAttempts, &e.TerminationFailures,
			&e.RestartAttempts, &e.RestartSuccesses, &e.LastSeen); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Save(ctx context.Context, entries []Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, e := range entries {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO learned_behavior(identity, termination_attempts, termination_failures,
				restart_attempts, restart_successes, last_seen)
			VALUES(?, ?, ?, ?, ?, ?)
			ON CONFLICT(identity) DO UPDATE SET
				termination_attempts=excluded.termination_attempts,
				termination_failures=excluded.termination_failures,
				restart_attempts=excluded.restart_attempts,
				restart_successes=excluded.restart_successes,
				last_seen=excluded.last_seen;`,
			e.Identity, e.TerminationAttempts, e.TerminationFailures,
			e.RestartAttempts, e.RestartSuccesses, e.LastSeen.UTC())
		if err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
