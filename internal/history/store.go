// Package history keeps a local SQLite log of pipeline runs.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver (pure Go, no CGO)
)

// Run is one recorded pipeline run.
type Run struct {
	SessionID string        `json:"sessionId"`
	StartedAt time.Time     `json:"startedAt"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
	Encoder   string        `json:"encoder,omitempty"`
	Attempts  int           `json:"attempts"`
	VideoPath string        `json:"videoPath,omitempty"`
	S3Key     string        `json:"s3Key,omitempty"`
	Compose   time.Duration `json:"compose"`
	Total     time.Duration `json:"total"`
}

// Store persists runs.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path and applies the schema.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		session_id TEXT PRIMARY KEY,
		started_at TEXT NOT NULL,
		success INTEGER NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		encoder TEXT NOT NULL DEFAULT '',
		attempts INTEGER NOT NULL DEFAULT 0,
		video_path TEXT NOT NULL DEFAULT '',
		s3_key TEXT NOT NULL DEFAULT '',
		compose_ms INTEGER NOT NULL DEFAULT 0,
		total_ms INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record inserts or replaces run.
func (s *Store) Record(ctx context.Context, run Run) error {
	query := `
	INSERT INTO runs (session_id, started_at, success, error, encoder, attempts, video_path, s3_key, compose_ms, total_ms)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(session_id) DO UPDATE SET
		success = excluded.success,
		error = excluded.error,
		encoder = excluded.encoder,
		attempts = excluded.attempts,
		video_path = excluded.video_path,
		s3_key = excluded.s3_key,
		compose_ms = excluded.compose_ms,
		total_ms = excluded.total_ms
	`
	_, err := s.db.ExecContext(ctx, query,
		run.SessionID,
		run.StartedAt.UTC().Format(time.RFC3339Nano),
		run.Success,
		run.Error,
		run.Encoder,
		run.Attempts,
		run.VideoPath,
		run.S3Key,
		run.Compose.Milliseconds(),
		run.Total.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("record run %s: %w", run.SessionID, err)
	}
	return nil
}

// Recent returns up to limit runs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
	SELECT session_id, started_at, success, error, encoder, attempts, video_path, s3_key, compose_ms, total_ms
	FROM runs
	ORDER BY started_at DESC
	LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var runs []Run
	for rows.Next() {
		var (
			r         Run
			started   string
			composeMs int64
			totalMs   int64
		)
		if err := rows.Scan(&r.SessionID, &started, &r.Success, &r.Error, &r.Encoder, &r.Attempts,
			&r.VideoPath, &r.S3Key, &composeMs, &totalMs); err != nil {
			return nil, err
		}
		if r.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
			return nil, fmt.Errorf("parse started_at of %s: %w", r.SessionID, err)
		}
		r.Compose = time.Duration(composeMs) * time.Millisecond
		r.Total = time.Duration(totalMs) * time.Millisecond
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Stats summarizes the recorded runs.
type Stats struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// Stats counts runs by outcome.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(success), 0) FROM runs`).Scan(&st.Total, &st.Succeeded)
	if err != nil {
		return st, err
	}
	st.Failed = st.Total - st.Succeeded
	return st, nil
}
