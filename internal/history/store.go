// Package history records generation runs in PostgreSQL.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver

	"github.com/conduit-lang/svcgen/internal/loop"
)

// Status is the final status of a recorded run
type Status string

const (
	// StatusGenerated means the tree was written and the loop did not run
	StatusGenerated        Status = "generated"
	StatusSuccess          Status = "success"
	StatusExhaustedRetries Status = "exhausted-retries"
	StatusFailed           Status = "failed"
)

// Run is one recorded generation request
type Run struct {
	ID         uuid.UUID
	Service    string
	Metadata   string
	OutputDir  string
	Status     Status
	Artifacts  int
	Changed    int
	Iterations int
	// Failures is the loop history, stored as JSON
	Failures   []loop.BuildResult
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Store provides PostgreSQL-backed run history
type Store struct {
	db *sql.DB
}

// NewStore creates a store on an open database
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open connects to databaseURL with the pgx driver and checks the connection
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("history database unreachable: %w", err)
	}

	return NewStore(db), nil
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate ensures the runs table exists
func (s *Store) Migrate(ctx context.Context) error {
	query := `
CREATE TABLE IF NOT EXISTS svcgen_runs (
	id UUID PRIMARY KEY,
	service VARCHAR(255) NOT NULL,
	metadata TEXT NOT NULL,
	output_dir TEXT NOT NULL,
	status VARCHAR(32) NOT NULL,
	artifacts INTEGER NOT NULL DEFAULT 0,
	changed INTEGER NOT NULL DEFAULT 0,
	iterations INTEGER NOT NULL DEFAULT 0,
	failures JSONB NOT NULL DEFAULT '[]',
	error TEXT,
	started_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_svcgen_runs_started_at
ON svcgen_runs(started_at DESC);
`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to initialize runs table: %w", err)
	}
	return nil
}

// Record inserts a run. A zero ID is replaced with a new one.
func (s *Store) Record(ctx context.Context, run *Run) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}

	failures := run.Failures
	if failures == nil {
		failures = []loop.BuildResult{}
	}
	failuresJSON, err := json.Marshal(failures)
	if err != nil {
		return fmt.Errorf("failed to marshal failures: %w", err)
	}

	var runErr sql.NullString
	if run.Error != "" {
		runErr = sql.NullString{String: run.Error, Valid: true}
	}

	query := `
		INSERT INTO svcgen_runs (
			id, service, metadata, output_dir, status, artifacts,
			changed, iterations, failures, error, started_at, finished_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err = s.db.ExecContext(ctx, query,
		run.ID, run.Service, run.Metadata, run.OutputDir, run.Status, run.Artifacts,
		run.Changed, run.Iterations, failuresJSON, runErr, run.StartedAt, run.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	return nil
}

// Recent returns the latest runs, newest first
func (s *Store) Recent(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than 0")
	}

	query := `
		SELECT id, service, metadata, output_dir, status, artifacts,
		       changed, iterations, failures, error, started_at, finished_at
		FROM svcgen_runs
		ORDER BY started_at DESC
		LIMIT $1
	`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		var failuresJSON []byte
		var runErr sql.NullString
		if err := rows.Scan(
			&run.ID, &run.Service, &run.Metadata, &run.OutputDir, &run.Status, &run.Artifacts,
			&run.Changed, &run.Iterations, &failuresJSON, &runErr, &run.StartedAt, &run.FinishedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		if err := json.Unmarshal(failuresJSON, &run.Failures); err != nil {
			return nil, fmt.Errorf("failed to unmarshal failures of run %s: %w", run.ID, err)
		}
		run.Error = runErr.String
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}

	return runs, nil
}
