// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package history keeps a SQLite ledger of batch runs.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/pdiddy/lesion-engine/pkg/types"
)

// DefaultLimit caps List when no limit is given.
const DefaultLimit = 20

// timeLayout is fixed-width so timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store manages the run ledger database.
type Store struct {
	db *sql.DB
}

// Open opens or creates the ledger at path and ensures the schema exists.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating history directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{db: db}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			job_id TEXT NOT NULL,
			model TEXT NOT NULL,
			dataset TEXT,
			state TEXT NOT NULL,
			total INTEGER,
			processed INTEGER,
			dispatched INTEGER,
			failed INTEGER,
			cumulative_ms INTEGER,
			avg_latency_ms REAL,
			config_hash TEXT,
			error TEXT,
			started_at TEXT NOT NULL,
			finished_at TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_job_id ON runs(job_id)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

// Record inserts rec and returns its ID. An empty rec.ID gets a new UUID.
func (s *Store) Record(ctx context.Context, rec types.RunRecord) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, job_id, model, dataset, state, total, processed, dispatched,
			failed, cumulative_ms, avg_latency_ms, config_hash, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.JobID, rec.Model, rec.Dataset, string(rec.State),
		rec.Total, rec.Processed, rec.Dispatched, rec.Failed,
		rec.CumulativeTime.Milliseconds(),
		float64(rec.AvgLatency)/float64(time.Millisecond),
		rec.ConfigHash, rec.Error,
		rec.StartedAt.UTC().Format(timeLayout),
		rec.FinishedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return "", fmt.Errorf("recording run %s: %w", rec.ID, err)
	}
	return rec.ID, nil
}

// List returns the most recent runs first. jobID filters by job when set;
// limit <= 0 selects DefaultLimit.
func (s *Store) List(ctx context.Context, jobID string, limit int) ([]types.RunRecord, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	query := `SELECT id, job_id, model, dataset, state, total, processed, dispatched, failed,
		cumulative_ms, avg_latency_ms, config_hash, error, started_at, finished_at FROM runs`
	var args []any
	if jobID != "" {
		query += ` WHERE job_id = ?`
		args = append(args, jobID)
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var out []types.RunRecord
	for rows.Next() {
		var (
			rec                types.RunRecord
			state              string
			cumulativeMS       int64
			avgMS              float64
			started, finished  string
			dataset, hash, msg sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.JobID, &rec.Model, &dataset, &state,
			&rec.Total, &rec.Processed, &rec.Dispatched, &rec.Failed,
			&cumulativeMS, &avgMS, &hash, &msg, &started, &finished); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		rec.Dataset = dataset.String
		rec.ConfigHash = hash.String
		rec.Error = msg.String
		rec.State = types.RunState(state)
		rec.CumulativeTime = time.Duration(cumulativeMS) * time.Millisecond
		rec.AvgLatency = time.Duration(avgMS * float64(time.Millisecond))
		rec.StartedAt, _ = time.Parse(timeLayout, started)
		rec.FinishedAt, _ = time.Parse(timeLayout, finished)
		out = append(out, rec)
	}
	return out, rows.Err()
}
