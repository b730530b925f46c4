// Package store records finished agent runs for later inspection. The
// in-memory handle registry stays authoritative; this is write-only
// audit history and is never consulted for scheduling.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Record is one finished worker run.
type Record struct {
	AgentTaskID string
	TaskID      string // Graph task ID, empty for ad-hoc spawns
	WorkerType  string
	Description string
	Status      string
	Output      string
	ExitCode    int
	StartedAt   time.Time
	EndedAt     time.Time
}

// Store is the run-history persistence interface.
type Store interface {
	SaveRecord(ctx context.Context, rec Record) error
	ListRecords(ctx context.Context) ([]Record, error)
	GetRecord(ctx context.Context, agentTaskID string) (Record, error)
	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) a history database at the
// given path. Enables WAL mode and a busy timeout.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create parent directories: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", dbPath)
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return store, nil
}

// NewMemoryStore creates an in-memory history store for testing. A
// shared cache lets multiple connections see the same database.
func NewMemoryStore(ctx context.Context) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", "file::memory:?mode=memory&cache=shared")
	if err != nil {
		return nil, fmt.Errorf("open memory database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS agent_runs (
		agent_task_id TEXT PRIMARY KEY,
		task_id TEXT,
		worker_type TEXT NOT NULL,
		description TEXT,
		status TEXT NOT NULL,
		output TEXT,
		exit_code INTEGER NOT NULL,
		started_at DATETIME NOT NULL,
		ended_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_agent_runs_worker_type ON agent_runs(worker_type);
	CREATE INDEX IF NOT EXISTS idx_agent_runs_started_at ON agent_runs(started_at);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return err
	}
	return nil
}

// SaveRecord upserts one finished run.
func (s *SQLiteStore) SaveRecord(ctx context.Context, rec Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_runs (agent_task_id, task_id, worker_type, description, status, output, exit_code, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(agent_task_id) DO UPDATE SET
			status = excluded.status,
			output = excluded.output,
			exit_code = excluded.exit_code,
			ended_at = excluded.ended_at
	`, rec.AgentTaskID, rec.TaskID, rec.WorkerType, rec.Description, rec.Status, rec.Output, rec.ExitCode, rec.StartedAt.UTC(), rec.EndedAt.UTC())
	if err != nil {
		return fmt.Errorf("upsert run %s: %w", rec.AgentTaskID, err)
	}
	return nil
}

// ListRecords returns all runs, oldest first.
func (s *SQLiteStore) ListRecords(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT agent_task_id, task_id, worker_type, description, status, output, exit_code, started_at, ended_at
		FROM agent_runs ORDER BY started_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.AgentTaskID, &rec.TaskID, &rec.WorkerType, &rec.Description, &rec.Status, &rec.Output, &rec.ExitCode, &rec.StartedAt, &rec.EndedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// GetRecord returns one run by agent task ID.
func (s *SQLiteStore) GetRecord(ctx context.Context, agentTaskID string) (Record, error) {
	var rec Record
	err := s.db.QueryRowContext(ctx, `
		SELECT agent_task_id, task_id, worker_type, description, status, output, exit_code, started_at, ended_at
		FROM agent_runs WHERE agent_task_id = ?
	`, agentTaskID).Scan(&rec.AgentTaskID, &rec.TaskID, &rec.WorkerType, &rec.Description, &rec.Status, &rec.Output, &rec.ExitCode, &rec.StartedAt, &rec.EndedAt)
	if err == sql.ErrNoRows {
		return Record{}, fmt.Errorf("run %s not found", agentTaskID)
	}
	if err != nil {
		return Record{}, fmt.Errorf("query run %s: %w", agentTaskID, err)
	}
	return rec, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
