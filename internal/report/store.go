package report

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

// Store persists run history under the data directory. History is purely
// informational; the container map and the hosts themselves remain the only
// sources of truth for desired and actual state.
type Store struct {
	db     *sql.DB
	logger *logrus.Logger
}

// RunRecord is one persisted run.
type RunRecord struct {
	ID         string
	Command    string
	MapPath    string
	StartedAt  int64
	FinishedAt int64
	ExitCode   int
}

// NewStore opens (creating if needed) the run-history database in dataDir.
func NewStore(dataDir string, logger *logrus.Logger) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "runs.db")
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := initializeDatabase(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return &Store{db: db, logger: logger}, nil
}

// Close closes the store.
func (s *Store) Close() error {
	return s.db.Close()
}

// initializeDatabase initializes the database schema.
func initializeDatabase(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			command TEXT NOT NULL,
			map_path TEXT NOT NULL,
			started_at INTEGER NOT NULL,
			finished_at INTEGER NOT NULL,
			exit_code INTEGER NOT NULL
		)
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS run_entries (
			run_id TEXT NOT NULL,
			container_id INTEGER NOT NULL,
			hostname TEXT NOT NULL,
			host TEXT NOT NULL,
			outcome TEXT NOT NULL,
			detail TEXT NOT NULL,
			FOREIGN KEY (run_id) REFERENCES runs (id)
		)
	`)
	return err
}

// RecordRun persists one completed run with its outcome table and returns
// the generated run id.
func (s *Store) RecordRun(command, mapPath string, startedAt time.Time, entries []Entry) (string, error) {
	runID := uuid.New().String()
	exitCode := ExitCode(entries)

	tx, err := s.db.Begin()
	if err != nil {
		return "", fmt.Errorf("begin run record: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		"INSERT INTO runs (id, command, map_path, started_at, finished_at, exit_code) VALUES (?, ?, ?, ?, ?, ?)",
		runID, command, mapPath, startedAt.Unix(), time.Now().Unix(), exitCode,
	)
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}

	for _, e := range entries {
		_, err = tx.Exec(
			"INSERT INTO run_entries (run_id, container_id, hostname, host, outcome, detail) VALUES (?, ?, ?, ?, ?, ?)",
			runID, e.ID, e.Hostname, e.Host, string(e.Outcome), e.Detail,
		)
		if err != nil {
			return "", fmt.Errorf("insert run entry: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit run record: %w", err)
	}

	s.logger.Debugf("Recorded run %s (%d entries)", runID, len(entries))
	return runID, nil
}

// ListRuns returns recorded runs, newest first.
func (s *Store) ListRuns(limit int) ([]RunRecord, error) {
	rows, err := s.db.Query(
		"SELECT id, command, map_path, started_at, finished_at, exit_code FROM runs ORDER BY started_at DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var r RunRecord
		if err := rows.Scan(&r.ID, &r.Command, &r.MapPath, &r.StartedAt, &r.FinishedAt, &r.ExitCode); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
