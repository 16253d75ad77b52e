// Package history records script executions in a local SQLite database.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Execution is one recorded script run.
type Execution struct {
	ID         string    // execution UUID
	ScriptSHA  string    // sha256 of the script text
	Outcome    string    // "value" or the failure kind
	Error      string    // failure message, empty on success
	DurationMS int64
	CreatedAt  time.Time
}

// Store provides persistent storage for execution history.
// Migrations run automatically on initialization.
type Store struct {
	db   *sql.DB
	path string
}

// NewStore creates a Store with a SQLite database under dataPath,
// creating the directory if needed.
func NewStore(dataPath string) (*Store, error) {
	if err := os.MkdirAll(dataPath, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	dbPath := filepath.Join(dataPath, "history.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	store := &Store{db: db, path: dataPath}
	if err := store.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return store, nil
}

// migrate creates necessary tables.
func (s *Store) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS executions (
		id TEXT PRIMARY KEY,
		script_sha TEXT NOT NULL,
		outcome TEXT NOT NULL,
		error TEXT,
		duration_ms INTEGER,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`)
	return err
}

// Record inserts one execution.
func (s *Store) Record(exec *Execution) error {
	_, err := s.db.Exec(
		`INSERT INTO executions (id, script_sha, outcome, error, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		exec.ID, exec.ScriptSHA, exec.Outcome, exec.Error, exec.DurationMS, exec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("record execution: %w", err)
	}
	return nil
}

// List returns the most recent executions, newest first.
func (s *Store) List(limit int) ([]*Execution, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		`SELECT id, script_sha, outcome, COALESCE(error, ''), COALESCE(duration_ms, 0), created_at
		 FROM executions ORDER BY created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var execs []*Execution
	for rows.Next() {
		var e Execution
		if err := rows.Scan(&e.ID, &e.ScriptSHA, &e.Outcome, &e.Error, &e.DurationMS, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		execs = append(execs, &e)
	}
	return execs, rows.Err()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
