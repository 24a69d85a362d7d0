// Package store provides the SQLite-backed per-task result store. Results are
// queryable concurrently with a running coordinator. The default database is
// in-memory: result records live only as long as the process.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/conductor-go/conductor/pkg/models"
)

// MemoryPath is the DSN for an in-memory result store.
const MemoryPath = ":memory:"

// ErrInvalidStateTransition indicates a write to a task whose stored result is
// already terminal. This is a programming/integration error and is never
// silently swallowed.
var ErrInvalidStateTransition = errors.New("invalid state transition: result is terminal")

// ErrNotFound indicates no result record exists for the task ID.
var ErrNotFound = errors.New("result not found")

// ResultStore persists per-task result records.
type ResultStore struct {
	conn *sql.DB
	path string
	mu   sync.RWMutex
}

// Open opens a result store at the given path, creating parent directories
// and the schema as needed. Pass MemoryPath for an in-memory store.
func Open(path string) (*ResultStore, error) {
	if path == "" {
		path = MemoryPath
	}

	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open result store: %w", err)
	}

	if path == MemoryPath {
		// Each pooled connection would otherwise get its own empty database.
		conn.SetMaxOpenConns(1)
	} else {
		// WAL mode for concurrent reads while the coordinator writes.
		if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
			conn.Close()
			return nil, fmt.Errorf("enable WAL mode: %w", err)
		}
	}

	s := &ResultStore{conn: conn, path: path}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *ResultStore) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS task_results (
	task_id      TEXT PRIMARY KEY,
	status       TEXT NOT NULL,
	output       TEXT,
	error        TEXT,
	execution_ms INTEGER NOT NULL DEFAULT 0,
	attempts     TEXT,
	updated_at   TIMESTAMP NOT NULL
);`
	if _, err := s.conn.Exec(schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Put writes a result record. Writes are last-write-wins while the stored
// record is non-terminal; once a terminal record exists, further writes are
// rejected with ErrInvalidStateTransition.
func (s *ResultStore) Put(res models.TaskResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current string
	err := s.conn.QueryRow("SELECT status FROM task_results WHERE task_id = ?", res.TaskID).Scan(&current)
	switch {
	case err == sql.ErrNoRows:
		// First write for this task.
	case err != nil:
		return fmt.Errorf("query result %s: %w", res.TaskID, err)
	default:
		if models.TaskStatus(current).Terminal() {
			return fmt.Errorf("%w: task %s is %s", ErrInvalidStateTransition, res.TaskID, current)
		}
	}

	output, err := marshalNullable(res.Output)
	if err != nil {
		return fmt.Errorf("marshal output for %s: %w", res.TaskID, err)
	}
	attempts, err := marshalNullable(res.Attempts)
	if err != nil {
		return fmt.Errorf("marshal attempts for %s: %w", res.TaskID, err)
	}

	_, err = s.conn.Exec(`
INSERT INTO task_results (task_id, status, output, error, execution_ms, attempts, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(task_id) DO UPDATE SET
	status = excluded.status,
	output = excluded.output,
	error = excluded.error,
	execution_ms = excluded.execution_ms,
	attempts = excluded.attempts,
	updated_at = excluded.updated_at`,
		res.TaskID, string(res.Status), output, res.Error,
		res.ExecutionTime.Milliseconds(), attempts, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("write result %s: %w", res.TaskID, err)
	}
	return nil
}

// Get returns the result record for a task ID, or ErrNotFound.
func (s *ResultStore) Get(taskID string) (models.TaskResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.conn.QueryRow(`
SELECT task_id, status, output, error, execution_ms, attempts
FROM task_results WHERE task_id = ?`, taskID)

	res, err := scanResult(row)
	if err == sql.ErrNoRows {
		return models.TaskResult{}, fmt.Errorf("%w: %s", ErrNotFound, taskID)
	}
	return res, err
}

// All returns every result record ordered by task ID.
func (s *ResultStore) All() ([]models.TaskResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.conn.Query(`
SELECT task_id, status, output, error, execution_ms, attempts
FROM task_results ORDER BY task_id`)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	var results []models.TaskResult
	for rows.Next() {
		res, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, rows.Err()
}

// Close closes the underlying database.
func (s *ResultStore) Close() error {
	return s.conn.Close()
}

// Path returns the store's DSN.
func (s *ResultStore) Path() string {
	return s.path
}

type scannable interface {
	Scan(dest ...any) error
}

func scanResult(row scannable) (models.TaskResult, error) {
	var (
		res         models.TaskResult
		status      string
		output      sql.NullString
		errMsg      sql.NullString
		execMs      int64
		attemptsRaw sql.NullString
	)
	if err := row.Scan(&res.TaskID, &status, &output, &errMsg, &execMs, &attemptsRaw); err != nil {
		return models.TaskResult{}, err
	}

	res.Status = models.TaskStatus(status)
	res.Error = errMsg.String
	res.ExecutionTime = time.Duration(execMs) * time.Millisecond

	if output.Valid && output.String != "" {
		if err := json.Unmarshal([]byte(output.String), &res.Output); err != nil {
			return models.TaskResult{}, fmt.Errorf("unmarshal output for %s: %w", res.TaskID, err)
		}
	}
	if attemptsRaw.Valid && attemptsRaw.String != "" {
		if err := json.Unmarshal([]byte(attemptsRaw.String), &res.Attempts); err != nil {
			return models.TaskResult{}, fmt.Errorf("unmarshal attempts for %s: %w", res.TaskID, err)
		}
	}
	return res, nil
}

func marshalNullable(v any) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}
