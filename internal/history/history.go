// Package history keeps a log of completed builds in SQLite.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Record is one completed build.
type Record struct {
	BuildID    string
	Started    time.Time
	Duration   time.Duration
	Outcome    string
	Stylesheet string
	Pages      int
	Documents  int
	Failures   []string
}

// Store persists build records.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// Open opens or creates the store at path. Use ":memory:" for an in-memory
// database.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create history directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// one connection, so an in-memory database is shared by every query
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS builds (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		build_id TEXT NOT NULL UNIQUE,
		started INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		outcome TEXT NOT NULL,
		stylesheet TEXT,
		pages INTEGER NOT NULL,
		documents INTEGER NOT NULL,
		failures TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_builds_started ON builds(started);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Append stores rec.
func (s *Store) Append(ctx context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	failures, err := json.Marshal(rec.Failures)
	if err != nil {
		return fmt.Errorf("marshal failures: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO builds (build_id, started, duration_ms, outcome, stylesheet, pages, documents, failures)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.BuildID, rec.Started.UnixMilli(), rec.Duration.Milliseconds(), rec.Outcome,
		rec.Stylesheet, rec.Pages, rec.Documents, string(failures),
	)
	if err != nil {
		return fmt.Errorf("insert build: %w", err)
	}

	return nil
}

// Recent returns up to limit records, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT build_id, started, duration_ms, outcome, stylesheet, pages, documents, failures
		 FROM builds ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query builds: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			rec        Record
			started    int64
			durationMS int64
			stylesheet sql.NullString
			failures   sql.NullString
		)
		if err := rows.Scan(&rec.BuildID, &started, &durationMS, &rec.Outcome, &stylesheet,
			&rec.Pages, &rec.Documents, &failures); err != nil {
			return nil, fmt.Errorf("scan build: %w", err)
		}

		rec.Started = time.UnixMilli(started)
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		rec.Stylesheet = stylesheet.String
		if failures.Valid && failures.String != "" {
			if err := json.Unmarshal([]byte(failures.String), &rec.Failures); err != nil {
				return nil, fmt.Errorf("unmarshal failures: %w", err)
			}
		}

		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return records, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
