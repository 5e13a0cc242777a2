// Package history keeps completed transcripts in a local SQLite database.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"pushtalk/internal/domain"
	"pushtalk/internal/ports"
)

const schema = `
CREATE TABLE IF NOT EXISTS transcripts (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id  TEXT    NOT NULL,
	raw         TEXT    NOT NULL,
	transformed TEXT    NOT NULL,
	backend     TEXT    NOT NULL,
	method      TEXT    NOT NULL,
	created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS transcripts_created_at ON transcripts(created_at);
`

// DefaultLimit bounds List when the caller passes no limit.
const DefaultLimit = 50

// Store appends and lists transcripts.
type Store struct {
	db *sql.DB
}

// Open creates the database file and schema if needed.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("mkdir history dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	// One writer; the daemon records at most one transcript at a time.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping history: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create history schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Record takes ownership of a finished transcript.
func (s *Store) Record(ctx context.Context, entry domain.HistoryEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transcripts (session_id, raw, transformed, backend, method, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, entry.SessionID, entry.Raw, entry.Transformed, string(entry.Backend), string(entry.Method), entry.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert transcript: %w", err)
	}
	return nil
}

// List returns the most recent transcripts, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]domain.HistoryEntry, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, raw, transformed, backend, method, created_at
		FROM transcripts
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query transcripts: %w", err)
	}
	defer rows.Close()

	entries := []domain.HistoryEntry{}
	for rows.Next() {
		var (
			e         domain.HistoryEntry
			backend   string
			method    string
			createdAt int64
		)
		if err := rows.Scan(&e.SessionID, &e.Raw, &e.Transformed, &backend, &method, &createdAt); err != nil {
			return nil, fmt.Errorf("scan transcript: %w", err)
		}
		e.Backend = domain.BackendKind(backend)
		e.Method = domain.InjectionMethod(method)
		e.CreatedAt = time.UnixMilli(createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

var _ ports.HistorySink = (*Store)(nil)
