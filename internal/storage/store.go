package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	// SQLite driver registration.
	_ "github.com/mattn/go-sqlite3"

	"github.com/sematica-ai/memory-engine/internal/observability"
)

// Common errors
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrInvalidField is returned when an update names a field outside the
	// allowlist.
	ErrInvalidField = errors.New("field not allowed")
	// ErrDuplicateName is returned when a unique name is already taken.
	ErrDuplicateName = errors.New("name already exists")
)

// DB is the minimal query surface shared by *sql.DB and *sql.Tx.
type DB interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// timeLayout is the stored timestamp format: fixed-width UTC with
// microsecond precision, so lexicographic order equals chronological order.
const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

// Open opens (creating if needed) the SQLite database at path with WAL
// journaling, a 5s busy timeout, and foreign key enforcement.
func Open(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=1", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite allows a single writer at a time.
	db.SetMaxOpenConns(1)
	return db, nil
}

// Store persists insights, subjects, relations, and knowledge bases.
type Store struct {
	db     *sql.DB
	logger *observability.Logger
}

// NewStore creates a store over an open database handle. Call Initialize
// before first use to apply schema migrations.
func NewStore(db *sql.DB, logger *observability.Logger) *Store {
	if logger == nil {
		logger = observability.DefaultLogger()
	}
	return &Store{db: db, logger: logger.WithComponent("storage")}
}

// DB exposes the underlying handle for sibling stores sharing the file.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func nowUTC() string {
	return time.Now().UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// encodeTags serializes a tag list as a JSON array, never null.
func encodeTags(tags []string) string {
	if len(tags) == 0 {
		return "[]"
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func decodeTags(raw string) []string {
	if raw == "" {
		return nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(raw), &tags); err != nil {
		return nil
	}
	if len(tags) == 0 {
		return nil
	}
	return tags
}
