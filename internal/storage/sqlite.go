// Package storage keeps the service journal: one row per live-reload run
// and one row per broadcast, in a SQLite database.
package storage

import (
	"database/sql"
	"errors"
	"sync"

	// Pure-Go SQLite driver; no CGO needed for cross-compilation or tests.
	_ "modernc.org/sqlite"

	apperrors "github.com/pseudocoder/livereload/internal/errors"
	"github.com/pseudocoder/livereload/internal/logging"
)

// ErrRunNotFound is returned when an operation targets a run that was
// never recorded.
var ErrRunNotFound = errors.New("run not found")

// SQLiteStore is the journal database. It creates the schema on first use
// and serializes access through internal locking.
type SQLiteStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewSQLiteStore opens or creates a SQLite database at path.
// Use ":memory:" for an in-memory database (useful for testing).
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logging.Debugf("storage: opening database at %s", path)

	// busy_timeout covers the CLI reading history while a host writes.
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageOpenFailed, "open database", err)
	}

	// An in-memory database exists per connection.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, apperrors.Wrap(apperrors.CodeStorageOpenFailed, "ping database", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, apperrors.Wrap(apperrors.CodeStorageOpenFailed, "init schema", err)
	}

	logging.Debugf("storage: database ready (schema version %d)", currentSchemaVersion)
	return store, nil
}

// Close releases the database connection.
func (s *SQLiteStore) Close() error {
	logging.Debugf("storage: closing database")
	return s.db.Close()
}
