package storage

import (
	"fmt"
	"time"

	"github.com/pseudocoder/livereload/internal/logging"
)

// currentSchemaVersion is the current database schema version.
// Increment this when making schema changes and add migration logic.
const currentSchemaVersion = 2

// initSchema creates the required tables if they don't exist.
func (s *SQLiteStore) initSchema() error {
	const schemaVersionTable = `
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL
		);
	`
	if _, err := s.db.Exec(schemaVersionTable); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var version int
	err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	if err != nil {
		return fmt.Errorf("check schema version: %w", err)
	}

	if version < 1 {
		if err := s.migrateToV1(); err != nil {
			return fmt.Errorf("migrate to v1: %w", err)
		}
	}
	if version < 2 {
		if err := s.migrateToV2(); err != nil {
			return fmt.Errorf("migrate to v2: %w", err)
		}
	}
	return nil
}

// migrateToV1 creates the runs table.
func (s *SQLiteStore) migrateToV1() error {
	logging.Debugf("storage: applying migration to schema version 1")

	// Timestamps are RFC3339Nano strings; stopped_at is NULL while a run
	// is live or if the process died without stopping.
	const runsTable = `
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			project_root TEXT NOT NULL DEFAULT '',
			websocket_port INTEGER NOT NULL,
			started_at TEXT NOT NULL,
			stopped_at TEXT,
			stop_reason TEXT NOT NULL DEFAULT ''
		);

		CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
	`
	if _, err := s.db.Exec(runsTable); err != nil {
		return fmt.Errorf("create runs table: %w", err)
	}
	return s.recordMigration(1)
}

// migrateToV2 adds the broadcasts table.
func (s *SQLiteStore) migrateToV2() error {
	logging.Debugf("storage: applying migration to schema version 2")

	const broadcastsTable = `
		CREATE TABLE IF NOT EXISTS broadcasts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			file TEXT NOT NULL,
			kind TEXT NOT NULL,
			recipients INTEGER NOT NULL DEFAULT 0,
			at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_broadcasts_run ON broadcasts(run_id);
	`
	if _, err := s.db.Exec(broadcastsTable); err != nil {
		return fmt.Errorf("create broadcasts table: %w", err)
	}
	return s.recordMigration(2)
}

func (s *SQLiteStore) recordMigration(version int) error {
	_, err := s.db.Exec(
		"INSERT INTO schema_version (version, applied_at) VALUES (?, ?)",
		version,
		time.Now().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("record migration: %w", err)
	}
	return nil
}
