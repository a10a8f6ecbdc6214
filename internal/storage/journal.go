package storage

import (
	"database/sql"
	"fmt"
	"time"

	apperrors "github.com/pseudocoder/livereload/internal/errors"
	"github.com/pseudocoder/livereload/internal/logging"
)

// DefaultMaxRuns bounds the journal; older runs and their broadcasts are
// pruned when a new run starts.
const DefaultMaxRuns = 200

// timeLayout has fixed-width fractions so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// Run is one start-to-stop span of the live-reload service.
type Run struct {
	ID            string
	ProjectRoot   string
	WebSocketPort int
	StartedAt     time.Time
	StoppedAt     time.Time // zero while running or after a crash
	StopReason    string
	Broadcasts    int
}

// Broadcast is one reload message sent to the connected browsers.
type Broadcast struct {
	ID         int64
	RunID      string
	File       string
	Kind       string
	Recipients int
	At         time.Time
}

// RecordStart inserts a run and prunes the oldest runs beyond DefaultMaxRuns.
func (s *SQLiteStore) RecordStart(runID, projectRoot string, wsPort int, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	const insertQuery = `
		INSERT INTO runs (id, project_root, websocket_port, started_at)
		VALUES (?, ?, ?, ?)
	`
	if _, err := tx.Exec(insertQuery, runID, projectRoot, wsPort, formatTime(at)); err != nil {
		return apperrors.Wrap(apperrors.CodeStorageSaveFailed, "insert run", err)
	}

	const pruneQuery = `
		DELETE FROM runs
		WHERE id NOT IN (SELECT id FROM runs ORDER BY started_at DESC LIMIT ?)
	`
	if _, err := tx.Exec(pruneQuery, DefaultMaxRuns); err != nil {
		return fmt.Errorf("prune runs: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit run: %w", err)
	}

	logging.Debugf("storage: recorded start of run %s", runID)
	return nil
}

// RecordStop marks a run as stopped.
func (s *SQLiteStore) RecordStop(runID, reason string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		"UPDATE runs SET stopped_at = ?, stop_reason = ? WHERE id = ?",
		formatTime(at), reason, runID,
	)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStorageSaveFailed, "update run", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRunNotFound
	}
	return nil
}

// RecordBroadcast appends a broadcast to a run.
func (s *SQLiteStore) RecordBroadcast(runID, file, kind string, recipients int, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	const insertQuery = `
		INSERT INTO broadcasts (run_id, file, kind, recipients, at)
		VALUES (?, ?, ?, ?, ?)
	`
	if _, err := s.db.Exec(insertQuery, runID, file, kind, recipients, formatTime(at)); err != nil {
		return apperrors.Wrap(apperrors.CodeStorageSaveFailed, "insert broadcast", err)
	}
	return nil
}

// ListRuns returns runs newest first with their broadcast counts.
// A limit of zero or less returns every run.
func (s *SQLiteStore) ListRuns(limit int) ([]*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT r.id, r.project_root, r.websocket_port, r.started_at, r.stopped_at, r.stop_reason,
			(SELECT COUNT(*) FROM broadcasts b WHERE b.run_id = r.id)
		FROM runs r
		ORDER BY r.started_at DESC
	`
	var args []interface{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageQueryFailed, "query runs", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		var (
			run       Run
			startedAt string
			stoppedAt sql.NullString
		)
		err := rows.Scan(
			&run.ID,
			&run.ProjectRoot,
			&run.WebSocketPort,
			&startedAt,
			&stoppedAt,
			&run.StopReason,
			&run.Broadcasts,
		)
		if err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		if run.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt); err != nil {
			return nil, fmt.Errorf("parse run started_at: %w", err)
		}
		if stoppedAt.Valid {
			if run.StoppedAt, err = time.Parse(time.RFC3339Nano, stoppedAt.String); err != nil {
				return nil, fmt.Errorf("parse run stopped_at: %w", err)
			}
		}
		runs = append(runs, &run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run rows: %w", err)
	}
	return runs, nil
}

// ListBroadcasts returns the broadcasts of a run, newest first.
func (s *SQLiteStore) ListBroadcasts(runID string, limit int) ([]*Broadcast, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, run_id, file, kind, recipients, at
		FROM broadcasts
		WHERE run_id = ?
		ORDER BY id DESC
	`
	args := []interface{}{runID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageQueryFailed, "query broadcasts", err)
	}
	defer rows.Close()

	var out []*Broadcast
	for rows.Next() {
		var (
			b  Broadcast
			at string
		)
		if err := rows.Scan(&b.ID, &b.RunID, &b.File, &b.Kind, &b.Recipients, &at); err != nil {
			return nil, fmt.Errorf("scan broadcast row: %w", err)
		}
		if b.At, err = time.Parse(time.RFC3339Nano, at); err != nil {
			return nil, fmt.Errorf("parse broadcast at: %w", err)
		}
		out = append(out, &b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate broadcast rows: %w", err)
	}
	return out, nil
}
