// Package monitorstore implements the Monitor's single-writer store for
// telemetry events, per-job check state, and alerts. Grounded on the
// teacher's internal/store/sqlite package (modernc.org/sqlite, CGO-free,
// ON CONFLICT upsert idiom), generalized from a single process_state
// table to the Monitor's three-table schema.
package monitorstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "modernc.org/sqlite"

	"github.com/loykin/chiefmon/internal/wire"
)

// Backend is the persistence contract the Check Engine, Evaluator,
// Retention Sweeper, and ingest Router depend on. *Store (SQLite) is
// the default implementation; postgres.Store is the alternate backend
// for deployments that already run a shared PostgreSQL instance.
type Backend interface {
	InsertEvent(ctx context.Context, ev wire.TelemetryEvent, receivedAt time.Time) error
	LatestEventForJob(ctx context.Context, jobName string) (wire.TelemetryEvent, time.Time, bool, error)
	PruneEventsOlderThan(ctx context.Context, cutoff time.Time) (int64, error)

	EnsureCheck(ctx context.Context, jobName string, patch CheckConfigPatch) error
	GetCheckState(ctx context.Context, jobName string) (CheckState, bool, error)
	ListEnabledChecks(ctx context.Context) ([]CheckState, error)
	SetExpectedNextAt(ctx context.Context, jobName string, at time.Time) error
	RecordHeartbeat(ctx context.Context, jobName string, eventAt time.Time) error
	RecordFailure(ctx context.Context, jobName string, eventAt time.Time) error
	RecordSuccess(ctx context.Context, jobName string, eventAt time.Time) error
	SetStatus(ctx context.Context, jobName, status string) error

	OpenAlert(ctx context.Context, a Alert) (bool, error)
	CloseAlert(ctx context.Context, dedupeKey string) (bool, error)
	GetOpenAlertByDedupe(ctx context.Context, dedupeKey string) (Alert, bool, error)
	ListOpenAlerts(ctx context.Context, jobName string) ([]Alert, error)
	DistinctAlertJobNames(ctx context.Context) ([]string, error)

	Close() error
}

// Store is the Monitor's default persistence boundary: events, check
// state, and alerts, all behind one embedded SQLite database (spec.md
// §5 "single database, single-writer discipline").
type Store struct {
	db *sql.DB
}

var _ Backend = (*Store)(nil)

// Open opens a SQLite database at dsn (a filesystem path; ":memory:" is
// accepted for tests) and ensures its schema exists.
func Open(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("empty monitorstore dsn")
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if dsn == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	_, _ = db.Exec("PRAGMA busy_timeout=3000;")
	s := &Store{db: db}
	if err := s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS events(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			source_type TEXT NOT NULL,
			event_type TEXT NOT NULL,
			level TEXT NOT NULL,
			message TEXT NOT NULL,
			event_at TIMESTAMP NOT NULL,
			job_name TEXT,
			script_path TEXT,
			run_id TEXT,
			scheduled_for TIMESTAMP,
			success INTEGER,
			return_code INTEGER,
			duration_ms INTEGER,
			metadata TEXT NOT NULL DEFAULT '{}',
			received_at TIMESTAMP NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_job_name ON events(job_name);`,
		`CREATE INDEX IF NOT EXISTS idx_events_event_at ON events(event_at);`,
		`CREATE TABLE IF NOT EXISTS check_states(
			job_name TEXT PRIMARY KEY,
			enabled INTEGER NOT NULL DEFAULT 1,
			alert_on_failure INTEGER NOT NULL DEFAULT 1,
			alert_on_miss INTEGER NOT NULL DEFAULT 1,
			grace_seconds INTEGER NOT NULL DEFAULT 120,
			status TEXT NOT NULL DEFAULT 'UP',
			expected_next_at TIMESTAMP,
			last_heartbeat_at TIMESTAMP,
			last_success_at TIMESTAMP,
			last_failure_at TIMESTAMP,
			consecutive_failures INTEGER NOT NULL DEFAULT 0,
			updated_at TIMESTAMP NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS alerts(
			id TEXT PRIMARY KEY,
			job_name TEXT NOT NULL,
			alert_type TEXT NOT NULL,
			severity TEXT NOT NULL,
			status TEXT NOT NULL,
			opened_at TIMESTAMP NOT NULL,
			closed_at TIMESTAMP,
			dedupe_key TEXT NOT NULL,
			title TEXT NOT NULL,
			details TEXT NOT NULL DEFAULT '{}'
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_alerts_open_dedupe ON alerts(dedupe_key) WHERE status='OPEN';`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// InsertEvent persists a normalized event with its server-assigned
// receivedAt, per spec.md §4.6.
func (s *Store) InsertEvent(ctx context.Context, ev wire.TelemetryEvent, receivedAt time.Time) error {
	metaJSON, err := marshalMeta(ev.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO events(source_type, event_type, level, message, event_at,
			job_name, script_path, run_id, scheduled_for,
			success, return_code, duration_ms, metadata, received_at)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		string(ev.SourceType), ev.EventType, string(ev.Level), ev.Message, ev.EventAt,
		nullableStr(ev.JobName), nullableStr(ev.ScriptPath), nullableStr(ev.RunID), nullableTime(ev.ScheduledFor),
		nullableBool(ev.Success), nullableInt(ev.ReturnCode), nullableInt(ev.DurationMs), metaJSON, receivedAt,
	)
	return err
}

// LatestEventForJob returns the most recently received event for a job,
// resolving spec.md §9's latestEvent denormalization question as a
// read-time computation rather than a stored, duplicated field.
func (s *Store) LatestEventForJob(ctx context.Context, jobName string) (wire.TelemetryEvent, time.Time, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT source_type, event_type, level, message, event_at,
			job_name, script_path, run_id, scheduled_for,
			success, return_code, duration_ms, metadata, received_at
		FROM events WHERE job_name = ? ORDER BY received_at DESC LIMIT 1`, jobName)
	ev, receivedAt, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return wire.TelemetryEvent{}, time.Time{}, false, nil
	}
	if err != nil {
		return wire.TelemetryEvent{}, time.Time{}, false, err
	}
	return ev, receivedAt, true, nil
}

// PruneEventsOlderThan deletes events whose eventAt precedes cutoff,
// per the Retention Sweeper (spec.md §4.9). Returns the number removed.
func (s *Store) PruneEventsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE event_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
