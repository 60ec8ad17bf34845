package monitorstore

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Alert mirrors spec.md §3's alert record.
type Alert struct {
	ID        string
	JobName   string
	AlertType string // FAILURE | MISSED | RECOVERY
	Severity  string
	Status    string // OPEN | CLOSED
	OpenedAt  time.Time
	ClosedAt  *time.Time
	DedupeKey string
	Title     string
	Details   map[string]any
}

// OpenAlert idempotently opens an alert: if an OPEN alert with the same
// dedupeKey already exists, it is a no-op (spec.md §4.7 "Alert opening
// is idempotent via dedupeKey + status=OPEN").
func (s *Store) OpenAlert(ctx context.Context, a Alert) (opened bool, err error) {
	_, found, err := s.GetOpenAlertByDedupe(ctx, a.DedupeKey)
	if err != nil {
		return false, err
	}
	if found {
		return false, nil
	}

	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.OpenedAt.IsZero() {
		a.OpenedAt = time.Now().UTC()
	}
	a.Status = "OPEN"

	details, err := marshalMeta(a.Details)
	if err != nil {
		return false, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO alerts(id, job_name, alert_type, severity, status, opened_at, dedupe_key, title, details)
		VALUES(?,?,?,?,?,?,?,?,?)`,
		a.ID, a.JobName, a.AlertType, a.Severity, a.Status, a.OpenedAt, a.DedupeKey, a.Title, details)
	if err != nil {
		// a concurrent writer may have inserted the same dedupe key between our
		// check and this insert; treat the unique-index violation as a no-op.
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// CloseAlert closes the OPEN alert (if any) with the given dedupeKey.
func (s *Store) CloseAlert(ctx context.Context, dedupeKey string) (closed bool, err error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE alerts SET status='CLOSED', closed_at=? WHERE dedupe_key=? AND status='OPEN'`,
		now, dedupeKey)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetOpenAlertByDedupe returns the OPEN alert for a dedupe key, if any.
func (s *Store) GetOpenAlertByDedupe(ctx context.Context, dedupeKey string) (Alert, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, job_name, alert_type, severity, status, opened_at, closed_at, dedupe_key, title, details
		FROM alerts WHERE dedupe_key=? AND status='OPEN'`, dedupeKey)
	a, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Alert{}, false, nil
	}
	if err != nil {
		return Alert{}, false, err
	}
	return a, true, nil
}

// ListOpenAlerts returns every currently OPEN alert for a job.
func (s *Store) ListOpenAlerts(ctx context.Context, jobName string) ([]Alert, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job_name, alert_type, severity, status, opened_at, closed_at, dedupe_key, title, details
		FROM alerts WHERE job_name=? AND status='OPEN'`, jobName)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// DistinctAlertJobNames returns every job name that currently has an
// OPEN alert, used by the Retention Sweeper to enumerate candidates for
// the RECOVERY TTL auto-close pass without scanning the whole table.
func (s *Store) DistinctAlertJobNames(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT job_name FROM alerts WHERE status='OPEN'`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

func scanAlert(row rowScanner) (Alert, error) {
	var (
		a         Alert
		closedAt  sql.NullTime
		detailsJS string
	)
	err := row.Scan(&a.ID, &a.JobName, &a.AlertType, &a.Severity, &a.Status, &a.OpenedAt, &closedAt, &a.DedupeKey, &a.Title, &detailsJS)
	if err != nil {
		return Alert{}, err
	}
	if closedAt.Valid {
		t := closedAt.Time
		a.ClosedAt = &t
	}
	a.Details = unmarshalMeta(detailsJS)
	return a, nil
}
