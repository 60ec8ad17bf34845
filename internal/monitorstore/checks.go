package monitorstore

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// CheckState mirrors spec.md §3's per-job health record.
type CheckState struct {
	JobName             string
	Enabled             bool
	AlertOnFailure      bool
	AlertOnMiss         bool
	GraceSeconds        int
	Status              string
	ExpectedNextAt      *time.Time
	LastHeartbeatAt     *time.Time
	LastSuccessAt       *time.Time
	LastFailureAt       *time.Time
	ConsecutiveFailures int
	UpdatedAt           time.Time
}

// CheckConfigPatch carries the config fields an event's metadata may
// refresh (spec.md §4.7: "subsequent events refresh its config
// fields"). A nil field leaves the stored value untouched.
type CheckConfigPatch struct {
	Enabled        *bool
	GraceSeconds   *int
	AlertOnFailure *bool
	AlertOnMiss    *bool
}

// EnsureCheck upserts a job's check row: first sight creates it with
// status=UP and the given defaults; subsequent calls refresh only the
// non-nil patch fields.
func (s *Store) EnsureCheck(ctx context.Context, jobName string, patch CheckConfigPatch) error {
	now := time.Now().UTC()
	existing, found, err := s.GetCheckState(ctx, jobName)
	if err != nil {
		return err
	}
	if !found {
		cs := CheckState{
			JobName:        jobName,
			Enabled:        valOrTrue(patch.Enabled),
			AlertOnFailure: valOrTrue(patch.AlertOnFailure),
			AlertOnMiss:    valOrTrue(patch.AlertOnMiss),
			GraceSeconds:   valOrInt(patch.GraceSeconds, 120),
			Status:         "UP",
			UpdatedAt:      now,
		}
		return s.insertCheck(ctx, cs)
	}

	if patch.Enabled != nil {
		existing.Enabled = *patch.Enabled
	}
	if patch.GraceSeconds != nil {
		existing.GraceSeconds = *patch.GraceSeconds
	}
	if patch.AlertOnFailure != nil {
		existing.AlertOnFailure = *patch.AlertOnFailure
	}
	if patch.AlertOnMiss != nil {
		existing.AlertOnMiss = *patch.AlertOnMiss
	}
	existing.UpdatedAt = now
	return s.updateCheckConfig(ctx, existing)
}

func valOrTrue(b *bool) bool {
	if b == nil {
		return true
	}
	return *b
}

func valOrInt(i *int, def int) int {
	if i == nil {
		return def
	}
	return *i
}

func (s *Store) insertCheck(ctx context.Context, cs CheckState) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO check_states(job_name, enabled, alert_on_failure, alert_on_miss,
			grace_seconds, status, updated_at)
		VALUES(?,?,?,?,?,?,?)`,
		cs.JobName, boolToInt(cs.Enabled), boolToInt(cs.AlertOnFailure), boolToInt(cs.AlertOnMiss),
		cs.GraceSeconds, cs.Status, cs.UpdatedAt,
	)
	return err
}

func (s *Store) updateCheckConfig(ctx context.Context, cs CheckState) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE check_states SET enabled=?, alert_on_failure=?, alert_on_miss=?,
			grace_seconds=?, updated_at=? WHERE job_name=?`,
		boolToInt(cs.Enabled), boolToInt(cs.AlertOnFailure), boolToInt(cs.AlertOnMiss),
		cs.GraceSeconds, cs.UpdatedAt, cs.JobName,
	)
	return err
}

// SetExpectedNextAt implements the job.next_scheduled classification
// rule of spec.md §4.7.
func (s *Store) SetExpectedNextAt(ctx context.Context, jobName string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE check_states SET expected_next_at=?, updated_at=? WHERE job_name=?`,
		at, time.Now().UTC(), jobName)
	return err
}

// RecordHeartbeat applies the heartbeat-event rule: refresh
// lastHeartbeatAt and force status back to UP.
func (s *Store) RecordHeartbeat(ctx context.Context, jobName string, eventAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE check_states SET last_heartbeat_at=?, status='UP', updated_at=? WHERE job_name=?`,
		eventAt, time.Now().UTC(), jobName)
	return err
}

// RecordFailure increments consecutiveFailures and stamps lastFailureAt.
func (s *Store) RecordFailure(ctx context.Context, jobName string, eventAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE check_states SET consecutive_failures = consecutive_failures + 1,
			last_failure_at=?, updated_at=? WHERE job_name=?`,
		eventAt, time.Now().UTC(), jobName)
	return err
}

// RecordSuccess stamps lastSuccessAt and resets consecutiveFailures to 0.
func (s *Store) RecordSuccess(ctx context.Context, jobName string, eventAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE check_states SET last_success_at=?, consecutive_failures=0, updated_at=? WHERE job_name=?`,
		eventAt, time.Now().UTC(), jobName)
	return err
}

// SetStatus sets the check's status (UP/LATE/DOWN), used by the
// Evaluator's periodic sweep.
func (s *Store) SetStatus(ctx context.Context, jobName, status string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE check_states SET status=?, updated_at=? WHERE job_name=?`,
		status, time.Now().UTC(), jobName)
	return err
}

// GetCheckState returns a job's check row, or found=false if none exists.
func (s *Store) GetCheckState(ctx context.Context, jobName string) (CheckState, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT job_name, enabled, alert_on_failure, alert_on_miss, grace_seconds, status,
			expected_next_at, last_heartbeat_at, last_success_at, last_failure_at,
			consecutive_failures, updated_at
		FROM check_states WHERE job_name=?`, jobName)
	cs, err := scanCheckState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return CheckState{}, false, nil
	}
	if err != nil {
		return CheckState{}, false, err
	}
	return cs, true, nil
}

// ListEnabledChecks returns every check row with enabled=true and a
// non-null expected_next_at, the sweep set for the Evaluator.
func (s *Store) ListEnabledChecks(ctx context.Context) ([]CheckState, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT job_name, enabled, alert_on_failure, alert_on_miss, grace_seconds, status,
			expected_next_at, last_heartbeat_at, last_success_at, last_failure_at,
			consecutive_failures, updated_at
		FROM check_states WHERE enabled=1 AND expected_next_at IS NOT NULL`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []CheckState
	for rows.Next() {
		cs, err := scanCheckState(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cs)
	}
	return out, rows.Err()
}

func scanCheckState(row rowScanner) (CheckState, error) {
	var (
		cs                                                          CheckState
		enabled, alertOnFailure, alertOnMiss                        int
		expectedNextAt, lastHeartbeatAt, lastSuccessAt, lastFailureAt sql.NullTime
	)
	err := row.Scan(&cs.JobName, &enabled, &alertOnFailure, &alertOnMiss, &cs.GraceSeconds, &cs.Status,
		&expectedNextAt, &lastHeartbeatAt, &lastSuccessAt, &lastFailureAt,
		&cs.ConsecutiveFailures, &cs.UpdatedAt)
	if err != nil {
		return CheckState{}, err
	}
	cs.Enabled = enabled != 0
	cs.AlertOnFailure = alertOnFailure != 0
	cs.AlertOnMiss = alertOnMiss != 0
	if expectedNextAt.Valid {
		t := expectedNextAt.Time
		cs.ExpectedNextAt = &t
	}
	if lastHeartbeatAt.Valid {
		t := lastHeartbeatAt.Time
		cs.LastHeartbeatAt = &t
	}
	if lastSuccessAt.Valid {
		t := lastSuccessAt.Time
		cs.LastSuccessAt = &t
	}
	if lastFailureAt.Valid {
		t := lastFailureAt.Time
		cs.LastFailureAt = &t
	}
	return cs, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
