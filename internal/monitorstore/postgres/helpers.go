package postgres

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/loykin/chiefmon/internal/monitorstore"
	"github.com/loykin/chiefmon/internal/wire"
)

func newAlertID() string { return uuid.NewString() }

func marshalMeta(m map[string]any) ([]byte, error) {
	if m == nil {
		m = map[string]any{}
	}
	return json.Marshal(m)
}

func unmarshalMeta(b []byte) map[string]any {
	if len(b) == 0 {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return map[string]any{}
	}
	return m
}

func nullableStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullableTime(t *time.Time) sql.NullTime {
	if t == nil || t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullableBool(b *bool) sql.NullBool {
	if b == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *b, Valid: true}
}

func nullableInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (wire.TelemetryEvent, time.Time, error) {
	var (
		ev                          wire.TelemetryEvent
		sourceType, level           string
		jobName, scriptPath, runID  sql.NullString
		scheduledFor                sql.NullTime
		success                     sql.NullBool
		returnCode, durationMs      sql.NullInt64
		metaJSON                    []byte
		receivedAt                  time.Time
	)
	err := row.Scan(&sourceType, &ev.EventType, &level, &ev.Message, &ev.EventAt,
		&jobName, &scriptPath, &runID, &scheduledFor,
		&success, &returnCode, &durationMs, &metaJSON, &receivedAt)
	if err != nil {
		return wire.TelemetryEvent{}, time.Time{}, err
	}

	ev.SourceType = wire.SourceType(sourceType)
	ev.Level = wire.Level(level)
	ev.JobName = jobName.String
	ev.ScriptPath = scriptPath.String
	ev.RunID = runID.String
	if scheduledFor.Valid {
		t := scheduledFor.Time
		ev.ScheduledFor = &t
	}
	if success.Valid {
		ev.Success = wire.BoolPtr(success.Bool)
	}
	if returnCode.Valid {
		ev.ReturnCode = wire.IntPtr(int(returnCode.Int64))
	}
	if durationMs.Valid {
		ev.DurationMs = wire.IntPtr(int(durationMs.Int64))
	}
	ev.Metadata = unmarshalMeta(metaJSON)

	return ev, receivedAt, nil
}

func scanCheckState(row rowScanner) (monitorstore.CheckState, error) {
	var (
		cs                                                           monitorstore.CheckState
		expectedNextAt, lastHeartbeatAt, lastSuccessAt, lastFailureAt sql.NullTime
	)
	err := row.Scan(&cs.JobName, &cs.Enabled, &cs.AlertOnFailure, &cs.AlertOnMiss, &cs.GraceSeconds, &cs.Status,
		&expectedNextAt, &lastHeartbeatAt, &lastSuccessAt, &lastFailureAt,
		&cs.ConsecutiveFailures, &cs.UpdatedAt)
	if err != nil {
		return monitorstore.CheckState{}, err
	}
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

func scanAlert(row rowScanner) (monitorstore.Alert, error) {
	var (
		a         monitorstore.Alert
		closedAt  sql.NullTime
		detailsJS []byte
	)
	err := row.Scan(&a.ID, &a.JobName, &a.AlertType, &a.Severity, &a.Status, &a.OpenedAt, &closedAt, &a.DedupeKey, &a.Title, &detailsJS)
	if err != nil {
		return monitorstore.Alert{}, err
	}
	if closedAt.Valid {
		t := closedAt.Time
		a.ClosedAt = &t
	}
	a.Details = unmarshalMeta(detailsJS)
	return a, nil
}
