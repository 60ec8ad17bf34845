package monitorstore

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/loykin/chiefmon/internal/wire"
)

func marshalMeta(m map[string]any) (string, error) {
	if m == nil {
		m = map[string]any{}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalMeta(s string) map[string]any {
	if s == "" {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
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

// rowScanner abstracts *sql.Row and *sql.Rows for scanEvent.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (wire.TelemetryEvent, time.Time, error) {
	var (
		ev                                    wire.TelemetryEvent
		sourceType, level                     string
		jobName, scriptPath, runID            sql.NullString
		scheduledFor                          sql.NullTime
		success                               sql.NullBool
		returnCode, durationMs                sql.NullInt64
		metaJSON                              string
		receivedAt                            time.Time
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
