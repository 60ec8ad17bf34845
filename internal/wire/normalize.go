package wire

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// RawEvent is the shape an inbound event takes before normalization:
// fields arrive as loosely-typed JSON, exactly the "unstructured maps"
// spec.md §9 describes for the ingest boundary.
type RawEvent struct {
	SourceType   string         `json:"sourceType"`
	EventType    string         `json:"eventType"`
	Level        string         `json:"level"`
	Message      string         `json:"message"`
	EventAt      string         `json:"eventAt"`
	JobName      string         `json:"jobName"`
	ScriptPath   string         `json:"scriptPath"`
	RunID        string         `json:"runId"`
	ScheduledFor string         `json:"scheduledFor"`
	Success      *bool          `json:"success"`
	ReturnCode   *float64       `json:"returnCode"`
	DurationMs   *float64       `json:"durationMs"`
	Metadata     any            `json:"metadata"` // any JSON value; Normalize keeps only an object
}

var validSourceTypes = map[string]SourceType{
	"chief":   SourceChief,
	"worker":  SourceWorker,
	"monitor": SourceMonitor,
}

var validLevels = map[string]Level{
	"DEBUG":    LevelDebug,
	"INFO":     LevelInfo,
	"WARN":     LevelWarn,
	"ERROR":    LevelError,
	"CRITICAL": LevelCritical,
}

// Normalize implements the Monitor's normalization contract (spec.md
// §4.6): case-normalize enumerations, default eventAt to now, truncate
// numeric outcome fields, coerce a non-object metadata to {}, and drop
// the event (ok=false) when any required field is missing or outside its
// enumeration.
func Normalize(raw RawEvent, now time.Time) (TelemetryEvent, bool) {
	var ev TelemetryEvent

	st, ok := validSourceTypes[strings.ToLower(strings.TrimSpace(raw.SourceType))]
	if !ok {
		return ev, false
	}
	lvl, ok := validLevels[strings.ToUpper(strings.TrimSpace(raw.Level))]
	if !ok {
		return ev, false
	}
	eventType := strings.TrimSpace(raw.EventType)
	if eventType == "" {
		return ev, false
	}
	message := strings.TrimSpace(raw.Message)
	if message == "" {
		return ev, false
	}

	ev.SourceType = st
	ev.Level = lvl
	ev.EventType = eventType
	ev.Message = message
	ev.JobName = raw.JobName
	ev.ScriptPath = raw.ScriptPath
	ev.RunID = raw.RunID

	if raw.EventAt != "" {
		if t, err := time.Parse(time.RFC3339Nano, raw.EventAt); err == nil {
			ev.EventAt = t.UTC()
		} else if t, err := time.Parse(time.RFC3339, raw.EventAt); err == nil {
			ev.EventAt = t.UTC()
		}
	}
	if ev.EventAt.IsZero() {
		ev.EventAt = now.UTC()
	}

	if raw.ScheduledFor != "" {
		if t, err := time.Parse(time.RFC3339, raw.ScheduledFor); err == nil {
			tt := t.UTC()
			ev.ScheduledFor = &tt
		}
	}

	ev.Success = raw.Success
	if raw.ReturnCode != nil {
		ev.ReturnCode = IntPtr(int(*raw.ReturnCode))
	}
	if raw.DurationMs != nil {
		ev.DurationMs = IntPtr(int(*raw.DurationMs))
	}

	if m, ok := raw.Metadata.(map[string]any); ok && m != nil {
		ev.Metadata = m
	} else {
		ev.Metadata = map[string]any{}
	}

	if err := validate.Struct(ev); err != nil {
		return ev, false
	}

	return ev, true
}
