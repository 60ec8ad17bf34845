// Package checkengine applies each accepted telemetry event to the
// Monitor's per-job check state and alert lifecycle (spec.md §4.7).
// Grounded directly on spec.md — the teacher has no check/alert concern
// of its own — but follows iLLeniumStudios-cronjob-guardian's shape of
// "one small pure function per event classification, store does the
// I/O," which is also why this package's tests use ginkgo/gomega to
// match that repo's suite style.
package checkengine

import (
	"context"
	"fmt"
	"time"

	"github.com/loykin/chiefmon/internal/metrics"
	"github.com/loykin/chiefmon/internal/monitorstore"
	"github.com/loykin/chiefmon/internal/wire"
)

// Engine applies accepted events to check state and alerts.
type Engine struct {
	store monitorstore.Backend
}

func New(store monitorstore.Backend) *Engine {
	return &Engine{store: store}
}

// Apply implements the classification rules of spec.md §4.7. Errors are
// returned for the caller to log and skip (spec.md §7: "Check-engine
// exceptions on one event are logged and skipped; the next event is
// processed").
func (e *Engine) Apply(ctx context.Context, ev wire.TelemetryEvent) error {
	if ev.JobName == "" {
		return nil
	}

	patch := patchFromMetadata(ev.Metadata)
	if err := e.store.EnsureCheck(ctx, ev.JobName, patch); err != nil {
		return fmt.Errorf("ensure check for %s: %w", ev.JobName, err)
	}

	cs, found, err := e.store.GetCheckState(ctx, ev.JobName)
	if err != nil {
		return fmt.Errorf("load check state for %s: %w", ev.JobName, err)
	}
	if !found {
		return nil
	}

	switch ev.EventType {
	case wire.EventJobNextScheduled:
		if at, ok := metadataTime(ev.Metadata, "next_run_at"); ok {
			if err := e.store.SetExpectedNextAt(ctx, ev.JobName, at); err != nil {
				return err
			}
		}
		return nil

	case wire.EventJobStarted, wire.EventJobCompleted, wire.EventJobFailed:
		if err := e.onHeartbeat(ctx, ev, cs); err != nil {
			return err
		}
	}

	if ev.EventType == wire.EventJobFailed || (ev.EventType == wire.EventJobCompleted && ev.Success != nil && !*ev.Success) {
		return e.onFailure(ctx, ev, cs)
	}
	if ev.EventType == wire.EventJobCompleted && ev.Success != nil && *ev.Success {
		return e.onSuccess(ctx, ev, cs)
	}
	return nil
}

// onHeartbeat implements: any of job.started/job.completed/job.failed is
// evidence the job executed, so it refreshes lastHeartbeatAt, forces
// status back to UP, and closes any OPEN MISSED alert (opening a
// RECOVERY in its place).
func (e *Engine) onHeartbeat(ctx context.Context, ev wire.TelemetryEvent, cs monitorstore.CheckState) error {
	if err := e.store.RecordHeartbeat(ctx, ev.JobName, ev.EventAt); err != nil {
		return err
	}
	metrics.SetCheckState(ev.JobName, "UP", true)
	metrics.SetCheckState(ev.JobName, "LATE", false)
	metrics.SetCheckState(ev.JobName, "DOWN", false)

	missedKey := dedupeMissed(ev.JobName)
	closed, err := e.store.CloseAlert(ctx, missedKey)
	if err != nil {
		return err
	}
	if closed && cs.AlertOnMiss {
		if _, err := e.store.OpenAlert(ctx, monitorstore.Alert{
			JobName:   ev.JobName,
			AlertType: "RECOVERY",
			Severity:  "INFO",
			DedupeKey: dedupeRecoveryMissed(ev.JobName),
			Title:     fmt.Sprintf("%s recovered from missed heartbeat", ev.JobName),
		}); err != nil {
			return err
		}
		metrics.IncAlertOpened(ev.JobName, "RECOVERY")
	}
	return nil
}

// onFailure implements the failure-classification rule.
func (e *Engine) onFailure(ctx context.Context, ev wire.TelemetryEvent, cs monitorstore.CheckState) error {
	if err := e.store.RecordFailure(ctx, ev.JobName, ev.EventAt); err != nil {
		return err
	}
	if !cs.AlertOnFailure {
		return nil
	}
	opened, err := e.store.OpenAlert(ctx, monitorstore.Alert{
		JobName:   ev.JobName,
		AlertType: "FAILURE",
		Severity:  "ERROR",
		DedupeKey: dedupeFailure(ev.JobName),
		Title:     fmt.Sprintf("%s failed", ev.JobName),
		Details:   ev.Metadata,
	})
	if err != nil {
		return err
	}
	if opened {
		metrics.IncAlertOpened(ev.JobName, "FAILURE")
	}
	return nil
}

// onSuccess implements the success-classification rule: reset the
// failure streak and, if a FAILURE alert was open, close it and open a
// RECOVERY in its place.
func (e *Engine) onSuccess(ctx context.Context, ev wire.TelemetryEvent, cs monitorstore.CheckState) error {
	if err := e.store.RecordSuccess(ctx, ev.JobName, ev.EventAt); err != nil {
		return err
	}
	if !cs.AlertOnFailure {
		return nil
	}
	closed, err := e.store.CloseAlert(ctx, dedupeFailure(ev.JobName))
	if err != nil {
		return err
	}
	if closed {
		metrics.IncAlertClosed(ev.JobName, "FAILURE")
		if _, err := e.store.OpenAlert(ctx, monitorstore.Alert{
			JobName:   ev.JobName,
			AlertType: "RECOVERY",
			Severity:  "INFO",
			DedupeKey: dedupeRecoveryFailure(ev.JobName),
			Title:     fmt.Sprintf("%s recovered from failure", ev.JobName),
		}); err != nil {
			return err
		}
		metrics.IncAlertOpened(ev.JobName, "RECOVERY")
	}
	return nil
}

func dedupeFailure(job string) string         { return job + ":FAILURE" }
func dedupeMissed(job string) string          { return job + ":MISSED" }
func dedupeRecoveryFailure(job string) string { return job + ":RECOVERY:FAILURE" }
func dedupeRecoveryMissed(job string) string  { return job + ":RECOVERY:MISSED" }

func patchFromMetadata(meta map[string]any) monitorstore.CheckConfigPatch {
	var patch monitorstore.CheckConfigPatch
	if v, ok := metadataBool(meta, "check_enabled"); ok {
		patch.Enabled = &v
	}
	if v, ok := metadataInt(meta, "grace_seconds"); ok {
		patch.GraceSeconds = &v
	}
	if v, ok := metadataBool(meta, "alert_on_failure"); ok {
		patch.AlertOnFailure = &v
	}
	if v, ok := metadataBool(meta, "alert_on_miss"); ok {
		patch.AlertOnMiss = &v
	}
	return patch
}

func metadataBool(meta map[string]any, key string) (bool, bool) {
	v, ok := meta[key]
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

func metadataInt(meta map[string]any, key string) (int, bool) {
	v, ok := meta[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	default:
		return 0, false
	}
}

func metadataTime(meta map[string]any, key string) (time.Time, bool) {
	v, ok := meta[key]
	if !ok {
		return time.Time{}, false
	}
	s, ok := v.(string)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
