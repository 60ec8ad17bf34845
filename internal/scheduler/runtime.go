// Package scheduler owns the daemon scheduler of spec.md §4.2: the
// compiled JobRuntime table, the FIFO trigger queue, and the
// overlap-policy dispatch logic that enforces global serialization
// across jobs. It is grounded on the teacher's internal/cron +
// internal/manager packages, generalized from "one @every-scheduled
// process, auto-restarted on exit" to "many independently-scheduled
// multi-script jobs with configurable overlap discipline."
package scheduler

import (
	"time"

	"github.com/loykin/chiefmon/internal/config"
	"github.com/loykin/chiefmon/internal/executor"
	"github.com/loykin/chiefmon/internal/schedule"
)

// Overlap is a job's overlap policy (spec.md §3/§4.2).
type Overlap string

const (
	OverlapSkip     Overlap = "skip"
	OverlapQueue    Overlap = "queue"
	OverlapParallel Overlap = "parallel"
)

// CheckConfig is the per-job Monitor check configuration the
// Orchestrator injects into telemetry metadata (spec.md §4.7).
type CheckConfig struct {
	CheckEnabled   bool
	GraceSeconds   int
	AlertOnFailure bool
	AlertOnMiss    bool
}

// Metadata renders the check config as event metadata fields.
func (c CheckConfig) Metadata() map[string]any {
	return map[string]any{
		"check_enabled":    c.CheckEnabled,
		"grace_seconds":    c.GraceSeconds,
		"alert_on_failure": c.AlertOnFailure,
		"alert_on_miss":    c.AlertOnMiss,
	}
}

// JobSpec is one compiled, dispatch-ready job definition.
type JobSpec struct {
	Name          string
	Enabled       bool
	WorkingDir    string
	StopOnFailure bool
	Overlap       Overlap
	Schedule      *schedule.CompiledSchedule
	Scripts       []executor.ScriptSpec
	Check         CheckConfig
}

// JobRuntime is the mutable dispatch state paired with a compiled
// JobSpec (spec.md §3).
type JobRuntime struct {
	Spec JobSpec

	NextFire      time.Time
	RunningCount  int
	QueuedPending bool
}

// TriggerEvent is a concrete firing instant queued for dispatch
// (spec.md §4.2 step 2).
type TriggerEvent struct {
	JobName      string
	ScheduledFor time.Time
}

// seedNextFire implements the "no catch-up" rule: at startup (or
// whenever a job's queue needs re-priming), next_fire is always the
// first future instant, never a past-due one.
func seedNextFire(cs *schedule.CompiledSchedule, now time.Time) (time.Time, bool) {
	return cs.NextRunAfter(now)
}

// defaultCheckConfig applies spec.md §4.7's stated defaults.
func defaultCheckConfig() CheckConfig {
	return CheckConfig{
		CheckEnabled:   true,
		GraceSeconds:   config.DefaultGraceSeconds,
		AlertOnFailure: true,
		AlertOnMiss:    true,
	}
}
