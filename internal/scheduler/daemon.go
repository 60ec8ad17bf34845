package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/loykin/chiefmon/internal/executor"
	"github.com/loykin/chiefmon/internal/metrics"
	"github.com/loykin/chiefmon/internal/wire"
)

// completionMsg is posted to the daemon's completion channel when a
// worker finishes running a job (spec.md §4.2 step 1).
type completionMsg struct {
	JobName string
	Outcome executor.Outcome
}

// Daemon is the main dispatch loop of spec.md §4.2: it owns the
// JobRuntime table, a FIFO trigger queue, and the active_job_name
// pointer enforcing global serialization across jobs.
type Daemon struct {
	sink            executor.EventSink
	pollInterval    time.Duration
	monitorEndpoint string
	monitorAPIKey   string

	mu            sync.Mutex
	runtimes      []*JobRuntime // preserves YAML declaration order
	byName        map[string]*JobRuntime
	triggerQueue  []TriggerEvent
	activeJobName string

	completionCh chan completionMsg
}

// NewDaemon constructs a Daemon over the compiled job table.
func NewDaemon(runtimes []*JobRuntime, sink executor.EventSink, pollInterval time.Duration, monitorEndpoint, monitorAPIKey string) *Daemon {
	if pollInterval <= 0 {
		pollInterval = 10 * time.Second
	}
	byName := make(map[string]*JobRuntime, len(runtimes))
	for _, jr := range runtimes {
		byName[jr.Spec.Name] = jr
	}
	return &Daemon{
		sink:            sink,
		pollInterval:    pollInterval,
		monitorEndpoint: monitorEndpoint,
		monitorAPIKey:   monitorAPIKey,
		runtimes:        runtimes,
		byName:          byName,
		completionCh:    make(chan completionMsg, 64),
	}
}

// Run drives the daemon loop until ctx is canceled. On cancellation it
// stops polling and returns once already-launched worker completions
// have been drained (the caller is responsible for awaiting any
// in-flight script timeouts before treating shutdown as complete).
func (d *Daemon) Run(ctx context.Context) {
	timer := time.NewTimer(d.pollInterval)
	defer timer.Stop()

	for {
		d.drainCompletions()
		d.raiseTriggers(time.Now())
		d.dispatchPass()

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(d.pollInterval)

		select {
		case <-ctx.Done():
			d.drainCompletions()
			return
		case <-timer.C:
		case msg := <-d.completionCh:
			d.handleCompletion(msg)
		}
	}
}

// drainCompletions processes any completion messages already queued
// without blocking.
func (d *Daemon) drainCompletions() {
	for {
		select {
		case msg := <-d.completionCh:
			d.handleCompletion(msg)
		default:
			return
		}
	}
}

func (d *Daemon) handleCompletion(msg completionMsg) {
	d.mu.Lock()
	jr, ok := d.byName[msg.JobName]
	if !ok {
		d.mu.Unlock()
		return
	}
	jr.RunningCount--
	if jr.RunningCount < 0 {
		jr.RunningCount = 0
	}
	if jr.RunningCount == 0 && !jr.QueuedPending {
		if d.activeJobName == msg.JobName {
			d.activeJobName = ""
		}
	}
	metrics.SetActiveJob(msg.JobName, jr.RunningCount > 0)
	d.mu.Unlock()

	outcome := "success"
	if !msg.Outcome.Success {
		outcome = "failure"
	}
	metrics.IncJobOutcome(msg.JobName, outcome)

	next, ok := seedNextFire(jr.Spec.Schedule, time.Now())
	d.mu.Lock()
	if ok {
		jr.NextFire = next
	}
	d.mu.Unlock()

	if ok {
		d.sink.Emit(wire.TelemetryEvent{
			SourceType: wire.SourceChief,
			EventType:  wire.EventJobNextScheduled,
			Level:      wire.LevelDebug,
			Message:    fmt.Sprintf("job %s next scheduled", msg.JobName),
			EventAt:    time.Now().UTC(),
			JobName:    msg.JobName,
			Metadata:   mergeMeta(jr.Spec.Check.Metadata(), map[string]any{"next_run_at": next.UTC().Format(time.RFC3339)}),
		})
	}
}

// raiseTriggers implements step 2: for each JobRuntime in declaration
// order, if its next fire instant has passed, queue a trigger and
// advance next_fire. Declaration order is what makes dispatch ordering
// deterministic across jobs sharing an instant.
func (d *Daemon) raiseTriggers(now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, jr := range d.runtimes {
		if jr.NextFire.IsZero() || now.Before(jr.NextFire) {
			continue
		}
		d.triggerQueue = append(d.triggerQueue, TriggerEvent{JobName: jr.Spec.Name, ScheduledFor: jr.NextFire})
		if next, ok := seedNextFire(jr.Spec.Schedule, jr.NextFire); ok {
			jr.NextFire = next
		} else {
			jr.NextFire = time.Time{}
		}
	}
}

// dispatchPass scans the trigger queue front-to-back, testing each
// trigger's dispatchability under its job's overlap policy (spec.md
// §4.2 step 3).
func (d *Daemon) dispatchPass() {
	d.mu.Lock()
	remaining := make([]TriggerEvent, 0, len(d.triggerQueue))
	var toDispatch []TriggerEvent
	reserved := make(map[string]bool)

	for _, trig := range d.triggerQueue {
		jr, ok := d.byName[trig.JobName]
		if !ok {
			continue
		}
		if d.activeJobName != "" && d.activeJobName != trig.JobName {
			remaining = append(remaining, trig)
			continue
		}

		switch jr.Spec.Overlap {
		case OverlapSkip:
			if jr.RunningCount == 0 {
				d.beginDispatch(jr, trig)
				toDispatch = append(toDispatch, trig)
			} else {
				metrics.IncTriggerSkipped(trig.JobName, string(OverlapSkip))
				d.sink.Emit(overlapSkippedEvent(trig))
			}
		case OverlapQueue:
			if jr.RunningCount == 0 {
				jr.QueuedPending = false
				d.beginDispatch(jr, trig)
				toDispatch = append(toDispatch, trig)
			} else if !jr.QueuedPending {
				jr.QueuedPending = true
				reserved[trig.JobName] = true
				metrics.IncTriggerQueued(trig.JobName)
				d.sink.Emit(queuedPendingEvent(trig))
				remaining = append(remaining, trig)
			} else if !reserved[trig.JobName] {
				// the trigger reserved on an earlier pass is the first one
				// for this job still in the queue: it keeps its place
				reserved[trig.JobName] = true
				remaining = append(remaining, trig)
			} else {
				// a third trigger while one is already reserved: drop it
				metrics.IncTriggerSkipped(trig.JobName, string(OverlapQueue))
			}
		case OverlapParallel:
			d.beginDispatch(jr, trig)
			toDispatch = append(toDispatch, trig)
		}
	}
	d.triggerQueue = remaining
	d.mu.Unlock()

	for _, trig := range toDispatch {
		d.launch(trig)
	}
}

// beginDispatch marks the bookkeeping state for a trigger about to be
// launched. Caller holds d.mu.
func (d *Daemon) beginDispatch(jr *JobRuntime, trig TriggerEvent) {
	jr.RunningCount++
	d.activeJobName = trig.JobName
	metrics.SetActiveJob(trig.JobName, true)
	metrics.IncTriggerDispatched(trig.JobName)
}

// launch starts the job executor on its own goroutine and emits
// daemon.dispatch.
func (d *Daemon) launch(trig TriggerEvent) {
	d.mu.Lock()
	jr := d.byName[trig.JobName]
	spec := jr.Spec
	d.mu.Unlock()

	d.sink.Emit(wire.TelemetryEvent{
		SourceType:   wire.SourceChief,
		EventType:    wire.EventDaemonDispatch,
		Level:        wire.LevelInfo,
		Message:      fmt.Sprintf("dispatching job %s", trig.JobName),
		EventAt:      time.Now().UTC(),
		JobName:      trig.JobName,
		ScheduledFor: timePtr(trig.ScheduledFor),
	})

	je := executor.JobExecution{
		JobName:         spec.Name,
		WorkingDir:      spec.WorkingDir,
		StopOnFailure:   spec.StopOnFailure,
		Scripts:         spec.Scripts,
		ScheduledFor:    trig.ScheduledFor,
		MonitorEndpoint: d.monitorEndpoint,
		MonitorAPIKey:   d.monitorAPIKey,
	}

	go func() {
		outcome := executor.Run(context.Background(), d.sink, je)
		d.completionCh <- completionMsg{JobName: trig.JobName, Outcome: outcome}
	}()
}

// JobSnapshot is a read-only view of one job's current runtime state,
// used by the debug introspection endpoint.
type JobSnapshot struct {
	Name          string    `json:"name"`
	Enabled       bool      `json:"enabled"`
	Overlap       string    `json:"overlap"`
	NextFire      time.Time `json:"nextFire"`
	RunningCount  int       `json:"runningCount"`
	QueuedPending bool      `json:"queuedPending"`
}

// Snapshot returns the current state of every job in declaration
// order.
func (d *Daemon) Snapshot() []JobSnapshot {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]JobSnapshot, 0, len(d.runtimes))
	for _, jr := range d.runtimes {
		out = append(out, JobSnapshot{
			Name:          jr.Spec.Name,
			Enabled:       true,
			Overlap:       string(jr.Spec.Overlap),
			NextFire:      jr.NextFire,
			RunningCount:  jr.RunningCount,
			QueuedPending: jr.QueuedPending,
		})
	}
	return out
}

// RunOnce runs a single job synchronously, bypassing the trigger queue
// entirely. Used by the `run` CLI command (spec.md §6).
func (d *Daemon) RunOnce(ctx context.Context, jobName string) (executor.Outcome, error) {
	d.mu.Lock()
	jr, ok := d.byName[jobName]
	d.mu.Unlock()
	if !ok {
		return executor.Outcome{}, fmt.Errorf("unknown job %q", jobName)
	}

	je := executor.JobExecution{
		JobName:         jr.Spec.Name,
		WorkingDir:      jr.Spec.WorkingDir,
		StopOnFailure:   jr.Spec.StopOnFailure,
		Scripts:         jr.Spec.Scripts,
		ScheduledFor:    time.Now().UTC(),
		MonitorEndpoint: d.monitorEndpoint,
		MonitorAPIKey:   d.monitorAPIKey,
	}
	return executor.Run(ctx, d.sink, je), nil
}

func overlapSkippedEvent(trig TriggerEvent) wire.TelemetryEvent {
	return wire.TelemetryEvent{
		SourceType:   wire.SourceChief,
		EventType:    wire.EventOverlapSkipped,
		Level:        wire.LevelWarn,
		Message:      fmt.Sprintf("trigger for job %s skipped: already running", trig.JobName),
		EventAt:      time.Now().UTC(),
		JobName:      trig.JobName,
		ScheduledFor: timePtr(trig.ScheduledFor),
	}
}

func queuedPendingEvent(trig TriggerEvent) wire.TelemetryEvent {
	return wire.TelemetryEvent{
		SourceType:   wire.SourceChief,
		EventType:    wire.EventQueuedPending,
		Level:        wire.LevelInfo,
		Message:      fmt.Sprintf("trigger for job %s queued pending current run", trig.JobName),
		EventAt:      time.Now().UTC(),
		JobName:      trig.JobName,
		ScheduledFor: timePtr(trig.ScheduledFor),
	}
}

func timePtr(t time.Time) *time.Time {
	u := t.UTC()
	return &u
}

func mergeMeta(maps ...map[string]any) map[string]any {
	out := map[string]any{}
	for _, m := range maps {
		for k, v := range m {
			out[k] = v
		}
	}
	return out
}
