package executor

import (
	"context"
	"fmt"
	"os/exec"
	"syscall"
	"time"

	"github.com/loykin/chiefmon/internal/logger"
	"github.com/loykin/chiefmon/internal/wire"
)

// EventSink is the narrow interface the executor needs from the
// Telemetry Emitter: a non-blocking, never-erroring emit. Kept as an
// interface (rather than importing internal/telemetry directly) so the
// two packages don't couple into each other's internals.
type EventSink interface {
	Emit(wire.TelemetryEvent)
}

// JobExecution is everything the executor needs to run one dispatched
// trigger for one job.
type JobExecution struct {
	JobName         string
	WorkingDir      string
	StopOnFailure   bool
	Scripts         []ScriptSpec
	ScheduledFor    time.Time
	ExtraEnv        []string
	MonitorEndpoint string
	MonitorAPIKey   string
}

// Outcome is the executor's summary of one job run, consumed by the
// scheduler's completion channel.
type Outcome struct {
	RunID   string
	Success bool
}

const killGrace = 5 * time.Second

// tailBytes bounds how much of a script's captured stdout/stderr is
// retained for script.completed metadata (spec.md §4.3 step 4).
const tailBytes = 4096

// Run executes a job's scripts sequentially, honoring stop_on_failure,
// and emits the full lifecycle telemetry of spec.md §4.3. It never
// returns an error: all failures are normalized into emitted events and
// the returned Outcome.
func Run(ctx context.Context, sink EventSink, je JobExecution) Outcome {
	now := time.Now().UTC()
	runID := wire.NewRunID(je.JobName, now)
	scheduledFor := je.ScheduledFor.UTC()

	sink.Emit(wire.TelemetryEvent{
		SourceType:   wire.SourceChief,
		EventType:    wire.EventJobStarted,
		Level:        wire.LevelInfo,
		Message:      fmt.Sprintf("job %s started", je.JobName),
		EventAt:      now,
		JobName:      je.JobName,
		RunID:        runID,
		ScheduledFor: &scheduledFor,
	})

	allSucceeded := true
	for _, script := range je.Scripts {
		ok := runScript(ctx, sink, je, runID, script)
		if !ok {
			allSucceeded = false
			if je.StopOnFailure {
				break
			}
		}
	}

	completedAt := time.Now().UTC()
	if allSucceeded {
		sink.Emit(wire.TelemetryEvent{
			SourceType: wire.SourceChief,
			EventType:  wire.EventJobCompleted,
			Level:      wire.LevelInfo,
			Message:    fmt.Sprintf("job %s completed", je.JobName),
			EventAt:    completedAt,
			JobName:    je.JobName,
			RunID:      runID,
			Success:    wire.BoolPtr(true),
		})
	} else {
		sink.Emit(wire.TelemetryEvent{
			SourceType: wire.SourceChief,
			EventType:  wire.EventJobFailed,
			Level:      wire.LevelError,
			Message:    fmt.Sprintf("job %s failed", je.JobName),
			EventAt:    completedAt,
			JobName:    je.JobName,
			RunID:      runID,
			Success:    wire.BoolPtr(false),
		})
	}

	return Outcome{RunID: runID, Success: allSucceeded}
}

// runScript runs a single script to completion and reports whether it
// succeeded.
func runScript(ctx context.Context, sink EventSink, je JobExecution, runID string, script ScriptSpec) bool {
	startedAt := time.Now().UTC()
	sink.Emit(wire.TelemetryEvent{
		SourceType: wire.SourceChief,
		EventType:  wire.EventScriptStarted,
		Level:      wire.LevelInfo,
		Message:    fmt.Sprintf("script %s started", script.Path),
		EventAt:    startedAt,
		JobName:    je.JobName,
		ScriptPath: script.Path,
		RunID:      runID,
	})

	returnCode, spawnErr, stdoutTail, stderrTail := execScript(ctx, je, runID, script)
	duration := time.Since(startedAt)
	success := returnCode == 0

	msg := "script completed"
	level := wire.LevelInfo
	if !success {
		msg = "script failed"
		level = wire.LevelError
	}

	meta := map[string]any{
		"stdoutTail": stdoutTail,
		"stderrTail": stderrTail,
	}
	if spawnErr != nil {
		meta["spawnError"] = spawnErr.Error()
	}

	sink.Emit(wire.TelemetryEvent{
		SourceType: wire.SourceChief,
		EventType:  wire.EventScriptCompleted,
		Level:      level,
		Message:    msg,
		EventAt:    time.Now().UTC(),
		JobName:    je.JobName,
		ScriptPath: script.Path,
		RunID:      runID,
		Success:    wire.BoolPtr(success),
		ReturnCode: wire.IntPtr(returnCode),
		DurationMs: wire.IntPtr(int(duration.Milliseconds())),
		Metadata:   meta,
	})

	return success
}

// execScript spawns the script's process, applies its timeout, and
// normalizes its outcome per spec.md §4.3 step 3: timeout -> -1, spawn
// failure -> -2, otherwise the real exit code.
func execScript(ctx context.Context, je JobExecution, runID string, script ScriptSpec) (returnCode int, spawnErr error, stdoutTail, stderrTail string) {
	// #nosec G204 -- script.Path is operator-configured, resolved at compile time
	cmd := exec.Command(script.Path, script.Args...)
	cmd.Dir = je.WorkingDir
	cmd.Env = buildEnv(je, runID, script)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	outCap := logger.NewTailCapture(tailBytes)
	errCap := logger.NewTailCapture(tailBytes)
	cmd.Stdout = outCap
	cmd.Stderr = errCap

	if err := cmd.Start(); err != nil {
		return -2, err, "", ""
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	timeout := time.Duration(script.TimeoutSeconds) * time.Second
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var waitErr error
	timedOut := false
	select {
	case waitErr = <-done:
	case <-timer.C:
		timedOut = true
		waitErr = killProcessGroup(cmd, done)
	case <-ctx.Done():
		waitErr = killProcessGroup(cmd, done)
	}

	stdoutTail = outCap.String()
	stderrTail = errCap.String()

	if timedOut {
		return -1, fmt.Errorf("script timed out after %s", timeout), stdoutTail, stderrTail
	}
	if waitErr == nil {
		return 0, nil, stdoutTail, stderrTail
	}
	if exitErr, ok := waitErr.(*exec.ExitError); ok {
		return exitErr.ExitCode(), nil, stdoutTail, stderrTail
	}
	return -2, waitErr, stdoutTail, stderrTail
}

// killProcessGroup sends SIGTERM to the script's process group and
// escalates to SIGKILL if it hasn't exited within killGrace, mirroring
// the teacher's manager.Stop select-on-Wait-vs-After timeout-kill
// pattern. It blocks until the process has actually exited.
func killProcessGroup(cmd *exec.Cmd, done <-chan error) error {
	if cmd.Process == nil {
		return <-done
	}
	pid := cmd.Process.Pid
	_ = syscall.Kill(-pid, syscall.SIGTERM)

	select {
	case err := <-done:
		return err
	case <-time.After(killGrace):
		_ = syscall.Kill(-pid, syscall.SIGKILL)
		return <-done
	}
}

func buildEnv(je JobExecution, runID string, script ScriptSpec) []string {
	env := append([]string(nil), je.ExtraEnv...)
	env = append(env,
		"CHIEF_RUN_ID="+runID,
		"CHIEF_JOB_NAME="+je.JobName,
		"CHIEF_SCRIPT_PATH="+script.Path,
		"CHIEF_SCHEDULED_FOR="+je.ScheduledFor.UTC().Format(time.RFC3339),
	)
	if je.MonitorEndpoint != "" {
		env = append(env, "CHIEF_MONITOR_ENDPOINT="+je.MonitorEndpoint)
		if je.MonitorAPIKey != "" {
			env = append(env, "CHIEF_MONITOR_API_KEY="+je.MonitorAPIKey)
		}
	}
	return env
}
