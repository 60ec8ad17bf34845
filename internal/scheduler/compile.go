package scheduler

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/loykin/chiefmon/internal/config"
	"github.com/loykin/chiefmon/internal/executor"
	"github.com/loykin/chiefmon/internal/schedule"
)

// CompileJobs validates the parsed config and produces dispatch-ready
// JobRuntime values, per the Config Compiler contract of spec.md §4.1.
// It fails fast with a *config.ConfigError naming the offending job and
// field.
func CompileJobs(cfg *config.OrchestratorConfig, now time.Time) ([]*JobRuntime, error) {
	seen := make(map[string]struct{}, len(cfg.Jobs))
	out := make([]*JobRuntime, 0, len(cfg.Jobs))

	for _, jc := range cfg.Jobs {
		if jc.Name == "" {
			return nil, &config.ConfigError{Field: "name", Err: fmt.Errorf("required")}
		}
		if _, dup := seen[jc.Name]; dup {
			return nil, &config.ConfigError{Job: jc.Name, Field: "name", Err: fmt.Errorf("duplicate job name")}
		}
		seen[jc.Name] = struct{}{}

		spec, err := compileJob(jc)
		if err != nil {
			return nil, err
		}
		if !spec.Enabled {
			continue
		}

		jr := &JobRuntime{Spec: spec}
		next, ok := seedNextFire(spec.Schedule, now)
		if ok {
			jr.NextFire = next
		}
		out = append(out, jr)
	}

	return out, nil
}

func compileJob(jc config.JobConfig) (JobSpec, error) {
	info, err := os.Stat(jc.WorkingDir)
	if err != nil || !info.IsDir() {
		return JobSpec{}, &config.ConfigError{Job: jc.Name, Field: "working_dir", Err: fmt.Errorf("must exist and be a directory: %s", jc.WorkingDir)}
	}
	absWorkingDir, err := filepath.Abs(jc.WorkingDir)
	if err != nil {
		return JobSpec{}, &config.ConfigError{Job: jc.Name, Field: "working_dir", Err: err}
	}

	overlap := Overlap(jc.Overlap)
	switch overlap {
	case OverlapSkip, OverlapQueue, OverlapParallel:
	default:
		return JobSpec{}, &config.ConfigError{Job: jc.Name, Field: "overlap", Err: fmt.Errorf("must be one of skip, queue, parallel, got %q", jc.Overlap)}
	}

	if len(jc.Scripts) == 0 {
		return JobSpec{}, &config.ConfigError{Job: jc.Name, Field: "scripts", Err: fmt.Errorf("must be non-empty")}
	}

	scriptSpecs := make([]executor.ScriptSpec, 0, len(jc.Scripts))
	for i, sc := range jc.Scripts {
		ss, err := executor.CompileScript(absWorkingDir, sc.Path, sc.Args, sc.Shell, sc.TimeoutS)
		if err != nil {
			return JobSpec{}, &config.ConfigError{Job: jc.Name, Field: fmt.Sprintf("scripts[%d]", i), Err: err}
		}
		if _, statErr := os.Stat(ss.Path); statErr != nil {
			return JobSpec{}, &config.ConfigError{Job: jc.Name, Field: fmt.Sprintf("scripts[%d].path", i), Err: fmt.Errorf("does not exist: %s", ss.Path)}
		}
		scriptSpecs = append(scriptSpecs, ss)
	}

	scheduleSpec, err := config.DecodeScheduleSpec[schedule.Spec](jc.Schedule)
	if err != nil {
		return JobSpec{}, &config.ConfigError{Job: jc.Name, Field: "schedule", Err: err}
	}
	compiled, err := schedule.Compile(scheduleSpec)
	if err != nil {
		return JobSpec{}, &config.ConfigError{Job: jc.Name, Field: "schedule", Err: err}
	}

	enabled := true
	if jc.Enabled != nil {
		enabled = *jc.Enabled
	}

	check := defaultCheckConfig()
	if jc.Monitor != nil {
		if jc.Monitor.CheckEnabled != nil {
			check.CheckEnabled = *jc.Monitor.CheckEnabled
		}
		if jc.Monitor.GraceSeconds > 0 {
			check.GraceSeconds = jc.Monitor.GraceSeconds
		}
		if jc.Monitor.AlertOnFailure != nil {
			check.AlertOnFailure = *jc.Monitor.AlertOnFailure
		}
		if jc.Monitor.AlertOnMiss != nil {
			check.AlertOnMiss = *jc.Monitor.AlertOnMiss
		}
	}

	return JobSpec{
		Name:          jc.Name,
		Enabled:       enabled,
		WorkingDir:    absWorkingDir,
		StopOnFailure: jc.StopOnFailure,
		Overlap:       overlap,
		Schedule:      compiled,
		Scripts:       scriptSpecs,
		Check:         check,
	}, nil
}
