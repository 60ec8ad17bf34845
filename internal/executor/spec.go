// Package executor runs one job's scripts sequentially on a worker,
// grounded on the teacher's internal/process package (command
// construction, process-group lifecycle) generalized from "keep a
// long-lived managed process alive" to "run a short script to
// completion and report its outcome."
package executor

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ScriptSpec is one compiled step of a job pipeline (spec.md §3).
// Immutable post-compile.
type ScriptSpec struct {
	Path           string
	Args           []string
	TimeoutSeconds int
}

// CompileScript resolves a script.path against the job's working_dir and
// determines its argument list, honoring the config's two forms: a
// verbatim args list, or a single shell string split with POSIX
// word-splitting rules. At most one of args/shell may be set; with
// neither, the script runs with no arguments.
func CompileScript(workingDir, path string, args []string, shell string, timeoutSeconds int) (ScriptSpec, error) {
	if strings.TrimSpace(path) == "" {
		return ScriptSpec{}, fmt.Errorf("script requires path")
	}
	if len(args) > 0 && strings.TrimSpace(shell) != "" {
		return ScriptSpec{}, fmt.Errorf("script %q: args and shell are mutually exclusive", path)
	}

	resolved := path
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(workingDir, resolved)
	}
	resolved = filepath.Clean(resolved)

	finalArgs := args
	if strings.TrimSpace(shell) != "" {
		words, err := SplitShellWords(shell)
		if err != nil {
			return ScriptSpec{}, fmt.Errorf("script %q: %w", path, err)
		}
		finalArgs = words
	}

	timeout := timeoutSeconds
	if timeout <= 0 {
		timeout = 3600
	}

	return ScriptSpec{Path: resolved, Args: finalArgs, TimeoutSeconds: timeout}, nil
}
