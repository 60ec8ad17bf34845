package logger

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default logging configuration constants
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

// Config describes logging destinations for a process.
// If StdoutPath/StderrPath are empty, and Dir is set, files will be
// Dir/<name>.stdout.log and Dir/<name>.stderr.log
// Rotation parameters follow lumberjack semantics.
type Config struct {
	Dir        string // base directory for logs
	StdoutPath string // explicit stdout path overrides Dir
	StderrPath string // explicit stderr path overrides Dir
	MaxSizeMB  int    // megabytes before rotation (default 10)
	MaxBackups int    // number of backups to keep (default 3)
	MaxAgeDays int    // days to keep (default 7)
	Compress   bool   // Gzip rotated files
}

// Writers returns io.WriteClosers for stdout and stderr for given process name.
// name may include instance suffix (e.g., web-1).
func (c Config) Writers(name string) (io.WriteCloser, io.WriteCloser, error) {
	stdout := c.StdoutPath
	stderr := c.StderrPath
	if stdout == "" && c.Dir != "" {
		stdout = filepath.Join(c.Dir, fmt.Sprintf("%s.stdout.log", name))
	}
	if stderr == "" && c.Dir != "" {
		stderr = filepath.Join(c.Dir, fmt.Sprintf("%s.stderr.log", name))
	}
	var outW io.WriteCloser
	var errW io.WriteCloser
	if stdout != "" {
		outW = &lj.Logger{
			Filename:   stdout,
			MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
			MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
			MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
			Compress:   c.Compress,
		}
	}
	if stderr != "" {
		errW = &lj.Logger{
			Filename:   stderr,
			MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
			MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
			MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
			Compress:   c.Compress,
		}
	}
	return outW, errW, nil
}

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// NewSlog builds the daemon-level structured logger: JSON to stdout,
// and additionally to a rotating lumberjack file when cfg names one.
// This is the Orchestrator's own process log, distinct from the
// per-job stdout/stderr capture Writers produces.
//
// color requests ColorTextHandler instead of JSON, for an operator
// running chiefd interactively in a terminal (--color). It is ignored
// once a log file is configured, since rotated files stay JSON for
// machine parsing.
func NewSlog(cfg Config, name string, color bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}

	if color && cfg.Dir == "" && cfg.StdoutPath == "" {
		handler := NewColorTextHandler(os.Stdout, opts, true)
		return slog.New(handler).With("component", name)
	}

	var w io.Writer = os.Stdout
	if cfg.Dir != "" || cfg.StdoutPath != "" {
		path := cfg.StdoutPath
		if path == "" {
			path = filepath.Join(cfg.Dir, fmt.Sprintf("%s.log", name))
		}
		w = io.MultiWriter(os.Stdout, &lj.Logger{
			Filename:   path,
			MaxSize:    valOr(cfg.MaxSizeMB, DefaultMaxSizeMB),
			MaxBackups: valOr(cfg.MaxBackups, DefaultMaxBackups),
			MaxAge:     valOr(cfg.MaxAgeDays, DefaultMaxAgeDays),
			Compress:   cfg.Compress,
		})
	}
	handler := slog.NewJSONHandler(w, opts)
	return slog.New(handler).With("component", name)
}

// TailCapture is an io.Writer that retains only the last maxBytes written
// to it, dropping from the front as new data arrives. The executor wraps
// a script's stdout/stderr in one of these to produce the bounded output
// tail embedded in script.completed telemetry metadata, without holding
// the whole (possibly large) output in memory.
type TailCapture struct {
	maxBytes int

	mu  sync.Mutex
	buf bytes.Buffer
}

// NewTailCapture returns a TailCapture retaining at most maxBytes of the
// most recently written data.
func NewTailCapture(maxBytes int) *TailCapture {
	if maxBytes <= 0 {
		maxBytes = 4096
	}
	return &TailCapture{maxBytes: maxBytes}
}

func (t *TailCapture) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf.Write(p)
	if over := t.buf.Len() - t.maxBytes; over > 0 {
		t.buf.Next(over)
	}
	return len(p), nil
}

// String returns the retained tail as-is (no trailing-newline trimming).
func (t *TailCapture) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.String()
}
