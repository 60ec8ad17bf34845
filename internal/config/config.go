// Package config loads the operator-facing YAML for both chiefd (the
// Orchestrator) and monitord (the Monitor) through spf13/viper, decoding
// the parsed tree into typed Go structs with go-viper/mapstructure/v2 —
// the same decodeTo[T] shape the teacher's own config package used for
// its discriminated-union process/cronjob entries.
package config

import (
	"fmt"
	"os"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/loykin/chiefmon/internal/logger"
)

// ConfigError pinpoints the offending job/field, per spec §7: the
// Compiler never surfaces a bare fmt.Errorf for a validation failure.
type ConfigError struct {
	Job   string
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	if e.Job != "" {
		return fmt.Sprintf("config: job %q, field %s: %v", e.Job, e.Field, e.Err)
	}
	return fmt.Sprintf("config: field %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// ScriptConfig is one step of a job pipeline (spec.md §3 ScriptSpec).
type ScriptConfig struct {
	Path      string   `mapstructure:"path"`
	Args      []string `mapstructure:"args"`
	Shell     string   `mapstructure:"shell"` // alternative to Args: a single shell-word string
	TimeoutS  int      `mapstructure:"timeout_seconds"`
}

// MonitorJobConfig carries the per-job check settings the Monitor derives
// from telemetry metadata (spec.md §4.7); set here so the Orchestrator can
// inject them into the metadata of each job.next_scheduled event it emits.
type MonitorJobConfig struct {
	CheckEnabled   *bool `mapstructure:"check_enabled"`
	GraceSeconds   int   `mapstructure:"grace_seconds"`
	AlertOnFailure *bool `mapstructure:"alert_on_failure"`
	AlertOnMiss    *bool `mapstructure:"alert_on_miss"`
}

// JobConfig is the raw, as-written job entry. Unknown keys are rejected
// by parseConfigFile's ErrorUnused decoder rather than captured here,
// per spec.md's "no unknown keys anywhere" requirement.
type JobConfig struct {
	Name          string            `mapstructure:"name"`
	Enabled       *bool             `mapstructure:"enabled"`
	WorkingDir    string            `mapstructure:"working_dir"`
	StopOnFailure bool              `mapstructure:"stop_on_failure"`
	Overlap       string            `mapstructure:"overlap"`
	Schedule      map[string]any    `mapstructure:"schedule"`
	Scripts       []ScriptConfig    `mapstructure:"scripts"`
	Monitor       *MonitorJobConfig `mapstructure:"monitor"`
}

// TelemetryConfig configures the Orchestrator's Emitter (spec.md §4.4).
type TelemetryConfig struct {
	Endpoint       string `mapstructure:"endpoint"`
	APIKey         string `mapstructure:"api_key"`
	MaxEvents      int    `mapstructure:"max_events"`
	FlushIntervalMs int   `mapstructure:"flush_interval_ms"`
	BatchSize      int    `mapstructure:"batch_size"`
	TimeoutMs      int    `mapstructure:"timeout_ms"`
	SpoolFile      string `mapstructure:"spool_file"`
	RateLimitPerSec float64 `mapstructure:"rate_limit_per_sec"`
}

// LogConfig mirrors the teacher's logger.Config shape, mapstructure-tagged.
type LogConfig struct {
	Dir        string `mapstructure:"dir"`
	Stdout     string `mapstructure:"stdout"`
	Stderr     string `mapstructure:"stderr"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

func (l *LogConfig) toLoggerConfig() logger.Config {
	if l == nil {
		return logger.Config{}
	}
	return logger.Config{
		Dir:        l.Dir,
		StdoutPath: l.Stdout,
		StderrPath: l.Stderr,
		MaxSizeMB:  l.MaxSizeMB,
		MaxBackups: l.MaxBackups,
		MaxAgeDays: l.MaxAgeDays,
		Compress:   l.Compress,
	}
}

// OrchestratorConfig is the root of chief.yaml.
type OrchestratorConfig struct {
	Version          string          `mapstructure:"version"`
	Jobs             []JobConfig     `mapstructure:"jobs"`
	Telemetry        TelemetryConfig `mapstructure:"telemetry"`
	HeartbeatSeconds int             `mapstructure:"heartbeat_seconds"`
	PollSeconds      int             `mapstructure:"poll_seconds"`
	DebugListen      string          `mapstructure:"debug_listen"`
	MetricsListen    string          `mapstructure:"metrics_listen"`
	Log              *LogConfig      `mapstructure:"log"`

	configPath string
}

// LoggerConfig returns the logging config in internal/logger's shape.
func (c *OrchestratorConfig) LoggerConfig() logger.Config { return c.Log.toLoggerConfig() }

// LoggerConfig returns the logging config in internal/logger's shape.
func (c *MonitorConfig) LoggerConfig() logger.Config { return c.Log.toLoggerConfig() }

// MonitorConfig is the root of monitor.yaml.
type MonitorConfig struct {
	Listen                   string     `mapstructure:"listen"`
	StoreDSN                 string     `mapstructure:"store_dsn"`
	ArchiveDSN               string     `mapstructure:"archive_dsn"`
	APIKey                   string     `mapstructure:"api_key"`
	RetentionDays            int        `mapstructure:"retention_days"`
	EvaluatorIntervalSeconds int        `mapstructure:"evaluator_interval_seconds"`
	RetentionIntervalSeconds int        `mapstructure:"retention_interval_seconds"`
	RecoveryTTLSeconds       int        `mapstructure:"recovery_ttl_seconds"`
	MetricsListen            string     `mapstructure:"metrics_listen"`
	Log                      *LogConfig `mapstructure:"log"`
}

// Defaults applied when the operator leaves a field zero.
const (
	DefaultHeartbeatSeconds         = 15
	DefaultPollSeconds              = 10
	DefaultBufferMaxEvents          = 1000
	DefaultFlushIntervalMs          = 2000
	DefaultBatchSize                = 50
	DefaultTimeoutMs                = 5000
	DefaultScriptTimeoutSeconds     = 3600
	DefaultEvaluatorIntervalSeconds = 15
	DefaultRetentionIntervalSeconds = 3600
	DefaultRetentionDays            = 30
	DefaultGraceSeconds             = 120
	DefaultRecoveryTTLSeconds       = 900
)

// decodeTo decodes a map[string]any into a target type using mapstructure,
// mirroring the teacher's own generic helper. ErrorUnused rejects any key
// that doesn't map onto the target's fields instead of silently dropping it.
func decodeTo[T any](m map[string]any) (T, error) {
	var out T
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           &out,
	})
	if err != nil {
		return out, err
	}
	if err := dec.Decode(m); err != nil {
		return out, err
	}
	return out, nil
}

// DecodeScheduleSpec decodes a job's raw schedule map into a typed value.
// Exposed so internal/scheduler's compiler doesn't need to know about
// mapstructure directly.
func DecodeScheduleSpec[T any](m map[string]any) (T, error) {
	return decodeTo[T](m)
}

// parseConfigFile decodes path into out, rejecting any key that doesn't
// map onto out's mapstructure-tagged fields: unknown keys are a config
// error, never a silently-ignored warning (spec.md's "no unknown keys
// anywhere" requirement).
func parseConfigFile(path string, out any) error {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := v.Unmarshal(out, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.WeaklyTypedInput = true
		dc.ErrorUnused = true
	}); err != nil {
		return fmt.Errorf("decode config %s: %w", path, err)
	}
	return nil
}

// LoadOrchestratorConfig reads and decodes chief.yaml.
func LoadOrchestratorConfig(path string) (*OrchestratorConfig, error) {
	cfg := &OrchestratorConfig{configPath: path}
	if err := parseConfigFile(path, cfg); err != nil {
		return nil, &ConfigError{Field: "file", Err: err}
	}
	if cfg.Version == "" {
		return nil, &ConfigError{Field: "version", Err: fmt.Errorf("required")}
	}
	if len(cfg.Jobs) == 0 {
		return nil, &ConfigError{Field: "jobs", Err: fmt.Errorf("must be non-empty")}
	}
	if cfg.HeartbeatSeconds <= 0 {
		cfg.HeartbeatSeconds = DefaultHeartbeatSeconds
	}
	if cfg.PollSeconds <= 0 {
		cfg.PollSeconds = DefaultPollSeconds
	}
	if cfg.Telemetry.MaxEvents <= 0 {
		cfg.Telemetry.MaxEvents = DefaultBufferMaxEvents
	}
	if cfg.Telemetry.FlushIntervalMs <= 0 {
		cfg.Telemetry.FlushIntervalMs = DefaultFlushIntervalMs
	}
	if cfg.Telemetry.BatchSize <= 0 {
		cfg.Telemetry.BatchSize = DefaultBatchSize
	}
	if cfg.Telemetry.TimeoutMs <= 0 {
		cfg.Telemetry.TimeoutMs = DefaultTimeoutMs
	}
	if cfg.Telemetry.SpoolFile == "" {
		cfg.Telemetry.SpoolFile = "chief-telemetry.spool.jsonl"
	}
	return cfg, nil
}

// LoadMonitorConfig reads and decodes monitor.yaml.
func LoadMonitorConfig(path string) (*MonitorConfig, error) {
	cfg := &MonitorConfig{}
	if err := parseConfigFile(path, cfg); err != nil {
		return nil, &ConfigError{Field: "file", Err: err}
	}
	if cfg.Listen == "" {
		cfg.Listen = ":8090"
	}
	if cfg.StoreDSN == "" {
		cfg.StoreDSN = "monitor.db"
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = DefaultRetentionDays
	}
	if cfg.EvaluatorIntervalSeconds <= 0 {
		cfg.EvaluatorIntervalSeconds = DefaultEvaluatorIntervalSeconds
	}
	if cfg.RetentionIntervalSeconds <= 0 {
		cfg.RetentionIntervalSeconds = DefaultRetentionIntervalSeconds
	}
	if cfg.RecoveryTTLSeconds <= 0 {
		cfg.RecoveryTTLSeconds = DefaultRecoveryTTLSeconds
	}
	return cfg, nil
}

// FileExists returns os.Stat's result for path: a non-nil error means the
// path does not exist or cannot be stat'ed. Readability is not checked.
func FileExists(path string) (os.FileInfo, error) {
	return os.Stat(path)
}
