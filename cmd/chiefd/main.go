// Command chiefd is the Orchestrator binary: it loads a chief.yaml,
// compiles its jobs, and either validates/previews them or runs the
// dispatch daemon. Grounded on the teacher's cmd/provisr/main.go
// cobra-root-plus-subcommand shape (persistent --config flag, one
// cobra.Command per verb, printJSON for structured stdout output).
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/loykin/chiefmon/internal/config"
	"github.com/loykin/chiefmon/internal/debugsrv"
	"github.com/loykin/chiefmon/internal/heartbeat"
	"github.com/loykin/chiefmon/internal/logger"
	"github.com/loykin/chiefmon/internal/metrics"
	"github.com/loykin/chiefmon/internal/scheduler"
	"github.com/loykin/chiefmon/internal/telemetry"
)

func printJSON(v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}

func main() {
	var configPath string
	var colorLog bool

	root := &cobra.Command{Use: "chiefd"}
	root.PersistentFlags().StringVar(&configPath, "config", "chief.yaml", "path to the orchestrator config file")
	root.PersistentFlags().BoolVar(&colorLog, "color", false, "colorize the process log for an interactive terminal instead of emitting JSON")

	root.AddCommand(
		cmdValidate(&configPath),
		cmdPreview(&configPath),
		cmdRun(&configPath, &colorLog),
		cmdDaemon(&configPath, &colorLog),
		cmdExportCron(&configPath),
	)

	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// cmdValidate implements spec.md §6's `validate`: load, compile, and
// report success/failure without running anything. Exit code 1 on a
// config error.
func cmdValidate(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load and compile the config, reporting any errors",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOrchestratorConfig(*configPath)
			if err != nil {
				return err
			}
			runtimes, err := scheduler.CompileJobs(cfg, time.Now())
			if err != nil {
				return err
			}
			fmt.Printf("ok: %d job(s) compiled\n", len(runtimes))
			return nil
		},
	}
}

// cmdPreview implements `preview [--count N]`: print the next N fire
// times for every compiled job.
func cmdPreview(configPath *string) *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Print the next N scheduled fire times for every job",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOrchestratorConfig(*configPath)
			if err != nil {
				return err
			}
			runtimes, err := scheduler.CompileJobs(cfg, time.Now())
			if err != nil {
				return err
			}
			out := make(map[string][]time.Time, len(runtimes))
			for _, jr := range runtimes {
				out[jr.Spec.Name] = jr.Spec.Schedule.NextRunTimes(time.Now(), count)
			}
			printJSON(out)
			return nil
		},
	}
	cmd.Flags().IntVar(&count, "count", 5, "number of upcoming fire times to print per job")
	return cmd
}

// cmdRun implements `run [--job NAME] [--respect-schedule]`: execute one
// job synchronously and exit, bypassing the trigger queue entirely. With
// --respect-schedule the run is refused unless the current instant passes
// the job's compiled guard.
func cmdRun(configPath *string, colorLog *bool) *cobra.Command {
	var jobName string
	var respectSchedule bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a single job once, synchronously",
		RunE: func(cmd *cobra.Command, args []string) error {
			if jobName == "" {
				return fmt.Errorf("run requires --job")
			}
			cfg, err := config.LoadOrchestratorConfig(*configPath)
			if err != nil {
				return err
			}
			runtimes, err := scheduler.CompileJobs(cfg, time.Now())
			if err != nil {
				return err
			}
			if respectSchedule {
				for _, jr := range runtimes {
					if jr.Spec.Name == jobName && !jr.Spec.Schedule.Guard(time.Now()) {
						return fmt.Errorf("job %q: the current instant does not pass its schedule guard", jobName)
					}
				}
			}

			log := logger.NewSlog(cfg.LoggerConfig(), "chiefd", *colorLog)
			emitter, err := newEmitter(cfg, log)
			if err != nil {
				return err
			}
			emitter.Start()
			defer emitter.Shutdown()

			daemon := scheduler.NewDaemon(runtimes, emitter, time.Duration(cfg.PollSeconds)*time.Second,
				cfg.Telemetry.Endpoint, cfg.Telemetry.APIKey)

			outcome, err := daemon.RunOnce(context.Background(), jobName)
			if err != nil {
				return err
			}
			printJSON(outcome)
			if !outcome.Success {
				os.Exit(1)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&jobName, "job", "", "job name to run")
	cmd.Flags().BoolVar(&respectSchedule, "respect-schedule", false, "refuse to run unless the current instant passes the job's schedule guard")
	return cmd
}

// cmdDaemon implements `daemon [--poll-seconds N]`: the long-running
// dispatch loop (spec.md §4.2), wired with telemetry, heartbeat,
// metrics, and the debug introspection server.
func cmdDaemon(configPath *string, colorLog *bool) *cobra.Command {
	var pollSecondsOverride int
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the scheduling daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOrchestratorConfig(*configPath)
			if err != nil {
				return err
			}
			if pollSecondsOverride > 0 {
				cfg.PollSeconds = pollSecondsOverride
			}

			runtimes, err := scheduler.CompileJobs(cfg, time.Now())
			if err != nil {
				return err
			}

			log := logger.NewSlog(cfg.LoggerConfig(), "chiefd", *colorLog)

			if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
				return err
			}

			emitter, err := newEmitter(cfg, log)
			if err != nil {
				return err
			}
			emitter.Start()
			defer emitter.Shutdown()

			hb := heartbeat.New(time.Duration(cfg.HeartbeatSeconds)*time.Second, "daemon", emitter)
			hb.Start()
			defer hb.Stop()

			daemon := scheduler.NewDaemon(runtimes, emitter, time.Duration(cfg.PollSeconds)*time.Second,
				cfg.Telemetry.Endpoint, cfg.Telemetry.APIKey)

			ctx, cancel := context.WithCancel(context.Background())
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			go func() {
				<-sigCh
				log.Info("shutdown signal received")
				cancel()
			}()

			if cfg.MetricsListen != "" {
				go serveMetrics(cfg.MetricsListen, log)
			}
			if cfg.DebugListen != "" {
				go serveDebug(cfg.DebugListen, daemon, log)
			}

			log.Info("daemon starting", "jobs", len(runtimes))
			daemon.Run(ctx)
			log.Info("daemon stopped")
			return nil
		},
	}
	cmd.Flags().IntVar(&pollSecondsOverride, "poll-seconds", 0, "override the configured poll interval")
	return cmd
}

// cmdExportCron implements `export-cron [--job NAME]`: print the
// equivalent crontab line(s) for pure_cron/hybrid schedules. A
// runtime_only job has no crontab equivalent and is reported as such.
func cmdExportCron(configPath *string) *cobra.Command {
	var jobName string
	cmd := &cobra.Command{
		Use:   "export-cron",
		Short: "Print the equivalent crontab expression for each job's schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOrchestratorConfig(*configPath)
			if err != nil {
				return err
			}
			runtimes, err := scheduler.CompileJobs(cfg, time.Now())
			if err != nil {
				return err
			}
			for _, jr := range runtimes {
				if jobName != "" && jr.Spec.Name != jobName {
					continue
				}
				if jr.Spec.Schedule.CronExpr == "" {
					fmt.Printf("# %s: runtime_only schedule has no crontab equivalent\n", jr.Spec.Name)
					continue
				}
				fmt.Printf("%s\t# %s (%s)\n", jr.Spec.Schedule.CronExpr, jr.Spec.Name, jr.Spec.Schedule.Kind)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&jobName, "job", "", "limit output to a single job")
	return cmd
}

func newEmitter(cfg *config.OrchestratorConfig, log *slog.Logger) (*telemetry.Emitter, error) {
	return telemetry.New(telemetry.Config{
		Endpoint:        cfg.Telemetry.Endpoint,
		APIKey:          cfg.Telemetry.APIKey,
		MaxEvents:       cfg.Telemetry.MaxEvents,
		FlushInterval:   time.Duration(cfg.Telemetry.FlushIntervalMs) * time.Millisecond,
		BatchSize:       cfg.Telemetry.BatchSize,
		Timeout:         time.Duration(cfg.Telemetry.TimeoutMs) * time.Millisecond,
		SpoolFile:       cfg.Telemetry.SpoolFile,
		RateLimitPerSec: cfg.Telemetry.RateLimitPerSec,
	}, log)
}

func serveMetrics(addr string, log *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("metrics server exited", "err", err)
	}
}

func serveDebug(addr string, daemon *scheduler.Daemon, log *slog.Logger) {
	srv := &http.Server{Addr: addr, Handler: debugsrv.New(daemon).Handler(), ReadHeaderTimeout: 5 * time.Second}
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("debug server exited", "err", err)
	}
}
