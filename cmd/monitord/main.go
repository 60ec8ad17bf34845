// Command monitord is the Monitor binary: it accepts telemetry events
// over HTTP, classifies them into per-job check state and alerts, and
// periodically sweeps for missed heartbeats and expired history.
// Grounded on the teacher's cmd/provisr/main.go cobra-root shape, with
// the Monitor's own monitor.yaml config and zerolog-based logging in
// place of the Orchestrator's chief.yaml/slog pairing.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/loykin/chiefmon/internal/archive/clickhouse"
	"github.com/loykin/chiefmon/internal/checkengine"
	"github.com/loykin/chiefmon/internal/config"
	"github.com/loykin/chiefmon/internal/evaluator"
	"github.com/loykin/chiefmon/internal/ingest"
	"github.com/loykin/chiefmon/internal/metrics"
	"github.com/loykin/chiefmon/internal/monitorlog"
	"github.com/loykin/chiefmon/internal/monitorstore"
	"github.com/loykin/chiefmon/internal/monitorstore/postgres"
	"github.com/loykin/chiefmon/internal/retention"
)

func main() {
	var configPath string

	root := &cobra.Command{Use: "monitord"}
	root.PersistentFlags().StringVar(&configPath, "config", "monitor.yaml", "path to the monitor config file")
	root.AddCommand(cmdServe(&configPath))

	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// cmdServe is the Monitor's only real mode of operation: accept events,
// run the Evaluator and Retention Sweeper tickers, and serve metrics.
func cmdServe(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the Monitor: ingest HTTP edge, evaluator, retention sweeper",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadMonitorConfig(*configPath)
			if err != nil {
				return err
			}

			log := monitorlog.New(cfg.LoggerConfig(), "monitord")
			log.Info().Str("store_dsn", redactDSN(cfg.StoreDSN)).Msg("monitord starting")

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			store, err := openStore(ctx, cfg.StoreDSN)
			if err != nil {
				return fmt.Errorf("open monitorstore: %w", err)
			}
			defer func() { _ = store.Close() }()

			var archiveSink *clickhouse.Sink
			if cfg.ArchiveDSN != "" {
				archiveSink, err = clickhouse.New(cfg.ArchiveDSN, "")
				if err != nil {
					log.Error().Err(err).Msg("archive sink unavailable, continuing without it")
				} else {
					defer func() { _ = archiveSink.Close() }()
				}
			}

			if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
				return err
			}

			engine := checkengine.New(store)
			router := ingest.New(store, engine, cfg.APIKey, monitorlog.IngestAdapter{Log: log})
			if archiveSink != nil {
				router.SetArchiver(archiveSink)
			}

			evalTicker := evaluator.NewTicker(store, time.Duration(cfg.EvaluatorIntervalSeconds)*time.Second)
			evalTicker.Start(ctx)
			defer evalTicker.Stop()

			retTicker := retention.NewTicker(store, time.Duration(cfg.RetentionIntervalSeconds)*time.Second,
				cfg.RetentionDays, time.Duration(cfg.RecoveryTTLSeconds)*time.Second)
			retTicker.Start(ctx)
			defer retTicker.Stop()

			srv := &http.Server{Addr: cfg.Listen, Handler: router.Handler(), ReadHeaderTimeout: 5 * time.Second}
			serveErr := make(chan error, 1)
			go func() { serveErr <- srv.ListenAndServe() }()

			if cfg.MetricsListen != "" {
				go serveMetrics(cfg.MetricsListen, log)
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

			select {
			case <-sigCh:
				log.Info().Msg("shutdown signal received")
			case err := <-serveErr:
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("ingest server exited: %w", err)
				}
			}

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("ingest server shutdown error")
			}
			cancel()
			log.Info().Msg("monitord stopped")
			return nil
		},
	}
}

// openStore picks the SQLite or Postgres backend by DSN scheme: a bare
// filesystem path (the common case) opens monitorstore.Store, while a
// postgres://... URL opens the postgres.Store alternate backend.
func openStore(ctx context.Context, dsn string) (monitorstore.Backend, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return postgres.Open(ctx, dsn)
	}
	return monitorstore.Open(ctx, dsn)
}

func redactDSN(dsn string) string {
	if i := strings.Index(dsn, "@"); i >= 0 && strings.Contains(dsn, "://") {
		return dsn[:strings.Index(dsn, "://")+3] + "***" + dsn[i:]
	}
	return dsn
}

func serveMetrics(addr string, log zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("metrics server exited")
	}
}
