// Package monitorlog builds the Monitor's structured logger. The
// Orchestrator logs through log/slog (internal/logger.NewSlog); the
// Monitor logs through zerolog instead, grounded on the teacher's own
// zerolog.New(...).With().Timestamp().Logger() construction in
// internal/api/server.go, generalized from its ConsoleWriter dev setup
// to JSON-to-stdout plus an optional rotating file.
package monitorlog

import (
	"io"
	"os"

	"github.com/rs/zerolog"

	"github.com/loykin/chiefmon/internal/ingest"
	"github.com/loykin/chiefmon/internal/logger"
)

// New builds the Monitor's process logger: JSON to stdout, additionally
// tee'd to a rotating file when cfg names one.
func New(cfg logger.Config, name string) zerolog.Logger {
	var w io.Writer = os.Stdout
	if cfg.Dir != "" || cfg.StdoutPath != "" {
		out, _, err := cfg.Writers(name)
		if err == nil && out != nil {
			w = io.MultiWriter(os.Stdout, out)
		}
	}
	return zerolog.New(w).With().Timestamp().Str("component", name).Logger()
}

// IngestAdapter satisfies ingest.Logger over a zerolog.Logger, so the
// Check Engine errors the router swallows per event still surface in
// the Monitor's own log.
type IngestAdapter struct {
	Log zerolog.Logger
}

var _ ingest.Logger = IngestAdapter{}

func (a IngestAdapter) Error(jobName, eventType string, err error) {
	a.Log.Error().Str("job", jobName).Str("event_type", eventType).Err(err).Msg("check engine apply failed")
}
