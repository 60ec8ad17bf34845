// Package telemetry implements the Orchestrator's non-blocking telemetry
// pipeline (spec.md §4.4): a bounded in-memory buffer, a background
// flusher that POSTs batches to the Monitor's ingest endpoint, and a
// JSONL disk spool used whenever delivery fails. Grounded directly on
// spec.md since the teacher has no telemetry-shipping concern of its
// own; the HTTP client construction follows the shape of the teacher's
// pkg/client/client.go (a configured *http.Client, no custom transport
// wrapper).
package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/loykin/chiefmon/internal/wire"
)

// Config configures the Emitter (decoded from config.TelemetryConfig).
type Config struct {
	Endpoint        string
	APIKey          string
	MaxEvents       int
	FlushInterval   time.Duration
	BatchSize       int
	Timeout         time.Duration
	SpoolFile       string
	RateLimitPerSec float64
}

// Emitter is the process-singleton telemetry shipper described by
// spec.md §9's "Global state" note: modeled here as a scoped resource
// with explicit Start/Shutdown rather than module-level state.
type Emitter struct {
	cfg    Config
	log    *slog.Logger
	client *http.Client
	lim    *rate.Limiter

	mu       sync.Mutex
	buf      []wire.TelemetryEvent
	dropped  uint64

	spool *spoolFile

	flushNow chan struct{}
	quit     chan struct{}
	done     chan struct{}
}

// New constructs an Emitter. Call Start to begin the background
// flusher; call Shutdown to drain it cooperatively.
func New(cfg Config, log *slog.Logger) (*Emitter, error) {
	if cfg.MaxEvents <= 0 {
		cfg.MaxEvents = 1000
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 2 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}

	sp, err := openSpool(cfg.SpoolFile)
	if err != nil {
		return nil, err
	}

	limit := rate.Inf
	if cfg.RateLimitPerSec > 0 {
		limit = rate.Limit(cfg.RateLimitPerSec)
	}

	return &Emitter{
		cfg:      cfg,
		log:      log,
		client:   &http.Client{Timeout: cfg.Timeout},
		lim:      rate.NewLimiter(limit, cfg.BatchSize),
		buf:      make([]wire.TelemetryEvent, 0, cfg.MaxEvents),
		spool:    sp,
		flushNow: make(chan struct{}, 1),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Emit offers an event to the bounded buffer. It never blocks and never
// returns an error: a full buffer drops the newest event and increments
// the dropped counter (spec.md §4.4).
func (e *Emitter) Emit(ev wire.TelemetryEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.buf) >= e.cfg.MaxEvents {
		e.dropped++
		return
	}
	e.buf = append(e.buf, ev)
	if len(e.buf) >= e.cfg.BatchSize {
		select {
		case e.flushNow <- struct{}{}:
		default:
		}
	}
}

// DroppedCount reports how many events have been dropped for buffer
// overflow since Start.
func (e *Emitter) DroppedCount() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dropped
}

// Start launches the background flusher. It returns immediately.
func (e *Emitter) Start() {
	go e.loop()
}

func (e *Emitter) loop() {
	defer close(e.done)
	ticker := time.NewTicker(e.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			e.flushOnce()
		case <-e.flushNow:
			e.flushOnce()
		case <-e.quit:
			e.flushOnce()
			e.replaySpoolOnce()
			return
		}
	}
}

// flushOnce drains up to BatchSize buffered events, attempts delivery,
// spools on failure, then attempts one spool replay pass.
func (e *Emitter) flushOnce() {
	batch := e.takeBatch()
	if len(batch) > 0 {
		if err := e.send(batch); err != nil {
			e.log.Warn("telemetry delivery failed, spooling", "error", err, "count", len(batch))
			if spoolErr := e.spool.Append(batch); spoolErr != nil {
				e.log.Error("telemetry spool append failed", "error", spoolErr)
			}
		}
	}
	e.replaySpoolOnce()
}

func (e *Emitter) takeBatch() []wire.TelemetryEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := len(e.buf)
	if n > e.cfg.BatchSize {
		n = e.cfg.BatchSize
	}
	if n == 0 {
		return nil
	}
	batch := make([]wire.TelemetryEvent, n)
	copy(batch, e.buf[:n])
	e.buf = e.buf[n:]
	return batch
}

// replaySpoolOnce attempts to drain the spool file: read its head batch,
// re-POST, and remove it only on success. On continued failure it
// leaves the spool intact for the next tick.
func (e *Emitter) replaySpoolOnce() {
	batch, err := e.spool.PeekBatch(e.cfg.BatchSize)
	if err != nil {
		e.log.Error("telemetry spool read failed", "error", err)
		return
	}
	if len(batch) == 0 {
		return
	}
	if err := e.send(batch); err != nil {
		return
	}
	if err := e.spool.RemoveBatch(len(batch)); err != nil {
		e.log.Error("telemetry spool trim failed", "error", err)
	}
}

func (e *Emitter) send(batch []wire.TelemetryEvent) error {
	if e.cfg.Endpoint == "" {
		return nil
	}
	if err := e.lim.WaitN(context.Background(), 1); err != nil {
		return err
	}

	body, err := json.Marshal(batch)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if e.cfg.APIKey != "" {
		req.Header.Set("x-api-key", e.cfg.APIKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errStatus(resp.StatusCode)
	}
	return nil
}

type errStatus int

func (e errStatus) Error() string {
	return http.StatusText(int(e))
}

// Shutdown stops accepting the background flusher's ticks, flushes the
// buffer once, attempts one final spool replay, then returns (spec.md
// §4.4 shutdown contract).
func (e *Emitter) Shutdown() {
	close(e.quit)
	<-e.done
	_ = e.spool.Close()
}
