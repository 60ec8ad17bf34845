// Package heartbeat emits the Orchestrator's own liveness signal
// (spec.md §4.5), grounded on the teacher's internal/cron ticker-loop
// shape: a time.NewTicker paired with a select over a quit channel.
package heartbeat

import (
	"os"
	"time"

	"github.com/loykin/chiefmon/internal/wire"
)

// EventSink is the narrow Emitter dependency the ticker needs.
type EventSink interface {
	Emit(wire.TelemetryEvent)
}

// Ticker emits chief.heartbeat events at a fixed interval, firing once
// immediately on Start.
type Ticker struct {
	interval time.Duration
	mode     string
	sink     EventSink

	quit chan struct{}
	done chan struct{}
}

// New constructs a Ticker. mode is "run" or "daemon" per spec.md §4.5's
// metadata contract.
func New(interval time.Duration, mode string, sink EventSink) *Ticker {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Ticker{
		interval: interval,
		mode:     mode,
		sink:     sink,
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start begins ticking in a background goroutine. It returns immediately
// after emitting the first heartbeat synchronously.
func (t *Ticker) Start() {
	t.beat()
	go t.loop()
}

func (t *Ticker) loop() {
	defer close(t.done)
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.beat()
		case <-t.quit:
			return
		}
	}
}

func (t *Ticker) beat() {
	t.sink.Emit(wire.TelemetryEvent{
		SourceType: wire.SourceChief,
		EventType:  wire.EventChiefHeartbeat,
		Level:      wire.LevelDebug,
		Message:    "chief heartbeat",
		EventAt:    time.Now().UTC(),
		Metadata: map[string]any{
			"ping_interval_seconds": int(t.interval.Seconds()),
			"mode":                  t.mode,
			"pid":                   os.Getpid(),
		},
	})
}

// Stop halts the ticker and waits for its goroutine to exit.
func (t *Ticker) Stop() {
	close(t.quit)
	<-t.done
}
