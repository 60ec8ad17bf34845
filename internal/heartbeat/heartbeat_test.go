package heartbeat

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/chiefmon/internal/wire"
)

type recordingSink struct {
	mu     sync.Mutex
	events []wire.TelemetryEvent
}

func (s *recordingSink) Emit(ev wire.TelemetryEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func (s *recordingSink) last() wire.TelemetryEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events[len(s.events)-1]
}

func TestStartEmitsImmediatelyBeforeReturning(t *testing.T) {
	sink := &recordingSink{}
	tk := New(time.Hour, "daemon", sink)
	tk.Start()
	defer tk.Stop()

	assert.Equal(t, 1, sink.count(), "Start emits one heartbeat synchronously before the ticker loop begins")
	ev := sink.last()
	assert.Equal(t, wire.SourceChief, ev.SourceType)
	assert.Equal(t, wire.EventChiefHeartbeat, ev.EventType)
	assert.Equal(t, "daemon", ev.Metadata["mode"])
}

func TestNewDefaultsNonPositiveIntervalTo15Seconds(t *testing.T) {
	tk := New(0, "run", &recordingSink{})
	assert.Equal(t, 15*time.Second, tk.interval)
}

func TestTickerFiresRepeatedlyUntilStopped(t *testing.T) {
	sink := &recordingSink{}
	tk := New(10*time.Millisecond, "daemon", sink)
	tk.Start()

	require.Eventually(t, func() bool {
		return sink.count() >= 3
	}, time.Second, 5*time.Millisecond)

	tk.Stop()
	n := sink.count()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, sink.count(), "no further heartbeats are emitted after Stop returns")
}
