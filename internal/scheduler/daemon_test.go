package scheduler

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/chiefmon/internal/executor"
	"github.com/loykin/chiefmon/internal/schedule"
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

func (s *recordingSink) of(eventType string) []wire.TelemetryEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []wire.TelemetryEvent
	for _, ev := range s.events {
		if ev.EventType == eventType {
			out = append(out, ev)
		}
	}
	return out
}

func newTestRuntime(name string, overlap Overlap) *JobRuntime {
	return &JobRuntime{
		Spec: JobSpec{
			Name:    name,
			Overlap: overlap,
			Check:   defaultCheckConfig(),
		},
	}
}

func TestRaiseTriggersPreservesDeclarationOrder(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	cs, err := schedule.Compile(schedule.Spec{Frequency: schedule.FreqDaily, Time: "09:00"})
	require.NoError(t, err)
	jrA := newTestRuntime("b-job", OverlapSkip)
	jrA.Spec.Schedule = cs
	jrA.NextFire = now.Add(-time.Minute)
	jrB := newTestRuntime("a-job", OverlapSkip)
	jrB.Spec.Schedule = cs
	jrB.NextFire = now.Add(-time.Second)

	d := NewDaemon([]*JobRuntime{jrA, jrB}, &recordingSink{}, time.Second, "", "")
	d.raiseTriggers(now)

	require.Len(t, d.triggerQueue, 2)
	assert.Equal(t, "b-job", d.triggerQueue[0].JobName, "declaration order wins even though a-job's instant is later")
	assert.Equal(t, "a-job", d.triggerQueue[1].JobName)
}

func TestRaiseTriggersAdvancesNextFireAndLeavesFutureJobsAlone(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	cs, err := schedule.Compile(schedule.Spec{Frequency: schedule.FreqDaily, Time: "09:00"})
	require.NoError(t, err)
	due := newTestRuntime("due-job", OverlapSkip)
	due.Spec.Schedule = cs
	due.NextFire = now.Add(-time.Minute)
	notDue := newTestRuntime("future-job", OverlapSkip)
	notDue.Spec.Schedule = cs
	notDue.NextFire = now.Add(time.Hour)

	d := NewDaemon([]*JobRuntime{due, notDue}, &recordingSink{}, time.Second, "", "")
	d.raiseTriggers(now)

	require.Len(t, d.triggerQueue, 1)
	assert.Equal(t, "due-job", d.triggerQueue[0].JobName)
	assert.True(t, due.NextFire.Equal(time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC)), "the due job's next fire advances to the following 09:00")
	assert.True(t, notDue.NextFire.Equal(now.Add(time.Hour)))
}

func TestDispatchPassSkipPolicyDropsTriggerWhenAlreadyRunning(t *testing.T) {
	sink := &recordingSink{}
	jr := newTestRuntime("skip-job", OverlapSkip)
	jr.RunningCount = 1

	d := NewDaemon([]*JobRuntime{jr}, sink, time.Second, "", "")
	d.triggerQueue = []TriggerEvent{{JobName: "skip-job", ScheduledFor: time.Now()}}
	d.dispatchPass()

	assert.Empty(t, d.triggerQueue, "a skip-policy trigger is dropped, not requeued")
	assert.Equal(t, 1, jr.RunningCount, "the already-running count is untouched")
	assert.Len(t, sink.of(wire.EventOverlapSkipped), 1)
}

func TestDispatchPassQueuePolicyReservesOneTriggerThenDropsExtras(t *testing.T) {
	sink := &recordingSink{}
	jr := newTestRuntime("queue-job", OverlapQueue)
	jr.RunningCount = 1

	d := NewDaemon([]*JobRuntime{jr}, sink, time.Second, "", "")
	d.triggerQueue = []TriggerEvent{
		{JobName: "queue-job", ScheduledFor: time.Now()},
		{JobName: "queue-job", ScheduledFor: time.Now().Add(time.Second)},
	}
	d.dispatchPass()

	assert.True(t, jr.QueuedPending)
	require.Len(t, d.triggerQueue, 1, "only the first trigger is reserved; the second is dropped")
	assert.Len(t, sink.of(wire.EventQueuedPending), 1)
}

func TestDispatchPassGlobalSerializationBlocksOtherJobs(t *testing.T) {
	sink := &recordingSink{}
	busy := newTestRuntime("busy-job", OverlapParallel)
	other := newTestRuntime("other-job", OverlapParallel)

	d := NewDaemon([]*JobRuntime{busy, other}, sink, time.Second, "", "")
	d.activeJobName = "busy-job"
	d.triggerQueue = []TriggerEvent{{JobName: "other-job", ScheduledFor: time.Now()}}
	d.dispatchPass()

	require.Len(t, d.triggerQueue, 1, "other-job's trigger waits for global serialization to clear")
	assert.Equal(t, 0, other.RunningCount)
}

func TestHandleCompletionClearsActiveJobWhenNothingQueued(t *testing.T) {
	sink := &recordingSink{}
	cs, err := schedule.Compile(schedule.Spec{Frequency: schedule.FreqDaily, Time: "09:00"})
	require.NoError(t, err)

	jr := newTestRuntime("done-job", OverlapSkip)
	jr.Spec.Schedule = cs
	jr.RunningCount = 1

	d := NewDaemon([]*JobRuntime{jr}, sink, time.Second, "", "")
	d.activeJobName = "done-job"
	d.handleCompletion(completionMsg{JobName: "done-job", Outcome: executor.Outcome{Success: true}})

	assert.Equal(t, 0, jr.RunningCount)
	assert.Empty(t, d.activeJobName)
	assert.False(t, jr.NextFire.IsZero(), "next fire is re-seeded on completion")
}

func TestSnapshotReflectsDeclarationOrderAndState(t *testing.T) {
	jrA := newTestRuntime("alpha", OverlapSkip)
	jrA.RunningCount = 1
	jrB := newTestRuntime("beta", OverlapQueue)
	jrB.QueuedPending = true

	d := NewDaemon([]*JobRuntime{jrA, jrB}, &recordingSink{}, time.Second, "", "")
	snap := d.Snapshot()

	require.Len(t, snap, 2)
	assert.Equal(t, "alpha", snap[0].Name)
	assert.Equal(t, 1, snap[0].RunningCount)
	assert.Equal(t, "beta", snap[1].Name)
	assert.True(t, snap[1].QueuedPending)
}

func TestRunOnceRejectsUnknownJob(t *testing.T) {
	d := NewDaemon(nil, &recordingSink{}, time.Second, "", "")
	_, err := d.RunOnce(nil, "missing") //nolint:staticcheck // nil ctx acceptable: RunOnce doesn't touch it before erroring
	require.Error(t, err)
}
