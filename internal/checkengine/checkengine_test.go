package checkengine_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/loykin/chiefmon/internal/checkengine"
	"github.com/loykin/chiefmon/internal/monitorstore"
	"github.com/loykin/chiefmon/internal/wire"
)

func newStore() *monitorstore.Store {
	store, err := monitorstore.Open(context.Background(), ":memory:")
	Expect(err).NotTo(HaveOccurred())
	return store
}

func heartbeatEvent(job, eventType string) wire.TelemetryEvent {
	return wire.TelemetryEvent{
		SourceType: wire.SourceWorker,
		EventType:  eventType,
		Level:      wire.LevelInfo,
		Message:    eventType,
		EventAt:    time.Now().UTC(),
		JobName:    job,
	}
}

var _ = Describe("Engine", func() {
	var (
		store  *monitorstore.Store
		engine *checkengine.Engine
		ctx    context.Context
	)

	BeforeEach(func() {
		store = newStore()
		engine = checkengine.New(store)
		ctx = context.Background()
	})

	AfterEach(func() {
		_ = store.Close()
	})

	It("creates a check row with defaults on first sighting", func() {
		Expect(engine.Apply(ctx, heartbeatEvent("backup", wire.EventJobStarted))).To(Succeed())

		cs, found, err := store.GetCheckState(ctx, "backup")
		Expect(err).NotTo(HaveOccurred())
		Expect(found).To(BeTrue())
		Expect(cs.Status).To(Equal("UP"))
		Expect(cs.AlertOnFailure).To(BeTrue())
		Expect(cs.AlertOnMiss).To(BeTrue())
	})

	It("opens a FAILURE alert on job.failed and closes it with a RECOVERY on the next success", func() {
		Expect(engine.Apply(ctx, heartbeatEvent("backup", wire.EventJobStarted))).To(Succeed())

		Expect(engine.Apply(ctx, heartbeatEvent("backup", wire.EventJobFailed))).To(Succeed())
		open, err := store.ListOpenAlerts(ctx, "backup")
		Expect(err).NotTo(HaveOccurred())
		Expect(open).To(HaveLen(1))
		Expect(open[0].AlertType).To(Equal("FAILURE"))

		completed := heartbeatEvent("backup", wire.EventJobCompleted)
		completed.Success = wire.BoolPtr(true)
		Expect(engine.Apply(ctx, completed)).To(Succeed())

		open, err = store.ListOpenAlerts(ctx, "backup")
		Expect(err).NotTo(HaveOccurred())
		Expect(open).To(HaveLen(1), "the FAILURE alert is closed and a RECOVERY alert opened in its place")
		Expect(open[0].AlertType).To(Equal("RECOVERY"))

		cs, _, err := store.GetCheckState(ctx, "backup")
		Expect(err).NotTo(HaveOccurred())
		Expect(cs.ConsecutiveFailures).To(Equal(0))
	})

	It("does not reopen a FAILURE alert for a second job.failed with the same dedupe key", func() {
		Expect(engine.Apply(ctx, heartbeatEvent("backup", wire.EventJobStarted))).To(Succeed())
		Expect(engine.Apply(ctx, heartbeatEvent("backup", wire.EventJobFailed))).To(Succeed())
		Expect(engine.Apply(ctx, heartbeatEvent("backup", wire.EventJobFailed))).To(Succeed())

		open, err := store.ListOpenAlerts(ctx, "backup")
		Expect(err).NotTo(HaveOccurred())
		Expect(open).To(HaveLen(1), "OpenAlert is idempotent on dedupeKey+OPEN")
	})

	It("treats job.completed with success=false as a failure", func() {
		Expect(engine.Apply(ctx, heartbeatEvent("backup", wire.EventJobStarted))).To(Succeed())

		completed := heartbeatEvent("backup", wire.EventJobCompleted)
		completed.Success = wire.BoolPtr(false)
		Expect(engine.Apply(ctx, completed)).To(Succeed())

		open, err := store.ListOpenAlerts(ctx, "backup")
		Expect(err).NotTo(HaveOccurred())
		Expect(open).To(HaveLen(1))
		Expect(open[0].AlertType).To(Equal("FAILURE"))
	})

	It("ignores events with no job name", func() {
		Expect(engine.Apply(ctx, wire.TelemetryEvent{
			SourceType: wire.SourceChief,
			EventType:  wire.EventChiefHeartbeat,
			Level:      wire.LevelInfo,
			Message:    "chief alive",
		})).To(Succeed())
	})

	It("sets expectedNextAt from job.next_scheduled metadata", func() {
		Expect(engine.Apply(ctx, heartbeatEvent("backup", wire.EventJobStarted))).To(Succeed())

		next := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
		ev := heartbeatEvent("backup", wire.EventJobNextScheduled)
		ev.Metadata = map[string]any{"next_run_at": next.Format(time.RFC3339)}
		Expect(engine.Apply(ctx, ev)).To(Succeed())

		cs, _, err := store.GetCheckState(ctx, "backup")
		Expect(err).NotTo(HaveOccurred())
		Expect(cs.ExpectedNextAt).NotTo(BeNil())
		Expect(cs.ExpectedNextAt.Equal(next)).To(BeTrue())
	})
})
