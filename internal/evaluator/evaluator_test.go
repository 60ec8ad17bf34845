package evaluator_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/loykin/chiefmon/internal/evaluator"
	"github.com/loykin/chiefmon/internal/monitorstore"
)

func newStore() *monitorstore.Store {
	store, err := monitorstore.Open(context.Background(), ":memory:")
	Expect(err).NotTo(HaveOccurred())
	return store
}

func seedCheck(ctx context.Context, store *monitorstore.Store, job string, graceSeconds int, expectedNextAt time.Time) {
	grace := graceSeconds
	Expect(store.EnsureCheck(ctx, job, monitorstore.CheckConfigPatch{GraceSeconds: &grace})).To(Succeed())
	Expect(store.SetExpectedNextAt(ctx, job, expectedNextAt)).To(Succeed())
}

var _ = Describe("Sweep", func() {
	var (
		store *monitorstore.Store
		ctx   context.Context
	)

	BeforeEach(func() {
		store = newStore()
		ctx = context.Background()
	})

	AfterEach(func() {
		_ = store.Close()
	})

	It("leaves a job UP when its expected run is still in the future", func() {
		now := time.Now().UTC()
		seedCheck(ctx, store, "future-job", 60, now.Add(time.Hour))

		res, err := evaluator.Sweep(ctx, store, now)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Late).To(Equal(0))
		Expect(res.Down).To(Equal(0))

		cs, _, err := store.GetCheckState(ctx, "future-job")
		Expect(err).NotTo(HaveOccurred())
		Expect(cs.Status).To(Equal("UP"))
	})

	It("classifies a job within its grace window as LATE without opening an alert", func() {
		now := time.Now().UTC()
		seedCheck(ctx, store, "late-job", 300, now.Add(-30*time.Second))

		res, err := evaluator.Sweep(ctx, store, now)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Late).To(Equal(1))
		Expect(res.OpenedMissed).To(Equal(0))

		cs, _, err := store.GetCheckState(ctx, "late-job")
		Expect(err).NotTo(HaveOccurred())
		Expect(cs.Status).To(Equal("LATE"))
	})

	It("classifies a job past its grace window as DOWN and opens a MISSED alert", func() {
		now := time.Now().UTC()
		seedCheck(ctx, store, "down-job", 60, now.Add(-5*time.Minute))

		res, err := evaluator.Sweep(ctx, store, now)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Down).To(Equal(1))
		Expect(res.OpenedMissed).To(Equal(1))

		cs, _, err := store.GetCheckState(ctx, "down-job")
		Expect(err).NotTo(HaveOccurred())
		Expect(cs.Status).To(Equal("DOWN"))

		open, err := store.ListOpenAlerts(ctx, "down-job")
		Expect(err).NotTo(HaveOccurred())
		Expect(open).To(HaveLen(1))
		Expect(open[0].AlertType).To(Equal("MISSED"))
	})

	It("does not reopen a MISSED alert on a second sweep for the same miss", func() {
		now := time.Now().UTC()
		seedCheck(ctx, store, "down-job", 60, now.Add(-5*time.Minute))

		_, err := evaluator.Sweep(ctx, store, now)
		Expect(err).NotTo(HaveOccurred())
		res, err := evaluator.Sweep(ctx, store, now.Add(time.Minute))
		Expect(err).NotTo(HaveOccurred())
		Expect(res.OpenedMissed).To(Equal(0), "dedupeKey+OPEN makes a second MISSED alert a no-op")

		open, err := store.ListOpenAlerts(ctx, "down-job")
		Expect(err).NotTo(HaveOccurred())
		Expect(open).To(HaveLen(1))
	})

	It("skips alerting when alertOnMiss is disabled but still marks the job DOWN", func() {
		now := time.Now().UTC()
		grace := 60
		alertOnMiss := false
		Expect(store.EnsureCheck(ctx, "silent-job", monitorstore.CheckConfigPatch{
			GraceSeconds: &grace,
			AlertOnMiss:  &alertOnMiss,
		})).To(Succeed())
		Expect(store.SetExpectedNextAt(ctx, "silent-job", now.Add(-5*time.Minute))).To(Succeed())

		res, err := evaluator.Sweep(ctx, store, now)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Down).To(Equal(1))
		Expect(res.OpenedMissed).To(Equal(0))

		open, err := store.ListOpenAlerts(ctx, "silent-job")
		Expect(err).NotTo(HaveOccurred())
		Expect(open).To(BeEmpty())
	})

	It("ignores disabled checks and checks with no expectedNextAt", func() {
		now := time.Now().UTC()
		disabled := false
		Expect(store.EnsureCheck(ctx, "disabled-job", monitorstore.CheckConfigPatch{Enabled: &disabled})).To(Succeed())
		Expect(store.SetExpectedNextAt(ctx, "disabled-job", now.Add(-time.Hour))).To(Succeed())

		Expect(store.EnsureCheck(ctx, "no-schedule-job", monitorstore.CheckConfigPatch{})).To(Succeed())

		res, err := evaluator.Sweep(ctx, store, now)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Late).To(Equal(0))
		Expect(res.Down).To(Equal(0))
	})
})
