// Package metrics exposes the Prometheus collectors shared by chiefd and
// monitord. Both binaries call Register once at startup and Handler to
// serve /metrics; only one of the two processes runs in a given process
// so label sets never collide in practice.
package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	regOK atomic.Bool

	// Orchestrator-side collectors.
	triggersDispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chiefmon",
			Subsystem: "orchestrator",
			Name:      "triggers_dispatched_total",
			Help:      "Number of job triggers dispatched for execution.",
		}, []string{"job"},
	)
	triggersSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chiefmon",
			Subsystem: "orchestrator",
			Name:      "triggers_skipped_total",
			Help:      "Number of triggers skipped by the overlap policy.",
		}, []string{"job", "policy"},
	)
	triggersQueued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chiefmon",
			Subsystem: "orchestrator",
			Name:      "triggers_queued_total",
			Help:      "Number of triggers queued by the overlap policy.",
		}, []string{"job"},
	)
	scriptDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "chiefmon",
			Subsystem: "orchestrator",
			Name:      "script_duration_seconds",
			Help:      "Observed wall-clock duration of a single script invocation.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"job"},
	)
	jobOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chiefmon",
			Subsystem: "orchestrator",
			Name:      "job_outcomes_total",
			Help:      "Number of completed job runs by outcome.",
		}, []string{"job", "outcome"},
	)
	activeJobs = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "chiefmon",
			Subsystem: "orchestrator",
			Name:      "active_jobs",
			Help:      "Jobs currently executing (1) or idle (0).",
		}, []string{"job"},
	)

	// Monitor-side collectors.
	eventsIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chiefmon",
			Subsystem: "monitor",
			Name:      "events_ingested_total",
			Help:      "Number of telemetry events accepted by the ingest endpoint.",
		}, []string{"source_type"},
	)
	eventsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chiefmon",
			Subsystem: "monitor",
			Name:      "events_rejected_total",
			Help:      "Number of telemetry events rejected during normalization.",
		}, []string{"reason"},
	)
	checkStates = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "chiefmon",
			Subsystem: "monitor",
			Name:      "check_state",
			Help:      "Current check state per job (1 = active state, 0 = inactive).",
		}, []string{"job", "state"},
	)
	alertsOpened = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chiefmon",
			Subsystem: "monitor",
			Name:      "alerts_opened_total",
			Help:      "Number of alerts opened.",
		}, []string{"job", "kind"},
	)
	alertsClosed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chiefmon",
			Subsystem: "monitor",
			Name:      "alerts_closed_total",
			Help:      "Number of alerts closed.",
		}, []string{"job", "kind"},
	)
)

// Register registers all metrics with the provided registerer. It is safe
// to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		triggersDispatched, triggersSkipped, triggersQueued, scriptDuration, jobOutcomes, activeJobs,
		eventsIngested, eventsRejected, checkStates, alertsOpened, alertsClosed,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the
// DefaultGatherer. The caller wires the route.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight recording helpers. They no-op until Register has
// been called, so packages can call them unconditionally.

func IncTriggerDispatched(job string) {
	if regOK.Load() {
		triggersDispatched.WithLabelValues(job).Inc()
	}
}

func IncTriggerSkipped(job, policy string) {
	if regOK.Load() {
		triggersSkipped.WithLabelValues(job, policy).Inc()
	}
}

func IncTriggerQueued(job string) {
	if regOK.Load() {
		triggersQueued.WithLabelValues(job).Inc()
	}
}

func ObserveScriptDuration(job string, seconds float64) {
	if regOK.Load() {
		scriptDuration.WithLabelValues(job).Observe(seconds)
	}
}

func IncJobOutcome(job, outcome string) {
	if regOK.Load() {
		jobOutcomes.WithLabelValues(job, outcome).Inc()
	}
}

func SetActiveJob(job string, active bool) {
	if regOK.Load() {
		v := 0.0
		if active {
			v = 1
		}
		activeJobs.WithLabelValues(job).Set(v)
	}
}

func IncEventsIngested(sourceType string) {
	if regOK.Load() {
		eventsIngested.WithLabelValues(sourceType).Inc()
	}
}

func IncEventsRejected(reason string) {
	if regOK.Load() {
		eventsRejected.WithLabelValues(reason).Inc()
	}
}

func SetCheckState(job, state string, active bool) {
	if regOK.Load() {
		v := 0.0
		if active {
			v = 1
		}
		checkStates.WithLabelValues(job, state).Set(v)
	}
}

func IncAlertOpened(job, kind string) {
	if regOK.Load() {
		alertsOpened.WithLabelValues(job, kind).Inc()
	}
}

func IncAlertClosed(job, kind string) {
	if regOK.Load() {
		alertsClosed.WithLabelValues(job, kind).Inc()
	}
}
