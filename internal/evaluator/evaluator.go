// Package evaluator runs the Monitor's periodic UP/LATE/DOWN sweep
// (spec.md §4.8). It is the only place that classifies a job as
// missing: the Check Engine only ever reacts to events it has been
// handed, so silence has to be detected by someone polling the clock.
// Grounded on iLLeniumStudios-cronjob-guardian's reconcile-loop shape,
// a controller comparing desired vs. observed state on a timer.
package evaluator

import (
	"context"
	"time"

	"github.com/loykin/chiefmon/internal/metrics"
	"github.com/loykin/chiefmon/internal/monitorstore"
)

// Result summarizes one sweep pass.
type Result struct {
	Late        int
	Down        int
	OpenedMissed int
}

// Sweep implements spec.md §4.8's classification:
//
//	diff := now - expectedNextAt
//	diff <= 0               -> UP (never opens a RECOVERY on its own)
//	0 < diff <= graceSeconds -> LATE
//	diff > graceSeconds      -> DOWN, opening a MISSED alert if not already open
func Sweep(ctx context.Context, store monitorstore.Backend, now time.Time) (Result, error) {
	var res Result

	checks, err := store.ListEnabledChecks(ctx)
	if err != nil {
		return res, err
	}

	for _, cs := range checks {
		if cs.ExpectedNextAt == nil {
			continue
		}
		diff := now.Sub(*cs.ExpectedNextAt)
		grace := time.Duration(cs.GraceSeconds) * time.Second

		switch {
		case diff <= 0:
			if cs.Status != "UP" {
				if err := store.SetStatus(ctx, cs.JobName, "UP"); err != nil {
					return res, err
				}
			}
			metrics.SetCheckState(cs.JobName, "UP", true)
			metrics.SetCheckState(cs.JobName, "LATE", false)
			metrics.SetCheckState(cs.JobName, "DOWN", false)

		case diff <= grace:
			if cs.Status != "LATE" {
				if err := store.SetStatus(ctx, cs.JobName, "LATE"); err != nil {
					return res, err
				}
			}
			res.Late++
			metrics.SetCheckState(cs.JobName, "UP", false)
			metrics.SetCheckState(cs.JobName, "LATE", true)
			metrics.SetCheckState(cs.JobName, "DOWN", false)

		default:
			if cs.Status != "DOWN" {
				if err := store.SetStatus(ctx, cs.JobName, "DOWN"); err != nil {
					return res, err
				}
			}
			res.Down++
			metrics.SetCheckState(cs.JobName, "UP", false)
			metrics.SetCheckState(cs.JobName, "LATE", false)
			metrics.SetCheckState(cs.JobName, "DOWN", true)

			if !cs.AlertOnMiss {
				continue
			}
			opened, err := store.OpenAlert(ctx, monitorstore.Alert{
				JobName:   cs.JobName,
				AlertType: "MISSED",
				Severity:  "ERROR",
				DedupeKey: cs.JobName + ":MISSED",
				Title:     cs.JobName + " missed its expected run",
			})
			if err != nil {
				return res, err
			}
			if opened {
				res.OpenedMissed++
				metrics.IncAlertOpened(cs.JobName, "MISSED")
			}
		}
	}

	return res, nil
}

// Ticker runs Sweep on a fixed interval until Stop is called.
type Ticker struct {
	store    monitorstore.Backend
	interval time.Duration
	quit     chan struct{}
	done     chan struct{}
}

func NewTicker(store monitorstore.Backend, interval time.Duration) *Ticker {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Ticker{store: store, interval: interval, quit: make(chan struct{}), done: make(chan struct{})}
}

func (t *Ticker) Start(ctx context.Context) {
	go t.loop(ctx)
}

func (t *Ticker) loop(ctx context.Context) {
	defer close(t.done)
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.quit:
			return
		case <-ticker.C:
			_, _ = Sweep(ctx, t.store, time.Now())
		}
	}
}

func (t *Ticker) Stop() {
	close(t.quit)
	<-t.done
}
