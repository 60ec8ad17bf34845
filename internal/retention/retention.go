// Package retention runs the Monitor's periodic housekeeping: pruning
// aged events (spec.md §4.9) and auto-closing stale RECOVERY alerts
// (the TTL supplement recorded in DESIGN.md's Open Question resolution).
package retention

import (
	"context"
	"time"

	"github.com/loykin/chiefmon/internal/monitorstore"
)

// Result summarizes one sweep pass.
type Result struct {
	EventsPruned        int64
	RecoveriesAutoClosed int
}

// Sweep deletes events older than retentionDays and closes any
// RECOVERY alert that has been open longer than recoveryTTL — a
// RECOVERY is informational, not actionable, so it is not meant to
// linger in the open-alerts list forever.
func Sweep(ctx context.Context, store monitorstore.Backend, now time.Time, retentionDays int, recoveryTTL time.Duration) (Result, error) {
	var res Result

	cutoff := now.AddDate(0, 0, -retentionDays)
	pruned, err := store.PruneEventsOlderThan(ctx, cutoff)
	if err != nil {
		return res, err
	}
	res.EventsPruned = pruned

	closed, err := autoCloseStaleRecoveries(ctx, store, now, recoveryTTL)
	if err != nil {
		return res, err
	}
	res.RecoveriesAutoClosed = closed

	return res, nil
}

func autoCloseStaleRecoveries(ctx context.Context, store monitorstore.Backend, now time.Time, ttl time.Duration) (int, error) {
	jobs, err := store.DistinctAlertJobNames(ctx)
	if err != nil {
		return 0, err
	}

	closed := 0
	for _, job := range jobs {
		alerts, err := store.ListOpenAlerts(ctx, job)
		if err != nil {
			return closed, err
		}
		for _, a := range alerts {
			if a.AlertType != "RECOVERY" {
				continue
			}
			if now.Sub(a.OpenedAt) < ttl {
				continue
			}
			if ok, err := store.CloseAlert(ctx, a.DedupeKey); err != nil {
				return closed, err
			} else if ok {
				closed++
			}
		}
	}
	return closed, nil
}

// Ticker runs Sweep on a fixed interval until Stop is called.
type Ticker struct {
	store         monitorstore.Backend
	interval      time.Duration
	retentionDays int
	recoveryTTL   time.Duration
	quit          chan struct{}
	done          chan struct{}
}

func NewTicker(store monitorstore.Backend, interval time.Duration, retentionDays int, recoveryTTL time.Duration) *Ticker {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Ticker{
		store:         store,
		interval:      interval,
		retentionDays: retentionDays,
		recoveryTTL:   recoveryTTL,
		quit:          make(chan struct{}),
		done:          make(chan struct{}),
	}
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
			_, _ = Sweep(ctx, t.store, time.Now(), t.retentionDays, t.recoveryTTL)
		}
	}
}

func (t *Ticker) Stop() {
	close(t.quit)
	<-t.done
}
