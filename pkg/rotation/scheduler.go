package rotation

import (
	"context"
	"sync/atomic"
	"time"
)

// Start launches the scheduler loop as a background goroutine: every
// checkInterval it scans all schedules for due rotations and pending expiry
// warnings. Start is idempotent-unsafe to call twice; callers construct one
// Engine and call Start once. The loop stops when Shutdown is called or the
// Engine's internal context is canceled.
func (e *Engine) Start() {
	go e.schedulerLoop()
}

// schedulerLoop wakes every e.checkInterval and runs one tick. Ticks never
// overlap: if a tick is still running when the next timer fires, the new
// tick is dropped rather than queued, per the spec's "subsequent ticks are
// dropped, not queued" rule.
func (e *Engine) schedulerLoop() {
	ticker := time.NewTicker(e.checkInterval)
	defer ticker.Stop()

	var ticking atomic.Bool

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			if e.shuttingDown.Load() {
				continue
			}
			if !ticking.CompareAndSwap(false, true) {
				continue
			}
			go func() {
				defer ticking.Store(false)
				e.tick()
			}()
		}
	}
}

// tick evaluates every schedule once: dispatching due rotations
// (fire-and-monitor, not awaited) and emitting expiry warnings, subject to
// the pause, backoff, shutdown, and concurrency-limit rules.
func (e *Engine) tick() {
	now := time.Now()

	type due struct {
		cfg SecretConfig
	}
	var toRotate []due
	var toWarn []SecretConfig

	e.mu.Lock()
	for _, entry := range e.schedule {
		if !entry.config.Enabled {
			continue
		}
		if entry.schedule.Paused {
			continue
		}
		if entry.schedule.BackoffUntil != nil && entry.schedule.BackoffUntil.After(now) {
			continue
		}

		if !entry.schedule.NextRotation.After(now) {
			toRotate = append(toRotate, due{cfg: entry.config})
		}

		if entry.config.NotifyBeforeDays > 0 && !entry.warnedThisCycle {
			warningTime := entry.schedule.NextRotation.Add(-time.Duration(entry.config.NotifyBeforeDays) * 24 * time.Hour)
			if !warningTime.After(now) {
				entry.warnedThisCycle = true
				toWarn = append(toWarn, entry.config)
			}
		}
	}
	e.mu.Unlock()

	for _, cfg := range toWarn {
		e.notify(NotifyExpiryWarning, cfg.ID, cfg, nil, map[string]interface{}{
			"next_rotation": cfg.RotationIntervalDays,
		})
	}

	for _, d := range toRotate {
		if e.shuttingDown.Load() {
			return
		}
		cfg := d.cfg
		if err := e.admit(cfg.ID); err != nil {
			// AlreadyInProgress or ConcurrencyLimit: leave next_rotation
			// untouched, the next tick retries.
			continue
		}
		go func() {
			defer e.release(cfg.ID)
			// Deliberately not e.ctx: an already-admitted rotation must run
			// to a terminal state even after shutdown begins canceling the
			// engine context, per the shutdown contract.
			e.runRotation(context.Background(), cfg, TriggerScheduled, "scheduler")
		}()
	}
}
