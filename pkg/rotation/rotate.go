package rotation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/meridianhq/rotatord/internal/rotation/rollback"
	"github.com/meridianhq/rotatord/pkg/provider"
)

// RotateNow runs the rotation state machine for secretID: generate a new
// value, write it through the provider, run the configured health check, and
// either commit or roll back. A non-empty reason marks the rotation as
// manual and becomes the resulting event's Initiator; pass "" for
// scheduler-triggered rotations.
func (e *Engine) RotateNow(ctx context.Context, secretID string, reason string) (RotationResult, error) {
	cfg, err := e.configFor(secretID)
	if err != nil {
		return RotationResult{SecretID: secretID, Error: err}, err
	}

	if err := e.admit(secretID); err != nil {
		return RotationResult{SecretID: secretID, Error: err}, err
	}
	defer e.release(secretID)

	trigger := TriggerScheduled
	initiator := "scheduler"
	if reason != "" {
		trigger = TriggerManual
		initiator = reason
	}

	return e.runRotation(ctx, cfg, trigger, initiator), nil
}

// admit inserts secretID into the active-rotations set, enforcing both the
// "already running" and "too many concurrent" admission rules from a single
// critical section so the two checks can't race each other.
func (e *Engine) admit(secretID string) error {
	e.activeMu.Lock()
	defer e.activeMu.Unlock()

	if _, inFlight := e.active[secretID]; inFlight {
		return &AlreadyInProgressError{SecretID: secretID}
	}
	if len(e.active) >= e.maxConcurrent {
		return &ConcurrencyLimitError{Max: e.maxConcurrent}
	}
	e.active[secretID] = struct{}{}
	e.activeWG.Add(1)
	return nil
}

func (e *Engine) release(secretID string) {
	e.activeMu.Lock()
	delete(e.active, secretID)
	e.activeMu.Unlock()
	e.activeWG.Done()
}

// runRotation executes the rotate/validate/commit-or-rollback sequence for
// an already-admitted secret. The caller is responsible for active-set
// bookkeeping; this only runs the state machine and its bookkeeping against
// history, the schedule, notifications, and audit.
func (e *Engine) runRotation(ctx context.Context, cfg SecretConfig, trigger, initiator string) RotationResult {
	start := time.Now()
	eventID := uuid.NewString()

	prov, err := e.providerFor(cfg.Provider)
	if err != nil {
		return e.bookkeepFailure(cfg, eventID, trigger, initiator, 0, start, err, nil)
	}

	previousVersion := 0
	if current, err := prov.Get(ctx, cfg.Path); err == nil {
		previousVersion = current.Version
	}

	e.emit(ObservationKindRotating, cfg.ID)
	e.notify(NotifyStarted, cfg.ID, cfg, nil, map[string]interface{}{"trigger": trigger})

	newValue, err := e.generateValue(cfg)
	if err != nil {
		return e.bookkeepFailure(cfg, eventID, trigger, initiator, previousVersion, start, fmt.Errorf("generate value: %w", err), nil)
	}

	newVersion, err := prov.Rotate(ctx, cfg.Path, newValue)
	if err != nil {
		return e.bookkeepFailure(cfg, eventID, trigger, initiator, previousVersion, start, err, nil)
	}

	var healthResult *HealthCheckResult
	if cfg.HealthCheck != nil {
		var healthy bool
		healthResult, healthy = e.runHealthCheck(ctx, cfg.ID, cfg)
		if !healthy {
			if rbErr := prov.Rollback(ctx, cfg.Path, previousVersion); rbErr != nil {
				e.logger.Error("rotation rollback for %s also failed: %v", cfg.ID, rbErr)
			}
			result := e.bookkeepFailure(cfg, eventID, trigger, initiator, previousVersion, start,
				&HealthCheckFailedError{SecretID: cfg.ID, Err: fmt.Errorf("%s", lastCheckMessage(healthResult))}, healthResult)
			e.emit(ObservationKindRolledBack, cfg.ID)
			return result
		}
	}

	// The grace timer is armed only once the rotation is committing: arming
	// it earlier would leave a pending grace-expiry goroutine for
	// previousVersion that fires InvalidateVersion after a health-check
	// failure has already rolled the provider back to previousVersion as
	// current, flipping IsValid=false on the version that is once again
	// IsCurrent=true.
	e.scheduleGraceExpiry(cfg, prov, previousVersion)

	return e.commit(cfg, eventID, trigger, initiator, previousVersion, newVersion, start, healthResult)
}

// lastCheckMessage returns the message of the most recent health check
// attempt, or a generic fallback if result has no attempts recorded.
func lastCheckMessage(result *HealthCheckResult) string {
	if result == nil || len(result.Checks) == 0 {
		return "health check failed"
	}
	return result.Checks[len(result.Checks)-1].Message
}

// generateValue produces the replacement secret value: the registered
// custom generator named by cfg.CustomRotator, or the built-in random
// generator when none is set (or the name isn't registered).
func (e *Engine) generateValue(cfg SecretConfig) (string, error) {
	if cfg.CustomRotator != "" {
		if fn, ok := e.generators[cfg.CustomRotator]; ok {
			return fn()
		}
	}
	return generateSecretValue()
}

// scheduleGraceExpiry arranges for the formerly-current version to be
// flipped invalid once its grace period elapses. A zero grace period skips
// the timer entirely, matching the spec's "grace_period_hours = 0 disables
// the grace window" rule. Providers that don't implement
// provider.VersionInvalidator silently skip the flip — the engine has no
// other way to touch their notion of validity.
func (e *Engine) scheduleGraceExpiry(cfg SecretConfig, prov provider.Provider, previousVersion int) {
	if cfg.GracePeriodHours <= 0 || previousVersion <= 0 {
		return
	}
	invalidator, ok := prov.(provider.VersionInvalidator)
	if !ok {
		return
	}

	delay := time.Duration(cfg.GracePeriodHours) * time.Hour
	secretID, path, version := cfg.ID, cfg.Path, previousVersion
	go func() {
		select {
		case <-time.After(delay):
		case <-e.ctx.Done():
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := invalidator.InvalidateVersion(ctx, path, version); err != nil {
			e.logger.Warn("grace period expiry for %s version %d: %v", secretID, version, err)
			return
		}
		e.emit("grace_period_ended", secretID)
	}()
}

// commit finalizes a successful rotation: append the completed event,
// advance the schedule, reset the failure count, and fire success
// notifications/audit.
func (e *Engine) commit(cfg SecretConfig, eventID, trigger, initiator string, previousVersion, newVersion int, start time.Time, healthResult *HealthCheckResult) RotationResult {
	now := time.Now()
	event := RotationEvent{
		ID:          eventID,
		SecretID:    cfg.ID,
		Type:        trigger,
		Status:      StatusCompleted,
		FromVersion: previousVersion,
		ToVersion:   newVersion,
		Initiator:   initiator,
		Timestamp:   now,
		DurationMs:  now.Sub(start).Milliseconds(),
		HealthCheck: healthResult,
	}
	_ = e.history.Append(cfg.ID, event)

	e.mu.Lock()
	if entry, ok := e.schedule[cfg.ID]; ok {
		entry.schedule.LastRotation = &now
		entry.schedule.NextRotation = now.Add(time.Duration(cfg.RotationIntervalDays) * 24 * time.Hour)
		entry.schedule.FailureCount = 0
		entry.schedule.BackoffUntil = nil
		entry.warnedThisCycle = false
	}
	e.mu.Unlock()

	result := RotationResult{
		Success:         true,
		SecretID:        cfg.ID,
		PreviousVersion: previousVersion,
		NewVersion:      newVersion,
		Event:           event,
	}

	e.emit(ObservationKindRotated, cfg.ID)
	e.notify(NotifyCompleted, cfg.ID, cfg, &result, nil)
	e.audit("rotate", cfg.ID, true, map[string]interface{}{
		"from_version": previousVersion,
		"to_version":   newVersion,
		"trigger":      trigger,
	})

	return result
}

// bookkeepFailure records a failed rotation attempt: append the failed
// event, apply the backoff schedule, and fire failure notifications/audit.
// It is also the path a health-check-triggered rollback runs through: the
// spec's S3 scenario counts that as a "failed" history event (the provider
// side was already rolled back by the caller before this is reached), so
// the event keeps its trigger as Type and its Status stays "failed" rather
// than becoming "rolled_back".
func (e *Engine) bookkeepFailure(cfg SecretConfig, eventID, trigger, initiator string, previousVersion int, start time.Time, cause error, healthResult *HealthCheckResult) RotationResult {
	now := time.Now()
	event := RotationEvent{
		ID:          eventID,
		SecretID:    cfg.ID,
		Type:        trigger,
		Status:      StatusFailed,
		FromVersion: previousVersion,
		Initiator:   initiator,
		Timestamp:   now,
		DurationMs:  now.Sub(start).Milliseconds(),
		HealthCheck: healthResult,
		Error:       cause.Error(),
	}
	_ = e.history.Append(cfg.ID, event)

	var failureCount int
	e.mu.Lock()
	if entry, ok := e.schedule[cfg.ID]; ok {
		entry.schedule.FailureCount++
		failureCount = entry.schedule.FailureCount
		entry.schedule.BackoffUntil = backoffUntil(now, failureCount)
	}
	e.mu.Unlock()

	result := RotationResult{
		Success:         false,
		SecretID:        cfg.ID,
		PreviousVersion: previousVersion,
		Event:           event,
		Error:           &RotationFailedError{SecretID: cfg.ID, Err: cause},
	}

	e.emit(ObservationKindFailed, cfg.ID)
	e.notify(NotifyFailed, cfg.ID, cfg, &result, map[string]interface{}{"error": cause.Error()})
	e.audit("rotate", cfg.ID, false, map[string]interface{}{
		"error":         cause.Error(),
		"failure_count": failureCount,
	})

	return result
}

// backoffUntil computes the next retry instant from the exponential
// schedule: 1m, 2m, 4m, ... capped at 60m.
func backoffUntil(now time.Time, failureCount int) *time.Time {
	if failureCount <= 0 {
		return nil
	}
	backoff := time.Duration(1<<uint(failureCount-1)) * time.Minute
	if backoff > 60*time.Minute {
		backoff = 60 * time.Minute
	}
	until := now.Add(backoff)
	return &until
}

// Rollback restores secretID to version, independent of the scheduler: it
// captures the current version, rolls back through the provider, re-runs
// the health check if one is configured, and on health failure reverses
// once more to the version that was current before this call (recursion
// depth 1, matching the spec's "re-rollback on failed rollback" rule).
func (e *Engine) Rollback(ctx context.Context, secretID string, version int) error {
	cfg, err := e.configFor(secretID)
	if err != nil {
		return err
	}
	prov, err := e.providerFor(cfg.Provider)
	if err != nil {
		return err
	}

	current, err := prov.Get(ctx, cfg.Path)
	fromVersion := 0
	if err == nil {
		fromVersion = current.Version
	}

	restore := func(ctx context.Context) error {
		return prov.Rollback(ctx, cfg.Path, version)
	}
	var verify func(ctx context.Context) error
	if cfg.HealthCheck != nil {
		verify = func(ctx context.Context) error {
			result, healthy := e.runHealthCheck(ctx, cfg.ID, cfg)
			if !healthy {
				return fmt.Errorf("%s", lastCheckMessage(result))
			}
			return nil
		}
	}

	req := rollback.RollbackRequest{
		Service:         cfg.ID,
		Environment:     envField(cfg.Tags),
		Reason:          "manual rollback",
		PreviousVersion: fmt.Sprintf("%d", version),
		FailedVersion:   fmt.Sprintf("%d", fromVersion),
		RestoreFunc:     restore,
		VerifyFunc:      verify,
		InitiatedBy:     "rollback",
	}

	_, rbErr := e.rollbackMgr.ManualRollback(ctx, req)
	if rbErr != nil {
		if fromVersion > 0 {
			if reErr := prov.Rollback(ctx, cfg.Path, fromVersion); reErr != nil {
				e.logger.Error("re-rollback to %d for %s also failed: %v", fromVersion, cfg.ID, reErr)
			}
		}
		e.audit("rollback", cfg.ID, false, map[string]interface{}{
			"target_version": version,
			"error":           rbErr.Error(),
		})
		var notFound *provider.VersionNotFoundError
		if errors.As(rbErr, &notFound) {
			return &VersionNotFoundError{SecretID: cfg.ID, Version: version, Err: rbErr}
		}
		return &HealthCheckFailedError{SecretID: cfg.ID, Err: rbErr}
	}

	now := time.Now()
	event := RotationEvent{
		ID:          uuid.NewString(),
		SecretID:    cfg.ID,
		Type:        TriggerRollback,
		Status:      StatusRolledBack,
		FromVersion: fromVersion,
		ToVersion:   version,
		Initiator:   "rollback",
		Timestamp:   now,
	}
	_ = e.history.Append(cfg.ID, event)

	e.emit(ObservationKindRolledBack, cfg.ID)
	e.audit("rollback", cfg.ID, true, map[string]interface{}{
		"from_version": fromVersion,
		"to_version":   version,
	})
	return nil
}

// audit constructs and records an AuditRecord for action against secretID.
// Errors from the sink are logged, never propagated: the spec requires
// audit and notification failures to never alter a rotation's outcome.
func (e *Engine) audit(action, secretID string, success bool, metadata map[string]interface{}) {
	if e.auditLogger == nil {
		return
	}
	if err := e.auditLogger.Record(newAuditRecord(action, secretID, success, metadata)); err != nil {
		e.logger.Warn("audit record for %s %s: %v", action, secretID, err)
	}
}

// notify dispatches kind through the notification manager if cfg's
// NotificationConfig (engine-wide) subscribes to it. Delivery is
// fire-and-forget: the notifications.Manager owns its own queue and worker,
// so this call never blocks the rotation on a slow channel.
func (e *Engine) notify(kind, secretID string, cfg SecretConfig, result *RotationResult, extra map[string]interface{}) {
	if e.notifier == nil || !e.notifyCfg.subscribes(kind) {
		return
	}
	event, ok := buildRotationNotification(kind, secretID, cfg, result, extra)
	if !ok {
		return
	}
	e.notifier.Send(event)
}
