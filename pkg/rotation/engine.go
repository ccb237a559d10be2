// Package rotation is the public facade of the secret rotation engine: an
// Engine schedules periodic rotations for a set of secrets spread across
// heterogeneous provider backends, runs a post-rotation health check before
// committing, and rolls back automatically when that check fails.
//
// An Engine is constructed with New, configured with a provider.Registry
// and any number of Options, then driven with Schedule/Unschedule/Start.
// Callers that only need one-off rotations (no scheduler loop) can call
// RotateNow directly without ever calling Start.
package rotation

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/meridianhq/rotatord/internal/logging"
	"github.com/meridianhq/rotatord/internal/rotation/health"
	"github.com/meridianhq/rotatord/internal/rotation/notifications"
	"github.com/meridianhq/rotatord/internal/rotation/rollback"
	"github.com/meridianhq/rotatord/pkg/provider"
)

// scheduleEntry bundles a secret's static config with its live scheduling
// state under a single lock-protected record.
type scheduleEntry struct {
	config   SecretConfig
	schedule RotationSchedule
	// warnedThisCycle prevents re-sending an expiry_warning notification
	// every scheduler tick once one has fired for the current interval.
	warnedThisCycle bool
}

// Engine is the stateful rotation scheduler. The zero value is not usable;
// construct with New.
type Engine struct {
	registry *provider.Registry

	mu       sync.RWMutex
	schedule map[string]*scheduleEntry

	providerMu      sync.Mutex
	providerConfigs map[string]map[string]interface{}
	providers       map[string]provider.Provider

	history         HistoryStore
	generators      map[string]GeneratorFunc
	healthFunctions *health.FunctionRegistry
	queryDB         interface {
		PingContext(ctx context.Context) error
	}

	notifyCfg   NotificationConfig
	notifier    *notifications.Manager
	rollbackCfg rollback.Config
	rollbackMgr *rollback.Manager
	auditLogger AuditLogger
	logger      *logging.Logger

	checkInterval time.Duration
	maxConcurrent int

	activeMu sync.Mutex
	active   map[string]struct{}
	activeWG sync.WaitGroup

	shuttingDown atomic.Bool
	ctx          context.Context
	cancel       context.CancelFunc

	subMu       sync.Mutex
	subscribers map[chan Observation]struct{}

	buildErrors []error
}

// New constructs an Engine backed by registry for resolving provider tags.
// Options configure notification channels, health-check backends,
// concurrency limits, and storage; all are optional.
func New(registry *provider.Registry, opts ...Option) *Engine {
	ctx, cancel := context.WithCancel(context.Background())

	e := &Engine{
		registry:        registry,
		schedule:        make(map[string]*scheduleEntry),
		providerConfigs: make(map[string]map[string]interface{}),
		providers:       make(map[string]provider.Provider),
		history:         newMemoryHistoryStore(),
		generators:      make(map[string]GeneratorFunc),
		healthFunctions: health.NewFunctionRegistry(),
		rollbackCfg:     rollback.DefaultConfig(),
		checkInterval:   DefaultCheckInterval,
		maxConcurrent:   DefaultMaxConcurrentRotations,
		active:          make(map[string]struct{}),
		subscribers:     make(map[chan Observation]struct{}),
		ctx:             ctx,
		cancel:          cancel,
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.logger == nil {
		e.logger = logging.New(false, false)
	}
	if e.auditLogger == nil {
		e.auditLogger = newLoggingAuditLogger(e.logger)
	}

	e.rollbackCfg.MaxRetries = 0

	queueSize := notifications.DefaultQueueSize
	notifier, errs := buildNotificationManager(e.notifyCfg, queueSize)
	e.buildErrors = append(e.buildErrors, errs...)
	for _, err := range errs {
		e.logger.Warn("notification setup: %v", err)
	}
	notifier.Start(ctx)
	e.notifier = notifier

	e.rollbackMgr = rollback.NewManager(e.rollbackCfg, e.notifier)

	health.InitMetrics()

	return e
}

// BuildErrors returns any non-fatal errors encountered while constructing
// the engine (e.g. a notification channel with invalid config). The engine
// remains usable; affected subsystems are simply degraded.
func (e *Engine) BuildErrors() []error {
	return e.buildErrors
}

// Schedule registers cfg for periodic rotation. Calling Schedule again for
// an already-known ID replaces its config but preserves its live scheduling
// state (last rotation time, failure count).
func (e *Engine) Schedule(cfg SecretConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if !e.registry.IsRegistered(cfg.Provider) {
		return &UnknownProviderError{Tag: cfg.Provider}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	entry, exists := e.schedule[cfg.ID]
	if !exists {
		entry = &scheduleEntry{
			schedule: RotationSchedule{
				SecretID:     cfg.ID,
				NextRotation: time.Now().Add(time.Duration(cfg.RotationIntervalDays) * 24 * time.Hour),
			},
		}
		e.schedule[cfg.ID] = entry
	}
	entry.config = cfg

	e.emit(ObservationKindScheduled, cfg.ID)
	e.notify(NotifyScheduled, cfg.ID, cfg, nil, nil)
	e.audit("schedule", cfg.ID, true, nil)
	return nil
}

// Unschedule removes a secret from the scheduler. It does not affect
// history already recorded for it.
func (e *Engine) Unschedule(secretID string) error {
	e.mu.Lock()
	_, exists := e.schedule[secretID]
	if exists {
		delete(e.schedule, secretID)
	}
	e.mu.Unlock()

	if !exists {
		return &NotConfiguredError{SecretID: secretID}
	}
	e.audit("unschedule", secretID, true, nil)
	return nil
}

// Pause stops a secret's scheduler-driven rotations without removing its
// config. RotateNow still works while paused.
func (e *Engine) Pause(secretID, reason string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	entry, ok := e.schedule[secretID]
	if !ok {
		return &NotConfiguredError{SecretID: secretID}
	}
	entry.schedule.Paused = true
	entry.schedule.PauseReason = reason
	e.audit("pause", secretID, true, map[string]interface{}{"reason": reason})
	return nil
}

// Resume re-enables scheduler-driven rotations for a paused secret.
func (e *Engine) Resume(secretID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	entry, ok := e.schedule[secretID]
	if !ok {
		return &NotConfiguredError{SecretID: secretID}
	}
	entry.schedule.Paused = false
	entry.schedule.PauseReason = ""
	e.audit("resume", secretID, true, nil)
	return nil
}

// GetSchedule returns the live scheduling state for secretID.
func (e *Engine) GetSchedule(secretID string) (RotationSchedule, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	entry, ok := e.schedule[secretID]
	if !ok {
		return RotationSchedule{}, &NotConfiguredError{SecretID: secretID}
	}
	return entry.schedule, nil
}

// GetSchedules returns the live scheduling state for every registered
// secret.
func (e *Engine) GetSchedules() []RotationSchedule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]RotationSchedule, 0, len(e.schedule))
	for _, entry := range e.schedule {
		out = append(out, entry.schedule)
	}
	return out
}

// GetHistory returns up to limit rotation events for secretID, most recent
// first.
func (e *Engine) GetHistory(secretID string, limit int) ([]RotationEvent, error) {
	return e.history.List(secretID, limit)
}

// GetVersions returns every version the backing provider knows about for
// secretID.
func (e *Engine) GetVersions(ctx context.Context, secretID string) ([]provider.SecretVersion, error) {
	cfg, err := e.configFor(secretID)
	if err != nil {
		return nil, err
	}
	prov, err := e.providerFor(cfg.Provider)
	if err != nil {
		return nil, err
	}
	return prov.ListVersions(ctx, cfg.Path)
}

// GetCurrentValue returns the current value of secretID from its backing
// provider. Callers embedding this in logs must redact it themselves;
// the engine does not redact provider responses.
func (e *Engine) GetCurrentValue(ctx context.Context, secretID string) (provider.SecretValue, error) {
	cfg, err := e.configFor(secretID)
	if err != nil {
		return provider.SecretValue{}, err
	}
	prov, err := e.providerFor(cfg.Provider)
	if err != nil {
		return provider.SecretValue{}, err
	}
	return prov.Get(ctx, cfg.Path)
}

// HealthCheck runs secretID's configured health check on demand, outside
// of a rotation. Returns an error only when secretID is not scheduled or has
// no health check configured. Any other problem, including a check that
// cannot be built (such as an unregistered function), is reported as an
// unhealthy HealthCheckResult, not an error.
func (e *Engine) HealthCheck(ctx context.Context, secretID string) (HealthCheckResult, error) {
	cfg, err := e.configFor(secretID)
	if err != nil {
		return HealthCheckResult{}, err
	}
	if cfg.HealthCheck == nil {
		return HealthCheckResult{}, &NotConfiguredError{SecretID: secretID}
	}
	result, _ := e.runHealthCheck(ctx, secretID, cfg)
	return *result, nil
}

// Observation kinds delivered through Subscribe.
const (
	ObservationKindScheduled = "scheduled"
	ObservationKindRotating  = "rotating"
	ObservationKindRotated   = "rotated"
	ObservationKindFailed    = "rotation_failed"
	ObservationKindRolledBack = "rolled_back"
	ObservationKindShutdown  = "shutdown"
)

// subscriberBuffer bounds each Subscribe channel; a slow subscriber drops
// observations rather than blocking the executor.
const subscriberBuffer = 32

// Subscribe returns a channel of Observations for every state transition
// the engine makes, across all secrets. The caller must keep draining it;
// call the returned cancel function to unsubscribe and release it.
func (e *Engine) Subscribe() (<-chan Observation, func()) {
	ch := make(chan Observation, subscriberBuffer)

	e.subMu.Lock()
	e.subscribers[ch] = struct{}{}
	e.subMu.Unlock()

	cancel := func() {
		e.subMu.Lock()
		if _, ok := e.subscribers[ch]; ok {
			delete(e.subscribers, ch)
			close(ch)
		}
		e.subMu.Unlock()
	}
	return ch, cancel
}

func (e *Engine) emit(kind, secretID string) {
	obs := Observation{Kind: kind, SecretID: secretID, At: time.Now()}

	e.subMu.Lock()
	defer e.subMu.Unlock()
	for ch := range e.subscribers {
		select {
		case ch <- obs:
		default:
		}
	}
}

// configFor returns a copy of secretID's configuration.
func (e *Engine) configFor(secretID string) (SecretConfig, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	entry, ok := e.schedule[secretID]
	if !ok {
		return SecretConfig{}, &NotConfiguredError{SecretID: secretID}
	}
	return entry.config, nil
}

// providerFor returns the cached Provider instance for tag, constructing
// and caching one on first use. Providers are cached per tag rather than
// per secret so a backend that keeps in-memory state (the env provider)
// behaves consistently across every secret that shares its tag.
func (e *Engine) providerFor(tag string) (provider.Provider, error) {
	e.providerMu.Lock()
	defer e.providerMu.Unlock()

	if prov, ok := e.providers[tag]; ok {
		return prov, nil
	}

	cfg := e.providerConfigs[tag]
	prov, err := e.registry.Create(tag, cfg)
	if err != nil {
		return nil, err
	}
	e.providers[tag] = prov
	return prov, nil
}

// Shutdown stops the scheduler loop (if running) and the notification
// dispatcher, waiting up to timeout for in-flight rotations to finish.
func (e *Engine) Shutdown(timeout time.Duration) error {
	if !e.shuttingDown.CompareAndSwap(false, true) {
		return nil
	}

	e.cancel()

	done := make(chan struct{})
	go func() {
		e.activeWG.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		e.logger.Warn("shutdown timed out waiting for %d active rotations", len(e.active))
	}

	e.notifier.Stop()

	e.emit(ObservationKindShutdown, "")

	e.subMu.Lock()
	for ch := range e.subscribers {
		close(ch)
	}
	e.subscribers = make(map[chan Observation]struct{})
	e.subMu.Unlock()

	return nil
}
