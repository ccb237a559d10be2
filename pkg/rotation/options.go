package rotation

import (
	"database/sql"
	"time"

	"github.com/meridianhq/rotatord/internal/logging"
	"github.com/meridianhq/rotatord/internal/rotation/health"
	"github.com/meridianhq/rotatord/internal/rotation/rollback"
)

// DefaultCheckInterval is how often the scheduler loop wakes up to look for
// due rotations and expiry warnings when WithCheckInterval isn't given.
const DefaultCheckInterval = 1 * time.Minute

// DefaultMaxConcurrentRotations bounds how many rotations can be in flight
// across all secrets at once, absent WithMaxConcurrentRotations.
const DefaultMaxConcurrentRotations = 5

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithCheckInterval overrides how often the scheduler loop evaluates due
// rotations. Below one second is rejected in favor of the default, since an
// interval that tight would just spin the loop.
func WithCheckInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d >= time.Second {
			e.checkInterval = d
		}
	}
}

// WithMaxConcurrentRotations overrides the engine-wide rotation concurrency
// budget. Values below 1 are ignored.
func WithMaxConcurrentRotations(n int) Option {
	return func(e *Engine) {
		if n >= 1 {
			e.maxConcurrent = n
		}
	}
}

// WithNotifications configures the channels and event kinds the engine
// delivers notifications to. Channels that fail to build are recorded
// against e.buildErrors rather than panicking the constructor; Schedule and
// RotateNow keep working, just without that channel.
func WithNotifications(cfg NotificationConfig) Option {
	return func(e *Engine) {
		e.notifyCfg = cfg
	}
}

// WithAuditLogger overrides the default logging-backed AuditLogger with an
// external sink.
func WithAuditLogger(logger AuditLogger) Option {
	return func(e *Engine) {
		e.auditLogger = logger
	}
}

// WithGenerator registers a named GeneratorFunc a SecretConfig can select
// via its CustomRotator field. Registering the same name twice replaces the
// prior generator.
func WithGenerator(name string, fn GeneratorFunc) Option {
	return func(e *Engine) {
		e.generators[name] = fn
	}
}

// WithHealthFunction registers a named in-process probe a SecretConfig's
// HealthCheckConfig can select via Type "function" and FunctionName.
func WithHealthFunction(name string, fn health.ProbeFunc) Option {
	return func(e *Engine) {
		e.healthFunctions.Register(name, fn)
	}
}

// WithQueryDB registers the database connection "query" type health checks
// run against. Secrets declaring a query health check without this having
// been called fail their health check with a configuration error.
func WithQueryDB(db *sql.DB) Option {
	return func(e *Engine) {
		e.queryDB = db
	}
}

// WithHistoryStore overrides the default in-memory HistoryStore, typically
// with a FileHistoryStore for durability across restarts.
func WithHistoryStore(store HistoryStore) Option {
	return func(e *Engine) {
		e.history = store
	}
}

// WithLogger overrides the engine's internal structured logger. Defaults to
// a non-debug, colored logging.Logger.
func WithLogger(logger *logging.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithRollbackConfig overrides the rollback sub-state-machine's
// configuration. The engine always forces MaxRetries to 0 regardless of
// what's passed here: SPEC_FULL's rollback semantics are a single rotation
// attempt followed by a single explicit reverse, with any further retry
// policy living in the scheduler's own backoff, not inside the rollback
// manager's retry loop.
func WithRollbackConfig(cfg rollback.Config) Option {
	return func(e *Engine) {
		cfg.MaxRetries = 0
		e.rollbackCfg = cfg
	}
}

// WithProviderConfig supplies the configuration map a provider tag's
// factory is constructed with. The engine caches one Provider instance per
// tag the first time it's needed and reuses it for every secret registered
// under that tag, so in-memory backends (like the env provider) keep their
// state across rotations of different secrets.
func WithProviderConfig(tag string, config map[string]interface{}) Option {
	return func(e *Engine) {
		e.providerConfigs[tag] = config
	}
}
