package rotation

import "time"

// Event kinds a RotationEvent's Type field can carry. "scheduled" and
// "manual" describe what triggered the rotation; "rollback" and
// "emergency" describe how it differs from the ordinary path.
const (
	TriggerScheduled = "scheduled"
	TriggerManual    = "manual"
	TriggerEmergency = "emergency"
	TriggerRollback  = "rollback"
)

// Event statuses a RotationEvent or RotationSchedule can be in.
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusValidating = "validating"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusRolledBack = "rolled_back"
)

// Notification kinds the engine emits through NotificationConfig's
// subscribed-events list. These are independent of the internal
// notifications.EventType vocabulary; notify.go maps between the two.
const (
	NotifyScheduled      = "rotation_scheduled"
	NotifyStarted        = "rotation_started"
	NotifyCompleted      = "rotation_completed"
	NotifyFailed         = "rotation_failed"
	NotifyExpiryWarning  = "expiry_warning"
)

// HealthCheckConfig describes the post-rotation health check a secret
// declares. Exactly one of Endpoint, FunctionName, or Query is meaningful,
// selected by Type.
type HealthCheckConfig struct {
	// Type selects the probe: "http", "function", or "query".
	Type string

	// Endpoint is the URL probed when Type is "http".
	Endpoint string

	// FunctionName looks up a probe registered with WithHealthFunction
	// when Type is "function".
	FunctionName string

	// Query is the SQL text run against the database registered with
	// WithQueryDB when Type is "query".
	Query string

	// TimeoutMs bounds a single attempt. Zero uses a type-specific
	// default.
	TimeoutMs int

	// Retries is the number of additional attempts after the first.
	// Zero means exactly one attempt.
	Retries int

	// RetryDelayMs is how long to wait between attempts.
	RetryDelayMs int
}

// Validate reports an error describing why cfg can't be scheduled, or nil
// if it's well-formed. A nil receiver is valid (no health check declared).
func (cfg *HealthCheckConfig) Validate() error {
	if cfg == nil {
		return nil
	}
	switch cfg.Type {
	case "http":
		if cfg.Endpoint == "" {
			return &InvalidConfigError{Field: "health_check.endpoint", Reason: "required for type http"}
		}
	case "function":
		if cfg.FunctionName == "" {
			return &InvalidConfigError{Field: "health_check.function_name", Reason: "required for type function"}
		}
	case "query":
		if cfg.Query == "" {
			return &InvalidConfigError{Field: "health_check.query", Reason: "required for type query"}
		}
	default:
		return &InvalidConfigError{Field: "health_check.type", Reason: "must be one of http, function, query, got " + cfg.Type}
	}
	return nil
}

// SecretConfig describes one secret the engine should schedule rotations
// for.
type SecretConfig struct {
	// ID uniquely identifies this secret within the engine. It is not
	// interpreted by any provider.
	ID string

	// Name is a human-readable label. The engine does not read it: logs,
	// audit records, and notifications identify the secret by ID.
	Name string

	// Provider is the registered provider tag (env, aws, vault,
	// supabase, ...) that owns Path.
	Provider string

	// Path is the provider-specific address of the secret.
	Path string

	// RotationIntervalDays is how often the secret is rotated on the
	// scheduler's own initiative. Must be positive.
	RotationIntervalDays int

	// GracePeriodHours is how long the formerly current version stays
	// valid after a successful rotation, before the engine invalidates
	// it. Zero disables the grace window.
	GracePeriodHours int

	// NotifyBeforeDays, if positive, arranges an expiry_warning
	// notification this many days before the next scheduled rotation.
	NotifyBeforeDays int

	// Enabled gates whether the scheduler considers this secret at all.
	// Schedule still accepts a disabled config; it just never fires.
	Enabled bool

	// CustomRotator, if set, looks up a GeneratorFunc registered with
	// WithGenerator instead of using the built-in random generator.
	CustomRotator string

	// HealthCheck, if non-nil, runs after every successful Rotate call
	// before the rotation is considered complete.
	HealthCheck *HealthCheckConfig

	// Tags are free-form labels. Only the "environment" tag is read: it
	// becomes the Environment of notifications and rollback requests.
	// Tags are not copied into audit records.
	Tags map[string]string

	// Metadata is free-form provider-agnostic context carried through
	// to notifications. It is not copied into audit records.
	Metadata map[string]interface{}
}

// Validate reports an error describing why cfg can't be scheduled, or nil
// if it's well-formed.
func (cfg SecretConfig) Validate() error {
	if cfg.ID == "" {
		return &InvalidConfigError{Field: "id", Reason: "required"}
	}
	if cfg.Provider == "" {
		return &InvalidConfigError{Field: "provider", Reason: "required"}
	}
	if cfg.Path == "" {
		return &InvalidConfigError{Field: "path", Reason: "required"}
	}
	if cfg.RotationIntervalDays <= 0 {
		return &InvalidConfigError{Field: "rotation_interval_days", Reason: "must be positive"}
	}
	if cfg.GracePeriodHours < 0 {
		return &InvalidConfigError{Field: "grace_period_hours", Reason: "must not be negative"}
	}
	if cfg.NotifyBeforeDays < 0 {
		return &InvalidConfigError{Field: "notify_before_days", Reason: "must not be negative"}
	}
	return cfg.HealthCheck.Validate()
}

// RotationSchedule is the engine's live bookkeeping for one secret: when
// it's due next, whether it's paused, and its recent failure history.
type RotationSchedule struct {
	SecretID     string
	NextRotation time.Time
	LastRotation *time.Time
	Paused       bool
	PauseReason  string
	FailureCount int
	BackoffUntil *time.Time
}

// HealthCheckAttempt is one probe attempt within a HealthCheckResult, in
// the order it was made.
type HealthCheckAttempt struct {
	Status    string
	Message   string
	LatencyMs int64
	At        time.Time
}

// HealthCheckResult is the full outcome of running a secret's configured
// health check: every attempt made (stopping at the first healthy one),
// the worst aggregated status across them, and the wall-clock cost of the
// whole check, including inter-attempt delays.
type HealthCheckResult struct {
	Checks         []HealthCheckAttempt
	Status         string
	TotalLatencyMs int64
	CheckedAt      time.Time
}

// RotationEvent is one entry in a secret's rotation history: a rotation
// attempt, a rollback, or a failure, with enough detail to reconstruct what
// happened without re-querying the provider.
type RotationEvent struct {
	ID          string
	SecretID    string
	Type        string
	Status      string
	FromVersion int
	ToVersion   int
	Initiator   string
	Timestamp   time.Time
	DurationMs  int64

	// HealthCheck carries the full aggregated result when the secret has
	// a health check configured; nil otherwise.
	HealthCheck *HealthCheckResult

	Error    string
	Metadata map[string]string
}

// RotationResult is what RotateNow returns to its caller: the outcome plus
// enough detail to act on it without re-reading history. Rollback returns
// only an error.
type RotationResult struct {
	Success         bool
	SecretID        string
	PreviousVersion int
	NewVersion      int
	Event           RotationEvent
	Error           error
}

// Observation is a single state-transition notice delivered to Subscribe
// channels. It carries no payload beyond identity and timing; subscribers
// that need detail call GetHistory or GetSchedule.
type Observation struct {
	Kind     string
	SecretID string
	At       time.Time
}
