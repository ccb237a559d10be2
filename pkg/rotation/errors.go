package rotation

import "fmt"

// InvalidConfigError indicates a SecretConfig (or HealthCheckConfig) failed
// validation before it was ever scheduled.
type InvalidConfigError struct {
	Field  string
	Reason string
}

func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("invalid config: %s: %s", e.Field, e.Reason)
}

// UnknownProviderError indicates a SecretConfig named a provider tag the
// engine's Registry has no factory for.
type UnknownProviderError struct {
	Tag string
}

func (e *UnknownProviderError) Error() string {
	return "unknown provider: " + e.Tag
}

// NotConfiguredError indicates an operation addressed a secret ID that was
// never scheduled (or was unscheduled since).
type NotConfiguredError struct {
	SecretID string
}

func (e *NotConfiguredError) Error() string {
	return "secret not configured: " + e.SecretID
}

// AlreadyInProgressError indicates RotateNow was called for a secret that
// already has a rotation in flight.
type AlreadyInProgressError struct {
	SecretID string
}

func (e *AlreadyInProgressError) Error() string {
	return "rotation already in progress: " + e.SecretID
}

// ConcurrencyLimitError indicates RotateNow was refused because the
// engine's max-concurrent-rotations budget is exhausted.
type ConcurrencyLimitError struct {
	Max int
}

func (e *ConcurrencyLimitError) Error() string {
	return fmt.Sprintf("concurrency limit reached: %d rotations already active", e.Max)
}

// HealthCheckFailedError indicates a rotation (or rollback) was abandoned
// because the post-write health check reported unhealthy.
type HealthCheckFailedError struct {
	SecretID string
	Err      error
}

func (e *HealthCheckFailedError) Error() string {
	msg := "health check failed: " + e.SecretID
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *HealthCheckFailedError) Unwrap() error { return e.Err }

// VersionNotFoundError wraps a provider's own VersionNotFoundError with the
// secret ID the engine was asked to roll back, since the provider only
// knows the raw path.
type VersionNotFoundError struct {
	SecretID string
	Version  int
	Err      error
}

func (e *VersionNotFoundError) Error() string {
	return fmt.Sprintf("version %d not found for %s", e.Version, e.SecretID)
}

func (e *VersionNotFoundError) Unwrap() error { return e.Err }

// RotationFailedError wraps the underlying cause of a failed rotation
// attempt (provider error, generator error, health check error) with the
// secret ID it happened to.
type RotationFailedError struct {
	SecretID string
	Err      error
}

func (e *RotationFailedError) Error() string {
	return "rotation failed for " + e.SecretID + ": " + e.Err.Error()
}

func (e *RotationFailedError) Unwrap() error { return e.Err }
