// Package errors provides user-facing error types shared by configuration
// loading and provider bootstrapping, ahead of the point where the rotation
// engine exists to report through its own typed errors (see the error
// structs in pkg/rotation/errors.go, such as RotationFailedError).
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// UserError represents an error that should be shown to the operator with
// helpful context attached.
type UserError struct {
	Message    string
	Suggestion string
	Details    string
	Err        error
}

func (e UserError) Error() string {
	var parts []string

	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}

	if e.Details != "" {
		parts = append(parts, "\n  Details: "+e.Details)
	}

	if e.Suggestion != "" {
		parts = append(parts, "\n  Try: "+e.Suggestion)
	}

	return strings.Join(parts, "")
}

func (e UserError) Unwrap() error {
	return e.Err
}

// ConfigError represents a configuration error with helpful context.
type ConfigError struct {
	Field      string
	Value      interface{}
	Message    string
	Suggestion string
}

func (e ConfigError) Error() string {
	msg := "configuration error"
	if e.Field != "" {
		msg += fmt.Sprintf(" in field '%s'", e.Field)
	}
	if e.Value != nil {
		msg += fmt.Sprintf(" (value: %v)", e.Value)
	}
	msg += ": " + e.Message

	if e.Suggestion != "" {
		msg += "\n  " + e.Suggestion
	}

	return msg
}

// ProviderError enhances provider-specific errors with context drawn from
// the provider tag and underlying error.
func ProviderError(providerTag string, operation string, err error) error {
	return UserError{
		Message:    fmt.Sprintf("%s provider error during %s", providerTag, operation),
		Suggestion: providerSuggestion(providerTag, err),
		Err:        err,
	}
}

// providerSuggestion returns a contextual suggestion for the closed
// provider enum this engine supports: env, aws, vault, supabase.
func providerSuggestion(providerTag string, err error) string {
	errStr := err.Error()

	switch providerTag {
	case "aws":
		if strings.Contains(errStr, "credentials") || strings.Contains(errStr, "authorization") {
			return "configure AWS credentials: 'aws configure' or set AWS_PROFILE"
		}
		if strings.Contains(errStr, "AccessDenied") {
			return "check IAM permissions for secretsmanager:GetSecretValue and secretsmanager:PutSecretValue"
		}
		if strings.Contains(errStr, "ResourceNotFoundException") {
			return "verify the secret name and region"
		}
		if strings.Contains(errStr, "ThrottlingException") {
			return "AWS rate limit exceeded, the rotation will retry with backoff"
		}
	case "vault":
		if strings.Contains(errStr, "permission denied") || strings.Contains(errStr, "403") {
			return "check the Vault token's policy grants read/write on this path"
		}
		if strings.Contains(errStr, "sealed") {
			return "the Vault cluster is sealed, it must be unsealed before rotation can proceed"
		}
	case "supabase":
		if strings.Contains(errStr, "401") || strings.Contains(errStr, "unauthorized") {
			return "check the configured service role key"
		}
	}

	if strings.Contains(errStr, "timeout") {
		return "the operation timed out, check network connectivity to the provider"
	}
	if strings.Contains(errStr, "connection refused") || strings.Contains(errStr, "no such host") {
		return "unable to connect, check network and provider configuration"
	}

	return ""
}

// IsRetryable reports whether an error looks like a transient failure worth
// retrying, independent of the typed error kinds in pkg/rotation.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())
	retryablePatterns := []string{
		"timeout",
		"temporary failure",
		"connection reset",
		"broken pipe",
		"rate limit",
		"throttling",
		"too many requests",
	}

	for _, pattern := range retryablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

// SimplifyError rewrites common low-level errors into UserError/ConfigError
// with operator-facing messages, leaving already-simplified or unrecognized
// errors untouched.
func SimplifyError(err error) error {
	if err == nil {
		return nil
	}

	if _, ok := err.(UserError); ok {
		return err
	}
	if _, ok := err.(ConfigError); ok {
		return err
	}

	rootErr := err
	for {
		unwrapped := errors.Unwrap(rootErr)
		if unwrapped == nil {
			break
		}
		rootErr = unwrapped
	}
	errStr := rootErr.Error()

	switch {
	case strings.Contains(errStr, "yaml:"):
		return ConfigError{
			Message:    "invalid YAML format",
			Suggestion: "check for indentation errors and missing quotes",
		}
	case strings.Contains(errStr, "permission denied"):
		return UserError{
			Message:    "permission denied",
			Suggestion: "check file permissions or run with appropriate privileges",
			Err:        err,
		}
	case strings.Contains(errStr, "no such file or directory"):
		return UserError{
			Message:    "file or directory not found",
			Suggestion: "verify the path exists and is spelled correctly",
			Err:        err,
		}
	}

	return err
}
