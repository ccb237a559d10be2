// Package config loads the YAML document describing which secrets the
// rotation engine manages, the provider backends they live in, and how the
// engine should notify on rotation events.
package config

import (
	"fmt"
	"os"
	"time"

	dserrors "github.com/meridianhq/rotatord/internal/errors"
	"github.com/meridianhq/rotatord/internal/logging"
	"github.com/meridianhq/rotatord/pkg/rotation"
	"gopkg.in/yaml.v3"
)

// Config holds the runtime configuration: the path it was loaded from and
// the parsed Definition once Load succeeds.
type Config struct {
	Path       string
	Logger     *logging.Logger
	Definition *Definition
}

// Definition is the top-level shape of the engine's YAML config file.
type Definition struct {
	Version                int                       `yaml:"version"`
	CheckIntervalSeconds    int                       `yaml:"check_interval_seconds,omitempty"`
	MaxConcurrentRotations  int                       `yaml:"max_concurrent_rotations,omitempty"`
	EnvPassphrase          string                    `yaml:"env_passphrase,omitempty"`
	Providers              map[string]ProviderConfig `yaml:"providers,omitempty"`
	Secrets                []SecretDefinition        `yaml:"secrets"`
	Notifications          NotificationDefinition    `yaml:"notifications,omitempty"`
}

// ProviderConfig carries the loosely-typed config map a provider factory in
// pkg/provider.Registry is constructed with. Config captures every field
// the YAML mapping node holds beyond the ones named explicitly, which is
// exactly the map[string]interface{} shape RegisterDefaults's factories
// expect.
type ProviderConfig struct {
	Config map[string]interface{} `yaml:",inline"`
}

// HealthCheckDefinition mirrors rotation.HealthCheckConfig's fields for YAML
// unmarshaling.
type HealthCheckDefinition struct {
	Type         string `yaml:"type"`
	Endpoint     string `yaml:"endpoint,omitempty"`
	FunctionName string `yaml:"function_name,omitempty"`
	Query        string `yaml:"query,omitempty"`
	TimeoutMs    int    `yaml:"timeout_ms,omitempty"`
	Retries      int    `yaml:"retries,omitempty"`
	RetryDelayMs int    `yaml:"retry_delay_ms,omitempty"`
}

// SecretDefinition mirrors rotation.SecretConfig's fields for YAML
// unmarshaling. Enabled defaults to true: a secret entry with no explicit
// "enabled: false" is scheduled.
type SecretDefinition struct {
	ID                   string                 `yaml:"id"`
	Name                 string                 `yaml:"name,omitempty"`
	Provider             string                 `yaml:"provider"`
	Path                 string                 `yaml:"path"`
	RotationIntervalDays int                    `yaml:"rotation_interval_days"`
	GracePeriodHours     int                    `yaml:"grace_period_hours,omitempty"`
	NotifyBeforeDays     int                    `yaml:"notify_before_days,omitempty"`
	Enabled              *bool                  `yaml:"enabled,omitempty"`
	CustomRotator        string                 `yaml:"custom_rotator,omitempty"`
	HealthCheck          *HealthCheckDefinition `yaml:"health_check,omitempty"`
	Tags                 map[string]string      `yaml:"tags,omitempty"`
	Metadata             map[string]interface{} `yaml:"metadata,omitempty"`
}

// NotificationChannelDefinition mirrors rotation.NotificationChannelConfig.
type NotificationChannelDefinition struct {
	Type   string                 `yaml:"type"`
	Config map[string]interface{} `yaml:",inline"`
}

// NotificationDefinition mirrors rotation.NotificationConfig.
type NotificationDefinition struct {
	Events   []string                         `yaml:"events,omitempty"`
	Channels []NotificationChannelDefinition `yaml:"channels,omitempty"`
}

// Load reads and parses the YAML config file at c.Path.
func (c *Config) Load() error {
	data, err := os.ReadFile(c.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return dserrors.ConfigError{
				Field:      "path",
				Value:      c.Path,
				Message:    "configuration file not found",
				Suggestion: "create a rotatord.yaml describing the secrets to manage",
			}
		}
		return dserrors.UserError{
			Message:    "failed to read configuration file",
			Details:    err.Error(),
			Suggestion: "check file permissions and path",
			Err:        err,
		}
	}

	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return dserrors.SimplifyError(fmt.Errorf("yaml: %w", err))
	}

	if def.Version != 0 {
		return dserrors.ConfigError{
			Field:      "version",
			Value:      def.Version,
			Message:    "unsupported configuration version",
			Suggestion: "set 'version: 0' at the top of the configuration file",
		}
	}

	c.Definition = &def
	return nil
}

// CheckInterval returns the scheduler tick interval, defaulting to
// rotation.DefaultCheckInterval when unset.
func (c *Config) CheckInterval() time.Duration {
	if c.Definition == nil || c.Definition.CheckIntervalSeconds <= 0 {
		return rotation.DefaultCheckInterval
	}
	return time.Duration(c.Definition.CheckIntervalSeconds) * time.Second
}

// MaxConcurrentRotations returns the engine-wide concurrency budget,
// defaulting to rotation.DefaultMaxConcurrentRotations when unset.
func (c *Config) MaxConcurrentRotations() int {
	if c.Definition == nil || c.Definition.MaxConcurrentRotations <= 0 {
		return rotation.DefaultMaxConcurrentRotations
	}
	return c.Definition.MaxConcurrentRotations
}

// ProviderConfigs returns the per-provider-tag config maps declared under
// the top-level "providers" key, ready for rotation.WithProviderConfig.
func (c *Config) ProviderConfigs() map[string]map[string]interface{} {
	out := make(map[string]map[string]interface{})
	if c.Definition == nil {
		return out
	}
	for tag, pc := range c.Definition.Providers {
		out[tag] = pc.Config
	}
	return out
}

// SecretConfigs converts every declared secret into a rotation.SecretConfig,
// validating each one. A secret that fails validation is omitted from the
// result and its error appended to the returned slice, so one malformed
// entry doesn't block the rest of the file from loading.
func (c *Config) SecretConfigs() ([]rotation.SecretConfig, []error) {
	if c.Definition == nil {
		return nil, nil
	}

	var configs []rotation.SecretConfig
	var errs []error

	for _, sd := range c.Definition.Secrets {
		cfg := rotation.SecretConfig{
			ID:                   sd.ID,
			Name:                 sd.Name,
			Provider:             sd.Provider,
			Path:                 sd.Path,
			RotationIntervalDays: sd.RotationIntervalDays,
			GracePeriodHours:     sd.GracePeriodHours,
			NotifyBeforeDays:     sd.NotifyBeforeDays,
			Enabled:              sd.Enabled == nil || *sd.Enabled,
			CustomRotator:        sd.CustomRotator,
			Tags:                 sd.Tags,
			Metadata:             sd.Metadata,
		}
		if sd.HealthCheck != nil {
			cfg.HealthCheck = &rotation.HealthCheckConfig{
				Type:         sd.HealthCheck.Type,
				Endpoint:     sd.HealthCheck.Endpoint,
				FunctionName: sd.HealthCheck.FunctionName,
				Query:        sd.HealthCheck.Query,
				TimeoutMs:    sd.HealthCheck.TimeoutMs,
				Retries:      sd.HealthCheck.Retries,
				RetryDelayMs: sd.HealthCheck.RetryDelayMs,
			}
		}

		if err := cfg.Validate(); err != nil {
			errs = append(errs, dserrors.ConfigError{
				Field:      fmt.Sprintf("secrets[%s]", sd.ID),
				Message:    err.Error(),
				Suggestion: "check the secret entry against the documented fields",
			})
			continue
		}

		configs = append(configs, cfg)
	}

	return configs, errs
}

// NotificationConfig converts the declared notifications block into a
// rotation.NotificationConfig, ready for rotation.WithNotifications.
func (c *Config) NotificationConfig() rotation.NotificationConfig {
	if c.Definition == nil {
		return rotation.NotificationConfig{}
	}

	out := rotation.NotificationConfig{Events: c.Definition.Notifications.Events}
	for _, ch := range c.Definition.Notifications.Channels {
		out.Channels = append(out.Channels, rotation.NotificationChannelConfig{
			Type:   ch.Type,
			Config: ch.Config,
		})
	}
	return out
}
