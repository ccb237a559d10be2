package rotation

import (
	"fmt"
	"time"

	"github.com/meridianhq/rotatord/internal/rotation/notifications"
)

// NotificationChannelConfig describes one configured delivery channel. Type
// selects which internal/rotation/notifications factory builds it; Config
// carries the channel-specific fields as a loosely-typed map, the shape
// config.go's YAML unmarshaling naturally produces.
type NotificationChannelConfig struct {
	Type   string
	Config map[string]interface{}
}

// NotificationConfig is the engine-wide notification setup: the channels to
// deliver to, and which of the engine's NotifyXxx kinds to route to them.
type NotificationConfig struct {
	Channels []NotificationChannelConfig

	// Events lists which Notify* kinds this engine emits at all. An empty
	// list means all kinds are emitted (per-channel Events config still
	// applies on top).
	Events []string
}

func (c NotificationConfig) subscribes(kind string) bool {
	if len(c.Events) == 0 {
		return true
	}
	for _, e := range c.Events {
		if e == kind {
			return true
		}
	}
	return false
}

// buildNotificationManager constructs a notifications.Manager with one
// provider per configured channel. Channels that fail to build (bad config,
// missing required field) are skipped with an error collected, not fatal to
// the others.
func buildNotificationManager(cfg NotificationConfig, queueSize int) (*notifications.Manager, []error) {
	mgr := notifications.NewManager(queueSize)
	var errs []error

	for _, ch := range cfg.Channels {
		provider, err := buildChannelProvider(ch)
		if err != nil {
			errs = append(errs, fmt.Errorf("notification channel %s: %w", ch.Type, err))
			continue
		}
		mgr.RegisterProvider(provider)
	}

	return mgr, errs
}

func buildChannelProvider(ch NotificationChannelConfig) (notifications.NotificationProvider, error) {
	switch ch.Type {
	case "webhook":
		return notifications.CreateWebhookProvider(&notifications.WebhookNotificationConfig{
			Name:            stringField(ch.Config, "name"),
			URL:             stringField(ch.Config, "url"),
			Method:          stringField(ch.Config, "method"),
			Headers:         stringMapField(ch.Config, "headers"),
			Events:          stringSliceField(ch.Config, "events"),
			PayloadTemplate: stringField(ch.Config, "payload_template"),
			TimeoutSeconds:  intField(ch.Config, "timeout_seconds"),
			Retry:           webhookRetryField(ch.Config, "retry"),
		})
	case "slack":
		return notifications.CreateSlackProvider(&notifications.SlackNotificationConfig{
			WebhookURL: stringField(ch.Config, "webhook_url"),
			Channel:    stringField(ch.Config, "channel"),
			Events:     stringSliceField(ch.Config, "events"),
			Mentions:   slackMentionsField(ch.Config, "mentions"),
		})
	case "email":
		return notifications.CreateEmailProvider(&notifications.EmailNotificationConfig{
			SMTP:      smtpField(ch.Config, "smtp"),
			From:      stringField(ch.Config, "from"),
			To:        stringSliceField(ch.Config, "to"),
			Events:    stringSliceField(ch.Config, "events"),
			BatchMode: stringField(ch.Config, "batch_mode"),
		})
	case "pagerduty":
		return notifications.CreatePagerDutyProvider(&notifications.PagerDutyNotificationConfig{
			IntegrationKey: stringField(ch.Config, "integration_key"),
			ServiceID:      stringField(ch.Config, "service_id"),
			Severity:       stringField(ch.Config, "severity"),
			Events:         stringSliceField(ch.Config, "events"),
			AutoResolve:    boolField(ch.Config, "auto_resolve"),
		})
	default:
		return nil, fmt.Errorf("unknown channel type %q", ch.Type)
	}
}

// notifyKindToEventType maps the engine's public Notify* constants onto the
// internal notifications.EventType vocabulary used by provider dispatch.
func notifyKindToEventType(kind string) (notifications.EventType, bool) {
	switch kind {
	case NotifyScheduled:
		return notifications.EventTypeScheduled, true
	case NotifyStarted:
		return notifications.EventTypeStarted, true
	case NotifyCompleted:
		return notifications.EventTypeCompleted, true
	case NotifyFailed:
		return notifications.EventTypeFailed, true
	case NotifyExpiryWarning:
		return notifications.EventTypeExpiryWarning, true
	default:
		return "", false
	}
}

// buildRotationNotification turns engine-level rotation state into the
// internal package's RotationEvent shape for delivery.
func buildRotationNotification(kind string, secretID string, cfg SecretConfig, result *RotationResult, extra map[string]interface{}) (notifications.RotationEvent, bool) {
	eventType, ok := notifyKindToEventType(kind)
	if !ok {
		return notifications.RotationEvent{}, false
	}

	event := notifications.RotationEvent{
		Type:        eventType,
		Service:     secretID,
		Environment: envField(cfg.Tags),
		Timestamp:   time.Now(),
		Metadata:    stringifyMetadata(cfg.Metadata, extra),
		InitiatedBy: "rotatord",
	}

	if result != nil {
		event.Status = resultToNotificationStatus(result)
		event.PreviousVersion = fmt.Sprintf("%d", result.PreviousVersion)
		event.NewVersion = fmt.Sprintf("%d", result.NewVersion)
		event.RotationID = result.Event.ID
		event.Duration = time.Duration(result.Event.DurationMs) * time.Millisecond
		if result.Error != nil {
			event.Error = result.Error
		}
	}

	return event, true
}

func resultToNotificationStatus(result *RotationResult) notifications.RotationStatus {
	switch result.Event.Status {
	case StatusRolledBack:
		return notifications.StatusRolledBack
	case StatusFailed:
		return notifications.StatusFailure
	default:
		if result.Success {
			return notifications.StatusSuccess
		}
		return notifications.StatusFailure
	}
}

func envField(tags map[string]string) string {
	if tags == nil {
		return ""
	}
	return tags["environment"]
}

func stringifyMetadata(base map[string]interface{}, extra map[string]interface{}) map[string]string {
	out := make(map[string]string)
	for k, v := range base {
		out[k] = fmt.Sprintf("%v", v)
	}
	for k, v := range extra {
		out[k] = fmt.Sprintf("%v", v)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func stringField(m map[string]interface{}, key string) string {
	v, _ := m[key].(string)
	return v
}

func intField(m map[string]interface{}, key string) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

func boolField(m map[string]interface{}, key string) bool {
	v, _ := m[key].(bool)
	return v
}

func stringSliceField(m map[string]interface{}, key string) []string {
	raw, ok := m[key]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func stringMapField(m map[string]interface{}, key string) map[string]string {
	raw, ok := m[key]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case map[string]string:
		return v
	case map[string]interface{}:
		out := make(map[string]string, len(v))
		for k, e := range v {
			out[k] = fmt.Sprintf("%v", e)
		}
		return out
	case map[interface{}]interface{}:
		out := make(map[string]string, len(v))
		for k, e := range v {
			out[fmt.Sprintf("%v", k)] = fmt.Sprintf("%v", e)
		}
		return out
	default:
		return nil
	}
}

func webhookRetryField(m map[string]interface{}, key string) *notifications.WebhookRetryConfig {
	raw, ok := m[key].(map[string]interface{})
	if !ok {
		return nil
	}
	return &notifications.WebhookRetryConfig{
		MaxAttempts: intField(raw, "max_attempts"),
		Backoff:     stringField(raw, "backoff"),
	}
}

func slackMentionsField(m map[string]interface{}, key string) *notifications.SlackMentionConfig {
	raw, ok := m[key].(map[string]interface{})
	if !ok {
		return nil
	}
	return &notifications.SlackMentionConfig{
		OnFailure:  stringSliceField(raw, "on_failure"),
		OnRollback: stringSliceField(raw, "on_rollback"),
	}
}

func smtpField(m map[string]interface{}, key string) notifications.SMTPConfigInput {
	raw, ok := m[key].(map[string]interface{})
	if !ok {
		return notifications.SMTPConfigInput{}
	}
	return notifications.SMTPConfigInput{
		Host:     stringField(raw, "host"),
		Port:     intField(raw, "port"),
		Username: stringField(raw, "username"),
		Password: stringField(raw, "password"),
		TLS:      boolField(raw, "tls"),
	}
}
