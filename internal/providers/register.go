package providers

import (
	"github.com/meridianhq/rotatord/internal/providers/vault"
	"github.com/meridianhq/rotatord/pkg/provider"
)

// RegisterDefaults registers the env, aws, vault, and supabase factories
// under their canonical provider tags. Callers that only need a subset can
// build a Registry by hand instead; this exists for the common case of
// wanting every built-in backend available.
func RegisterDefaults(registry *provider.Registry, envPassphrase string) {
	registry.Register("env", func(config map[string]interface{}) (provider.Provider, error) {
		passphrase := envPassphrase
		if p, ok := config["passphrase"].(string); ok && p != "" {
			passphrase = p
		}
		return NewEnvProvider(passphrase)
	})

	registry.Register("aws", func(config map[string]interface{}) (provider.Provider, error) {
		return NewAWSSecretsManagerProvider(config)
	})

	registry.Register("vault", func(config map[string]interface{}) (provider.Provider, error) {
		return vault.New(config)
	})

	registry.Register("supabase", func(config map[string]interface{}) (provider.Provider, error) {
		return NewSupabaseProvider(config)
	})
}
