// Package vault implements provider.Provider against a HashiCorp Vault KV
// v2 secrets engine over its HTTP API. There is no official Go client in
// this dependency set, so the package speaks the REST API directly with
// net/http, the same approach the Supabase provider takes.
package vault

import (
	"context"
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/meridianhq/rotatord/pkg/provider"
)

const (
	DefaultVaultAddr = "https://vault.example.com:8200"
	DefaultTimeout   = 30 * time.Second
)

var errSecretNotFound = errors.New("vault: secret not found")

// Config holds Vault-specific configuration for one provider instance.
type Config struct {
	Address    string `yaml:"address"`
	Mount      string `yaml:"mount"`
	Token      string `yaml:"token"`
	AuthMethod string `yaml:"auth_method"`
	Namespace  string `yaml:"namespace"`

	UserpassUsername string `yaml:"userpass_username"`
	UserpassPassword string `yaml:"userpass_password"`
	K8SRole          string `yaml:"k8s_role"`

	TLSSkip bool `yaml:"tls_skip"`
}

// VaultClient is the subset of Vault's KV v2 HTTP API this provider needs.
// Declaring it lets tests substitute a fake without a running Vault.
type VaultClient interface {
	Authenticate(ctx context.Context) error
	ReadKV(ctx context.Context, path string, version int) (*kvReadResponse, error)
	WriteKV(ctx context.Context, path string, data map[string]interface{}) (int, error)
	Metadata(ctx context.Context, path string) (*kvMetadataResponse, error)
	DestroyVersion(ctx context.Context, path string, version int) error
	Health(ctx context.Context) (sealed bool, latency time.Duration, err error)
	Close() error
}

// HTTPVaultClient implements VaultClient over Vault's HTTP API.
type HTTPVaultClient struct {
	config Config
	token  string
}

// Provider implements provider.Provider against a Vault KV v2 mount. Each
// secret's path maps to a KV v2 entry with a single "value" field; Vault's
// own version numbers are used directly as this provider's version
// numbers, since KV v2 already assigns them as a monotonic integer
// sequence per path.
type Provider struct {
	client VaultClient
	config Config
}

// New builds a Vault provider from its config map: address, mount (default
// "secret"), auth_method (default "token") plus per-method fields, with
// VAULT_* environment variables overriding config values the way the
// official Vault CLI does.
func New(configMap map[string]interface{}) (*Provider, error) {
	config := Config{
		Address:    DefaultVaultAddr,
		Mount:      "secret",
		AuthMethod: "token",
	}

	if addr, ok := configMap["address"].(string); ok && addr != "" {
		config.Address = addr
	}
	if mount, ok := configMap["mount"].(string); ok && mount != "" {
		config.Mount = mount
	}
	if token, ok := configMap["token"].(string); ok {
		config.Token = token
	}
	if authMethod, ok := configMap["auth_method"].(string); ok && authMethod != "" {
		config.AuthMethod = authMethod
	}
	if namespace, ok := configMap["namespace"].(string); ok {
		config.Namespace = namespace
	}
	if username, ok := configMap["userpass_username"].(string); ok {
		config.UserpassUsername = username
	}
	if password, ok := configMap["userpass_password"].(string); ok {
		config.UserpassPassword = password
	}
	if role, ok := configMap["k8s_role"].(string); ok {
		config.K8SRole = role
	}
	if tlsSkip, ok := configMap["tls_skip"].(bool); ok {
		config.TLSSkip = tlsSkip
	}

	if addr := os.Getenv("VAULT_ADDR"); addr != "" {
		config.Address = addr
	}
	if token := os.Getenv("VAULT_TOKEN"); token != "" {
		config.Token = token
	}
	if namespace := os.Getenv("VAULT_NAMESPACE"); namespace != "" {
		config.Namespace = namespace
	}
	if tlsSkip := os.Getenv("VAULT_SKIP_VERIFY"); tlsSkip == "1" || strings.ToLower(tlsSkip) == "true" {
		config.TLSSkip = true
	}

	return &Provider{
		client: &HTTPVaultClient{config: config},
		config: config,
	}, nil
}

// NewWithClient builds a Provider around an already-constructed client,
// used by tests to inject a fake VaultClient.
func NewWithClient(client VaultClient, config Config) *Provider {
	return &Provider{client: client, config: config}
}

func (p *Provider) Name() string { return "vault" }

func (p *Provider) Get(ctx context.Context, path string) (provider.SecretValue, error) {
	if err := p.client.Authenticate(ctx); err != nil {
		return provider.SecretValue{}, &provider.BackendUnavailableError{Provider: p.Name(), Op: "authenticate", Err: err}
	}

	resp, err := p.client.ReadKV(ctx, path, 0)
	if err != nil {
		return provider.SecretValue{}, p.translateError(err, path)
	}

	value, _ := resp.Data.Data["value"].(string)
	return provider.SecretValue{
		Value:   value,
		Version: resp.Data.Metadata.Version,
		Metadata: map[string]string{
			"mount": p.config.Mount,
			"path":  path,
		},
	}, nil
}

func (p *Provider) Rotate(ctx context.Context, path string, newValue string) (int, error) {
	if err := p.client.Authenticate(ctx); err != nil {
		return 0, &provider.BackendUnavailableError{Provider: p.Name(), Op: "authenticate", Err: err}
	}

	version, err := p.client.WriteKV(ctx, path, map[string]interface{}{"value": newValue})
	if err != nil {
		return 0, p.translateError(err, path)
	}
	return version, nil
}

// Rollback reads the value stored at version and writes it again as a new
// KV v2 version. Vault's KV v2 engine has no operation to move the
// "current" pointer backward in place — every write, including a
// rollback, creates a new version — so the restored value simply becomes
// the newest version rather than reusing the old version number.
func (p *Provider) Rollback(ctx context.Context, path string, version int) error {
	if err := p.client.Authenticate(ctx); err != nil {
		return &provider.BackendUnavailableError{Provider: p.Name(), Op: "authenticate", Err: err}
	}

	resp, err := p.client.ReadKV(ctx, path, version)
	if err != nil {
		if errors.Is(err, errSecretNotFound) {
			return &provider.VersionNotFoundError{Provider: p.Name(), Path: path, Version: version}
		}
		return p.translateError(err, path)
	}

	value, _ := resp.Data.Data["value"].(string)
	if _, err := p.client.WriteKV(ctx, path, map[string]interface{}{"value": value}); err != nil {
		return p.translateError(err, path)
	}
	return nil
}

func (p *Provider) ListVersions(ctx context.Context, path string) ([]provider.SecretVersion, error) {
	if err := p.client.Authenticate(ctx); err != nil {
		return nil, &provider.BackendUnavailableError{Provider: p.Name(), Op: "authenticate", Err: err}
	}

	meta, err := p.client.Metadata(ctx, path)
	if err != nil {
		return nil, p.translateError(err, path)
	}

	versions := make([]provider.SecretVersion, 0, len(meta.Data.Versions))
	for key, v := range meta.Data.Versions {
		num, err := parseVersionKey(key)
		if err != nil {
			continue
		}
		created, _ := time.Parse(time.RFC3339, v.CreatedTime)
		versions = append(versions, provider.SecretVersion{
			Version:   num,
			CreatedAt: created,
			IsCurrent: num == meta.Data.CurrentVersion,
			IsValid:   !v.Destroyed && v.DeletionTime == "",
			CreatedBy: "vault",
		})
	}
	return versions, nil
}

// DeleteVersion permanently destroys a version's payload. Refuses to
// destroy the current version.
func (p *Provider) DeleteVersion(ctx context.Context, path string, version int) error {
	if err := p.client.Authenticate(ctx); err != nil {
		return &provider.BackendUnavailableError{Provider: p.Name(), Op: "authenticate", Err: err}
	}

	meta, err := p.client.Metadata(ctx, path)
	if err != nil {
		return p.translateError(err, path)
	}
	if version == meta.Data.CurrentVersion {
		return &provider.RejectedError{Provider: p.Name(), Op: "delete_version", Reason: "cannot delete current version"}
	}
	if _, ok := meta.Data.Versions[strconv.Itoa(version)]; !ok {
		return &provider.VersionNotFoundError{Provider: p.Name(), Path: path, Version: version}
	}

	if err := p.client.DestroyVersion(ctx, path, version); err != nil {
		return p.translateError(err, path)
	}
	return nil
}

func (p *Provider) HealthCheck(ctx context.Context) (provider.HealthCheckResult, error) {
	sealed, latency, err := p.client.Health(ctx)
	if err != nil {
		return provider.HealthCheckResult{
			Status:    "unhealthy",
			Message:   err.Error(),
			Latency:   latency,
			CheckedAt: time.Now(),
		}, nil
	}
	if sealed {
		return provider.HealthCheckResult{
			Status:    "unhealthy",
			Message:   "vault is sealed",
			Latency:   latency,
			CheckedAt: time.Now(),
		}, nil
	}
	return provider.HealthCheckResult{
		Status:    "healthy",
		Latency:   latency,
		CheckedAt: time.Now(),
	}, nil
}

func (p *Provider) translateError(err error, path string) error {
	if errors.Is(err, errSecretNotFound) {
		return &provider.NotFoundError{Provider: p.Name(), Path: path}
	}

	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "permission denied"), strings.Contains(errStr, "403"):
		return &provider.RejectedError{Provider: p.Name(), Op: "call", Reason: err.Error()}
	default:
		return &provider.BackendUnavailableError{Provider: p.Name(), Op: "call", Err: err}
	}
}
