package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/meridianhq/rotatord/pkg/provider"
)

// SupabaseClient is the subset of the Supabase Vault REST API (PostgREST in
// front of the vault.secrets/vault.secret_versions tables) this provider
// calls. Declaring it lets tests substitute a fake without a running
// Supabase project, mirroring the Vault and AWS providers' style.
type SupabaseClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// SupabaseConfig holds Supabase-specific configuration for one provider
// instance.
type SupabaseConfig struct {
	ProjectURL string `yaml:"project_url"`
	ServiceKey string `yaml:"service_key"`
	Schema     string `yaml:"schema"`
}

type supabaseVersionRow struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Value     string    `json:"value"`
	Sequence  int       `json:"sequence"`
	IsCurrent bool      `json:"is_current"`
	CreatedAt time.Time `json:"created_at"`
}

// SupabaseProvider implements provider.Provider against Supabase Vault via
// PostgREST. Each secret's path maps to a "name" column in a
// secret_versions view; versions are kept as a monotonic sequence column
// maintained by this provider, since the Vault UI itself does not expose
// one directly.
type SupabaseProvider struct {
	client     SupabaseClient
	projectURL string
	apiKey     string
	schema     string

	mu      sync.Mutex
	history map[string][]supabaseVersionRow
}

// NewSupabaseProvider builds a provider from its config map: project_url,
// service_key (the Supabase service-role key, required for Vault access),
// and an optional schema override (default "vault").
func NewSupabaseProvider(configMap map[string]interface{}) (*SupabaseProvider, error) {
	projectURL, _ := configMap["project_url"].(string)
	apiKey, _ := configMap["service_key"].(string)
	schema, _ := configMap["schema"].(string)
	if schema == "" {
		schema = "vault"
	}
	if projectURL == "" {
		return nil, fmt.Errorf("supabase: project_url is required")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("supabase: service_key is required")
	}

	return &SupabaseProvider{
		client:     &http.Client{Timeout: 15 * time.Second},
		projectURL: strings.TrimRight(projectURL, "/"),
		apiKey:     apiKey,
		schema:     schema,
		history:    make(map[string][]supabaseVersionRow),
	}, nil
}

func (p *SupabaseProvider) Name() string { return "supabase" }

func (p *SupabaseProvider) Get(ctx context.Context, path string) (provider.SecretValue, error) {
	if err := p.ensureHistory(ctx, path); err != nil {
		return provider.SecretValue{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, row := range p.history[path] {
		if row.IsCurrent {
			return provider.SecretValue{
				Value:   row.Value,
				Version: row.Sequence,
				Metadata: map[string]string{
					"supabase_id": row.ID,
				},
			}, nil
		}
	}
	return provider.SecretValue{}, &provider.NotFoundError{Provider: p.Name(), Path: path}
}

func (p *SupabaseProvider) Rotate(ctx context.Context, path string, newValue string) (int, error) {
	if err := p.ensureHistory(ctx, path); err != nil {
		return 0, err
	}

	resp, err := p.do(ctx, http.MethodPost, "/rest/v1/rpc/create_secret", map[string]interface{}{
		"secret_name": path,
		"secret_value": newValue,
	})
	if err != nil {
		return 0, p.translateError(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return 0, p.translateStatus(resp)
	}

	var created struct {
		ID string `json:"id"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&created)

	p.mu.Lock()
	defer p.mu.Unlock()

	next := 1
	for i := range p.history[path] {
		p.history[path][i].IsCurrent = false
		if p.history[path][i].Sequence >= next {
			next = p.history[path][i].Sequence + 1
		}
	}
	p.history[path] = append(p.history[path], supabaseVersionRow{
		ID:        created.ID,
		Name:      path,
		Value:     newValue,
		Sequence:  next,
		IsCurrent: true,
		CreatedAt: time.Now(),
	})
	return next, nil
}

func (p *SupabaseProvider) Rollback(ctx context.Context, path string, version int) error {
	if err := p.ensureHistory(ctx, path); err != nil {
		return err
	}

	p.mu.Lock()
	var target *supabaseVersionRow
	for i := range p.history[path] {
		if p.history[path][i].Sequence == version {
			target = &p.history[path][i]
		}
	}
	p.mu.Unlock()
	if target == nil {
		return &provider.VersionNotFoundError{Provider: p.Name(), Path: path, Version: version}
	}

	resp, err := p.do(ctx, http.MethodPost, "/rest/v1/rpc/update_secret", map[string]interface{}{
		"secret_id":    target.ID,
		"secret_value": target.Value,
	})
	if err != nil {
		return p.translateError(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return p.translateStatus(resp)
	}

	p.mu.Lock()
	for i := range p.history[path] {
		p.history[path][i].IsCurrent = p.history[path][i].Sequence == version
	}
	p.mu.Unlock()
	return nil
}

func (p *SupabaseProvider) ListVersions(ctx context.Context, path string) ([]provider.SecretVersion, error) {
	if err := p.ensureHistory(ctx, path); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	rows := p.history[path]
	versions := make([]provider.SecretVersion, 0, len(rows))
	for _, r := range rows {
		versions = append(versions, provider.SecretVersion{
			Version:   r.Sequence,
			CreatedAt: r.CreatedAt,
			IsCurrent: r.IsCurrent,
			IsValid:   true,
			CreatedBy: "supabase-vault",
		})
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i].Version < versions[j].Version })
	return versions, nil
}

func (p *SupabaseProvider) DeleteVersion(ctx context.Context, path string, version int) error {
	if err := p.ensureHistory(ctx, path); err != nil {
		return err
	}

	p.mu.Lock()
	var target *supabaseVersionRow
	idx := -1
	for i := range p.history[path] {
		if p.history[path][i].Sequence == version {
			target = &p.history[path][i]
			idx = i
		}
	}
	p.mu.Unlock()
	if target == nil {
		return &provider.VersionNotFoundError{Provider: p.Name(), Path: path, Version: version}
	}
	if target.IsCurrent {
		return &provider.RejectedError{Provider: p.Name(), Op: "delete_version", Reason: "cannot delete current version"}
	}

	resp, err := p.do(ctx, http.MethodDelete, "/rest/v1/rpc/delete_secret", map[string]interface{}{
		"secret_id": target.ID,
	})
	if err != nil {
		return p.translateError(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return p.translateStatus(resp)
	}

	p.mu.Lock()
	p.history[path] = append(p.history[path][:idx], p.history[path][idx+1:]...)
	p.mu.Unlock()
	return nil
}

func (p *SupabaseProvider) HealthCheck(ctx context.Context) (provider.HealthCheckResult, error) {
	start := time.Now()
	resp, err := p.do(ctx, http.MethodGet, "/rest/v1/", nil)
	latency := time.Since(start)
	if err != nil {
		return provider.HealthCheckResult{Status: "unhealthy", Message: err.Error(), Latency: latency, CheckedAt: time.Now()}, nil
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return provider.HealthCheckResult{Status: "unhealthy", Message: fmt.Sprintf("status %d", resp.StatusCode), Latency: latency, CheckedAt: time.Now()}, nil
	}
	return provider.HealthCheckResult{Status: "healthy", Latency: latency, CheckedAt: time.Now()}, nil
}

// ensureHistory backfills the in-memory version list for path on first use
// by reading the secret_versions view, the same lazy-seed pattern the AWS
// provider uses for its own history cache.
func (p *SupabaseProvider) ensureHistory(ctx context.Context, path string) error {
	p.mu.Lock()
	_, known := p.history[path]
	p.mu.Unlock()
	if known {
		return nil
	}

	resp, err := p.do(ctx, http.MethodGet, "/rest/v1/secret_versions?name=eq."+path, nil)
	if err != nil {
		return p.translateError(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		p.mu.Lock()
		p.history[path] = nil
		p.mu.Unlock()
		return nil
	}
	if resp.StatusCode >= 400 {
		return p.translateStatus(resp)
	}

	var rows []supabaseVersionRow
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return &provider.BackendUnavailableError{Provider: p.Name(), Op: "ensure_history", Err: err}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].CreatedAt.Before(rows[j].CreatedAt) })
	for i := range rows {
		rows[i].Sequence = i + 1
	}

	p.mu.Lock()
	p.history[path] = rows
	p.mu.Unlock()
	return nil
}

func (p *SupabaseProvider) do(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.projectURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("apikey", p.apiKey)
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept-Profile", p.schema)
	req.Header.Set("Content-Profile", p.schema)

	return p.client.Do(req)
}

func (p *SupabaseProvider) translateError(err error) error {
	return &provider.BackendUnavailableError{Provider: p.Name(), Op: "call", Err: err}
}

func (p *SupabaseProvider) translateStatus(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return &provider.RejectedError{Provider: p.Name(), Op: "auth", Reason: string(body)}
	}
	if resp.StatusCode == http.StatusNotFound {
		return &provider.NotFoundError{Provider: p.Name(), Path: ""}
	}
	return &provider.BackendUnavailableError{Provider: p.Name(), Op: "call", Err: fmt.Errorf("status %d: %s", resp.StatusCode, string(body))}
}
