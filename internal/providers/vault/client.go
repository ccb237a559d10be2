package vault

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

// Authenticate performs authentication with Vault based on the configured method.
func (c *HTTPVaultClient) Authenticate(ctx context.Context) error {
	if c.token != "" {
		if err := c.validateToken(ctx); err == nil {
			return nil
		}
		c.token = ""
	}

	switch c.config.AuthMethod {
	case "token":
		return c.authenticateToken()
	case "userpass":
		return c.authenticateUserpass(ctx)
	case "k8s", "kubernetes":
		return c.authenticateKubernetes(ctx)
	default:
		return fmt.Errorf("unsupported auth method: %s", c.config.AuthMethod)
	}
}

// kvReadResponse mirrors a Vault KV v2 read response's shape.
type kvReadResponse struct {
	Data struct {
		Data     map[string]interface{} `json:"data"`
		Metadata struct {
			Version      int    `json:"version"`
			CreatedTime  string `json:"created_time"`
			DeletionTime string `json:"deletion_time"`
			Destroyed    bool   `json:"destroyed"`
		} `json:"metadata"`
	} `json:"data"`
}

// kvWriteResponse mirrors a Vault KV v2 write response's shape.
type kvWriteResponse struct {
	Data struct {
		Version int `json:"version"`
	} `json:"data"`
}

// kvMetadataResponse mirrors the metadata endpoint's version history.
type kvMetadataResponse struct {
	Data struct {
		CurrentVersion int `json:"current_version"`
		Versions       map[string]struct {
			CreatedTime  string `json:"created_time"`
			DeletionTime string `json:"deletion_time"`
			Destroyed    bool   `json:"destroyed"`
		} `json:"versions"`
	} `json:"data"`
}

// ReadKV reads path at a specific version (0 means the current version)
// from the KV v2 engine mounted at c.config.Mount.
func (c *HTTPVaultClient) ReadKV(ctx context.Context, path string, version int) (*kvReadResponse, error) {
	url := c.dataURL(path)
	if version > 0 {
		url += fmt.Sprintf("?version=%d", version)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build read request: %w", err)
	}
	c.setCommonHeaders(req)

	resp, err := c.getHTTPClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("perform read request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return nil, errSecretNotFound
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("vault returned status %d: %s", resp.StatusCode, string(body))
	}

	var out kvReadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode read response: %w", err)
	}
	if out.Data.Metadata.Destroyed || len(out.Data.Data) == 0 {
		return nil, errSecretNotFound
	}
	return &out, nil
}

// WriteKV writes data as a new KV v2 version and returns the version number
// Vault assigned it.
func (c *HTTPVaultClient) WriteKV(ctx context.Context, path string, data map[string]interface{}) (int, error) {
	body, err := json.Marshal(map[string]interface{}{"data": data})
	if err != nil {
		return 0, fmt.Errorf("marshal write body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.dataURL(path), bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build write request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.setCommonHeaders(req)

	resp, err := c.getHTTPClient().Do(req)
	if err != nil {
		return 0, fmt.Errorf("perform write request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return 0, fmt.Errorf("vault returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var out kvWriteResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("decode write response: %w", err)
	}
	return out.Data.Version, nil
}

// Metadata fetches the version history for path.
func (c *HTTPVaultClient) Metadata(ctx context.Context, path string) (*kvMetadataResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.metadataURL(path), nil)
	if err != nil {
		return nil, fmt.Errorf("build metadata request: %w", err)
	}
	c.setCommonHeaders(req)

	resp, err := c.getHTTPClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("perform metadata request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return nil, errSecretNotFound
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("vault returned status %d: %s", resp.StatusCode, string(body))
	}

	var out kvMetadataResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode metadata response: %w", err)
	}
	return &out, nil
}

// DestroyVersion permanently destroys the payload of a single KV v2
// version, leaving its metadata entry (marked destroyed) behind.
func (c *HTTPVaultClient) DestroyVersion(ctx context.Context, path string, version int) error {
	body, err := json.Marshal(map[string]interface{}{"versions": []int{version}})
	if err != nil {
		return fmt.Errorf("marshal destroy body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.destroyURL(path), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build destroy request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.setCommonHeaders(req)

	resp, err := c.getHTTPClient().Do(req)
	if err != nil {
		return fmt.Errorf("perform destroy request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("vault returned status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// Close cleans up the client.
func (c *HTTPVaultClient) Close() error {
	c.token = ""
	return nil
}

func (c *HTTPVaultClient) dataURL(path string) string {
	return strings.TrimSuffix(c.config.Address, "/") + "/v1/" + c.mount() + "/data/" + strings.TrimPrefix(path, "/")
}

func (c *HTTPVaultClient) metadataURL(path string) string {
	return strings.TrimSuffix(c.config.Address, "/") + "/v1/" + c.mount() + "/metadata/" + strings.TrimPrefix(path, "/")
}

func (c *HTTPVaultClient) destroyURL(path string) string {
	return strings.TrimSuffix(c.config.Address, "/") + "/v1/" + c.mount() + "/destroy/" + strings.TrimPrefix(path, "/")
}

func (c *HTTPVaultClient) mount() string {
	if c.config.Mount != "" {
		return c.config.Mount
	}
	return "secret"
}

func (c *HTTPVaultClient) setCommonHeaders(req *http.Request) {
	req.Header.Set("X-Vault-Token", c.token)
	if c.config.Namespace != "" {
		req.Header.Set("X-Vault-Namespace", c.config.Namespace)
	}
}

// authenticateToken validates or sets the token.
func (c *HTTPVaultClient) authenticateToken() error {
	if c.config.Token != "" {
		c.token = c.config.Token
		return nil
	}
	if token := os.Getenv("VAULT_TOKEN"); token != "" {
		c.token = token
		return nil
	}
	return fmt.Errorf("no vault token found in config or VAULT_TOKEN environment variable")
}

// authenticateUserpass authenticates using username/password.
func (c *HTTPVaultClient) authenticateUserpass(ctx context.Context) error {
	password := c.config.UserpassPassword
	if password == "" {
		password = os.Getenv("VAULT_USERPASS_PASSWORD")
	}
	if password == "" {
		return fmt.Errorf("no password found for userpass auth")
	}

	authData := map[string]interface{}{"password": password}
	return c.performLogin(ctx, fmt.Sprintf("auth/userpass/login/%s", c.config.UserpassUsername), authData)
}

// authenticateKubernetes authenticates using a mounted service account token.
func (c *HTTPVaultClient) authenticateKubernetes(ctx context.Context) error {
	tokenPath := "/var/run/secrets/kubernetes.io/serviceaccount/token"
	if customPath := os.Getenv("VAULT_K8S_TOKEN_PATH"); customPath != "" {
		tokenPath = customPath
	}

	tokenBytes, err := os.ReadFile(tokenPath)
	if err != nil {
		return fmt.Errorf("read kubernetes token: %w", err)
	}

	authData := map[string]interface{}{
		"role": c.config.K8SRole,
		"jwt":  string(tokenBytes),
	}
	return c.performLogin(ctx, "auth/kubernetes/login", authData)
}

// performLogin handles the common login workflow shared by every auth method.
func (c *HTTPVaultClient) performLogin(ctx context.Context, authPath string, authData map[string]interface{}) error {
	url := strings.TrimSuffix(c.config.Address, "/") + "/v1/" + strings.TrimPrefix(authPath, "/")

	jsonData, err := json.Marshal(authData)
	if err != nil {
		return fmt.Errorf("marshal auth data: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("build auth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.config.Namespace != "" {
		req.Header.Set("X-Vault-Namespace", c.config.Namespace)
	}

	resp, err := c.getHTTPClient().Do(req)
	if err != nil {
		return fmt.Errorf("perform auth request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("authentication failed with status %d: %s", resp.StatusCode, string(body))
	}

	var authResp struct {
		Auth struct {
			ClientToken string `json:"client_token"`
		} `json:"auth"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&authResp); err != nil {
		return fmt.Errorf("decode auth response: %w", err)
	}
	if authResp.Auth.ClientToken == "" {
		return fmt.Errorf("no token received from vault")
	}

	c.token = authResp.Auth.ClientToken
	return nil
}

// validateToken checks whether the current token is still accepted.
func (c *HTTPVaultClient) validateToken(ctx context.Context) error {
	url := strings.TrimSuffix(c.config.Address, "/") + "/v1/auth/token/lookup-self"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build token validation request: %w", err)
	}
	c.setCommonHeaders(req)

	resp, err := c.getHTTPClient().Do(req)
	if err != nil {
		return fmt.Errorf("validate token: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("token validation failed with status %d", resp.StatusCode)
	}
	return nil
}

// Health reports whether the Vault cluster is sealed, and how long the
// sys/health request took.
func (c *HTTPVaultClient) Health(ctx context.Context) (sealed bool, latency time.Duration, err error) {
	start := time.Now()
	url := strings.TrimSuffix(c.config.Address, "/") + "/v1/sys/health"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, 0, fmt.Errorf("build health request: %w", err)
	}

	resp, err := c.getHTTPClient().Do(req)
	if err != nil {
		return false, time.Since(start), fmt.Errorf("perform health request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var health struct {
		Sealed bool `json:"sealed"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&health)

	return health.Sealed, time.Since(start), nil
}

// getHTTPClient creates an HTTP client with appropriate TLS settings.
func (c *HTTPVaultClient) getHTTPClient() *http.Client {
	client := &http.Client{Timeout: DefaultTimeout}

	if c.config.TLSSkip {
		client.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: c.config.TLSSkip},
		}
	}
	return client
}

func parseVersionKey(key string) (int, error) {
	return strconv.Atoi(key)
}
