// Package providers holds the built-in env provider plus the AWS, Vault,
// and Supabase backends, all implementing pkg/provider.Provider.
package providers

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/meridianhq/rotatord/internal/secure"
	"github.com/meridianhq/rotatord/pkg/provider"
)

// EnvProvider is the built-in secret backend: it keeps versioned secret
// values sealed in memory and, on rotation, writes the plaintext into the
// current process's environment under the secret's path.
//
// This is the one provider the engine ships without any external
// dependency. It exists so the engine is independently testable and usable
// in single-process deployments without a real secrets backend.
type EnvProvider struct {
	mu       sync.Mutex
	cipher   *secure.Cipher
	versions map[string][]provider.SecretVersion
	sealed   map[string]map[int]secure.Ciphertext
}

// NewEnvProvider constructs an EnvProvider. If passphrase is non-empty, the
// AEAD key is derived from it via scrypt so values survive process
// restarts (as long as the same passphrase is supplied again and the
// process's own persistence of sealed values, if any, is preserved
// upstream — the provider itself holds no disk state). An empty passphrase
// draws a fresh ephemeral key: sealed values become unrecoverable once the
// process exits, which is an accepted tradeoff for development use.
func NewEnvProvider(passphrase string) (*EnvProvider, error) {
	var (
		cipher *secure.Cipher
		err    error
	)
	if passphrase != "" {
		// Keep the passphrase out of a plain Go string for as little time as
		// possible: seal it into a guarded enclave immediately and only
		// reopen it for the scrypt derivation itself.
		buf, bufErr := secure.NewSecureBuffer([]byte(passphrase))
		if bufErr != nil {
			return nil, fmt.Errorf("guard passphrase: %w", bufErr)
		}
		locked, openErr := buf.Open()
		if openErr != nil {
			buf.Destroy()
			return nil, fmt.Errorf("open guarded passphrase: %w", openErr)
		}
		cipher, err = secure.NewCipherFromPassphrase(string(locked.Bytes()))
		locked.Destroy()
		buf.Destroy()
	} else {
		cipher, err = secure.NewEphemeralCipher()
	}
	if err != nil {
		return nil, fmt.Errorf("build cipher: %w", err)
	}

	return &EnvProvider{
		cipher:   cipher,
		versions: make(map[string][]provider.SecretVersion),
		sealed:   make(map[string]map[int]secure.Ciphertext),
	}, nil
}

func (p *EnvProvider) Name() string { return "env" }

// Get prefers a live process env value for path — an operator override
// always wins — and otherwise decrypts the sealed ciphertext for the
// current version.
func (p *EnvProvider) Get(_ context.Context, path string) (provider.SecretValue, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	versions, known := p.versions[path]
	if envValue, present := os.LookupEnv(path); present {
		version := p.currentVersionLocked(path)
		return provider.SecretValue{
			Value:   envValue,
			Version: version,
			Metadata: map[string]string{
				"source": "process_env_override",
			},
		}, nil
	}

	if !known || len(versions) == 0 {
		return provider.SecretValue{}, &provider.NotFoundError{Provider: p.Name(), Path: path}
	}

	current, ok := p.findCurrentLocked(path)
	if !ok {
		return provider.SecretValue{}, &provider.NotFoundError{Provider: p.Name(), Path: path}
	}

	ct := p.sealed[path][current.Version]
	plaintext, err := p.cipher.Open(ct)
	if err != nil {
		return provider.SecretValue{}, fmt.Errorf("decrypt %s version %d: %w", path, current.Version, err)
	}

	return provider.SecretValue{
		Value:    plaintext,
		Version:  current.Version,
		Metadata: map[string]string{"source": "sealed_store"},
	}, nil
}

// Rotate allocates the next version, flips every prior version's current
// flag off, seals the new value, and writes the plaintext into the process
// environment under path.
func (p *EnvProvider) Rotate(_ context.Context, path string, newValue string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ct, err := p.cipher.Seal(newValue)
	if err != nil {
		return 0, &provider.BackendUnavailableError{Provider: p.Name(), Op: "rotate", Err: err}
	}

	next := 1
	for i, v := range p.versions[path] {
		p.versions[path][i].IsCurrent = false
		if v.Version >= next {
			next = v.Version + 1
		}
	}

	version := provider.SecretVersion{
		Version:   next,
		CreatedAt: time.Now(),
		IsCurrent: true,
		IsValid:   true,
		Checksum:  secure.Checksum(newValue),
		CreatedBy: "rotatord",
	}
	p.versions[path] = append(p.versions[path], version)

	if p.sealed[path] == nil {
		p.sealed[path] = make(map[int]secure.Ciphertext)
	}
	p.sealed[path][next] = ct

	if err := os.Setenv(path, newValue); err != nil {
		return 0, &provider.BackendUnavailableError{Provider: p.Name(), Op: "rotate", Err: err}
	}

	return next, nil
}

// Rollback flips version back to current and restores the process env
// value from its sealed ciphertext.
func (p *EnvProvider) Rollback(_ context.Context, path string, version int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	versions, ok := p.versions[path]
	if !ok {
		return &provider.VersionNotFoundError{Provider: p.Name(), Path: path, Version: version}
	}

	found := -1
	for i, v := range versions {
		if v.Version == version {
			found = i
		}
	}
	if found == -1 {
		return &provider.VersionNotFoundError{Provider: p.Name(), Path: path, Version: version}
	}

	ct, ok := p.sealed[path][version]
	if !ok {
		return &provider.VersionNotFoundError{Provider: p.Name(), Path: path, Version: version}
	}
	plaintext, err := p.cipher.Open(ct)
	if err != nil {
		return fmt.Errorf("decrypt rollback target %s version %d: %w", path, version, err)
	}

	for i := range versions {
		versions[i].IsCurrent = versions[i].Version == version
	}

	if err := os.Setenv(path, plaintext); err != nil {
		return &provider.BackendUnavailableError{Provider: p.Name(), Op: "rollback", Err: err}
	}
	return nil
}

// ListVersions returns every version tracked for path. No ordering is
// guaranteed by the interface contract, but this implementation happens to
// return them sorted by version for readability.
func (p *EnvProvider) ListVersions(_ context.Context, path string) ([]provider.SecretVersion, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	versions := append([]provider.SecretVersion(nil), p.versions[path]...)
	sort.Slice(versions, func(i, j int) bool { return versions[i].Version < versions[j].Version })
	return versions, nil
}

// DeleteVersion refuses to delete the current version; otherwise it evicts
// both the version record and its sealed ciphertext.
func (p *EnvProvider) DeleteVersion(_ context.Context, path string, version int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	versions, ok := p.versions[path]
	if !ok {
		return &provider.VersionNotFoundError{Provider: p.Name(), Path: path, Version: version}
	}

	kept := make([]provider.SecretVersion, 0, len(versions))
	deleted := false
	for _, v := range versions {
		if v.Version == version {
			if v.IsCurrent {
				return &provider.RejectedError{Provider: p.Name(), Op: "delete_version", Reason: "cannot delete current version"}
			}
			deleted = true
			continue
		}
		kept = append(kept, v)
	}
	if !deleted {
		return &provider.VersionNotFoundError{Provider: p.Name(), Path: path, Version: version}
	}

	p.versions[path] = kept
	delete(p.sealed[path], version)
	return nil
}

// InvalidateVersion flips IsValid off for version without disturbing
// IsCurrent. The rotation engine calls this once a formerly current
// version's grace period elapses.
func (p *EnvProvider) InvalidateVersion(_ context.Context, path string, version int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	versions, ok := p.versions[path]
	if !ok {
		return &provider.VersionNotFoundError{Provider: p.Name(), Path: path, Version: version}
	}
	for i := range versions {
		if versions[i].Version == version {
			versions[i].IsValid = false
			return nil
		}
	}
	return &provider.VersionNotFoundError{Provider: p.Name(), Path: path, Version: version}
}

// HealthCheck always reports healthy: the env provider has no external
// connectivity to probe.
func (p *EnvProvider) HealthCheck(_ context.Context) (provider.HealthCheckResult, error) {
	return provider.HealthCheckResult{
		Status:    "healthy",
		CheckedAt: time.Now(),
	}, nil
}

func (p *EnvProvider) currentVersionLocked(path string) int {
	if v, ok := p.findCurrentLocked(path); ok {
		return v.Version
	}
	return 0
}

func (p *EnvProvider) findCurrentLocked(path string) (provider.SecretVersion, bool) {
	for _, v := range p.versions[path] {
		if v.IsCurrent {
			return v, true
		}
	}
	return provider.SecretVersion{}, false
}
