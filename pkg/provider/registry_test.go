package provider

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct{ tag string }

func (s *stubProvider) Name() string { return s.tag }
func (s *stubProvider) Get(context.Context, string) (SecretValue, error) {
	return SecretValue{}, nil
}
func (s *stubProvider) Rotate(context.Context, string, string) (int, error) { return 1, nil }
func (s *stubProvider) Rollback(context.Context, string, int) error         { return nil }
func (s *stubProvider) ListVersions(context.Context, string) ([]SecretVersion, error) {
	return nil, nil
}
func (s *stubProvider) DeleteVersion(context.Context, string, int) error { return nil }
func (s *stubProvider) HealthCheck(context.Context) (HealthCheckResult, error) {
	return HealthCheckResult{Status: "healthy", CheckedAt: time.Now()}, nil
}

func TestRegistry_UnregisteredTagIsNotRegistered(t *testing.T) {
	r := NewRegistry()
	assert.False(t, r.IsRegistered("aws"))

	_, err := r.Create("aws", nil)
	require.Error(t, err)
}

func TestRegistry_RegisterThenCreateReturnsFactoryInstance(t *testing.T) {
	r := NewRegistry()
	r.Register("stub", func(config map[string]interface{}) (Provider, error) {
		return &stubProvider{tag: "stub"}, nil
	})

	assert.True(t, r.IsRegistered("stub"))

	p, err := r.Create("stub", nil)
	require.NoError(t, err)
	assert.Equal(t, "stub", p.Name())
}

func TestRegistry_RegisteringSameTagTwiceReplacesFactory(t *testing.T) {
	r := NewRegistry()
	r.Register("stub", func(config map[string]interface{}) (Provider, error) {
		return &stubProvider{tag: "first"}, nil
	})
	r.Register("stub", func(config map[string]interface{}) (Provider, error) {
		return &stubProvider{tag: "second"}, nil
	})

	p, err := r.Create("stub", nil)
	require.NoError(t, err)
	assert.Equal(t, "second", p.Name())
}

func TestRegistry_TagsListsEveryRegisteredTag(t *testing.T) {
	r := NewRegistry()
	r.Register("env", func(map[string]interface{}) (Provider, error) { return nil, nil })
	r.Register("aws", func(map[string]interface{}) (Provider, error) { return nil, nil })

	tags := r.Tags()
	assert.ElementsMatch(t, []string{"env", "aws"}, tags)
}
