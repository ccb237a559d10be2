package provider

import "fmt"

// Factory constructs a Provider instance from its provider-specific
// configuration map (the inline YAML block under a secret's provider tag).
type Factory func(config map[string]interface{}) (Provider, error)

// Registry maps provider tags to the factories that construct them. The
// engine resolves a SecretConfig's provider tag through a Registry at
// schedule time; an unregistered tag fails schedule with UnknownProvider.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry returns an empty registry. Call Register for each backend the
// running engine should support; production callers typically register
// env, aws, vault, and supabase.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register associates a provider tag with the factory used to construct
// instances of it. Registering the same tag twice replaces the prior
// factory.
func (r *Registry) Register(tag string, factory Factory) {
	r.factories[tag] = factory
}

// Create builds a Provider for tag using its factory. Returns an error if
// tag was never registered.
func (r *Registry) Create(tag string, config map[string]interface{}) (Provider, error) {
	factory, ok := r.factories[tag]
	if !ok {
		return nil, fmt.Errorf("unknown provider type: %s", tag)
	}
	return factory(config)
}

// IsRegistered reports whether tag has a registered factory.
func (r *Registry) IsRegistered(tag string) bool {
	_, ok := r.factories[tag]
	return ok
}

// Tags returns every registered provider tag, in no particular order.
func (r *Registry) Tags() []string {
	tags := make([]string, 0, len(r.factories))
	for tag := range r.factories {
		tags = append(tags, tag)
	}
	return tags
}
