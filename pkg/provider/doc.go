// Package provider is documented primarily in provider.go; this file
// covers how the package fits into the rest of the engine.
//
// # Architecture overview
//
//	┌─────────────────────────────────────────────┐
//	│              Public facade                   │
//	│           (pkg/rotation.Engine)              │
//	└───────────────────────┬───────────────────────┘
//	                        │
//	┌───────────────────────▼───────────────────────┐
//	│         Scheduler loop / rotation executor     │
//	│                (pkg/rotation)                 │
//	└───────────────────────┬───────────────────────┘
//	                        │
//	┌───────────────────────▼───────────────────────┐
//	│              Provider interface                │
//	│                (pkg/provider)        ◄─────────┤
//	└───────────────────────┬───────────────────────┘
//	                        │
//	┌───────────────────────▼───────────────────────┐
//	│             Provider implementations            │
//	│              (internal/providers)               │
//	│                                                 │
//	│   ┌──────┐  ┌──────┐  ┌───────┐  ┌──────────┐  │
//	│   │ env  │  │ aws  │  │ vault │  │ supabase │  │
//	│   └──────┘  └──────┘  └───────┘  └──────────┘  │
//	└─────────────────────────────────────────────────┘
//
// # Provider vs. the rest of the engine
//
// This package is intentionally the smallest possible surface: the six
// operations in Provider, the value/version/result types they exchange, and
// the error kinds they can fail with. It knows nothing about schedules,
// rotation state machines, health checks, or notifications — those live in
// pkg/rotation and the internal/rotation/* subpackages, which depend on this
// package rather than the other way around.
//
// # Registration
//
// Providers are constructed through a Registry (registry.go), keyed by the
// provider tag a SecretConfig names (env, aws, vault, supabase). The engine
// resolves a tag to a Provider at schedule time and fails fast with
// UnknownProvider if nothing is registered under it.
package provider
