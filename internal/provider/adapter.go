// Package provider implements the provider orchestration layer: adapter
// registration, fallback-chain construction, per-provider circuit breaking
// and rate admission, retry policy, and stream normalization.
package provider

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
)

// Adapter is the interface every upstream provider implements. Concrete
// implementations live in separate packages (e.g. modules/provider/anthropic)
// and receive already-resolved credentials at construction time.
type Adapter interface {
	// GenerateStream sends a generation request and returns a channel of
	// events. The stream is finite and not restartable; a fresh call is
	// required to retry. Initial connection errors are returned directly.
	// Mid-stream errors are delivered via Event.Err, after which the
	// channel is closed.
	GenerateStream(ctx context.Context, req Request) (<-chan Event, error)

	// CountTokens estimates the token count of a conversation.
	CountTokens(msgs []Message) int

	// ValidateConfig reports whether the adapter's required configuration
	// is present. Returns a *ConfigError on failure.
	ValidateConfig() error

	// ModelName returns the identifier of the underlying model.
	ModelName() string
}

// Factory constructs an Adapter from a provider record.
type Factory func(rec Record) (Adapter, error)

// Registry maps provider kinds to adapter factories. It is populated once
// during startup wiring and read on every registration.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory for the given kind. It panics on an empty kind,
// nil factory, or duplicate registration; these are wiring bugs.
func (r *Registry) Register(kind string, f Factory) {
	if kind == "" {
		panic("provider: factory kind must not be empty")
	}
	if f == nil {
		panic(fmt.Sprintf("provider: factory for %s must not be nil", kind))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[kind]; exists {
		panic(fmt.Sprintf("provider: factory already registered: %s", kind))
	}
	r.factories[kind] = f
}

// New constructs an adapter for the record's kind. It fails with
// ErrUnsupportedProvider when no factory is registered.
func (r *Registry) New(rec Record) (Adapter, error) {
	r.mu.RLock()
	f, ok := r.factories[rec.Kind]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, rec.Kind)
	}
	return f(rec)
}

// Kinds returns all registered factory kinds sorted alphabetically.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]string, 0, len(r.factories))
	for k := range r.factories {
		kinds = append(kinds, k)
	}
	slices.SortFunc(kinds, func(a, b string) int { return cmp.Compare(a, b) })
	return kinds
}
