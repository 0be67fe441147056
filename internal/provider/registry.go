// ABOUTME: Registry of configured provider adapters with deterministic resolution
// ABOUTME: Read-only after construction, safe for unsynchronized concurrent reads

package provider

import (
	"fmt"
	"log/slog"
)

// Registry holds all providers that were successfully constructed at startup.
// A provider is either fully configured and present, or absent entirely;
// the registry never retries construction.
//
// Resolution by model is deterministic: when several providers claim the same
// model name, the one registered first wins. The registration order is the
// configured priority list, not alphabetical order.
type Registry struct {
	providers map[string]Provider
	priority  []string
	logger    *slog.Logger
}

// NewRegistry creates a registry from the given providers. The argument
// order is the priority order used by ResolveForModel and Fallback.
func NewRegistry(logger *slog.Logger, providers ...Provider) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		providers: make(map[string]Provider, len(providers)),
		logger:    logger.With("component", "registry"),
	}
	for _, p := range providers {
		name := p.Name()
		if _, dup := r.providers[name]; dup {
			r.logger.Warn("duplicate provider registration ignored", "provider", name)
			continue
		}
		r.providers[name] = p
		r.priority = append(r.priority, name)
	}
	return r
}

// Resolve returns the provider registered under name.
func (r *Registry) Resolve(name string) (Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("provider %q: %w", name, ErrUnsupportedProvider)
	}
	return p, nil
}

// ResolveForModel returns the first provider in priority order that claims
// the model.
func (r *Registry) ResolveForModel(model string) (Provider, error) {
	for _, name := range r.priority {
		if p := r.providers[name]; p.SupportsModel(model) {
			return p, nil
		}
	}
	return nil, fmt.Errorf("model %q: %w", model, ErrUnsupportedModel)
}

// Fallback returns the first provider in priority order whose name differs
// from exclude. It is used for the single-alternate retry the chat service
// performs on transport failures.
func (r *Registry) Fallback(exclude string) (Provider, bool) {
	for _, name := range r.priority {
		if name != exclude {
			return r.providers[name], true
		}
	}
	return nil, false
}

// ListProviders returns the available provider names in priority order.
func (r *Registry) ListProviders() []string {
	out := make([]string, len(r.priority))
	copy(out, r.priority)
	return out
}

// ListModels returns the union of all supported models across available
// providers, in priority order, duplicates removed.
func (r *Registry) ListModels() []string {
	seen := make(map[string]bool)
	var out []string
	for _, name := range r.priority {
		for _, model := range r.providers[name].ListModels() {
			if !seen[model] {
				seen[model] = true
				out = append(out, model)
			}
		}
	}
	return out
}
