package provider

import (
	"fmt"
	"sort"
)

// Registry holds the closed set of configured providers.
// Built once at startup; read-only afterwards, safe for concurrent use.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry creates a registry from already-constructed providers.
func NewRegistry(ps ...Provider) (*Registry, error) {
	m := make(map[string]Provider, len(ps))
	for _, p := range ps {
		if _, dup := m[p.Name()]; dup {
			return nil, fmt.Errorf("provider registered twice: %s", p.Name())
		}
		m[p.Name()] = p
	}
	return &Registry{providers: m}, nil
}

// Get returns the provider for name, or ErrUnknownProvider.
func (r *Registry) Get(name string) (Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, &UnknownProviderError{Name: name}
	}
	return p, nil
}

// Names returns the enabled provider names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// UnknownProviderError indicates a provider name outside the configured set.
type UnknownProviderError struct{ Name string }

func (e *UnknownProviderError) Error() string {
	return fmt.Sprintf("unknown provider: %s", e.Name)
}
