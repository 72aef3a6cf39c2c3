package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/medconnect/pkg/provider/stt"
)

// ErrProviderNotRegistered is returned by [Registry.CreateSTT] for unknown
// names.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// STTFactory builds an STT provider from its config entry.
type STTFactory func(ProviderEntry) (stt.Provider, error)

// Registry maps provider names to constructors. It is safe for concurrent
// use.
type Registry struct {
	mu  sync.RWMutex
	stt map[string]STTFactory
}

// NewRegistry returns an empty [Registry].
func NewRegistry() *Registry {
	return &Registry{stt: make(map[string]STTFactory)}
}

// RegisterSTT registers factory under name, replacing any earlier one.
func (r *Registry) RegisterSTT(name string, factory STTFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt[name] = factory
}

// CreateSTT builds the provider registered under entry.Name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	r.mu.RLock()
	factory, ok := r.stt[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: stt/%q", ErrProviderNotRegistered, entry.Name)
	}
	p, err := factory(entry)
	if err != nil {
		return nil, fmt.Errorf("config: create stt/%q: %w", entry.Name, err)
	}
	return p, nil
}

// STTNames returns the registered STT provider names, sorted.
func (r *Registry) STTNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.stt))
	for n := range r.stt {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}
