package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/parleyhq/parley/pkg/provider/classify"
	"github.com/parleyhq/parley/pkg/provider/convo"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	classifier map[string]func(ProviderEntry) (classify.Provider, error)
	channel    map[string]func(ChannelConfig) (convo.Channel, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		classifier: make(map[string]func(ProviderEntry) (classify.Provider, error)),
		channel:    make(map[string]func(ChannelConfig) (convo.Channel, error)),
	}
}

// RegisterClassifier registers a classification backend factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterClassifier(name string, factory func(ProviderEntry) (classify.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.classifier[name] = factory
}

// RegisterChannel registers a conversation channel factory under name.
func (r *Registry) RegisterChannel(name string, factory func(ChannelConfig) (convo.Channel, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channel[name] = factory
}

// CreateClassifier instantiates the classification backend selected by entry.
func (r *Registry) CreateClassifier(entry ProviderEntry) (classify.Provider, error) {
	r.mu.RLock()
	factory, ok := r.classifier[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: classifier %q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateChannel instantiates the conversation channel registered under name.
func (r *Registry) CreateChannel(name string, cfg ChannelConfig) (convo.Channel, error) {
	r.mu.RLock()
	factory, ok := r.channel[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: channel %q", ErrProviderNotRegistered, name)
	}
	return factory(cfg)
}

// ClassifierNames returns the names of all registered classification backends.
func (r *Registry) ClassifierNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.classifier))
	for name := range r.classifier {
		names = append(names, name)
	}
	return names
}
