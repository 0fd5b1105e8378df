package plugin

import (
	"fmt"
	"sort"
	"sync"

	provisioerrors "github.com/provisio/provisio/pkg/errors"
)

// Registry maps step types to their plugin implementations.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]Plugin
}

// NewRegistry creates an empty plugin registry.
func NewRegistry() *Registry {
	return &Registry{plugins: make(map[string]Plugin)}
}

// Register adds a plugin under its metadata name. Registering the same
// step type twice is a programming error and is rejected.
func (r *Registry) Register(p Plugin) error {
	if p == nil {
		return provisioerrors.NewPluginError("", fmt.Errorf("plugin is nil"))
	}

	name := p.PluginMetadata().Name
	if name == "" {
		return provisioerrors.NewPluginError(name, fmt.Errorf("plugin metadata has no name"))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.plugins[name]; exists {
		return provisioerrors.NewPluginError(name, fmt.Errorf("plugin already registered"))
	}

	r.plugins[name] = p
	return nil
}

// Get retrieves a plugin by step type.
func (r *Registry) Get(stepType string) (Plugin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.plugins[stepType]
	if !ok {
		return nil, provisioerrors.NewPluginError(stepType, fmt.Errorf("no plugin registered"))
	}

	return p, nil
}

// Types returns the registered step types in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.plugins))
	for name := range r.plugins {
		types = append(types, name)
	}
	sort.Strings(types)
	return types
}
