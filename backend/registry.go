package backend

import (
	"fmt"
	"strings"
	"sync"
)

// ParseModelID splits a "vendor/model" identifier. A bare model name is
// treated as an openai model.
func ParseModelID(id string) (vendor, model string, err error) {
	if idx := strings.IndexByte(id, '/'); idx >= 0 {
		vendor = strings.ToLower(strings.TrimSpace(id[:idx]))
		model = strings.TrimSpace(id[idx+1:])
		if vendor == "" || model == "" {
			return "", "", &ConfigError{BackendError: BackendError{Message: fmt.Sprintf("malformed model identifier %q", id)}}
		}
		return vendor, model, nil
	}
	return "openai", strings.TrimSpace(id), nil
}

// Registry holds adapters keyed by vendor name and resolves "vendor/model"
// identifiers to the adapter that serves them.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry creates a Registry with the given adapters pre-registered.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter)}
	for _, a := range adapters {
		r.adapters[a.Name()] = a
	}
	return r
}

// Register adds or replaces the adapter for its vendor name.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Name()] = a
}

// Resolve returns the adapter and bare model name for a model identifier.
func (r *Registry) Resolve(modelID string) (Adapter, string, error) {
	vendor, model, err := ParseModelID(modelID)
	if err != nil {
		return nil, "", err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[vendor]
	if !ok {
		return nil, "", &ConfigError{BackendError: BackendError{Message: fmt.Sprintf("no adapter registered for vendor %q", vendor)}}
	}
	return a, model, nil
}

// Vendors returns the registered vendor names.
func (r *Registry) Vendors() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	return names
}
