package remote

import (
	"fmt"
	"sort"
	"sync"
)

// ProviderAuto selects the registry's default service.
const ProviderAuto = "auto"

// ServiceInfo pairs a registered provider name with its capabilities.
type ServiceInfo struct {
	Name         string       `json:"name"`
	Default      bool         `json:"default"`
	Capabilities Capabilities `json:"capabilities"`
}

// Registry holds the job services keyed by provider name and resolves which
// one handles a model configuration.
type Registry struct {
	mu       sync.RWMutex
	services map[string]JobService
	fallback string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		services: make(map[string]JobService),
	}
}

// Register adds a service under the given provider name. The first service
// registered becomes the default until SetDefault is called.
func (r *Registry) Register(name string, s JobService) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services[name] = s
	if r.fallback == "" {
		r.fallback = name
	}
}

// SetDefault selects the service used for "auto" and empty providers.
func (r *Registry) SetDefault(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.services[name]; !ok {
		return fmt.Errorf("job service %q is not registered", name)
	}
	r.fallback = name
	return nil
}

// Resolve returns the provider name and service for provider. An empty or
// "auto" provider resolves to the default service.
func (r *Registry) Resolve(provider string) (string, JobService, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	target := provider
	if target == "" || target == ProviderAuto {
		if r.fallback == "" {
			return "", nil, fmt.Errorf("no default job service registered")
		}
		target = r.fallback
	}

	s, ok := r.services[target]
	if !ok {
		return "", nil, fmt.Errorf("job service %q is not registered", target)
	}
	return target, s, nil
}

// Lookup returns the service registered under name.
func (r *Registry) Lookup(name string) (JobService, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.services[name]
	return s, ok
}

// List returns all registered services, sorted by name for a stable API
// response.
func (r *Registry) List() []ServiceInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]ServiceInfo, 0, len(r.services))
	for name, s := range r.services {
		infos = append(infos, ServiceInfo{
			Name:         name,
			Default:      name == r.fallback,
			Capabilities: s.Capabilities(),
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name < infos[j].Name
	})
	return infos
}
