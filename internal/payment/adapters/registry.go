package adapters

import (
	"sort"
	"strings"
	"sync"

	"github.com/smallbiznis/referrals/internal/payment/domain"
)

// Registry resolves a webhook provider name to a ready adapter. Adapters are
// built on first use from the config bound with Configure and then reused.
type Registry struct {
	factories map[string]domain.AdapterFactory
	configs   map[string]domain.AdapterConfig

	mu    sync.Mutex
	built map[string]domain.PaymentAdapter
}

func NewRegistry(factories ...domain.AdapterFactory) *Registry {
	r := &Registry{
		factories: map[string]domain.AdapterFactory{},
		configs:   map[string]domain.AdapterConfig{},
		built:     map[string]domain.PaymentAdapter{},
	}
	for _, factory := range factories {
		if factory == nil {
			continue
		}
		if name := normalize(factory.Provider()); name != "" {
			r.factories[name] = factory
		}
	}
	return r
}

// Configure binds the adapter settings for provider. Unknown providers are
// ignored.
func (r *Registry) Configure(provider string, cfg domain.AdapterConfig) *Registry {
	name := normalize(provider)
	if _, ok := r.factories[name]; !ok {
		return r
	}
	cfg.Provider = name
	r.mu.Lock()
	r.configs[name] = cfg
	delete(r.built, name)
	r.mu.Unlock()
	return r
}

// Adapter returns ErrProviderNotFound for unregistered providers and
// ErrInvalidConfig when the provider is known but not configured.
func (r *Registry) Adapter(provider string) (domain.PaymentAdapter, error) {
	if r == nil {
		return nil, domain.ErrProviderNotFound
	}
	name := normalize(provider)
	factory, ok := r.factories[name]
	if !ok {
		return nil, domain.ErrProviderNotFound
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if adapter, ok := r.built[name]; ok {
		return adapter, nil
	}
	cfg, ok := r.configs[name]
	if !ok {
		return nil, domain.ErrInvalidConfig
	}
	adapter, err := factory.NewAdapter(cfg)
	if err != nil {
		return nil, err
	}
	r.built[name] = adapter
	return adapter, nil
}

// Providers lists registered provider names in order.
func (r *Registry) Providers() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func normalize(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}
