package provider

import (
	"strings"

	"github.com/smallbiznis/disburse/internal/config"
	"github.com/smallbiznis/disburse/internal/provider/domain"
)

type Registry struct {
	cfg       config.Config
	factories map[string]domain.Factory
}

func NewRegistry(cfg config.Config, factories ...domain.Factory) *Registry {
	registry := &Registry{cfg: cfg, factories: map[string]domain.Factory{}}
	for _, factory := range factories {
		if factory == nil {
			continue
		}
		name := strings.ToUpper(strings.TrimSpace(factory.Provider()))
		if name == "" {
			continue
		}
		registry.factories[name] = factory
	}
	return registry
}

func (r *Registry) ProviderExists(name string) bool {
	if r == nil {
		return false
	}
	_, ok := r.factories[normalize(name)]
	return ok
}

// IsProviderAvailable reports whether the provider can actually be used with
// the current configuration. MOCK is always available; RISE needs the feature
// switch plus credentials.
func (r *Registry) IsProviderAvailable(name string) bool {
	if r == nil || !r.ProviderExists(name) {
		return false
	}
	switch normalize(name) {
	case domain.ProviderMock:
		return true
	case domain.ProviderRise:
		return r.cfg.RiseEnabled &&
			strings.TrimSpace(r.cfg.RiseAPIBaseURL) != "" &&
			strings.TrimSpace(r.cfg.RiseAPIKey) != ""
	default:
		return false
	}
}

func (r *Registry) NewProvider(name string) (domain.SettlementProvider, error) {
	if r == nil {
		return nil, domain.ErrProviderNotFound
	}
	factory, ok := r.factories[normalize(name)]
	if !ok {
		return nil, domain.ErrProviderNotFound
	}
	return factory.NewProvider(domain.AdapterConfig{
		BaseURL:   r.cfg.RiseAPIBaseURL,
		APIKey:    r.cfg.RiseAPIKey,
		TimeoutMS: r.cfg.RiseTimeoutMS,
		Enabled:   r.cfg.RiseEnabled,
	})
}

func normalize(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}
