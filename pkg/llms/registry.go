package llms

import (
	"fmt"

	"github.com/knowledgechipper/core/pkg/config"
	"github.com/knowledgechipper/core/pkg/registry"
	"github.com/knowledgechipper/core/pkg/resource"
)

// Registry holds one concurrency-and-rate-limited Provider per configured
// name, keyed the same way pkg/config.Config.Providers is keyed.
type Registry struct {
	*registry.BaseRegistry[Provider]

	// governor, if set via SetGovernor, is consulted by every provider this
	// registry creates for the memory backpressure gate. nil
	// means no memory gate is applied (e.g. in unit tests).
	governor *resource.Governor
}

func NewRegistry() *Registry {
	return &Registry{BaseRegistry: registry.NewBaseRegistry[Provider]()}
}

// SetGovernor wires the Resource Governor used for memory backpressure on
// every provider subsequently created by CreateFromConfig.
func (r *Registry) SetGovernor(g *resource.Governor) {
	r.governor = g
}

// CreateFromConfig builds, rate-limits, and registers a Provider under name.
func (r *Registry) CreateFromConfig(name string, cfg config.ProviderConfig) (Provider, error) {
	if name == "" {
		return nil, fmt.Errorf("llms: provider name cannot be empty")
	}

	var provider Provider
	var err error
	switch cfg.Provider {
	case config.ProviderOpenAI:
		provider, err = NewOpenAIProvider(cfg)
	case config.ProviderAnthropic:
		provider, err = NewAnthropicProvider(cfg)
	case config.ProviderOllama:
		provider, err = NewOllamaProvider(cfg)
	default:
		return nil, fmt.Errorf("llms: unsupported provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("llms: failed to create provider %q: %w", name, err)
	}

	limited := wrapWithLimits(provider, cfg, r.governor)
	if err := r.Register(name, limited); err != nil {
		return nil, err
	}
	return limited, nil
}

func (r *Registry) MustGet(name string) (Provider, error) {
	p, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("llms: provider %q not found", name)
	}
	return p, nil
}
