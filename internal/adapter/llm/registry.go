package llm

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/adapter/resilience"
	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/domain"
	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/infra/config"
)

// Registry holds named LLM providers.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]domain.LLMProvider
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]domain.LLMProvider),
	}
}

// Register adds a provider. Returns error if name already registered.
func (r *Registry) Register(provider domain.LLMProvider) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := provider.Name()
	if _, exists := r.providers[name]; exists {
		return fmt.Errorf("provider %q already registered", name)
	}
	r.providers[name] = provider
	return nil
}

// Get retrieves a provider by name.
func (r *Registry) Get(name string) (domain.LLMProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	if !ok {
		return nil, domain.NewDomainError("Registry.Get", domain.ErrProviderNotFound, name)
	}
	return p, nil
}

// List returns all registered provider names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewProvider constructs one provider from its config.
func NewProvider(ctx context.Context, cfg config.ProviderConfig, logger *slog.Logger) (domain.LLMProvider, error) {
	switch cfg.Type {
	case "openai":
		return NewOpenAIProvider(cfg, logger), nil
	case "ollama":
		return NewOllamaProvider(cfg, logger), nil
	case "bedrock":
		return NewBedrockProvider(ctx, cfg, logger)
	default:
		return nil, domain.NewDomainError("llm.NewProvider", domain.ErrProviderNotFound,
			fmt.Sprintf("unsupported provider type %q", cfg.Type))
	}
}

// Build constructs every configured provider, wraps each in a circuit
// breaker when enabled, and returns the registry plus the provider agents
// should use: the default one, behind failover when configured.
func Build(ctx context.Context, cfg config.LLMConfig, logger *slog.Logger, listener resilience.StateListener) (*Registry, domain.LLMProvider, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return buildWith(cfg, logger, listener, func(pc config.ProviderConfig) (domain.LLMProvider, error) {
		return NewProvider(ctx, pc, logger)
	})
}

func buildWith(cfg config.LLMConfig, logger *slog.Logger, listener resilience.StateListener, construct func(config.ProviderConfig) (domain.LLMProvider, error)) (*Registry, domain.LLMProvider, error) {
	reg := NewRegistry()
	for _, pc := range cfg.Providers {
		p, err := construct(pc)
		if err != nil {
			return nil, nil, fmt.Errorf("provider %q: %w", pc.Name, err)
		}
		if cfg.CircuitBreaker.Enabled {
			p = NewCircuitBreakerProvider(p, resilience.BreakerConfig{
				FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
				OpenTimeout:      cfg.CircuitBreaker.OpenTimeout,
				SuccessThreshold: cfg.CircuitBreaker.SuccessThreshold,
			}, logger, listener)
		}
		if err := reg.Register(p); err != nil {
			return nil, nil, err
		}
	}

	primary, err := reg.Get(cfg.DefaultProvider)
	if err != nil {
		return nil, nil, err
	}
	if !cfg.Failover.Enabled || len(cfg.Failover.Fallbacks) == 0 {
		return reg, primary, nil
	}

	fallbacks := make([]domain.LLMProvider, 0, len(cfg.Failover.Fallbacks))
	for _, name := range cfg.Failover.Fallbacks {
		fb, err := reg.Get(name)
		if err != nil {
			return nil, nil, fmt.Errorf("failover: %w", err)
		}
		fallbacks = append(fallbacks, fb)
	}
	return reg, NewFailoverProvider(primary, fallbacks, logger), nil
}
