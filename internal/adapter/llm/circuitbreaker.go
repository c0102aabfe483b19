package llm

import (
	"context"
	"log/slog"

	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/adapter/resilience"
	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/domain"
)

var _ domain.LLMProvider = (*CircuitBreakerProvider)(nil)

// CircuitBreakerProvider wraps an LLMProvider with circuit breaker protection.
// When the wrapped provider fails repeatedly, the circuit opens and subsequent
// calls fail fast without reaching the provider, so a failover chain moves on
// immediately.
type CircuitBreakerProvider struct {
	inner   domain.LLMProvider
	breaker *resilience.Breaker
}

// NewCircuitBreakerProvider wraps inner with a breaker named "llm:<name>".
// Zero config fields fall back to the resilience defaults.
func NewCircuitBreakerProvider(inner domain.LLMProvider, cfg resilience.BreakerConfig, logger *slog.Logger, listener resilience.StateListener) *CircuitBreakerProvider {
	return &CircuitBreakerProvider{
		inner:   inner,
		breaker: resilience.NewBreaker("llm:"+inner.Name(), cfg, logger, listener),
	}
}

// Chat implements domain.LLMProvider. Calls are routed through the circuit breaker.
func (p *CircuitBreakerProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	var resp *domain.ChatResponse
	err := p.breaker.Execute(func() error {
		var chatErr error
		resp, chatErr = p.inner.Chat(ctx, req)
		return chatErr
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Name implements domain.LLMProvider.
func (p *CircuitBreakerProvider) Name() string { return p.inner.Name() }

// State returns the current circuit breaker state for monitoring.
func (p *CircuitBreakerProvider) State() resilience.State {
	return p.breaker.State()
}
