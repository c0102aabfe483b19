package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/domain"
	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/infra/config"
)

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(okProvider("b", "")); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(okProvider("a", "")); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(okProvider("a", "")); err == nil {
		t.Error("duplicate registration should fail")
	}
	if got := r.List(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("List = %v", got)
	}
	if _, err := r.Get("missing"); !errors.Is(err, domain.ErrProviderNotFound) {
		t.Errorf("expected ErrProviderNotFound, got %v", err)
	}
}

func TestNewProviderUnknownType(t *testing.T) {
	_, err := NewProvider(context.Background(), config.ProviderConfig{Name: "x", Type: "carrier-pigeon"}, nil)
	if !errors.Is(err, domain.ErrProviderNotFound) {
		t.Errorf("expected ErrProviderNotFound, got %v", err)
	}
}

func TestNewProviderOpenAIAndOllama(t *testing.T) {
	p, err := NewProvider(context.Background(), config.ProviderConfig{Name: "o", Type: "openai"}, nil)
	if err != nil || p.Name() != "o" {
		t.Fatalf("openai: %v, %v", p, err)
	}
	p, err = NewProvider(context.Background(), config.ProviderConfig{Name: "l", Type: "ollama"}, nil)
	if err != nil || p.Name() != "l" {
		t.Fatalf("ollama: %v, %v", p, err)
	}
}

func stubConstructor(stubs map[string]*stubProvider) func(config.ProviderConfig) (domain.LLMProvider, error) {
	return func(pc config.ProviderConfig) (domain.LLMProvider, error) {
		s, ok := stubs[pc.Name]
		if !ok {
			return nil, errors.New("no stub")
		}
		return s, nil
	}
}

func TestBuildDefaultOnly(t *testing.T) {
	cfg := config.LLMConfig{
		DefaultProvider: "main",
		Providers:       []config.ProviderConfig{{Name: "main"}},
	}
	main := okProvider("main", "hi")
	reg, p, err := buildWith(cfg, newTestLogger(), nil, stubConstructor(map[string]*stubProvider{"main": main}))
	if err != nil {
		t.Fatalf("buildWith: %v", err)
	}
	if p != domain.LLMProvider(main) {
		t.Errorf("expected the bare default provider, got %T", p)
	}
	if len(reg.List()) != 1 {
		t.Errorf("List = %v", reg.List())
	}
}

func TestBuildWithBreakerAndFailover(t *testing.T) {
	cfg := config.LLMConfig{
		DefaultProvider: "main",
		Providers:       []config.ProviderConfig{{Name: "main"}, {Name: "backup"}},
	}
	cfg.Failover.Enabled = true
	cfg.Failover.Fallbacks = []string{"backup"}
	cfg.CircuitBreaker.Enabled = true
	cfg.CircuitBreaker.FailureThreshold = 1

	main := &stubProvider{name: "main", err: domain.ErrProviderError}
	backup := okProvider("backup", "from backup")
	_, p, err := buildWith(cfg, newTestLogger(), nil, stubConstructor(map[string]*stubProvider{"main": main, "backup": backup}))
	if err != nil {
		t.Fatalf("buildWith: %v", err)
	}
	if p.Name() != "main+failover" {
		t.Errorf("Name = %q", p.Name())
	}

	for i := 0; i < 2; i++ {
		resp, err := p.Chat(context.Background(), domain.ChatRequest{})
		if err != nil {
			t.Fatalf("Chat %d: %v", i, err)
		}
		if resp.Message.Content != "from backup" {
			t.Errorf("content = %q", resp.Message.Content)
		}
	}
	if main.calls != 1 {
		t.Errorf("open breaker should shield main, calls = %d", main.calls)
	}
}

func TestBuildErrors(t *testing.T) {
	stubs := map[string]*stubProvider{"main": okProvider("main", "")}

	cfg := config.LLMConfig{DefaultProvider: "absent", Providers: []config.ProviderConfig{{Name: "main"}}}
	if _, _, err := buildWith(cfg, newTestLogger(), nil, stubConstructor(stubs)); !errors.Is(err, domain.ErrProviderNotFound) {
		t.Errorf("missing default: %v", err)
	}

	cfg = config.LLMConfig{DefaultProvider: "main", Providers: []config.ProviderConfig{{Name: "main"}, {Name: "ghost"}}}
	if _, _, err := buildWith(cfg, newTestLogger(), nil, stubConstructor(stubs)); err == nil {
		t.Error("constructor failure should surface")
	}

	cfg = config.LLMConfig{DefaultProvider: "main", Providers: []config.ProviderConfig{{Name: "main"}}}
	cfg.Failover.Enabled = true
	cfg.Failover.Fallbacks = []string{"nope"}
	if _, _, err := buildWith(cfg, newTestLogger(), nil, stubConstructor(stubs)); !errors.Is(err, domain.ErrProviderNotFound) {
		t.Errorf("missing fallback: %v", err)
	}
}
