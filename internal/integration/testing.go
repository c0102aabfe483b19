package integration

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/adapter/a2a"
	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/adapter/discovery"
	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/adapter/tool"
	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/domain"
	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/usecase"
	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/usecase/specialist"
)

// Config holds integration test configuration from environment
type Config struct {
	OpenAIKey     string
	OpenAIBaseURL string
	OpenAIModel   string
	TestTimeout   time.Duration
	SkipSlow      bool
}

// LoadConfig loads integration test configuration from environment
func LoadConfig() *Config {
	model := os.Getenv("OPENAI_MODEL")
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &Config{
		OpenAIKey:     os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL: os.Getenv("OPENAI_BASE_URL"),
		OpenAIModel:   model,
		TestTimeout:   60 * time.Second,
		SkipSlow:      os.Getenv("SKIP_SLOW_TESTS") == "1",
	}
}

// SkipIfNoAPIKey skips the test if the required API key is not set
func SkipIfNoAPIKey(t *testing.T, key, name string) {
	t.Helper()
	if key == "" {
		t.Skipf("Skipping %s integration test: %s_API_KEY not set", name, name)
	}
}

// SkipIfShort skips integration tests in short mode
func SkipIfShort(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
}

// NewTestContext creates a context with timeout for integration tests
func NewTestContext(t *testing.T, timeout time.Duration) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}

// EchoLLM is a deterministic model. Classification requests are answered
// with Route; every other request echoes the last user message prefixed
// with Agent.
type EchoLLM struct {
	Agent string
	Route string

	mu       sync.Mutex
	requests []domain.ChatRequest
}

func (e *EchoLLM) Chat(_ context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	e.mu.Lock()
	e.requests = append(e.requests, req)
	e.mu.Unlock()

	if req.System == usecase.ClassifierPrompt {
		return &domain.ChatResponse{Message: domain.Message{Role: domain.RoleAssistant, Content: e.Route}}, nil
	}
	var last string
	for _, m := range req.Messages {
		if m.Role == domain.RoleUser {
			last = m.Content
		}
	}
	return &domain.ChatResponse{
		Message: domain.Message{Role: domain.RoleAssistant, Content: fmt.Sprintf("%s: %s", e.Agent, last)},
		Usage:   domain.Usage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5},
	}, nil
}

func (e *EchoLLM) Name() string { return "echo-" + e.Agent }

// Requests returns every request seen so far.
func (e *EchoLLM) Requests() []domain.ChatRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.ChatRequest, len(e.requests))
	copy(out, e.requests)
	return out
}

// Cluster runs every specialist as a real A2A server on a loopback port.
type Cluster struct {
	Servers map[string]*httptest.Server
	Models  map[string]*EchoLLM
}

// StartSpecialists starts one A2A server per specialist and registers
// cleanup with t.
func StartSpecialists(t *testing.T) *Cluster {
	t.Helper()
	c := &Cluster{
		Servers: make(map[string]*httptest.Server, len(domain.Specialists)),
		Models:  make(map[string]*EchoLLM, len(domain.Specialists)),
	}
	for _, name := range domain.Specialists {
		model := &EchoLLM{Agent: name}
		h, err := specialist.New(name, specialist.Deps{
			LLM:           model,
			Tools:         tool.NewDefaultRegistry(nil),
			MaxIterations: 3,
		})
		if err != nil {
			t.Fatalf("specialist %s: %v", name, err)
		}
		// The card needs the server URL, so routes are registered after start.
		mux := http.NewServeMux()
		srv := httptest.NewServer(mux)
		a2a.NewServer(a2a.NewAgentCard(name, srv.URL), h).Register(mux)
		t.Cleanup(srv.Close)

		c.Servers[name] = srv
		c.Models[name] = model
	}
	return c
}

// Endpoints returns the name to URL table of the running specialists.
func (c *Cluster) Endpoints() map[string]string {
	out := make(map[string]string, len(c.Servers))
	for name, srv := range c.Servers {
		out[name] = srv.URL
	}
	return out
}

// Resolver returns a resolver over the running specialists plus extra.
func (c *Cluster) Resolver(extra map[string]string) *discovery.Resolver {
	eps := c.Endpoints()
	for k, v := range extra {
		eps[k] = v
	}
	return discovery.Static(eps)
}
