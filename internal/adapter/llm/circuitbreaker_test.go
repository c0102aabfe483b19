package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/adapter/resilience"
	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/domain"
)

func TestCircuitBreakerProviderOpens(t *testing.T) {
	inner := &stubProvider{name: "flaky", err: domain.ErrProviderError}
	var transitions []string
	cb := NewCircuitBreakerProvider(inner, resilience.BreakerConfig{
		FailureThreshold: 2,
		OpenTimeout:      time.Minute,
	}, newTestLogger(), func(dest string, _, to resilience.State) {
		transitions = append(transitions, dest+":"+to.String())
	})

	for i := 0; i < 2; i++ {
		if _, err := cb.Chat(context.Background(), domain.ChatRequest{}); !errors.Is(err, domain.ErrProviderError) {
			t.Fatalf("call %d: expected ErrProviderError, got %v", i, err)
		}
	}
	if cb.State() != resilience.StateOpen {
		t.Fatalf("state = %v, want OPEN", cb.State())
	}

	_, err := cb.Chat(context.Background(), domain.ChatRequest{})
	if !errors.Is(err, domain.ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
	if inner.calls != 2 {
		t.Errorf("inner calls = %d, want 2", inner.calls)
	}
	if len(transitions) != 1 || transitions[0] != "llm:flaky:OPEN" {
		t.Errorf("transitions = %v", transitions)
	}
}

func TestCircuitBreakerProviderPassesThrough(t *testing.T) {
	inner := okProvider("steady", "ok")
	cb := NewCircuitBreakerProvider(inner, resilience.BreakerConfig{}, nil, nil)

	resp, err := cb.Chat(context.Background(), domain.ChatRequest{})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Message.Content != "ok" {
		t.Errorf("content = %q", resp.Message.Content)
	}
	if cb.Name() != "steady" {
		t.Errorf("Name = %q", cb.Name())
	}
	if cb.State() != resilience.StateClosed {
		t.Errorf("state = %v", cb.State())
	}
}
