package llm

import (
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/domain"
	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/infra/config"
)

func TestMapHTTPError429(t *testing.T) {
	err := mapHTTPError(http.StatusTooManyRequests, []byte(`{"error":"rate limit exceeded"}`))
	if !errors.Is(err, domain.ErrRateLimit) {
		t.Errorf("expected ErrRateLimit, got %v", err)
	}
}

func TestMapHTTPErrorAuth(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		err := mapHTTPError(status, []byte(`{"error":"invalid api key"}`))
		if !errors.Is(err, domain.ErrAuthInvalid) {
			t.Errorf("status %d: expected ErrAuthInvalid, got %v", status, err)
		}
	}
}

func TestMapHTTPError413(t *testing.T) {
	err := mapHTTPError(http.StatusRequestEntityTooLarge, []byte(`{"error":"context too long"}`))
	if !errors.Is(err, domain.ErrContextOverflow) {
		t.Errorf("expected ErrContextOverflow, got %v", err)
	}
}

func TestMapHTTPError5xx(t *testing.T) {
	for _, status := range []int{500, 502, 503} {
		err := mapHTTPError(status, []byte(`down`))
		if !errors.Is(err, domain.ErrProviderError) {
			t.Errorf("status %d: expected ErrProviderError, got %v", status, err)
		}
	}
}

func TestMapHTTPErrorUnknownStatus(t *testing.T) {
	err := mapHTTPError(418, []byte(`I'm a teapot`))
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, domain.ErrRateLimit) || errors.Is(err, domain.ErrAuthInvalid) ||
		errors.Is(err, domain.ErrContextOverflow) || errors.Is(err, domain.ErrProviderError) {
		t.Errorf("expected no sentinel wrapping for unknown status, got %v", err)
	}
	if !strings.Contains(err.Error(), "teapot") {
		t.Errorf("error should include body: %v", err)
	}
}

func TestMapHTTPErrorScrubsEchoedImage(t *testing.T) {
	blob := strings.Repeat("iVBO", 100)
	err := mapHTTPError(http.StatusBadRequest, []byte(`{"error":"bad image `+blob+`"}`))
	if strings.Contains(err.Error(), blob) {
		t.Error("error message leaked inline image")
	}
}

func TestNewHTTPClientTimeouts(t *testing.T) {
	c := NewHTTPClient(config.ProviderConfig{})
	if c.Timeout != defaultConnTimeout+defaultRespTimeout {
		t.Errorf("Timeout = %v", c.Timeout)
	}
	c = NewHTTPClient(config.ProviderConfig{ConnTimeout: time.Second, RespTimeout: 2 * time.Second})
	if c.Timeout != 3*time.Second {
		t.Errorf("Timeout = %v", c.Timeout)
	}
}

func TestSystemPrompt(t *testing.T) {
	req := domain.ChatRequest{Messages: []domain.Message{{Role: domain.RoleSystem, Content: "from message"}}}
	if got := systemPrompt(req); got != "from message" {
		t.Errorf("systemPrompt = %q", got)
	}
	req.System = "explicit"
	if got := systemPrompt(req); got != "explicit" {
		t.Errorf("systemPrompt = %q", got)
	}
}
