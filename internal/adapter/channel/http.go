// Package channel exposes the orchestrator to end users over HTTP.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/time/rate"

	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/adapter/a2a"
	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/domain"
	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/infra/config"
	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/infra/middleware"
	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/usecase/routing"
)

const (
	defaultMaxBodyBytes = 16 << 20 // inline video needs room
	defaultUserID       = "anonymous"
)

// Router answers one chat turn. *routing.Engine implements it. A nil Router
// leaves the chat API unregistered.
type Router interface {
	Handle(ctx context.Context, req routing.Request) (*routing.Result, error)
}

// Option configures an HTTPChannel.
type Option func(*HTTPChannel)

// WithMount registers extra routes (A2A endpoints, /metrics) on the
// channel's mux so one listener serves everything.
func WithMount(fn func(mux *http.ServeMux)) Option {
	return func(h *HTTPChannel) { h.mounts = append(h.mounts, fn) }
}

// HTTPChannel serves the chat API.
type HTTPChannel struct {
	server *http.Server
	logger *slog.Logger
	cfg    config.ServerConfig
	router Router
	mounts []func(*http.ServeMux)

	// Actual bound address (set after Start)
	boundAddr string

	// Lifecycle management for rate limiter cleanup goroutine
	ctx    context.Context
	cancel context.CancelFunc
}

type chatRequest struct {
	UserID    string         `json:"user_id"`
	SessionID string         `json:"session_id"`
	Message   string         `json:"message"`
	Media     []domain.Media `json:"media,omitempty"`
}

type chatResponse struct {
	SessionID  string `json:"session_id"`
	Content    string `json:"content,omitempty"`
	RoutedTo   string `json:"routed_to,omitempty"`
	Specialist string `json:"specialist,omitempty"`
	LatencyMS  int64  `json:"latency_ms"`
	Error      string `json:"error,omitempty"`
}

// NewHTTPChannel creates the chat API for router.
func NewHTTPChannel(cfg config.ServerConfig, router Router, logger *slog.Logger, opts ...Option) *HTTPChannel {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	h := &HTTPChannel{cfg: cfg, router: router, logger: logger}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Handler returns the routed handler wrapped in security headers and per-IP
// rate limiting. ctx bounds the rate limiter's cleanup goroutine.
func (h *HTTPChannel) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	if h.router != nil {
		mux.HandleFunc("POST /api/v1/chat", h.handleChat)
	}
	mux.HandleFunc("GET /api/v1/health", h.handleHealth)
	for _, mount := range h.mounts {
		mount(mux)
	}

	var handler http.Handler = mux
	if h.cfg.RateLimit > 0 {
		burst := h.cfg.RateBurst
		if burst <= 0 {
			burst = int(math.Ceil(h.cfg.RateLimit))
		}
		proxies, err := middleware.ParseTrustedProxies(h.cfg.TrustedProxies)
		if err != nil {
			h.logger.Warn("ignoring trusted proxies", "error", err)
			proxies = nil
		}
		handler = middleware.RateLimit(ctx, middleware.RateLimitConfig{
			Rate:           rate.Limit(h.cfg.RateLimit),
			Burst:          burst,
			TrustedProxies: proxies,
		})(handler)
	}
	return middleware.SecurityHeaders(handler)
}

// Start begins the HTTP server. Non-blocking (starts in goroutine).
func (h *HTTPChannel) Start(ctx context.Context) error {
	h.ctx, h.cancel = context.WithCancel(ctx)

	h.server = &http.Server{
		Addr:              h.cfg.Addr,
		Handler:           h.Handler(h.ctx),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       h.cfg.ReadTimeout,
		WriteTimeout:      h.cfg.WriteTimeout,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	ln, err := net.Listen("tcp", h.cfg.Addr)
	if err != nil {
		h.cancel()
		return fmt.Errorf("listen %s: %w", h.cfg.Addr, err)
	}
	h.boundAddr = ln.Addr().String()

	go func() {
		h.logger.Info("http channel started", "addr", h.boundAddr)
		if err := h.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("http server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound address once started.
func (h *HTTPChannel) Addr() string { return h.boundAddr }

// Stop gracefully shuts down the HTTP server.
func (h *HTTPChannel) Stop(ctx context.Context) error {
	if h.cancel != nil {
		h.cancel()
	}
	if h.server == nil {
		return nil
	}
	return h.server.Shutdown(ctx)
}

// Name returns the channel name.
func (h *HTTPChannel) Name() string { return "http" }

func (h *HTTPChannel) handleChat(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxBodyBytes)

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, chatResponse{
				Error: fmt.Sprintf("request body too large (max %d bytes)", h.cfg.MaxBodyBytes),
			})
			return
		}
		writeJSON(w, http.StatusBadRequest, chatResponse{Error: "invalid JSON: " + err.Error()})
		return
	}

	if req.SessionID == "" {
		req.SessionID = newSessionID()
	}
	if req.UserID == "" {
		req.UserID = defaultUserID
	}
	if strings.TrimSpace(req.Message) == "" && len(req.Media) == 0 {
		writeJSON(w, http.StatusBadRequest, chatResponse{SessionID: req.SessionID, Error: "message is required"})
		return
	}
	media, err := normalizeMedia(req.Media)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, chatResponse{SessionID: req.SessionID, Error: err.Error()})
		return
	}

	res, err := h.router.Handle(r.Context(), routing.Request{
		UserID:    req.UserID,
		SessionID: req.SessionID,
		Message:   req.Message,
		Media:     media,
		Metadata:  map[string]any{"channel": h.Name()},
	})
	if err != nil {
		h.logger.Warn("chat request failed",
			"user_id", req.UserID,
			"session_id", req.SessionID,
			"code", domain.ErrorCodeOf(err),
			"error", err,
		)
		writeJSON(w, statusFor(err), chatResponse{
			SessionID: req.SessionID,
			Error:     domain.UserMessage(err),
		})
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{
		SessionID:  req.SessionID,
		Content:    res.Content,
		RoutedTo:   res.RoutedTo,
		Specialist: res.Specialist,
		LatencyMS:  res.Latency.Milliseconds(),
	})
}

func (h *HTTPChannel) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// normalizeMedia checks kinds and payloads up front so a bad attachment is
// a 400 rather than a failed dispatch.
func normalizeMedia(in []domain.Media) ([]domain.Media, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make([]domain.Media, 0, len(in))
	for i, m := range in {
		if m.Kind != domain.MediaImage && m.Kind != domain.MediaVideo {
			return nil, fmt.Errorf("media[%d]: type must be image or video", i)
		}
		m.Format = a2a.NormalizeFormat(m.Format)
		if m.Format == "" {
			return nil, fmt.Errorf("media[%d]: format is required", i)
		}
		switch {
		case m.URI != "":
			m.Base64 = ""
		case m.Base64 != "":
			b64, err := a2a.NormalizeBase64(m.Base64)
			if err != nil {
				return nil, fmt.Errorf("media[%d]: %v", i, err)
			}
			m.Base64 = b64
		default:
			return nil, fmt.Errorf("media[%d]: data or uri is required", i)
		}
		out = append(out, m)
	}
	return out, nil
}

// statusFor maps a routing failure onto an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrCircuitOpen),
		errors.Is(err, domain.ErrDestinationUnavailable),
		errors.Is(err, domain.ErrRateLimit):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, domain.ErrRemote),
		errors.Is(err, domain.ErrProtocol),
		errors.Is(err, domain.ErrUnknownDestination):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func newSessionID() string {
	t := time.Now()
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
