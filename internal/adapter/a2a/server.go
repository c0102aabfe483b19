package a2a

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/domain"
	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/infra/logger"
	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/infra/tracer"
)

// DefaultMaxRequestBytes bounds an inbound request body. Inline video makes
// requests large, so this is generous.
const DefaultMaxRequestBytes = 32 * 1024 * 1024

// Task is an inbound "message/send" request decoded for a handler.
type Task struct {
	Prompt    string
	Media     []domain.Media
	UserID    string
	SessionID string
	ContextID string
	TaskID    string
	MessageID string
	Metadata  map[string]any
}

// TaskHandler answers one task.
type TaskHandler interface {
	HandleTask(ctx context.Context, task Task) (*domain.Answer, error)
}

// TaskHandlerFunc adapts a function to TaskHandler.
type TaskHandlerFunc func(ctx context.Context, task Task) (*domain.Answer, error)

func (f TaskHandlerFunc) HandleTask(ctx context.Context, task Task) (*domain.Answer, error) {
	return f(ctx, task)
}

// Server exposes a TaskHandler over the A2A protocol.
type Server struct {
	card     domain.AgentCard
	handler  TaskHandler
	logger   *slog.Logger
	maxBytes int64
	started  time.Time
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerLogger sets the server logger.
func WithServerLogger(l *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

// WithMaxRequestBytes bounds inbound request bodies.
func WithMaxRequestBytes(n int64) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.maxBytes = n
		}
	}
}

// NewServer creates a server that advertises card and answers with handler.
func NewServer(card domain.AgentCard, handler TaskHandler, opts ...ServerOption) *Server {
	s := &Server{
		card:     card,
		handler:  handler,
		maxBytes: DefaultMaxRequestBytes,
		started:  time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	return s
}

// Register mounts the A2A routes on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /{$}", s.handleRPC)
	mux.HandleFunc("GET "+AgentCardPath, s.handleCard)
	mux.HandleFunc("GET /health", s.handleHealth)
}

// Handler returns a mux serving only the A2A routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.Register(mux)
	return mux
}

func (s *Server) handleCard(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.card)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         domain.StatusHealthy,
		"agent":          s.card.Name,
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
	})
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.StartSpan(r.Context(), "a2a.serve",
		trace.WithAttributes(tracer.StringAttr("a2a.agent", s.card.Name)),
	)
	defer span.End()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.replyError(w, nil, CodeInvalidRequest, fmt.Sprintf("request body exceeds %d bytes", s.maxBytes))
			return
		}
		s.replyError(w, nil, CodeParseError, "could not read request body")
		return
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		s.replyError(w, nil, CodeParseError, "parse error: "+err.Error())
		return
	}
	if req.JSONRPC != JSONRPCVersion || req.Method == "" || len(req.ID) == 0 || isNull(req.ID) {
		s.replyError(w, req.ID, CodeInvalidRequest, "invalid JSON-RPC 2.0 request")
		return
	}
	span.SetAttributes(tracer.StringAttr("rpc.method", req.Method))
	if req.Method != MethodMessageSend {
		s.replyError(w, req.ID, CodeMethodNotFound, fmt.Sprintf("method %q not found", req.Method))
		return
	}

	var params SendParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		s.replyError(w, req.ID, CodeInvalidParams, "invalid params: "+err.Error())
		return
	}
	task, err := decodeTask(params)
	if err != nil {
		s.replyError(w, req.ID, CodeInvalidParams, err.Error())
		return
	}
	span.SetAttributes(tracer.IntAttr("a2a.media_count", len(task.Media)))

	if task.UserID != "" {
		ctx = domain.ContextWithUserID(ctx, task.UserID)
	}
	if task.SessionID != "" {
		ctx = domain.ContextWithSessionID(ctx, task.SessionID)
	}

	start := time.Now()
	ans, err := s.handler.HandleTask(ctx, task)
	if err != nil {
		tracer.RecordError(span, err)
		s.logger.Error("task failed", "message_id", task.MessageID, "error", err,
			"duration_ms", time.Since(start).Milliseconds())
		code := CodeServerError
		if errors.Is(err, domain.ErrValidation) {
			code = CodeInvalidParams
		}
		s.replyError(w, req.ID, code, truncate(logger.RedactString(err.Error()), 512))
		return
	}
	if ans == nil {
		ans = &domain.Answer{}
	}

	s.logger.Info("task completed",
		"message_id", task.MessageID,
		"media", len(task.Media),
		"chars", len(ans.Text),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	tracer.SetOK(span)
	writeJSON(w, http.StatusOK, Response{
		JSONRPC: JSONRPCVersion,
		ID:      req.ID,
		Result:  newTaskResult(task, ans),
	})
}

func (s *Server) replyError(w http.ResponseWriter, id json.RawMessage, code int, msg string) {
	s.logger.Warn("rejecting a2a request", "code", code, "message", msg)
	if len(id) == 0 {
		id = json.RawMessage("null")
	}
	writeJSON(w, http.StatusOK, Response{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Error:   &RPCError{Code: code, Message: msg},
	})
}

// decodeTask turns message parts back into a prompt and media list. Text
// parts are joined with newlines in order.
func decodeTask(p SendParams) (Task, error) {
	task := Task{
		UserID:    p.UserID,
		SessionID: p.SessionID,
		ContextID: p.Message.ContextID,
		TaskID:    p.Message.TaskID,
		MessageID: p.Message.MessageID,
		Metadata:  p.Message.Metadata,
	}

	var texts []string
	for i, part := range p.Message.Parts {
		switch pt := part.(type) {
		case TextPart:
			if pt.Text != "" {
				texts = append(texts, pt.Text)
			}
		case FilePart:
			kind, ok := KindForMIME(pt.MIMEType)
			if !ok {
				return Task{}, fmt.Errorf("part %d: unsupported mime type %q", i, pt.MIMEType)
			}
			if strings.TrimSpace(pt.URI) == "" {
				return Task{}, fmt.Errorf("part %d: file part has no uri", i)
			}
			task.Media = append(task.Media, domain.Media{Kind: kind, Format: FormatForMIME(pt.MIMEType), URI: pt.URI})
		case DataPart:
			kind, ok := KindForMIME(pt.MIMEType)
			if !ok {
				return Task{}, fmt.Errorf("part %d: unsupported mime type %q", i, pt.MIMEType)
			}
			b64, err := NormalizeBase64(pt.Base64)
			if err != nil {
				return Task{}, fmt.Errorf("part %d: %w", i, err)
			}
			task.Media = append(task.Media, domain.Media{Kind: kind, Format: FormatForMIME(pt.MIMEType), Base64: b64})
		}
	}

	task.Prompt = strings.Join(texts, "\n")
	if strings.TrimSpace(task.Prompt) == "" {
		return Task{}, fmt.Errorf("message has no text")
	}
	return task, nil
}

// taskResult is the completed-task shape returned to callers.
type taskResult struct {
	Kind      string         `json:"kind"`
	ID        string         `json:"id"`
	ContextID string         `json:"contextId,omitempty"`
	Status    taskStatus     `json:"status"`
	Artifacts []artifact     `json:"artifacts"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type taskStatus struct {
	State     string `json:"state"`
	Timestamp string `json:"timestamp"`
}

type artifact struct {
	ArtifactID string         `json:"artifactId"`
	Parts      []artifactPart `json:"parts"`
}

type artifactPart struct {
	Kind string `json:"kind"`
	Text string `json:"text"`
}

func newTaskResult(task Task, ans *domain.Answer) taskResult {
	id := task.TaskID
	if id == "" {
		id = uuid.NewString()
	}
	res := taskResult{
		Kind:      "task",
		ID:        id,
		ContextID: task.ContextID,
		Status:    taskStatus{State: "completed", Timestamp: time.Now().UTC().Format(time.RFC3339)},
		Artifacts: []artifact{{
			ArtifactID: uuid.NewString(),
			Parts:      []artifactPart{{Kind: string(PartText), Text: ans.Text}},
		}},
	}
	if ans.Usage != nil {
		res.Metadata = map[string]any{
			"usage": map[string]int{
				"inputTokens":  ans.Usage.PromptTokens,
				"outputTokens": ans.Usage.CompletionTokens,
				"totalTokens":  ans.Usage.TotalTokens,
			},
		}
	}
	return res
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
