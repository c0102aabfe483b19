// Package specialist answers A2A tasks for one worker agent (vision,
// document, data or tool) with the shared agent loop.
package specialist

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/adapter/a2a"
	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/adapter/resilience"
	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/domain"
	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/infra/tracer"
	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/usecase"
)

// MetadataContextKey is the message metadata entry carrying conversation
// context from the orchestrator as a list of {role, content} objects.
const MetadataContextKey = "context"

var _ a2a.TaskHandler = (*Handler)(nil)

// Deps holds injected dependencies for a specialist.
type Deps struct {
	LLM           domain.LLMProvider
	Memory        domain.MemoryStore  // optional
	Tools         domain.ToolExecutor // used by the tool specialist only
	Logger        *slog.Logger
	SystemPrompt  string // empty = built-in prompt for the agent
	Model         string
	MaxTokens     int
	MaxIterations int
	Retry         *resilience.RetryPolicy
}

// Handler answers tasks for one specialist.
type Handler struct {
	name   string
	agent  *usecase.Agent
	memory usecase.Memory
	logger *slog.Logger
}

// New creates the handler for the named specialist.
func New(name string, deps Deps) (*Handler, error) {
	if !domain.IsSpecialist(name) {
		return nil, domain.NewDomainError("specialist.New", domain.ErrValidation,
			fmt.Sprintf("unknown specialist %q (want one of %s)", name, strings.Join(domain.Specialists, ", ")))
	}
	if deps.LLM == nil {
		return nil, domain.NewDomainError("specialist.New", domain.ErrValidation, "llm provider is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	logger = logger.With("agent", name)

	prompt := deps.SystemPrompt
	if prompt == "" {
		prompt = usecase.SystemPrompt(name)
	}

	var tools domain.ToolExecutor
	if name == domain.AgentTool {
		tools = deps.Tools
	}

	return &Handler{
		name: name,
		agent: usecase.NewAgent(usecase.AgentDeps{
			LLM:            deps.LLM,
			Tools:          tools,
			ContextBuilder: usecase.NewContextBuilder(prompt, deps.Model, deps.MaxTokens),
			Logger:         logger,
			MaxIterations:  deps.MaxIterations,
			Retry:          deps.Retry,
		}),
		memory: usecase.Memory{Store: deps.Memory, Logger: logger},
		logger: logger,
	}, nil
}

// Name returns the specialist name.
func (h *Handler) Name() string { return h.name }

// HandleTask runs the agent over the task prompt and attached media.
func (h *Handler) HandleTask(ctx context.Context, task a2a.Task) (*domain.Answer, error) {
	ctx, span := tracer.StartSpan(ctx, "specialist.handle")
	defer span.End()
	span.SetAttributes(
		tracer.StringAttr("specialist.name", h.name),
		tracer.IntAttr("specialist.media", len(task.Media)),
	)

	if err := h.validate(task); err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	start := time.Now()
	h.logger.Info("task received",
		"user_id", task.UserID,
		"session_id", task.SessionID,
		"media", len(task.Media),
	)

	user := domain.Message{
		Role:      domain.RoleUser,
		Content:   task.Prompt,
		Media:     task.Media,
		Timestamp: start,
	}
	if user.Content == "" {
		user.Content = defaultMediaPrompt(task.Media)
	}

	ans, err := h.agent.Run(ctx, []domain.Message{user}, ContextFromMetadata(task.Metadata))
	if err != nil {
		tracer.RecordError(span, err)
		h.logger.Error("task failed", "user_id", task.UserID, "session_id", task.SessionID, "error", err)
		return nil, err
	}

	h.memory.Remember(ctx, domain.Interaction{
		UserID:        task.UserID,
		SessionID:     task.SessionID,
		UserMessage:   task.Prompt,
		AgentResponse: ans.Text,
		Metadata:      map[string]string{"agent": h.name},
	})

	h.logger.Info("task completed",
		"user_id", task.UserID,
		"session_id", task.SessionID,
		"latency_ms", time.Since(start).Milliseconds(),
	)
	tracer.SetOK(span)
	return ans, nil
}

func (h *Handler) validate(task a2a.Task) error {
	if strings.TrimSpace(task.Prompt) == "" && len(task.Media) == 0 {
		return domain.NewDomainError("specialist.HandleTask", domain.ErrValidation, "task has no prompt or media")
	}
	if h.name == domain.AgentVision && len(task.Media) == 0 {
		return domain.NewDomainError("specialist.HandleTask", domain.ErrValidation, "vision tasks need an image or video")
	}
	return nil
}

func defaultMediaPrompt(media []domain.Media) string {
	for _, m := range media {
		if m.Kind == domain.MediaVideo {
			return "Describe this video."
		}
	}
	return "Describe this image."
}

// ContextFromMetadata decodes the orchestrator's conversation context.
// Malformed entries are skipped.
func ContextFromMetadata(md map[string]any) []domain.MemoryRecord {
	raw, ok := md[MetadataContextKey].([]any)
	if !ok {
		return nil
	}
	out := make([]domain.MemoryRecord, 0, len(raw))
	for _, item := range raw {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		role, _ := obj["role"].(string)
		content, _ := obj["content"].(string)
		if role == "" || content == "" {
			continue
		}
		out = append(out, domain.MemoryRecord{Role: role, Content: content})
	}
	return out
}

// ContextMetadata encodes records for ContextFromMetadata.
func ContextMetadata(records []domain.MemoryRecord) map[string]any {
	if len(records) == 0 {
		return nil
	}
	items := make([]any, 0, len(records))
	for _, r := range records {
		items = append(items, map[string]any{"role": r.Role, "content": r.Content})
	}
	return map[string]any{MetadataContextKey: items}
}
