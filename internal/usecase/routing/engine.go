// Package routing decides which agent answers a user request and drives the
// call: classify, dispatch or handle locally, then aggregate and remember.
package routing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/adapter/a2a"
	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/adapter/resilience"
	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/domain"
	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/infra/config"
	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/infra/tracer"
	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/usecase"
	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/usecase/specialist"
)

// Paths a request can take, reported in Result.Path.
const (
	PathDispatch      = "dispatch"
	PathLocal         = "local"
	PathFallbackLocal = "fallback_local"
	PathTools         = "tools"
)

// Dispatcher sends a task to a named agent. *a2a.Client implements it.
type Dispatcher interface {
	Call(ctx context.Context, destination, task string, opts ...a2a.CallOption) (*domain.Answer, error)
}

// RouteObserver is told the route of every handled request.
type RouteObserver interface {
	ObserveRoute(route string)
}

// Deps holds injected dependencies for the engine.
type Deps struct {
	LLM            domain.LLMProvider
	Dispatcher     Dispatcher
	Memory         domain.MemoryStore // optional
	Observer       RouteObserver      // optional
	Logger         *slog.Logger
	Mode           string // config.RoutingClassify (default) | config.RoutingTools
	FallbackPolicy string // config.FallbackNone (default) | config.FallbackLocal
	SystemPrompt   string // local handling; empty = built-in orchestrator prompt
	Model          string
	MaxTokens      int
	MaxIterations  int
	RecentLimit    int
	SemanticLimit  int
	Retry          *resilience.RetryPolicy // model calls only
}

// Request is one user turn.
type Request struct {
	UserID    string
	SessionID string
	Message   string
	Media     []domain.Media
	Metadata  map[string]any
}

// Result is the aggregated outcome of one request.
type Result struct {
	Content    string
	RoutedTo   string // agent that produced Content
	Specialist string // classifier decision, or the last routed tool in tools mode
	Path       string
	Latency    time.Duration
	Usage      *domain.Usage
}

// Metadata returns the aggregation metadata stored with the interaction.
func (r *Result) Metadata() map[string]string {
	return map[string]string{
		"routed_to":  r.RoutedTo,
		"specialist": r.Specialist,
		"path":       r.Path,
		"latency_ms": fmt.Sprint(r.Latency.Milliseconds()),
	}
}

var _ a2a.TaskHandler = (*Engine)(nil)

// Engine routes requests. An Engine is safe for concurrent use; nothing but
// the dispatcher's breaker state is shared between requests.
type Engine struct {
	deps       Deps
	classifier *usecase.ContextBuilder
	local      *usecase.Agent
	router     *toolRouter
	memory     usecase.Memory
	logger     *slog.Logger
}

// New validates deps and builds an engine.
func New(deps Deps) (*Engine, error) {
	if deps.LLM == nil {
		return nil, domain.NewDomainError("routing.New", domain.ErrValidation, "llm provider is required")
	}
	if deps.Dispatcher == nil {
		return nil, domain.NewDomainError("routing.New", domain.ErrValidation, "dispatcher is required")
	}
	if deps.Mode == "" {
		deps.Mode = config.RoutingClassify
	}
	if deps.FallbackPolicy == "" {
		deps.FallbackPolicy = config.FallbackNone
	}
	switch deps.Mode {
	case config.RoutingClassify, config.RoutingTools:
	default:
		return nil, domain.NewDomainError("routing.New", domain.ErrValidation,
			fmt.Sprintf("unknown routing mode %q", deps.Mode))
	}
	switch deps.FallbackPolicy {
	case config.FallbackNone, config.FallbackLocal:
	default:
		return nil, domain.NewDomainError("routing.New", domain.ErrValidation,
			fmt.Sprintf("unknown fallback policy %q", deps.FallbackPolicy))
	}
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}
	logger := deps.Logger.With("agent", domain.AgentOrchestrator)

	prompt := deps.SystemPrompt
	if prompt == "" {
		prompt = usecase.SystemPrompt(domain.AgentOrchestrator)
	}

	e := &Engine{
		deps:       deps,
		classifier: usecase.NewContextBuilder(usecase.ClassifierPrompt, deps.Model, 16),
		local: usecase.NewAgent(usecase.AgentDeps{
			LLM:            deps.LLM,
			ContextBuilder: usecase.NewContextBuilder(prompt, deps.Model, deps.MaxTokens),
			Logger:         logger,
			MaxIterations:  1,
			Retry:          deps.Retry,
		}),
		memory: usecase.Memory{
			Store:         deps.Memory,
			RecentLimit:   deps.RecentLimit,
			SemanticLimit: deps.SemanticLimit,
			Logger:        logger,
		},
		logger: logger,
	}
	if deps.Mode == config.RoutingTools {
		r, err := newToolRouter(deps.Dispatcher, logger)
		if err != nil {
			return nil, err
		}
		e.router = r
	}
	return e, nil
}

// Handle answers one request. Dispatch failures surface unchanged unless
// the fallback policy is "local".
func (e *Engine) Handle(ctx context.Context, req Request) (*Result, error) {
	ctx, span := tracer.StartSpan(ctx, "routing.handle")
	defer span.End()
	span.SetAttributes(
		tracer.StringAttr("routing.mode", e.deps.Mode),
		tracer.IntAttr("routing.media", len(req.Media)),
	)

	if strings.TrimSpace(req.Message) == "" && len(req.Media) == 0 {
		err := domain.NewDomainError("Engine.Handle", domain.ErrValidation, "empty message")
		tracer.RecordError(span, err)
		return nil, err
	}

	ctx = domain.ContextWithUserID(ctx, req.UserID)
	ctx = domain.ContextWithSessionID(ctx, req.SessionID)
	start := time.Now()
	e.logger.Info("request received",
		"user_id", req.UserID,
		"session_id", req.SessionID,
		"media", len(req.Media),
	)

	memory := e.memory.Load(ctx, req.UserID, req.SessionID, req.Message)

	var (
		res *Result
		err error
	)
	if e.deps.Mode == config.RoutingTools {
		res, err = e.handleWithTools(ctx, req, memory)
	} else {
		res, err = e.handleClassified(ctx, req, memory)
	}
	if err != nil {
		tracer.RecordError(span, err)
		e.logger.Error("request failed",
			"user_id", req.UserID,
			"session_id", req.SessionID,
			"latency_ms", time.Since(start).Milliseconds(),
			"error", err,
		)
		return nil, err
	}

	// Aggregate.
	res.Latency = time.Since(start)
	span.SetAttributes(
		tracer.StringAttr("routing.routed_to", res.RoutedTo),
		tracer.StringAttr("routing.path", res.Path),
	)
	if e.deps.Observer != nil {
		e.deps.Observer.ObserveRoute(res.RoutedTo)
	}
	e.memory.Remember(ctx, domain.Interaction{
		UserID:        req.UserID,
		SessionID:     req.SessionID,
		UserMessage:   req.Message,
		AgentResponse: res.Content,
		Metadata:      res.Metadata(),
	})
	e.logger.Info("request completed",
		"user_id", req.UserID,
		"session_id", req.SessionID,
		"routed_to", res.RoutedTo,
		"path", res.Path,
		"latency_ms", res.Latency.Milliseconds(),
	)
	tracer.SetOK(span)
	return res, nil
}

// HandleTask serves the orchestrator over A2A: the task is routed exactly
// like a chat request.
func (e *Engine) HandleTask(ctx context.Context, task a2a.Task) (*domain.Answer, error) {
	res, err := e.Handle(ctx, Request{
		UserID:    task.UserID,
		SessionID: task.SessionID,
		Message:   task.Prompt,
		Media:     task.Media,
		Metadata:  task.Metadata,
	})
	if err != nil {
		return nil, err
	}
	return &domain.Answer{Text: res.Content, Usage: res.Usage}, nil
}

func (e *Engine) handleClassified(ctx context.Context, req Request, memory []domain.MemoryRecord) (*Result, error) {
	target, err := e.Classify(ctx, req.Message)
	if err != nil {
		return nil, err
	}

	if target == domain.AgentOrchestrator {
		ans, err := e.handleLocally(ctx, req, memory)
		if err != nil {
			return nil, err
		}
		return &Result{Content: ans.Text, RoutedTo: target, Specialist: target, Path: PathLocal, Usage: ans.Usage}, nil
	}

	ans, err := e.dispatch(ctx, target, req, memory)
	if err == nil {
		return &Result{Content: ans.Text, RoutedTo: target, Specialist: target, Path: PathDispatch, Usage: ans.Usage}, nil
	}
	if !e.shouldFallBack(err) {
		return nil, err
	}

	e.logger.Warn("dispatch failed, answering locally",
		"specialist", target,
		"code", domain.ErrorCodeOf(err),
		"error", err,
	)
	ans, localErr := e.handleLocally(ctx, req, memory)
	if localErr != nil {
		return nil, errors.Join(err, localErr)
	}
	return &Result{
		Content:    ans.Text,
		RoutedTo:   domain.AgentOrchestrator,
		Specialist: target,
		Path:       PathFallbackLocal,
		Usage:      ans.Usage,
	}, nil
}

// Classify asks the model which agent should answer message. Anything
// outside the known agent names becomes "orchestrator".
func (e *Engine) Classify(ctx context.Context, message string) (string, error) {
	ctx, span := tracer.StartSpan(ctx, "routing.classify")
	defer span.End()

	req := e.classifier.Build([]domain.Message{{
		Role:      domain.RoleUser,
		Content:   fmt.Sprintf("User message: %s\n\nWhich specialist should handle this?", message),
		Timestamp: time.Now(),
	}}, nil, nil)

	resp, err := e.chat(ctx, req)
	if err != nil {
		tracer.RecordError(span, err)
		return "", domain.WrapOp("Engine.Classify", err)
	}

	raw := resp.Message.Content
	target := Coerce(raw)
	span.SetAttributes(tracer.StringAttr("routing.decision", target))
	if target != strings.ToLower(strings.TrimSpace(raw)) {
		e.logger.Debug("classifier reply coerced", "reply", a2a.SanitizeValue(raw, 200), "target", target)
	}
	tracer.SetOK(span)
	return target, nil
}

// Coerce maps a classifier reply onto the closed set of agent names.
func Coerce(reply string) string {
	name := strings.ToLower(strings.TrimSpace(reply))
	if domain.IsSpecialist(name) {
		return name
	}
	return domain.AgentOrchestrator
}

func (e *Engine) chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	if e.deps.Retry == nil {
		return e.deps.LLM.Chat(ctx, req)
	}
	return resilience.Retry(ctx, *e.deps.Retry, func(ctx context.Context) (*domain.ChatResponse, error) {
		return e.deps.LLM.Chat(ctx, req)
	}, resilience.WithRetryLogger(e.logger, "routing.classify"))
}

func (e *Engine) dispatch(ctx context.Context, target string, req Request, memory []domain.MemoryRecord) (*domain.Answer, error) {
	return e.deps.Dispatcher.Call(ctx, target, taskText(req), callOptions(e.logger, target, req, memory)...)
}

// taskText is the task sent to a specialist. Media-only requests get a
// generic instruction since the wire message needs a text part.
func taskText(req Request) string {
	if strings.TrimSpace(req.Message) == "" && len(req.Media) > 0 {
		return "Analyze the attached " + string(req.Media[0].Kind) + "."
	}
	return req.Message
}

func (e *Engine) handleLocally(ctx context.Context, req Request, memory []domain.MemoryRecord) (*domain.Answer, error) {
	return e.local.Run(ctx, []domain.Message{userMessage(req)}, memory)
}

// shouldFallBack reports whether a dispatch failure may be answered
// locally. Caller mistakes are never masked.
func (e *Engine) shouldFallBack(err error) bool {
	if e.deps.FallbackPolicy != config.FallbackLocal {
		return false
	}
	return !errors.Is(err, domain.ErrValidation) && !errors.Is(err, context.Canceled)
}

// callOptions builds the call to target. A specialist takes one attachment,
// so only the first is forwarded and the rest are logged as dropped.
func callOptions(logger *slog.Logger, target string, req Request, memory []domain.MemoryRecord) []a2a.CallOption {
	opts := []a2a.CallOption{a2a.WithUser(req.UserID, req.SessionID)}
	if len(req.Media) > 0 {
		opts = append(opts, a2a.WithMedia(req.Media[0]))
	}
	if dropped := len(req.Media) - 1; dropped > 0 {
		logger.Warn("extra media dropped",
			"destination", target,
			"forwarded", string(req.Media[0].Kind),
			"dropped", dropped,
		)
	}
	md := specialist.ContextMetadata(memory)
	for k, v := range req.Metadata {
		if md == nil {
			md = make(map[string]any, len(req.Metadata))
		}
		if _, taken := md[k]; !taken {
			md[k] = v
		}
	}
	if md != nil {
		opts = append(opts, a2a.WithMetadata(md))
	}
	return opts
}

func userMessage(req Request) domain.Message {
	return domain.Message{
		Role:      domain.RoleUser,
		Content:   req.Message,
		Media:     req.Media,
		Timestamp: time.Now(),
	}
}
