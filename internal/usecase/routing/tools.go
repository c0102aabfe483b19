package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/kaptinlin/jsonschema"

	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/domain"
	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/usecase"
)

// RouteToolPrefix prefixes the per-specialist routing tool names.
const RouteToolPrefix = "route_to_"

const routeArgsSchema = `{
	"type": "object",
	"properties": {
		"task": {"type": "string", "minLength": 1, "description": "Self-contained task for the specialist"}
	},
	"required": ["task"],
	"additionalProperties": false
}`

var routeDescriptions = map[string]string{
	domain.AgentVision:   "Send an image or video analysis task to the vision specialist. The user's attachment is forwarded.",
	domain.AgentDocument: "Send a document processing, extraction or summarization task to the document specialist.",
	domain.AgentData:     "Send a data analysis or SQL task to the data specialist.",
	domain.AgentTool:     "Send a calculation, weather or database lookup task to the tool specialist.",
}

// toolRouter owns the compiled argument schema shared by every request.
type toolRouter struct {
	dispatcher Dispatcher
	schema     *jsonschema.Schema
	logger     *slog.Logger
}

func newToolRouter(d Dispatcher, logger *slog.Logger) (*toolRouter, error) {
	compiler := jsonschema.NewCompiler()
	schema, err := compiler.Compile([]byte(routeArgsSchema))
	if err != nil {
		return nil, fmt.Errorf("compile route tool schema: %w", err)
	}
	return &toolRouter{dispatcher: d, schema: schema, logger: logger}, nil
}

// executor returns request-scoped route tools that carry the caller's
// identity, attachment and context to whichever specialist is chosen.
// fallBack decides whether a dispatch failure may be handed back to the
// model; when it may not, the failure is recorded and abort is called.
func (r *toolRouter) executor(req Request, memory []domain.MemoryRecord, fallBack func(error) bool, abort func()) *routeExecutor {
	ex := &routeExecutor{
		tools:    make(map[string]*routeTool, len(domain.Specialists)),
		fallBack: fallBack,
		abort:    abort,
	}
	for _, name := range domain.Specialists {
		ex.tools[RouteToolPrefix+name] = &routeTool{
			target: name,
			router: r,
			req:    req,
			memory: memory,
			exec:   ex,
		}
	}
	return ex
}

// routeExecutor implements domain.ToolExecutor over the route tools and
// remembers which specialists answered and which failed.
type routeExecutor struct {
	tools    map[string]*routeTool
	fallBack func(error) bool
	abort    func()

	mu       sync.Mutex
	routed   []string
	failed   []string
	terminal error
}

func (x *routeExecutor) Get(name string) (domain.Tool, error) {
	t, ok := x.tools[name]
	if !ok {
		return nil, domain.NewDomainError("routeExecutor.Get", domain.ErrToolNotFound, name)
	}
	return t, nil
}

func (x *routeExecutor) Schemas() []domain.ToolSchema {
	out := make([]domain.ToolSchema, 0, len(x.tools))
	for _, t := range x.tools {
		out = append(out, t.Schema())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (x *routeExecutor) record(target string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.routed = append(x.routed, target)
}

// fail records a dispatch failure and reports whether the model may carry
// on without the specialist.
func (x *routeExecutor) fail(target string, err error) bool {
	if x.fallBack != nil && x.fallBack(err) {
		x.mu.Lock()
		x.failed = append(x.failed, target)
		x.mu.Unlock()
		return true
	}
	x.mu.Lock()
	if x.terminal == nil {
		x.terminal = err
	}
	x.mu.Unlock()
	if x.abort != nil {
		x.abort()
	}
	return false
}

// Err returns the first dispatch failure that may not be answered locally.
func (x *routeExecutor) Err() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.terminal
}

// Failed returns the specialists whose failures were handed to the model.
func (x *routeExecutor) Failed() []string {
	x.mu.Lock()
	defer x.mu.Unlock()
	return append([]string(nil), x.failed...)
}

// Routed returns the specialists that answered, in completion order.
func (x *routeExecutor) Routed() []string {
	x.mu.Lock()
	defer x.mu.Unlock()
	return append([]string(nil), x.routed...)
}

type routeTool struct {
	target string
	router *toolRouter
	req    Request
	memory []domain.MemoryRecord
	exec   *routeExecutor
}

func (t *routeTool) Name() string        { return RouteToolPrefix + t.target }
func (t *routeTool) Description() string { return routeDescriptions[t.target] }
func (t *routeTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters:  json.RawMessage(routeArgsSchema),
	}
}

type routeArgs struct {
	Task string `json:"task"`
}

// Execute validates {task} and calls the specialist. A failed call ends the
// request unless the fallback policy lets the model answer without the
// specialist, in which case it comes back as an error result.
func (t *routeTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	var data any
	if err := json.Unmarshal(params, &data); err != nil {
		return &domain.ToolResult{IsError: true, Content: fmt.Sprintf("invalid JSON arguments: %v", err)}, nil
	}
	if result := t.router.schema.Validate(data); !result.IsValid() {
		return &domain.ToolResult{IsError: true, Content: fmt.Sprintf("arguments do not match schema: %s", result.Error())}, nil
	}
	var args routeArgs
	if err := json.Unmarshal(params, &args); err != nil {
		return &domain.ToolResult{IsError: true, Content: fmt.Sprintf("invalid arguments: %v", err)}, nil
	}

	ans, err := t.router.dispatcher.Call(ctx, t.target, args.Task, callOptions(t.router.logger, t.target, t.req, t.memory)...)
	if err != nil {
		if !t.exec.fail(t.target, err) {
			return nil, err
		}
		return &domain.ToolResult{
			IsError:     true,
			IsRetryable: domain.IsRetryableError(err),
			Content:     fmt.Sprintf("%s specialist failed: %s", t.target, domain.UserMessage(err)),
		}, nil
	}
	t.exec.record(t.target)
	return &domain.ToolResult{Content: ans.Text}, nil
}

func (e *Engine) handleWithTools(ctx context.Context, req Request, memory []domain.MemoryRecord) (*Result, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	ex := e.router.executor(req, memory, e.shouldFallBack, cancel)
	agent := usecase.NewAgent(usecase.AgentDeps{
		LLM:            e.deps.LLM,
		Tools:          ex,
		ContextBuilder: usecase.NewContextBuilder(usecase.RouterToolsPrompt, e.deps.Model, e.deps.MaxTokens),
		Logger:         e.logger,
		MaxIterations:  e.deps.MaxIterations,
		Retry:          e.deps.Retry,
	})

	ans, err := agent.Run(runCtx, []domain.Message{userMessage(req)}, memory)
	if dispatchErr := ex.Err(); dispatchErr != nil {
		return nil, dispatchErr
	}
	if err != nil {
		return nil, err
	}

	res := &Result{
		Content:    ans.Text,
		RoutedTo:   domain.AgentOrchestrator,
		Specialist: domain.AgentOrchestrator,
		Path:       PathTools,
		Usage:      ans.Usage,
	}
	if routed := ex.Routed(); len(routed) > 0 {
		res.Specialist = routed[len(routed)-1]
		res.RoutedTo = res.Specialist
	} else if failed := ex.Failed(); len(failed) > 0 {
		e.logger.Warn("dispatch failed, answering locally",
			"specialist", failed[len(failed)-1],
			"failures", len(failed),
		)
		res.Specialist = failed[len(failed)-1]
		res.Path = PathFallbackLocal
	}
	return res, nil
}
