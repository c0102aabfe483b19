// Package usecase holds the agent loop shared by the orchestrator and the
// specialists: model turn, parallel tool execution, bounded iterations.
package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/adapter/resilience"
	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/domain"
	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/infra/tracer"
)

const defaultMaxIterations = 10

// AgentDeps holds injected dependencies for the agent.
type AgentDeps struct {
	LLM            domain.LLMProvider
	Tools          domain.ToolExecutor // optional, nil = plain chat
	ContextBuilder *ContextBuilder
	Logger         *slog.Logger
	MaxIterations  int
	Retry          *resilience.RetryPolicy // optional, retries transient model failures
}

// Agent runs the think-act loop for one request.
type Agent struct {
	deps AgentDeps
}

// NewAgent creates an agent with the given dependencies.
func NewAgent(deps AgentDeps) *Agent {
	if deps.MaxIterations <= 0 {
		deps.MaxIterations = defaultMaxIterations
	}
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}
	if deps.ContextBuilder == nil {
		deps.ContextBuilder = NewContextBuilder("", "", 0)
	}
	return &Agent{deps: deps}
}

// Run drives the model over history until it answers without tool calls.
// Token usage is summed across turns. Hitting the iteration bound returns
// domain.ErrMaxIterations.
func (a *Agent) Run(ctx context.Context, history []domain.Message, memory []domain.MemoryRecord) (*domain.Answer, error) {
	ctx, span := tracer.StartSpan(ctx, "agent.run")
	defer span.End()

	msgs := make([]domain.Message, len(history), len(history)+2*a.deps.MaxIterations)
	copy(msgs, history)

	var schemas []domain.ToolSchema
	if a.deps.Tools != nil {
		schemas = a.deps.Tools.Schemas()
	}

	var total domain.Usage
	for i := 0; i < a.deps.MaxIterations; i++ {
		span.AddEvent("agent.iteration", trace.WithAttributes(tracer.IntAttr("iteration", i)))

		req := a.deps.ContextBuilder.Build(msgs, memory, schemas)
		resp, err := a.chat(ctx, req)
		if err != nil {
			tracer.RecordError(span, err)
			return nil, err
		}

		total.PromptTokens += resp.Usage.PromptTokens
		total.CompletionTokens += resp.Usage.CompletionTokens
		total.TotalTokens += resp.Usage.TotalTokens

		msg := resp.Message
		if msg.Role == "" {
			msg.Role = domain.RoleAssistant
		}
		msgs = append(msgs, msg)

		a.deps.Logger.Debug("llm response",
			"iteration", i,
			"tool_calls", len(msg.ToolCalls),
			"tokens", resp.Usage.TotalTokens,
		)

		// No tool calls = final response.
		if len(msg.ToolCalls) == 0 || a.deps.Tools == nil {
			tracer.SetOK(span)
			return &domain.Answer{Text: msg.Content, Usage: &total}, nil
		}

		// Execute tool calls in parallel.
		// Results are collected in an indexed array to preserve original call order.
		toolMsgs := make([]domain.Message, len(msg.ToolCalls))
		var wg sync.WaitGroup
		for idx, call := range msg.ToolCalls {
			wg.Add(1)
			go func(idx int, c domain.ToolCall) {
				defer wg.Done()
				toolMsgs[idx] = a.executeTool(ctx, c)
			}(idx, call)
		}
		wg.Wait()
		msgs = append(msgs, toolMsgs...)
	}

	err := domain.NewDomainError("Agent.Run", domain.ErrMaxIterations,
		fmt.Sprintf("no answer after %d iterations", a.deps.MaxIterations))
	tracer.RecordError(span, err)
	return nil, err
}

func (a *Agent) chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	call := func(ctx context.Context) (*domain.ChatResponse, error) {
		llmCtx, llmSpan := tracer.StartSpan(ctx, "agent.llm_call")
		defer llmSpan.End()
		return a.deps.LLM.Chat(llmCtx, req)
	}
	if a.deps.Retry == nil {
		return call(ctx)
	}
	return resilience.Retry(ctx, *a.deps.Retry, call,
		resilience.WithRetryLogger(a.deps.Logger, "llm.chat"))
}

// executeTool runs a single tool call and returns the result as a Message.
func (a *Agent) executeTool(ctx context.Context, call domain.ToolCall) domain.Message {
	ctx, span := tracer.StartSpan(ctx, "agent.execute_tool",
		trace.WithAttributes(tracer.StringAttr("tool.name", call.Name)),
	)
	defer span.End()

	reply := func(content string) domain.Message {
		return domain.Message{
			Role:       domain.RoleTool,
			Name:       call.Name,
			Content:    content,
			ToolCallID: call.ID,
			Timestamp:  time.Now(),
		}
	}

	tool, err := a.deps.Tools.Get(call.Name)
	if err != nil {
		tracer.RecordError(span, err)
		return reply(err.Error())
	}

	result, err := tool.Execute(ctx, call.Arguments)
	if err != nil {
		tracer.RecordError(span, err)
		a.deps.Logger.Warn("tool execution failed", "tool", call.Name, "error", err)
		return reply(err.Error())
	}
	if result.IsError {
		span.SetAttributes(tracer.BoolAttr("tool.is_error", true))
	} else {
		tracer.SetOK(span)
	}
	return reply(result.Content)
}
