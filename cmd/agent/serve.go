package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/adapter/a2a"
	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/adapter/channel"
	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/domain"
	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/usecase/routing"
	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/usecase/specialist"
)

const shutdownTimeout = 10 * time.Second

// runServe runs agent until ctx is cancelled. The orchestrator serves the
// chat API and A2A; a specialist serves A2A only.
func runServe(ctx context.Context, agent string) error {
	cfg, err := loadConfig(agent)
	if err != nil {
		return err
	}
	rt, err := newRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	model, err := rt.model(ctx)
	if err != nil {
		return err
	}
	store := rt.memory(ctx)

	addr := listenAddr(cfg, agent)
	card := a2a.NewAgentCard(agent, publicURL(cfg, rt.resolver, agent, addr))

	var (
		handler a2a.TaskHandler
		router  channel.Router
	)
	if agent == domain.AgentOrchestrator {
		engine, err := routing.New(routing.Deps{
			LLM:            model,
			Dispatcher:     rt.client,
			Memory:         store,
			Observer:       rt.recorder,
			Logger:         rt.log,
			Mode:           cfg.Agent.RoutingMode,
			FallbackPolicy: cfg.Agent.FallbackPolicy,
			SystemPrompt:   cfg.Agent.SystemPrompt,
			Model:          cfg.Agent.Model,
			MaxTokens:      cfg.Agent.MaxTokens,
			MaxIterations:  cfg.Agent.MaxIterations,
			RecentLimit:    cfg.Agent.RecentLimit,
			SemanticLimit:  cfg.Agent.SemanticLimit,
			Retry:          rt.retry,
		})
		if err != nil {
			return fmt.Errorf("routing: %w", err)
		}
		handler = engine
		router = deadlineRouter{engine: engine, timeout: cfg.Agent.Timeout}
	} else {
		h, err := specialist.New(agent, specialist.Deps{
			LLM:           model,
			Memory:        store,
			Tools:         rt.tools(),
			Logger:        rt.log,
			SystemPrompt:  cfg.Agent.SystemPrompt,
			Model:         cfg.Agent.Model,
			MaxTokens:     cfg.Agent.MaxTokens,
			MaxIterations: cfg.Agent.MaxIterations,
			Retry:         rt.retry,
		})
		if err != nil {
			return fmt.Errorf("specialist: %w", err)
		}
		handler = h
	}
	handler = withDeadline(handler, cfg.Agent.Timeout)

	a2aServer := a2a.NewServer(card, handler,
		a2a.WithServerLogger(rt.log),
		a2a.WithMaxRequestBytes(cfg.Server.MaxBodyBytes),
	)

	// One listener serves the chat API (orchestrator only), A2A and /metrics.
	srvCfg := cfg.Server
	srvCfg.Addr = addr
	ch := channel.NewHTTPChannel(srvCfg, router, rt.log,
		channel.WithMount(a2aServer.Register),
		channel.WithMount(func(mux *http.ServeMux) {
			if cfg.Metrics.Enabled {
				mux.Handle("GET "+cfg.Metrics.Path, rt.recorder.Handler())
			}
		}),
	)
	if err := ch.Start(ctx); err != nil {
		return err
	}

	rt.log.Info("agent starting",
		"agent", agent,
		"addr", ch.Addr(),
		"url", card.URL,
		"memory", store.Name(),
		"routing_mode", cfg.Agent.RoutingMode,
		"fallback_policy", cfg.Agent.FallbackPolicy,
	)

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := ch.Stop(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("shutdown: %w", err)
	}
	rt.log.Info("agent stopped", "agent", agent)
	return nil
}

// deadlineHandler bounds every A2A task by the agent timeout.
type deadlineHandler struct {
	inner   a2a.TaskHandler
	timeout time.Duration
}

func withDeadline(h a2a.TaskHandler, timeout time.Duration) deadlineHandler {
	return deadlineHandler{inner: h, timeout: timeout}
}

func (d deadlineHandler) HandleTask(ctx context.Context, task a2a.Task) (*domain.Answer, error) {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	return d.inner.HandleTask(ctx, task)
}

// deadlineRouter bounds every chat request by the agent timeout.
type deadlineRouter struct {
	engine  *routing.Engine
	timeout time.Duration
}

func (d deadlineRouter) Handle(ctx context.Context, req routing.Request) (*routing.Result, error) {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	return d.engine.Handle(ctx, req)
}
