package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/adapter/a2a"
	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/adapter/discovery"
	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/adapter/llm"
	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/adapter/memory"
	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/adapter/metrics"
	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/adapter/resilience"
	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/adapter/tool"
	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/domain"
	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/infra/config"
	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/infra/httpclient"
	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/infra/logger"
	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/infra/tracer"
)

// runtime holds the components every command shares.
type runtime struct {
	cfg      *config.Config
	log      *slog.Logger
	recorder *metrics.Recorder
	resolver *discovery.Resolver
	client   *a2a.Client
	retry    *resilience.RetryPolicy

	closers []func()
}

// newRuntime builds logging, tracing, metrics, discovery and the A2A client
// for the agent named in cfg.Agent.Name.
func newRuntime(ctx context.Context, cfg *config.Config) (*runtime, error) {
	rt := &runtime{cfg: cfg}

	// 1. Logger & Tracer
	log, logCloser, err := logger.New(cfg.Logger, cfg.Agent.Name)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	rt.log = log
	rt.closers = append(rt.closers, func() { _ = logCloser() })

	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer, cfg.Agent.Name)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("tracer: %w", err)
	}
	rt.closers = append(rt.closers, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tracerShutdown(shutdownCtx)
	})

	// 2. Metrics
	rt.recorder = metrics.NewRecorder()

	// 3. Discovery
	rt.resolver, err = discovery.New(cfg.Discovery, log)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("discovery: %w", err)
	}

	// 4. A2A client
	rt.retry = retryPolicy(cfg.A2A.Retry)
	rt.client = newClient(cfg, rt.resolver, rt.retry, log, rt.recorder)
	return rt, nil
}

// Close releases resources in reverse order of creation.
func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}

func newClient(cfg *config.Config, resolver a2a.Resolver, retry *resilience.RetryPolicy, log *slog.Logger, recorder *metrics.Recorder) *a2a.Client {
	opts := []a2a.Option{
		a2a.WithHTTPClient(httpclient.New(cfg.A2A.ConnTimeout, 0, poolConfig(cfg.A2A.Pool))),
		a2a.WithTimeouts(cfg.A2A.TextTimeout, cfg.A2A.MediaTimeout),
		a2a.WithMaxResponseBytes(cfg.A2A.MaxResponseBytes),
		a2a.WithLogger(log),
		a2a.WithObserver(a2a.MultiObserver{a2a.LogObserver{Logger: log}, recorder}),
	}
	if cb := cfg.A2A.CircuitBreaker; cb.Enabled {
		opts = append(opts, a2a.WithBreakers(resilience.NewBreakerSet(breakerConfig(cb), log, recorder.BreakerStateChanged)))
	}
	if retry != nil {
		opts = append(opts, a2a.WithRetry(*retry))
	}
	return a2a.NewClient(cfg.Agent.Name, resolver, opts...)
}

func breakerConfig(cb config.CircuitBreakerConfig) resilience.BreakerConfig {
	return resilience.BreakerConfig{
		FailureThreshold: cb.FailureThreshold,
		OpenTimeout:      cb.OpenTimeout,
		SuccessThreshold: cb.SuccessThreshold,
	}
}

// retryPolicy returns nil when retries are disabled.
func retryPolicy(rc config.RetryConfig) *resilience.RetryPolicy {
	if !rc.Enabled {
		return nil
	}
	return &resilience.RetryPolicy{
		MaxAttempts: rc.MaxAttempts,
		BaseDelay:   rc.BaseDelay,
		MaxDelay:    rc.MaxDelay,
	}
}

func poolConfig(p config.PoolConfig) httpclient.PoolConfig {
	return httpclient.PoolConfig{
		MaxIdleConns:        p.MaxIdleConns,
		MaxIdleConnsPerHost: p.MaxIdleConnsPerHost,
		MaxConnsPerHost:     p.MaxConnsPerHost,
		IdleConnTimeout:     p.IdleConnTimeout,
	}
}

// model builds the configured provider chain with metrics around it.
func (rt *runtime) model(ctx context.Context) (domain.LLMProvider, error) {
	_, provider, err := llm.Build(ctx, rt.cfg.LLM, rt.log, nil)
	if err != nil {
		return nil, fmt.Errorf("llm: %w", err)
	}
	rt.log.Info("llm ready", "provider", provider.Name())
	return metrics.InstrumentProvider(provider, rt.recorder), nil
}

// tools builds the specialist tool registry. The weather tool reuses the
// pooled transport settings of agent traffic.
func (rt *runtime) tools() *tool.Registry {
	reg := tool.NewDefaultRegistry(rt.log)
	w := rt.cfg.Tools.Weather
	weather := tool.NewWeatherTool(tool.WeatherConfig{
		APIKey:       w.APIKey,
		GeocodingURL: w.GeocodingURL,
		OneCallURL:   w.OneCallURL,
		Timeout:      w.Timeout,
	}, httpclient.New(rt.cfg.A2A.ConnTimeout, 0, poolConfig(rt.cfg.A2A.Pool)), rt.log)
	if err := reg.Register(weather); err != nil {
		rt.log.Warn("weather tool unavailable", "error", err)
	}
	return reg
}

// memory opens the configured store. An unavailable store degrades to the
// no-op store so the agent keeps answering without history.
func (rt *runtime) memory(ctx context.Context) domain.MemoryStore {
	store, closer, err := memory.New(ctx, rt.cfg.Memory, rt.log)
	if err != nil {
		rt.log.Warn("memory unavailable, continuing without history",
			"provider", rt.cfg.Memory.Provider,
			"error", err,
		)
		return memory.NewNoopMemory()
	}
	rt.closers = append(rt.closers, func() { _ = closer.Close() })
	return store
}

// listenAddr returns the address to serve on. Specialists left on the
// shared default address take the port of their development endpoint so a
// full local deployment runs without per-agent config.
func listenAddr(cfg *config.Config, agent string) string {
	addr := cfg.Server.Addr
	if agent == domain.AgentOrchestrator || (addr != "" && addr != config.Defaults().Server.Addr) {
		return addr
	}
	if u, err := url.Parse(discovery.DevelopmentEndpoints[agent]); err == nil && u.Port() != "" {
		return ":" + u.Port()
	}
	return addr
}

// publicURL is the URL advertised in the agent card.
func publicURL(cfg *config.Config, resolver a2a.Resolver, agent, addr string) string {
	if cfg.Server.PublicURL != "" {
		return strings.TrimRight(cfg.Server.PublicURL, "/")
	}
	if u, err := resolver.Resolve(agent); err == nil {
		return u
	}
	if strings.HasPrefix(addr, ":") {
		return "http://localhost" + addr
	}
	return "http://" + addr
}
