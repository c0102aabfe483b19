package config

import (
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateAgent(cfg, ve)
	validateLLM(cfg, ve)
	validateA2A(cfg, ve)
	validateDiscovery(cfg, ve)
	validateMemory(cfg, ve)
	validateServer(cfg, ve)
	validateLogger(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

var validAgentNames = map[string]bool{
	"orchestrator": true,
	"vision":       true,
	"document":     true,
	"data":         true,
	"tool":         true,
}

func validateAgent(cfg *Config, ve *ValidationError) {
	a := cfg.Agent
	if !validAgentNames[a.Name] {
		ve.Add("agent.name %q is invalid (want: orchestrator, vision, document, data, tool)", a.Name)
	}
	if a.Timeout <= 0 {
		ve.Add("agent.timeout must be > 0")
	}
	if a.MaxIterations <= 0 {
		ve.Add("agent.max_iterations must be > 0")
	}
	if a.RoutingMode != RoutingClassify && a.RoutingMode != RoutingTools {
		ve.Add("agent.routing_mode %q is invalid (want: classify, tools)", a.RoutingMode)
	}
	if a.FallbackPolicy != FallbackNone && a.FallbackPolicy != FallbackLocal {
		ve.Add("agent.fallback_policy %q is invalid (want: none, local)", a.FallbackPolicy)
	}
	if a.RecentLimit < 0 {
		ve.Add("agent.recent_limit must be >= 0")
	}
	if a.SemanticLimit < 0 {
		ve.Add("agent.semantic_limit must be >= 0")
	}
}

var validProviderTypes = map[string]bool{
	"openai":  true,
	"ollama":  true,
	"bedrock": true,
}

func validateLLM(cfg *Config, ve *ValidationError) {
	if cfg.LLM.DefaultProvider == "" {
		ve.Add("llm.default_provider must not be empty")
	}

	seen := make(map[string]bool)
	foundDefault := false
	for i, p := range cfg.LLM.Providers {
		if p.Name == "" {
			ve.Add("llm.providers[%d].name must not be empty", i)
			continue
		}
		if seen[p.Name] {
			ve.Add("llm.providers[%d]: duplicate provider name %q", i, p.Name)
		}
		seen[p.Name] = true

		if !validProviderTypes[p.Type] {
			ve.Add("llm.providers[%d].type %q is invalid (want: openai, ollama, bedrock)", i, p.Type)
		}
		if p.Type == "openai" && p.APIKey == "" {
			ve.Add("llm.providers[%d] (%s): api_key is empty (set via AGENTCORE_LLM_PROVIDER_%s_API_KEY)",
				i, p.Name, strings.ToUpper(p.Name))
		}
		if p.Type == "bedrock" && p.Region == "" {
			ve.Add("llm.providers[%d] (%s): region is required for bedrock provider", i, p.Name)
		}
		if p.Name == cfg.LLM.DefaultProvider {
			foundDefault = true
		}
	}
	if !foundDefault && cfg.LLM.DefaultProvider != "" {
		ve.Add("llm.default_provider %q does not match any configured provider", cfg.LLM.DefaultProvider)
	}
	for _, fb := range cfg.LLM.Failover.Fallbacks {
		if !seen[fb] {
			ve.Add("llm.failover.fallbacks: unknown provider %q", fb)
		}
	}
	validateBreaker("llm.circuit_breaker", cfg.LLM.CircuitBreaker, ve)
}

func validateBreaker(prefix string, cb CircuitBreakerConfig, ve *ValidationError) {
	if !cb.Enabled {
		return
	}
	if cb.FailureThreshold == 0 {
		ve.Add("%s.failure_threshold must be > 0", prefix)
	}
	if cb.OpenTimeout <= 0 {
		ve.Add("%s.open_timeout must be > 0", prefix)
	}
	if cb.SuccessThreshold == 0 {
		ve.Add("%s.success_threshold must be > 0", prefix)
	}
}

func validateA2A(cfg *Config, ve *ValidationError) {
	a := cfg.A2A
	if a.TextTimeout <= 0 {
		ve.Add("a2a.text_timeout must be > 0")
	}
	if a.MediaTimeout <= 0 {
		ve.Add("a2a.media_timeout must be > 0")
	}
	if a.MaxResponseBytes <= 0 {
		ve.Add("a2a.max_response_bytes must be > 0")
	}
	if a.Retry.Enabled {
		if a.Retry.MaxAttempts <= 0 {
			ve.Add("a2a.retry.max_attempts must be > 0")
		}
		if a.Retry.BaseDelay <= 0 {
			ve.Add("a2a.retry.base_delay must be > 0")
		}
		if a.Retry.MaxDelay < a.Retry.BaseDelay {
			ve.Add("a2a.retry.max_delay must be >= base_delay")
		}
	}
	validateBreaker("a2a.circuit_breaker", a.CircuitBreaker, ve)
}

func validateDiscovery(cfg *Config, ve *ValidationError) {
	d := cfg.Discovery
	if d.Environment != EnvDevelopment && d.Environment != EnvProduction {
		ve.Add("discovery.environment %q is invalid (want: development, production)", d.Environment)
	}
	for name, endpoint := range d.Endpoints {
		if !validAgentNames[name] {
			ve.Add("discovery.endpoints: unknown agent %q", name)
			continue
		}
		u, err := url.Parse(endpoint)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			ve.Add("discovery.endpoints.%s: %q is not an http(s) URL", name, endpoint)
		}
	}
}

var validMemoryProviders = map[string]bool{
	"noop":   true,
	"sqlite": true,
	"redis":  true,
}

func validateMemory(cfg *Config, ve *ValidationError) {
	m := cfg.Memory
	if !validMemoryProviders[m.Provider] {
		ve.Add("memory.provider %q is invalid (want: noop, sqlite, redis)", m.Provider)
	}
	if m.Provider == "sqlite" && m.DataDir == "" {
		ve.Add("memory.data_dir is required when provider is sqlite")
	}
	if m.Provider == "redis" {
		if m.Redis.Addr == "" {
			ve.Add("memory.redis.addr is required when provider is redis")
		} else if _, _, err := net.SplitHostPort(m.Redis.Addr); err != nil {
			ve.Add("memory.redis.addr %q is invalid: %v", m.Redis.Addr, err)
		}
	}
}

func validateServer(cfg *Config, ve *ValidationError) {
	s := cfg.Server
	if s.Addr == "" {
		ve.Add("server.addr must not be empty")
	} else if _, _, err := net.SplitHostPort(s.Addr); err != nil {
		ve.Add("server.addr %q is invalid: %v", s.Addr, err)
	}
	if s.RateLimit < 0 {
		ve.Add("server.rate_limit must be >= 0")
	}
	if s.RateLimit > 0 && s.RateBurst <= 0 {
		ve.Add("server.rate_burst must be > 0 when rate_limit is set")
	}
	if s.MaxBodyBytes <= 0 {
		ve.Add("server.max_body_bytes must be > 0")
	}
	for _, p := range s.TrustedProxies {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, err := netip.ParsePrefix(p); err == nil {
			continue
		}
		if _, err := netip.ParseAddr(p); err != nil {
			ve.Add("server.trusted_proxies entry %q is not an IP address or CIDR prefix", p)
		}
	}
	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		ve.Add("metrics.path %q must start with /", cfg.Metrics.Path)
	}
}

var (
	validLogLevels  = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	validLogFormats = map[string]bool{"text": true, "json": true}
)

func validateLogger(cfg *Config, ve *ValidationError) {
	if !validLogLevels[strings.ToLower(cfg.Logger.Level)] {
		ve.Add("logger.level %q is invalid (want: debug, info, warn, error)", cfg.Logger.Level)
	}
	if !validLogFormats[cfg.Logger.Format] {
		ve.Add("logger.format %q is invalid (want: text, json)", cfg.Logger.Format)
	}
	if cfg.Tracer.Enabled && cfg.Tracer.Exporter != "noop" && cfg.Tracer.Exporter != "stdout" && cfg.Tracer.Exporter != "" {
		ve.Add("tracer.exporter %q is invalid (want: noop, stdout)", cfg.Tracer.Exporter)
	}
}
