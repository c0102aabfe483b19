package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/adapter/a2a"
	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/adapter/discovery"
	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/adapter/memory"
	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/domain"
	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/infra/config"
)

// CheckStatus represents the result of a health check.
type CheckStatus string

const (
	StatusPass CheckStatus = "PASS"
	StatusWarn CheckStatus = "WARN"
	StatusFail CheckStatus = "FAIL"
)

// CheckResult holds the outcome of a single health check.
type CheckResult struct {
	Name    string
	Status  CheckStatus
	Message string
	Fix     string // optional fix suggestion
}

// Check is a named health check function.
type Check struct {
	Name string
	Fn   func(cfg *config.Config) CheckResult
}

// healthChecker probes agents over A2A. *a2a.Client implements it.
type healthChecker interface {
	Health(ctx context.Context, destination string) domain.HealthStatus
}

// runHealth checks configuration, the memory backend and every named agent
// (all known agents when names is empty).
func runHealth(ctx context.Context, names []string, out io.Writer) error {
	if len(names) == 0 {
		names = discovery.KnownAgents()
	}
	for _, n := range names {
		if !isKnownAgent(n) {
			return usageError{fmt.Sprintf("unknown agent %q (want one of %s)", n, strings.Join(discovery.KnownAgents(), ", "))}
		}
	}

	cfgPath := configPath()

	// Some checks work without a loadable config.
	cfg, cfgErr := config.Load(cfgPath)

	checks := []Check{
		{Name: "Config file", Fn: checkConfigFile(cfgPath, cfgErr)},
		{Name: "LLM credentials", Fn: checkLLMCredentials},
		{Name: "LLM connectivity", Fn: checkLLMConnectivity},
		{Name: "Memory backend", Fn: checkMemoryBackend},
		{Name: "Discovery", Fn: checkDiscovery},
	}
	results := runChecks(checks, cfg)

	var agentsErr error
	if cfg != nil {
		if resolver, err := discovery.New(cfg.Discovery, nil); err == nil {
			client := a2a.NewClient("cli", resolver,
				a2a.WithTimeouts(5*time.Second, 5*time.Second),
				a2a.WithHTTPClient(&http.Client{Timeout: 5 * time.Second}),
			)
			agents, err := checkAgents(ctx, client, names)
			results = append(results, agents...)
			agentsErr = err
		}
	}

	_, _, fail := report(out, results)
	if agentsErr != nil {
		return fmt.Errorf("agent checks interrupted: %w", agentsErr)
	}
	if fail > 0 {
		return fmt.Errorf("%d check(s) failed", fail)
	}
	return nil
}

func runChecks(checks []Check, cfg *config.Config) []CheckResult {
	results := make([]CheckResult, 0, len(checks))
	for _, check := range checks {
		result := check.Fn(cfg)
		result.Name = check.Name
		results = append(results, result)
	}
	return results
}

// report prints results in the [PASS]/[WARN]/[FAIL] layout and counts them.
func report(out io.Writer, results []CheckResult) (pass, warn, fail int) {
	fmt.Fprintln(out, "agentcore health")
	fmt.Fprintln(out, strings.Repeat("=", 50))
	fmt.Fprintln(out)

	for _, result := range results {
		fmt.Fprintf(out, "  %s %s: %s\n", statusIcon(result.Status), result.Name, result.Message)
		if result.Fix != "" {
			fmt.Fprintf(out, "      Fix: %s\n", result.Fix)
		}
		switch result.Status {
		case StatusPass:
			pass++
		case StatusWarn:
			warn++
		case StatusFail:
			fail++
		}
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, strings.Repeat("-", 50))
	fmt.Fprintf(out, "Results: %d passed, %d warnings, %d failed\n", pass, warn, fail)
	return pass, warn, fail
}

func statusIcon(s CheckStatus) string {
	switch s {
	case StatusPass:
		return "[PASS]"
	case StatusWarn:
		return "[WARN]"
	case StatusFail:
		return "[FAIL]"
	default:
		return "[????]"
	}
}

// checkConfigFile reports whether the config file loaded. A missing file is
// only a warning because defaults plus environment are a valid setup.
func checkConfigFile(cfgPath string, cfgErr error) func(*config.Config) CheckResult {
	return func(_ *config.Config) CheckResult {
		if cfgErr != nil {
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("config error: %v", cfgErr),
				Fix:     "Check config.yaml syntax and the AGENTCORE_* environment",
			}
		}
		if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
			return CheckResult{
				Status:  StatusWarn,
				Message: fmt.Sprintf("no config file at %s, using defaults and environment", cfgPath),
			}
		}
		return CheckResult{
			Status:  StatusPass,
			Message: fmt.Sprintf("config loaded from %s", cfgPath),
		}
	}
}

// checkLLMCredentials verifies each provider has what it needs to
// authenticate. Bedrock resolves credentials from the AWS chain at call time.
func checkLLMCredentials(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusFail, Message: "cannot check, config not loaded"}
	}
	if len(cfg.LLM.Providers) == 0 {
		return CheckResult{
			Status:  StatusFail,
			Message: "no LLM providers configured",
			Fix:     "Add at least one provider in config.yaml under llm.providers",
		}
	}

	var ready, missing []string
	for _, p := range cfg.LLM.Providers {
		switch p.Type {
		case "openai":
			if p.APIKey == "" {
				missing = append(missing, p.Name+" (api_key)")
				continue
			}
		case "bedrock":
			if p.Region == "" && os.Getenv("AWS_REGION") == "" {
				missing = append(missing, p.Name+" (region)")
				continue
			}
		}
		ready = append(ready, p.Name)
	}

	if len(ready) == 0 {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("no usable providers: %s", strings.Join(missing, ", ")),
			Fix:     "Set AGENTCORE_LLM_PROVIDER_<NAME>_API_KEY or the provider region",
		}
	}
	if len(missing) > 0 {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("ready: [%s]; incomplete: [%s]", strings.Join(ready, ", "), strings.Join(missing, ", ")),
		}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("providers ready: %s", strings.Join(ready, ", ")),
	}
}

// checkLLMConnectivity tests if the default LLM provider is reachable.
func checkLLMConnectivity(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusFail, Message: "cannot check, config not loaded"}
	}

	var provider *config.ProviderConfig
	for i := range cfg.LLM.Providers {
		if cfg.LLM.Providers[i].Name == cfg.LLM.DefaultProvider {
			provider = &cfg.LLM.Providers[i]
			break
		}
	}
	if provider == nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("default provider %q not found in config", cfg.LLM.DefaultProvider),
		}
	}

	endpoint := providerEndpoint(provider)
	if endpoint == "" {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("no probe endpoint for provider type %q, skipping connectivity test", provider.Type),
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return CheckResult{Status: StatusFail, Message: fmt.Sprintf("failed to create request: %v", err)}
	}
	resp, err := http.DefaultClient.Do(req)
	latency := time.Since(start)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("cannot reach %s: %v", endpoint, err),
			Fix:     "Check the provider base_url and your network",
		}
	}
	resp.Body.Close()

	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("%s reachable (latency: %dms)", provider.Name, latency.Milliseconds()),
	}
}

// providerEndpoint returns a probe URL for the given provider, or "" when
// the provider has none.
func providerEndpoint(p *config.ProviderConfig) string {
	switch p.Type {
	case "openai":
		if p.BaseURL != "" {
			return strings.TrimRight(p.BaseURL, "/") + "/models"
		}
		return "https://api.openai.com/v1/models"
	case "ollama":
		baseURL := "http://localhost:11434"
		if p.BaseURL != "" {
			baseURL = strings.TrimRight(p.BaseURL, "/")
		}
		return baseURL + "/api/tags"
	default:
		return ""
	}
}

// checkMemoryBackend verifies the configured store is usable: the SQLite
// directory is writable, or Redis answers PING.
func checkMemoryBackend(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusFail, Message: "cannot check, config not loaded"}
	}

	switch cfg.Memory.Provider {
	case "noop", "":
		return CheckResult{Status: StatusPass, Message: "memory provider is noop (no persistence)"}
	case "redis":
		return checkRedis(cfg.Memory.Redis)
	}

	dataDir := cfg.Memory.DataDir
	if dataDir == "" {
		dataDir = "./data/memory"
	}
	absDir, _ := filepath.Abs(dataDir)

	info, err := os.Stat(absDir)
	if os.IsNotExist(err) {
		if mkErr := os.MkdirAll(absDir, 0o755); mkErr != nil {
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("data directory %s does not exist and cannot be created: %v", absDir, mkErr),
				Fix:     fmt.Sprintf("Create the directory: mkdir -p %s", absDir),
			}
		}
		return CheckResult{
			Status:  StatusPass,
			Message: fmt.Sprintf("data directory created at %s (provider: %s)", absDir, cfg.Memory.Provider),
		}
	}
	if err != nil {
		return CheckResult{Status: StatusFail, Message: fmt.Sprintf("cannot stat data directory: %v", err)}
	}
	if !info.IsDir() {
		return CheckResult{Status: StatusFail, Message: fmt.Sprintf("%s exists but is not a directory", absDir)}
	}

	testFile := filepath.Join(absDir, ".health-check")
	if err := os.WriteFile(testFile, []byte("ok"), 0o644); err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("data directory %s is not writable: %v", absDir, err),
			Fix:     fmt.Sprintf("Fix permissions: chmod 755 %s", absDir),
		}
	}
	os.Remove(testFile)

	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("data directory %s writable (provider: %s)", absDir, cfg.Memory.Provider),
	}
}

func checkRedis(rc config.RedisConfig) CheckResult {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	store := memory.NewRedisStore(rc, nil)
	defer store.Close()
	if err := store.Ping(ctx); err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("redis at %s unreachable: %v", rc.Addr, err),
			Fix:     "Start Redis or set memory.redis.addr",
		}
	}
	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("redis at %s answered PING", rc.Addr)}
}

// checkDiscovery verifies every agent endpoint resolves for the environment.
func checkDiscovery(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusFail, Message: "cannot check, config not loaded"}
	}
	r, err := discovery.New(cfg.Discovery, nil)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: err.Error(),
			Fix:     "Set VISION_AGENT_URL, DOCUMENT_AGENT_URL, DATA_AGENT_URL, TOOL_AGENT_URL and ORCHESTRATOR_URL",
		}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("%d agents resolved (%s)", len(r.Names()), cfg.Discovery.Environment),
	}
}

// maxCardFetches bounds concurrent card fetches.
const maxCardFetches = 3

// checkAgents fetches each agent's card, at most maxCardFetches at a time.
// Results keep the order of names. Once ctx is done, agents not yet checked
// are reported as skipped and ctx's error is returned.
func checkAgents(ctx context.Context, hc healthChecker, names []string) ([]CheckResult, error) {
	results := make([]CheckResult, len(names))
	var g errgroup.Group
	g.SetLimit(maxCardFetches)
	for i, name := range names {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i] = CheckResult{
					Name:    "Agent " + name,
					Status:  StatusWarn,
					Message: "not checked: " + err.Error(),
				}
				return err
			}
			results[i] = agentResult(hc.Health(ctx, name))
			return nil
		})
	}
	return results, g.Wait()
}

func agentResult(st domain.HealthStatus) CheckResult {
	name := "Agent " + st.Agent
	if st.Status != domain.StatusHealthy {
		start := "agentcore specialist " + st.Agent
		if st.Agent == domain.AgentOrchestrator {
			start = "agentcore orchestrator"
		}
		return CheckResult{
			Name:    name,
			Status:  StatusFail,
			Message: "unhealthy: " + st.Error,
			Fix:     fmt.Sprintf("Start it with '%s' or check its endpoint", start),
		}
	}
	msg := "healthy"
	if len(st.Capabilities) > 0 {
		msg += " (" + strings.Join(st.Capabilities, ", ") + ")"
	}
	return CheckResult{Name: name, Status: StatusPass, Message: msg}
}
