// Package discovery maps agent names to their A2A base URLs.
package discovery

import (
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"

	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/domain"
	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/infra/config"
)

// DevelopmentEndpoints are the local ports each agent listens on when no
// endpoint is configured.
var DevelopmentEndpoints = map[string]string{
	domain.AgentVision:       "http://localhost:9001",
	domain.AgentDocument:     "http://localhost:9002",
	domain.AgentData:         "http://localhost:9003",
	domain.AgentTool:         "http://localhost:9004",
	domain.AgentOrchestrator: "http://localhost:9005",
}

// KnownAgents lists every name the resolver accepts.
func KnownAgents() []string {
	return append([]string{domain.AgentOrchestrator}, domain.Specialists...)
}

// Resolver is a fixed name to URL table. It is read-only after
// construction and safe for concurrent use.
type Resolver struct {
	endpoints map[string]string
}

// New builds a resolver from cfg. In development, missing agents fall back
// to DevelopmentEndpoints. In production every known agent must be
// configured.
func New(cfg config.DiscoveryConfig, logger *slog.Logger) (*Resolver, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	endpoints := make(map[string]string, len(DevelopmentEndpoints))
	var missing []string
	for _, name := range KnownAgents() {
		raw := strings.TrimSpace(cfg.Endpoints[name])
		if raw == "" {
			if cfg.Environment == config.EnvProduction {
				missing = append(missing, name)
				continue
			}
			raw = DevelopmentEndpoints[name]
		}
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, domain.NewDomainError("discovery.New", domain.ErrValidation,
				fmt.Sprintf("endpoint for %s is not an http(s) URL: %q", name, raw))
		}
		endpoints[name] = strings.TrimRight(raw, "/")
	}
	if len(missing) > 0 {
		return nil, domain.NewDomainError("discovery.New", domain.ErrValidation,
			"production requires endpoints for: "+strings.Join(missing, ", "))
	}

	for name := range cfg.Endpoints {
		if _, ok := endpoints[name]; !ok {
			logger.Warn("ignoring endpoint for unknown agent", "agent", name)
		}
	}
	logger.Info("agent endpoints resolved", "environment", cfg.Environment, "agents", len(endpoints))
	return &Resolver{endpoints: endpoints}, nil
}

// Static returns a resolver over exactly the given table. Intended for
// tests and tooling.
func Static(endpoints map[string]string) *Resolver {
	cp := make(map[string]string, len(endpoints))
	for k, v := range endpoints {
		cp[k] = v
	}
	return &Resolver{endpoints: cp}
}

// Resolve returns the base URL of name.
func (r *Resolver) Resolve(name string) (string, error) {
	if u, ok := r.endpoints[name]; ok {
		return u, nil
	}
	return "", domain.NewDomainError("Resolver.Resolve", domain.ErrUnknownDestination,
		fmt.Sprintf("no endpoint for agent %q", name))
}

// All returns a copy of the table.
func (r *Resolver) All() map[string]string {
	out := make(map[string]string, len(r.endpoints))
	for k, v := range r.endpoints {
		out[k] = v
	}
	return out
}

// Names returns the resolvable agent names in sorted order.
func (r *Resolver) Names() []string {
	names := make([]string, 0, len(r.endpoints))
	for k := range r.endpoints {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
