package domain

// Agent names known to the deployment.
const (
	AgentOrchestrator = "orchestrator"
	AgentVision       = "vision"
	AgentDocument     = "document"
	AgentData         = "data"
	AgentTool         = "tool"
)

// Specialists lists the workers the orchestrator can dispatch to, in
// classification order.
var Specialists = []string{AgentVision, AgentDocument, AgentData, AgentTool}

// IsSpecialist reports whether name is a dispatchable worker.
func IsSpecialist(name string) bool {
	for _, s := range Specialists {
		if s == name {
			return true
		}
	}
	return false
}

// AgentCard is the self-description a worker publishes at
// /.well-known/agent-card.json.
type AgentCard struct {
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	URL          string   `json:"url"`
	Version      string   `json:"version"`
	Capabilities []string `json:"capabilities,omitempty"`
	Skills       []Skill  `json:"skills,omitempty"`
}

// Skill is one advertised ability on an agent card.
type Skill struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Tags        []string `json:"tags,omitempty"`
}

// HealthStatus is the outcome of probing an agent.
type HealthStatus struct {
	Agent        string   `json:"agent"`
	Status       string   `json:"status"`
	Name         string   `json:"name,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
	Error        string   `json:"error,omitempty"`
}

// Health status values.
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)
