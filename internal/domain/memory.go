package domain

import (
	"context"
	"time"
)

// MemoryRecord is one remembered turn or fact for a user.
type MemoryRecord struct {
	ID        string            `json:"id"`
	UserID    string            `json:"user_id"`
	SessionID string            `json:"session_id,omitempty"`
	Role      string            `json:"role"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Interaction is a completed request/response exchange to be remembered.
type Interaction struct {
	UserID        string            `json:"user_id"`
	SessionID     string            `json:"session_id"`
	UserMessage   string            `json:"user_message"`
	AgentResponse string            `json:"agent_response"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

// MemoryStore is the long-term memory collaborator.
type MemoryStore interface {
	// RecentMessages returns the latest records of a session, oldest first.
	RecentMessages(ctx context.Context, userID, sessionID string, limit int) ([]MemoryRecord, error)
	// SemanticSearch returns the user's records most relevant to query.
	SemanticSearch(ctx context.Context, userID, query string, limit int) ([]MemoryRecord, error)
	// StoreInteraction persists one exchange.
	StoreInteraction(ctx context.Context, in Interaction) error
	Name() string
}
