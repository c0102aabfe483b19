package memory

import (
	"context"

	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/domain"
)

var _ domain.MemoryStore = (*NoopMemory)(nil)

// NoopMemory is a placeholder that stores nothing and returns empty results.
type NoopMemory struct{}

// NewNoopMemory creates a noop memory store.
func NewNoopMemory() *NoopMemory { return &NoopMemory{} }

func (n *NoopMemory) RecentMessages(_ context.Context, _, _ string, _ int) ([]domain.MemoryRecord, error) {
	return nil, nil
}

func (n *NoopMemory) SemanticSearch(_ context.Context, _, _ string, _ int) ([]domain.MemoryRecord, error) {
	return nil, nil
}

func (n *NoopMemory) StoreInteraction(_ context.Context, _ domain.Interaction) error { return nil }
func (n *NoopMemory) Name() string                                                  { return "noop" }
