package usecase

import (
	"context"
	"log/slog"
	"time"

	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/domain"
	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/infra/tracer"
)

// Memory wraps a MemoryStore with the best-effort semantics agents need:
// a failing store degrades context, it never fails the request.
type Memory struct {
	Store         domain.MemoryStore
	RecentLimit   int
	SemanticLimit int
	Logger        *slog.Logger
}

// Load returns the semantically relevant records followed by the session's
// recent records, with duplicates removed. Errors are logged and skipped.
func (m Memory) Load(ctx context.Context, userID, sessionID, query string) []domain.MemoryRecord {
	if m.Store == nil || userID == "" {
		return nil
	}
	ctx, span := tracer.StartSpan(ctx, "memory.load")
	defer span.End()

	var out []domain.MemoryRecord
	seen := make(map[string]bool)
	add := func(records []domain.MemoryRecord) {
		for _, r := range records {
			if r.ID != "" && seen[r.ID] {
				continue
			}
			seen[r.ID] = true
			out = append(out, r)
		}
	}

	if m.SemanticLimit > 0 && query != "" {
		relevant, err := m.Store.SemanticSearch(ctx, userID, query, m.SemanticLimit)
		if err != nil {
			m.logger().Warn("semantic search failed", "store", m.Store.Name(), "error", err)
		} else {
			add(relevant)
		}
	}
	if m.RecentLimit > 0 && sessionID != "" {
		recent, err := m.Store.RecentMessages(ctx, userID, sessionID, m.RecentLimit)
		if err != nil {
			m.logger().Warn("recent messages lookup failed", "store", m.Store.Name(), "error", err)
		} else {
			add(recent)
		}
	}

	span.SetAttributes(tracer.IntAttr("memory.records", len(out)))
	return out
}

// Remember stores one exchange. Failures are logged and dropped.
func (m Memory) Remember(ctx context.Context, in domain.Interaction) {
	if m.Store == nil || in.UserID == "" || in.SessionID == "" {
		return
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = time.Now()
	}
	if err := m.Store.StoreInteraction(ctx, in); err != nil {
		m.logger().Warn("store interaction failed",
			"store", m.Store.Name(),
			"user_id", in.UserID,
			"session_id", in.SessionID,
			"error", err,
		)
	}
}

func (m Memory) logger() *slog.Logger {
	if m.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return m.Logger
}
