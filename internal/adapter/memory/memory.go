// Package memory implements domain.MemoryStore: a noop store, a local
// SQLite store with FTS5 search, a shared Redis store, and a TTL read cache
// that can wrap any of them.
package memory

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/oklog/ulid/v2"

	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/domain"
	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/infra/config"
)

// sqliteFile is the database file name under MemoryConfig.DataDir.
const sqliteFile = "memory.db"

// New builds the configured memory store. The returned closer releases the
// backing connection and is never nil.
func New(ctx context.Context, cfg config.MemoryConfig, logger *slog.Logger) (domain.MemoryStore, io.Closer, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	var (
		store  domain.MemoryStore
		closer io.Closer = nopCloser{}
	)
	switch cfg.Provider {
	case "", "noop":
		return NewNoopMemory(), closer, nil
	case "sqlite":
		s, err := NewSQLiteStore(filepath.Join(cfg.DataDir, sqliteFile), logger)
		if err != nil {
			return nil, nil, err
		}
		store, closer = s, s
	case "redis":
		r := NewRedisStore(cfg.Redis, logger)
		if err := r.Ping(ctx); err != nil {
			_ = r.Close()
			return nil, nil, err
		}
		store, closer = r, r
	default:
		return nil, nil, domain.NewDomainError("memory.New", domain.ErrMemoryUnavailable,
			fmt.Sprintf("unknown provider %q", cfg.Provider))
	}

	if cfg.CacheTTL > 0 {
		store = NewCachedMemory(store, cfg.CacheTTL)
	}
	logger.Info("memory store ready", "provider", store.Name())
	return store, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// interactionRecords splits an exchange into the user turn and the agent
// turn, both stamped with the same time and metadata.
func interactionRecords(in domain.Interaction) []domain.MemoryRecord {
	at := in.CreatedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	user := domain.MemoryRecord{
		ID:        ulid.Make().String(),
		UserID:    in.UserID,
		SessionID: in.SessionID,
		Role:      domain.RoleUser,
		Content:   in.UserMessage,
		CreatedAt: at,
	}
	agent := domain.MemoryRecord{
		ID:        ulid.Make().String(),
		UserID:    in.UserID,
		SessionID: in.SessionID,
		Role:      domain.RoleAssistant,
		Content:   in.AgentResponse,
		Metadata:  in.Metadata,
		CreatedAt: at,
	}
	return []domain.MemoryRecord{user, agent}
}

func validateInteraction(op string, in domain.Interaction) error {
	if in.UserID == "" {
		return domain.NewDomainError(op, domain.ErrValidation, "user id is required")
	}
	if in.SessionID == "" {
		return domain.NewDomainError(op, domain.ErrValidation, "session id is required")
	}
	return nil
}

// searchTerms lowercases query and splits it into words, dropping
// punctuation and one-letter tokens.
func searchTerms(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	terms := fields[:0]
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		if len([]rune(f)) < 2 || seen[f] {
			continue
		}
		seen[f] = true
		terms = append(terms, f)
	}
	return terms
}

// rankByTerms scores records by how many query terms they contain and
// returns the best limit matches. Ties go to the newer record.
func rankByTerms(records []domain.MemoryRecord, query string, limit int) []domain.MemoryRecord {
	terms := searchTerms(query)
	if len(terms) == 0 || limit <= 0 {
		return nil
	}

	type scored struct {
		rec   domain.MemoryRecord
		score int
	}
	var hits []scored
	for _, r := range records {
		content := strings.ToLower(r.Content)
		score := 0
		for _, t := range terms {
			if strings.Contains(content, t) {
				score++
			}
		}
		if score > 0 {
			hits = append(hits, scored{rec: r, score: score})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].rec.CreatedAt.After(hits[j].rec.CreatedAt)
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]domain.MemoryRecord, len(hits))
	for i, h := range hits {
		out[i] = h.rec
	}
	return out
}
