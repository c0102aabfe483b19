package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/domain"
)

var _ domain.MemoryStore = (*CachedMemory)(nil)

// CachedMemory wraps a MemoryStore with a TTL-based read cache.
// A user's entries are invalidated when one of their interactions is stored.
type CachedMemory struct {
	inner domain.MemoryStore
	ttl   time.Duration
	mu    sync.RWMutex
	cache map[string]cachedResult
}

type cachedResult struct {
	userID    string
	records   []domain.MemoryRecord
	expiresAt time.Time
}

// NewCachedMemory wraps inner with a read cache using the given TTL.
func NewCachedMemory(inner domain.MemoryStore, ttl time.Duration) *CachedMemory {
	return &CachedMemory{
		inner: inner,
		ttl:   ttl,
		cache: make(map[string]cachedResult),
	}
}

func (c *CachedMemory) StoreInteraction(ctx context.Context, in domain.Interaction) error {
	err := c.inner.StoreInteraction(ctx, in)
	if err == nil {
		c.invalidate(in.UserID)
	}
	return err
}

func (c *CachedMemory) RecentMessages(ctx context.Context, userID, sessionID string, limit int) ([]domain.MemoryRecord, error) {
	return c.cached(cacheKey("recent", userID, sessionID, limit), userID, func() ([]domain.MemoryRecord, error) {
		return c.inner.RecentMessages(ctx, userID, sessionID, limit)
	})
}

func (c *CachedMemory) SemanticSearch(ctx context.Context, userID, query string, limit int) ([]domain.MemoryRecord, error) {
	return c.cached(cacheKey("search", userID, query, limit), userID, func() ([]domain.MemoryRecord, error) {
		return c.inner.SemanticSearch(ctx, userID, query, limit)
	})
}

func (c *CachedMemory) cached(key, userID string, load func() ([]domain.MemoryRecord, error)) ([]domain.MemoryRecord, error) {
	c.mu.RLock()
	if hit, ok := c.cache[key]; ok && time.Now().Before(hit.expiresAt) {
		c.mu.RUnlock()
		return hit.records, nil
	}
	c.mu.RUnlock()

	records, err := load()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cache[key] = cachedResult{userID: userID, records: records, expiresAt: time.Now().Add(c.ttl)}
	c.mu.Unlock()
	return records, nil
}

func (c *CachedMemory) Name() string { return c.inner.Name() }

func (c *CachedMemory) invalidate(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range c.cache {
		if v.userID == userID {
			delete(c.cache, k)
		}
	}
}

func cacheKey(kind, userID, arg string, limit int) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s\x00%s\x00%s\x00%d", kind, userID, arg, limit)))
	return hex.EncodeToString(h[:16])
}
