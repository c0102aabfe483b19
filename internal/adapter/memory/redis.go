package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/domain"
	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/infra/config"
)

var _ domain.MemoryStore = (*RedisStore)(nil)

// userHistoryCap bounds the per-user list scanned by SemanticSearch.
const userHistoryCap = 500

// RedisStore shares conversation memory between agent processes.
// Each session is a list of JSON records; each user also has a capped list
// of recent records across sessions that SemanticSearch ranks by term overlap.
type RedisStore struct {
	client *redis.Client
	cfg    config.RedisConfig
	logger *slog.Logger
}

// NewRedisStore creates a store. No connection is made until first use.
func NewRedisStore(cfg config.RedisConfig, logger *slog.Logger) *RedisStore {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "agentcore"
	}
	return &RedisStore{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		cfg:    cfg,
		logger: logger,
	}
}

// Ping checks connectivity.
func (r *RedisStore) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: redis %s: %v", domain.ErrMemoryUnavailable, r.cfg.Addr, err)
	}
	return nil
}

// Close closes the client.
func (r *RedisStore) Close() error { return r.client.Close() }

// Name implements domain.MemoryStore.
func (r *RedisStore) Name() string { return "redis" }

func (r *RedisStore) sessionKey(userID, sessionID string) string {
	return r.cfg.KeyPrefix + ":session:" + userID + ":" + sessionID
}

func (r *RedisStore) userKey(userID string) string {
	return r.cfg.KeyPrefix + ":user:" + userID
}

// StoreInteraction appends both turns to the session and user lists in one
// transaction and refreshes their TTL.
func (r *RedisStore) StoreInteraction(ctx context.Context, in domain.Interaction) error {
	if err := validateInteraction("RedisStore.StoreInteraction", in); err != nil {
		return err
	}

	recs := interactionRecords(in)
	vals := make([]interface{}, 0, len(recs))
	for _, rec := range recs {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("%w: marshal: %v", domain.ErrMemoryStore, err)
		}
		vals = append(vals, string(data))
	}

	sk, uk := r.sessionKey(in.UserID, in.SessionID), r.userKey(in.UserID)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, sk, vals...)
		pipe.RPush(ctx, uk, vals...)
		pipe.LTrim(ctx, uk, -userHistoryCap, -1)
		if r.cfg.TTL > 0 {
			pipe.Expire(ctx, sk, r.cfg.TTL)
			pipe.Expire(ctx, uk, r.cfg.TTL)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: redis: %v", domain.ErrMemoryStore, err)
	}
	return nil
}

// RecentMessages returns the last limit records of a session, oldest first.
func (r *RedisStore) RecentMessages(ctx context.Context, userID, sessionID string, limit int) ([]domain.MemoryRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	raw, err := r.client.LRange(ctx, r.sessionKey(userID, sessionID), int64(-limit), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: redis: %v", domain.ErrMemoryUnavailable, err)
	}
	return r.decode(raw), nil
}

// SemanticSearch ranks the user's recent records against query.
func (r *RedisStore) SemanticSearch(ctx context.Context, userID, query string, limit int) ([]domain.MemoryRecord, error) {
	if len(searchTerms(query)) == 0 || limit <= 0 {
		return nil, nil
	}
	raw, err := r.client.LRange(ctx, r.userKey(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: redis: %v", domain.ErrMemoryUnavailable, err)
	}
	return rankByTerms(r.decode(raw), query, limit), nil
}

func (r *RedisStore) decode(raw []string) []domain.MemoryRecord {
	out := make([]domain.MemoryRecord, 0, len(raw))
	for _, s := range raw {
		var rec domain.MemoryRecord
		if err := json.Unmarshal([]byte(s), &rec); err != nil {
			r.logger.Warn("skipping corrupt memory record", "error", err)
			continue
		}
		out = append(out, rec)
	}
	return out
}
