package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/opscope/opscope/internal/model"
	"github.com/opscope/opscope/internal/pkg/logger"
)

// RedisTrailCache keeps recently completed audit trails hot: a TTL'd JSON
// value per correlation id plus a capped list of recent correlation ids.
// Cache misses and redis failures are soft; callers fall through to the
// recorder's own index.
type RedisTrailCache struct {
	client        *RedisClient
	ttl           time.Duration
	recentListKey string
	recentListMax int
}

func NewRedisTrailCache(client *RedisClient, ttlSeconds int, recentListKey string, recentListMax int) *RedisTrailCache {
	if ttlSeconds <= 0 {
		ttlSeconds = 300
	}
	if recentListKey == "" {
		recentListKey = "audit_recent"
	}
	if recentListMax <= 0 {
		recentListMax = 10000
	}
	return &RedisTrailCache{
		client:        client,
		ttl:           time.Duration(ttlSeconds) * time.Second,
		recentListKey: recentListKey,
		recentListMax: recentListMax,
	}
}

func (c *RedisTrailCache) Get(ctx context.Context, correlationID string) (*model.AuditTrail, bool) {
	payload, err := c.client.Client.Get(ctx, trailKey(correlationID)).Bytes()
	if err != nil {
		return nil, false
	}
	var trail model.AuditTrail
	if err := json.Unmarshal(payload, &trail); err != nil {
		return nil, false
	}
	return &trail, true
}

func (c *RedisTrailCache) Store(ctx context.Context, trail *model.AuditTrail) {
	payload, err := json.Marshal(trail)
	if err != nil {
		return
	}
	pipe := c.client.Client.Pipeline()
	pipe.Set(ctx, trailKey(trail.CorrelationID), payload, c.ttl)
	pipe.LPush(ctx, c.recentListKey, trail.CorrelationID)
	pipe.LTrim(ctx, c.recentListKey, 0, int64(c.recentListMax-1))
	if _, err := pipe.Exec(ctx); err != nil {
		logger.Warn("failed to cache audit trail", "correlation_id", trail.CorrelationID, "error", err)
	}
}

func (c *RedisTrailCache) Invalidate(ctx context.Context, correlationID string) {
	_ = c.client.Client.Del(ctx, trailKey(correlationID)).Err()
}

// Recent returns the most recently completed correlation ids, newest first.
func (c *RedisTrailCache) Recent(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 || limit > c.recentListMax {
		limit = 100
	}
	return c.client.Client.LRange(ctx, c.recentListKey, 0, int64(limit-1)).Result()
}

func trailKey(correlationID string) string {
	return "audit_trail:" + correlationID
}
