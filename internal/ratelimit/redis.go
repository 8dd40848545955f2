package ratelimit

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "ticketauth:rl:"

// RedisLimiter shares fixed-window counters between workers through Redis
type RedisLimiter struct {
	redis redis.UniversalClient
}

// NewRedisLimiter creates a Redis-backed limiter
func NewRedisLimiter(client redis.UniversalClient) *RedisLimiter {
	return &RedisLimiter{redis: client}
}

// Allow implements Limiter
func (l *RedisLimiter) Allow(ctx context.Context, key string, limit Limit) (bool, error) {
	k := redisKeyPrefix + limit.String() + ":" + key

	// INCR and EXPIRE NX run in one MULTI. NX keeps the window fixed and
	// restores a TTL the key lost.
	var incr *redis.IntCmd
	_, err := l.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, k)
		pipe.ExpireNX(ctx, k, limit.Window)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to update rate counter: %w", err)
	}

	count := incr.Val()
	return count <= int64(limit.Requests), nil
}
