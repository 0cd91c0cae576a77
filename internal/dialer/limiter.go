package dialer

import (
	"context"
	"time"

	"parallel-dialer/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter enforces the per-user concurrent line cap with the shared
// Lua acquire/release scripts, so the cap holds across worker processes.
type RedisLimiter struct {
	rdb   *redis.Client
	limit int
	ttl   time.Duration
}

func NewRedisLimiter(rdb *redis.Client, limit int, ttl time.Duration) *RedisLimiter {
	if limit <= 0 {
		limit = 10
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisLimiter{rdb: rdb, limit: limit, ttl: ttl}
}

func lineCapKey(userID string) string { return "dialer:" + userID + ":lines" }

func (l *RedisLimiter) Acquire(ctx context.Context, userID string) (bool, error) {
	return utils.AcquireConcurrencyCap(ctx, l.rdb, lineCapKey(userID), l.limit, l.ttl)
}

func (l *RedisLimiter) Release(ctx context.Context, userID string) error {
	return utils.ReleaseConcurrencyCap(ctx, l.rdb, lineCapKey(userID))
}
