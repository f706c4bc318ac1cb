// Package ratelimit provides the shared-counter rate limiter consulted
// before OTP checks and verification resends. The counter lives in Redis
// so the limit holds across replicas.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type Limiter interface {
	// Allow reports whether another attempt under key fits the window.
	Allow(ctx context.Context, key string) (bool, error)
}

// RedisLimiter counts attempts per key in a fixed window.
type RedisLimiter struct {
	rdb    *redis.Client
	prefix string
	limit  int64
	window time.Duration
}

func NewRedisLimiter(rdb *redis.Client, prefix string, limit int64, window time.Duration) *RedisLimiter {
	return &RedisLimiter{rdb: rdb, prefix: prefix, limit: limit, window: window}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	full := l.prefix + ":" + key

	count, err := l.rdb.Incr(ctx, full).Result()
	if err != nil {
		return false, fmt.Errorf("rate limit counter unavailable: %w", err)
	}
	if count == 1 {
		if err := l.rdb.Expire(ctx, full, l.window).Err(); err != nil {
			return false, fmt.Errorf("rate limit expiry failed: %w", err)
		}
	}
	return count <= l.limit, nil
}

// Unlimited never blocks. Used in tests and single-process setups.
type Unlimited struct{}

func (Unlimited) Allow(context.Context, string) (bool, error) { return true, nil }
