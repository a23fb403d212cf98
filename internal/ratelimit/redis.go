package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	errx "github.com/Chative-whatsapp-agent/server/internal/core/error"
)

type RedisLimiter struct {
	rdb    redis.UniversalClient
	limit  int
	window time.Duration
}

func NewRedisLimiter(rdb redis.UniversalClient, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{rdb: rdb, limit: limit, window: window}
}

// Allow increments the window counter and starts its expiry on the first hit.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	k := keyPrefix + key

	count, err := l.rdb.Incr(ctx, k).Result()
	if err != nil {
		return Decision{}, errx.WrapRedis(err)
	}
	if count == 1 {
		if err := l.rdb.Expire(ctx, k, l.window).Err(); err != nil {
			return Decision{}, errx.WrapRedis(err)
		}
		return decide(count, l.limit, l.window), nil
	}

	ttl, err := l.rdb.PTTL(ctx, k).Result()
	if err != nil {
		return Decision{}, errx.WrapRedis(err)
	}
	// a counter left without expiry would block the key forever
	if ttl < 0 {
		if err := l.rdb.Expire(ctx, k, l.window).Err(); err != nil {
			return Decision{}, errx.WrapRedis(err)
		}
		ttl = l.window
	}
	return decide(count, l.limit, ttl), nil
}
