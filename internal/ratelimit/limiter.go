package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Chative-whatsapp-agent/server/internal/agent/model"
)

const keyPrefix = "ratelimit:"

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAfter time.Duration
}

// Limiter counts requests per key in fixed windows. Excess requests are
// rejected, never queued.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// New builds the limiter selected by cfg.Backend. rdb is only needed for "redis".
func New(cfg model.RateLimitConfig, rdb redis.UniversalClient) (Limiter, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryLimiter(cfg.Requests, cfg.Window, 0)
	case "redis":
		if rdb == nil {
			return nil, fmt.Errorf("redis rate limiter needs a redis client")
		}
		return NewRedisLimiter(rdb, cfg.Requests, cfg.Window), nil
	default:
		return nil, fmt.Errorf("unknown rate limit backend %q", cfg.Backend)
	}
}

func decide(count int64, limit int, reset time.Duration) Decision {
	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:    count <= int64(limit),
		Limit:      limit,
		Remaining:  remaining,
		ResetAfter: reset,
	}
}
