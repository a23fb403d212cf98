package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/redis/go-redis/v9"

	"github.com/Chative-whatsapp-agent/server/internal/agent/model"
	errx "github.com/Chative-whatsapp-agent/server/internal/core/error"
	logx "github.com/Chative-whatsapp-agent/server/pkg/logger"
)

const sessionKeyPrefix = "session:"

// RedisSessionRepository stores each session as one JSON value with a sliding TTL.
// When a locker is supplied, appends for the same user are serialised with a redsync mutex;
// otherwise concurrent appends are last-write-wins.
type RedisSessionRepository struct {
	rdb        redis.UniversalClient
	ttl        time.Duration
	locker     *redsync.Redsync
	lockExpiry time.Duration
	now        func() time.Time
}

type RedisOption func(*RedisSessionRepository)

// WithLocker enables per-user locking around AppendTurns.
func WithLocker(rs *redsync.Redsync, expiry time.Duration) RedisOption {
	return func(r *RedisSessionRepository) {
		r.locker = rs
		if expiry > 0 {
			r.lockExpiry = expiry
		}
	}
}

func NewRedisSessionRepository(rdb redis.UniversalClient, ttl time.Duration, opts ...RedisOption) *RedisSessionRepository {
	r := &RedisSessionRepository{rdb: rdb, ttl: ttl, lockExpiry: 5 * time.Second, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *RedisSessionRepository) sessionKey(userID string) string {
	return sessionKeyPrefix + userID
}

func (r *RedisSessionRepository) Load(ctx context.Context, userID string) (*model.Session, error) {
	key := r.sessionKey(userID)

	raw, err := r.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, model.ErrSessionNotFound
		}
		logx.Error().Err(err).Str("key", key).Msg("failed to load session from redis")
		return nil, errx.WrapRedis(err)
	}

	var s model.Session
	if err := json.Unmarshal(raw, &s); err != nil {
		logx.Error().Err(err).Str("user_id", userID).Msg("failed to unmarshal session")
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	if s.Metadata == nil {
		s.Metadata = map[string]any{}
	}
	return &s, nil
}

func (r *RedisSessionRepository) Save(ctx context.Context, s *model.Session) error {
	b, err := json.Marshal(s)
	if err != nil {
		logx.Error().Err(err).Str("user_id", s.UserID).Msg("failed to marshal session")
		return fmt.Errorf("marshal session: %w", err)
	}
	key := r.sessionKey(s.UserID)

	// the TTL slides on every write
	if err := r.rdb.Set(ctx, key, b, r.ttl).Err(); err != nil {
		logx.Error().Err(err).Str("key", key).Msg("failed to save session to redis")
		return errx.WrapRedis(err)
	}
	return nil
}

func (r *RedisSessionRepository) Delete(ctx context.Context, userID string) error {
	key := r.sessionKey(userID)
	if err := r.rdb.Del(ctx, key).Err(); err != nil {
		logx.Error().Err(err).Str("key", key).Msg("failed to delete session from redis")
		return errx.WrapRedis(err)
	}
	return nil
}

func (r *RedisSessionRepository) AppendTurns(ctx context.Context, userID string, max int, turns ...model.Turn) (*model.Session, error) {
	if r.locker != nil {
		mutex := r.locker.NewMutex("lock:"+r.sessionKey(userID),
			redsync.WithExpiry(r.lockExpiry),
			redsync.WithTries(10),
			redsync.WithRetryDelay(50*time.Millisecond),
		)
		if err := mutex.LockContext(ctx); err != nil {
			logx.Warn().Err(err).Str("user_id", userID).Msg("could not lock session; appending without lock")
		} else {
			defer func() {
				if _, err := mutex.UnlockContext(context.WithoutCancel(ctx)); err != nil {
					logx.Warn().Err(err).Str("user_id", userID).Msg("failed to release session lock")
				}
			}()
		}
	}

	s, err := r.Load(ctx, userID)
	if errors.Is(err, model.ErrSessionNotFound) {
		s = model.NewSession(userID, r.now())
	} else if err != nil {
		return nil, err
	}

	s.Append(max, turns...)
	s.LastActivity = r.now()
	if err := r.Save(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// PurgeExpired is a no-op: Redis expires idle sessions through the key TTL.
func (r *RedisSessionRepository) PurgeExpired(ctx context.Context) (int, error) {
	return 0, nil
}

func (r *RedisSessionRepository) Count(ctx context.Context) (int, error) {
	var (
		cursor uint64
		total  int
	)
	for {
		keys, next, err := r.rdb.Scan(ctx, cursor, sessionKeyPrefix+"*", 500).Result()
		if err != nil {
			logx.Error().Err(err).Msg("failed to scan session keys")
			return 0, errx.WrapRedis(err)
		}
		total += len(keys)
		cursor = next
		if cursor == 0 {
			return total, nil
		}
	}
}

var _ model.SessionRepository = (*RedisSessionRepository)(nil)
