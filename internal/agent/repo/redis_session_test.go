package repo

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Chative-whatsapp-agent/server/internal/agent/model"
	pkgredis "github.com/Chative-whatsapp-agent/server/pkg/redis"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestRedisRepositoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newTestRedis(t)
	repo := NewRedisSessionRepository(rdb, 30*time.Minute)

	_, err := repo.Load(ctx, "573000000001")
	require.ErrorIs(t, err, model.ErrSessionNotFound)

	for i := 0; i < 8; i++ {
		_, err := repo.AppendTurns(ctx, "573000000001", 10,
			turn(model.RoleUser, fmt.Sprintf("q%d", i)),
			turn(model.RoleAssistant, fmt.Sprintf("a%d", i)),
		)
		require.NoError(t, err)
	}

	s, err := repo.Load(ctx, "573000000001")
	require.NoError(t, err)
	require.Len(t, s.Turns, 10)
	assert.Equal(t, "q3", s.Turns[0].Content)
	assert.Equal(t, "a7", s.Turns[9].Content)

	assert.Equal(t, 30*time.Minute, mr.TTL("session:573000000001"))

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, repo.Delete(ctx, "573000000001"))
	_, err = repo.Load(ctx, "573000000001")
	assert.ErrorIs(t, err, model.ErrSessionNotFound)
}

func TestRedisRepositoryExpiresIdleSessions(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newTestRedis(t)
	repo := NewRedisSessionRepository(rdb, time.Minute)

	_, err := repo.AppendTurns(ctx, "u", 10, turn(model.RoleUser, "hola"))
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	_, err = repo.Load(ctx, "u")
	assert.ErrorIs(t, err, model.ErrSessionNotFound)
}

func TestRedisRepositoryLockedAppendsDoNotLoseTurns(t *testing.T) {
	ctx := context.Background()
	_, rdb := newTestRedis(t)
	repo := NewRedisSessionRepository(rdb, time.Hour, WithLocker(pkgredis.NewLocker(rdb), 2*time.Second))

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := repo.AppendTurns(ctx, "same-user", 100, turn(model.RoleUser, fmt.Sprintf("m%d", i)))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	s, err := repo.Load(ctx, "same-user")
	require.NoError(t, err)
	assert.Len(t, s.Turns, 5)
}
