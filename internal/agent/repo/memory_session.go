package repo

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/Chative-whatsapp-agent/server/internal/agent/model"
	logx "github.com/Chative-whatsapp-agent/server/pkg/logger"
)

// MemorySessionRepository keeps sessions in a bounded LRU; the least recently
// used session is evicted once maxSessions is reached.
type MemorySessionRepository struct {
	mu    sync.Mutex
	cache *lru.Cache
	ttl   time.Duration
	now   func() time.Time
}

func NewMemorySessionRepository(maxSessions int, ttl time.Duration) (*MemorySessionRepository, error) {
	if maxSessions <= 0 {
		maxSessions = 10000
	}
	cache, err := lru.New(maxSessions)
	if err != nil {
		return nil, err
	}
	return &MemorySessionRepository{cache: cache, ttl: ttl, now: time.Now}, nil
}

func (r *MemorySessionRepository) load(userID string) (*model.Session, bool) {
	v, ok := r.cache.Get(userID)
	if !ok {
		return nil, false
	}
	s := v.(*model.Session)
	if s.Expired(r.now(), r.ttl) {
		r.cache.Remove(userID)
		return nil, false
	}
	return s, true
}

func (r *MemorySessionRepository) Load(ctx context.Context, userID string) (*model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.load(userID)
	if !ok {
		return nil, model.ErrSessionNotFound
	}
	return s.Clone(), nil
}

func (r *MemorySessionRepository) Save(ctx context.Context, s *model.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if evicted := r.cache.Add(s.UserID, s.Clone()); evicted {
		logx.Debug().Str("user_id", s.UserID).Msg("session cache full; evicted least recent session")
	}
	return nil
}

func (r *MemorySessionRepository) Delete(ctx context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cache.Remove(userID)
	return nil
}

func (r *MemorySessionRepository) AppendTurns(ctx context.Context, userID string, max int, turns ...model.Turn) (*model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.load(userID)
	if !ok {
		s = model.NewSession(userID, r.now())
	}
	s.Append(max, turns...)
	s.LastActivity = r.now()
	r.cache.Add(userID, s)
	return s.Clone(), nil
}

func (r *MemorySessionRepository) PurgeExpired(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	now := r.now()
	for _, k := range r.cache.Keys() {
		v, ok := r.cache.Peek(k)
		if !ok {
			continue
		}
		if v.(*model.Session).Expired(now, r.ttl) {
			r.cache.Remove(k)
			removed++
		}
	}
	return removed, nil
}

// Count reports live sessions; expired ones awaiting a purge are not counted.
func (r *MemorySessionRepository) Count(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	now := r.now()
	for _, k := range r.cache.Keys() {
		if v, ok := r.cache.Peek(k); ok && !v.(*model.Session).Expired(now, r.ttl) {
			n++
		}
	}
	return n, nil
}

var _ model.SessionRepository = (*MemorySessionRepository)(nil)
