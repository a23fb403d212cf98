package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
)

const defaultMemoryKeys = 10000

type window struct {
	start time.Time
	count int64
}

// MemoryLimiter keeps one window per key in an LRU, so idle keys are evicted
// once maxKeys is reached.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows *lru.Cache
	limit   int
	window  time.Duration
	now     func() time.Time
}

func NewMemoryLimiter(limit int, win time.Duration, maxKeys int) (*MemoryLimiter, error) {
	if maxKeys <= 0 {
		maxKeys = defaultMemoryKeys
	}
	cache, err := lru.New(maxKeys)
	if err != nil {
		return nil, fmt.Errorf("create rate limit cache: %w", err)
	}
	return &MemoryLimiter{windows: cache, limit: limit, window: win, now: time.Now}, nil
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	var w *window
	if v, ok := l.windows.Get(key); ok {
		w = v.(*window)
	}
	if w == nil || now.Sub(w.start) >= l.window {
		w = &window{start: now}
		l.windows.Add(key, w)
	}
	w.count++
	return decide(w.count, l.limit, w.start.Add(l.window).Sub(now)), nil
}
