package throttle

import (
	"context"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

// Memory keeps counters in a process-local go-cache.
type Memory struct {
	mu    sync.Mutex
	cache *cache.Cache
	now   func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		cache: cache.New(time.Hour, 10*time.Minute),
		now:   time.Now,
	}
}

func (m *Memory) Attempt(ctx context.Context, key string, max int, window time.Duration) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, expires, found := m.cache.GetWithExpiration(key)
	retry := expires.Sub(m.now())
	if !found || retry <= 0 {
		m.cache.Set(key, 1, window)
		return Result{Allowed: max >= 1, RetryAfter: window}, nil
	}

	count := item.(int)
	if count >= max {
		return Result{Allowed: false, RetryAfter: retry}, nil
	}
	m.cache.Set(key, count+1, retry)
	return Result{Allowed: true, RetryAfter: retry}, nil
}

func (m *Memory) Reset(ctx context.Context, key string) error {
	m.cache.Delete(key)
	return nil
}
