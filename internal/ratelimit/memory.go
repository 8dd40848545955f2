package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const pruneEvery = 1024

// window is a fixed window: a non-refilling bucket of limit.Requests
// tokens that is replaced once the window has elapsed.
type window struct {
	limiter *rate.Limiter
	start   time.Time
	length  time.Duration
}

func (w *window) expired(now time.Time) bool {
	return !now.Before(w.start.Add(w.length))
}

// MemoryLimiter keeps fixed-window counters per key in process memory.
// A window opens on the first request of a key, as in RedisLimiter.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	calls   int
	now     func() time.Time
}

// NewMemoryLimiter creates an in-process limiter. now may be nil to use the wall clock.
func NewMemoryLimiter(now func() time.Time) *MemoryLimiter {
	if now == nil {
		now = time.Now
	}
	return &MemoryLimiter{
		windows: make(map[string]*window),
		now:     now,
	}
}

// Allow implements Limiter
func (m *MemoryLimiter) Allow(_ context.Context, key string, limit Limit) (bool, error) {
	now := m.now()
	windowKey := key + "|" + limit.String()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.calls%pruneEvery == 0 {
		m.prune(now)
	}

	w, ok := m.windows[windowKey]
	if !ok || w.expired(now) {
		// A zero rate never refills; only the burst is spent
		w = &window{
			limiter: rate.NewLimiter(0, limit.Requests),
			start:   now,
			length:  limit.Window,
		}
		m.windows[windowKey] = w
	}

	return w.limiter.AllowN(now, 1), nil
}

// prune drops windows that have closed
func (m *MemoryLimiter) prune(now time.Time) {
	for k, w := range m.windows {
		if w.expired(now) {
			delete(m.windows, k)
		}
	}
}

// Len returns the number of open windows
func (m *MemoryLimiter) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.windows)
}
