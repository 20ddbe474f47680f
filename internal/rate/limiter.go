package rate

import (
	"context"
	"sync"
	"time"
)

// Limiter gates client-triggered mutations per caller key.
type Limiter interface {
	Allow(ctx context.Context, key string, now time.Time) (bool, time.Duration, error)
}

// MemoryLimiter is a fixed-window counter for single-instance and test use.
type MemoryLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	windows map[string]*window
}

type window struct {
	count int
	start time.Time
}

func NewMemoryLimiter(limit int, windowSize time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		limit:   limit,
		window:  windowSize,
		windows: make(map[string]*window),
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string, now time.Time) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || now.Sub(w.start) >= l.window {
		w = &window{start: now}
		l.windows[key] = w
	}

	w.count++
	retryAfter := l.window - now.Sub(w.start)
	if retryAfter < 0 {
		retryAfter = 0
	}
	if w.count > l.limit {
		return false, retryAfter, nil
	}
	return true, retryAfter, nil
}
