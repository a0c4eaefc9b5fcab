// Package ratelimit provides fixed-window counters used to throttle OTP re-issue.
package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrUnavailable wraps backend failures.
var ErrUnavailable = errors.New("rate limiter unavailable")

// Limiter counts hits per key in fixed windows.
type Limiter interface {
	// Allow records one hit for key and reports whether it is within the limit.
	Allow(ctx context.Context, key string) (bool, error)
}

// Config is the per-window budget. Limit <= 0 disables limiting.
type Config struct {
	Limit  int
	Window time.Duration
}

// Unlimited allows every hit.
type Unlimited struct{}

func (Unlimited) Allow(context.Context, string) (bool, error) { return true, nil }

type window struct {
	count   int
	resetAt time.Time
}

// MemoryLimiter is a process-local Limiter.
type MemoryLimiter struct {
	cfg Config
	now func() time.Time

	mu      sync.Mutex
	windows map[string]*window
}

// NewMemoryLimiter returns a MemoryLimiter enforcing cfg.
func NewMemoryLimiter(cfg Config) *MemoryLimiter {
	return &MemoryLimiter{cfg: cfg, now: time.Now, windows: make(map[string]*window)}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	if l.cfg.Limit <= 0 {
		return true, nil
	}
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(l.cfg.Window)}
		l.windows[key] = w
		l.sweep(now)
	}
	w.count++
	return w.count <= l.cfg.Limit, nil
}

// sweep drops expired windows. Called with mu held.
func (l *MemoryLimiter) sweep(now time.Time) {
	if len(l.windows) < 1024 {
		return
	}
	for k, w := range l.windows {
		if !now.Before(w.resetAt) {
			delete(l.windows, k)
		}
	}
}
