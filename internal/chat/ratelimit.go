package chat

import (
	"sync"
	"time"
)

const (
	DefaultRateLimit  = 5
	DefaultRateWindow = time.Minute
)

// RateLimiter bounds message sends per user with a fixed window that opens on
// the first send and resets once it is older than the window.
type RateLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	now     func() time.Time
	windows map[string]*sendWindow
}

type sendWindow struct {
	count       int
	windowStart time.Time
}

// NewRateLimiter returns a limiter allowing limit sends per window. A nil now
// uses time.Now.
func NewRateLimiter(limit int, window time.Duration, now func() time.Time) *RateLimiter {
	if now == nil {
		now = time.Now
	}
	if limit <= 0 {
		limit = DefaultRateLimit
	}
	if window <= 0 {
		window = DefaultRateWindow
	}
	return &RateLimiter{
		limit:   limit,
		window:  window,
		now:     now,
		windows: make(map[string]*sendWindow),
	}
}

// Allow records a send attempt for userID and reports whether it fits the window.
func (rl *RateLimiter) Allow(userID string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	w, ok := rl.windows[userID]
	if !ok {
		rl.windows[userID] = &sendWindow{count: 1, windowStart: now}
		return true
	}

	if now.Sub(w.windowStart) >= rl.window {
		w.count = 1
		w.windowStart = now
		return true
	}

	if w.count >= rl.limit {
		return false
	}
	w.count++
	return true
}

// Refund returns a slot taken by Allow for a send that was not stored. It is
// a no-op once the window the slot belonged to has expired.
func (rl *RateLimiter) Refund(userID string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	w, ok := rl.windows[userID]
	if !ok || w.count == 0 || rl.now().Sub(w.windowStart) >= rl.window {
		return
	}
	w.count--
}

// Sweep drops windows that have been idle for five windows.
func (rl *RateLimiter) Sweep() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	removed := 0
	for userID, w := range rl.windows {
		if now.Sub(w.windowStart) > 5*rl.window {
			delete(rl.windows, userID)
			removed++
		}
	}
	return removed
}
