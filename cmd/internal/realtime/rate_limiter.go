package realtime

import (
	"sync"
	"time"
)

// RateLimiter is a per-connection sliding-window limiter guarding against frame floods.
type RateLimiter struct {
	mu     sync.Mutex
	events []time.Time
	limit  int
	window time.Duration
}

// NewRateLimiter constructs a RateLimiter with safe defaults when inputs are invalid.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = rateLimitEvents
	}
	if window <= 0 {
		window = rateLimitWindow
	}
	return &RateLimiter{
		events: make([]time.Time, 0, limit+8),
		limit:  limit,
		window: window,
	}
}

// Allow reports whether an event at time "now" should be permitted.
func (r *RateLimiter) Allow(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cut := now.Add(-r.window)
	dst := r.events[:0]
	for _, t := range r.events {
		if t.After(cut) {
			dst = append(dst, t)
		}
	}
	r.events = dst

	if len(r.events) >= r.limit {
		return false
	}
	r.events = append(r.events, now)
	return true
}

// SendLimiter enforces a minimum interval between accepted chat sends, per connection.
// State is process-local; entries are dropped with Release on disconnect.
type SendLimiter struct {
	mu       sync.Mutex
	interval time.Duration
	last     map[string]time.Time
}

// NewSendLimiter constructs a SendLimiter. A non-positive interval falls back to DefaultSendInterval.
func NewSendLimiter(interval time.Duration) *SendLimiter {
	if interval <= 0 {
		interval = DefaultSendInterval
	}
	return &SendLimiter{
		interval: interval,
		last:     make(map[string]time.Time),
	}
}

// Allow reports whether connID may send at now, and records now when it may.
// A connection's first send is always allowed.
func (l *SendLimiter) Allow(connID string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if last, ok := l.last[connID]; ok && now.Sub(last) < l.interval {
		return false
	}
	l.last[connID] = now
	return true
}

// Release forgets connID.
func (l *SendLimiter) Release(connID string) {
	l.mu.Lock()
	delete(l.last, connID)
	l.mu.Unlock()
}

// Len reports how many connections are tracked.
func (l *SendLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.last)
}
