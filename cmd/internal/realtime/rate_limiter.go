package realtime

import (
	"sync"
	"time"
)

// frameLimiter caps the control frames (acks, pings, subscriptions) one
// alert stream client may send. It remembers the last limit accepted frame
// times in a ring; a frame is accepted when the oldest of them has left the
// window.
type frameLimiter struct {
	mu     sync.Mutex
	window time.Duration
	seen   []time.Time
	next   int
}

func newFrameLimiter(limit int, window time.Duration) *frameLimiter {
	if limit <= 0 {
		limit = rateLimitEvents
	}
	if window <= 0 {
		window = rateLimitWindow
	}
	return &frameLimiter{window: window, seen: make([]time.Time, 0, limit)}
}

// Allow accepts a frame received at now. Rejected frames are not counted.
func (l *frameLimiter) Allow(now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.seen) < cap(l.seen) {
		l.seen = append(l.seen, now)
		return true
	}
	if l.seen[l.next].After(now.Add(-l.window)) {
		return false
	}
	l.seen[l.next] = now
	l.next = (l.next + 1) % len(l.seen)
	return true
}

func (l *frameLimiter) limit() int { return cap(l.seen) }
