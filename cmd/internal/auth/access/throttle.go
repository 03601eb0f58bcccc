package access

import (
	"sync"
	"time"
)

// FailureWindow throttles a key once it accumulates max failures inside a
// sliding window. A zero max disables it.
type FailureWindow struct {
	max    int
	window time.Duration

	mu       sync.Mutex
	failures map[string][]time.Time
}

// NewFailureWindow constructs a FailureWindow.
func NewFailureWindow(max int, window time.Duration) *FailureWindow {
	return &FailureWindow{max: max, window: window, failures: make(map[string][]time.Time)}
}

// Blocked reports whether key is throttled at now and for how long.
func (f *FailureWindow) Blocked(key string, now time.Time) (bool, time.Duration) {
	if f == nil || f.max <= 0 || key == "" {
		return false, 0
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	kept := prune(f.failures[key], now, f.window)
	if len(kept) == 0 {
		delete(f.failures, key)
	} else {
		f.failures[key] = kept
	}
	return evaluateWindowThrottle(now, kept, f.max, f.window)
}

// Fail records one failure for key.
func (f *FailureWindow) Fail(key string, now time.Time) {
	if f == nil || f.max <= 0 || key == "" {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[key] = append(prune(f.failures[key], now, f.window), now)
}

// Reset forgets key, e.g. after a successful login.
func (f *FailureWindow) Reset(key string) {
	if f == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.failures, key)
}

func prune(ts []time.Time, now time.Time, window time.Duration) []time.Time {
	cut := now.Add(-window)
	dst := ts[:0]
	for _, t := range ts {
		if t.After(cut) {
			dst = append(dst, t)
		}
	}
	return dst
}

// evaluateWindowThrottle blocks once max failures fall inside window. The
// retry delay runs until the oldest counted failure leaves the window.
func evaluateWindowThrottle(now time.Time, failures []time.Time, max int, window time.Duration) (bool, time.Duration) {
	if max <= 0 || window <= 0 {
		return false, 0
	}
	cut := now.Add(-window)
	count := 0
	var oldest time.Time
	for _, ts := range failures {
		if ts.Before(cut) {
			continue
		}
		count++
		if oldest.IsZero() || ts.Before(oldest) {
			oldest = ts
		}
	}
	if count < max {
		return false, 0
	}
	retry := oldest.Add(window).Sub(now)
	if retry <= 0 {
		return false, 0
	}
	return true, retry
}
