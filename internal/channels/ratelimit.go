package channels

import (
	"sync"
	"time"
)

// maxTrackedKeys caps tracked rate-limit keys so rotating sender IDs
// cannot exhaust memory.
const maxTrackedKeys = 4096

type rateLimitEntry struct {
	windowStart time.Time
	count       int
}

// RateLimiter counts hits per key in a fixed window. Used to bound how
// fast one sender (or gateway client) can submit messages. Safe for
// concurrent use.
type RateLimiter struct {
	mu      sync.Mutex
	maxHits int
	window  time.Duration
	entries map[string]*rateLimitEntry
}

// NewRateLimiter allows maxHits per key per window. maxHits <= 0
// disables limiting (Allow always true).
func NewRateLimiter(maxHits int, window time.Duration) *RateLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{
		maxHits: maxHits,
		window:  window,
		entries: make(map[string]*rateLimitEntry),
	}
}

// Enabled reports whether limiting is active.
func (r *RateLimiter) Enabled() bool { return r != nil && r.maxHits > 0 }

// Allow returns true when the key is within its budget. Stale entries
// are pruned when the tracked-key cap is approached; if pruning is not
// enough, arbitrary entries are evicted to stay bounded.
func (r *RateLimiter) Allow(key string) bool {
	if !r.Enabled() {
		return true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()

	if len(r.entries) >= maxTrackedKeys {
		for k, e := range r.entries {
			if now.Sub(e.windowStart) >= r.window {
				delete(r.entries, k)
			}
		}
		for len(r.entries) >= maxTrackedKeys {
			for k := range r.entries {
				delete(r.entries, k)
				break
			}
		}
	}

	e, ok := r.entries[key]
	if !ok || now.Sub(e.windowStart) >= r.window {
		r.entries[key] = &rateLimitEntry{windowStart: now, count: 1}
		return true
	}

	e.count++
	return e.count <= r.maxHits
}
