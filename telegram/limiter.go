package telegram

import (
	"sync"
	"time"
)

// Lookups between sweeps of idle chats.
const sweepEvery = 1000

// rateLimiter allows at most limit events per key within a sliding window.
// Keys with no event inside the window are evicted periodically.
type rateLimiter struct {
	mu      sync.Mutex
	clients map[string][]time.Time
	now     func() time.Time
	limit   int
	window  time.Duration
	lookups int
}

func newRateLimiter(limit int, window time.Duration) *rateLimiter {
	return &rateLimiter{
		clients: make(map[string][]time.Time),
		now:     time.Now,
		limit:   limit,
		window:  window,
	}
}

func (rl *rateLimiter) allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	cutoff := now.Add(-rl.window)

	// Sweep before touching key so an idle entry for it is dropped too.
	rl.lookups++
	if rl.lookups >= sweepEvery {
		rl.sweep(cutoff)
		rl.lookups = 0
	}

	// Clean old entries
	var recent []time.Time
	for _, ts := range rl.clients[key] {
		if ts.After(cutoff) {
			recent = append(recent, ts)
		}
	}

	if len(recent) >= rl.limit {
		rl.clients[key] = recent
		return false
	}

	rl.clients[key] = append(recent, now)
	return true
}

// sweep deletes keys whose newest event is not after cutoff. Callers hold mu.
func (rl *rateLimiter) sweep(cutoff time.Time) {
	for key, stamps := range rl.clients {
		if len(stamps) == 0 || !stamps[len(stamps)-1].After(cutoff) {
			delete(rl.clients, key)
		}
	}
}
