package memory

import (
	"sync"
	"time"
)

// bucket is a token bucket refilled in whole windows.
type bucket struct {
	mu         sync.Mutex
	capacity   int64
	refill     int64 // tokens added per elapsed window
	window     time.Duration
	tokens     int64
	lastRefill time.Time
}

func newBucket(limit int64, window time.Duration, now time.Time) *bucket {
	return &bucket{
		capacity:   limit,
		refill:     limit,
		window:     window,
		tokens:     limit,
		lastRefill: now,
	}
}

// take refills and then deducts one token if one is available.
func (b *bucket) take(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked(now)
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

func (b *bucket) refillLocked(now time.Time) {
	elapsed := now.Sub(b.lastRefill)
	if elapsed < b.window {
		// also covers a clock that stepped backwards
		return
	}
	windows := int64(elapsed / b.window)

	missing := b.capacity - b.tokens
	if missing <= 0 || windows >= (missing+b.refill-1)/b.refill {
		b.tokens = b.capacity
	} else {
		b.tokens += windows * b.refill
	}
	// advance by whole windows only so partial progress is kept
	b.lastRefill = b.lastRefill.Add(time.Duration(windows) * b.window)
}

func (b *bucket) available() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tokens
}
