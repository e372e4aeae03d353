package ratelimit

import (
	"time"

	"golang.org/x/time/rate"
)

// GlobalLimiter caps the whole process at limit requests per window. It is a
// single key, so it skips the bucket store and refills continuously.
type GlobalLimiter struct {
	lim   *rate.Limiter
	limit int64
	now   func() time.Time
}

// NewGlobalLimiter returns nil when limit is not positive; a nil limiter
// admits everything.
func NewGlobalLimiter(limit int64, window time.Duration, now func() time.Time) *GlobalLimiter {
	if limit <= 0 {
		return nil
	}
	if window <= 0 {
		window = DefaultWindow
	}
	if now == nil {
		now = time.Now
	}
	every := rate.Limit(float64(limit) / window.Seconds())
	return &GlobalLimiter{
		lim:   rate.NewLimiter(every, int(limit)),
		limit: limit,
		now:   now,
	}
}

func (g *GlobalLimiter) Allow() bool {
	if g == nil {
		return true
	}
	return g.lim.AllowN(g.now(), 1)
}

func (g *GlobalLimiter) Limit() int64 {
	if g == nil {
		return 0
	}
	return g.limit
}
