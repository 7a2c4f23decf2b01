package resilience

import (
	"sync"
	"time"
)

// RateLimiter is a token bucket layered with a fixed-window cap, adapted
// from libs/go/core/resilience/ratelimiter.go. The dispatcher uses one
// instance to bound how fast it drains the command queue, so that a
// misbehaving command producer cannot flood resume/stop cascades across
// the whole dependency graph.
type RateLimiter struct {
	mu sync.Mutex

	capacity   float64
	fillRate   float64 // tokens per second
	available  float64
	lastRefill time.Time

	windowStart time.Time
	windowDur   time.Duration
	windowCount int
	maxPerWindow int
}

// NewRateLimiter builds a limiter with the given token-bucket capacity/fill
// rate and an additional hard cap of maxPerWindow events per windowDur.
func NewRateLimiter(capacity, fillRate float64, windowDur time.Duration, maxPerWindow int) *RateLimiter {
	now := time.Now()
	return &RateLimiter{
		capacity:     capacity,
		fillRate:     fillRate,
		available:    capacity,
		lastRefill:   now,
		windowStart:  now,
		windowDur:    windowDur,
		maxPerWindow: maxPerWindow,
	}
}

// Allow reports whether a single event may proceed right now, consuming a
// token if so.
func (r *RateLimiter) Allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	r.refillLocked(now)

	if now.Sub(r.windowStart) >= r.windowDur {
		r.windowStart = now
		r.windowCount = 0
	}
	if r.maxPerWindow > 0 && r.windowCount >= r.maxPerWindow {
		return false
	}
	if r.available < 1 {
		return false
	}
	r.available--
	r.windowCount++
	return true
}

func (r *RateLimiter) refillLocked(now time.Time) {
	elapsed := now.Sub(r.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	r.available = minFloat(r.capacity, r.available+elapsed*r.fillRate)
	r.lastRefill = now
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
