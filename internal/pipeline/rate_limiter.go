package pipeline

import (
	"sync"
	"time"
)

// Request classes with separate budgets. A batch run reconciles many
// invoices in one call, so it gets a budget of its own instead of
// sharing the single-invoice window.
const (
	ClassInvoice = "invoice"
	ClassBatch   = "batch"
	ClassRead    = "read"
)

type Limit struct {
	Requests int
	Window   time.Duration
}

// RateLimiter caps requests per client and class over fixed windows.
// A class with no configured limit is unmetered.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limits  map[string]Limit
}

type bucket struct {
	count       int
	windowStart time.Time
}

func NewRateLimiter(limits map[string]Limit) *RateLimiter {
	return &RateLimiter{
		buckets: map[string]*bucket{},
		limits:  limits,
	}
}

func (r *RateLimiter) Allow(class, client string) (bool, time.Duration) {
	if r == nil {
		return true, 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	lim, metered := r.limits[class]
	if !metered || lim.Requests <= 0 {
		return true, 0
	}
	now := time.Now()
	key := class + ":" + client
	state, ok := r.buckets[key]
	if !ok {
		state = &bucket{windowStart: now}
		r.buckets[key] = state
	}
	if now.Sub(state.windowStart) >= lim.Window {
		state.windowStart = now
		state.count = 0
	}
	if state.count >= lim.Requests {
		return false, state.windowStart.Add(lim.Window).Sub(now)
	}
	state.count++
	return true, 0
}
