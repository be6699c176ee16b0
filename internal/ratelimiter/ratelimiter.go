// Package ratelimiter throttles outbound work with token buckets.
//
// A RateLimiter guards a single stream; a Group hands out one RateLimiter per
// key so that independent destinations (for example webhook endpoints) are
// throttled separately and a slow receiver cannot starve the others.
package ratelimiter

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter wraps golang.org/x/time/rate with a zero-means-unlimited rule.
//
// Thread safety:
// All methods are safe for concurrent use.
type RateLimiter struct {
	limiter *rate.Limiter
}

// New creates a RateLimiter allowing requestsPerSecond sustained with the
// given burst. A zero rate disables limiting. A zero burst with a non-zero
// rate is raised to 1 so Wait can ever succeed.
func New(requestsPerSecond float64, burst int) *RateLimiter {
	if requestsPerSecond <= 0 {
		return &RateLimiter{limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burst)}
}

// Allow consumes a token if one is available and reports whether it did.
func (r *RateLimiter) Allow() bool {
	return r.limiter.Allow()
}

// Wait blocks until a token is available or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}

// Unlimited reports whether the limiter never blocks.
func (r *RateLimiter) Unlimited() bool {
	return r.limiter.Limit() == rate.Inf
}

// Group lazily creates one RateLimiter per key, all with the same settings.
type Group struct {
	mu                sync.Mutex
	limiters          map[string]*RateLimiter
	requestsPerSecond float64
	burst             int
}

// NewGroup creates an empty Group.
func NewGroup(requestsPerSecond float64, burst int) *Group {
	return &Group{
		limiters:          make(map[string]*RateLimiter),
		requestsPerSecond: requestsPerSecond,
		burst:             burst,
	}
}

// Get returns the limiter for key, creating it on first use.
func (g *Group) Get(key string) *RateLimiter {
	g.mu.Lock()
	defer g.mu.Unlock()

	l, ok := g.limiters[key]
	if !ok {
		l = New(g.requestsPerSecond, g.burst)
		g.limiters[key] = l
	}
	return l
}

// Wait blocks on the limiter for key.
func (g *Group) Wait(ctx context.Context, key string) error {
	return g.Get(key).Wait(ctx)
}

// Forget drops the limiter for key. The next Get starts with a full bucket.
func (g *Group) Forget(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.limiters, key)
}

// Len returns the number of keys currently tracked.
func (g *Group) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.limiters)
}
