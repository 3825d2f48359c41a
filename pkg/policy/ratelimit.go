package policy

import (
	"sync"
	"time"
)

// tokenBucket is a classic token-bucket rate limiter: budget refills at
// ratePerSec up to capacity, and each Allow() call spends one token.
type tokenBucket struct {
	ratePerSec float64
	capacity   float64
	last       time.Time
	budget     float64
	mu         sync.Mutex
}

func newTokenBucket(ratePerSec, capacity float64) *tokenBucket {
	return &tokenBucket{ratePerSec: ratePerSec, capacity: capacity, last: time.Now(), budget: capacity}
}

func (b *tokenBucket) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	elapsed := now.Sub(b.last).Seconds()
	b.last = now
	b.budget = minFloat(b.capacity, b.budget+elapsed*b.ratePerSec)
	if b.budget >= 1 {
		b.budget -= 1
		return true
	}
	return false
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// RateLimiter tracks one token bucket per key (e.g. per tool name, per
// account), created lazily on first use.
type RateLimiter struct {
	mu         sync.Mutex
	buckets    map[string]*tokenBucket
	ratePerSec float64
	burst      float64
}

// NewRateLimiter creates a limiter whose buckets default to ratePerSec
// refill and burst capacity.
func NewRateLimiter(ratePerSec, burst float64) *RateLimiter {
	return &RateLimiter{buckets: map[string]*tokenBucket{}, ratePerSec: ratePerSec, burst: burst}
}

// Allow reports whether key may proceed, spending a token from its bucket.
func (l *RateLimiter) Allow(key string) bool {
	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = newTokenBucket(l.ratePerSec, l.burst)
		l.buckets[key] = b
	}
	l.mu.Unlock()
	return b.Allow()
}
