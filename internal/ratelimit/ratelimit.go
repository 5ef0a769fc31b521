// Package ratelimit implements the per-caller token bucket that guards
// gateway run submissions. Thread-safe, no background goroutines — tokens
// refill lazily on each Allow call and idle buckets are swept inline.
package ratelimit

import (
	"errors"
	"sync"
	"time"
)

// ErrRateLimited is returned when a caller has exhausted its token bucket.
var ErrRateLimited = errors.New("rate limit exceeded")

const (
	// Buckets untouched for this long are dropped on the next sweep.
	idleTTL = 10 * time.Minute
	// Minimum gap between inline sweeps of the caller map.
	sweepInterval = time.Minute
)

// Config configures the token bucket rate limiter.
type Config struct {
	RequestsPerMinute int // Tokens added per minute. 0 = unlimited (Allow always succeeds).
	BurstSize         int // Maximum tokens in a bucket. 0 = defaults to RequestsPerMinute.
}

// Limiter hands out tokens per caller identity. Each caller gets an
// independent bucket; one caller cannot exhaust another's quota.
type Limiter struct {
	mu        sync.Mutex
	callers   map[string]*bucket
	rate      float64 // tokens per second
	burst     float64 // max bucket capacity
	lastSweep time.Time
	now       func() time.Time
}

type bucket struct {
	tokens    float64
	lastTouch time.Time
}

// NewLimiter creates a rate limiter with the given configuration.
// If RequestsPerMinute is 0, Allow always succeeds (unlimited).
func NewLimiter(cfg Config) *Limiter {
	burst := cfg.BurstSize
	if burst <= 0 {
		burst = cfg.RequestsPerMinute
	}
	if burst <= 0 {
		burst = 1 // safety floor
	}
	return &Limiter{
		callers: make(map[string]*bucket),
		rate:    float64(cfg.RequestsPerMinute) / 60.0,
		burst:   float64(burst),
		now:     time.Now,
	}
}

// Allow consumes one token from the caller's bucket.
// Returns ErrRateLimited if the bucket is empty.
func (l *Limiter) Allow(caller string) error {
	// Unlimited mode.
	if l.rate <= 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweep(now)

	b, ok := l.callers[caller]
	if !ok {
		// First request: start with a full bucket.
		b = &bucket{tokens: l.burst, lastTouch: now}
		l.callers[caller] = b
	}

	// Refill tokens based on elapsed time.
	elapsed := now.Sub(b.lastTouch).Seconds()
	b.tokens += elapsed * l.rate
	if b.tokens > l.burst {
		b.tokens = l.burst
	}
	b.lastTouch = now

	if b.tokens < 1 {
		return ErrRateLimited
	}
	b.tokens--
	return nil
}

// Size reports how many caller buckets are currently held.
func (l *Limiter) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.callers)
}

// sweep drops buckets idle past the TTL. A dropped bucket reads as full
// on its next touch.
func (l *Limiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < sweepInterval {
		return
	}
	l.lastSweep = now
	for caller, b := range l.callers {
		if now.Sub(b.lastTouch) > idleTTL {
			delete(l.callers, caller)
		}
	}
}
