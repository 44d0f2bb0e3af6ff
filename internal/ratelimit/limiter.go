// Package ratelimit keeps one token bucket per client network. The token
// endpoint uses it to slow online guessing of authorization codes.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const cleanupEvery = 5 * time.Minute

// Result describes one admission decision.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Limiter holds one token bucket per key.
type Limiter struct {
	mu          sync.Mutex
	limiters    map[string]*rate.Limiter
	rate        rate.Limit
	burst       int
	lastCleanup time.Time
	now         func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// New allows perSecond sustained requests per key with the given burst.
func New(perSecond float64, burst int, opts ...Option) *Limiter {
	l := &Limiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(perSecond),
		burst:    max(burst, 1),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.lastCleanup = l.now()
	return l
}

// Allow consumes one token for key.
func (l *Limiter) Allow(key string) Result {
	now := l.now()

	l.mu.Lock()
	l.maybeCleanup(now)
	limiter, ok := l.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[key] = limiter
	}
	l.mu.Unlock()

	if limiter.AllowN(now, 1) {
		return Result{
			Allowed:   true,
			Limit:     l.burst,
			Remaining: max(int(limiter.TokensAt(now)), 0),
		}
	}

	r := limiter.ReserveN(now, 1)
	delay := r.DelayFrom(now)
	r.CancelAt(now)
	return Result{Limit: l.burst, RetryAfter: delay}
}

// Len reports how many keys currently hold a bucket.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

// maybeCleanup drops buckets that have refilled completely. Caller holds l.mu.
func (l *Limiter) maybeCleanup(now time.Time) {
	if now.Sub(l.lastCleanup) < cleanupEvery {
		return
	}
	l.lastCleanup = now
	for key, limiter := range l.limiters {
		if limiter.TokensAt(now) >= float64(l.burst) {
			delete(l.limiters, key)
		}
	}
}
