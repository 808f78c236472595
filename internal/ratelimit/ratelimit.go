// Package ratelimit enforces a per-caller request budget: Limit requests
// per Window, refilled continuously. Each caller gets its own token
// bucket; buckets idle for a full window are dropped.
package ratelimit

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultLimit  = 10
	DefaultWindow = time.Minute
)

// Decision is the outcome of one check. Reset is when the caller's bucket
// is full again; RetryAfter is set when the request was refused.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	Reset      time.Time
	RetryAfter time.Duration
}

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// Limiter tracks one bucket per caller key.
type Limiter struct {
	limit    int
	window   time.Duration
	interval time.Duration

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
}

// New creates a limiter allowing limit requests per window.
func New(limit int, window time.Duration) *Limiter {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Limiter{
		limit:    limit,
		window:   window,
		interval: window / time.Duration(limit),
		buckets:  make(map[string]*bucket),
	}
}

// Limit returns the configured requests per window.
func (l *Limiter) Limit() int { return l.limit }

// Allow consumes one request for key.
func (l *Limiter) Allow(key string) Decision {
	return l.AllowAt(key, time.Now())
}

// AllowAt is Allow at an explicit instant.
func (l *Limiter) AllowAt(key string, now time.Time) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.sweep(now)
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(rate.Every(l.interval), l.limit)}
		l.buckets[key] = b
	}
	b.lastSeen = now

	r := b.lim.ReserveN(now, 1)
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return Decision{
			Limit:      l.limit,
			Remaining:  0,
			Reset:      l.resetAt(b.lim, now),
			RetryAfter: delay,
		}
	}
	return Decision{
		Allowed:   true,
		Limit:     l.limit,
		Remaining: remaining(b.lim.TokensAt(now)),
		Reset:     l.resetAt(b.lim, now),
	}
}

// resetAt is when the bucket refills to its full burst.
func (l *Limiter) resetAt(lim *rate.Limiter, now time.Time) time.Time {
	missing := float64(l.limit) - lim.TokensAt(now)
	if missing <= 0 {
		return now
	}
	return now.Add(time.Duration(missing * float64(l.interval)))
}

func remaining(tokens float64) int {
	if tokens <= 0 {
		return 0
	}
	return int(math.Floor(tokens))
}

// sweep drops buckets idle for longer than a window; they would be full
// again anyway. Runs at most once per window. Caller holds l.mu.
func (l *Limiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < l.window {
		return
	}
	l.lastSweep = now
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) > l.window {
			delete(l.buckets, key)
		}
	}
}
