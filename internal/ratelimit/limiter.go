// Package ratelimit throttles ingest clients with one token bucket per
// client address.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultIdleTTL    = 5 * time.Minute
	defaultSweepEvery = 3 * time.Minute
)

// Options configures a Limiter. Zero durations use the defaults.
type Options struct {
	RPS   float64
	Burst int
	// IdleTTL is how long a client bucket survives without requests.
	IdleTTL time.Duration
	// SweepEvery is the interval of Run's cleanup pass.
	SweepEvery time.Duration
}

// Limiter is a per-client token bucket limiter. Idle buckets are dropped by
// Sweep, which Run calls on a ticker until its context ends.
type Limiter struct {
	mu      sync.Mutex
	clients map[string]*client
	rps     rate.Limit
	burst   int
	idleTTL time.Duration
	every   time.Duration
	now     func() time.Time
}

type client struct {
	bucket   *rate.Limiter
	lastSeen time.Time
}

// NewLimiter returns a limiter allowing rps requests per second per client
// with the given burst.
func NewLimiter(rps float64, burst int) *Limiter {
	return New(Options{RPS: rps, Burst: burst})
}

// New returns a Limiter. Call Run to drop idle clients periodically.
func New(opts Options) *Limiter {
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = defaultIdleTTL
	}
	if opts.SweepEvery <= 0 {
		opts.SweepEvery = defaultSweepEvery
	}
	return &Limiter{
		clients: make(map[string]*client),
		rps:     rate.Limit(opts.RPS),
		burst:   opts.Burst,
		idleTTL: opts.IdleTTL,
		every:   opts.SweepEvery,
		now:     time.Now,
	}
}

// WithClock replaces the time source. Used by tests.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// Allow reports whether a request from key may proceed and records the
// request time.
func (l *Limiter) Allow(key string) bool {
	now := l.now()

	l.mu.Lock()
	c, ok := l.clients[key]
	if !ok {
		c = &client{bucket: rate.NewLimiter(l.rps, l.burst)}
		l.clients[key] = c
	}
	c.lastSeen = now
	l.mu.Unlock()

	return c.bucket.AllowN(now, 1)
}

// RetryAfter estimates how long key has to wait for its next token.
func (l *Limiter) RetryAfter(key string) time.Duration {
	if l.rps <= 0 {
		return l.idleTTL
	}
	l.mu.Lock()
	c, ok := l.clients[key]
	l.mu.Unlock()
	if !ok {
		return 0
	}
	r := c.bucket.ReserveN(l.now(), 1)
	defer r.CancelAt(l.now())
	return r.DelayFrom(l.now())
}

// Sweep drops clients idle for IdleTTL or longer and returns how many remain.
func (l *Limiter) Sweep() int {
	cutoff := l.now().Add(-l.idleTTL)

	l.mu.Lock()
	defer l.mu.Unlock()
	for key, c := range l.clients {
		if !c.lastSeen.After(cutoff) {
			delete(l.clients, key)
		}
	}
	return len(l.clients)
}

// Run sweeps idle clients until ctx is done.
func (l *Limiter) Run(ctx context.Context) {
	ticker := time.NewTicker(l.every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep()
		}
	}
}
