package service

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// LoginThrottle caps the rate of authentication attempts per origin address,
// independent of the per-account lockout. It is a cheap front gate against
// credential stuffing from a single source.
type LoginThrottle struct {
	limit rate.Limit
	burst int

	mu      sync.Mutex
	origins map[string]*throttleEntry
}

type throttleEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLoginThrottle allows up to perMinute attempts per origin with the given
// burst headroom.
func NewLoginThrottle(perMinute, burst int) *LoginThrottle {
	if perMinute <= 0 {
		perMinute = 10
	}
	if burst <= 0 {
		burst = perMinute
	}
	return &LoginThrottle{
		limit:   rate.Limit(float64(perMinute) / 60.0),
		burst:   burst,
		origins: make(map[string]*throttleEntry),
	}
}

// Allow reports whether an attempt from origin may proceed right now.
func (t *LoginThrottle) Allow(origin string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.origins[origin]
	if !ok {
		e = &throttleEntry{limiter: rate.NewLimiter(t.limit, t.burst)}
		t.origins[origin] = e
	}
	e.lastSeen = time.Now()
	return e.limiter.Allow()
}

// Cleanup drops origins idle for longer than maxIdle so the map does not grow
// without bound. Meant to be called from the housekeeping loop.
func (t *LoginThrottle) Cleanup(maxIdle time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := time.Now().Add(-maxIdle)
	removed := 0
	for origin, e := range t.origins {
		if e.lastSeen.Before(cutoff) {
			delete(t.origins, origin)
			removed++
		}
	}
	return removed
}
