package handlers

import (
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// rateLimiter admits or rejects a request for key. When rejected, retryAfter reports how
// long until the key can make another request.
type rateLimiter interface {
	Allow(key string) (allowed bool, retryAfter time.Duration)
}

// keyedLimiter keeps one token bucket per key. Each bucket holds limit tokens and refills
// them evenly over window.
type keyedLimiter struct {
	rate   rate.Limit
	burst  int
	window time.Duration
	clock  func() time.Time
	mu     sync.Mutex
	store  map[string]*limiterEntry
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newSimpleRateLimiter(limit int, window time.Duration, clock func() time.Time) rateLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &keyedLimiter{
		rate:   rate.Limit(float64(limit) / window.Seconds()),
		burst:  limit,
		window: window,
		clock:  clock,
		store:  make(map[string]*limiterEntry),
	}
}

func (l *keyedLimiter) Allow(key string) (bool, time.Duration) {
	if l == nil {
		return true, 0
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = "anonymous"
	}
	now := l.clock()
	l.mu.Lock()
	defer l.mu.Unlock()

	l.pruneIdleLocked(now)
	entry, ok := l.store[key]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.store[key] = entry
	}
	entry.lastSeen = now

	reservation := entry.limiter.ReserveN(now, 1)
	if !reservation.OK() {
		return false, l.window
	}
	if delay := reservation.DelayFrom(now); delay > 0 {
		reservation.CancelAt(now)
		return false, delay.Round(time.Millisecond)
	}
	return true, 0
}

// an idle bucket is full again after one window, so dropping it loses nothing
func (l *keyedLimiter) pruneIdleLocked(now time.Time) {
	for key, entry := range l.store {
		if now.Sub(entry.lastSeen) >= l.window {
			delete(l.store, key)
		}
	}
}
