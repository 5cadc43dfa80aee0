package handlers

import (
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

type rateLimiter interface {
	Allow(key string) bool
}

// keyedRateLimiter hands out one token bucket per key. Buckets idle for longer than the
// expiry are dropped and start full again on the next request.
type keyedRateLimiter struct {
	limit   rate.Limit
	burst   int
	mu      sync.Mutex
	buckets *cache.Cache
	clock   func() time.Time
}

func newKeyedRateLimiter(perMinute, burst int, clock func() time.Time) rateLimiter {
	if perMinute <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	if clock == nil {
		clock = time.Now
	}
	expiry := 2 * time.Minute * time.Duration(burst)
	return &keyedRateLimiter{
		limit:   rate.Limit(float64(perMinute) / 60),
		burst:   burst,
		buckets: cache.New(expiry, expiry),
		clock:   clock,
	}
}

func (l *keyedRateLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = "anonymous"
	}

	l.mu.Lock()
	var limiter *rate.Limiter
	if cached, ok := l.buckets.Get(key); ok {
		limiter = cached.(*rate.Limiter)
	} else {
		limiter = rate.NewLimiter(l.limit, l.burst)
	}
	l.buckets.SetDefault(key, limiter)
	l.mu.Unlock()

	return limiter.AllowN(l.clock(), 1)
}
