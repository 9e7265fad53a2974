// Package ratelimit provides per-client token-bucket limiting for the
// admin surface. A burst of enrich requests from one caller must not
// starve the provider quota for everyone else.
package ratelimit

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config holds rate limiter settings.
type Config struct {
	// RequestsPerSecond is the steady-state rate per key.
	RequestsPerSecond int
	// Burst is the bucket size per key.
	Burst int
	// MaxKeys bounds the per-key bucket table; oldest-idle buckets are
	// evicted past it.
	MaxKeys int
}

// DefaultConfig returns the standard admin-surface limits.
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 10,
		Burst:             20,
		MaxKeys:           10000,
	}
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter is a per-key token bucket limiter. Safe for concurrent use.
type Limiter struct {
	config  Config
	mu      sync.Mutex
	buckets map[string]*bucket
}

// NewLimiter creates a Limiter.
func NewLimiter(config Config) *Limiter {
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = DefaultConfig().RequestsPerSecond
	}
	if config.Burst <= 0 {
		config.Burst = config.RequestsPerSecond * 2
	}
	if config.MaxKeys <= 0 {
		config.MaxKeys = DefaultConfig().MaxKeys
	}

	return &Limiter{
		config:  config,
		buckets: make(map[string]*bucket),
	}
}

// Allow reports whether the caller identified by key may proceed now.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		if len(l.buckets) >= l.config.MaxKeys {
			l.evictIdle()
		}
		b = &bucket{
			limiter: rate.NewLimiter(rate.Limit(l.config.RequestsPerSecond), l.config.Burst),
		}
		l.buckets[key] = b
	}
	b.lastSeen = time.Now()

	return b.limiter.Allow()
}

// Keys returns the number of tracked buckets.
func (l *Limiter) Keys() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// evictIdle drops the least recently seen bucket. Caller holds mu.
func (l *Limiter) evictIdle() {
	var oldestKey string
	var oldest time.Time
	for key, b := range l.buckets {
		if oldestKey == "" || b.lastSeen.Before(oldest) {
			oldestKey = key
			oldest = b.lastSeen
		}
	}
	if oldestKey != "" {
		delete(l.buckets, oldestKey)
	}
}

// HTTPMiddleware rejects requests over the per-key limit with 429.
func HTTPMiddleware(limiter *Limiter, keyFunc func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(keyFunc(r)) {
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limiter.config.RequestsPerSecond))
				w.Header().Set("X-RateLimit-Remaining", "0")
				w.Header().Set("Retry-After", "1")
				http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// IPKey extracts the client address for rate limiting, preferring proxy
// headers over the socket address.
func IPKey(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return ip
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
