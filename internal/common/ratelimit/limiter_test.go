package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterAllowsWithinBurst(t *testing.T) {
	limiter := NewLimiter(Config{RequestsPerSecond: 1, Burst: 3})

	for i := 0; i < 3; i++ {
		assert.True(t, limiter.Allow("client-a"))
	}
	assert.False(t, limiter.Allow("client-a"))
}

func TestLimiterIsolatesKeys(t *testing.T) {
	limiter := NewLimiter(Config{RequestsPerSecond: 1, Burst: 1})

	assert.True(t, limiter.Allow("client-a"))
	assert.False(t, limiter.Allow("client-a"))
	assert.True(t, limiter.Allow("client-b"))
}

func TestLimiterEvictsPastMaxKeys(t *testing.T) {
	limiter := NewLimiter(Config{RequestsPerSecond: 1, Burst: 1, MaxKeys: 2})

	limiter.Allow("a")
	limiter.Allow("b")
	limiter.Allow("c")

	assert.Equal(t, 2, limiter.Keys())
}

func TestHTTPMiddlewareRejectsOverLimit(t *testing.T) {
	limiter := NewLimiter(Config{RequestsPerSecond: 1, Burst: 1})
	handler := HTTPMiddleware(limiter, IPKey)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "0", second.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, second.Header().Get("Retry-After"))
}

func TestIPKeyPrefersForwardedFor(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.1:4567"
	assert.Equal(t, "10.0.0.1", IPKey(r))

	r.Header.Set("X-Real-IP", "203.0.113.7")
	assert.Equal(t, "203.0.113.7", IPKey(r))

	r.Header.Set("X-Forwarded-For", "198.51.100.2")
	assert.Equal(t, "198.51.100.2", IPKey(r))
}
