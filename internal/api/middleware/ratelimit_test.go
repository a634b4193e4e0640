package middleware_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/medisync/privacygraph/internal/api/middleware"
)

func TestMemoryRateLimiter_AllowsUpToLimitThenBlocks(t *testing.T) {
	limiter := middleware.NewMemoryRateLimiter(2, time.Minute)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		allowed, _, err := limiter.Allow(ctx, "caller-1")
		assert.NoError(t, err)
		assert.True(t, allowed)
		assert.NoError(t, limiter.Increment(ctx, "caller-1", time.Minute))
	}

	allowed, retryAfter, err := limiter.Allow(ctx, "caller-1")
	assert.NoError(t, err)
	assert.False(t, allowed)
	assert.Greater(t, retryAfter, 0)
}

func TestMemoryRateLimiter_TracksCallersIndependently(t *testing.T) {
	limiter := middleware.NewMemoryRateLimiter(1, time.Minute)
	ctx := context.Background()

	allowed, _, _ := limiter.Allow(ctx, "caller-1")
	assert.True(t, allowed)
	_ = limiter.Increment(ctx, "caller-1", time.Minute)

	allowed, _, _ = limiter.Allow(ctx, "caller-2")
	assert.True(t, allowed, "a different caller must not be throttled by caller-1's usage")
}

func TestRateLimitMiddleware_FallsBackToMemoryLimiterWithoutCache(t *testing.T) {
	handler := middleware.RateLimitMiddleware(nil, discardLogger(), 1)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }),
	)

	req := httptest.NewRequest(http.MethodPost, "/privacy-requests", nil)
	req.RemoteAddr = "10.0.0.1:1234"

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, req)
	assert.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, req)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.NotEmpty(t, second.Header().Get("Retry-After"))
}

func TestRateLimitMiddleware_SkipsHealthAndReadyEndpoints(t *testing.T) {
	handler := middleware.RateLimitMiddleware(nil, discardLogger(), 0)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }),
	)

	for _, path := range []string{"/health", "/ready"} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}
