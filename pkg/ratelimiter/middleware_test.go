package ratelimiter_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billing/pkg/ratelimiter"
)

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string) (*ratelimiter.Result, error) {
	return nil, ratelimiter.ErrStoreUnavailable
}

func TestMiddleware(t *testing.T) {
	t.Parallel()
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	byHeader := func(r *http.Request) string { return r.Header.Get("X-User") }

	newLimiter := func(t *testing.T) *ratelimiter.Bucket {
		b, err := ratelimiter.NewBucket(ratelimiter.NewMemoryStore(), ratelimiter.Config{
			Capacity: 1, RefillRate: 1, RefillInterval: time.Minute,
		})
		require.NoError(t, err)
		return b
	}
	send := func(h http.Handler, user string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		if user != "" {
			req.Header.Set("X-User", user)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	t.Run("limits per key", func(t *testing.T) {
		t.Parallel()
		h := ratelimiter.Middleware(newLimiter(t), byHeader)(ok)

		rec := send(h, "a")
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

		rec = send(h, "a")
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, "60", rec.Header().Get("Retry-After"))

		assert.Equal(t, http.StatusNoContent, send(h, "b").Code)
	})

	t.Run("empty key is not limited", func(t *testing.T) {
		t.Parallel()
		h := ratelimiter.Middleware(newLimiter(t), byHeader)(ok)
		for range 3 {
			assert.Equal(t, http.StatusNoContent, send(h, "").Code)
		}
	})

	t.Run("custom denied handler", func(t *testing.T) {
		t.Parallel()
		var denied *ratelimiter.Result
		h := ratelimiter.Middleware(newLimiter(t), byHeader,
			ratelimiter.WithDeniedHandler(func(w http.ResponseWriter, _ *http.Request, res *ratelimiter.Result) {
				denied = res
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":{"code":"rate_limited"}}`))
			}))(ok)

		send(h, "a")
		rec := send(h, "a")
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Contains(t, rec.Body.String(), "rate_limited")
		require.NotNil(t, denied)
		assert.False(t, denied.Allowed())
	})

	t.Run("store failure fails open by default", func(t *testing.T) {
		t.Parallel()
		h := ratelimiter.Middleware(failingLimiter{}, byHeader)(ok)
		assert.Equal(t, http.StatusNoContent, send(h, "a").Code)
	})

	t.Run("store failure handler", func(t *testing.T) {
		t.Parallel()
		var got error
		h := ratelimiter.Middleware(failingLimiter{}, byHeader,
			ratelimiter.WithErrorHandler(func(w http.ResponseWriter, _ *http.Request, err error) {
				got = err
				w.WriteHeader(http.StatusServiceUnavailable)
			}))(ok)
		assert.Equal(t, http.StatusServiceUnavailable, send(h, "a").Code)
		assert.True(t, errors.Is(got, ratelimiter.ErrStoreUnavailable))
	})
}
