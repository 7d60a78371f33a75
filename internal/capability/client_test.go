package capability_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billing/internal/billing"
	"github.com/dmitrymomot/billing/internal/capability"
	"github.com/dmitrymomot/billing/pkg/retry"
)

type recorded struct {
	Method string
	Path   string
	Body   map[string]string
}

func newServer(t *testing.T, status func(n int32) int) (*httptest.Server, *[]recorded, *sync.Mutex) {
	t.Helper()
	var (
		mu    sync.Mutex
		calls []recorded
		n     atomic.Int32
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		calls = append(calls, recorded{Method: r.Method, Path: r.URL.Path, Body: body})
		mu.Unlock()
		w.WriteHeader(status(n.Add(1)))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls, &mu
}

func newClient(srv *httptest.Server) *capability.Client {
	return capability.New(capability.Config{BaseURL: srv.URL + "/", Timeout: time.Second},
		capability.WithHTTPClient(srv.Client()),
		capability.WithRetrier(retry.New(
			retry.WithMaxAttempts(3),
			retry.WithBackoff(retry.ConstantBackoff(time.Millisecond)),
		)),
	)
}

func TestClient(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	user := uuid.New()

	t.Run("grant posts the user role", func(t *testing.T) {
		t.Parallel()
		srv, calls, mu := newServer(t, func(int32) int { return http.StatusCreated })

		require.NoError(t, newClient(srv).Grant(ctx, user, "subscriber_gold"))

		mu.Lock()
		defer mu.Unlock()
		require.Len(t, *calls, 1)
		got := (*calls)[0]
		assert.Equal(t, http.MethodPost, got.Method)
		assert.Equal(t, "/api/v1/authorization/user_role/", got.Path)
		assert.Equal(t, map[string]string{"user_id": user.String(), "role_title": "subscriber_gold"}, got.Body)
	})

	t.Run("revoke deletes the user role", func(t *testing.T) {
		t.Parallel()
		srv, calls, mu := newServer(t, func(int32) int { return http.StatusNoContent })

		require.NoError(t, newClient(srv).Revoke(ctx, user, "subscriber_bronze"))

		mu.Lock()
		defer mu.Unlock()
		require.Len(t, *calls, 1)
		assert.Equal(t, http.MethodDelete, (*calls)[0].Method)
		assert.Equal(t, "subscriber_bronze", (*calls)[0].Body["role_title"])
	})

	t.Run("already applied changes succeed", func(t *testing.T) {
		t.Parallel()
		conflict, _, _ := newServer(t, func(int32) int { return http.StatusConflict })
		require.NoError(t, newClient(conflict).Grant(ctx, user, "subscriber_gold"))

		missing, _, _ := newServer(t, func(int32) int { return http.StatusNotFound })
		require.NoError(t, newClient(missing).Revoke(ctx, user, "subscriber_gold"))
	})

	t.Run("server errors are retried", func(t *testing.T) {
		t.Parallel()
		srv, calls, mu := newServer(t, func(n int32) int {
			if n < 3 {
				return http.StatusBadGateway
			}
			return http.StatusOK
		})

		require.NoError(t, newClient(srv).Grant(ctx, user, "subscriber_silver"))
		mu.Lock()
		defer mu.Unlock()
		assert.Len(t, *calls, 3)
	})

	t.Run("exhausted retries are unavailable", func(t *testing.T) {
		t.Parallel()
		srv, calls, mu := newServer(t, func(int32) int { return http.StatusServiceUnavailable })

		err := newClient(srv).Grant(ctx, user, "subscriber_silver")
		require.ErrorIs(t, err, billing.ErrCapabilityUnavailable)
		require.ErrorIs(t, err, retry.ErrAttemptsExhausted)
		mu.Lock()
		defer mu.Unlock()
		assert.Len(t, *calls, 3)
	})

	t.Run("client errors are not retried", func(t *testing.T) {
		t.Parallel()
		srv, calls, mu := newServer(t, func(int32) int { return http.StatusBadRequest })

		err := newClient(srv).Revoke(ctx, user, "subscriber_silver")
		require.ErrorIs(t, err, billing.ErrCapabilityUnavailable)
		mu.Lock()
		defer mu.Unlock()
		assert.Len(t, *calls, 1)
	})

	t.Run("canceled context stops retries", func(t *testing.T) {
		t.Parallel()
		srv, _, _ := newServer(t, func(int32) int { return http.StatusOK })
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		err := newClient(srv).Grant(cctx, user, "subscriber_gold")
		require.ErrorIs(t, err, context.Canceled)
	})
}

func TestClientBreaker(t *testing.T) {
	t.Parallel()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	c := capability.New(capability.Config{
		BaseURL:            srv.URL,
		Timeout:            time.Second,
		MaxAttempts:        1,
		BreakerThreshold:   2,
		BreakerOpenTimeout: time.Minute,
	}, capability.WithHTTPClient(srv.Client()))

	ctx := context.Background()
	user := uuid.New()
	for range 3 {
		err := c.Grant(ctx, user, "subscriber_gold")
		require.ErrorIs(t, err, billing.ErrCapabilityUnavailable)
	}
	assert.Equal(t, int32(2), hits.Load())
}
