package httpserver_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billing/pkg/httpserver"
)

func TestRun(t *testing.T) {
	t.Parallel()

	t.Run("serves until the context is canceled", func(t *testing.T) {
		t.Parallel()
		srv := httpserver.New(httpserver.Config{Addr: "127.0.0.1:0", ShutdownTimeout: time.Second})
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		done := make(chan error, 1)
		go func() {
			done <- srv.Run(ctx, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				_, _ = io.WriteString(w, "pong")
			}))
		}()

		addrCtx, addrCancel := context.WithTimeout(ctx, time.Second)
		defer addrCancel()
		addr, err := srv.Addr(addrCtx)
		require.NoError(t, err)

		resp, err := http.Get("http://" + addr.String())
		require.NoError(t, err)
		body, _ := io.ReadAll(resp.Body)
		require.NoError(t, resp.Body.Close())
		assert.Equal(t, "pong", string(body))

		cancel()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(2 * time.Second):
			require.Fail(t, "run did not return after cancel")
		}

		assert.ErrorIs(t, srv.Run(context.Background(), nil), httpserver.ErrAlreadyRunning)
	})

	t.Run("listen failure", func(t *testing.T) {
		t.Parallel()
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		defer ln.Close()

		srv := httpserver.New(httpserver.Config{Addr: ln.Addr().String()})
		err = srv.Run(context.Background(), nil)
		assert.ErrorIs(t, err, httpserver.ErrStart)
	})
}

func TestHealth(t *testing.T) {
	t.Parallel()

	decode := func(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
		t.Helper()
		var got map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
		return got
	}

	t.Run("liveness", func(t *testing.T) {
		t.Parallel()
		w := httptest.NewRecorder()
		httpserver.Liveness()(w, httptest.NewRequest(http.MethodGet, "/health/live", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "ok", decode(t, w)["status"])
	})

	t.Run("ready", func(t *testing.T) {
		t.Parallel()
		h := httpserver.Readiness(nil, time.Second,
			httpserver.Check{Name: "postgres", Fn: func(context.Context) error { return nil }},
		)
		w := httptest.NewRecorder()
		h(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, map[string]any{"postgres": "ok"}, decode(t, w)["checks"])
	})

	t.Run("not ready", func(t *testing.T) {
		t.Parallel()
		h := httpserver.Readiness(nil, time.Second,
			httpserver.Check{Name: "postgres", Fn: func(context.Context) error { return nil }},
			httpserver.Check{Name: "redis", Fn: func(context.Context) error { return errors.New("dial tcp: refused") }},
		)
		w := httptest.NewRecorder()
		h(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		got := decode(t, w)
		assert.Equal(t, "unavailable", got["status"])
		assert.Equal(t, map[string]any{"postgres": "ok", "redis": "failing"}, got["checks"])
		assert.NotContains(t, w.Body.String(), "refused")
	})
}
