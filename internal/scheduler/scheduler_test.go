package scheduler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billing/internal/billing"
	"github.com/dmitrymomot/billing/internal/scheduler"
)

type hit struct {
	method, path, token, requestID string
}

type recorder struct {
	mu     sync.Mutex
	hits   []hit
	status int
}

func (r *recorder) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mu.Lock()
	r.hits = append(r.hits, hit{req.Method, req.URL.Path, req.Header.Get("X-Scheduler-Token"), req.Header.Get("X-Request-ID")})
	status := r.status
	r.mu.Unlock()

	if status != 0 && status != http.StatusOK {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"data": billing.SweepResult{Sweep: "orders", Checked: 2, Changed: 1}})
}

func (r *recorder) snapshot() []hit {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]hit(nil), r.hits...)
}

func newScheduler(srv *httptest.Server, opts ...scheduler.Option) *scheduler.Scheduler {
	cfg := scheduler.Config{
		BaseURL:               srv.URL + "/api/v1/billing/",
		Token:                 "secret",
		OrdersInterval:        10 * time.Millisecond,
		RefundsInterval:       10 * time.Millisecond,
		SubscriptionsInterval: 10 * time.Millisecond,
		MaxBackoff:            time.Hour,
	}
	return scheduler.New(cfg, opts...)
}

func TestRunJob(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	srv := httptest.NewServer(rec)
	t.Cleanup(srv.Close)

	s := newScheduler(srv)
	jobs := scheduler.DefaultJobs(scheduler.Config{SubscriptionsInterval: time.Second})
	require.Len(t, jobs, 3)

	require.NoError(t, s.RunJob(context.Background(), jobs[2]))

	hits := rec.snapshot()
	require.Len(t, hits, 3)
	assert.Equal(t, "/api/v1/billing/scheduler/subscriptions/expired/disable", hits[0].path)
	assert.Equal(t, "/api/v1/billing/scheduler/subscriptions/preactive/enable", hits[1].path)
	assert.Equal(t, "/api/v1/billing/scheduler/subscriptions/automatic/renew", hits[2].path)
	for _, h := range hits {
		assert.Equal(t, http.MethodPost, h.method)
		assert.Equal(t, "secret", h.token)
		assert.NotEmpty(t, h.requestID)
		assert.Equal(t, hits[0].requestID, h.requestID, "calls of one run share a request id")
	}
}

func TestRunJobStopsOnFailure(t *testing.T) {
	t.Parallel()
	rec := &recorder{status: http.StatusServiceUnavailable}
	srv := httptest.NewServer(rec)
	t.Cleanup(srv.Close)

	s := newScheduler(srv)
	err := s.RunJob(context.Background(), scheduler.DefaultJobs(scheduler.Config{})[2])
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.Len(t, rec.snapshot(), 1)
}

func TestRun(t *testing.T) {
	t.Parallel()

	t.Run("repeats jobs until canceled", func(t *testing.T) {
		t.Parallel()
		rec := &recorder{}
		srv := httptest.NewServer(rec)
		t.Cleanup(srv.Close)

		job := scheduler.Job{Name: "orders", Interval: 5 * time.Millisecond,
			Calls: []scheduler.Call{{Method: http.MethodPost, Path: "/scheduler/orders/processing/check"}}}
		s := newScheduler(srv, scheduler.WithJobs(job))

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- s.Run(ctx) }()

		require.Eventually(t, func() bool { return len(rec.snapshot()) >= 3 }, 2*time.Second, 5*time.Millisecond)
		cancel()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(time.Second):
			require.Fail(t, "run did not stop")
		}
	})

	t.Run("backs off after failures", func(t *testing.T) {
		t.Parallel()
		rec := &recorder{status: http.StatusInternalServerError}
		srv := httptest.NewServer(rec)
		t.Cleanup(srv.Close)

		job := scheduler.Job{Name: "orders", Interval: 100 * time.Millisecond,
			Calls: []scheduler.Call{{Method: http.MethodPost, Path: "/scheduler/orders/processing/check"}}}
		s := newScheduler(srv, scheduler.WithJobs(job))

		ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
		defer cancel()
		require.NoError(t, s.Run(ctx))

		// Failing runs wait 200ms then 400ms, so only the first two fit.
		assert.LessOrEqual(t, len(rec.snapshot()), 2)
	})

	t.Run("rejects bad configuration", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(&recorder{})
		t.Cleanup(srv.Close)

		assert.ErrorIs(t, newScheduler(srv, scheduler.WithJobs()).Run(context.Background()), scheduler.ErrNoJobs)
		bad := scheduler.Job{Name: "x"}
		assert.ErrorIs(t, newScheduler(srv, scheduler.WithJobs(bad)).Run(context.Background()), scheduler.ErrInvalidInterval)
	})
}
