package audit_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billing/pkg/audit"
)

type recorder struct {
	mu     sync.Mutex
	events []audit.Event
	err    error
}

func (r *recorder) Store(_ context.Context, e audit.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, e)
	return nil
}

type ctxKey string

func extract(key ctxKey) func(context.Context) (string, bool) {
	return func(ctx context.Context) (string, bool) {
		v, ok := ctx.Value(key).(string)
		return v, ok
	}
}

func TestNewLogger(t *testing.T) {
	t.Parallel()

	t.Run("panics with nil storage", func(t *testing.T) {
		t.Parallel()
		assert.Panics(t, func() {
			audit.NewLogger(nil)
		})
	})
}

func TestLogger_Log(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, time.March, 1, 9, 30, 0, 0, time.FixedZone("X", 3600))

	t.Run("builds event from options and context", func(t *testing.T) {
		t.Parallel()
		store := &recorder{}
		l := audit.NewLogger(store,
			audit.WithClock(func() time.Time { return now }),
			audit.WithUserIDExtractor(extract("user")),
			audit.WithRequestIDExtractor(extract("request")),
		)
		ctx := context.WithValue(context.Background(), ctxKey("user"), "user-1")
		ctx = context.WithValue(ctx, ctxKey("request"), "req-1")

		err := l.Log(ctx, "refund.requested",
			audit.WithResource("order", "order-1"),
			audit.WithMetadata("amount", "12.50"))
		require.NoError(t, err)

		require.Len(t, store.events, 1)
		e := store.events[0]
		assert.NotEmpty(t, e.ID)
		assert.Equal(t, "refund.requested", e.Action)
		assert.Equal(t, "user-1", e.UserID)
		assert.Equal(t, "req-1", e.RequestID)
		assert.Equal(t, "order", e.Resource)
		assert.Equal(t, "order-1", e.ResourceID)
		assert.Equal(t, audit.ResultSuccess, e.Result)
		assert.Equal(t, "12.50", e.Metadata["amount"])
		assert.Equal(t, now.UTC(), e.CreatedAt)
	})

	t.Run("explicit user wins over extractor", func(t *testing.T) {
		t.Parallel()
		store := &recorder{}
		l := audit.NewLogger(store, audit.WithUserIDExtractor(extract("user")))
		ctx := context.WithValue(context.Background(), ctxKey("user"), "from-context")

		require.NoError(t, l.Log(ctx, "order.paid", audit.WithUserID("explicit")))
		assert.Equal(t, "explicit", store.events[0].UserID)
	})

	t.Run("result can be overridden", func(t *testing.T) {
		t.Parallel()
		store := &recorder{}
		l := audit.NewLogger(store)

		require.NoError(t, l.Log(context.Background(), "order.error", audit.WithResult(audit.ResultFailure)))
		assert.Equal(t, audit.ResultFailure, store.events[0].Result)
	})

	t.Run("invalid events are not stored", func(t *testing.T) {
		t.Parallel()
		store := &recorder{}
		l := audit.NewLogger(store)

		err := l.Log(context.Background(), "")
		require.ErrorIs(t, err, audit.ErrEventValidation)

		err = l.Log(context.Background(), "order.paid", audit.WithResource("", "order-1"))
		require.ErrorIs(t, err, audit.ErrEventValidation)
		assert.Empty(t, store.events)
	})

	t.Run("storage errors are returned", func(t *testing.T) {
		t.Parallel()
		store := &recorder{err: audit.ErrStorageNotAvailable}
		l := audit.NewLogger(store)

		err := l.Log(context.Background(), "order.paid")
		assert.ErrorIs(t, err, audit.ErrStorageNotAvailable)
	})
}

func TestLogger_LogError(t *testing.T) {
	t.Parallel()
	store := &recorder{}
	l := audit.NewLogger(store)

	err := l.LogError(context.Background(), "refund.submit", errors.New("card_declined"),
		audit.WithResource("order", "order-2"))
	require.NoError(t, err)

	require.Len(t, store.events, 1)
	assert.Equal(t, audit.ResultError, store.events[0].Result)
	assert.Equal(t, "card_declined", store.events[0].Error)
}
