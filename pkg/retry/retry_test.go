package retry_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billing/pkg/retry"
)

var errUpstream = errors.New("upstream is down")

func TestExponentialBackoff(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		backoff  retry.ExponentialBackoff
		attempts []int
		want     []time.Duration
	}{
		{
			name:     "default values",
			backoff:  retry.ExponentialBackoff{},
			attempts: []int{1, 2, 3},
			want:     []time.Duration{200 * time.Millisecond, 400 * time.Millisecond, 800 * time.Millisecond},
		},
		{
			name: "capped",
			backoff: retry.ExponentialBackoff{
				InitialInterval: time.Second,
				MaxInterval:     3 * time.Second,
				Multiplier:      2,
			},
			attempts: []int{1, 2, 3, 4},
			want:     []time.Duration{time.Second, 2 * time.Second, 3 * time.Second, 3 * time.Second},
		},
		{
			name:     "non positive attempt",
			backoff:  retry.ExponentialBackoff{},
			attempts: []int{0, -3},
			want:     []time.Duration{0, 0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			for i, attempt := range tt.attempts {
				assert.Equal(t, tt.want[i], tt.backoff.NextInterval(attempt), "attempt %d", attempt)
			}
		})
	}
}

func TestExponentialBackoffJitter(t *testing.T) {
	t.Parallel()

	b := retry.ExponentialBackoff{InitialInterval: time.Second, JitterFactor: 0.5}
	for range 50 {
		got := b.NextInterval(1)
		assert.GreaterOrEqual(t, got, 500*time.Millisecond)
		assert.LessOrEqual(t, got, 1500*time.Millisecond)
	}
}

func TestRetrierDo(t *testing.T) {
	t.Parallel()

	fast := retry.WithBackoff(retry.ConstantBackoff(time.Millisecond))

	t.Run("succeeds after transient failures", func(t *testing.T) {
		t.Parallel()
		var calls atomic.Int32
		r := retry.New(retry.WithMaxAttempts(3), fast)

		err := r.Do(context.Background(), func(context.Context) error {
			if calls.Add(1) < 3 {
				return errUpstream
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("exhausts attempts", func(t *testing.T) {
		t.Parallel()
		var calls atomic.Int32
		r := retry.New(retry.WithMaxAttempts(2), fast)

		err := r.Do(context.Background(), func(context.Context) error {
			calls.Add(1)
			return errUpstream
		})
		require.ErrorIs(t, err, retry.ErrAttemptsExhausted)
		require.ErrorIs(t, err, errUpstream)
		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("permanent error stops immediately", func(t *testing.T) {
		t.Parallel()
		var calls atomic.Int32
		declined := errors.New("card declined")
		r := retry.New(retry.WithMaxAttempts(5), fast)

		err := r.Do(context.Background(), func(context.Context) error {
			calls.Add(1)
			return retry.Permanent(declined)
		})
		require.ErrorIs(t, err, declined)
		assert.True(t, retry.IsPermanent(err))
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("context cancellation stops waiting", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithCancel(context.Background())
		r := retry.New(retry.WithMaxAttempts(5), retry.WithBackoff(retry.ConstantBackoff(time.Hour)))

		err := r.Do(ctx, func(context.Context) error {
			cancel()
			return errUpstream
		})
		require.ErrorIs(t, err, context.Canceled)
	})

	t.Run("on retry hook", func(t *testing.T) {
		t.Parallel()
		var hooks []int
		r := retry.New(
			retry.WithMaxAttempts(3),
			fast,
			retry.WithOnRetry(func(attempt int, _ time.Duration, err error) {
				hooks = append(hooks, attempt)
				assert.ErrorIs(t, err, errUpstream)
			}),
		)

		_ = r.Do(context.Background(), func(context.Context) error { return errUpstream })
		assert.Equal(t, []int{1, 2}, hooks)
	})

	t.Run("permanent nil", func(t *testing.T) {
		t.Parallel()
		assert.NoError(t, retry.Permanent(nil))
	})
}

func TestRetrierBreaker(t *testing.T) {
	t.Parallel()

	t.Run("opens after consecutive failures", func(t *testing.T) {
		t.Parallel()
		var transitions []string
		r := retry.New(
			retry.WithMaxAttempts(1),
			retry.WithBreaker(retry.BreakerSettings{
				Name:             "test",
				FailureThreshold: 2,
				OpenTimeout:      time.Minute,
				OnStateChange: func(_ string, from, to string) {
					transitions = append(transitions, from+"->"+to)
				},
			}),
		)

		for range 2 {
			err := r.Do(context.Background(), func(context.Context) error { return errUpstream })
			require.ErrorIs(t, err, errUpstream)
		}

		var calls int
		err := r.Do(context.Background(), func(context.Context) error {
			calls++
			return nil
		})
		require.Error(t, err)
		assert.True(t, retry.IsCircuitOpen(err))
		assert.Zero(t, calls)
		assert.Equal(t, []string{"closed->open"}, transitions)
	})

	t.Run("permanent errors keep circuit closed", func(t *testing.T) {
		t.Parallel()
		r := retry.New(
			retry.WithMaxAttempts(1),
			retry.WithBreaker(retry.BreakerSettings{Name: "declines", FailureThreshold: 1, OpenTimeout: time.Minute}),
		)

		for range 3 {
			err := r.Do(context.Background(), func(context.Context) error {
				return retry.Permanent(errors.New("declined"))
			})
			require.True(t, retry.IsPermanent(err))
		}

		err := r.Do(context.Background(), func(context.Context) error { return nil })
		require.NoError(t, err)
	})
}

func TestValue(t *testing.T) {
	t.Parallel()

	var calls int
	r := retry.New(retry.WithMaxAttempts(2), retry.WithBackoff(retry.ConstantBackoff(time.Millisecond)))
	got, err := retry.Value(context.Background(), r, func(context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", errUpstream
		}
		return "pi_123", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "pi_123", got)
}
