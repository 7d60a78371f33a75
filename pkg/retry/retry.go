package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"
)

// Retrier runs a call with bounded retries and an optional circuit breaker in front of it.
// A Retrier is safe for concurrent use; one instance should be shared per upstream so the
// breaker sees all traffic.
type Retrier struct {
	maxAttempts int
	backoff     Backoff
	breaker     *gobreaker.CircuitBreaker[any]
	onRetry     func(attempt int, delay time.Duration, err error)
}

// Option configures a Retrier.
type Option func(*Retrier)

// WithMaxAttempts sets the total number of attempts including the first one.
func WithMaxAttempts(n int) Option {
	return func(r *Retrier) {
		if n > 0 {
			r.maxAttempts = n
		}
	}
}

// WithBackoff overrides the delay strategy.
func WithBackoff(b Backoff) Option {
	return func(r *Retrier) {
		if b != nil {
			r.backoff = b
		}
	}
}

// BreakerSettings configures the circuit breaker. Permanent errors are reported to
// the breaker as successes: the upstream answered, it just said no.
type BreakerSettings struct {
	Name             string
	FailureThreshold uint32        // consecutive failures that open the circuit
	OpenTimeout      time.Duration // how long the circuit stays open before probing
	HalfOpenRequests uint32
	OnStateChange    func(name string, from, to string)
}

// WithBreaker puts a gobreaker circuit in front of every attempt.
func WithBreaker(s BreakerSettings) Option {
	return func(r *Retrier) {
		threshold := s.FailureThreshold
		if threshold == 0 {
			threshold = 5
		}
		halfOpen := s.HalfOpenRequests
		if halfOpen == 0 {
			halfOpen = 1
		}

		settings := gobreaker.Settings{
			Name:        s.Name,
			MaxRequests: halfOpen,
			Timeout:     s.OpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			IsSuccessful: func(err error) bool {
				return err == nil || IsPermanent(err) || errors.Is(err, context.Canceled)
			},
		}
		if s.OnStateChange != nil {
			settings.OnStateChange = func(name string, from, to gobreaker.State) {
				s.OnStateChange(name, from.String(), to.String())
			}
		}
		r.breaker = gobreaker.NewCircuitBreaker[any](settings)
	}
}

// WithOnRetry registers a hook invoked before each retry sleep.
func WithOnRetry(fn func(attempt int, delay time.Duration, err error)) Option {
	return func(r *Retrier) {
		r.onRetry = fn
	}
}

// New creates a Retrier. Defaults: 3 attempts, DefaultBackoff, no breaker.
func New(opts ...Option) *Retrier {
	r := &Retrier{
		maxAttempts: 3,
		backoff:     DefaultBackoff(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Do calls fn until it succeeds, returns a permanent error, the breaker opens,
// ctx is done, or attempts run out.
func (r *Retrier) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		if attempt > 1 {
			delay := r.backoff.NextInterval(attempt - 1)
			if r.onRetry != nil {
				r.onRetry(attempt-1, delay, lastErr)
			}
			select {
			case <-ctx.Done():
				return errors.Join(ctx.Err(), lastErr)
			case <-time.After(delay):
			}
		}

		err := r.call(ctx, fn)
		if err == nil {
			return nil
		}
		if IsPermanent(err) || IsCircuitOpen(err) {
			return err
		}
		if ctx.Err() != nil {
			return errors.Join(ctx.Err(), err)
		}
		lastErr = err
	}

	return fmt.Errorf("%w after %d attempts: %w", ErrAttemptsExhausted, r.maxAttempts, lastErr)
}

func (r *Retrier) call(ctx context.Context, fn func(ctx context.Context) error) error {
	if r.breaker == nil {
		return fn(ctx)
	}

	_, err := r.breaker.Execute(func() (any, error) {
		return nil, fn(ctx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return errors.Join(ErrCircuitOpen, err)
	}
	return err
}

// Value is Do for calls that produce a result.
func Value[T any](ctx context.Context, r *Retrier, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := r.Do(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
