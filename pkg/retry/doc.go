// Package retry wraps calls to unreliable upstreams with bounded exponential
// backoff and a circuit breaker.
//
// Errors returned by the wrapped function are retried unless they are marked
// with Permanent. Permanent errors are returned as-is and count as successful
// calls for the breaker, so a burst of declined cards never opens the circuit
// on a healthy upstream.
//
//	r := retry.New(
//	    retry.WithMaxAttempts(4),
//	    retry.WithBreaker(retry.BreakerSettings{Name: "stripe", OpenTimeout: 30 * time.Second}),
//	)
//	pi, err := retry.Value(ctx, r, func(ctx context.Context) (*Payment, error) {
//	    return client.Get(ctx, id)
//	})
package retry
