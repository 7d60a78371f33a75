package retry

import "errors"

var (
	ErrAttemptsExhausted = errors.New("retry: attempts exhausted")
	ErrCircuitOpen       = errors.New("retry: circuit breaker is open")
)

// permanentError marks a failure that must not be retried and must not count
// against the circuit breaker: a declined card or a 4xx from an upstream.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so Do returns it immediately. Nil stays nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err, or anything it wraps, was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// IsCircuitOpen reports whether the call was short-circuited by an open breaker.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, ErrCircuitOpen)
}
