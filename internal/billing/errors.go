package billing

import "errors"

var (
	// ErrConflict means the request would break a per-user uniqueness rule:
	// a second entitling subscription or a second open order.
	ErrConflict = errors.New("billing: conflict")
	// ErrNotFound means a precondition entity (plan, order, subscription) is absent.
	ErrNotFound = errors.New("billing: not found")
	// ErrGatewayUnavailable is a transient processor failure that outlived the retry budget.
	ErrGatewayUnavailable = errors.New("billing: payment gateway unavailable")
	// ErrGatewayRejected is a terminal answer from the processor (declined card, invalid refund).
	ErrGatewayRejected = errors.New("billing: payment gateway rejected the request")
	// ErrNoRefundDue means the subscription already lapsed.
	ErrNoRefundDue = errors.New("billing: no refund due")
	// ErrInvalidTransition means the entity is not in a state that allows the change.
	ErrInvalidTransition = errors.New("billing: invalid state transition")
	// ErrStaleState means another writer changed the row between read and write.
	ErrStaleState = errors.New("billing: state changed concurrently")
	// ErrCapabilityUnavailable means the role service could not be reached.
	ErrCapabilityUnavailable = errors.New("billing: capability service unavailable")
)
