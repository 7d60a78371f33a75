package api

import (
	"errors"
	"net/http"

	"github.com/dmitrymomot/billing/internal/billing"
	"github.com/dmitrymomot/billing/pkg/handler"
	"github.com/dmitrymomot/billing/pkg/jwt"
)

var (
	errGatewayRejected       = handler.NewHTTPError(http.StatusPaymentRequired, "payment_rejected")
	errGatewayUnavailable    = handler.NewHTTPError(http.StatusServiceUnavailable, "gateway_unavailable")
	errCapabilityUnavailable = handler.NewHTTPError(http.StatusServiceUnavailable, "capability_unavailable")
	errNoRefundDue           = handler.NewHTTPError(http.StatusUnprocessableEntity, "no_refund_due")
	errInvalidTransition     = handler.NewHTTPError(http.StatusConflict, "invalid_state")
)

// mapError translates billing and auth errors to HTTP errors. The original
// error stays in the chain for logging.
func mapError(err error) error {
	var target handler.HTTPError
	switch {
	case errors.As(err, &target):
		return err
	case errors.Is(err, billing.ErrNotFound):
		target = handler.ErrNotFound
	case errors.Is(err, billing.ErrConflict), errors.Is(err, billing.ErrStaleState):
		target = handler.ErrConflict
	case errors.Is(err, billing.ErrInvalidTransition):
		target = errInvalidTransition
	case errors.Is(err, billing.ErrNoRefundDue):
		target = errNoRefundDue
	case errors.Is(err, billing.ErrGatewayRejected):
		target = errGatewayRejected
	case errors.Is(err, billing.ErrGatewayUnavailable):
		target = errGatewayUnavailable
	case errors.Is(err, billing.ErrCapabilityUnavailable):
		target = errCapabilityUnavailable
	case errors.Is(err, jwt.ErrMissingToken), errors.Is(err, jwt.ErrInvalidToken),
		errors.Is(err, jwt.ErrExpiredToken), errors.Is(err, jwt.ErrInvalidSubject):
		target = handler.ErrUnauthorized
	default:
		return err
	}
	return errors.Join(target, err)
}
