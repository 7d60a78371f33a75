package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billing/pkg/audit"
	"github.com/dmitrymomot/billing/pkg/logger"
)

func (e *engine) RecurringPayment(ctx context.Context, userID, planID uuid.UUID) (*Order, error) {
	subs, err := e.store.ListSubscriptions(ctx, SubscriptionFilter{
		UserID:   &userID,
		PlanID:   &planID,
		Statuses: []SubscriptionStatus{SubscriptionActive},
	})
	if err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return nil, fmt.Errorf("%w: no active subscription to plan %s", ErrNotFound, planID)
	}

	o, _, err := e.renew(ctx, &subs[0], true)
	return o, err
}

// renew charges the cycle following sub. It reports whether a new renewal order
// was created; an existing live renewal of the same cycle is returned as is,
// except that one still in created is resubmitted. A cycle whose renewal was
// declined is charged again only when retryDeclined is set.
func (e *engine) renew(ctx context.Context, sub *UserSubscription, retryDeclined bool) (*Order, bool, error) {
	current, err := e.store.GetOrder(ctx, sub.OrderID)
	if err != nil {
		return nil, false, err
	}
	if current.Status != OrderPaid || current.Refund {
		return nil, false, fmt.Errorf("%w: subscription %s has no paid order", ErrNotFound, sub.ID)
	}

	if child, err := e.liveRenewal(ctx, current.ID); err != nil {
		return nil, false, err
	} else if child != nil {
		if child.Status != OrderCreated {
			return child, false, nil
		}
		return child, false, e.chargeRenewal(ctx, child)
	}

	if !retryDeclined {
		declined, err := e.store.ListOrders(ctx, OrderFilter{
			ParentID: &current.ID,
			Refund:   ptr(false),
			Statuses: []OrderStatus{OrderError},
			Limit:    1,
		})
		if err != nil {
			return nil, false, err
		}
		if len(declined) > 0 {
			e.log.DebugContext(ctx, "renewal skipped after decline",
				logger.OrderID(declined[0].ID), logger.UserID(current.UserID))
			return &declined[0], false, nil
		}
	}

	now := e.now()
	child := &Order{
		ID:            uuid.New(),
		UserID:        current.UserID,
		UserEmail:     current.UserEmail,
		Plan:          current.Plan,
		Status:        OrderCreated,
		PaymentSystem: current.PaymentSystem,
		Currency:      current.Currency,
		Discount:      current.Discount,
		TotalCost:     current.TotalCost,
		PaymentMethod: current.PaymentMethod,
		ParentID:      &current.ID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := e.store.CreateOrder(ctx, child); err != nil {
		if errors.Is(err, ErrConflict) {
			// Lost the race to a concurrent renewal of the same cycle.
			existing, lerr := e.liveRenewal(ctx, current.ID)
			if lerr == nil && existing != nil {
				return existing, false, nil
			}
		}
		return nil, false, err
	}

	e.log.InfoContext(ctx, "renewal order created",
		logger.OrderID(child.ID), logger.UserID(child.UserID), logger.PlanID(child.Plan.ID),
		slog.String("parent_id", current.ID.String()))

	return child, true, e.chargeRenewal(ctx, child)
}

func (e *engine) liveRenewal(ctx context.Context, parentID uuid.UUID) (*Order, error) {
	children, err := e.store.ListOrders(ctx, OrderFilter{
		ParentID: &parentID,
		Refund:   ptr(false),
		Statuses: liveOrderStatuses,
		Limit:    1,
	})
	if err != nil || len(children) == 0 {
		return nil, err
	}
	return &children[0], nil
}

// chargeRenewal submits an off-session charge. Processors usually settle these
// synchronously; a pending answer is left for the poll sweep.
func (e *engine) chargeRenewal(ctx context.Context, o *Order) error {
	payment, err := e.submitPayment(ctx, o)
	if err != nil {
		return err
	}

	switch payment.State {
	case PaymentSucceeded:
		_, err := e.completePayment(ctx, o)
		return err
	case PaymentFailed:
		reason := "processor status: " + payment.Status
		e.failOrder(ctx, o, OrderReject, reason)
		return fmt.Errorf("%w: %s", ErrGatewayRejected, reason)
	default:
		return nil
	}
}

// voidedRenewal is a prepaid next cycle taken back together with the cycle it
// renews. The refund is persisted but not yet submitted.
type voidedRenewal struct {
	renewal *Order
	sub     *UserSubscription
	refund  *Order
}

// voidRenewal gives back the renewal charged for the cycle paid by parentID: the
// renewal is refunded in full and its preactive row closed. A renewal still
// being charged is a conflict, the caller retries once it settles. Runs inside
// the caller's transaction.
func (e *engine) voidRenewal(ctx context.Context, parentID uuid.UUID, now time.Time) (*voidedRenewal, error) {
	child, err := e.liveRenewal(ctx, parentID)
	if err != nil || child == nil {
		return nil, err
	}
	if child.Status != OrderPaid {
		return nil, fmt.Errorf("%w: renewal %s is still being charged", ErrConflict, child.ID)
	}

	subs, err := e.store.ListSubscriptions(ctx, SubscriptionFilter{
		OrderID:  &child.ID,
		Statuses: []SubscriptionStatus{SubscriptionPreactive},
	})
	if err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		// Already voided, or refunded when it was paid.
		return nil, nil
	}
	sub := &subs[0]

	next, err := NextSubscriptionStatus(ctx, sub, SubscriptionVoid)
	if err != nil {
		return nil, err
	}
	refund := newRefundOrder(child, child.TotalCost, now)
	if err := e.store.CreateOrder(ctx, refund); err != nil {
		return nil, err
	}
	if err := e.store.UpdateSubscription(ctx, sub.ID, []SubscriptionStatus{sub.Status}, SubscriptionPatch{
		Status:            &next,
		RefundRequestedAt: &now,
	}); err != nil {
		return nil, err
	}
	return &voidedRenewal{renewal: child, sub: sub, refund: refund}, nil
}

// settleVoided reports a committed void and submits its refund. A submission
// failure leaves the refund created for the refunds sweep.
func (e *engine) settleVoided(ctx context.Context, v *voidedRenewal) {
	if v == nil {
		return
	}
	e.metrics.transition("subscription", string(v.sub.Status), string(SubscriptionInactive))
	e.recordSubscription(ctx, v.sub, SubscriptionInactive)
	v.sub.Status = SubscriptionInactive
	e.record(ctx, "refund.requested", v.refund.UserID,
		audit.WithResource("order", v.refund.ID.String()),
		audit.WithMetadata("subscription_id", v.sub.ID.String()),
		audit.WithMetadata("amount", v.refund.TotalCost.StringFixed(2)))

	e.log.InfoContext(ctx, "prepaid renewal voided",
		logger.OrderID(v.renewal.ID), logger.SubscriptionID(v.sub.ID), logger.UserID(v.sub.UserID),
		slog.String("refund_id", v.refund.ID.String()))

	_, _ = e.submitRefund(ctx, v.refund, v.renewal.ExternalID)
}
