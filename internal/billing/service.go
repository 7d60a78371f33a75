package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dmitrymomot/billing/pkg/audit"
	"github.com/dmitrymomot/billing/pkg/logger"
)

// Service holds the user-facing operations of the order/subscription state machine.
type Service interface {
	ListPlans(ctx context.Context) ([]Plan, error)

	// CreateSubscriptionPayment registers the card with the processor, records a
	// new order and submits the charge. The subscription itself is created once
	// reconciliation sees the payment succeed.
	CreateSubscriptionPayment(ctx context.Context, p Principal, planID uuid.UUID, card Card) (*Order, error)
	// ConfirmSubscriptionPayment forwards a confirmation for the caller's in-progress
	// order to the processor. It does not change local state.
	ConfirmSubscriptionPayment(ctx context.Context, p Principal, paymentID string) (*Order, error)
	// RefundSubscription refunds the unused part of the caller's current
	// subscription and ends it immediately.
	RefundSubscription(ctx context.Context, p Principal) (*Order, error)
	// CancelSubscription turns off auto-renewal. The subscription stays in force until its end date.
	CancelSubscription(ctx context.Context, p Principal) (*UserSubscription, error)

	ListUserOrders(ctx context.Context, userID uuid.UUID) ([]Order, error)
	ListUserSubscriptions(ctx context.Context, userID uuid.UUID) ([]UserSubscription, error)
}

// engine implements both Service and Reconciler over the same dependencies so
// that request handlers and sweeps go through identical transition code.
type engine struct {
	store    Store
	gateway  Gateway
	caps     Capabilities
	log      *slog.Logger
	now      func() time.Time
	cfg      Config
	metrics  *Metrics
	auditLog *audit.Logger
}

func newEngine(store Store, gateway Gateway, caps Capabilities, opts ...Option) *engine {
	if store == nil {
		panic("billing: store is required")
	}
	if gateway == nil {
		panic("billing: gateway is required")
	}
	if caps == nil {
		panic("billing: capabilities client is required")
	}

	e := &engine{
		store:   store,
		gateway: gateway,
		caps:    caps,
		log:     slog.Default(),
		now:     time.Now,
		cfg:     DefaultConfig(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.With(logger.Component("billing"))
	return e
}

// NewService builds the user-facing state machine. It panics on nil dependencies.
func NewService(store Store, gateway Gateway, caps Capabilities, opts ...Option) Service {
	return newEngine(store, gateway, caps, opts...)
}

// liveOrderStatuses are the order statuses that still count against per-parent uniqueness.
var liveOrderStatuses = []OrderStatus{OrderCreated, OrderProgress, OrderPaid}

func (e *engine) today() time.Time {
	return Date(e.now())
}

func (e *engine) ListPlans(ctx context.Context) ([]Plan, error) {
	return e.store.ListPlans(ctx)
}

func (e *engine) ListUserOrders(ctx context.Context, userID uuid.UUID) ([]Order, error) {
	return e.store.ListOrders(ctx, OrderFilter{UserID: &userID, NewestFirst: true})
}

func (e *engine) ListUserSubscriptions(ctx context.Context, userID uuid.UUID) ([]UserSubscription, error) {
	return e.store.ListSubscriptions(ctx, SubscriptionFilter{UserID: &userID})
}

func (e *engine) CreateSubscriptionPayment(ctx context.Context, p Principal, planID uuid.UUID, card Card) (*Order, error) {
	plan, err := e.store.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}

	// Fail fast before touching the processor; the same check runs again
	// inside the transaction below, backed by unique indexes.
	if err := e.checkCanPurchase(ctx, p.UserID); err != nil {
		return nil, err
	}

	method, err := e.registerPaymentMethod(ctx, p, card)
	if err != nil {
		return nil, err
	}

	now := e.now()
	order := &Order{
		ID:            uuid.New(),
		UserID:        p.UserID,
		UserEmail:     p.Email,
		Plan:          *plan,
		Status:        OrderCreated,
		PaymentSystem: PaymentSystemStripe,
		Currency:      plan.Currency,
		TotalCost:     DiscountedPrice(plan.Price, 0),
		PaymentMethod: method,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err = e.store.InTx(ctx, func(ctx context.Context) error {
		if err := e.checkCanPurchase(ctx, p.UserID); err != nil {
			return err
		}
		if err := e.store.CreatePaymentMethod(ctx, method); err != nil {
			return err
		}
		return e.store.CreateOrder(ctx, order)
	})
	if err != nil {
		return nil, err
	}

	e.log.InfoContext(ctx, "order created",
		logger.OrderID(order.ID), logger.UserID(p.UserID), logger.PlanID(plan.ID))

	if _, err := e.submitPayment(ctx, order); err != nil {
		return order, err
	}
	return order, nil
}

// checkCanPurchase enforces one subscription and one open order per user. A
// prepaid cycle that has not started yet counts as a subscription.
func (e *engine) checkCanPurchase(ctx context.Context, userID uuid.UUID) error {
	subs, err := e.store.ListSubscriptions(ctx, SubscriptionFilter{
		UserID:   &userID,
		Statuses: []SubscriptionStatus{SubscriptionActive, SubscriptionCanceled, SubscriptionPreactive},
	})
	if err != nil {
		return err
	}
	if len(subs) > 0 {
		last := subs[len(subs)-1]
		return fmt.Errorf("%w: user already holds a subscription until %s", ErrConflict, last.EndDate.Format(time.DateOnly))
	}

	orders, err := e.store.ListOrders(ctx, OrderFilter{
		UserID:   &userID,
		Refund:   ptr(false),
		Statuses: []OrderStatus{OrderCreated, OrderProgress},
		Limit:    1,
	})
	if err != nil {
		return err
	}
	if len(orders) > 0 {
		return fmt.Errorf("%w: order %s is still being processed", ErrConflict, orders[0].ID)
	}
	return nil
}

// registerPaymentMethod creates the method at the processor and attaches it to the
// user's processor customer, reusing the customer from an earlier checkout.
func (e *engine) registerPaymentMethod(ctx context.Context, p Principal, card Card) (*PaymentMethod, error) {
	ref, err := e.gateway.CreatePaymentMethod(ctx, card)
	if err != nil {
		return nil, err
	}

	var customerID string
	if prev, err := e.store.LastPaymentMethod(ctx, p.UserID); err == nil && prev.CustomerID != "" {
		customerID = prev.CustomerID
	} else if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	if customerID == "" {
		customer, err := e.gateway.CreateCustomer(ctx, p.UserID, p.Email)
		if err != nil {
			return nil, err
		}
		customerID = customer.ID
	}

	if err := e.gateway.AttachPaymentMethod(ctx, ref.ID, customerID); err != nil {
		return nil, err
	}

	return &PaymentMethod{
		ID:         uuid.New(),
		UserID:     p.UserID,
		ExternalID: ref.ID,
		Type:       ref.Type,
		CustomerID: customerID,
		CreatedAt:  e.now(),
	}, nil
}

// submitPayment sends a created order to the processor and records the external id.
// The order id is the idempotency key, so resubmitting a created order after a
// crash or timeout returns the original payment.
func (e *engine) submitPayment(ctx context.Context, o *Order) (*Payment, error) {
	if o.PaymentMethod == nil {
		return nil, fmt.Errorf("%w: order %s has no payment method", ErrNotFound, o.ID)
	}

	req := PaymentRequest{
		IdempotencyKey: o.ID.String(),
		CustomerID:     o.PaymentMethod.CustomerID,
		MethodID:       o.PaymentMethod.ExternalID,
		Amount:         ToSubunits(o.TotalCost),
		Currency:       o.Currency,
		ReceiptEmail:   o.UserEmail,
		Metadata: map[string]string{
			"order_id": o.ID.String(),
			"user_id":  o.UserID.String(),
			"plan_id":  o.Plan.ID.String(),
		},
	}

	var (
		payment *Payment
		err     error
	)
	if o.IsRenewal() {
		payment, err = e.gateway.CreateRecurrentPayment(ctx, req)
	} else {
		payment, err = e.gateway.CreatePayment(ctx, req)
	}
	if err != nil {
		if errors.Is(err, ErrGatewayRejected) {
			e.failOrder(ctx, o, OrderReject, err.Error())
		} else {
			e.log.WarnContext(ctx, "payment submission failed, order left for reconciliation",
				logger.OrderID(o.ID), logger.Error(err))
		}
		return nil, err
	}

	if err := e.transitionOrder(ctx, o, OrderSubmit, OrderPatch{ExternalID: &payment.ID}); err != nil {
		return nil, err
	}
	return payment, nil
}

func (e *engine) ConfirmSubscriptionPayment(ctx context.Context, p Principal, paymentID string) (*Order, error) {
	orders, err := e.store.ListOrders(ctx, OrderFilter{
		UserID:     &p.UserID,
		Refund:     ptr(false),
		Statuses:   []OrderStatus{OrderProgress},
		ExternalID: paymentID,
		Limit:      1,
	})
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return nil, fmt.Errorf("%w: no payment %q in progress", ErrNotFound, paymentID)
	}

	order := &orders[0]
	if order.PaymentMethod == nil {
		return nil, fmt.Errorf("%w: order %s has no payment method", ErrNotFound, order.ID)
	}

	if err := e.gateway.ConfirmPayment(ctx, order.ExternalID, order.PaymentMethod.ExternalID); err != nil {
		return nil, err
	}

	e.log.InfoContext(ctx, "payment confirmation forwarded",
		logger.OrderID(order.ID), logger.ExternalID(order.ExternalID))
	return order, nil
}

func (e *engine) RefundSubscription(ctx context.Context, p Principal) (*Order, error) {
	sub, paid, err := e.refundableSubscription(ctx, p.UserID)
	if err != nil {
		return nil, err
	}

	amount, ok := RefundAmount(sub.EndDate, paid.TotalCost, sub.Plan.Period, e.today())
	if !ok || !amount.IsPositive() {
		return nil, fmt.Errorf("%w: subscription ends %s", ErrNoRefundDue, sub.EndDate.Format(time.DateOnly))
	}

	next, err := NextSubscriptionStatus(ctx, sub, SubscriptionRefund)
	if err != nil {
		return nil, err
	}

	now := e.now()
	refund := newRefundOrder(paid, amount, now)

	// Entitlement ends now; refund_confirmed_at is set once the processor agrees.
	// A next cycle that was already charged is given back with it.
	var voided *voidedRenewal
	err = e.store.InTx(ctx, func(ctx context.Context) error {
		var err error
		if voided, err = e.voidRenewal(ctx, paid.ID, now); err != nil {
			return err
		}
		if err := e.store.CreateOrder(ctx, refund); err != nil {
			return err
		}
		return e.store.UpdateSubscription(ctx, sub.ID, []SubscriptionStatus{sub.Status}, SubscriptionPatch{
			Status:            &next,
			RefundRequestedAt: &now,
		})
	})
	if err != nil {
		if errors.Is(err, ErrStaleState) {
			return nil, fmt.Errorf("%w: subscription changed while refunding", ErrConflict)
		}
		return nil, err
	}
	e.metrics.transition("subscription", string(sub.Status), string(next))
	e.recordSubscription(ctx, sub, next)
	e.record(ctx, "refund.requested", refund.UserID,
		audit.WithResource("order", refund.ID.String()),
		audit.WithMetadata("subscription_id", sub.ID.String()),
		audit.WithMetadata("amount", amount.StringFixed(2)))

	e.log.InfoContext(ctx, "refund requested",
		logger.OrderID(refund.ID), logger.SubscriptionID(sub.ID), logger.UserID(p.UserID),
		slog.String("amount", amount.StringFixed(2)))

	_ = e.revokeUnlessEntitled(ctx, p.UserID, sub.Plan.Tier)

	e.settleVoided(ctx, voided)
	if _, err := e.submitRefund(ctx, refund, paid.ExternalID); err != nil {
		return refund, err
	}
	return refund, nil
}

// newRefundOrder builds a created refund of amount against the paid order.
func newRefundOrder(paid *Order, amount decimal.Decimal, now time.Time) *Order {
	return &Order{
		ID:            uuid.New(),
		UserID:        paid.UserID,
		UserEmail:     paid.UserEmail,
		Plan:          paid.Plan,
		Status:        OrderCreated,
		PaymentSystem: paid.PaymentSystem,
		Currency:      paid.Currency,
		TotalCost:     amount,
		PaymentMethod: paid.PaymentMethod,
		Refund:        true,
		ParentID:      &paid.ID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// refundableSubscription finds the caller's entitling subscription together with
// the paid, not yet refunded order behind it.
func (e *engine) refundableSubscription(ctx context.Context, userID uuid.UUID) (*UserSubscription, *Order, error) {
	subs, err := e.store.ListSubscriptions(ctx, SubscriptionFilter{
		UserID:   &userID,
		Statuses: []SubscriptionStatus{SubscriptionActive, SubscriptionCanceled},
	})
	if err != nil {
		return nil, nil, err
	}
	if len(subs) == 0 {
		return nil, nil, fmt.Errorf("%w: no active subscription", ErrNotFound)
	}
	sub := &subs[0]

	paid, err := e.store.GetOrder(ctx, sub.OrderID)
	if err != nil {
		return nil, nil, err
	}
	if paid.Status != OrderPaid || paid.Refund || paid.ExternalID == "" {
		return nil, nil, fmt.Errorf("%w: no paid order for subscription %s", ErrNotFound, sub.ID)
	}

	refunds, err := e.store.ListOrders(ctx, OrderFilter{
		ParentID: &paid.ID,
		Refund:   ptr(true),
		Statuses: liveOrderStatuses,
		Limit:    1,
	})
	if err != nil {
		return nil, nil, err
	}
	if len(refunds) > 0 {
		return nil, nil, fmt.Errorf("%w: order %s was already refunded", ErrNotFound, paid.ID)
	}

	return sub, paid, nil
}

// submitRefund sends a created refund order to the processor.
func (e *engine) submitRefund(ctx context.Context, o *Order, paymentID string) (*Refund, error) {
	refund, err := e.gateway.CreateRefund(ctx, RefundRequest{
		IdempotencyKey: o.ID.String(),
		PaymentID:      paymentID,
		Amount:         ToSubunits(o.TotalCost),
		Metadata: map[string]string{
			"order_id": o.ID.String(),
			"user_id":  o.UserID.String(),
		},
	})
	if err != nil {
		if errors.Is(err, ErrGatewayRejected) {
			e.failOrder(ctx, o, OrderReject, err.Error())
		} else {
			e.log.WarnContext(ctx, "refund submission failed, order left for reconciliation",
				logger.OrderID(o.ID), logger.Error(err))
		}
		return nil, err
	}

	if err := e.transitionOrder(ctx, o, OrderSubmit, OrderPatch{ExternalID: &refund.ID}); err != nil {
		return nil, err
	}
	return refund, nil
}

func (e *engine) CancelSubscription(ctx context.Context, p Principal) (*UserSubscription, error) {
	subs, err := e.store.ListSubscriptions(ctx, SubscriptionFilter{
		UserID:    &p.UserID,
		Statuses:  []SubscriptionStatus{SubscriptionActive},
		Automatic: ptr(true),
	})
	if err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return nil, fmt.Errorf("%w: no active auto-renewing subscription", ErrNotFound)
	}

	sub := &subs[0]
	next, err := NextSubscriptionStatus(ctx, sub, SubscriptionCancel)
	if err != nil {
		return nil, err
	}

	// The current cycle runs out; a next cycle charged ahead of time is given back.
	var voided *voidedRenewal
	err = e.store.InTx(ctx, func(ctx context.Context) error {
		var err error
		if voided, err = e.voidRenewal(ctx, sub.OrderID, e.now()); err != nil {
			return err
		}
		return e.store.UpdateSubscription(ctx, sub.ID, []SubscriptionStatus{sub.Status}, SubscriptionPatch{Status: &next})
	})
	if err != nil {
		if errors.Is(err, ErrStaleState) {
			return nil, fmt.Errorf("%w: subscription changed while canceling", ErrConflict)
		}
		return nil, err
	}
	e.metrics.transition("subscription", string(sub.Status), string(next))
	e.recordSubscription(ctx, sub, next)
	sub.Status = next
	sub.UpdatedAt = e.now()

	e.log.InfoContext(ctx, "subscription canceled",
		logger.SubscriptionID(sub.ID), logger.UserID(p.UserID))

	e.settleVoided(ctx, voided)
	return sub, nil
}

// transitionOrder validates event against the order table and persists the result
// with a compare-and-set on the current status. o is updated in place on success.
func (e *engine) transitionOrder(ctx context.Context, o *Order, event OrderEvent, patch OrderPatch) error {
	next, err := NextOrderStatus(ctx, o, event)
	if err != nil {
		return err
	}
	patch.Status = &next

	if err := e.store.UpdateOrder(ctx, o.ID, o.Status, patch); err != nil {
		return err
	}

	e.metrics.transition("order", string(o.Status), string(next))
	e.log.DebugContext(ctx, "order transition",
		logger.OrderID(o.ID), logger.Status(string(o.Status), string(next)))

	prev := o.Status
	o.Status = next
	if patch.ExternalID != nil {
		o.ExternalID = *patch.ExternalID
	}
	if patch.PollAttempts != nil {
		o.PollAttempts = *patch.PollAttempts
	}
	if patch.FailureReason != nil {
		o.FailureReason = *patch.FailureReason
	}
	o.UpdatedAt = e.now()
	e.recordOrder(ctx, o, prev)
	return nil
}

// failOrder moves an order to error. Failures are logged, never returned: the
// caller is already reporting the processor error that caused this.
func (e *engine) failOrder(ctx context.Context, o *Order, event OrderEvent, reason string) {
	if err := e.transitionOrder(ctx, o, event, OrderPatch{FailureReason: &reason}); err != nil {
		e.log.ErrorContext(ctx, "failed to mark order as error",
			logger.OrderID(o.ID), logger.Error(err))
		return
	}
	e.log.ErrorContext(ctx, "order failed",
		logger.OrderID(o.ID), logger.ExternalID(o.ExternalID), slog.String("reason", reason))
}

func (e *engine) grant(ctx context.Context, userID uuid.UUID, tier Tier) error {
	err := e.caps.Grant(ctx, userID, tier.Role())
	e.metrics.capabilityCall("grant", err)
	if err != nil {
		e.log.ErrorContext(ctx, "failed to grant role",
			logger.UserID(userID), logger.Role(tier.Role()), logger.Error(err))
	}
	return err
}

// revokeUnlessEntitled revokes the tier role unless the user still holds another
// entitling subscription of the same tier.
func (e *engine) revokeUnlessEntitled(ctx context.Context, userID uuid.UUID, tier Tier) error {
	subs, err := e.store.ListSubscriptions(ctx, SubscriptionFilter{
		UserID:   &userID,
		Statuses: []SubscriptionStatus{SubscriptionActive, SubscriptionCanceled},
	})
	if err != nil {
		e.log.ErrorContext(ctx, "failed to check entitlements before revoke",
			logger.UserID(userID), logger.Error(err))
		return err
	}
	for _, s := range subs {
		if s.Plan.Tier == tier {
			return nil
		}
	}

	err = e.caps.Revoke(ctx, userID, tier.Role())
	e.metrics.capabilityCall("revoke", err)
	if err != nil {
		e.log.ErrorContext(ctx, "failed to revoke role",
			logger.UserID(userID), logger.Role(tier.Role()), logger.Error(err))
	}
	return err
}
