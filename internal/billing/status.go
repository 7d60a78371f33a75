package billing

import (
	"context"
	"errors"

	"github.com/dmitrymomot/billing/pkg/statemachine"
)

// OrderStatus is the lifecycle state of an Order.
type OrderStatus string

const (
	OrderCreated  OrderStatus = "created"  // persisted, not yet accepted by the processor
	OrderProgress OrderStatus = "progress" // accepted by the processor, awaiting confirmation
	OrderPaid     OrderStatus = "paid"
	OrderError    OrderStatus = "error"
)

// OrderEvent drives Order transitions.
type OrderEvent string

const (
	OrderSubmit  OrderEvent = "submit"  // processor accepted the payment or refund
	OrderConfirm OrderEvent = "confirm" // processor reports success
	OrderReject  OrderEvent = "reject"  // processor reports a terminal failure
	OrderExhaust OrderEvent = "exhaust" // poll budget spent without a final answer
)

// SubscriptionStatus is the lifecycle state of a UserSubscription.
type SubscriptionStatus string

const (
	SubscriptionPreactive SubscriptionStatus = "preactive" // paid, starts on start_date
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionCanceled  SubscriptionStatus = "canceled" // entitled until end_date, will not renew
	SubscriptionInactive  SubscriptionStatus = "inactive"
)

// Entitled reports whether the status confers the tier capability.
func (s SubscriptionStatus) Entitled() bool {
	return s == SubscriptionActive || s == SubscriptionCanceled
}

// SubscriptionEvent drives UserSubscription transitions.
type SubscriptionEvent string

const (
	SubscriptionActivate SubscriptionEvent = "activate"
	SubscriptionCancel   SubscriptionEvent = "cancel"
	SubscriptionExpire   SubscriptionEvent = "expire"
	SubscriptionRefund   SubscriptionEvent = "refund"
	SubscriptionVoid     SubscriptionEvent = "void" // prepaid cycle dropped before it started
)

var orderTransitions = statemachine.MustNew(
	statemachine.WithTransition(OrderCreated, OrderSubmit, OrderProgress),
	statemachine.WithTransition(OrderProgress, OrderConfirm, OrderPaid),
	statemachine.WithTransitions([]OrderStatus{OrderCreated, OrderProgress}, OrderReject, OrderError),
	statemachine.WithTransitions([]OrderStatus{OrderCreated, OrderProgress}, OrderExhaust, OrderError),
)

var subscriptionTransitions = statemachine.MustNew(
	statemachine.WithTransition(SubscriptionPreactive, SubscriptionActivate, SubscriptionActive),
	statemachine.WithTransition(SubscriptionActive, SubscriptionCancel, SubscriptionCanceled, automaticOnly),
	statemachine.WithTransitions(
		[]SubscriptionStatus{SubscriptionActive, SubscriptionCanceled},
		SubscriptionExpire, SubscriptionInactive,
	),
	statemachine.WithTransitions(
		[]SubscriptionStatus{SubscriptionActive, SubscriptionCanceled},
		SubscriptionRefund, SubscriptionInactive,
	),
	statemachine.WithTransition(SubscriptionPreactive, SubscriptionVoid, SubscriptionInactive),
)

// automaticOnly blocks cancellation of plans that never renew in the first place.
func automaticOnly(_ context.Context, _ SubscriptionStatus, _ SubscriptionEvent, data any) bool {
	sub, ok := data.(*UserSubscription)
	return ok && sub.Plan.Automatic
}

// NextOrderStatus returns the status an order moves to on event.
func NextOrderStatus(ctx context.Context, o *Order, event OrderEvent) (OrderStatus, error) {
	next, err := orderTransitions.Next(ctx, o.Status, event, o)
	if err != nil {
		return "", errors.Join(ErrInvalidTransition, err)
	}
	return next, nil
}

// NextSubscriptionStatus returns the status a subscription moves to on event.
func NextSubscriptionStatus(ctx context.Context, s *UserSubscription, event SubscriptionEvent) (SubscriptionStatus, error) {
	next, err := subscriptionTransitions.Next(ctx, s.Status, event, s)
	if err != nil {
		return "", errors.Join(ErrInvalidTransition, err)
	}
	return next, nil
}

// SubscriptionSources lists the statuses event may fire from.
func SubscriptionSources(event SubscriptionEvent) []SubscriptionStatus {
	return subscriptionTransitions.Sources(event)
}

// OrderSources lists the statuses event may fire from.
func OrderSources(event OrderEvent) []OrderStatus {
	return orderTransitions.Sources(event)
}
