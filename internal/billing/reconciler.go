package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/billing/pkg/audit"
	"github.com/dmitrymomot/billing/pkg/logger"
)

// Reconciler drives orders and subscriptions to their final state by polling the
// processor. Every method is idempotent and safe to run concurrently with itself.
type Reconciler interface {
	ListProcessingOrders(ctx context.Context, refund bool) ([]Order, error)
	ListExpiringSubscriptions(ctx context.Context) ([]UserSubscription, error)

	PollProcessingOrders(ctx context.Context) (SweepResult, error)
	PollProcessingRefunds(ctx context.Context) (SweepResult, error)
	CheckOrder(ctx context.Context, externalID string) (*Order, error)
	CheckRefund(ctx context.Context, externalID string) (*Order, error)

	ExpireActiveAutomaticSubscriptions(ctx context.Context) (SweepResult, error)
	DisableExpiredSubscriptions(ctx context.Context) (SweepResult, error)
	EnablePreactiveSubscriptions(ctx context.Context) (SweepResult, error)

	// RecurringPayment charges the next cycle of the user's active subscription
	// to plan. Repeated calls for the same cycle return the existing renewal order.
	RecurringPayment(ctx context.Context, userID, planID uuid.UUID) (*Order, error)
}

// SweepResult summarizes one reconciliation pass.
type SweepResult struct {
	Sweep   string `json:"sweep"`
	Checked int    `json:"checked"`
	Changed int    `json:"changed"`
	Failed  int    `json:"failed"`
}

// NewReconciler builds the reconciliation engine. It panics on nil dependencies.
func NewReconciler(store Store, gateway Gateway, caps Capabilities, opts ...Option) Reconciler {
	return newEngine(store, gateway, caps, opts...)
}

const (
	sweepOrders    = "orders"
	sweepRefunds   = "refunds"
	sweepRenew     = "renew"
	sweepDisable   = "disable_expired"
	sweepPreactive = "enable_preactive"
)

// sweep visits items with bounded concurrency. A failing item is counted and
// logged; it never stops the others.
func sweep[T any](ctx context.Context, e *engine, name string, items []T, fn func(context.Context, T) (bool, error)) SweepResult {
	started := e.now()
	log := e.log.With(logger.Sweep(name))

	var changed, failed atomic.Int64
	g := new(errgroup.Group)
	g.SetLimit(max(e.cfg.SweepConcurrency, 1))

	for _, item := range items {
		g.Go(func() error {
			if ctx.Err() != nil {
				failed.Add(1)
				return nil
			}
			ok, err := fn(ctx, item)
			switch {
			case err != nil:
				failed.Add(1)
				log.WarnContext(ctx, "sweep item failed", logger.Error(err))
			case ok:
				changed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	res := SweepResult{
		Sweep:   name,
		Checked: len(items),
		Changed: int(changed.Load()),
		Failed:  int(failed.Load()),
	}
	elapsed := e.now().Sub(started)
	e.metrics.sweep(res, elapsed)

	if res.Checked > 0 {
		log.InfoContext(ctx, "sweep finished",
			slog.Int("checked", res.Checked),
			slog.Int("changed", res.Changed),
			slog.Int("failed", res.Failed),
			logger.Duration(elapsed))
	}
	return res
}

func (e *engine) ListProcessingOrders(ctx context.Context, refund bool) ([]Order, error) {
	return e.store.ListOrders(ctx, OrderFilter{
		Refund:   &refund,
		Statuses: []OrderStatus{OrderProgress},
	})
}

func (e *engine) ListExpiringSubscriptions(ctx context.Context) ([]UserSubscription, error) {
	tomorrow := AddDays(e.today(), 1)
	return e.store.ListSubscriptions(ctx, SubscriptionFilter{
		Statuses:  []SubscriptionStatus{SubscriptionActive},
		Automatic: ptr(true),
		EndDate:   &tomorrow,
	})
}

func (e *engine) PollProcessingOrders(ctx context.Context) (SweepResult, error) {
	return e.pollOrders(ctx, false)
}

func (e *engine) PollProcessingRefunds(ctx context.Context) (SweepResult, error) {
	return e.pollOrders(ctx, true)
}

// pollOrders reconciles every in-progress order of the given kind, plus created
// orders old enough that their submitting request is surely gone.
func (e *engine) pollOrders(ctx context.Context, refund bool) (SweepResult, error) {
	name := sweepOrders
	if refund {
		name = sweepRefunds
	}

	processing, err := e.ListProcessingOrders(ctx, refund)
	if err != nil {
		return SweepResult{Sweep: name}, err
	}

	staleBefore := e.now().Add(-e.cfg.ResumeCreatedAfter)
	stale, err := e.store.ListOrders(ctx, OrderFilter{
		Refund:        &refund,
		Statuses:      []OrderStatus{OrderCreated},
		CreatedBefore: &staleBefore,
	})
	if err != nil {
		return SweepResult{Sweep: name}, err
	}

	orders := append(processing, stale...)
	return sweep(ctx, e, name, orders, func(ctx context.Context, o Order) (bool, error) {
		return e.reconcileOrder(ctx, &o)
	}), nil
}

func (e *engine) CheckOrder(ctx context.Context, externalID string) (*Order, error) {
	return e.checkOne(ctx, externalID, false)
}

func (e *engine) CheckRefund(ctx context.Context, externalID string) (*Order, error) {
	return e.checkOne(ctx, externalID, true)
}

func (e *engine) checkOne(ctx context.Context, externalID string, refund bool) (*Order, error) {
	o, err := e.store.GetOrderByExternalID(ctx, externalID)
	if err != nil {
		return nil, err
	}
	if o.Refund != refund {
		return nil, fmt.Errorf("%w: %q is not a %s", ErrNotFound, externalID, orderKind(refund))
	}
	if _, err := e.reconcileOrder(ctx, o); err != nil {
		return o, err
	}
	return o, nil
}

func orderKind(refund bool) string {
	if refund {
		return "refund"
	}
	return "payment"
}

// reconcileOrder moves one order as far as the processor allows. It reports
// whether anything changed.
func (e *engine) reconcileOrder(ctx context.Context, o *Order) (bool, error) {
	switch o.Status {
	case OrderCreated:
		return e.resumeCreated(ctx, o)
	case OrderProgress:
	default:
		return false, nil
	}

	var (
		state  PaymentState
		status string
		err    error
	)
	if o.Refund {
		var r *Refund
		if r, err = e.gateway.GetRefund(ctx, o.ExternalID); err == nil {
			state, status = r.State, r.Status
		}
	} else {
		var p *Payment
		if p, err = e.gateway.GetPayment(ctx, o.ExternalID); err == nil {
			state, status = p.State, p.Status
		}
	}
	if err != nil {
		return false, err
	}

	switch state {
	case PaymentSucceeded:
		if o.Refund {
			return e.completeRefund(ctx, o)
		}
		return e.completePayment(ctx, o)
	case PaymentFailed:
		e.failOrder(ctx, o, OrderReject, "processor status: "+status)
		return o.Status == OrderError, nil
	default:
		return e.bumpAttempts(ctx, o)
	}
}

// resumeCreated resubmits an order that was persisted but never reached the
// processor. The order id doubles as idempotency key, so a submission that did
// reach the processor is returned rather than repeated.
func (e *engine) resumeCreated(ctx context.Context, o *Order) (bool, error) {
	e.log.InfoContext(ctx, "resuming created order", logger.OrderID(o.ID))

	var err error
	if o.Refund {
		if o.ParentID == nil {
			return false, fmt.Errorf("%w: refund order %s has no parent", ErrNotFound, o.ID)
		}
		var paid *Order
		if paid, err = e.store.GetOrder(ctx, *o.ParentID); err != nil {
			return false, err
		}
		_, err = e.submitRefund(ctx, o, paid.ExternalID)
	} else {
		_, err = e.submitPayment(ctx, o)
	}

	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrGatewayRejected):
		return o.Status == OrderError, nil
	case errors.Is(err, ErrStaleState):
		return false, nil
	default:
		return false, err
	}
}

// bumpAttempts records an inconclusive poll and gives up once the budget is spent.
func (e *engine) bumpAttempts(ctx context.Context, o *Order) (bool, error) {
	attempts := o.PollAttempts + 1
	if e.cfg.MaxPollAttempts > 0 && attempts >= e.cfg.MaxPollAttempts {
		reason := fmt.Sprintf("no final processor status after %d polls", attempts)
		err := e.transitionOrder(ctx, o, OrderExhaust, OrderPatch{
			PollAttempts:  &attempts,
			FailureReason: &reason,
		})
		if errors.Is(err, ErrStaleState) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		e.log.ErrorContext(ctx, "order abandoned",
			logger.OrderID(o.ID), logger.ExternalID(o.ExternalID), logger.RetryCount(attempts))
		return true, nil
	}

	err := e.store.UpdateOrder(ctx, o.ID, o.Status, OrderPatch{PollAttempts: &attempts})
	if errors.Is(err, ErrStaleState) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	o.PollAttempts = attempts
	return false, nil
}

// completePayment marks the order paid and opens the subscription cycle it paid
// for in one transaction, then grants the tier role. A renewal whose cycle was
// refunded or canceled in the meantime opens nothing and is refunded in full.
func (e *engine) completePayment(ctx context.Context, o *Order) (bool, error) {
	next, err := NextOrderStatus(ctx, o, OrderConfirm)
	if err != nil {
		return false, err
	}

	var (
		sub    *UserSubscription
		refund *Order
	)
	err = e.store.InTx(ctx, func(ctx context.Context) error {
		if err := e.store.UpdateOrder(ctx, o.ID, o.Status, OrderPatch{Status: &next}); err != nil {
			return err
		}
		var err error
		if sub, err = e.newCycle(ctx, o); err != nil {
			return err
		}
		if sub == nil {
			refund = newRefundOrder(o, o.TotalCost, e.now())
			return e.store.CreateOrder(ctx, refund)
		}
		return e.store.CreateSubscription(ctx, sub)
	})
	if errors.Is(err, ErrStaleState) {
		// Another sweep got here first.
		return false, nil
	}
	if err != nil {
		return false, err
	}

	e.metrics.transition("order", string(o.Status), string(next))
	prev := o.Status
	o.Status = next
	o.UpdatedAt = e.now()
	e.recordOrder(ctx, o, prev)

	if sub == nil {
		e.log.WarnContext(ctx, "renewal paid after its cycle was closed, refunding",
			logger.OrderID(o.ID), logger.UserID(o.UserID), slog.String("refund_id", refund.ID.String()))
		e.record(ctx, "refund.requested", refund.UserID,
			audit.WithResource("order", refund.ID.String()),
			audit.WithMetadata("amount", refund.TotalCost.StringFixed(2)))
		_, _ = e.submitRefund(ctx, refund, o.ExternalID)
		return true, nil
	}

	e.log.InfoContext(ctx, "payment completed",
		logger.OrderID(o.ID), logger.SubscriptionID(sub.ID), logger.UserID(o.UserID),
		slog.String("subscription_status", string(sub.Status)),
		slog.String("start_date", sub.StartDate.Format(time.DateOnly)),
		slog.String("end_date", sub.EndDate.Format(time.DateOnly)))

	// Role failures are logged; the subscription stays and a later grant
	// (activation of the next cycle) or operator action fixes the role.
	_ = e.grant(ctx, o.UserID, o.Plan.Tier)
	return true, nil
}

// newCycle builds the subscription o paid for. A first purchase starts today;
// a renewal starts where the cycle it renews ends. It returns nil for a renewal
// of a cycle that was refunded or canceled.
func (e *engine) newCycle(ctx context.Context, o *Order) (*UserSubscription, error) {
	now := e.now()
	today := Date(now)
	sub := &UserSubscription{
		ID:        uuid.New(),
		UserID:    o.UserID,
		Plan:      o.Plan,
		OrderID:   o.ID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if !o.IsRenewal() {
		sub.Status = SubscriptionActive
		sub.StartDate = today
		sub.EndDate = AddDays(today, o.Plan.Period)
		return sub, nil
	}

	start := AddDays(today, 1)
	prev, err := e.store.ListSubscriptions(ctx, SubscriptionFilter{OrderID: o.ParentID})
	if err != nil {
		return nil, err
	}
	if len(prev) > 0 {
		last := prev[len(prev)-1]
		if last.RefundRequestedAt != nil || last.Status == SubscriptionCanceled {
			return nil, nil
		}
		start = last.EndDate
	}

	sub.Status = SubscriptionPreactive
	sub.StartDate = start
	sub.EndDate = AddDays(start, o.Plan.Period)
	return sub, nil
}

// completeRefund marks the refund paid and confirms it on the refunded cycle,
// then revokes the tier role again in case the request-time revoke failed.
func (e *engine) completeRefund(ctx context.Context, o *Order) (bool, error) {
	if o.ParentID == nil {
		return false, fmt.Errorf("%w: refund order %s has no parent", ErrNotFound, o.ID)
	}
	next, err := NextOrderStatus(ctx, o, OrderConfirm)
	if err != nil {
		return false, err
	}

	now := e.now()
	err = e.store.InTx(ctx, func(ctx context.Context) error {
		if err := e.store.UpdateOrder(ctx, o.ID, o.Status, OrderPatch{Status: &next}); err != nil {
			return err
		}
		subs, err := e.store.ListSubscriptions(ctx, SubscriptionFilter{OrderID: o.ParentID})
		if err != nil {
			return err
		}
		for _, s := range subs {
			if s.RefundRequestedAt == nil || s.RefundConfirmedAt != nil {
				continue
			}
			if err := e.store.UpdateSubscription(ctx, s.ID, []SubscriptionStatus{s.Status}, SubscriptionPatch{
				RefundConfirmedAt: &now,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, ErrStaleState) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	e.metrics.transition("order", string(o.Status), string(next))
	o.Status = next
	o.UpdatedAt = now
	e.record(ctx, "refund.confirmed", o.UserID,
		audit.WithResource("order", o.ID.String()),
		audit.WithMetadata("parent_id", o.ParentID.String()),
		audit.WithMetadata("amount", o.TotalCost.StringFixed(2)))

	e.log.InfoContext(ctx, "refund completed",
		logger.OrderID(o.ID), logger.UserID(o.UserID),
		slog.String("amount", o.TotalCost.StringFixed(2)))

	_ = e.revokeUnlessEntitled(ctx, o.UserID, o.Plan.Tier)
	return true, nil
}

func (e *engine) ExpireActiveAutomaticSubscriptions(ctx context.Context) (SweepResult, error) {
	subs, err := e.ListExpiringSubscriptions(ctx)
	if err != nil {
		return SweepResult{Sweep: sweepRenew}, err
	}
	return sweep(ctx, e, sweepRenew, subs, func(ctx context.Context, s UserSubscription) (bool, error) {
		_, created, err := e.renew(ctx, &s, false)
		return created, err
	}), nil
}

func (e *engine) DisableExpiredSubscriptions(ctx context.Context) (SweepResult, error) {
	today := e.today()
	expired, err := e.store.TransitionSubscriptions(ctx, SubscriptionFilter{
		Statuses:          SubscriptionSources(SubscriptionExpire),
		EndDateOnOrBefore: &today,
	}, SubscriptionInactive)
	if err != nil {
		return SweepResult{Sweep: sweepDisable}, err
	}

	// The rows already changed; what is left per row is the role revoke.
	res := sweep(ctx, e, sweepDisable, expired, func(ctx context.Context, s UserSubscription) (bool, error) {
		e.metrics.transition("subscription", string(s.Status), string(SubscriptionInactive))
		e.recordSubscription(ctx, &s, SubscriptionInactive)
		e.log.InfoContext(ctx, "subscription expired",
			logger.SubscriptionID(s.ID), logger.UserID(s.UserID))
		if err := e.revokeUnlessEntitled(ctx, s.UserID, s.Plan.Tier); err != nil {
			return false, err
		}
		return true, nil
	})
	return res, nil
}

func (e *engine) EnablePreactiveSubscriptions(ctx context.Context) (SweepResult, error) {
	today := e.today()
	subs, err := e.store.ListSubscriptions(ctx, SubscriptionFilter{
		Statuses:            []SubscriptionStatus{SubscriptionPreactive},
		StartDateOnOrBefore: &today,
	})
	if err != nil {
		return SweepResult{Sweep: sweepPreactive}, err
	}
	return sweep(ctx, e, sweepPreactive, subs, func(ctx context.Context, s UserSubscription) (bool, error) {
		return e.activate(ctx, &s, today)
	}), nil
}

// activate starts a paid cycle. The user's lapsed cycle is expired in the same
// transaction so at most one entitling row exists at any time.
func (e *engine) activate(ctx context.Context, s *UserSubscription, today time.Time) (bool, error) {
	next, err := NextSubscriptionStatus(ctx, s, SubscriptionActivate)
	if err != nil {
		return false, err
	}

	var lapsed []UserSubscription
	err = e.store.InTx(ctx, func(ctx context.Context) error {
		var err error
		lapsed, err = e.store.TransitionSubscriptions(ctx, SubscriptionFilter{
			UserID:            &s.UserID,
			Statuses:          SubscriptionSources(SubscriptionExpire),
			EndDateOnOrBefore: &today,
		}, SubscriptionInactive)
		if err != nil {
			return err
		}
		return e.store.UpdateSubscription(ctx, s.ID, []SubscriptionStatus{s.Status}, SubscriptionPatch{Status: &next})
	})
	if errors.Is(err, ErrStaleState) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	for _, l := range lapsed {
		e.metrics.transition("subscription", string(l.Status), string(SubscriptionInactive))
		e.recordSubscription(ctx, &l, SubscriptionInactive)
	}
	e.metrics.transition("subscription", string(s.Status), string(next))
	e.recordSubscription(ctx, s, next)
	s.Status = next

	e.log.InfoContext(ctx, "subscription activated",
		logger.SubscriptionID(s.ID), logger.UserID(s.UserID), logger.PlanID(s.Plan.ID))

	_ = e.grant(ctx, s.UserID, s.Plan.Tier)
	for _, l := range lapsed {
		if l.Plan.Tier != s.Plan.Tier {
			_ = e.revokeUnlessEntitled(ctx, l.UserID, l.Plan.Tier)
		}
	}
	return true, nil
}
