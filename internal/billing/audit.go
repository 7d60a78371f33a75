package billing

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billing/pkg/audit"
	"github.com/dmitrymomot/billing/pkg/logger"
)

// record writes one audit event. Audit failures never fail a transition that
// has already been committed; they are logged instead.
func (e *engine) record(ctx context.Context, action string, userID uuid.UUID, opts ...audit.EventOption) {
	if e.auditLog == nil {
		return
	}
	opts = append([]audit.EventOption{audit.WithUserID(userID.String())}, opts...)
	if err := e.auditLog.Log(ctx, action, opts...); err != nil {
		e.log.WarnContext(ctx, "failed to record audit event",
			slog.String("action", action), logger.Error(err))
	}
}

// recordOrder audits an order that moved from prev to its current status as
// "order.<status>" or "refund.<status>". Failed orders carry their reason.
func (e *engine) recordOrder(ctx context.Context, o *Order, prev OrderStatus) {
	if e.auditLog == nil {
		return
	}
	action := orderKind(o.Refund) + "." + string(o.Status)
	opts := []audit.EventOption{
		audit.WithUserID(o.UserID.String()),
		audit.WithResource("order", o.ID.String()),
		audit.WithMetadata("from", string(prev)),
		audit.WithMetadata("amount", o.TotalCost.StringFixed(2)),
	}
	if o.ExternalID != "" {
		opts = append(opts, audit.WithMetadata("external_id", o.ExternalID))
	}
	if o.ParentID != nil {
		opts = append(opts, audit.WithMetadata("parent_id", o.ParentID.String()))
	}

	var err error
	if o.Status == OrderError {
		err = e.auditLog.LogError(ctx, action, errors.New(o.FailureReason), opts...)
	} else {
		err = e.auditLog.Log(ctx, action, opts...)
	}
	if err != nil {
		e.log.WarnContext(ctx, "failed to record audit event",
			slog.String("action", action), logger.OrderID(o.ID), logger.Error(err))
	}
}

// recordSubscription audits a subscription moving to next as "subscription.<status>".
func (e *engine) recordSubscription(ctx context.Context, s *UserSubscription, next SubscriptionStatus) {
	e.record(ctx, "subscription."+string(next), s.UserID,
		audit.WithResource("subscription", s.ID.String()),
		audit.WithMetadata("from", string(s.Status)),
		audit.WithMetadata("order_id", s.OrderID.String()))
}
