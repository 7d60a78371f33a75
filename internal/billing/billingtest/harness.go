package billingtest

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billing/internal/billing"
	"github.com/dmitrymomot/billing/pkg/audit"
)

// Harness wires a Service and Reconciler to in-memory collaborators that
// share one clock.
type Harness struct {
	Store      *MemoryStore
	Gateway    *FakeGateway
	Roles      *Roles
	Clock      *Clock
	Audit      *AuditLog
	Service    billing.Service
	Reconciler billing.Reconciler
}

// NewHarness starts the clock at noon UTC on start.
func NewHarness(t testing.TB, start time.Time, opts ...billing.Option) *Harness {
	t.Helper()

	h := &Harness{
		Store:   NewMemoryStore(),
		Gateway: NewFakeGateway(),
		Roles:   NewRoles(),
		Clock:   NewClock(billing.Date(start).Add(12 * time.Hour)),
		Audit:   NewAuditLog(),
	}
	h.Store.SetClock(h.Clock.Now)

	opts = append([]billing.Option{
		billing.WithClock(h.Clock.Now),
		billing.WithAuditLog(audit.NewLogger(h.Audit, audit.WithClock(h.Clock.Now))),
	}, opts...)
	h.Service = billing.NewService(h.Store, h.Gateway, h.Roles, opts...)
	h.Reconciler = billing.NewReconciler(h.Store, h.Gateway, h.Roles, opts...)
	return h
}

// Plan stores a plan and returns it with its id.
func (h *Harness) Plan(t testing.TB, tier billing.Tier, period int, price string, automatic bool) billing.Plan {
	t.Helper()
	p := billing.Plan{
		Title:     string(tier) + " plan",
		Period:    period,
		Tier:      tier,
		Price:     decimal.RequireFromString(price),
		Currency:  "usd",
		Automatic: automatic,
	}
	require.NoError(t, h.Store.SavePlan(context.Background(), &p))
	return p
}

// User returns a fresh principal.
func User() billing.Principal {
	id := uuid.New()
	return billing.Principal{UserID: id, Email: id.String()[:8] + "@example.com"}
}

// Card returns a valid test card.
func Card() billing.Card {
	return billing.Card{Type: "card", Number: "4242424242424242", ExpMonth: 12, ExpYear: 2099, CVC: "123"}
}

// Subscribe buys plan for p and settles the payment, leaving an active subscription.
func (h *Harness) Subscribe(t testing.TB, p billing.Principal, plan billing.Plan) billing.Order {
	t.Helper()
	ctx := context.Background()

	order, err := h.Service.CreateSubscriptionPayment(ctx, p, plan.ID, Card())
	require.NoError(t, err)
	require.Equal(t, billing.OrderProgress, order.Status)

	h.Gateway.SettlePayment(order.ExternalID, billing.PaymentSucceeded)
	_, err = h.Reconciler.PollProcessingOrders(ctx)
	require.NoError(t, err)

	paid, err := h.Store.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, billing.OrderPaid, paid.Status)
	return *paid
}

// Subscriptions returns every subscription of userID.
func (h *Harness) Subscriptions(t testing.TB, userID uuid.UUID) []billing.UserSubscription {
	t.Helper()
	subs, err := h.Store.ListSubscriptions(context.Background(), billing.SubscriptionFilter{UserID: &userID})
	require.NoError(t, err)
	return subs
}
