package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store is the persistence contract. Implementations return aggregates fully
// hydrated (orders carry their plan and payment method, subscriptions their plan)
// and translate storage failures into the package errors:
//   - ErrNotFound for missing rows,
//   - ErrConflict for uniqueness violations,
//   - ErrStaleState when a compare-and-set update finds a different status.
type Store interface {
	// InTx runs fn in a single transaction. fn may be replayed on serialization
	// failures and must only touch the store.
	InTx(ctx context.Context, fn func(ctx context.Context) error) error

	GetPlan(ctx context.Context, id uuid.UUID) (*Plan, error)
	ListPlans(ctx context.Context) ([]Plan, error)
	// SavePlan inserts or updates the plan identified by (title, period, tier)
	// and sets p.ID to the stored id.
	SavePlan(ctx context.Context, p *Plan) error

	CreatePaymentMethod(ctx context.Context, m *PaymentMethod) error
	// LastPaymentMethod returns the most recently stored method of the user.
	LastPaymentMethod(ctx context.Context, userID uuid.UUID) (*PaymentMethod, error)

	CreateOrder(ctx context.Context, o *Order) error
	GetOrder(ctx context.Context, id uuid.UUID) (*Order, error)
	GetOrderByExternalID(ctx context.Context, externalID string) (*Order, error)
	ListOrders(ctx context.Context, f OrderFilter) ([]Order, error)
	// UpdateOrder applies patch only if the order is still in status expected.
	UpdateOrder(ctx context.Context, id uuid.UUID, expected OrderStatus, patch OrderPatch) error

	CreateSubscription(ctx context.Context, s *UserSubscription) error
	ListSubscriptions(ctx context.Context, f SubscriptionFilter) ([]UserSubscription, error)
	// UpdateSubscription applies patch only if the subscription is in one of expected.
	UpdateSubscription(ctx context.Context, id uuid.UUID, expected []SubscriptionStatus, patch SubscriptionPatch) error
	// TransitionSubscriptions moves every row matching f to status to in one
	// statement and returns the changed rows as they were before the change.
	TransitionSubscriptions(ctx context.Context, f SubscriptionFilter, to SubscriptionStatus) ([]UserSubscription, error)
}

// OrderFilter narrows ListOrders. Zero fields do not filter.
// Results are ordered by creation time, oldest first unless NewestFirst is set.
type OrderFilter struct {
	UserID        *uuid.UUID
	PlanID        *uuid.UUID
	ParentID      *uuid.UUID
	Refund        *bool
	Statuses      []OrderStatus
	ExternalID    string
	CreatedBefore *time.Time
	NewestFirst   bool
	Limit         int
}

// OrderPatch lists the order fields a state change may touch. Nil fields are left as is.
type OrderPatch struct {
	Status        *OrderStatus
	ExternalID    *string
	PollAttempts  *int
	FailureReason *string
}

// SubscriptionFilter narrows ListSubscriptions and TransitionSubscriptions.
// Date bounds are inclusive. Results are ordered by start date.
type SubscriptionFilter struct {
	UserID              *uuid.UUID
	PlanID              *uuid.UUID
	OrderID             *uuid.UUID
	Statuses            []SubscriptionStatus
	Automatic           *bool
	EndDate             *time.Time
	EndDateOnOrBefore   *time.Time
	StartDateOnOrBefore *time.Time
}

// SubscriptionPatch lists the subscription fields a state change may touch.
type SubscriptionPatch struct {
	Status            *SubscriptionStatus
	RefundRequestedAt *time.Time
	RefundConfirmedAt *time.Time
}

func ptr[T any](v T) *T { return &v }
