package billing

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Tier is the quality level of a plan. Tiers are ordered bronze < silver < gold.
type Tier string

const (
	TierBronze Tier = "bronze"
	TierSilver Tier = "silver"
	TierGold   Tier = "gold"
)

var tierRank = map[Tier]int{TierBronze: 1, TierSilver: 2, TierGold: 3}

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	_, ok := tierRank[t]
	return ok
}

// Less reports whether t ranks below other.
func (t Tier) Less(other Tier) bool {
	return tierRank[t] < tierRank[other]
}

// Role is the capability tag granted to holders of the tier.
func (t Tier) Role() string {
	return "subscriber_" + string(t)
}

// PaymentSystem identifies the processor an order was charged through.
type PaymentSystem string

const PaymentSystemStripe PaymentSystem = "stripe"

// Plan is a catalog entry: what a user buys.
type Plan struct {
	ID          uuid.UUID
	Title       string
	Description string
	Period      int // days
	Tier        Tier
	Price       decimal.Decimal
	Currency    string // lower-case ISO 4217
	Automatic   bool   // renews automatically at the end of the period
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// PaymentMethod is a processor-issued reference to a stored instrument.
type PaymentMethod struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	ExternalID string // processor payment method id
	Type       string
	CustomerID string // processor customer the method is attached to
	CreatedAt  time.Time
}

// Order is a single billing transaction: a purchase, a renewal or a refund.
type Order struct {
	ID            uuid.UUID
	ExternalID    string // processor payment or refund id; empty until submitted
	UserID        uuid.UUID
	UserEmail     string
	Plan          Plan
	Status        OrderStatus
	PaymentSystem PaymentSystem
	Currency      string
	Discount      int // percent, 0-99
	TotalCost     decimal.Decimal
	PaymentMethod *PaymentMethod
	Refund        bool
	ParentID      *uuid.UUID // prior cycle for renewals, refunded order for refunds
	PollAttempts  int
	FailureReason string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// IsRenewal reports whether the order pays for a follow-up billing cycle.
func (o *Order) IsRenewal() bool {
	return !o.Refund && o.ParentID != nil
}

// UserSubscription is a user's ownership of a plan over a date window.
type UserSubscription struct {
	ID                uuid.UUID
	UserID            uuid.UUID
	Plan              Plan
	OrderID           uuid.UUID // order that paid for this cycle
	StartDate         time.Time
	EndDate           time.Time
	Status            SubscriptionStatus
	RefundRequestedAt *time.Time
	RefundConfirmedAt *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Card is raw card data collected at checkout. It is passed straight to the
// processor and never stored.
type Card struct {
	Type     string
	Number   string
	ExpMonth int
	ExpYear  int
	CVC      string
}

// Principal is the authenticated caller of a user-facing operation.
type Principal struct {
	UserID uuid.UUID
	Email  string
}
