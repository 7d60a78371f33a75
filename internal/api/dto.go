package api

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dmitrymomot/billing/internal/billing"
	"github.com/dmitrymomot/billing/pkg/validator"
)

const dateLayout = time.DateOnly

type planResponse struct {
	ID          uuid.UUID       `json:"id"`
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	Period      int             `json:"period"`
	Tier        billing.Tier    `json:"tier"`
	Price       decimal.Decimal `json:"price"`
	Currency    string          `json:"currency"`
	Automatic   bool            `json:"automatic"`
}

func newPlanResponse(p billing.Plan) planResponse {
	return planResponse{
		ID:          p.ID,
		Title:       p.Title,
		Description: p.Description,
		Period:      p.Period,
		Tier:        p.Tier,
		Price:       p.Price,
		Currency:    p.Currency,
		Automatic:   p.Automatic,
	}
}

type orderResponse struct {
	ID            uuid.UUID           `json:"id"`
	ExternalID    string              `json:"external_id,omitempty"`
	UserID        uuid.UUID           `json:"user_id"`
	PlanID        uuid.UUID           `json:"plan_id"`
	Status        billing.OrderStatus `json:"status"`
	PaymentSystem string              `json:"payment_system"`
	Currency      string              `json:"currency"`
	Discount      int                 `json:"discount"`
	TotalCost     decimal.Decimal     `json:"total_cost"`
	Refund        bool                `json:"refund"`
	ParentID      *uuid.UUID          `json:"parent_id,omitempty"`
	FailureReason string              `json:"failure_reason,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

func newOrderResponse(o billing.Order) orderResponse {
	return orderResponse{
		ID:            o.ID,
		ExternalID:    o.ExternalID,
		UserID:        o.UserID,
		PlanID:        o.Plan.ID,
		Status:        o.Status,
		PaymentSystem: string(o.PaymentSystem),
		Currency:      o.Currency,
		Discount:      o.Discount,
		TotalCost:     o.TotalCost,
		Refund:        o.Refund,
		ParentID:      o.ParentID,
		FailureReason: o.FailureReason,
		CreatedAt:     o.CreatedAt,
		UpdatedAt:     o.UpdatedAt,
	}
}

type subscriptionResponse struct {
	ID                uuid.UUID                  `json:"id"`
	UserID            uuid.UUID                  `json:"user_id"`
	Plan              planResponse               `json:"plan"`
	OrderID           uuid.UUID                  `json:"order_id"`
	StartDate         string                     `json:"start_date"`
	EndDate           string                     `json:"end_date"`
	Status            billing.SubscriptionStatus `json:"status"`
	RefundRequestedAt *time.Time                 `json:"refund_requested_at,omitempty"`
	RefundConfirmedAt *time.Time                 `json:"refund_confirmed_at,omitempty"`
}

func newSubscriptionResponse(s billing.UserSubscription) subscriptionResponse {
	return subscriptionResponse{
		ID:                s.ID,
		UserID:            s.UserID,
		Plan:              newPlanResponse(s.Plan),
		OrderID:           s.OrderID,
		StartDate:         s.StartDate.Format(dateLayout),
		EndDate:           s.EndDate.Format(dateLayout),
		Status:            s.Status,
		RefundRequestedAt: s.RefundRequestedAt,
		RefundConfirmedAt: s.RefundConfirmedAt,
	}
}

func mapSlice[T, R any](in []T, fn func(T) R) []R {
	out := make([]R, 0, len(in))
	for _, v := range in {
		out = append(out, fn(v))
	}
	return out
}

type cardRequest struct {
	Type     string `json:"type"`
	Number   string `json:"card_number"`
	ExpMonth int    `json:"card_exp_month"`
	ExpYear  int    `json:"card_exp_year"`
	CVC      string `json:"card_cvc"`
}

type paymentRequest struct {
	PlanID        uuid.UUID   `json:"plan_id"`
	PaymentMethod cardRequest `json:"payment_method"`
}

func (r paymentRequest) validate(now time.Time) error {
	return validator.Apply(
		validator.RequiredUUID("plan_id", r.PlanID),
		validator.InList("payment_method.type", r.PaymentMethod.Type, []string{"card"}),
		validator.ValidCardNumber("payment_method.card_number", r.PaymentMethod.Number),
		validator.ValidCardExpiry("payment_method.card_exp_month", r.PaymentMethod.ExpMonth, r.PaymentMethod.ExpYear, now),
		validator.ValidCVC("payment_method.card_cvc", r.PaymentMethod.CVC),
	)
}

func (r paymentRequest) card() billing.Card {
	return billing.Card{
		Type:     r.PaymentMethod.Type,
		Number:   r.PaymentMethod.Number,
		ExpMonth: r.PaymentMethod.ExpMonth,
		ExpYear:  r.PaymentMethod.ExpYear,
		CVC:      r.PaymentMethod.CVC,
	}
}

type confirmRequest struct {
	PaymentID string `path:"payment_id"`
}

func (r confirmRequest) validate() error {
	return validator.Apply(
		validator.RequiredString("payment_id", r.PaymentID),
		validator.MaxLenString("payment_id", r.PaymentID, 255),
	)
}

type externalIDRequest struct {
	ExternalID string `path:"external_id"`
}

func (r externalIDRequest) validate() error {
	return validator.Apply(
		validator.RequiredString("external_id", r.ExternalID),
		validator.MaxLenString("external_id", r.ExternalID, 255),
	)
}

type recurringRequest struct {
	UserID uuid.UUID `path:"user_id"`
	PlanID uuid.UUID `path:"plan_id"`
}

func (r recurringRequest) validate() error {
	return validator.Apply(
		validator.RequiredUUID("user_id", r.UserID),
		validator.RequiredUUID("plan_id", r.PlanID),
	)
}

type empty struct{}
