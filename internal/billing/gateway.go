package billing

import (
	"context"

	"github.com/google/uuid"
)

// PaymentState is the processor status folded into what reconciliation acts on.
type PaymentState string

const (
	PaymentPending   PaymentState = "pending"
	PaymentSucceeded PaymentState = "succeeded"
	PaymentFailed    PaymentState = "failed"
)

type Customer struct {
	ID    string
	Email string
}

type PaymentMethodRef struct {
	ID   string
	Type string
}

// Payment is the processor view of a charge.
type Payment struct {
	ID       string
	Amount   int64 // subunits
	Currency string
	Status   string // raw processor status, kept for logs and failure reasons
	State    PaymentState
}

// Refund is the processor view of a refund.
type Refund struct {
	ID     string
	Amount int64
	Status string
	State  PaymentState
}

// PaymentRequest describes a charge. IdempotencyKey makes resubmission after an
// ambiguous failure return the original payment instead of charging twice.
type PaymentRequest struct {
	IdempotencyKey string
	CustomerID     string
	MethodID       string
	Amount         int64 // subunits
	Currency       string
	ReceiptEmail   string
	Metadata       map[string]string
}

type RefundRequest struct {
	IdempotencyKey string
	PaymentID      string
	Amount         int64 // subunits
	Metadata       map[string]string
}

// Gateway is the payment processor contract. Implementations retry transient
// failures themselves and wrap what is left in ErrGatewayUnavailable; terminal
// answers are wrapped in ErrGatewayRejected.
type Gateway interface {
	CreateCustomer(ctx context.Context, userID uuid.UUID, email string) (*Customer, error)
	CreatePaymentMethod(ctx context.Context, card Card) (*PaymentMethodRef, error)
	AttachPaymentMethod(ctx context.Context, methodID, customerID string) error
	CreatePayment(ctx context.Context, req PaymentRequest) (*Payment, error)
	// CreateRecurrentPayment charges off-session and confirms immediately.
	CreateRecurrentPayment(ctx context.Context, req PaymentRequest) (*Payment, error)
	ConfirmPayment(ctx context.Context, paymentID, methodID string) error
	GetPayment(ctx context.Context, paymentID string) (*Payment, error)
	CreateRefund(ctx context.Context, req RefundRequest) (*Refund, error)
	GetRefund(ctx context.Context, refundID string) (*Refund, error)
}

// Capabilities grants and revokes role tags in the authorization service.
// Both calls must be idempotent.
type Capabilities interface {
	Grant(ctx context.Context, userID uuid.UUID, role string) error
	Revoke(ctx context.Context, userID uuid.UUID, role string) error
}
