package billingtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billing/internal/billing"
)

// FakeGateway is an in-memory payment processor. Payments and refunds stay in
// the state they were created with until the test settles them.
type FakeGateway struct {
	mu        sync.Mutex
	seq       int
	payments  map[string]*billing.Payment
	refunds   map[string]*billing.Refund
	keys      map[string]string
	customers map[string]string
	attached  map[string]string
	calls     map[string]int
	failures  map[string]error

	// PaymentState is the initial state of payments created on-session.
	PaymentState billing.PaymentState
	// RecurrentState is the initial state of off-session payments.
	RecurrentState billing.PaymentState
	// RefundState is the initial state of refunds.
	RefundState billing.PaymentState
}

var _ billing.Gateway = (*FakeGateway)(nil)

// NewFakeGateway returns a processor whose on-session payments and refunds stay pending
// and whose off-session payments succeed.
func NewFakeGateway() *FakeGateway {
	return &FakeGateway{
		payments:       make(map[string]*billing.Payment),
		refunds:        make(map[string]*billing.Refund),
		keys:           make(map[string]string),
		customers:      make(map[string]string),
		attached:       make(map[string]string),
		calls:          make(map[string]int),
		failures:       make(map[string]error),
		PaymentState:   billing.PaymentPending,
		RecurrentState: billing.PaymentSucceeded,
		RefundState:    billing.PaymentPending,
	}
}

// FailOn makes every call to method return err until cleared with a nil err.
func (g *FakeGateway) FailOn(method string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err == nil {
		delete(g.failures, method)
		return
	}
	g.failures[method] = err
}

// Calls returns how many times method was invoked, failed calls included.
func (g *FakeGateway) Calls(method string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[method]
}

// SettlePayment moves a payment to state.
func (g *FakeGateway) SettlePayment(id string, state billing.PaymentState) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if p, ok := g.payments[id]; ok {
		p.State = state
		p.Status = rawStatus(state)
	}
}

// SettleRefund moves a refund to state.
func (g *FakeGateway) SettleRefund(id string, state billing.PaymentState) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if r, ok := g.refunds[id]; ok {
		r.State = state
		r.Status = rawStatus(state)
	}
}

// Payments returns the number of distinct payments created.
func (g *FakeGateway) Payments() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.payments)
}

// Refund returns a copy of the refund with id.
func (g *FakeGateway) Refund(id string) (billing.Refund, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.refunds[id]
	if !ok {
		return billing.Refund{}, false
	}
	return *r, true
}

func (g *FakeGateway) call(method string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls[method]++
	return g.failures[method]
}

func (g *FakeGateway) nextID(prefix string) string {
	g.seq++
	return fmt.Sprintf("%s_%06d", prefix, g.seq)
}

func rawStatus(state billing.PaymentState) string {
	switch state {
	case billing.PaymentSucceeded:
		return "succeeded"
	case billing.PaymentFailed:
		return "canceled"
	default:
		return "requires_confirmation"
	}
}

func (g *FakeGateway) CreateCustomer(_ context.Context, _ uuid.UUID, email string) (*billing.Customer, error) {
	if err := g.call("CreateCustomer"); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	id := g.nextID("cus")
	g.customers[id] = email
	return &billing.Customer{ID: id, Email: email}, nil
}

func (g *FakeGateway) CreatePaymentMethod(_ context.Context, card billing.Card) (*billing.PaymentMethodRef, error) {
	if err := g.call("CreatePaymentMethod"); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return &billing.PaymentMethodRef{ID: g.nextID("pm"), Type: card.Type}, nil
}

func (g *FakeGateway) AttachPaymentMethod(_ context.Context, methodID, customerID string) error {
	if err := g.call("AttachPaymentMethod"); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.customers[customerID]; !ok {
		return fmt.Errorf("%w: no such customer %s", billing.ErrGatewayRejected, customerID)
	}
	g.attached[methodID] = customerID
	return nil
}

func (g *FakeGateway) CreatePayment(_ context.Context, req billing.PaymentRequest) (*billing.Payment, error) {
	if err := g.call("CreatePayment"); err != nil {
		return nil, err
	}
	return g.createPayment(req, g.PaymentState)
}

func (g *FakeGateway) CreateRecurrentPayment(_ context.Context, req billing.PaymentRequest) (*billing.Payment, error) {
	if err := g.call("CreateRecurrentPayment"); err != nil {
		return nil, err
	}
	return g.createPayment(req, g.RecurrentState)
}

func (g *FakeGateway) createPayment(req billing.PaymentRequest, state billing.PaymentState) (*billing.Payment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if id, ok := g.keys[req.IdempotencyKey]; ok {
		p := *g.payments[id]
		return &p, nil
	}
	if g.attached[req.MethodID] != req.CustomerID {
		return nil, fmt.Errorf("%w: method %s is not attached to %s", billing.ErrGatewayRejected, req.MethodID, req.CustomerID)
	}

	p := &billing.Payment{
		ID:       g.nextID("pi"),
		Amount:   req.Amount,
		Currency: req.Currency,
		Status:   rawStatus(state),
		State:    state,
	}
	g.payments[p.ID] = p
	g.keys[req.IdempotencyKey] = p.ID
	out := *p
	return &out, nil
}

func (g *FakeGateway) ConfirmPayment(_ context.Context, paymentID, _ string) error {
	if err := g.call("ConfirmPayment"); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.payments[paymentID]; !ok {
		return fmt.Errorf("%w: no such payment %s", billing.ErrGatewayRejected, paymentID)
	}
	return nil
}

func (g *FakeGateway) GetPayment(_ context.Context, paymentID string) (*billing.Payment, error) {
	if err := g.call("GetPayment"); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.payments[paymentID]
	if !ok {
		return nil, fmt.Errorf("%w: no such payment %s", billing.ErrGatewayRejected, paymentID)
	}
	out := *p
	return &out, nil
}

func (g *FakeGateway) CreateRefund(_ context.Context, req billing.RefundRequest) (*billing.Refund, error) {
	if err := g.call("CreateRefund"); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if id, ok := g.keys[req.IdempotencyKey]; ok {
		r := *g.refunds[id]
		return &r, nil
	}
	p, ok := g.payments[req.PaymentID]
	if !ok {
		return nil, fmt.Errorf("%w: no such payment %s", billing.ErrGatewayRejected, req.PaymentID)
	}
	if req.Amount > p.Amount {
		return nil, fmt.Errorf("%w: refund exceeds charge", billing.ErrGatewayRejected)
	}

	r := &billing.Refund{
		ID:     g.nextID("re"),
		Amount: req.Amount,
		Status: rawStatus(g.RefundState),
		State:  g.RefundState,
	}
	g.refunds[r.ID] = r
	g.keys[req.IdempotencyKey] = r.ID
	out := *r
	return &out, nil
}

func (g *FakeGateway) GetRefund(_ context.Context, refundID string) (*billing.Refund, error) {
	if err := g.call("GetRefund"); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.refunds[refundID]
	if !ok {
		return nil, fmt.Errorf("%w: no such refund %s", billing.ErrGatewayRejected, refundID)
	}
	out := *r
	return &out, nil
}
