// Package gateway adapts the Stripe API to billing.Gateway.
//
// Each operation runs behind a shared retrier: bounded exponential backoff with
// jitter for transient failures (network errors, 429, 5xx) and a circuit breaker
// so a processor outage fails fast instead of piling up requests. Declines and
// other 4xx answers are not retried and surface as billing.ErrGatewayRejected;
// whatever is left after the retry budget surfaces as billing.ErrGatewayUnavailable.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"

	"github.com/dmitrymomot/billing/internal/billing"
	"github.com/dmitrymomot/billing/pkg/logger"
	"github.com/dmitrymomot/billing/pkg/retry"
)

// api holds the Stripe calls used by the adapter, swappable in tests.
type api struct {
	newCustomer          func(params *stripe.CustomerParams) (*stripe.Customer, error)
	newPaymentMethod     func(params *stripe.PaymentMethodParams) (*stripe.PaymentMethod, error)
	attachPaymentMethod  func(id string, params *stripe.PaymentMethodAttachParams) (*stripe.PaymentMethod, error)
	newPaymentIntent     func(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	getPaymentIntent     func(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	confirmPaymentIntent func(id string, params *stripe.PaymentIntentConfirmParams) (*stripe.PaymentIntent, error)
	newRefund            func(params *stripe.RefundParams) (*stripe.Refund, error)
	getRefund            func(id string, params *stripe.RefundParams) (*stripe.Refund, error)
}

func newAPI(cfg Config) api {
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(cfg.BaseURL),
		HTTPClient:        &http.Client{Timeout: cfg.Timeout},
		MaxNetworkRetries: stripe.Int64(0), // retries are ours
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	})
	sc := &client.API{}
	sc.Init(cfg.APIKey, &stripe.Backends{API: backend, Uploads: backend})

	return api{
		newCustomer:          sc.Customers.New,
		newPaymentMethod:     sc.PaymentMethods.New,
		attachPaymentMethod:  sc.PaymentMethods.Attach,
		newPaymentIntent:     sc.PaymentIntents.New,
		getPaymentIntent:     sc.PaymentIntents.Get,
		confirmPaymentIntent: sc.PaymentIntents.Confirm,
		newRefund:            sc.Refunds.New,
		getRefund:            sc.Refunds.Get,
	}
}

// Stripe is the billing.Gateway backed by Stripe payment intents.
type Stripe struct {
	api     api
	retrier *retry.Retrier
	timeout time.Duration
	log     *slog.Logger
	metrics *Metrics
}

var _ billing.Gateway = (*Stripe)(nil)

// Option configures a Stripe adapter.
type Option func(*Stripe)

func WithLogger(l *slog.Logger) Option {
	return func(s *Stripe) {
		if l != nil {
			s.log = l
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(s *Stripe) {
		s.metrics = m
	}
}

// WithRetrier replaces the retrier built from Config.
func WithRetrier(r *retry.Retrier) Option {
	return func(s *Stripe) {
		s.retrier = r
	}
}

// NewStripe creates an adapter talking to the Stripe API described by cfg.
func NewStripe(cfg Config, opts ...Option) *Stripe {
	return newStripe(cfg, newAPI(cfg), opts...)
}

func newStripe(cfg Config, a api, opts ...Option) *Stripe {
	s := &Stripe{
		api:     a,
		timeout: cfg.Timeout,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(logger.Component("stripe"))
	if s.timeout <= 0 {
		s.timeout = 10 * time.Second
	}

	if s.retrier == nil {
		s.retrier = retry.New(
			retry.WithMaxAttempts(cfg.MaxAttempts),
			retry.WithBackoff(retry.ExponentialBackoff{
				InitialInterval: cfg.RetryInitial,
				MaxInterval:     cfg.RetryMax,
				Multiplier:      2,
				JitterFactor:    0.2,
			}),
			retry.WithBreaker(retry.BreakerSettings{
				Name:             "stripe",
				FailureThreshold: cfg.BreakerThreshold,
				OpenTimeout:      cfg.BreakerOpenTimeout,
				OnStateChange: func(name, from, to string) {
					s.log.Warn("circuit breaker state changed",
						slog.String("breaker", name), slog.String("from", from), slog.String("to", to))
					s.metrics.breakerState(name, to)
				},
			}),
		)
	}
	return s
}

// call runs fn through the retrier with a per-attempt timeout and maps the
// outcome onto the billing error taxonomy.
func call[T any](ctx context.Context, s *Stripe, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	started := time.Now()
	attempt := 0

	out, err := retry.Value(ctx, s.retrier, func(ctx context.Context) (T, error) {
		attempt++
		if attempt > 1 {
			s.metrics.retry(op)
			s.log.WarnContext(ctx, "retrying processor call",
				slog.String("operation", op), logger.RetryCount(attempt-1))
		}
		ctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		v, err := fn(ctx)
		return v, classify(err)
	})
	if err != nil {
		err = wrap(op, err)
	}
	s.metrics.observe(op, err, time.Since(started))
	return out, err
}

// classify marks errors that retrying cannot fix as permanent.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var se *stripe.Error
	if errors.As(err, &se) {
		switch {
		case se.Type == stripe.ErrorTypeCard:
			return retry.Permanent(errors.Join(billing.ErrGatewayRejected, err))
		case se.HTTPStatusCode == http.StatusUnauthorized, se.HTTPStatusCode == http.StatusForbidden:
			// Our credentials, not the customer's request.
			return retry.Permanent(errors.Join(billing.ErrGatewayUnavailable, err))
		case se.HTTPStatusCode == http.StatusTooManyRequests, se.HTTPStatusCode >= http.StatusInternalServerError:
			return err
		case se.HTTPStatusCode >= http.StatusBadRequest:
			return retry.Permanent(errors.Join(billing.ErrGatewayRejected, err))
		}
	}
	if errors.Is(err, context.Canceled) {
		return retry.Permanent(err)
	}
	return err
}

func wrap(op string, err error) error {
	switch {
	case errors.Is(err, billing.ErrGatewayRejected), errors.Is(err, billing.ErrGatewayUnavailable):
		return fmt.Errorf("stripe %s: %w", op, err)
	case errors.Is(err, context.Canceled):
		return err
	default:
		return fmt.Errorf("stripe %s: %w", op, errors.Join(billing.ErrGatewayUnavailable, err))
	}
}

func (s *Stripe) CreateCustomer(ctx context.Context, userID uuid.UUID, email string) (*billing.Customer, error) {
	return call(ctx, s, "create_customer", func(ctx context.Context) (*billing.Customer, error) {
		params := &stripe.CustomerParams{Email: stripe.String(email)}
		params.Context = ctx
		params.SetIdempotencyKey("customer-" + userID.String())
		params.AddMetadata("user_id", userID.String())

		c, err := s.api.newCustomer(params)
		if err != nil {
			return nil, err
		}
		return &billing.Customer{ID: c.ID, Email: c.Email}, nil
	})
}

func (s *Stripe) CreatePaymentMethod(ctx context.Context, card billing.Card) (*billing.PaymentMethodRef, error) {
	return call(ctx, s, "create_payment_method", func(ctx context.Context) (*billing.PaymentMethodRef, error) {
		params := &stripe.PaymentMethodParams{
			Type: stripe.String(string(stripe.PaymentMethodTypeCard)),
			Card: &stripe.PaymentMethodCardParams{
				Number:   stripe.String(card.Number),
				ExpMonth: stripe.Int64(int64(card.ExpMonth)),
				ExpYear:  stripe.Int64(int64(card.ExpYear)),
				CVC:      stripe.String(card.CVC),
			},
		}
		params.Context = ctx

		pm, err := s.api.newPaymentMethod(params)
		if err != nil {
			return nil, err
		}
		return &billing.PaymentMethodRef{ID: pm.ID, Type: string(pm.Type)}, nil
	})
}

func (s *Stripe) AttachPaymentMethod(ctx context.Context, methodID, customerID string) error {
	_, err := call(ctx, s, "attach_payment_method", func(ctx context.Context) (struct{}, error) {
		params := &stripe.PaymentMethodAttachParams{Customer: stripe.String(customerID)}
		params.Context = ctx

		_, err := s.api.attachPaymentMethod(methodID, params)
		return struct{}{}, err
	})
	return err
}

func (s *Stripe) CreatePayment(ctx context.Context, req billing.PaymentRequest) (*billing.Payment, error) {
	return call(ctx, s, "create_payment", func(ctx context.Context) (*billing.Payment, error) {
		return s.createIntent(ctx, req, false)
	})
}

func (s *Stripe) CreateRecurrentPayment(ctx context.Context, req billing.PaymentRequest) (*billing.Payment, error) {
	return call(ctx, s, "create_recurrent_payment", func(ctx context.Context) (*billing.Payment, error) {
		return s.createIntent(ctx, req, true)
	})
}

// createIntent creates a payment intent. Off-session intents are confirmed
// immediately against the stored method.
func (s *Stripe) createIntent(ctx context.Context, req billing.PaymentRequest, offSession bool) (*billing.Payment, error) {
	params := &stripe.PaymentIntentParams{
		Amount:             stripe.Int64(req.Amount),
		Currency:           stripe.String(req.Currency),
		Customer:           stripe.String(req.CustomerID),
		PaymentMethod:      stripe.String(req.MethodID),
		PaymentMethodTypes: stripe.StringSlice([]string{string(stripe.PaymentMethodTypeCard)}),
	}
	if req.ReceiptEmail != "" {
		params.ReceiptEmail = stripe.String(req.ReceiptEmail)
	}
	if offSession {
		params.Confirm = stripe.Bool(true)
		params.OffSession = stripe.Bool(true)
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	pi, err := s.api.newPaymentIntent(params)
	if err != nil {
		return nil, err
	}
	return toPayment(pi), nil
}

func (s *Stripe) ConfirmPayment(ctx context.Context, paymentID, methodID string) error {
	_, err := call(ctx, s, "confirm_payment", func(ctx context.Context) (struct{}, error) {
		params := &stripe.PaymentIntentConfirmParams{PaymentMethod: stripe.String(methodID)}
		params.Context = ctx

		_, err := s.api.confirmPaymentIntent(paymentID, params)
		return struct{}{}, err
	})
	return err
}

func (s *Stripe) GetPayment(ctx context.Context, paymentID string) (*billing.Payment, error) {
	return call(ctx, s, "get_payment", func(ctx context.Context) (*billing.Payment, error) {
		params := &stripe.PaymentIntentParams{}
		params.Context = ctx

		pi, err := s.api.getPaymentIntent(paymentID, params)
		if err != nil {
			return nil, err
		}
		return toPayment(pi), nil
	})
}

func (s *Stripe) CreateRefund(ctx context.Context, req billing.RefundRequest) (*billing.Refund, error) {
	return call(ctx, s, "create_refund", func(ctx context.Context) (*billing.Refund, error) {
		params := &stripe.RefundParams{
			PaymentIntent: stripe.String(req.PaymentID),
			Amount:        stripe.Int64(req.Amount),
		}
		params.Context = ctx
		params.SetIdempotencyKey(req.IdempotencyKey)
		for k, v := range req.Metadata {
			params.AddMetadata(k, v)
		}

		r, err := s.api.newRefund(params)
		if err != nil {
			return nil, err
		}
		return toRefund(r), nil
	})
}

func (s *Stripe) GetRefund(ctx context.Context, refundID string) (*billing.Refund, error) {
	return call(ctx, s, "get_refund", func(ctx context.Context) (*billing.Refund, error) {
		params := &stripe.RefundParams{}
		params.Context = ctx

		r, err := s.api.getRefund(refundID, params)
		if err != nil {
			return nil, err
		}
		return toRefund(r), nil
	})
}

func toPayment(pi *stripe.PaymentIntent) *billing.Payment {
	return &billing.Payment{
		ID:       pi.ID,
		Amount:   pi.Amount,
		Currency: string(pi.Currency),
		Status:   string(pi.Status),
		State:    paymentState(pi.Status),
	}
}

func toRefund(r *stripe.Refund) *billing.Refund {
	return &billing.Refund{
		ID:     r.ID,
		Amount: r.Amount,
		Status: string(r.Status),
		State:  refundState(r.Status),
	}
}

// paymentState folds intent statuses. requires_payment_method after a failed
// attempt is still recoverable by the customer, so it stays pending until the
// poll budget runs out.
func paymentState(status stripe.PaymentIntentStatus) billing.PaymentState {
	switch status {
	case stripe.PaymentIntentStatusSucceeded:
		return billing.PaymentSucceeded
	case stripe.PaymentIntentStatusCanceled:
		return billing.PaymentFailed
	default:
		return billing.PaymentPending
	}
}

func refundState(status stripe.RefundStatus) billing.PaymentState {
	switch status {
	case stripe.RefundStatusSucceeded:
		return billing.PaymentSucceeded
	case stripe.RefundStatusFailed, stripe.RefundStatusCanceled:
		return billing.PaymentFailed
	default:
		return billing.PaymentPending
	}
}
