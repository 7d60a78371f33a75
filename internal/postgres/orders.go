package postgres

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/dmitrymomot/billing/internal/billing"
)

const paymentMethodColumns = `id, user_id, external_id, type, customer_id, created_at`

func (s *Store) CreatePaymentMethod(ctx context.Context, m *billing.PaymentMethod) error {
	query := `INSERT INTO payment_methods (` + paymentMethodColumns + `) VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := s.db(ctx).Exec(ctx, query,
		m.ID, m.UserID, m.ExternalID, m.Type, m.CustomerID, m.CreatedAt,
	)
	return mapError(err, "create payment method")
}

func (s *Store) LastPaymentMethod(ctx context.Context, userID uuid.UUID) (*billing.PaymentMethod, error) {
	query := `SELECT ` + paymentMethodColumns + ` FROM payment_methods
		WHERE user_id = $1 ORDER BY created_at DESC LIMIT 1`
	var m billing.PaymentMethod
	err := s.db(ctx).QueryRow(ctx, query, userID).Scan(
		&m.ID, &m.UserID, &m.ExternalID, &m.Type, &m.CustomerID, &m.CreatedAt,
	)
	if err != nil {
		return nil, mapError(err, "payment method of user "+userID.String())
	}
	return &m, nil
}

var orderSelect = `
	SELECT o.id, COALESCE(o.external_id, ''), o.user_id, o.user_email, o.status, o.payment_system,
		o.currency, o.discount, o.total_cost::text, o.refund, o.parent_id, o.poll_attempts,
		o.failure_reason, o.created_at, o.updated_at,
		m.id, m.user_id, m.external_id, m.type, m.customer_id, m.created_at,
		` + planColumns("p") + `
	FROM orders o
	JOIN plans p ON p.id = o.plan_id
	LEFT JOIN payment_methods m ON m.id = o.payment_method_id`

func scanOrder(row pgx.Row) (billing.Order, error) {
	var (
		o         billing.Order
		total     string
		planPrice string
		mID       *uuid.UUID
		mUserID   *uuid.UUID
		mExtID    *string
		mType     *string
		mCustomer *string
		mCreated  *time.Time
	)
	dest := []any{
		&o.ID, &o.ExternalID, &o.UserID, &o.UserEmail, &o.Status, &o.PaymentSystem,
		&o.Currency, &o.Discount, &total, &o.Refund, &o.ParentID, &o.PollAttempts,
		&o.FailureReason, &o.CreatedAt, &o.UpdatedAt,
		&mID, &mUserID, &mExtID, &mType, &mCustomer, &mCreated,
	}
	dest = append(dest, planDest(&o.Plan, &planPrice)...)
	if err := row.Scan(dest...); err != nil {
		return billing.Order{}, err
	}

	var err error
	if o.TotalCost, err = decimal.NewFromString(total); err != nil {
		return billing.Order{}, fmt.Errorf("order %s total: %w", o.ID, err)
	}
	if o.Plan.Price, err = decimal.NewFromString(planPrice); err != nil {
		return billing.Order{}, fmt.Errorf("plan %s price: %w", o.Plan.ID, err)
	}
	if mID != nil {
		o.PaymentMethod = &billing.PaymentMethod{
			ID:         *mID,
			UserID:     *mUserID,
			ExternalID: *mExtID,
			Type:       *mType,
			CustomerID: *mCustomer,
			CreatedAt:  *mCreated,
		}
	}
	return o, nil
}

func (s *Store) CreateOrder(ctx context.Context, o *billing.Order) error {
	var methodID *uuid.UUID
	if o.PaymentMethod != nil {
		methodID = &o.PaymentMethod.ID
	}
	query := `
		INSERT INTO orders (
			id, external_id, user_id, user_email, plan_id, status, payment_system, currency,
			discount, total_cost, payment_method_id, refund, parent_id, poll_attempts,
			failure_reason, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::numeric, $11, $12, $13, $14, $15, $16, $17)
	`
	_, err := s.db(ctx).Exec(ctx, query,
		o.ID,
		nullableString(o.ExternalID),
		o.UserID,
		o.UserEmail,
		o.Plan.ID,
		string(o.Status),
		string(o.PaymentSystem),
		o.Currency,
		o.Discount,
		o.TotalCost.StringFixed(2),
		nullableUUID(methodID),
		o.Refund,
		nullableUUID(o.ParentID),
		o.PollAttempts,
		o.FailureReason,
		o.CreatedAt,
		o.UpdatedAt,
	)
	return mapError(err, "create order")
}

func (s *Store) GetOrder(ctx context.Context, id uuid.UUID) (*billing.Order, error) {
	o, err := scanOrder(s.db(ctx).QueryRow(ctx, orderSelect+` WHERE o.id = $1`, id))
	if err != nil {
		return nil, mapError(err, "order "+id.String())
	}
	return &o, nil
}

func (s *Store) GetOrderByExternalID(ctx context.Context, externalID string) (*billing.Order, error) {
	o, err := scanOrder(s.db(ctx).QueryRow(ctx, orderSelect+` WHERE o.external_id = $1`, externalID))
	if err != nil {
		return nil, mapError(err, "order "+strconv.Quote(externalID))
	}
	return &o, nil
}

func (s *Store) ListOrders(ctx context.Context, f billing.OrderFilter) ([]billing.Order, error) {
	var c conditions
	if f.UserID != nil {
		c.add("o.user_id = ?", *f.UserID)
	}
	if f.PlanID != nil {
		c.add("o.plan_id = ?", *f.PlanID)
	}
	if f.ParentID != nil {
		c.add("o.parent_id = ?", *f.ParentID)
	}
	if f.Refund != nil {
		c.add("o.refund = ?", *f.Refund)
	}
	if len(f.Statuses) > 0 {
		c.add("o.status = ANY(?)", statusStrings(f.Statuses))
	}
	if f.ExternalID != "" {
		c.add("o.external_id = ?", f.ExternalID)
	}
	if f.CreatedBefore != nil {
		c.add("o.created_at < ?", *f.CreatedBefore)
	}

	query := orderSelect + c.where() + ` ORDER BY o.created_at`
	if f.NewestFirst {
		query += ` DESC`
	}
	if f.Limit > 0 {
		query += ` LIMIT ` + strconv.Itoa(f.Limit)
	}

	rows, err := s.db(ctx).Query(ctx, query, c.args...)
	if err != nil {
		return nil, mapError(err, "list orders")
	}
	orders, err := collect(rows, scanOrder)
	return orders, mapError(err, "list orders")
}

func (s *Store) UpdateOrder(ctx context.Context, id uuid.UUID, expected billing.OrderStatus, patch billing.OrderPatch) error {
	var status *string
	if patch.Status != nil {
		status = new(string)
		*status = string(*patch.Status)
	}
	query := `
		UPDATE orders SET
			status = COALESCE($3, status),
			external_id = COALESCE($4, external_id),
			poll_attempts = COALESCE($5, poll_attempts),
			failure_reason = COALESCE($6, failure_reason),
			updated_at = NOW()
		WHERE id = $1 AND status = $2
	`
	tag, err := s.db(ctx).Exec(ctx, query,
		id, string(expected), status, patch.ExternalID, patch.PollAttempts, patch.FailureReason,
	)
	if err != nil {
		return mapError(err, "update order "+id.String())
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var current string
	err = s.db(ctx).QueryRow(ctx, `SELECT status FROM orders WHERE id = $1`, id).Scan(&current)
	if err != nil {
		return mapError(err, "order "+id.String())
	}
	return fmt.Errorf("%w: order %s is %s, expected %s", billing.ErrStaleState, id, current, expected)
}
