package postgres

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/dmitrymomot/billing/internal/billing"
)

// subscriptionColumns lists subscription columns under alias a, taking the
// status from statusExpr so bulk updates can return the previous status.
func subscriptionColumns(a, statusExpr string) string {
	return fmt.Sprintf(`%[1]s.id, %[1]s.user_id, %[1]s.order_id, %[1]s.start_date, %[1]s.end_date, %[2]s,
		%[1]s.refund_requested_at, %[1]s.refund_confirmed_at, %[1]s.created_at, %[1]s.updated_at, `, a, statusExpr) +
		planColumns("p")
}

func scanSubscription(row pgx.Row) (billing.UserSubscription, error) {
	var (
		sub   billing.UserSubscription
		price string
	)
	dest := []any{
		&sub.ID, &sub.UserID, &sub.OrderID, &sub.StartDate, &sub.EndDate, &sub.Status,
		&sub.RefundRequestedAt, &sub.RefundConfirmedAt, &sub.CreatedAt, &sub.UpdatedAt,
	}
	dest = append(dest, planDest(&sub.Plan, &price)...)
	if err := row.Scan(dest...); err != nil {
		return billing.UserSubscription{}, err
	}
	var err error
	if sub.Plan.Price, err = decimal.NewFromString(price); err != nil {
		return billing.UserSubscription{}, fmt.Errorf("plan %s price: %w", sub.Plan.ID, err)
	}
	return sub, nil
}

func (s *Store) CreateSubscription(ctx context.Context, sub *billing.UserSubscription) error {
	query := `
		INSERT INTO user_subscriptions (
			id, user_id, plan_id, order_id, start_date, end_date, status,
			refund_requested_at, refund_confirmed_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := s.db(ctx).Exec(ctx, query,
		sub.ID,
		sub.UserID,
		sub.Plan.ID,
		sub.OrderID,
		sub.StartDate,
		sub.EndDate,
		string(sub.Status),
		sub.RefundRequestedAt,
		sub.RefundConfirmedAt,
		sub.CreatedAt,
		sub.UpdatedAt,
	)
	return mapError(err, "create subscription")
}

// subscriptionConditions builds the filter over aliases s (subscription) and p (plan).
func subscriptionConditions(f billing.SubscriptionFilter) *conditions {
	c := new(conditions)
	if f.UserID != nil {
		c.add("s.user_id = ?", *f.UserID)
	}
	if f.PlanID != nil {
		c.add("s.plan_id = ?", *f.PlanID)
	}
	if f.OrderID != nil {
		c.add("s.order_id = ?", *f.OrderID)
	}
	if len(f.Statuses) > 0 {
		c.add("s.status = ANY(?)", statusStrings(f.Statuses))
	}
	if f.Automatic != nil {
		c.add("p.automatic = ?", *f.Automatic)
	}
	if f.EndDate != nil {
		c.add("s.end_date = ?::date", billing.Date(*f.EndDate))
	}
	if f.EndDateOnOrBefore != nil {
		c.add("s.end_date <= ?::date", billing.Date(*f.EndDateOnOrBefore))
	}
	if f.StartDateOnOrBefore != nil {
		c.add("s.start_date <= ?::date", billing.Date(*f.StartDateOnOrBefore))
	}
	return c
}

func (s *Store) ListSubscriptions(ctx context.Context, f billing.SubscriptionFilter) ([]billing.UserSubscription, error) {
	c := subscriptionConditions(f)
	query := `SELECT ` + subscriptionColumns("s", "s.status") + `
		FROM user_subscriptions s
		JOIN plans p ON p.id = s.plan_id` + c.where() + `
		ORDER BY s.start_date, s.created_at`

	rows, err := s.db(ctx).Query(ctx, query, c.args...)
	if err != nil {
		return nil, mapError(err, "list subscriptions")
	}
	subs, err := collect(rows, scanSubscription)
	return subs, mapError(err, "list subscriptions")
}

func (s *Store) UpdateSubscription(ctx context.Context, id uuid.UUID, expected []billing.SubscriptionStatus, patch billing.SubscriptionPatch) error {
	var status *string
	if patch.Status != nil {
		status = new(string)
		*status = string(*patch.Status)
	}
	query := `
		UPDATE user_subscriptions SET
			status = COALESCE($3, status),
			refund_requested_at = COALESCE($4, refund_requested_at),
			refund_confirmed_at = COALESCE($5, refund_confirmed_at),
			updated_at = NOW()
		WHERE id = $1 AND status = ANY($2)
	`
	tag, err := s.db(ctx).Exec(ctx, query,
		id, statusStrings(expected), status, patch.RefundRequestedAt, patch.RefundConfirmedAt,
	)
	if err != nil {
		return mapError(err, "update subscription "+id.String())
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var current string
	err = s.db(ctx).QueryRow(ctx, `SELECT status FROM user_subscriptions WHERE id = $1`, id).Scan(&current)
	if err != nil {
		return mapError(err, "subscription "+id.String())
	}
	return fmt.Errorf("%w: subscription %s is %s", billing.ErrStaleState, id, current)
}

// TransitionSubscriptions locks the matching rows, updates them in one statement
// and returns them with the status they had before.
func (s *Store) TransitionSubscriptions(ctx context.Context, f billing.SubscriptionFilter, to billing.SubscriptionStatus) ([]billing.UserSubscription, error) {
	c := subscriptionConditions(f)
	c.args = append(c.args, string(to))
	toArg := "$" + strconv.Itoa(len(c.args))

	query := `
		WITH target AS (
			SELECT s.id, s.status
			FROM user_subscriptions s
			JOIN plans p ON p.id = s.plan_id` + c.where() + `
			FOR UPDATE OF s
		)
		UPDATE user_subscriptions s SET status = ` + toArg + `, updated_at = NOW()
		FROM target, plans p
		WHERE s.id = target.id AND p.id = s.plan_id
		RETURNING ` + subscriptionColumns("s", "target.status")

	rows, err := s.db(ctx).Query(ctx, query, c.args...)
	if err != nil {
		return nil, mapError(err, "transition subscriptions")
	}
	subs, err := collect(rows, scanSubscription)
	return subs, mapError(err, "transition subscriptions")
}
