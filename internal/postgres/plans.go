package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/dmitrymomot/billing/internal/billing"
)

// planColumns lists the plan columns under table alias a, in scanPlan order.
func planColumns(a string) string {
	return fmt.Sprintf(`%[1]s.id, %[1]s.title, %[1]s.description, %[1]s.period, %[1]s.tier,
		%[1]s.price::text, %[1]s.currency, %[1]s.automatic, %[1]s.created_at, %[1]s.updated_at`, a)
}

func planDest(p *billing.Plan, price *string) []any {
	return []any{
		&p.ID, &p.Title, &p.Description, &p.Period, &p.Tier,
		price, &p.Currency, &p.Automatic, &p.CreatedAt, &p.UpdatedAt,
	}
}

func scanPlan(row pgx.Row) (billing.Plan, error) {
	var (
		p     billing.Plan
		price string
	)
	if err := row.Scan(planDest(&p, &price)...); err != nil {
		return billing.Plan{}, err
	}
	var err error
	if p.Price, err = decimal.NewFromString(price); err != nil {
		return billing.Plan{}, fmt.Errorf("plan %s price: %w", p.ID, err)
	}
	return p, nil
}

func (s *Store) GetPlan(ctx context.Context, id uuid.UUID) (*billing.Plan, error) {
	query := `SELECT ` + planColumns("p") + ` FROM plans p WHERE p.id = $1`
	p, err := scanPlan(s.db(ctx).QueryRow(ctx, query, id))
	if err != nil {
		return nil, mapError(err, "plan "+id.String())
	}
	return &p, nil
}

func (s *Store) ListPlans(ctx context.Context) ([]billing.Plan, error) {
	query := `SELECT ` + planColumns("p") + ` FROM plans p ORDER BY p.price, p.created_at`
	rows, err := s.db(ctx).Query(ctx, query)
	if err != nil {
		return nil, mapError(err, "list plans")
	}
	plans, err := collect(rows, scanPlan)
	return plans, mapError(err, "list plans")
}

func (s *Store) SavePlan(ctx context.Context, p *billing.Plan) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	query := `
		INSERT INTO plans (id, title, description, period, tier, price, currency, automatic)
		VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8)
		ON CONFLICT (title, period, tier) DO UPDATE SET
			description = EXCLUDED.description,
			price = EXCLUDED.price,
			currency = EXCLUDED.currency,
			automatic = EXCLUDED.automatic,
			updated_at = NOW()
		RETURNING id, created_at, updated_at
	`
	err := s.db(ctx).QueryRow(ctx, query,
		p.ID,
		p.Title,
		p.Description,
		p.Period,
		string(p.Tier),
		p.Price.StringFixed(2),
		p.Currency,
		p.Automatic,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	return mapError(err, "save plan "+p.Title)
}
