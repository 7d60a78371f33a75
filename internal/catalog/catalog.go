// Package catalog loads the plan catalog from a YAML file and upserts it into
// the store at startup. Plans are matched on (title, period, tier); the file
// never deletes plans.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/dmitrymomot/billing/internal/billing"
	"github.com/dmitrymomot/billing/pkg/logger"
	"github.com/dmitrymomot/billing/pkg/validator"
)

var (
	Periods    = []int{30, 90, 180}
	Tiers      = []string{string(billing.TierBronze), string(billing.TierSilver), string(billing.TierGold)}
	Currencies = []string{"usd", "rub"}

	ErrInvalidCatalog = errors.New("catalog: invalid plan file")
)

type Config struct {
	PlansFile string `env:"PLANS_FILE"`
}

type planEntry struct {
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
	Period      int    `yaml:"period"`
	Tier        string `yaml:"tier"`
	Price       string `yaml:"price"`
	Currency    string `yaml:"currency"`
	Automatic   bool   `yaml:"automatic"`
}

type file struct {
	Plans []planEntry `yaml:"plans"`
}

// Decode parses and validates a catalog. All invalid entries are reported
// together, keyed as plans[i].field.
func Decode(r io.Reader) ([]billing.Plan, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f file
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, errors.Join(ErrInvalidCatalog, err)
	}

	plans := make([]billing.Plan, 0, len(f.Plans))
	var verrs validator.ValidationErrors
	seen := make(map[string]int, len(f.Plans))

	for i, e := range f.Plans {
		plan, err := e.plan(fmt.Sprintf("plans[%d]", i))
		if err != nil {
			verrs = append(verrs, validator.ExtractValidationErrors(err)...)
			continue
		}
		key := fmt.Sprintf("%s/%d/%s", plan.Title, plan.Period, plan.Tier)
		if j, dup := seen[key]; dup {
			return nil, fmt.Errorf("%w: plans[%d] duplicates plans[%d]", ErrInvalidCatalog, i, j)
		}
		seen[key] = i
		plans = append(plans, plan)
	}
	if len(verrs) > 0 {
		return nil, errors.Join(ErrInvalidCatalog, verrs)
	}
	return plans, nil
}

func (e planEntry) plan(prefix string) (billing.Plan, error) {
	currency := strings.ToLower(strings.TrimSpace(e.Currency))
	price, perr := decimal.NewFromString(strings.TrimSpace(e.Price))

	err := validator.Apply(
		validator.RequiredString(prefix+".title", e.Title),
		validator.MaxLenString(prefix+".title", e.Title, 255),
		validator.InList(prefix+".period", e.Period, Periods),
		validator.InList(prefix+".tier", e.Tier, Tiers),
		validator.ValidCurrencyCode(prefix+".currency", currency),
		validator.InList(prefix+".currency", currency, Currencies),
		validator.Rule{
			Check: func() bool { return perr == nil && price.IsPositive() && price.Exponent() >= -2 },
			Error: validator.ValidationError{
				Field:          prefix + ".price",
				Message:        "must be a positive amount with at most two decimals",
				TranslationKey: "validation.price",
			},
		},
	)
	if err != nil {
		return billing.Plan{}, err
	}

	return billing.Plan{
		Title:       strings.TrimSpace(e.Title),
		Description: e.Description,
		Period:      e.Period,
		Tier:        billing.Tier(e.Tier),
		Price:       price,
		Currency:    currency,
		Automatic:   e.Automatic,
	}, nil
}

func LoadFile(path string) ([]billing.Plan, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()
	return Decode(f)
}

// PlanSaver upserts a plan and fills its id.
type PlanSaver interface {
	SavePlan(ctx context.Context, p *billing.Plan) error
}

// Seed saves plans in one transaction when store supports it.
func Seed(ctx context.Context, store PlanSaver, plans []billing.Plan, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	log = log.With(logger.Component("catalog"))

	save := func(ctx context.Context) error {
		for i := range plans {
			if err := store.SavePlan(ctx, &plans[i]); err != nil {
				return fmt.Errorf("catalog: save %q: %w", plans[i].Title, err)
			}
			log.DebugContext(ctx, "plan saved",
				logger.PlanID(plans[i].ID),
				slog.String("title", plans[i].Title),
				slog.String("tier", string(plans[i].Tier)),
				slog.Int("period", plans[i].Period))
		}
		return nil
	}

	var err error
	if tx, ok := store.(interface {
		InTx(ctx context.Context, fn func(ctx context.Context) error) error
	}); ok {
		err = tx.InTx(ctx, save)
	} else {
		err = save(ctx)
	}
	if err != nil {
		return err
	}
	log.InfoContext(ctx, "plan catalog seeded", slog.Int("plans", len(plans)))
	return nil
}
