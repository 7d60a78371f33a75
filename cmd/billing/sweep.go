package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dmitrymomot/billing/internal/billing"
	"github.com/dmitrymomot/billing/internal/config"
	"github.com/dmitrymomot/billing/pkg/logger"
)

// sweepOrder is the order used when no sweep is named. Expired subscriptions
// are disabled before queued ones are enabled, and renewals run last.
var sweepOrder = []string{"orders", "refunds", "disable", "enable", "renew"}

var errUnknownSweep = errors.New("unknown sweep")

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "sweep [orders|refunds|disable|enable|renew]...",
		Short:     "Run reconciliation sweeps once against the database and exit",
		Long:      "Runs the named sweeps in-process, or all of them when none is named, and prints one JSON result per sweep.",
		ValidArgs: sweepOrder,
		Args:      cobra.OnlyValidArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := config.LoadEngine()
			if err != nil {
				return err
			}
			log, err := newLogger(cfg.Logger)
			if err != nil {
				return err
			}

			eng, err := newEngine(ctx, cfg, log, nil)
			if err != nil {
				return err
			}
			defer eng.Close()

			return runSweeps(ctx, eng.rec, args, cmd.OutOrStdout(), log)
		},
	}
}

// runSweeps runs the named sweeps in their canonical order. A failing sweep
// does not stop the ones after it.
func runSweeps(ctx context.Context, rec billing.Reconciler, names []string, w io.Writer, log *slog.Logger) error {
	sweeps := map[string]func(context.Context) (billing.SweepResult, error){
		"orders":  rec.PollProcessingOrders,
		"refunds": rec.PollProcessingRefunds,
		"disable": rec.DisableExpiredSubscriptions,
		"enable":  rec.EnablePreactiveSubscriptions,
		"renew":   rec.ExpireActiveAutomaticSubscriptions,
	}
	for _, n := range names {
		if _, ok := sweeps[n]; !ok {
			return fmt.Errorf("%w %q: expected one of %s", errUnknownSweep, n, strings.Join(sweepOrder, ", "))
		}
	}

	enc := json.NewEncoder(w)
	var errs []error
	for _, name := range sweepOrder {
		if len(names) > 0 && !slices.Contains(names, name) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		res, err := sweeps[name](ctx)
		if err != nil {
			log.ErrorContext(ctx, "sweep failed", logger.Sweep(name), logger.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		if err := enc.Encode(res); err != nil {
			return err
		}
	}
	return errors.Join(errs...)
}
