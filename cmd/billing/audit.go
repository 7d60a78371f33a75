package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/dmitrymomot/billing/internal/config"
	"github.com/dmitrymomot/billing/pkg/audit"
)

type auditLister interface {
	ListByResource(ctx context.Context, resource, resourceID string) ([]audit.Event, error)
}

var auditResources = []string{"order", "subscription"}

func auditCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "audit (order|subscription) <id>",
		Short: "Print the audit trail of an order or subscription",
		Long:  "Prints every recorded event of the resource as JSON lines, oldest first. Use it to see when a refund was requested and when the processor confirmed it.",
		Args:  cobra.ExactArgs(2),
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

			return printAudit(ctx, eng.audit, args[0], args[1], cmd.OutOrStdout())
		},
	}
}

func printAudit(ctx context.Context, l auditLister, resource, id string, w io.Writer) error {
	if !slices.Contains(auditResources, resource) {
		return fmt.Errorf("unknown resource %q: expected order or subscription", resource)
	}
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("invalid %s id %q: %w", resource, id, err)
	}

	events, err := l.ListByResource(ctx, resource, id)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	for _, e := range events {
		if err := enc.Encode(e); err != nil {
			return err
		}
	}
	return nil
}
