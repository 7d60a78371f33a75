package main

import (
	"github.com/spf13/cobra"

	"github.com/dmitrymomot/billing/internal/config"
	"github.com/dmitrymomot/billing/internal/scheduler"
)

func schedulerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scheduler",
		Short: "Trigger reconciliation sweeps on a running server at fixed intervals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadScheduler()
			if err != nil {
				return err
			}
			log, err := newLogger(cfg.Logger)
			if err != nil {
				return err
			}
			return scheduler.New(cfg.Scheduler, scheduler.WithLogger(log)).Run(cmd.Context())
		},
	}
}
