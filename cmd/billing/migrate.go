package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dmitrymomot/billing/internal/config"
	"github.com/dmitrymomot/billing/internal/db/migrations"
	"github.com/dmitrymomot/billing/pkg/pg"
)

func migrateCmd() *cobra.Command {
	var status bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			cfg, err := config.LoadMigrate()
			if err != nil {
				return err
			}
			log, err := newLogger(cfg.Logger)
			if err != nil {
				return err
			}

			pool, err := pg.Connect(ctx, cfg.Postgres)
			if err != nil {
				return fmt.Errorf("connect postgres: %w", err)
			}
			defer pool.Close()

			if status {
				return pg.MigrationStatus(ctx, pool, migrations.FS, migrations.Dir, cfg.Postgres, log)
			}
			if err := pg.Migrate(ctx, pool, migrations.FS, migrations.Dir, cfg.Postgres, log); err != nil {
				return err
			}
			log.InfoContext(ctx, "migrations applied")
			return nil
		},
	}

	cmd.Flags().BoolVar(&status, "status", false, "print the state of every migration instead of applying them")

	return cmd
}
