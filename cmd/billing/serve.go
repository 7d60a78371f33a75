package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/billing/internal/api"
	"github.com/dmitrymomot/billing/internal/catalog"
	"github.com/dmitrymomot/billing/internal/config"
	"github.com/dmitrymomot/billing/internal/db/migrations"
	"github.com/dmitrymomot/billing/pkg/httpserver"
	"github.com/dmitrymomot/billing/pkg/jwt"
	"github.com/dmitrymomot/billing/pkg/logger"
	"github.com/dmitrymomot/billing/pkg/pg"
	"github.com/dmitrymomot/billing/pkg/ratelimiter"
	"github.com/dmitrymomot/billing/pkg/redis"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the billing HTTP API and the metrics listener",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadServer()
			if err != nil {
				return err
			}
			log, err := newLogger(cfg.Logger)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, log)
		},
	}
}

func serve(ctx context.Context, cfg config.Server, log *slog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	eng, err := newEngine(ctx, config.Engine{
		Logger:   cfg.Logger,
		Postgres: cfg.Postgres,
		Gateway:  cfg.Gateway,
		Roles:    cfg.Roles,
		Billing:  cfg.Billing,
	}, log, reg)
	if err != nil {
		return err
	}
	defer eng.Close()

	if cfg.AutoMigrate {
		if err := pg.Migrate(ctx, eng.pool, migrations.FS, migrations.Dir, cfg.Postgres, log); err != nil {
			return err
		}
	}

	if cfg.Catalog.PlansFile != "" {
		plans, err := catalog.LoadFile(cfg.Catalog.PlansFile)
		if err != nil {
			return err
		}
		if err := catalog.Seed(ctx, eng.store, plans, log); err != nil {
			return err
		}
	}

	checks := []httpserver.Check{{Name: "postgres", Fn: pg.Healthcheck(eng.pool)}}

	var store ratelimiter.Store
	if cfg.RateLimitMemory {
		store = ratelimiter.NewMemoryStore()
	} else {
		client, err := redis.Connect(ctx, cfg.Redis)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer func() {
			if err := client.Close(); err != nil {
				log.Error("failed to close redis client", logger.Error(err))
			}
		}()
		store = ratelimiter.NewRedisStore(client, ratelimiter.WithKeyPrefix("billing:ratelimit:"))
		checks = append(checks, httpserver.Check{Name: "redis", Fn: redis.Healthcheck(client)})
	}
	limiter, err := ratelimiter.NewBucket(store, cfg.RateLimit)
	if err != nil {
		return err
	}

	verifier, err := jwt.New(cfg.JWT)
	if err != nil {
		return err
	}

	srv := api.New(cfg.API, eng.svc, eng.rec, verifier,
		api.WithLogger(log),
		api.WithRateLimiter(limiter),
		api.WithReadinessChecks(checks...),
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return httpserver.New(cfg.HTTP, httpserver.WithLogger(log), httpserver.WithName("api")).
			Run(ctx, srv.Handle())
	})
	if cfg.Metrics.Addr != "" {
		metricsCfg := cfg.HTTP
		metricsCfg.Addr = cfg.Metrics.Addr

		r := chi.NewRouter()
		r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		g.Go(func() error {
			return httpserver.New(metricsCfg, httpserver.WithLogger(log), httpserver.WithName("metrics")).
				Run(ctx, r)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
