package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dmitrymomot/billing/internal/billing"
	"github.com/dmitrymomot/billing/internal/capability"
	"github.com/dmitrymomot/billing/internal/config"
	"github.com/dmitrymomot/billing/internal/gateway"
	"github.com/dmitrymomot/billing/internal/postgres"
	"github.com/dmitrymomot/billing/pkg/audit"
	"github.com/dmitrymomot/billing/pkg/pg"
	"github.com/dmitrymomot/billing/pkg/requestid"
)

type engine struct {
	pool  *pgxpool.Pool
	store *postgres.Store
	audit *postgres.AuditStore
	svc   billing.Service
	rec   billing.Reconciler
}

// newEngine connects to Postgres and wires the billing engine to Stripe and the
// role service. reg may be nil when metrics are not exported.
func newEngine(ctx context.Context, cfg config.Engine, log *slog.Logger, reg prometheus.Registerer) (*engine, error) {
	pool, err := pg.Connect(ctx, cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store := postgres.NewStore(pool, cfg.Postgres)
	auditStore := postgres.NewAuditStore(pool)
	auditLog := audit.NewLogger(auditStore, audit.WithRequestIDExtractor(requestIDFromContext))

	gwOpts := []gateway.Option{gateway.WithLogger(log)}
	opts := []billing.Option{
		billing.WithLogger(log),
		billing.WithConfig(cfg.Billing),
		billing.WithAuditLog(auditLog),
	}
	if reg != nil {
		gwOpts = append(gwOpts, gateway.WithMetrics(gateway.NewMetrics(reg)))
		opts = append(opts, billing.WithMetrics(billing.NewMetrics(reg)))
	}
	gw := gateway.NewStripe(cfg.Gateway, gwOpts...)
	roles := capability.New(cfg.Roles, capability.WithLogger(log))

	return &engine{
		pool:  pool,
		store: store,
		audit: auditStore,
		svc:   billing.NewService(store, gw, roles, opts...),
		rec:   billing.NewReconciler(store, gw, roles, opts...),
	}, nil
}

func requestIDFromContext(ctx context.Context) (string, bool) {
	id := requestid.FromContext(ctx)
	return id, id != ""
}

func (e *engine) Close() {
	e.pool.Close()
}
