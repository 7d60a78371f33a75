// Package config groups the per-package settings each command of the billing
// binary needs. Every group is loaded through pkg/config, so a command only
// requires the variables of the components it starts.
package config

import (
	"errors"
	"fmt"

	"github.com/dmitrymomot/billing/internal/api"
	"github.com/dmitrymomot/billing/internal/billing"
	"github.com/dmitrymomot/billing/internal/capability"
	"github.com/dmitrymomot/billing/internal/catalog"
	"github.com/dmitrymomot/billing/internal/gateway"
	"github.com/dmitrymomot/billing/internal/scheduler"
	"github.com/dmitrymomot/billing/pkg/config"
	"github.com/dmitrymomot/billing/pkg/httpserver"
	"github.com/dmitrymomot/billing/pkg/jwt"
	"github.com/dmitrymomot/billing/pkg/logger"
	"github.com/dmitrymomot/billing/pkg/pg"
	"github.com/dmitrymomot/billing/pkg/ratelimiter"
	"github.com/dmitrymomot/billing/pkg/redis"
)

// Metrics is the listener of the Prometheus endpoint. Empty disables it.
type Metrics struct {
	Addr string `env:"METRICS_ADDR" envDefault:":9090"`
}

// Migrate is what the migrate command needs.
type Migrate struct {
	Logger   logger.Config
	Postgres pg.Config
}

// Engine is what an in-process reconciler needs: the store, the processor
// and the role service.
type Engine struct {
	Logger   logger.Config
	Postgres pg.Config
	Gateway  gateway.Config
	Roles    capability.Config
	Billing  billing.Config
}

func (c *Engine) Validate() error {
	return validateBilling(c.Billing)
}

// Server is what the serve command needs.
type Server struct {
	Logger    logger.Config
	Postgres  pg.Config
	Redis     redis.Config
	HTTP      httpserver.Config
	Metrics   Metrics
	Gateway   gateway.Config
	Roles     capability.Config
	JWT       jwt.Config
	Billing   billing.Config
	RateLimit ratelimiter.Config
	API       api.Config
	Catalog   catalog.Config

	// AutoMigrate applies pending migrations before the server starts.
	AutoMigrate bool `env:"PG_AUTO_MIGRATE" envDefault:"false"`
	// RateLimitMemory keeps rate limit buckets in process instead of Redis.
	RateLimitMemory bool `env:"RATE_LIMIT_MEMORY" envDefault:"false"`
}

func (c *Server) Validate() error {
	var errs []error
	if err := validateBilling(c.Billing); err != nil {
		errs = append(errs, err)
	}
	if c.RateLimit.Capacity <= 0 || c.RateLimit.RefillRate <= 0 || c.RateLimit.RefillInterval <= 0 {
		errs = append(errs, fmt.Errorf("rate limit: capacity, refill rate and interval must be positive"))
	}
	if len(c.JWT.Secret) < 32 {
		errs = append(errs, errors.New("jwt: secret must be at least 32 bytes"))
	}
	if c.Metrics.Addr != "" && c.Metrics.Addr == c.HTTP.Addr {
		errs = append(errs, errors.New("metrics: listener must differ from the api listener"))
	}
	return errors.Join(errs...)
}

// Scheduler is what the scheduler command needs.
type Scheduler struct {
	Logger    logger.Config
	Scheduler scheduler.Config
}

func (c *Scheduler) Validate() error {
	s := c.Scheduler
	if s.OrdersInterval <= 0 || s.RefundsInterval <= 0 || s.SubscriptionsInterval <= 0 {
		return errors.New("scheduler: intervals must be positive")
	}
	return nil
}

func validateBilling(c billing.Config) error {
	if c.SweepConcurrency < 1 {
		return errors.New("billing: sweep concurrency must be at least 1")
	}
	if c.MaxPollAttempts < 0 {
		return errors.New("billing: max poll attempts must not be negative")
	}
	return nil
}

func LoadMigrate() (Migrate, error) {
	var c Migrate
	if err := config.Load(&c); err != nil {
		return Migrate{}, err
	}
	return c, nil
}

func LoadEngine() (Engine, error) {
	var c Engine
	if err := config.Load(&c); err != nil {
		return Engine{}, err
	}
	return c, nil
}

func LoadServer() (Server, error) {
	var c Server
	if err := config.Load(&c); err != nil {
		return Server{}, err
	}
	return c, nil
}

func LoadScheduler() (Scheduler, error) {
	var c Scheduler
	if err := config.Load(&c); err != nil {
		return Scheduler{}, err
	}
	return c, nil
}
