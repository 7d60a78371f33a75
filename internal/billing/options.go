package billing

import (
	"log/slog"
	"time"

	"github.com/dmitrymomot/billing/pkg/audit"
)

// Config tunes the engine. Loaded from the environment by the binary.
type Config struct {
	// MaxPollAttempts is how many inconclusive polls an order survives before it is
	// moved to error. Zero disables the limit.
	MaxPollAttempts int `env:"BILLING_MAX_POLL_ATTEMPTS" envDefault:"720"`
	// ResumeCreatedAfter is how old a created order must be before a sweep
	// resubmits it. Younger ones may still be in flight in a request handler.
	ResumeCreatedAfter time.Duration `env:"BILLING_RESUME_CREATED_AFTER" envDefault:"1m"`
	// SweepConcurrency bounds the parallel gateway calls of one sweep.
	SweepConcurrency int `env:"BILLING_SWEEP_CONCURRENCY" envDefault:"4"`
}

// DefaultConfig mirrors the env defaults for code that does not load them.
func DefaultConfig() Config {
	return Config{
		MaxPollAttempts:    720,
		ResumeCreatedAfter: time.Minute,
		SweepConcurrency:   4,
	}
}

// Option configures the engine behind Service and Reconciler.
type Option func(*engine)

func WithLogger(l *slog.Logger) Option {
	return func(e *engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithClock replaces time.Now. Dates are derived from it in UTC.
func WithClock(now func() time.Time) Option {
	return func(e *engine) {
		if now != nil {
			e.now = now
		}
	}
}

func WithConfig(cfg Config) Option {
	return func(e *engine) {
		if cfg.SweepConcurrency <= 0 {
			cfg.SweepConcurrency = 1
		}
		e.cfg = cfg
	}
}

func WithMetrics(m *Metrics) Option {
	return func(e *engine) {
		e.metrics = m
	}
}

// WithAuditLog records order and subscription transitions, refund requests and
// refund confirmations.
func WithAuditLog(l *audit.Logger) Option {
	return func(e *engine) {
		e.auditLog = l
	}
}
