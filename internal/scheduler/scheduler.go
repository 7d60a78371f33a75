package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/billing/internal/billing"
	"github.com/dmitrymomot/billing/pkg/logger"
	"github.com/dmitrymomot/billing/pkg/requestid"
	"github.com/dmitrymomot/billing/pkg/retry"
)

var (
	ErrNoJobs          = errors.New("scheduler: no jobs configured")
	ErrInvalidInterval = errors.New("scheduler: job interval must be positive")
	errUnexpected      = errors.New("scheduler: unexpected response")
)

// Scheduler runs jobs against the billing API. Zero value is not usable; use New.
type Scheduler struct {
	cfg  Config
	jobs []Job
	http *http.Client
	log  *slog.Logger
}

// Option configures a Scheduler.
type Option func(*Scheduler)

func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.log = l
		}
	}
}

func WithHTTPClient(c *http.Client) Option {
	return func(s *Scheduler) {
		if c != nil {
			s.http = c
		}
	}
}

// WithJobs replaces DefaultJobs.
func WithJobs(jobs ...Job) Option {
	return func(s *Scheduler) {
		s.jobs = jobs
	}
}

// New creates a scheduler running the default jobs.
func New(cfg Config, opts ...Option) *Scheduler {
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = time.Minute
	}
	s := &Scheduler{
		cfg:  cfg,
		jobs: DefaultJobs(cfg),
		http: &http.Client{
			Timeout:   cfg.RequestTimeout,
			Transport: &requestid.Transport{Base: http.DefaultTransport},
		},
		log: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(logger.Component("scheduler"))
	return s
}

// Run blocks until ctx is canceled, running every job on its own cadence.
func (s *Scheduler) Run(ctx context.Context) error {
	if len(s.jobs) == 0 {
		return ErrNoJobs
	}
	for _, j := range s.jobs {
		if j.Interval <= 0 {
			return fmt.Errorf("%w: %s", ErrInvalidInterval, j.Name)
		}
	}

	s.log.InfoContext(ctx, "scheduler started",
		slog.String("base_url", s.cfg.BaseURL), slog.Int("jobs", len(s.jobs)))

	g, ctx := errgroup.WithContext(ctx)
	for _, j := range s.jobs {
		g.Go(func() error {
			s.loop(ctx, j)
			return nil
		})
	}
	_ = g.Wait()
	s.log.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) loop(ctx context.Context, j Job) {
	backoff := retry.ExponentialBackoff{
		InitialInterval: 2 * j.Interval,
		MaxInterval:     max(s.cfg.MaxBackoff, j.Interval),
		Multiplier:      2,
	}
	failures := 0

	for {
		delay := j.Interval
		if err := s.RunJob(ctx, j); err != nil {
			if ctx.Err() != nil {
				return
			}
			failures++
			delay = backoff.NextInterval(failures)
			s.log.WarnContext(ctx, "job failed",
				slog.String("job", j.Name), logger.RetryCount(failures),
				logger.Duration(delay), logger.Error(err))
		} else {
			failures = 0
		}

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// RunJob makes the calls of j once. Each run gets its own request id.
func (s *Scheduler) RunJob(ctx context.Context, j Job) error {
	ctx = requestid.New(ctx)
	for _, c := range j.Calls {
		res, err := s.call(ctx, c)
		if err != nil {
			return fmt.Errorf("%s %s: %w", c.Method, c.Path, err)
		}
		level := slog.LevelDebug
		if res.Changed > 0 || res.Failed > 0 {
			level = slog.LevelInfo
		}
		s.log.Log(ctx, level, "sweep finished",
			slog.String("job", j.Name),
			logger.Sweep(res.Sweep),
			logger.RequestID(requestid.FromContext(ctx)),
			slog.Int("checked", res.Checked),
			slog.Int("changed", res.Changed),
			slog.Int("failed", res.Failed))
	}
	return nil
}

func (s *Scheduler) call(ctx context.Context, c Call) (billing.SweepResult, error) {
	var res billing.SweepResult

	req, err := http.NewRequestWithContext(ctx, c.Method, strings.TrimRight(s.cfg.BaseURL, "/")+c.Path, nil)
	if err != nil {
		return res, err
	}
	req.Header.Set("X-Scheduler-Token", s.cfg.Token)
	req.Header.Set("Accept", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return res, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return res, fmt.Errorf("%w %d: %s", errUnexpected, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var envelope struct {
		Data billing.SweepResult `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return res, fmt.Errorf("decode response: %w", err)
	}
	return envelope.Data, nil
}
