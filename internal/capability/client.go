// Package capability grants and revokes subscriber roles in the authorization
// service over HTTP.
package capability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billing/internal/billing"
	"github.com/dmitrymomot/billing/pkg/logger"
	"github.com/dmitrymomot/billing/pkg/retry"
)

const userRolePath = "/api/v1/authorization/user_role/"

var errUnexpectedStatus = errors.New("capability: unexpected response status")

// Client implements billing.Capabilities against the role service.
// Zero value is not usable; use New.
type Client struct {
	endpoint string
	http     *http.Client
	retrier  *retry.Retrier
	log      *slog.Logger
}

var _ billing.Capabilities = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithHTTPClient replaces the default client, e.g. with an httptest one.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

func WithRetrier(r *retry.Retrier) Option {
	return func(c *Client) {
		c.retrier = r
	}
}

// New creates a role service client. A zero timeout means five seconds.
func New(cfg Config, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	c := &Client{
		endpoint: strings.TrimRight(cfg.BaseURL, "/") + userRolePath,
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		log: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With(logger.Component("capability"))

	if c.retrier == nil {
		c.retrier = retry.New(
			retry.WithMaxAttempts(cfg.MaxAttempts),
			retry.WithBackoff(retry.ExponentialBackoff{
				InitialInterval: cfg.RetryInitial,
				MaxInterval:     cfg.RetryMax,
				Multiplier:      2,
				JitterFactor:    0.2,
			}),
			retry.WithBreaker(retry.BreakerSettings{
				Name:             "roles",
				FailureThreshold: cfg.BreakerThreshold,
				OpenTimeout:      cfg.BreakerOpenTimeout,
				OnStateChange: func(name, from, to string) {
					c.log.Warn("circuit breaker state changed",
						slog.String("breaker", name), slog.String("from", from), slog.String("to", to))
				},
			}),
			retry.WithOnRetry(func(attempt int, delay time.Duration, err error) {
				c.log.Warn("retrying role service call",
					logger.RetryCount(attempt), logger.Duration(delay), logger.Error(err))
			}),
		)
	}
	return c
}

type userRole struct {
	UserID    string `json:"user_id"`
	RoleTitle string `json:"role_title"`
}

// Grant links role to the user. A role the user already holds is not an error.
func (c *Client) Grant(ctx context.Context, userID uuid.UUID, role string) error {
	return c.send(ctx, http.MethodPost, userID, role, http.StatusConflict)
}

// Revoke unlinks role from the user. A role the user does not hold is not an error.
func (c *Client) Revoke(ctx context.Context, userID uuid.UUID, role string) error {
	return c.send(ctx, http.MethodDelete, userID, role, http.StatusNotFound)
}

// send calls the role endpoint; settled is the status that means the change is
// already in place.
func (c *Client) send(ctx context.Context, method string, userID uuid.UUID, role string, settled int) error {
	payload, err := json.Marshal(userRole{UserID: userID.String(), RoleTitle: role})
	if err != nil {
		return fmt.Errorf("capability: marshal request: %w", err)
	}

	err = c.retrier.Do(ctx, func(ctx context.Context) error {
		return c.attempt(ctx, method, payload, settled)
	})
	if err != nil {
		return fmt.Errorf("capability %s %s: %w", strings.ToLower(method), role,
			errors.Join(billing.ErrCapabilityUnavailable, err))
	}

	c.log.DebugContext(ctx, "role updated",
		slog.String("method", method), logger.UserID(userID), logger.Role(role))
	return nil
}

func (c *Client) attempt(ctx context.Context, method string, payload []byte, settled int) error {
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return retry.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return retry.Permanent(err)
		}
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode/100 == 2 || resp.StatusCode == settled {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
		return nil
	}

	// The body is only for context in logs; keep it short and on one line.
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	msg := strings.ReplaceAll(strings.TrimSpace(string(body)), "\n", " ")
	if len(msg) > 200 {
		msg = msg[:200] + "..."
	}
	err = fmt.Errorf("%w %d: %s", errUnexpectedStatus, resp.StatusCode, msg)

	switch resp.StatusCode {
	case http.StatusRequestTimeout, http.StatusTooEarly, http.StatusTooManyRequests:
		return err
	}
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return retry.Permanent(err)
	}
	return err
}
