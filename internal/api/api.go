package api

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dmitrymomot/billing/internal/billing"
	"github.com/dmitrymomot/billing/pkg/handler"
	"github.com/dmitrymomot/billing/pkg/httpserver"
	"github.com/dmitrymomot/billing/pkg/jwt"
	"github.com/dmitrymomot/billing/pkg/logger"
	"github.com/dmitrymomot/billing/pkg/ratelimiter"
	"github.com/dmitrymomot/billing/pkg/requestid"
)

const (
	basePath             = "/api/v1/billing"
	schedulerTokenHeader = "X-Scheduler-Token"
)

// Server holds the HTTP handlers. Zero value is not usable; use New.
type Server struct {
	cfg          Config
	svc          billing.Service
	rec          billing.Reconciler
	verifier     *jwt.Verifier
	limiter      ratelimiter.RateLimiter
	checks       []httpserver.Check
	log          *slog.Logger
	now          func() time.Time
	errorHandler handler.ErrorHandler[handler.Context]
}

// Option configures a Server.
type Option func(*Server)

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithRateLimiter limits payment creation and confirmation per user.
func WithRateLimiter(l ratelimiter.RateLimiter) Option {
	return func(s *Server) {
		s.limiter = l
	}
}

// WithReadinessChecks adds dependencies probed by /health/ready.
func WithReadinessChecks(checks ...httpserver.Check) Option {
	return func(s *Server) {
		s.checks = append(s.checks, checks...)
	}
}

// WithClock is used for card expiry checks.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

// New builds the billing HTTP API on top of svc and rec.
func New(cfg Config, svc billing.Service, rec billing.Reconciler, verifier *jwt.Verifier, opts ...Option) *Server {
	s := &Server{
		cfg:      cfg,
		svc:      svc,
		rec:      rec,
		verifier: verifier,
		log:      slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(logger.Component("api"))
	s.errorHandler = handler.NewErrorHandler[handler.Context](s.log, mapError)
	return s
}

// Handle builds the router with health probes and the billing routes.
func (s *Server) Handle() http.Handler {
	r := chi.NewRouter()
	r.Use(requestid.Middleware, middleware.Recoverer)
	r.NotFound(s.fail(handler.ErrNotFound))
	r.MethodNotAllowed(s.fail(handler.ErrMethodNotAllowed))

	r.Get("/health/live", httpserver.Liveness())
	r.Get("/health/ready", httpserver.Readiness(s.log, s.cfg.ReadyTimeout, s.checks...))

	r.Route(basePath, func(r chi.Router) {
		r.Group(s.userRoutes)
		r.Route("/scheduler", s.schedulerRoutes)
	})
	return r
}

func (s *Server) userRoutes(r chi.Router) {
	r.Use(jwt.Middleware(s.verifier, jwt.WithErrorHandler(s.unauthorized)))

	var limited chi.Router = r
	if s.limiter != nil {
		limited = r.With(ratelimiter.Middleware(s.limiter, userKey,
			ratelimiter.WithDeniedHandler(func(w http.ResponseWriter, r *http.Request, _ *ratelimiter.Result) {
				_ = handler.JSONError(handler.ErrTooManyRequests).Render(w, r)
			}),
		))
	}

	r.Get("/plans", handler.Wrap(s.listPlans,
		handler.WithErrorHandler[handler.Context, empty](s.errorHandler)))

	limited.Post("/subscriptions/payment", handler.Wrap(s.createPayment,
		handler.WithBinders[handler.Context, paymentRequest](bindJSON),
		handler.WithErrorHandler[handler.Context, paymentRequest](s.errorHandler)))
	limited.Post("/subscriptions/payment/{payment_id}/confirm", handler.Wrap(s.confirmPayment,
		handler.WithBinders[handler.Context, confirmRequest](bindPath),
		handler.WithErrorHandler[handler.Context, confirmRequest](s.errorHandler)))

	r.Post("/subscriptions/cancel", handler.Wrap(s.cancelSubscription,
		handler.WithErrorHandler[handler.Context, empty](s.errorHandler)))
	r.Post("/subscriptions/refund", handler.Wrap(s.refundSubscription,
		handler.WithErrorHandler[handler.Context, empty](s.errorHandler)))

	r.Get("/user/subscriptions", handler.Wrap(s.listUserSubscriptions,
		handler.WithErrorHandler[handler.Context, empty](s.errorHandler)))
	r.Get("/user/orders", handler.Wrap(s.listUserOrders,
		handler.WithErrorHandler[handler.Context, empty](s.errorHandler)))
}

func (s *Server) schedulerRoutes(r chi.Router) {
	r.Use(s.schedulerAuth)

	r.Get("/orders/processing", handler.Wrap(s.listProcessingOrders,
		handler.WithErrorHandler[handler.Context, empty](s.errorHandler)))
	r.Get("/refunds/processing", handler.Wrap(s.listProcessingRefunds,
		handler.WithErrorHandler[handler.Context, empty](s.errorHandler)))
	r.Post("/orders/processing/check", handler.Wrap(s.pollOrders,
		handler.WithErrorHandler[handler.Context, empty](s.errorHandler)))
	r.Post("/refunds/processing/check", handler.Wrap(s.pollRefunds,
		handler.WithErrorHandler[handler.Context, empty](s.errorHandler)))
	r.Get("/orders/{external_id}/check", handler.Wrap(s.checkOrder,
		handler.WithBinders[handler.Context, externalIDRequest](bindPath),
		handler.WithErrorHandler[handler.Context, externalIDRequest](s.errorHandler)))
	r.Get("/refunds/{external_id}/check", handler.Wrap(s.checkRefund,
		handler.WithBinders[handler.Context, externalIDRequest](bindPath),
		handler.WithErrorHandler[handler.Context, externalIDRequest](s.errorHandler)))

	r.Get("/subscriptions/automatic/expiring", handler.Wrap(s.listExpiring,
		handler.WithErrorHandler[handler.Context, empty](s.errorHandler)))
	r.Post("/subscriptions/automatic/renew", handler.Wrap(s.renewExpiring,
		handler.WithErrorHandler[handler.Context, empty](s.errorHandler)))
	r.Post("/subscriptions/expired/disable", handler.Wrap(s.disableExpired,
		handler.WithErrorHandler[handler.Context, empty](s.errorHandler)))
	r.Post("/subscriptions/preactive/enable", handler.Wrap(s.enablePreactive,
		handler.WithErrorHandler[handler.Context, empty](s.errorHandler)))

	r.Post("/users/{user_id}/plans/{plan_id}/recurring_payment", handler.Wrap(s.recurringPayment,
		handler.WithBinders[handler.Context, recurringRequest](bindPath),
		handler.WithErrorHandler[handler.Context, recurringRequest](s.errorHandler)))
}

func (s *Server) schedulerAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get(schedulerTokenHeader)
		if s.cfg.SchedulerToken == "" || subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.SchedulerToken)) != 1 {
			s.log.WarnContext(r.Context(), "scheduler request rejected",
				logger.RequestID(requestid.FromContext(r.Context())),
				slog.String("path", r.URL.Path))
			_ = handler.JSONError(handler.ErrUnauthorized).Render(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) unauthorized(w http.ResponseWriter, r *http.Request, err error) {
	s.errorHandler(handler.NewContext(w, r), err)
}

func (s *Server) fail(err error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_ = handler.JSONError(err).Render(w, r)
	}
}

// userKey buckets rate limits by the authenticated user.
func userKey(r *http.Request) string {
	p, ok := jwt.PrincipalFromContext(r.Context())
	if !ok {
		return ""
	}
	return "payment:" + p.UserID.String()
}
