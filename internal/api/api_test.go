package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billing/internal/api"
	"github.com/dmitrymomot/billing/internal/billing"
	"github.com/dmitrymomot/billing/internal/billing/billingtest"
	"github.com/dmitrymomot/billing/pkg/httpserver"
	"github.com/dmitrymomot/billing/pkg/jwt"
	"github.com/dmitrymomot/billing/pkg/ratelimiter"
)

const schedulerToken = "scheduler-secret"

type env struct {
	h        *billingtest.Harness
	verifier *jwt.Verifier
	srv      http.Handler
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string              `json:"code"`
		Details map[string][]string `json:"details"`
	} `json:"error"`
}

func newEnv(t *testing.T, opts ...api.Option) *env {
	t.Helper()
	h := billingtest.NewHarness(t, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC))
	v, err := jwt.New(jwt.Config{Secret: "test-secret"})
	require.NoError(t, err)

	opts = append([]api.Option{api.WithClock(h.Clock.Now)}, opts...)
	s := api.New(api.Config{SchedulerToken: schedulerToken, ReadyTimeout: time.Second},
		h.Service, h.Reconciler, v, opts...)
	return &env{h: h, verifier: v, srv: s.Handle()}
}

func (e *env) token(t *testing.T, p billing.Principal) string {
	t.Helper()
	tok, err := e.verifier.Sign(p.UserID, p.Email, time.Hour)
	require.NoError(t, err)
	return tok
}

func (e *env) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	r := httptest.NewRequest(method, path, &buf)
	if body != nil {
		r.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.srv.ServeHTTP(w, r)

	var env envelope
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	}
	return w, env
}

func (e *env) scheduler(t *testing.T, method, path string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	r := httptest.NewRequest(method, "/api/v1/billing/scheduler"+path, nil)
	r.Header.Set("X-Scheduler-Token", schedulerToken)
	w := httptest.NewRecorder()
	e.srv.ServeHTTP(w, r)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w, env
}

func paymentBody(planID uuid.UUID) map[string]any {
	return map[string]any{
		"plan_id": planID,
		"payment_method": map[string]any{
			"type":           "card",
			"card_number":    "4242424242424242",
			"card_exp_month": 12,
			"card_exp_year":  2099,
			"card_cvc":       "123",
		},
	}
}

func decodeData[T any](t *testing.T, env envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}

func TestUserAuthentication(t *testing.T) {
	t.Parallel()
	e := newEnv(t)

	w, body := e.do(t, http.MethodGet, "/api/v1/billing/plans", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	require.NotNil(t, body.Error)
	assert.Equal(t, "unauthorized", body.Error.Code)

	w, _ = e.do(t, http.MethodGet, "/api/v1/billing/plans", "not.a.token", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestPaymentFlow(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	plan := e.h.Plan(t, billing.TierGold, 30, "30.00", true)
	user := billingtest.User()
	tok := e.token(t, user)

	w, body := e.do(t, http.MethodGet, "/api/v1/billing/plans", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	plans := decodeData[[]map[string]any](t, body)
	require.Len(t, plans, 1)
	assert.Equal(t, "gold", plans[0]["tier"])

	w, body = e.do(t, http.MethodPost, "/api/v1/billing/subscriptions/payment", tok, paymentBody(plan.ID))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	order := decodeData[map[string]any](t, body)
	assert.Equal(t, "progress", order["status"])
	externalID, _ := order["external_id"].(string)
	require.NotEmpty(t, externalID)

	t.Run("second purchase conflicts", func(t *testing.T) {
		w, body := e.do(t, http.MethodPost, "/api/v1/billing/subscriptions/payment", tok, paymentBody(plan.ID))
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, "conflict", body.Error.Code)
	})

	t.Run("confirm forwards to the processor", func(t *testing.T) {
		w, _ := e.do(t, http.MethodPost, "/api/v1/billing/subscriptions/payment/"+externalID+"/confirm", tok, nil)
		assert.Equal(t, http.StatusAccepted, w.Code)
		assert.Equal(t, 1, e.h.Gateway.Calls("ConfirmPayment"))

		w, body := e.do(t, http.MethodPost, "/api/v1/billing/subscriptions/payment/pi_unknown/confirm", tok, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "not_found", body.Error.Code)
	})

	t.Run("scheduler poll activates the subscription", func(t *testing.T) {
		e.h.Gateway.SettlePayment(externalID, billing.PaymentSucceeded)

		w, body := e.scheduler(t, http.MethodPost, "/orders/processing/check")
		require.Equal(t, http.StatusOK, w.Code)
		res := decodeData[billing.SweepResult](t, body)
		assert.Equal(t, 1, res.Changed)

		_, body = e.do(t, http.MethodGet, "/api/v1/billing/user/subscriptions", tok, nil)
		subs := decodeData[[]map[string]any](t, body)
		require.Len(t, subs, 1)
		assert.Equal(t, "active", subs[0]["status"])
		assert.Equal(t, "2025-03-10", subs[0]["start_date"])
		assert.True(t, e.h.Roles.Has(user.UserID, "subscriber_gold"))

		_, body = e.do(t, http.MethodGet, "/api/v1/billing/user/orders", tok, nil)
		orders := decodeData[[]map[string]any](t, body)
		require.Len(t, orders, 1)
		assert.Equal(t, "paid", orders[0]["status"])
	})

	t.Run("cancel then refund", func(t *testing.T) {
		w, body := e.do(t, http.MethodPost, "/api/v1/billing/subscriptions/cancel", tok, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "canceled", decodeData[map[string]any](t, body)["status"])

		w, _ = e.do(t, http.MethodPost, "/api/v1/billing/subscriptions/cancel", tok, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)

		e.h.Clock.AdvanceDays(10)
		w, body = e.do(t, http.MethodPost, "/api/v1/billing/subscriptions/refund", tok, nil)
		require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
		refund := decodeData[map[string]any](t, body)
		assert.Equal(t, true, refund["refund"])
		assert.False(t, e.h.Roles.Has(user.UserID, "subscriber_gold"))

		w, _ = e.do(t, http.MethodPost, "/api/v1/billing/subscriptions/refund", tok, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestPaymentValidation(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	tok := e.token(t, billingtest.User())

	body := paymentBody(uuid.Nil)
	body["payment_method"].(map[string]any)["card_number"] = "4242424242424241"
	body["payment_method"].(map[string]any)["card_exp_year"] = 2020

	w, resp := e.do(t, http.MethodPost, "/api/v1/billing/subscriptions/payment", tok, body)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "validation_error", resp.Error.Code)
	assert.Contains(t, resp.Error.Details, "plan_id")
	assert.Contains(t, resp.Error.Details, "payment_method.card_number")
	assert.Contains(t, resp.Error.Details, "payment_method.card_exp_month")
	assert.Zero(t, e.h.Gateway.Payments())

	w, resp = e.do(t, http.MethodPost, "/api/v1/billing/subscriptions/payment", tok, map[string]any{"plan": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "bad_request", resp.Error.Code)

	w, resp = e.do(t, http.MethodPost, "/api/v1/billing/subscriptions/payment", tok, paymentBody(uuid.New()))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", resp.Error.Code)
}

func TestGatewayErrors(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	plan := e.h.Plan(t, billing.TierSilver, 30, "10.00", false)
	tok := e.token(t, billingtest.User())

	e.h.Gateway.FailOn("CreatePaymentMethod", errors.Join(billing.ErrGatewayRejected, errors.New("card declined")))
	w, body := e.do(t, http.MethodPost, "/api/v1/billing/subscriptions/payment", tok, paymentBody(plan.ID))
	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.Equal(t, "payment_rejected", body.Error.Code)

	e.h.Gateway.FailOn("CreatePaymentMethod", errors.Join(billing.ErrGatewayUnavailable, errors.New("timeout")))
	w, body = e.do(t, http.MethodPost, "/api/v1/billing/subscriptions/payment", tok, paymentBody(plan.ID))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "gateway_unavailable", body.Error.Code)
}

func TestRateLimit(t *testing.T) {
	t.Parallel()
	store := ratelimiter.NewMemoryStore()
	limiter, err := ratelimiter.NewBucket(store, ratelimiter.Config{Capacity: 2, RefillRate: 1, RefillInterval: time.Hour})
	require.NoError(t, err)

	e := newEnv(t, api.WithRateLimiter(limiter))
	tok := e.token(t, billingtest.User())
	other := e.token(t, billingtest.User())

	path := "/api/v1/billing/subscriptions/payment/pi_1/confirm"
	for range 2 {
		w, _ := e.do(t, http.MethodPost, path, tok, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	}
	w, body := e.do(t, http.MethodPost, path, tok, nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "too_many_requests", body.Error.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	w, _ = e.do(t, http.MethodPost, path, other, nil)
	assert.Equal(t, http.StatusNotFound, w.Code, "limits are per user")

	w, _ = e.do(t, http.MethodGet, "/api/v1/billing/user/orders", tok, nil)
	assert.Equal(t, http.StatusOK, w.Code, "read endpoints are not limited")
}

func TestScheduler(t *testing.T) {
	t.Parallel()
	e := newEnv(t)

	t.Run("rejects a missing or wrong token", func(t *testing.T) {
		for _, tok := range []string{"", "wrong"} {
			r := httptest.NewRequest(http.MethodPost, "/api/v1/billing/scheduler/orders/processing/check", nil)
			if tok != "" {
				r.Header.Set("X-Scheduler-Token", tok)
			}
			w := httptest.NewRecorder()
			e.srv.ServeHTTP(w, r)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
		}
	})

	plan := e.h.Plan(t, billing.TierBronze, 30, "9.99", true)
	user := billingtest.User()
	paid := e.h.Subscribe(t, user, plan)

	t.Run("lists and checks orders", func(t *testing.T) {
		w, body := e.scheduler(t, http.MethodGet, "/orders/processing")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, decodeData[[]map[string]any](t, body))

		w, body = e.scheduler(t, http.MethodGet, "/orders/"+paid.ExternalID+"/check")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "paid", decodeData[map[string]any](t, body)["status"])

		w, _ = e.scheduler(t, http.MethodGet, "/refunds/"+paid.ExternalID+"/check")
		assert.Equal(t, http.StatusNotFound, w.Code)

		w, _ = e.scheduler(t, http.MethodGet, "/refunds/processing")
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("renews and activates the next cycle", func(t *testing.T) {
		e.h.Clock.AdvanceDays(29)

		_, body := e.scheduler(t, http.MethodGet, "/subscriptions/automatic/expiring")
		require.Len(t, decodeData[[]map[string]any](t, body), 1)

		w, body := e.scheduler(t, http.MethodPost, "/subscriptions/automatic/renew")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, 1, decodeData[billing.SweepResult](t, body).Changed)

		w, body = e.scheduler(t, http.MethodPost, "/users/"+user.UserID.String()+"/plans/"+plan.ID.String()+"/recurring_payment")
		require.Equal(t, http.StatusOK, w.Code)
		renewal := decodeData[map[string]any](t, body)
		assert.Equal(t, paid.ID.String(), renewal["parent_id"], "repeat trigger returns the same renewal")

		e.h.Clock.AdvanceDays(1)
		w, body = e.scheduler(t, http.MethodPost, "/subscriptions/expired/disable")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, 1, decodeData[billing.SweepResult](t, body).Changed)

		w, body = e.scheduler(t, http.MethodPost, "/subscriptions/preactive/enable")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, 1, decodeData[billing.SweepResult](t, body).Changed)
		assert.True(t, e.h.Roles.Has(user.UserID, "subscriber_bronze"))
	})

	t.Run("recurring payment path ids must be uuids", func(t *testing.T) {
		w, body := e.scheduler(t, http.MethodPost, "/users/nope/plans/"+plan.ID.String()+"/recurring_payment")
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "bad_request", body.Error.Code)
	})
}

func TestHealth(t *testing.T) {
	t.Parallel()
	e := newEnv(t, api.WithReadinessChecks(httpserver.Check{
		Name: "postgres",
		Fn:   func(ctx context.Context) error { return errors.New("down") },
	}))

	r := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	w := httptest.NewRecorder()
	e.srv.ServeHTTP(w, r)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	r = httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	w = httptest.NewRecorder()
	e.srv.ServeHTTP(w, r)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	r = httptest.NewRequest(http.MethodGet, "/nope", nil)
	w = httptest.NewRecorder()
	e.srv.ServeHTTP(w, r)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
