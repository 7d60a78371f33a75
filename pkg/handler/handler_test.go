package handler_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billing/pkg/binder"
	"github.com/dmitrymomot/billing/pkg/handler"
	"github.com/dmitrymomot/billing/pkg/validator"
)

type createRequest struct {
	Name string `json:"name"`
}

type createFunc = handler.HandlerFunc[handler.Context, createRequest]

func decode(t *testing.T, w *httptest.ResponseRecorder) handler.JSONResponse {
	t.Helper()
	var got handler.JSONResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	return got
}

func post(body string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	return r
}

func TestWrap(t *testing.T) {
	t.Parallel()

	echo := createFunc(func(_ handler.Context, req createRequest) handler.Response {
		return handler.JSON(map[string]string{"name": req.Name}, handler.WithJSONStatus(http.StatusCreated))
	})

	t.Run("binds and renders", func(t *testing.T) {
		t.Parallel()
		h := handler.Wrap(echo, handler.WithBinders[handler.Context, createRequest](binder.JSON()))
		w := httptest.NewRecorder()
		h(w, post(`{"name":"gold"}`))

		assert.Equal(t, http.StatusCreated, w.Code)
		assert.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))
		assert.Equal(t, map[string]any{"name": "gold"}, decode(t, w).Data)
	})

	t.Run("binder failure is a bad request", func(t *testing.T) {
		t.Parallel()
		h := handler.Wrap(echo, handler.WithBinders[handler.Context, createRequest](binder.JSON()))
		w := httptest.NewRecorder()
		h(w, post(`{"name":`))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "bad_request", decode(t, w).Error.Code)
	})

	t.Run("nil response", func(t *testing.T) {
		t.Parallel()
		h := handler.Wrap(createFunc(func(handler.Context, createRequest) handler.Response { return nil }))
		w := httptest.NewRecorder()
		h(w, post(`{}`))

		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})

	t.Run("decorators run outermost first", func(t *testing.T) {
		t.Parallel()
		var order []string
		mark := func(name string) handler.Decorator[handler.Context, createRequest] {
			return func(next handler.HandlerFunc[handler.Context, createRequest]) handler.HandlerFunc[handler.Context, createRequest] {
				return func(ctx handler.Context, req createRequest) handler.Response {
					order = append(order, name)
					return next(ctx, req)
				}
			}
		}
		h := handler.Wrap(echo, handler.WithDecorators(mark("outer"), mark("inner")))
		h(httptest.NewRecorder(), post(`{}`))

		assert.Equal(t, []string{"outer", "inner"}, order)
	})

	t.Run("error response goes to the error handler", func(t *testing.T) {
		t.Parallel()
		var got error
		h := handler.Wrap(
			createFunc(func(handler.Context, createRequest) handler.Response { return handler.Error(handler.ErrConflict) }),
			handler.WithErrorHandler[handler.Context, createRequest](func(ctx handler.Context, err error) {
				got = err
				ctx.ResponseWriter().WriteHeader(http.StatusTeapot)
			}),
		)
		w := httptest.NewRecorder()
		h(w, post(`{}`))

		assert.ErrorIs(t, got, handler.ErrConflict)
		assert.Equal(t, http.StatusTeapot, w.Code)
	})
}

func TestJSONError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		err     error
		status  int
		code    string
		details map[string][]string
	}{
		{"http error", handler.ErrNotFound, http.StatusNotFound, "not_found", nil},
		{"wrapped http error", errors.Join(handler.ErrConflict, errors.New("duplicate")), http.StatusConflict, "conflict", nil},
		{"unknown error hides message", errors.New("pq: connection refused"), http.StatusInternalServerError, "internal_server_error", nil},
		{
			"validation error",
			validator.Apply(validator.RequiredString("plan_id", "")),
			http.StatusUnprocessableEntity, "validation_error",
			map[string][]string{"plan_id": {"field is required"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			w := httptest.NewRecorder()
			require.NoError(t, handler.JSONError(tt.err).Render(w, httptest.NewRequest(http.MethodGet, "/", nil)))

			assert.Equal(t, tt.status, w.Code)
			got := decode(t, w)
			require.NotNil(t, got.Error)
			assert.Equal(t, tt.code, got.Error.Code)
			assert.NotContains(t, got.Error.Message, "pq:")
			if tt.details != nil {
				assert.Equal(t, tt.details, got.Error.Details)
			}
		})
	}
}

func TestNewErrorHandler(t *testing.T) {
	t.Parallel()

	var logs bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	errDomain := errors.New("plan missing")
	mapper := func(err error) error {
		if errors.Is(err, errDomain) {
			return errors.Join(handler.ErrNotFound, err)
		}
		return err
	}

	h := handler.Wrap(
		createFunc(func(handler.Context, createRequest) handler.Response { return handler.Error(errDomain) }),
		handler.WithErrorHandler[handler.Context, createRequest](handler.NewErrorHandler[handler.Context](log, mapper)),
	)
	w := httptest.NewRecorder()
	h(w, post(`{}`))

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", decode(t, w).Error.Code)
	assert.Contains(t, logs.String(), `"status":404`)
	assert.Contains(t, logs.String(), `"level":"DEBUG"`)
}

func TestEmpty(t *testing.T) {
	t.Parallel()
	w := httptest.NewRecorder()
	require.NoError(t, handler.Empty().Render(w, httptest.NewRequest(http.MethodGet, "/", nil)))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.String())
}
