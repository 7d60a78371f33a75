package jwt_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billing/pkg/jwt"
)

func TestMiddleware(t *testing.T) {
	t.Parallel()
	v, err := jwt.New(jwt.Config{Secret: "secret"})
	require.NoError(t, err)
	user := uuid.New()
	token, err := v.Sign(user, "u@example.com", time.Minute)
	require.NoError(t, err)

	var got jwt.Principal
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := jwt.PrincipalFromContext(r.Context())
		require.True(t, ok)
		got = p
		w.WriteHeader(http.StatusNoContent)
	})

	t.Run("valid bearer token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()

		jwt.Middleware(v)(next).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, user, got.UserID)
		assert.Equal(t, "u@example.com", got.Email)
	})

	t.Run("rejections", func(t *testing.T) {
		for name, header := range map[string]string{
			"missing":      "",
			"wrong scheme": "Basic " + token,
			"empty token":  "Bearer ",
			"bad token":    "Bearer abc",
		} {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			rec := httptest.NewRecorder()

			jwt.Middleware(v)(next).ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code, name)
		}
	})

	t.Run("custom error handler", func(t *testing.T) {
		var handled error
		mw := jwt.Middleware(v, jwt.WithErrorHandler(func(w http.ResponseWriter, _ *http.Request, err error) {
			handled = err
			w.WriteHeader(http.StatusTeapot)
		}))
		rec := httptest.NewRecorder()

		mw(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusTeapot, rec.Code)
		assert.ErrorIs(t, handled, jwt.ErrMissingToken)
	})
}

func TestPrincipalFromContext(t *testing.T) {
	t.Parallel()

	_, ok := jwt.PrincipalFromContext(t.Context())
	assert.False(t, ok)

	p := jwt.Principal{UserID: uuid.New()}
	got, ok := jwt.PrincipalFromContext(jwt.WithPrincipal(t.Context(), p))
	assert.True(t, ok)
	assert.Equal(t, p, got)
}
