package jwt_test

import (
	"testing"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billing/pkg/jwt"
)

func TestNew(t *testing.T) {
	t.Parallel()

	_, err := jwt.New(jwt.Config{})
	require.ErrorIs(t, err, jwt.ErrMissingSigningKey)

	v, err := jwt.New(jwt.Config{Secret: "secret"})
	require.NoError(t, err)
	require.NotNil(t, v)
}

func TestPrincipal(t *testing.T) {
	t.Parallel()
	v, err := jwt.New(jwt.Config{Secret: "secret", Issuer: "auth"})
	require.NoError(t, err)
	user := uuid.New()

	t.Run("valid token", func(t *testing.T) {
		t.Parallel()
		token, err := v.Sign(user, "u@example.com", time.Minute)
		require.NoError(t, err)

		p, err := v.Principal(token)
		require.NoError(t, err)
		assert.Equal(t, user, p.UserID)
		assert.Equal(t, "u@example.com", p.Email)
	})

	t.Run("expired token", func(t *testing.T) {
		t.Parallel()
		token, err := v.Sign(user, "", -time.Hour)
		require.NoError(t, err)

		_, err = v.Principal(token)
		require.ErrorIs(t, err, jwt.ErrExpiredToken)
	})

	t.Run("wrong secret", func(t *testing.T) {
		t.Parallel()
		other, err := jwt.New(jwt.Config{Secret: "other", Issuer: "auth"})
		require.NoError(t, err)
		token, err := other.Sign(user, "", time.Minute)
		require.NoError(t, err)

		_, err = v.Principal(token)
		require.ErrorIs(t, err, jwt.ErrInvalidToken)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		t.Parallel()
		other, err := jwt.New(jwt.Config{Secret: "secret", Issuer: "someone-else"})
		require.NoError(t, err)
		token, err := other.Sign(user, "", time.Minute)
		require.NoError(t, err)

		_, err = v.Principal(token)
		require.ErrorIs(t, err, jwt.ErrInvalidToken)
	})

	t.Run("other algorithm", func(t *testing.T) {
		t.Parallel()
		token, err := gojwt.NewWithClaims(gojwt.SigningMethodHS512, gojwt.RegisteredClaims{
			Subject:   user.String(),
			Issuer:    "auth",
			ExpiresAt: gojwt.NewNumericDate(time.Now().Add(time.Minute)),
		}).SignedString([]byte("secret"))
		require.NoError(t, err)

		_, err = v.Principal(token)
		require.ErrorIs(t, err, jwt.ErrInvalidToken)
	})

	t.Run("no expiry", func(t *testing.T) {
		t.Parallel()
		token, err := gojwt.NewWithClaims(gojwt.SigningMethodHS256, gojwt.RegisteredClaims{
			Subject: user.String(),
			Issuer:  "auth",
		}).SignedString([]byte("secret"))
		require.NoError(t, err)

		_, err = v.Principal(token)
		require.ErrorIs(t, err, jwt.ErrInvalidToken)
	})

	t.Run("subject is not a uuid", func(t *testing.T) {
		t.Parallel()
		token, err := gojwt.NewWithClaims(gojwt.SigningMethodHS256, gojwt.RegisteredClaims{
			Subject:   "admin",
			Issuer:    "auth",
			ExpiresAt: gojwt.NewNumericDate(time.Now().Add(time.Minute)),
		}).SignedString([]byte("secret"))
		require.NoError(t, err)

		_, err = v.Principal(token)
		require.ErrorIs(t, err, jwt.ErrInvalidSubject)
	})

	t.Run("garbage", func(t *testing.T) {
		t.Parallel()
		_, err := v.Principal("not.a.token")
		require.ErrorIs(t, err, jwt.ErrInvalidToken)

		_, err = v.Principal("")
		require.ErrorIs(t, err, jwt.ErrMissingToken)
	})
}
