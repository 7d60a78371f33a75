package validator_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billing/pkg/validator"
)

func passes(r validator.Rule) bool { return r.Check() }

func TestValidCardNumber(t *testing.T) {
	t.Parallel()

	for _, n := range []string{"4242424242424242", "4242 4242 4242 4242", "5555-5555-5555-4444", "378282246310005"} {
		assert.True(t, passes(validator.ValidCardNumber("card", n)), n)
	}
	for _, n := range []string{"", "4242424242424241", "4242", "4242abcd42424242", "42424242424242424242"} {
		assert.False(t, passes(validator.ValidCardNumber("card", n)), n)
	}
}

func TestValidCardExpiry(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, time.October, 16, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		month, year int
		ok          bool
	}{
		{10, 2026, true},
		{11, 2026, true},
		{1, 2030, true},
		{12, 28, true},
		{9, 2026, false},
		{12, 2025, false},
		{0, 2030, false},
		{13, 2030, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.ok, passes(validator.ValidCardExpiry("exp", tt.month, tt.year, now)), "%d/%d", tt.month, tt.year)
	}
}

func TestValidCVC(t *testing.T) {
	t.Parallel()
	assert.True(t, passes(validator.ValidCVC("cvc", "123")))
	assert.True(t, passes(validator.ValidCVC("cvc", "1234")))
	assert.False(t, passes(validator.ValidCVC("cvc", "12")))
	assert.False(t, passes(validator.ValidCVC("cvc", "12a")))
	assert.False(t, passes(validator.ValidCVC("cvc", "")))
}

func TestValidCurrencyCode(t *testing.T) {
	t.Parallel()
	for _, c := range []string{"usd", "RUB", "Eur"} {
		assert.True(t, passes(validator.ValidCurrencyCode("currency", c)), c)
	}
	for _, c := range []string{"", "us", "dollars", "ZZZ"} {
		assert.False(t, passes(validator.ValidCurrencyCode("currency", c)), c)
	}
}

func TestValidEmail(t *testing.T) {
	t.Parallel()
	assert.True(t, passes(validator.ValidEmail("email", "user@example.com")))
	assert.False(t, passes(validator.ValidEmail("email", "User <user@example.com>")))
	assert.False(t, passes(validator.ValidEmail("email", "user@localhost")))
	assert.False(t, passes(validator.ValidEmail("email", "")))
}

func TestApply(t *testing.T) {
	t.Parallel()

	require.NoError(t, validator.Apply(
		validator.RequiredUUID("plan_id", uuid.New()),
		validator.InList("period", 90, []int{30, 90, 180}),
		validator.Range("discount", 0, 0, 99),
	))

	err := validator.Apply(
		validator.RequiredUUID("plan_id", uuid.Nil),
		validator.InList("period", 31, []int{30, 90, 180}),
		validator.Range("discount", 100, 0, 99),
		validator.RequiredString("title", "  "),
		validator.MaxLenString("title", "abcdef", 3),
	)
	require.Error(t, err)
	assert.True(t, validator.IsValidationError(err))

	ve := validator.ExtractValidationErrors(err)
	require.Len(t, ve, 5)
	assert.True(t, ve.Has("period"))
	assert.False(t, ve.Has("currency"))

	fields := ve.Fields()
	assert.Len(t, fields["title"], 2)
	assert.Equal(t, []string{"must be between 0 and 99"}, fields["discount"])
	assert.Equal(t, "validation.in_list", ve[1].TranslationKey)
	assert.Equal(t, "period", ve[1].TranslationValues["field"])
}
