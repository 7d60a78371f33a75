package postgres

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/billing/internal/billing"
)

func TestConditions(t *testing.T) {
	t.Parallel()

	t.Run("empty", func(t *testing.T) {
		t.Parallel()
		var c conditions
		assert.Empty(t, c.where())
		assert.Empty(t, c.args)
	})

	t.Run("numbers placeholders in order", func(t *testing.T) {
		t.Parallel()
		var c conditions
		c.add("a = ?", 1)
		c.add("b BETWEEN ? AND ?", 2, 3)
		assert.Equal(t, " WHERE a = $1 AND b BETWEEN $2 AND $3", c.where())
		assert.Equal(t, []any{1, 2, 3}, c.args)
	})
}

func TestSubscriptionConditions(t *testing.T) {
	t.Parallel()

	user := uuid.New()
	day := time.Date(2026, time.March, 1, 15, 30, 0, 0, time.UTC)
	c := subscriptionConditions(billing.SubscriptionFilter{
		UserID:            &user,
		Statuses:          []billing.SubscriptionStatus{billing.SubscriptionActive, billing.SubscriptionCanceled},
		Automatic:         new(bool),
		EndDateOnOrBefore: &day,
	})

	assert.Equal(t,
		" WHERE s.user_id = $1 AND s.status = ANY($2) AND p.automatic = $3 AND s.end_date <= $4::date",
		c.where())
	assert.Equal(t, []string{"active", "canceled"}, c.args[1])
	assert.Equal(t, billing.Date(day), c.args[3], "dates are truncated to the calendar day")
}
