package billing_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billing/internal/billing"
)

func TestNextOrderStatus(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	tests := []struct {
		from  billing.OrderStatus
		event billing.OrderEvent
		want  billing.OrderStatus
	}{
		{billing.OrderCreated, billing.OrderSubmit, billing.OrderProgress},
		{billing.OrderProgress, billing.OrderConfirm, billing.OrderPaid},
		{billing.OrderCreated, billing.OrderReject, billing.OrderError},
		{billing.OrderProgress, billing.OrderReject, billing.OrderError},
		{billing.OrderProgress, billing.OrderExhaust, billing.OrderError},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"/"+string(tt.event), func(t *testing.T) {
			t.Parallel()
			got, err := billing.NextOrderStatus(ctx, &billing.Order{Status: tt.from}, tt.event)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("final states do not move", func(t *testing.T) {
		t.Parallel()
		for _, from := range []billing.OrderStatus{billing.OrderPaid, billing.OrderError} {
			for _, event := range []billing.OrderEvent{billing.OrderSubmit, billing.OrderConfirm, billing.OrderReject, billing.OrderExhaust} {
				_, err := billing.NextOrderStatus(ctx, &billing.Order{Status: from}, event)
				assert.ErrorIs(t, err, billing.ErrInvalidTransition, "%s/%s", from, event)
			}
		}
	})

	t.Run("created cannot be confirmed", func(t *testing.T) {
		t.Parallel()
		_, err := billing.NextOrderStatus(ctx, &billing.Order{Status: billing.OrderCreated}, billing.OrderConfirm)
		assert.ErrorIs(t, err, billing.ErrInvalidTransition)
	})
}

func TestNextSubscriptionStatus(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	automatic := billing.Plan{Automatic: true}
	manual := billing.Plan{Automatic: false}

	t.Run("cancel needs an automatic plan", func(t *testing.T) {
		t.Parallel()
		got, err := billing.NextSubscriptionStatus(ctx,
			&billing.UserSubscription{Status: billing.SubscriptionActive, Plan: automatic}, billing.SubscriptionCancel)
		require.NoError(t, err)
		assert.Equal(t, billing.SubscriptionCanceled, got)

		_, err = billing.NextSubscriptionStatus(ctx,
			&billing.UserSubscription{Status: billing.SubscriptionActive, Plan: manual}, billing.SubscriptionCancel)
		assert.ErrorIs(t, err, billing.ErrInvalidTransition)
	})

	t.Run("refund and expire end entitlement", func(t *testing.T) {
		t.Parallel()
		for _, from := range []billing.SubscriptionStatus{billing.SubscriptionActive, billing.SubscriptionCanceled} {
			for _, event := range []billing.SubscriptionEvent{billing.SubscriptionRefund, billing.SubscriptionExpire} {
				got, err := billing.NextSubscriptionStatus(ctx, &billing.UserSubscription{Status: from}, event)
				require.NoError(t, err)
				assert.Equal(t, billing.SubscriptionInactive, got)
				assert.False(t, got.Entitled())
			}
		}
	})

	t.Run("preactive activates or is voided", func(t *testing.T) {
		t.Parallel()
		got, err := billing.NextSubscriptionStatus(ctx,
			&billing.UserSubscription{Status: billing.SubscriptionPreactive}, billing.SubscriptionActivate)
		require.NoError(t, err)
		assert.True(t, got.Entitled())

		got, err = billing.NextSubscriptionStatus(ctx,
			&billing.UserSubscription{Status: billing.SubscriptionPreactive}, billing.SubscriptionVoid)
		require.NoError(t, err)
		assert.Equal(t, billing.SubscriptionInactive, got)

		_, err = billing.NextSubscriptionStatus(ctx,
			&billing.UserSubscription{Status: billing.SubscriptionPreactive}, billing.SubscriptionRefund)
		assert.ErrorIs(t, err, billing.ErrInvalidTransition)
	})

	t.Run("only a prepaid cycle can be voided", func(t *testing.T) {
		t.Parallel()
		for _, from := range []billing.SubscriptionStatus{billing.SubscriptionActive, billing.SubscriptionCanceled, billing.SubscriptionInactive} {
			_, err := billing.NextSubscriptionStatus(ctx, &billing.UserSubscription{Status: from}, billing.SubscriptionVoid)
			assert.ErrorIs(t, err, billing.ErrInvalidTransition, string(from))
		}
	})

	t.Run("inactive is final", func(t *testing.T) {
		t.Parallel()
		_, err := billing.NextSubscriptionStatus(ctx,
			&billing.UserSubscription{Status: billing.SubscriptionInactive}, billing.SubscriptionActivate)
		assert.ErrorIs(t, err, billing.ErrInvalidTransition)
	})

	t.Run("sources for bulk expiry", func(t *testing.T) {
		t.Parallel()
		assert.ElementsMatch(t,
			[]billing.SubscriptionStatus{billing.SubscriptionActive, billing.SubscriptionCanceled},
			billing.SubscriptionSources(billing.SubscriptionExpire))
	})
}
