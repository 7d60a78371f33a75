package statemachine_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billing/pkg/statemachine"
)

type docState string
type docEvent string

const (
	draft     docState = "draft"
	inReview  docState = "in_review"
	published docState = "published"
	archived  docState = "archived"

	submit  docEvent = "submit"
	publish docEvent = "publish"
	archive docEvent = "archive"
)

func TestTable(t *testing.T) {
	t.Parallel()

	table := statemachine.MustNew(
		statemachine.WithTransition(draft, submit, inReview),
		statemachine.WithTransition(inReview, publish, published),
		statemachine.WithTransitions([]docState{draft, inReview, published}, archive, archived),
	)

	t.Run("declared transition", func(t *testing.T) {
		t.Parallel()
		next, err := table.Next(context.Background(), draft, submit, nil)
		require.NoError(t, err)
		assert.Equal(t, inReview, next)
	})

	t.Run("undeclared transition", func(t *testing.T) {
		t.Parallel()
		_, err := table.Next(context.Background(), draft, publish, nil)
		require.Error(t, err)
		require.ErrorIs(t, err, statemachine.ErrNoTransition)
		var te *statemachine.TransitionError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, string(draft), te.State)
		assert.Equal(t, string(publish), te.Event)
	})

	t.Run("multi source", func(t *testing.T) {
		t.Parallel()
		for _, from := range []docState{draft, inReview, published} {
			assert.True(t, table.Can(context.Background(), from, archive, nil), from)
		}
		assert.False(t, table.Can(context.Background(), archived, archive, nil))
	})

	t.Run("sources keep declaration order", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, []docState{draft, inReview, published}, table.Sources(archive))
		assert.Equal(t, []docState{draft}, table.Sources(submit))
		assert.Empty(t, table.Sources(docEvent("unknown")))
	})

	t.Run("terminal", func(t *testing.T) {
		t.Parallel()
		assert.True(t, table.Terminal(archived))
		assert.False(t, table.Terminal(draft))
	})
}

func TestTableGuards(t *testing.T) {
	t.Parallel()

	approved := func(_ context.Context, _ docState, _ docEvent, data any) bool {
		ok, _ := data.(bool)
		return ok
	}

	table := statemachine.MustNew(
		statemachine.WithTransition(inReview, publish, published, approved),
		statemachine.WithTransition(inReview, publish, draft),
	)

	t.Run("guard passes", func(t *testing.T) {
		t.Parallel()
		next, err := table.Next(context.Background(), inReview, publish, true)
		require.NoError(t, err)
		assert.Equal(t, published, next)
	})

	t.Run("falls through to unguarded", func(t *testing.T) {
		t.Parallel()
		next, err := table.Next(context.Background(), inReview, publish, false)
		require.NoError(t, err)
		assert.Equal(t, draft, next)
	})

	t.Run("all guards reject", func(t *testing.T) {
		t.Parallel()
		strict := statemachine.MustNew(
			statemachine.WithTransition(inReview, publish, published, approved),
		)
		_, err := strict.Next(context.Background(), inReview, publish, false)
		require.Error(t, err)
		require.ErrorIs(t, err, statemachine.ErrRejected)
		assert.NotErrorIs(t, err, statemachine.ErrNoTransition)
	})
}

func TestTableValidation(t *testing.T) {
	t.Parallel()

	t.Run("empty values", func(t *testing.T) {
		t.Parallel()
		_, err := statemachine.New(statemachine.WithTransition[docState, docEvent]("", submit, inReview))
		require.ErrorIs(t, err, statemachine.ErrInvalidTransition)

		_, err = statemachine.New(statemachine.WithTransition[docState, docEvent](draft, "", inReview))
		require.ErrorIs(t, err, statemachine.ErrInvalidTransition)
	})

	t.Run("ambiguous duplicate", func(t *testing.T) {
		t.Parallel()
		_, err := statemachine.New(
			statemachine.WithTransition(draft, submit, inReview),
			statemachine.WithTransition(draft, submit, published),
		)
		require.ErrorIs(t, err, statemachine.ErrDuplicateTarget)
	})

	t.Run("must new panics", func(t *testing.T) {
		t.Parallel()
		assert.Panics(t, func() {
			statemachine.MustNew(statemachine.WithTransition[docState, docEvent]("", submit, inReview))
		})
	})
}
