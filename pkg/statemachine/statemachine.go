package statemachine

import (
	"context"
	"slices"
)

// Guard evaluates whether a transition should be allowed based on runtime conditions.
type Guard[S, E comparable] func(ctx context.Context, from S, event E, data any) bool

// Transition defines a state change triggered by an event, with optional guards.
type Transition[S, E comparable] struct {
	From   S
	Event  E
	To     S
	Guards []Guard[S, E] // All must pass for the transition to be selected
}

// Option configures a Table during construction.
type Option[S, E comparable] func(*Table[S, E]) error

// Table is a read-only transition table. It is safe for concurrent use once built.
type Table[S, E comparable] struct {
	transitions map[S]map[E][]Transition[S, E]
	states      []S
}

// New builds a table from the given options.
func New[S, E comparable](opts ...Option[S, E]) (*Table[S, E], error) {
	t := &Table[S, E]{
		transitions: make(map[S]map[E][]Transition[S, E]),
	}
	for _, opt := range opts {
		if err := opt(t); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// MustNew is like New but panics on invalid configuration.
// Intended for package-level tables declared at init time.
func MustNew[S, E comparable](opts ...Option[S, E]) *Table[S, E] {
	t, err := New(opts...)
	if err != nil {
		panic(err)
	}
	return t
}

// WithTransition declares from --event--> to.
func WithTransition[S, E comparable](from S, event E, to S, guards ...Guard[S, E]) Option[S, E] {
	return func(t *Table[S, E]) error {
		return t.add(Transition[S, E]{From: from, Event: event, To: to, Guards: guards})
	}
}

// WithTransitions declares the same event and target for several source states.
func WithTransitions[S, E comparable](from []S, event E, to S, guards ...Guard[S, E]) Option[S, E] {
	return func(t *Table[S, E]) error {
		for _, f := range from {
			if err := t.add(Transition[S, E]{From: f, Event: event, To: to, Guards: guards}); err != nil {
				return err
			}
		}
		return nil
	}
}

func (t *Table[S, E]) add(tr Transition[S, E]) error {
	var zeroS S
	var zeroE E
	if tr.From == zeroS || tr.To == zeroS || tr.Event == zeroE {
		return ErrInvalidTransition
	}

	events, ok := t.transitions[tr.From]
	if !ok {
		events = make(map[E][]Transition[S, E])
		t.transitions[tr.From] = events
	}

	// Unguarded duplicates make Next ambiguous.
	if len(tr.Guards) == 0 {
		for _, existing := range events[tr.Event] {
			if len(existing.Guards) == 0 {
				return ErrDuplicateTarget
			}
		}
	}

	events[tr.Event] = append(events[tr.Event], tr)
	for _, s := range []S{tr.From, tr.To} {
		if !slices.Contains(t.states, s) {
			t.states = append(t.states, s)
		}
	}
	return nil
}

// Next returns the target state for event fired in state from.
// The first declared transition whose guards all pass wins.
func (t *Table[S, E]) Next(ctx context.Context, from S, event E, data any) (S, error) {
	candidates := t.transitions[from][event]
	if len(candidates) == 0 {
		var zero S
		return zero, transitionError(from, event, ErrNoTransition)
	}

	for _, tr := range candidates {
		if guardsPass(ctx, tr, data) {
			return tr.To, nil
		}
	}

	var zero S
	return zero, transitionError(from, event, ErrRejected)
}

// Can reports whether event may fire from state from.
func (t *Table[S, E]) Can(ctx context.Context, from S, event E, data any) bool {
	_, err := t.Next(ctx, from, event, data)
	return err == nil
}

// Sources lists every state from which event is declared, in declaration order.
// Stores use it to build compare-and-set predicates for bulk transitions.
func (t *Table[S, E]) Sources(event E) []S {
	var out []S
	for _, s := range t.states {
		if len(t.transitions[s][event]) > 0 {
			out = append(out, s)
		}
	}
	return out
}

// Terminal reports whether no event leaves state s.
func (t *Table[S, E]) Terminal(s S) bool {
	return len(t.transitions[s]) == 0
}

func guardsPass[S, E comparable](ctx context.Context, tr Transition[S, E], data any) bool {
	for _, guard := range tr.Guards {
		if !guard(ctx, tr.From, tr.Event, data) {
			return false
		}
	}
	return true
}
