// Package statemachine provides immutable, generic transition tables for
// entities whose state lives in storage rather than in memory.
//
// A Table maps (from, event) pairs to a target state. It keeps no current
// state of its own: callers load a row, ask the table for the next state and
// persist the result with a compare-and-set on the previous state. This keeps
// the legal transitions in one declarative place while the database remains
// the single source of truth under concurrent writers.
//
// # Usage
//
//	type Status string
//	type Event string
//
//	var table = statemachine.MustNew(
//	    statemachine.WithTransition[Status, Event]("draft", "submit", "review"),
//	    statemachine.WithTransitions[Status, Event]([]Status{"draft", "review"}, "archive", "archived"),
//	)
//
//	next, err := table.Next(ctx, row.Status, "submit", nil)
//	if errors.Is(err, statemachine.ErrNoTransition) {
//	    // illegal for the current state
//	}
//
// Guards can veto an otherwise legal transition based on runtime data; when
// every candidate is vetoed Next returns ErrRejected so callers can
// tell "not allowed from here" apart from "not allowed right now".
package statemachine
