// Package statemachine describes finite state machines as transition tables.
//
// A Table holds the allowed (from, event) -> to edges with optional guards. It
// keeps no current state of its own, so one table can validate transitions for
// any number of records whose state lives elsewhere (a database row, a struct
// field):
//
//	flow := statemachine.MustNewTable(
//	    statemachine.Allow(Pending, Attempt, Sending),
//	    statemachine.Allow(Sending, Succeed, Sent),
//	)
//	next, err := flow.Next(ctx, record.Status, Attempt, record)
package statemachine

import "context"

// State is a node in the machine.
type State interface {
	Name() string
}

// Event triggers a transition.
type Event interface {
	Name() string
}

// Guard decides whether a transition may proceed. All guards of a
// transition must pass.
type Guard func(ctx context.Context, from State, event Event, data any) bool

type Transition struct {
	From   State
	To     State
	Event  Event
	Guards []Guard
}

type StringState string

func (s StringState) Name() string { return string(s) }

type StringEvent string

func (e StringEvent) Name() string { return string(e) }
