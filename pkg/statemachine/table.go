package statemachine

import (
	"context"
	"fmt"
)

// Table is an immutable set of transitions. Safe for concurrent use.
type Table struct {
	edges map[string]map[string][]Transition
}

// Option adds transitions while building a Table.
type Option func(*Table) error

// Allow registers from --event--> to, taken only when every guard passes.
// Several transitions may share (from, event); the first whose guards pass
// wins, in registration order.
func Allow(from State, event Event, to State, guards ...Guard) Option {
	return func(t *Table) error {
		if from == nil || to == nil || event == nil {
			return ErrInvalidTransition
		}
		byEvent, ok := t.edges[from.Name()]
		if !ok {
			byEvent = make(map[string][]Transition)
			t.edges[from.Name()] = byEvent
		}
		byEvent[event.Name()] = append(byEvent[event.Name()], Transition{
			From:   from,
			To:     to,
			Event:  event,
			Guards: guards,
		})
		return nil
	}
}

func NewTable(opts ...Option) (*Table, error) {
	t := &Table{edges: make(map[string]map[string][]Transition)}
	for i, opt := range opts {
		if err := opt(t); err != nil {
			return nil, fmt.Errorf("transition[%d]: %w", i, err)
		}
	}
	return t, nil
}

func MustNewTable(opts ...Option) *Table {
	t, err := NewTable(opts...)
	if err != nil {
		panic(fmt.Sprintf("failed to build transition table: %v", err))
	}
	return t
}

// Next resolves the target state of firing event in from. It returns
// a *TransitionError wrapping ErrNoTransition when the edge does not exist
// and ErrGuardRejected when it exists but every guard set failed.
func (t *Table) Next(ctx context.Context, from State, event Event, data any) (State, error) {
	if from == nil || event == nil {
		return nil, ErrInvalidEvent
	}

	candidates := t.edges[from.Name()][event.Name()]
	if len(candidates) == 0 {
		return nil, &TransitionError{From: from.Name(), Event: event.Name(), Err: ErrNoTransition}
	}

	for _, tr := range candidates {
		if guardsPass(ctx, tr.Guards, from, event, data) {
			return tr.To, nil
		}
	}
	return nil, &TransitionError{From: from.Name(), Event: event.Name(), Err: ErrGuardRejected}
}

func (t *Table) Can(ctx context.Context, from State, event Event, data any) bool {
	_, err := t.Next(ctx, from, event, data)
	return err == nil
}

// Events lists the events that have at least one edge leaving from.
func (t *Table) Events(from State) []string {
	if from == nil {
		return nil
	}
	names := make([]string, 0, len(t.edges[from.Name()]))
	for name := range t.edges[from.Name()] {
		names = append(names, name)
	}
	return names
}

func guardsPass(ctx context.Context, guards []Guard, from State, event Event, data any) bool {
	for _, g := range guards {
		if g != nil && !g(ctx, from, event, data) {
			return false
		}
	}
	return true
}
