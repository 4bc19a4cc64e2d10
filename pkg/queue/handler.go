package queue

import (
	"context"
	"encoding/json"
	"fmt"
)

type (
	Handler interface {
		Name() string
		Handle(ctx context.Context, payload json.RawMessage) error
	}

	TaskHandlerFunc[T any]  func(ctx context.Context, payload T) error
	PeriodicTaskHandlerFunc func(ctx context.Context) error

	// RawTaskHandlerFunc receives the whole task, for consumers that route on
	// metadata rather than payload type.
	RawTaskHandlerFunc func(ctx context.Context, task Task) error
)

// NewTaskHandler decodes the payload into T. The handler name is T's
// qualified type name, matching what Enqueue derives for a T payload.
func NewTaskHandler[T any](handler TaskHandlerFunc[T]) Handler {
	var payload T
	return &oneTimeTaskHandler[T]{
		name:    qualifiedStructName(payload),
		handler: handler,
	}
}

func NewPeriodicTaskHandler(name string, handler PeriodicTaskHandlerFunc) Handler {
	return &periodicTaskHandler{name: name, handler: handler}
}

type oneTimeTaskHandler[T any] struct {
	name    string
	handler TaskHandlerFunc[T]
}

func (h *oneTimeTaskHandler[T]) Name() string { return h.name }

func (h *oneTimeTaskHandler[T]) Handle(ctx context.Context, payload json.RawMessage) error {
	var t T
	if err := json.Unmarshal(payload, &t); err != nil {
		return fmt.Errorf("decode %s payload: %w", h.name, err)
	}
	return h.handler(ctx, t)
}

type periodicTaskHandler struct {
	name    string
	handler PeriodicTaskHandlerFunc
}

func (h *periodicTaskHandler) Name() string { return h.name }

func (h *periodicTaskHandler) Handle(ctx context.Context, _ json.RawMessage) error {
	return h.handler(ctx)
}

type taskKey struct{}

// TaskFromContext returns the task being processed, set by the worker for
// every handler invocation.
func TaskFromContext(ctx context.Context) (Task, bool) {
	t, ok := ctx.Value(taskKey{}).(Task)
	return t, ok
}

// NewRawHandler adapts fn to a Handler. Use it with Worker.RegisterQueueHandler.
func NewRawHandler(name string, fn RawTaskHandlerFunc) Handler {
	return &rawTaskHandler{name: name, fn: fn}
}

type rawTaskHandler struct {
	name string
	fn   RawTaskHandlerFunc
}

func (h *rawTaskHandler) Name() string { return h.name }

func (h *rawTaskHandler) Handle(ctx context.Context, payload json.RawMessage) error {
	task, ok := TaskFromContext(ctx)
	if !ok {
		task = Task{Payload: payload}
	}
	return h.fn(ctx, task)
}
