package queue_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rito-w/drone/pkg/queue"
)

func TestNewTaskHandler(t *testing.T) {
	t.Parallel()

	var got testPayload
	h := queue.NewTaskHandler(func(_ context.Context, p testPayload) error {
		got = p
		return nil
	})

	assert.Equal(t, "queue_test.testPayload", h.Name())
	require.NoError(t, h.Handle(context.Background(), json.RawMessage(`{"message":"hello"}`)))
	assert.Equal(t, "hello", got.Message)

	assert.Error(t, h.Handle(context.Background(), json.RawMessage(`not json`)))
}

func TestNewPeriodicTaskHandler(t *testing.T) {
	t.Parallel()

	want := errors.New("failed")
	h := queue.NewPeriodicTaskHandler("purge", func(context.Context) error { return want })

	assert.Equal(t, "purge", h.Name())
	assert.ErrorIs(t, h.Handle(context.Background(), nil), want)
}

func TestNewRawHandler(t *testing.T) {
	t.Parallel()

	var got queue.Task
	h := queue.NewRawHandler("raw", func(_ context.Context, task queue.Task) error {
		got = task
		return nil
	})

	assert.Equal(t, "raw", h.Name())
	require.NoError(t, h.Handle(context.Background(), json.RawMessage(`{"a":1}`)))
	assert.JSONEq(t, `{"a":1}`, string(got.Payload))
}
