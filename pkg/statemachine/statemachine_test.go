package statemachine_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rito-w/drone/pkg/statemachine"
)

const (
	pending = statemachine.StringState("pending")
	sending = statemachine.StringState("sending")
	sent    = statemachine.StringState("sent")
	failed  = statemachine.StringState("failed")

	attempt = statemachine.StringEvent("attempt")
	succeed = statemachine.StringEvent("succeed")
	fail    = statemachine.StringEvent("fail")
)

func deliveryTable(t *testing.T) *statemachine.Table {
	t.Helper()
	table, err := statemachine.NewTable(
		statemachine.Allow(pending, attempt, sending),
		statemachine.Allow(sending, succeed, sent),
		statemachine.Allow(sending, fail, failed),
	)
	require.NoError(t, err)
	return table
}

func TestTable_Next(t *testing.T) {
	t.Parallel()

	table := deliveryTable(t)
	ctx := context.Background()

	tests := []struct {
		name      string
		from      statemachine.State
		event     statemachine.Event
		want      statemachine.State
		wantNoEdg bool
	}{
		{name: "pending to sending", from: pending, event: attempt, want: sending},
		{name: "sending to sent", from: sending, event: succeed, want: sent},
		{name: "sending to failed", from: sending, event: fail, want: failed},
		{name: "sent has no attempt edge", from: sent, event: attempt, wantNoEdg: true},
		{name: "unknown state", from: statemachine.StringState("archived"), event: attempt, wantNoEdg: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := table.Next(ctx, tt.from, tt.event, nil)
			if tt.wantNoEdg {
				require.Error(t, err)
				assert.ErrorIs(t, err, statemachine.ErrNoTransition)
				assert.Nil(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTable_Guards(t *testing.T) {
	t.Parallel()

	exhausted := statemachine.StringState("exhausted")
	retriesLeft := func(_ context.Context, _ statemachine.State, _ statemachine.Event, data any) bool {
		return data.(int) < 3
	}

	table := statemachine.MustNewTable(
		statemachine.Allow(sending, fail, failed, retriesLeft),
		statemachine.Allow(sending, fail, exhausted),
	)

	got, err := table.Next(context.Background(), sending, fail, 1)
	require.NoError(t, err)
	assert.Equal(t, failed, got)

	got, err = table.Next(context.Background(), sending, fail, 3)
	require.NoError(t, err)
	assert.Equal(t, exhausted, got)

	strict := statemachine.MustNewTable(statemachine.Allow(sending, fail, failed, retriesLeft))
	_, err = strict.Next(context.Background(), sending, fail, 5)
	assert.ErrorIs(t, err, statemachine.ErrGuardRejected)
	var te *statemachine.TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "sending", te.From)
	assert.Equal(t, "fail", te.Event)
	assert.False(t, strict.Can(context.Background(), sending, fail, 5))
}

func TestTable_InvalidDefinitions(t *testing.T) {
	t.Parallel()

	_, err := statemachine.NewTable(statemachine.Allow(nil, attempt, sending))
	assert.ErrorIs(t, err, statemachine.ErrInvalidTransition)

	assert.Panics(t, func() {
		statemachine.MustNewTable(statemachine.Allow(pending, nil, sending))
	})

	_, err = deliveryTable(t).Next(context.Background(), nil, attempt, nil)
	assert.ErrorIs(t, err, statemachine.ErrInvalidEvent)
}

func TestTable_Events(t *testing.T) {
	t.Parallel()

	table := deliveryTable(t)
	assert.ElementsMatch(t, []string{"succeed", "fail"}, table.Events(sending))
	assert.Empty(t, table.Events(sent))
}
