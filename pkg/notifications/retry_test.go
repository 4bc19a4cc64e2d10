package notifications

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoff(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 5*time.Minute, Backoff(1))
	assert.Equal(t, 10*time.Minute, Backoff(2))
	assert.Equal(t, 20*time.Minute, Backoff(3))
	assert.Equal(t, 40*time.Minute, Backoff(4))
	assert.Equal(t, 5*time.Minute, Backoff(0))
	assert.Equal(t, 5*time.Minute, Backoff(-3))

	for n := 1; n < 30; n++ {
		assert.Positive(t, Backoff(n), "retry %d", n)
		assert.GreaterOrEqual(t, Backoff(n+1), Backoff(n))
	}
	assert.Equal(t, Backoff(21), Backoff(64))
}

func emailRequest(recipientID int64) SendRequest {
	req := inAppRequest(recipientID)
	req.Channel = ChannelEmail
	req.RecipientAddress = "customer@example.com"
	return req
}

func TestRetry_EmailFailsThreeTimes(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := newEngine(t)
	sender := newScriptedSender(Failed("smtp unavailable"))
	e.senders.Register(ChannelEmail, sender)

	id, err := e.service.Send(ctx, emailRequest(7))
	require.NoError(t, err)
	start := e.clock.Now()

	// first attempt
	require.NoError(t, e.dispatcher.Attempt(ctx, id))
	n := e.get(t, id)
	assert.Equal(t, SendFailed, n.SendStatus)
	assert.Equal(t, 1, n.RetryCount)
	assert.Equal(t, "smtp unavailable", n.FailReason)
	require.NotNil(t, n.NextRetryTime)
	assert.Equal(t, start.Add(5*time.Minute), *n.NextRetryTime)

	// not due yet
	requeued, err := e.service.ProcessRetries(ctx)
	require.NoError(t, err)
	assert.Zero(t, requeued)

	e.clock.Advance(5 * time.Minute)
	requeued, err = e.service.ProcessRetries(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, requeued)
	n = e.get(t, id)
	assert.Equal(t, SendPending, n.SendStatus)
	assert.Nil(t, n.NextRetryTime)
	assert.Equal(t, []uuid.UUID{id}, e.queue.attempts(t, QueueRetry))

	// second attempt
	require.NoError(t, e.dispatcher.Attempt(ctx, id))
	n = e.get(t, id)
	assert.Equal(t, 2, n.RetryCount)
	require.NotNil(t, n.NextRetryTime)
	assert.Equal(t, e.clock.Now().Add(10*time.Minute), *n.NextRetryTime)

	e.clock.Advance(10 * time.Minute)
	requeued, err = e.service.ProcessRetries(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, requeued)

	// third attempt exhausts the budget
	require.NoError(t, e.dispatcher.Attempt(ctx, id))
	n = e.get(t, id)
	assert.Equal(t, SendFailed, n.SendStatus)
	assert.Equal(t, 3, n.RetryCount)
	assert.Equal(t, ReasonRetriesExhausted, n.FailReason)
	assert.Nil(t, n.NextRetryTime)
	assert.Equal(t, 3, sender.Calls())

	assert.Equal(t, 1, e.sink.Count(id))
	entries := e.sink.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, SendFailed, entries[0].SendStatus)

	// terminal: nothing further is picked up
	e.clock.Advance(24 * time.Hour)
	requeued, err = e.service.ProcessRetries(ctx)
	require.NoError(t, err)
	assert.Zero(t, requeued)
	assert.Equal(t, 1, e.sink.Count(id))
}

func TestRetryScheduler_Schedule(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("rejects records that are not sending", func(t *testing.T) {
		t.Parallel()

		e := newEngine(t)
		id, err := e.service.Send(ctx, inAppRequest(7))
		require.NoError(t, err)

		err = e.retry.Schedule(ctx, e.get(t, id), "late failure")
		assert.ErrorIs(t, err, ErrInvalidStateTransition)
		assert.Equal(t, SendPending, e.get(t, id).SendStatus)
	})

	t.Run("stale sending snapshot is ignored", func(t *testing.T) {
		t.Parallel()

		e := newEngine(t)
		e.senders.Register(ChannelInApp, newScriptedSender(Delivered()))
		id, err := e.service.Send(ctx, inAppRequest(7))
		require.NoError(t, err)

		stale := e.get(t, id)
		stale.SendStatus = SendSending
		require.NoError(t, e.dispatcher.Attempt(ctx, id))

		require.NoError(t, e.retry.Schedule(ctx, stale, "too late"))
		assert.Equal(t, SendSent, e.get(t, id).SendStatus)
		assert.Zero(t, e.sink.Count(id))
	})

	t.Run("stale snapshot of a delivered record is not dead-lettered", func(t *testing.T) {
		t.Parallel()

		e := newEngine(t)
		e.senders.Register(ChannelInApp, newScriptedSender(Delivered()))
		req := inAppRequest(7)
		req.MaxRetryCount = 1
		id, err := e.service.Send(ctx, req)
		require.NoError(t, err)

		stale := e.get(t, id)
		stale.SendStatus = SendSending
		require.NoError(t, e.dispatcher.Attempt(ctx, id))

		require.NoError(t, e.retry.Schedule(ctx, stale, "too late"))
		assert.Equal(t, SendSent, e.get(t, id).SendStatus)
		assert.Zero(t, e.sink.Count(id))
	})

	t.Run("single attempt budget dead-letters on first failure", func(t *testing.T) {
		t.Parallel()

		e := newEngine(t)
		e.senders.Register(ChannelInApp, newScriptedSender(Failed("offline")))
		req := inAppRequest(7)
		req.MaxRetryCount = 1
		id, err := e.service.Send(ctx, req)
		require.NoError(t, err)

		require.NoError(t, e.dispatcher.Attempt(ctx, id))
		assert.Equal(t, ReasonRetriesExhausted, e.get(t, id).FailReason)
		assert.Equal(t, 1, e.sink.Count(id))
	})
}

func TestRetryScheduler_ProcessRetries(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	failOnce := func(t *testing.T, e *engine, recipient int64) uuid.UUID {
		t.Helper()
		id, err := e.service.Send(ctx, inAppRequest(recipient))
		require.NoError(t, err)
		require.NoError(t, e.dispatcher.Attempt(ctx, id))
		require.Equal(t, SendFailed, e.get(t, id).SendStatus)
		return id
	}

	t.Run("queue failure keeps the record failed", func(t *testing.T) {
		t.Parallel()

		e := newEngine(t)
		e.senders.Register(ChannelInApp, newScriptedSender(Failed("offline")))
		id := failOnce(t, e, 7)
		due := *e.get(t, id).NextRetryTime

		e.clock.Advance(5 * time.Minute)
		e.queue.fail(errBoom)

		requeued, err := e.service.ProcessRetries(ctx)
		require.ErrorIs(t, err, ErrQueueUnavailable)
		assert.Zero(t, requeued)

		n := e.get(t, id)
		assert.Equal(t, SendFailed, n.SendStatus)
		require.NotNil(t, n.NextRetryTime)
		assert.Equal(t, due, *n.NextRetryTime)

		// picked up by the next sweep once the queue recovers
		e.queue.fail(nil)
		requeued, err = e.service.ProcessRetries(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, requeued)
	})

	t.Run("batch size bounds one sweep", func(t *testing.T) {
		t.Parallel()

		e := newEngine(t)
		e.senders.Register(ChannelInApp, newScriptedSender(Failed("offline")))
		for r := int64(1); r <= 3; r++ {
			failOnce(t, e, r)
		}
		WithRetryBatchSize(2)(e.retry)

		e.clock.Advance(5 * time.Minute)
		requeued, err := e.service.ProcessRetries(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, requeued)

		requeued, err = e.service.ProcessRetries(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, requeued)
	})

	t.Run("deleted records are skipped", func(t *testing.T) {
		t.Parallel()

		e := newEngine(t)
		e.senders.Register(ChannelInApp, newScriptedSender(Failed("offline")))
		id := failOnce(t, e, 7)
		require.NoError(t, e.service.Delete(ctx, id))

		e.clock.Advance(time.Hour)
		requeued, err := e.service.ProcessRetries(ctx)
		require.NoError(t, err)
		assert.Zero(t, requeued)
		assert.Empty(t, e.queue.attempts(t, QueueRetry))
	})
}

func TestRetry_DeadLetterSinkFailure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	exhaustOnce := func(t *testing.T, e *engine) uuid.UUID {
		t.Helper()
		e.senders.Register(ChannelEmail, newScriptedSender(Failed("smtp unavailable")))
		req := emailRequest(7)
		req.MaxRetryCount = 1
		id, err := e.service.Send(ctx, req)
		require.NoError(t, err)
		return id
	}

	t.Run("record stays sending until the sink accepts it", func(t *testing.T) {
		t.Parallel()

		flaky := &flakySink{failures: 1}
		e := newEngine(t, withSink(func(s DeadLetterSink) DeadLetterSink {
			flaky.DeadLetterSink = s
			return flaky
		}))
		id := exhaustOnce(t, e)

		err := e.dispatcher.Attempt(ctx, id)
		require.ErrorIs(t, err, errBoom)
		assert.Equal(t, SendSending, e.get(t, id).SendStatus)
		assert.Zero(t, e.sink.Count(id))

		// a redelivered message cannot claim the record again
		require.NoError(t, e.dispatcher.Attempt(ctx, id))
		assert.Equal(t, SendSending, e.get(t, id).SendStatus)

		e.clock.Advance(DefaultStallTimeout - time.Second)
		requeued, err := e.service.ProcessRetries(ctx)
		require.NoError(t, err)
		assert.Zero(t, requeued)
		assert.Equal(t, SendSending, e.get(t, id).SendStatus)

		e.clock.Advance(2 * time.Second)
		requeued, err = e.service.ProcessRetries(ctx)
		require.NoError(t, err)
		assert.Zero(t, requeued)

		n := e.get(t, id)
		assert.Equal(t, SendFailed, n.SendStatus)
		assert.Equal(t, 1, n.RetryCount)
		assert.Equal(t, ReasonRetriesExhausted, n.FailReason)
		assert.Nil(t, n.NextRetryTime)
		assert.Equal(t, 1, e.sink.Count(id))
		assert.Equal(t, 2, flaky.calls)

		e.clock.Advance(48 * time.Hour)
		requeued, err = e.service.ProcessRetries(ctx)
		require.NoError(t, err)
		assert.Zero(t, requeued)
		assert.Equal(t, 1, e.sink.Count(id))
	})

	t.Run("sink keeps one entry when the final update fails", func(t *testing.T) {
		t.Parallel()

		e := newEngine(t, withStore(func(s Store) Store {
			return &failingStore{Store: s, updateErr: failUpdateOnce(func(_ SendStatus, p StatusPatch) bool {
				return p.FailReason != nil && *p.FailReason == ReasonRetriesExhausted
			})}
		}))
		id := exhaustOnce(t, e)

		require.ErrorIs(t, e.dispatcher.Attempt(ctx, id), errBoom)
		assert.Equal(t, SendSending, e.get(t, id).SendStatus)
		assert.Equal(t, 1, e.sink.Count(id))

		e.clock.Advance(DefaultStallTimeout + time.Second)
		_, err := e.service.ProcessRetries(ctx)
		require.NoError(t, err)

		assert.Equal(t, SendFailed, e.get(t, id).SendStatus)
		assert.Equal(t, 1, e.sink.Count(id))
	})
}

func TestRetryScheduler_RecoverStalled(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("stalled attempt is scheduled for retry", func(t *testing.T) {
		t.Parallel()

		e := newEngine(t)
		id, err := e.service.Send(ctx, inAppRequest(7))
		require.NoError(t, err)
		require.NoError(t, e.mem.UpdateStatus(ctx, id, SendPending, StatusPatch{
			SendStatus: SendSending,
			UpdatedAt:  e.clock.Now(),
		}))

		e.clock.Advance(DefaultStallTimeout + time.Second)
		requeued, err := e.service.ProcessRetries(ctx)
		require.NoError(t, err)
		assert.Zero(t, requeued)

		n := e.get(t, id)
		assert.Equal(t, SendFailed, n.SendStatus)
		assert.Equal(t, ReasonAttemptStalled, n.FailReason)
		assert.Equal(t, 1, n.RetryCount)
		require.NotNil(t, n.NextRetryTime)
		assert.Equal(t, e.clock.Now().Add(Backoff(1)), *n.NextRetryTime)
	})

	t.Run("custom stall timeout", func(t *testing.T) {
		t.Parallel()

		e := newEngine(t)
		WithStallTimeout(time.Hour)(e.retry)
		id, err := e.service.Send(ctx, inAppRequest(7))
		require.NoError(t, err)
		require.NoError(t, e.mem.UpdateStatus(ctx, id, SendPending, StatusPatch{
			SendStatus: SendSending,
			UpdatedAt:  e.clock.Now(),
		}))

		e.clock.Advance(30 * time.Minute)
		_, err = e.service.ProcessRetries(ctx)
		require.NoError(t, err)
		assert.Equal(t, SendSending, e.get(t, id).SendStatus)

		e.clock.Advance(31 * time.Minute)
		_, err = e.service.ProcessRetries(ctx)
		require.NoError(t, err)
		assert.Equal(t, SendFailed, e.get(t, id).SendStatus)
	})
}
