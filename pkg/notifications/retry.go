package notifications

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Rito-w/drone/pkg/logger"
)

const (
	// BaseRetryDelay is the wait after the first failure; each further
	// failure doubles it.
	BaseRetryDelay = 5 * time.Minute

	// ReasonRetriesExhausted is stored on dead-lettered notifications.
	ReasonRetriesExhausted = "exceeded max retries"

	// ReasonAttemptStalled is the failure reason for an attempt that stayed
	// Sending past the stall timeout.
	ReasonAttemptStalled = "attempt stalled"

	// DefaultStallTimeout must exceed the send timeout, so a live attempt is
	// never taken for a stalled one.
	DefaultStallTimeout = 5 * time.Minute

	maxBackoffShift = 20
)

// Backoff returns the delay before retry number n (1-based): 5m * 2^(n-1).
// Values below 1 are treated as 1. The exponent is capped to avoid overflow.
func Backoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	return BaseRetryDelay << min(n-1, maxBackoffShift)
}

// RetryScheduler records failed attempts, schedules delayed retries and
// re-queues them when they become due.
type RetryScheduler struct {
	store     Store
	queue     Enqueuer
	sink      DeadLetterSink
	observer  Observer
	logger    *slog.Logger
	now       func() time.Time
	batchSize int
	stall     time.Duration
}

// RetryOption configures a RetryScheduler.
type RetryOption func(*RetryScheduler)

func WithRetryLogger(l *slog.Logger) RetryOption {
	return func(r *RetryScheduler) {
		if l != nil {
			r.logger = l
		}
	}
}

func WithRetryObserver(o Observer) RetryOption {
	return func(r *RetryScheduler) {
		if o != nil {
			r.observer = o
		}
	}
}

func WithRetryClock(now func() time.Time) RetryOption {
	return func(r *RetryScheduler) {
		if now != nil {
			r.now = now
		}
	}
}

// WithRetryBatchSize bounds how many due records one ProcessRetries call
// re-queues.
func WithRetryBatchSize(n int) RetryOption {
	return func(r *RetryScheduler) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithStallTimeout sets how long a record may stay Sending before
// ProcessRetries treats the attempt as failed.
func WithStallTimeout(d time.Duration) RetryOption {
	return func(r *RetryScheduler) {
		if d > 0 {
			r.stall = d
		}
	}
}

func NewRetryScheduler(store Store, q Enqueuer, sink DeadLetterSink, opts ...RetryOption) (*RetryScheduler, error) {
	if store == nil {
		return nil, ErrStoreNil
	}
	if q == nil {
		return nil, fmt.Errorf("%w: enqueuer is nil", ErrQueueUnavailable)
	}
	if sink == nil {
		sink = NewMemoryDeadLetterSink()
	}

	r := &RetryScheduler{
		store:     store,
		queue:     q,
		sink:      sink,
		observer:  noopObserver{},
		logger:    slog.Default(),
		now:       time.Now,
		batchSize: 100,
		stall:     DefaultStallTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(logger.Component("notifications.retry"))
	return r, nil
}

// Schedule handles a failed attempt of n, which must be in Sending. When the
// retry budget is spent the record becomes permanently Failed and goes to
// the dead-letter sink; otherwise it waits for Backoff(retryCount).
func (r *RetryScheduler) Schedule(ctx context.Context, n Notification, reason string) error {
	if _, err := nextStatus(ctx, n, EventFail); err != nil {
		return err
	}

	now := r.now()
	next := n.RetryCount + 1
	attrs := []slog.Attr{
		logger.NotificationID(n.ID),
		logger.Channel(n.Channel.String()),
		logger.RetryCount(next),
		slog.String("reason", reason),
	}

	if next >= n.MaxRetryCount {
		failReason := ReasonRetriesExhausted
		patch := StatusPatch{
			SendStatus:         SendFailed,
			FailReason:         &failReason,
			RetryCount:         &next,
			ClearNextRetryTime: true,
			UpdatedAt:          now,
		}
		current, err := r.store.GetByID(ctx, n.ID)
		if err != nil {
			return r.conflictOrError(ctx, err, "load failed notification", attrs)
		}
		if current.SendStatus != SendSending || current.Generation != n.Generation {
			r.logger.LogAttrs(ctx, slog.LevelWarn, "finalize failed notification: record changed concurrently",
				append(attrs, slog.String("send_status", current.SendStatus.String()))...)
			return nil
		}
		dead := current.Clone()
		patch.Apply(&dead)

		// The sink goes first. If it fails the record stays Sending and the
		// stall sweep brings it back here.
		if err := r.sink.Record(ctx, dead); err != nil {
			r.logger.LogAttrs(ctx, slog.LevelError, "failed to record dead letter", append(attrs, logger.Error(err))...)
			return fmt.Errorf("record dead letter %s: %w", n.ID, err)
		}
		if err := r.store.UpdateStatus(ctx, n.ID, SendSending, patch); err != nil {
			return r.conflictOrError(ctx, err, "finalize failed notification", attrs)
		}

		r.logger.LogAttrs(ctx, slog.LevelWarn, "notification exhausted retries", attrs...)
		r.observer.DeadLettered(n.Channel)
		return nil
	}

	retryAt := now.Add(Backoff(next))
	patch := StatusPatch{
		SendStatus:    SendFailed,
		FailReason:    &reason,
		RetryCount:    &next,
		NextRetryTime: &retryAt,
		UpdatedAt:     now,
	}
	if err := r.store.UpdateStatus(ctx, n.ID, SendSending, patch); err != nil {
		return r.conflictOrError(ctx, err, "schedule retry", attrs)
	}

	r.logger.LogAttrs(ctx, slog.LevelInfo, "notification retry scheduled",
		append(attrs, slog.Time("next_retry_time", retryAt))...)
	r.observer.RetryScheduled(n.Channel, next)
	return nil
}

// ProcessRetries first fails attempts stalled in Sending, then moves due
// Failed records back to Pending and queues a new attempt for each. It
// returns how many were re-queued.
func (r *RetryScheduler) ProcessRetries(ctx context.Context) (int, error) {
	now := r.now()

	var (
		requeued int
		errs     []error
	)
	if err := r.recoverStalled(ctx, now); err != nil {
		errs = append(errs, err)
	}

	due, err := r.store.ListRetryable(ctx, now, r.batchSize)
	if err != nil {
		errs = append(errs, fmt.Errorf("list retryable notifications: %w", err))
		return 0, errors.Join(errs...)
	}

	for _, n := range due {
		// The query may be approximate; the row itself decides.
		if !n.RetryDue(now) {
			continue
		}
		ok, err := r.requeue(ctx, n, now)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			requeued++
		}
	}

	if requeued > 0 || len(errs) > 0 {
		r.logger.LogAttrs(ctx, slog.LevelInfo, "processed due retries",
			logger.Count(int64(requeued)),
			slog.Int("candidates", len(due)),
			logger.Errors(errs...))
	}
	return requeued, errors.Join(errs...)
}

// recoverStalled runs Schedule for records whose attempt never finished:
// the worker died, or the store failed while the outcome was written.
// Recovered records wait a full backoff, so the same sweep never requeues
// them.
func (r *RetryScheduler) recoverStalled(ctx context.Context, now time.Time) error {
	stalled, err := r.store.ListStalled(ctx, now.Add(-r.stall), r.batchSize)
	if err != nil {
		return fmt.Errorf("list stalled notifications: %w", err)
	}

	var errs []error
	for _, n := range stalled {
		r.logger.LogAttrs(ctx, slog.LevelWarn, "recovering stalled attempt",
			logger.NotificationID(n.ID),
			logger.Channel(n.Channel.String()),
			slog.Time("claimed_at", n.UpdatedAt))
		if err := r.Schedule(ctx, n, ReasonAttemptStalled); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *RetryScheduler) requeue(ctx context.Context, n Notification, now time.Time) (bool, error) {
	to, err := nextStatus(ctx, n, EventRetryDue)
	if err != nil {
		return false, nil
	}

	err = r.store.UpdateStatus(ctx, n.ID, SendFailed, StatusPatch{
		SendStatus:         to,
		ClearNextRetryTime: true,
		UpdatedAt:          now,
	})
	if errors.Is(err, ErrStatusConflict) || errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reopen %s: %w", n.ID, err)
	}

	if err := enqueueAttempt(ctx, r.queue, n.ID, QueueRetry, RetryTTL); err != nil {
		revert := StatusPatch{SendStatus: SendFailed, NextRetryTime: n.NextRetryTime, UpdatedAt: r.now()}
		if rerr := r.store.UpdateStatus(ctx, n.ID, to, revert); rerr != nil {
			err = errors.Join(err, fmt.Errorf("revert %s to failed: %w", n.ID, rerr))
		}
		return false, err
	}

	r.observer.RetryRequeued(n.Channel)
	return true, nil
}

func (r *RetryScheduler) conflictOrError(ctx context.Context, err error, op string, attrs []slog.Attr) error {
	if errors.Is(err, ErrStatusConflict) || errors.Is(err, ErrNotFound) {
		r.logger.LogAttrs(ctx, slog.LevelWarn, op+": record changed concurrently", append(attrs, logger.Error(err))...)
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}
