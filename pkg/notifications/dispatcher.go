package notifications

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Rito-w/drone/pkg/logger"
)

// DefaultSendTimeout bounds one provider call.
const DefaultSendTimeout = 30 * time.Second

// Dispatcher creates notifications, queues their delivery and runs one
// delivery attempt per dequeued message.
type Dispatcher struct {
	store       Store
	queue       Enqueuer
	senders     *Senders
	retry       *RetryScheduler
	counter     tolerantCounter
	observer    Observer
	logger      *slog.Logger
	now         func() time.Time
	sendTimeout time.Duration
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

func WithDispatcherLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithUnreadCounter sets the cache bumped by Send. Without it counts are
// always computed from the store.
func WithUnreadCounter(c UnreadCounter) DispatcherOption {
	return func(d *Dispatcher) {
		if c != nil {
			d.counter.next = c
		}
	}
}

func WithDispatcherObserver(o Observer) DispatcherOption {
	return func(d *Dispatcher) {
		if o != nil {
			d.observer = o
		}
	}
}

func WithSendTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.sendTimeout = timeout
		}
	}
}

func WithDispatcherClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

func NewDispatcher(store Store, q Enqueuer, senders *Senders, retry *RetryScheduler, opts ...DispatcherOption) (*Dispatcher, error) {
	if store == nil {
		return nil, ErrStoreNil
	}
	if q == nil {
		return nil, fmt.Errorf("%w: enqueuer is nil", ErrQueueUnavailable)
	}
	if senders == nil {
		senders = NewSenders()
	}
	if retry == nil {
		return nil, errors.New("retry scheduler cannot be nil")
	}

	d := &Dispatcher{
		store:       store,
		queue:       q,
		senders:     senders,
		retry:       retry,
		observer:    noopObserver{},
		logger:      slog.Default(),
		now:         time.Now,
		sendTimeout: DefaultSendTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With(logger.Component("notifications.dispatcher"))
	if d.counter.next == nil {
		d.counter.next = NewMemoryCounter(store.CountUnread)
	}
	d.counter.count = store.CountUnread
	d.counter.logger = d.logger
	return d, nil
}

// Send persists a Pending notification, queues its first attempt and bumps
// the recipient's unread counter. The record is stored before the message
// becomes visible. If queueing fails the record is deleted again and the
// error wraps ErrQueueUnavailable.
func (d *Dispatcher) Send(ctx context.Context, req SendRequest) (uuid.UUID, error) {
	if err := req.Validate(); err != nil {
		return uuid.Nil, err
	}

	n := newNotification(req, d.now())
	if err := d.store.Insert(ctx, n); err != nil {
		return uuid.Nil, fmt.Errorf("store notification: %w", err)
	}

	if err := enqueueAttempt(ctx, d.queue, n.ID, QueueSend, SendTTL); err != nil {
		if _, derr := d.store.Delete(context.WithoutCancel(ctx), n.ID); derr != nil {
			d.logger.LogAttrs(ctx, slog.LevelError, "failed to remove notification after enqueue failure",
				logger.NotificationID(n.ID),
				logger.Error(derr))
			err = errors.Join(err, derr)
		}
		return uuid.Nil, err
	}

	d.counter.increment(ctx, n.Recipient(), 1)
	d.observer.NotificationCreated(n.Channel)

	d.logger.LogAttrs(ctx, slog.LevelDebug, "notification queued",
		logger.NotificationID(n.ID),
		logger.Channel(n.Channel.String()),
		logger.Recipient(n.RecipientID, n.RecipientType.String()))

	return n.ID, nil
}

// BatchSend calls Send once per recipient. Failures do not undo earlier
// sends; the IDs created so far are returned with the joined errors.
func (d *Dispatcher) BatchSend(ctx context.Context, req SendRequest, recipientIDs []int64) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(recipientIDs))
	var errs []error
	for _, rid := range recipientIDs {
		r := req
		r.RecipientID = rid
		id, err := d.Send(ctx, r)
		if err != nil {
			errs = append(errs, fmt.Errorf("recipient %d: %w", rid, err))
			continue
		}
		ids = append(ids, id)
	}
	return ids, errors.Join(errs...)
}

// Attempt runs one delivery attempt. Missing records and records no longer
// Pending are dropped silently, which makes duplicate messages harmless.
// Channel failures go to the retry scheduler; only store and queue failures
// are returned.
func (d *Dispatcher) Attempt(ctx context.Context, id uuid.UUID) error {
	ctx = logger.WithNotificationID(ctx, id)

	n, err := d.store.GetByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		d.logger.LogAttrs(ctx, slog.LevelInfo, "dropping attempt for missing notification", logger.NotificationID(id))
		return nil
	}
	if err != nil {
		return fmt.Errorf("load notification %s: %w", id, err)
	}

	sending, err := nextStatus(ctx, n, EventAttempt)
	if err != nil {
		d.logger.LogAttrs(ctx, slog.LevelDebug, "dropping attempt, notification not pending",
			logger.NotificationID(id),
			slog.String("send_status", n.SendStatus.String()))
		return nil
	}

	err = d.store.UpdateStatus(ctx, id, SendPending, StatusPatch{SendStatus: sending, UpdatedAt: d.now()})
	if errors.Is(err, ErrStatusConflict) || errors.Is(err, ErrNotFound) {
		d.logger.LogAttrs(ctx, slog.LevelDebug, "dropping attempt, claimed concurrently", logger.NotificationID(id))
		return nil
	}
	if err != nil {
		return fmt.Errorf("claim notification %s: %w", id, err)
	}
	n.SendStatus = sending

	start := time.Now()
	res := d.deliver(ctx, n)
	d.observer.AttemptFinished(n.Channel, res.OK, time.Since(start))

	if !res.OK {
		d.logger.LogAttrs(ctx, slog.LevelWarn, "delivery attempt failed",
			logger.NotificationID(id),
			logger.Channel(n.Channel.String()),
			logger.RetryCount(n.RetryCount),
			slog.String("reason", res.Reason))
		return d.retry.Schedule(ctx, n, res.Reason)
	}

	sent, err := nextStatus(ctx, n, EventSucceed)
	if err != nil {
		return err
	}
	// The provider already accepted the message, so shutdown must not stop
	// the write. A failure here leaves the record Sending for the stall sweep.
	at := d.now()
	err = d.store.UpdateStatus(context.WithoutCancel(ctx), id, SendSending,
		StatusPatch{SendStatus: sent, SendTime: &at, UpdatedAt: at})
	if errors.Is(err, ErrStatusConflict) || errors.Is(err, ErrNotFound) {
		d.logger.LogAttrs(ctx, slog.LevelWarn, "notification changed while sending", logger.NotificationID(id), logger.Error(err))
		return nil
	}
	if err != nil {
		return fmt.Errorf("mark notification %s sent: %w", id, err)
	}

	d.logger.LogAttrs(ctx, slog.LevelInfo, "notification delivered",
		logger.NotificationID(id),
		logger.Channel(n.Channel.String()),
		logger.Recipient(n.RecipientID, n.RecipientType.String()))
	return nil
}

// deliver calls the channel sender with a bounded, uncancellable context:
// a started send runs to completion or timeout.
func (d *Dispatcher) deliver(ctx context.Context, n Notification) (res Result) {
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.sendTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			d.logger.LogAttrs(ctx, slog.LevelError, "channel sender panicked",
				logger.NotificationID(n.ID),
				logger.Channel(n.Channel.String()),
				slog.Any("panic", r))
			res = Failed(fmt.Sprintf("sender panic: %v", r))
		}
	}()

	res = d.senders.Send(sendCtx, n)
	if !res.OK && res.Reason == "" {
		res.Reason = "delivery failed"
		if errors.Is(sendCtx.Err(), context.DeadlineExceeded) {
			res.Reason = "send timed out"
		}
	}
	return res
}

// Resend puts a Pending or Failed notification back at the start of the
// pipeline with a fresh retry budget. Sent and in-flight notifications are
// rejected with ErrInvalidStateTransition.
func (d *Dispatcher) Resend(ctx context.Context, id uuid.UUID) error {
	n, err := d.store.GetByID(ctx, id)
	if err != nil {
		return err
	}

	to, err := nextStatus(ctx, n, EventResend)
	if err != nil {
		return err
	}

	zero, empty, generation := 0, "", n.Generation+1
	err = d.store.UpdateStatus(ctx, id, n.SendStatus, StatusPatch{
		SendStatus:         to,
		RetryCount:         &zero,
		Generation:         &generation,
		FailReason:         &empty,
		ClearNextRetryTime: true,
		UpdatedAt:          d.now(),
	})
	if errors.Is(err, ErrStatusConflict) {
		return fmt.Errorf("%w: %w", ErrInvalidStateTransition, err)
	}
	if err != nil {
		return fmt.Errorf("reset notification %s: %w", id, err)
	}

	if err := enqueueAttempt(ctx, d.queue, id, QueueSend, SendTTL); err != nil {
		restore := StatusPatch{
			SendStatus:    n.SendStatus,
			RetryCount:    &n.RetryCount,
			Generation:    &n.Generation,
			FailReason:    &n.FailReason,
			NextRetryTime: n.NextRetryTime,
			UpdatedAt:     d.now(),
		}
		if rerr := d.store.UpdateStatus(context.WithoutCancel(ctx), id, to, restore); rerr != nil {
			err = errors.Join(err, fmt.Errorf("restore %s: %w", id, rerr))
		}
		return err
	}

	d.logger.LogAttrs(ctx, slog.LevelInfo, "notification resent",
		logger.NotificationID(id),
		logger.Channel(n.Channel.String()))
	return nil
}
