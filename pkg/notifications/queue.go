package notifications

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Rito-w/drone/pkg/queue"
)

// Queue topology. Messages left unclaimed past their TTL are moved to
// QueueDLQ by the queue storage.
const (
	QueueSend  = "notification.send"
	QueueRetry = "notification.retry"
	QueueDLQ   = "notification.dlq"

	SendTTL  = 5 * time.Minute
	RetryTTL = 10 * time.Minute

	attemptTaskName = "notification.attempt"
)

// Enqueuer is the part of queue.Enqueuer the engine needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, payload any, opts ...queue.EnqueueOption) error
}

// AttemptMessage is the payload of every delivery work item.
type AttemptMessage struct {
	NotificationID uuid.UUID `json:"notification_id"`
}

func enqueueAttempt(ctx context.Context, q Enqueuer, id uuid.UUID, queueName string, ttl time.Duration) error {
	err := q.Enqueue(ctx, AttemptMessage{NotificationID: id},
		queue.WithQueue(queueName),
		queue.WithTaskName(attemptTaskName),
		queue.WithTTL(ttl),
		queue.WithDeadLetterQueue(QueueDLQ),
	)
	if err != nil {
		return fmt.Errorf("%w: enqueue %s on %s: %w", ErrQueueUnavailable, id, queueName, err)
	}
	return nil
}
