package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/Rito-w/drone/pkg/logger"
	"github.com/Rito-w/drone/pkg/queue"
)

// Periodic task names.
const (
	TaskProcessRetries = "notifications.process_retries"
	TaskPurge          = "notifications.purge"
)

// HandlerRegistry is the part of queue.Worker that consumers attach to.
type HandlerRegistry interface {
	RegisterHandler(handlers ...queue.Handler)
	RegisterQueueHandler(queueName string, h queue.Handler)
}

// PeriodicScheduler is the part of queue.Scheduler used for periodic jobs.
type PeriodicScheduler interface {
	AddTask(name string, schedule queue.Schedule, opts ...queue.SchedulerTaskOption) error
}

// Consumers binds the engine to the task queue: delivery attempts from the
// send and retry queues, expired messages from the dead-letter queue, and
// the periodic retry and purge jobs.
type Consumers struct {
	service *Service
	retry   *RetryScheduler
	cfg     Config
	logger  *slog.Logger
}

func NewConsumers(service *Service, cfg Config, log *slog.Logger) (*Consumers, error) {
	if service == nil {
		return nil, errors.New("service cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid notifications config: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Consumers{
		service: service,
		retry:   service.dispatcher.retry,
		cfg:     cfg,
		logger:  log.With(logger.Component("notifications.consumers")),
	}, nil
}

// Register attaches the queue handlers to w.
func (c *Consumers) Register(w HandlerRegistry) {
	w.RegisterQueueHandler(QueueSend, queue.NewRawHandler(QueueSend, c.handleAttempt))
	w.RegisterQueueHandler(QueueRetry, queue.NewRawHandler(QueueRetry, c.handleAttempt))
	w.RegisterQueueHandler(QueueDLQ, queue.NewRawHandler(QueueDLQ, c.handleDeadLetter))

	w.RegisterHandler(
		queue.NewPeriodicTaskHandler(TaskProcessRetries, c.processRetries),
		queue.NewPeriodicTaskHandler(TaskPurge, c.purge),
	)
}

// Schedule adds the periodic jobs to s.
func (c *Consumers) Schedule(s PeriodicScheduler) error {
	if err := s.AddTask(TaskProcessRetries, queue.EveryInterval(c.cfg.RetryInterval)); err != nil {
		return fmt.Errorf("schedule %s: %w", TaskProcessRetries, err)
	}
	if err := s.AddTask(TaskPurge, queue.DailyAt(c.cfg.PurgeHour, 0)); err != nil {
		return fmt.Errorf("schedule %s: %w", TaskPurge, err)
	}
	return nil
}

func (c *Consumers) handleAttempt(ctx context.Context, task queue.Task) error {
	msg, err := decodeAttempt(task)
	if err != nil {
		// A malformed payload will never succeed; do not retry it.
		c.logger.LogAttrs(ctx, slog.LevelError, "discarding malformed attempt message",
			logger.TaskID(task.ID),
			logger.Queue(task.Queue),
			logger.Error(err))
		return nil
	}
	return c.service.dispatcher.Attempt(ctx, msg.NotificationID)
}

// handleDeadLetter logs messages that expired before a worker claimed them.
// The notification itself stays in its current state.
func (c *Consumers) handleDeadLetter(ctx context.Context, task queue.Task) error {
	attrs := []slog.Attr{
		logger.TaskID(task.ID),
		logger.Queue(task.OriginQueue),
	}
	if msg, err := decodeAttempt(task); err == nil {
		attrs = append(attrs, logger.NotificationID(msg.NotificationID))
	}
	if task.Error != nil {
		attrs = append(attrs, slog.String("reason", *task.Error))
	}
	c.logger.LogAttrs(ctx, slog.LevelWarn, "notification message dead-lettered", attrs...)
	return nil
}

func (c *Consumers) processRetries(ctx context.Context) error {
	_, err := c.retry.ProcessRetries(ctx)
	return err
}

func (c *Consumers) purge(ctx context.Context) error {
	_, err := c.service.Purge(ctx, c.cfg.Retention)
	return err
}

func decodeAttempt(task queue.Task) (AttemptMessage, error) {
	var msg AttemptMessage
	if err := json.Unmarshal(task.Payload, &msg); err != nil {
		return msg, fmt.Errorf("decode attempt payload: %w", err)
	}
	if msg.NotificationID == uuid.Nil {
		return msg, errors.New("attempt payload has no notification id")
	}
	return msg, nil
}
