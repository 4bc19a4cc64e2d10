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

const (
	DefaultUnreadLimit = 10
	DefaultRetention   = 30 * 24 * time.Hour
)

// Service is the API other services call. It shares the dispatcher's store
// and unread counter.
type Service struct {
	dispatcher *Dispatcher
	store      Store
	counter    tolerantCounter
	logger     *slog.Logger
	now        func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

func WithServiceLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func NewService(d *Dispatcher, opts ...ServiceOption) (*Service, error) {
	if d == nil {
		return nil, errors.New("dispatcher cannot be nil")
	}
	s := &Service{
		dispatcher: d,
		store:      d.store,
		counter:    d.counter,
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(logger.Component("notifications.service"))
	s.counter.logger = s.logger
	return s, nil
}

func (s *Service) Send(ctx context.Context, req SendRequest) (uuid.UUID, error) {
	return s.dispatcher.Send(ctx, req)
}

func (s *Service) BatchSend(ctx context.Context, req SendRequest, recipientIDs []int64) ([]uuid.UUID, error) {
	return s.dispatcher.BatchSend(ctx, req, recipientIDs)
}

func (s *Service) Resend(ctx context.Context, id uuid.UUID) error {
	return s.dispatcher.Resend(ctx, id)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (Notification, error) {
	return s.store.GetByID(ctx, id)
}

func (s *Service) Query(ctx context.Context, f Filter) (Page, error) {
	return s.store.Query(ctx, f)
}

// MarkRead marks one notification read. Re-marking is a no-op.
func (s *Service) MarkRead(ctx context.Context, id uuid.UUID) error {
	n, changed, err := s.store.MarkRead(ctx, id, s.now())
	if err != nil {
		return err
	}
	if changed {
		s.counter.increment(ctx, n.Recipient(), -1)
	}
	return nil
}

// BatchMarkRead marks the listed notifications read, skipping unknown IDs,
// and returns how many changed.
func (s *Service) BatchMarkRead(ctx context.Context, ids []uuid.UUID) (int, error) {
	at := s.now()
	decrements := make(map[Recipient]int64)
	var errs []error
	for _, id := range ids {
		n, changed, err := s.store.MarkRead(ctx, id, at)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("mark %s read: %w", id, err))
			continue
		}
		if changed {
			decrements[n.Recipient()]++
		}
	}

	var total int
	for r, count := range decrements {
		s.counter.increment(ctx, r, -count)
		total += int(count)
	}
	return total, errors.Join(errs...)
}

// MarkAllRead marks every unread notification of r and drops the cached
// count; the next read recomputes it.
func (s *Service) MarkAllRead(ctx context.Context, r Recipient) (int64, error) {
	changed, err := s.store.MarkAllRead(ctx, r, s.now())
	if err != nil {
		return 0, fmt.Errorf("mark all read for %s: %w", r, err)
	}
	s.counter.reset(ctx, r)
	return changed, nil
}

// Delete soft-deletes a notification. Missing IDs count as already deleted.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	n, err := s.store.Delete(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	if n.ReadStatus == Unread {
		s.counter.increment(ctx, n.Recipient(), -1)
	}
	return nil
}

// BatchDelete soft-deletes the listed notifications and returns how many
// were deleted.
func (s *Service) BatchDelete(ctx context.Context, ids []uuid.UUID) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	deleted, err := s.store.DeleteBatch(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("delete batch: %w", err)
	}

	decrements := make(map[Recipient]int64)
	for _, n := range deleted {
		if n.ReadStatus == Unread {
			decrements[n.Recipient()]++
		}
	}
	for r, count := range decrements {
		s.counter.increment(ctx, r, -count)
	}
	return len(deleted), nil
}

func (s *Service) GetUnreadCount(ctx context.Context, r Recipient) (int64, error) {
	return s.counter.get(ctx, r)
}

// ListUnread returns up to limit delivered, unread notifications of r,
// newest first. A non-positive limit means DefaultUnreadLimit.
func (s *Service) ListUnread(ctx context.Context, r Recipient, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = DefaultUnreadLimit
	}
	page, err := s.store.Query(ctx, Filter{
		RecipientID:   r.ID,
		RecipientType: r.Type,
		SendStatus:    SendSent,
		ReadStatus:    Unread.Ptr(),
		Page:          1,
		Size:          limit,
	})
	if err != nil {
		return nil, fmt.Errorf("list unread for %s: %w", r, err)
	}
	return page.Items, nil
}

// Purge hard-deletes notifications created more than retention ago.
func (s *Service) Purge(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		retention = DefaultRetention
	}
	cutoff := s.now().Add(-retention)
	removed, err := s.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge notifications before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	s.logger.LogAttrs(ctx, slog.LevelInfo, "purged old notifications",
		logger.Count(removed),
		slog.Time("cutoff", cutoff))
	return removed, nil
}

// ProcessRetries re-queues due failed notifications now instead of waiting
// for the periodic job.
func (s *Service) ProcessRetries(ctx context.Context) (int, error) {
	return s.dispatcher.retry.ProcessRetries(ctx)
}
