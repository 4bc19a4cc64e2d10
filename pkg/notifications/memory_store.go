package notifications

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps notifications in process memory. Suitable for tests and
// single-process development runs.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[uuid.UUID]*Notification
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[uuid.UUID]*Notification)}
}

func (s *MemoryStore) Insert(_ context.Context, n Notification) error {
	if n.ID == uuid.Nil {
		return fmt.Errorf("%w: id is required", ErrInvalidRequest)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.items[n.ID]; exists {
		return fmt.Errorf("notification %s already exists", n.ID)
	}
	stored := n.Clone()
	s.items[n.ID] = &stored
	return nil
}

func (s *MemoryStore) GetByID(_ context.Context, id uuid.UUID) (Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.live(id)
	if !ok {
		return Notification{}, ErrNotFound
	}
	return n.Clone(), nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, id uuid.UUID, expected SendStatus, patch StatusPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.live(id)
	if !ok {
		return ErrNotFound
	}
	if n.SendStatus != expected {
		return fmt.Errorf("%w: %s is %s, expected %s", ErrStatusConflict, id, n.SendStatus, expected)
	}
	patch.Apply(n)
	return nil
}

func (s *MemoryStore) Query(_ context.Context, f Filter) (Page, error) {
	f = f.Normalize()

	s.mu.RLock()
	matched := make([]Notification, 0)
	for _, n := range s.items {
		if f.Match(n) {
			matched = append(matched, n.Clone())
		}
	}
	s.mu.RUnlock()

	sortNewestFirst(matched)

	page := Page{Total: int64(len(matched)), Page: f.Page, Size: f.Size}
	start := f.Offset()
	if start >= len(matched) {
		page.Items = []Notification{}
		return page, nil
	}
	end := min(start+f.Size, len(matched))
	page.Items = matched[start:end]
	return page, nil
}

func (s *MemoryStore) Delete(_ context.Context, id uuid.UUID) (Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.live(id)
	if !ok {
		return Notification{}, ErrNotFound
	}
	before := n.Clone()
	n.Deleted = true
	n.UpdatedAt = laterOf(n.UpdatedAt, time.Now())
	return before, nil
}

func (s *MemoryStore) DeleteBatch(_ context.Context, ids []uuid.UUID) ([]Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var deleted []Notification
	for _, id := range ids {
		n, ok := s.live(id)
		if !ok {
			continue
		}
		deleted = append(deleted, n.Clone())
		n.Deleted = true
		n.UpdatedAt = laterOf(n.UpdatedAt, now)
	}
	return deleted, nil
}

func (s *MemoryStore) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for id, n := range s.items {
		if n.CreatedAt.Before(cutoff) {
			delete(s.items, id)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryStore) MarkRead(_ context.Context, id uuid.UUID, at time.Time) (Notification, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.live(id)
	if !ok {
		return Notification{}, false, ErrNotFound
	}
	if n.ReadStatus == Read {
		return n.Clone(), false, nil
	}
	markRead(n, at)
	return n.Clone(), true, nil
}

func (s *MemoryStore) MarkAllRead(_ context.Context, r Recipient, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var changed int64
	for _, n := range s.items {
		if n.Deleted || n.ReadStatus == Read || n.Recipient() != r {
			continue
		}
		markRead(n, at)
		changed++
	}
	return changed, nil
}

func (s *MemoryStore) CountUnread(_ context.Context, r Recipient) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for _, n := range s.items {
		if n.Recipient() == r && n.CountsAsUnread() {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) ListRetryable(_ context.Context, now time.Time, limit int) ([]Notification, error) {
	s.mu.RLock()
	var due []Notification
	for _, n := range s.items {
		if n.RetryDue(now) {
			due = append(due, n.Clone())
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(due, func(a, b Notification) int {
		return a.NextRetryTime.Compare(*b.NextRetryTime)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *MemoryStore) ListStalled(_ context.Context, cutoff time.Time, limit int) ([]Notification, error) {
	s.mu.RLock()
	var stalled []Notification
	for _, n := range s.items {
		if n.SendStatus == SendSending && !n.Deleted && n.UpdatedAt.Before(cutoff) {
			stalled = append(stalled, n.Clone())
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(stalled, func(a, b Notification) int {
		return a.UpdatedAt.Compare(b.UpdatedAt)
	})
	if limit > 0 && len(stalled) > limit {
		stalled = stalled[:limit]
	}
	return stalled, nil
}

// live returns the stored record unless it is missing or soft-deleted.
// Callers hold the lock.
func (s *MemoryStore) live(id uuid.UUID) (*Notification, bool) {
	n, ok := s.items[id]
	if !ok || n.Deleted {
		return nil, false
	}
	return n, true
}

func markRead(n *Notification, at time.Time) {
	n.ReadStatus = Read
	n.ReadTime = &at
	n.UpdatedAt = laterOf(n.UpdatedAt, at)
}

func laterOf(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}

func sortNewestFirst(items []Notification) {
	slices.SortStableFunc(items, func(a, b Notification) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return slices.Compare(b.ID[:], a.ID[:])
	})
}
