package notifications

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/google/uuid"
)

// DeadLetterSink records notifications that exhausted their retries, for
// manual triage. Nothing reads it back automatically.
//
// Record may be called again for the same ID and Generation when an earlier
// call failed part way; implementations keep one entry per pair.
type DeadLetterSink interface {
	Record(ctx context.Context, n Notification) error
}

// MemoryDeadLetterSink appends to a slice, skipping repeats of an ID and
// Generation it already holds.
type MemoryDeadLetterSink struct {
	mu      sync.RWMutex
	entries []Notification
}

func NewMemoryDeadLetterSink() *MemoryDeadLetterSink {
	return &MemoryDeadLetterSink{}
}

func (s *MemoryDeadLetterSink) Record(_ context.Context, n Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if slices.ContainsFunc(s.entries, func(e Notification) bool {
		return e.ID == n.ID && e.Generation == n.Generation
	}) {
		return nil
	}
	s.entries = append(s.entries, n.Clone())
	return nil
}

func (s *MemoryDeadLetterSink) Entries() []Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.entries)
}

// Count returns how many generations of id were recorded.
func (s *MemoryDeadLetterSink) Count(id uuid.UUID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	for _, n := range s.entries {
		if n.ID == id {
			count++
		}
	}
	return count
}

// MultiSink records to every sink and joins their errors.
type MultiSink []DeadLetterSink

func (m MultiSink) Record(ctx context.Context, n Notification) error {
	var errs []error
	for _, sink := range m {
		if err := sink.Record(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
