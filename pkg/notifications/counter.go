package notifications

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Rito-w/drone/pkg/logger"
)

// DefaultCounterTTL is how long a cached unread count lives without mutation.
const DefaultCounterTTL = time.Hour

// UnreadCounter caches the number of Sent and Unread notifications per
// recipient. Values may lag behind the store; never base correctness
// decisions on them.
type UnreadCounter interface {
	// Get returns the cached value, recomputing it from the store on a miss.
	Get(ctx context.Context, r Recipient) (int64, error)

	// Increment adds delta (which may be negative) and refreshes the TTL.
	// The stored value never drops below zero.
	Increment(ctx context.Context, r Recipient, delta int64) error

	// Reset evicts the entry so the next Get recomputes it.
	Reset(ctx context.Context, r Recipient) error
}

// CountFunc recomputes a recipient's unread count from the source of truth.
// Store.CountUnread satisfies it.
type CountFunc func(ctx context.Context, r Recipient) (int64, error)

// CounterKey is the cache key of r's unread count.
func CounterKey(r Recipient) string {
	return fmt.Sprintf("notification:unread:count:%d:%d", r.Type, r.ID)
}

type counterEntry struct {
	value     int64
	expiresAt time.Time
}

// MemoryCounter is an in-process UnreadCounter with per-entry TTL.
type MemoryCounter struct {
	mu      sync.Mutex
	entries map[string]counterEntry
	count   CountFunc
	ttl     time.Duration
	now     func() time.Time
}

// MemoryCounterOption configures a MemoryCounter.
type MemoryCounterOption func(*MemoryCounter)

func WithCounterTTL(ttl time.Duration) MemoryCounterOption {
	return func(c *MemoryCounter) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithCounterClock replaces time.Now for TTL bookkeeping.
func WithCounterClock(now func() time.Time) MemoryCounterOption {
	return func(c *MemoryCounter) {
		if now != nil {
			c.now = now
		}
	}
}

func NewMemoryCounter(count CountFunc, opts ...MemoryCounterOption) *MemoryCounter {
	c := &MemoryCounter{
		entries: make(map[string]counterEntry),
		count:   count,
		ttl:     DefaultCounterTTL,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *MemoryCounter) Get(ctx context.Context, r Recipient) (int64, error) {
	key := CounterKey(r)

	c.mu.Lock()
	if e, ok := c.entries[key]; ok && c.now().Before(e.expiresAt) {
		c.mu.Unlock()
		return e.value, nil
	}
	c.mu.Unlock()

	if c.count == nil {
		return 0, nil
	}
	value, err := c.count(ctx, r)
	if err != nil {
		return 0, fmt.Errorf("recompute unread count for %s: %w", r, err)
	}

	c.mu.Lock()
	c.entries[key] = counterEntry{value: value, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()

	return value, nil
}

func (c *MemoryCounter) Increment(_ context.Context, r Recipient, delta int64) error {
	key := CounterKey(r)

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	e := c.entries[key]
	if !now.Before(e.expiresAt) {
		e.value = 0
	}
	e.value = max(e.value+delta, 0)
	e.expiresAt = now.Add(c.ttl)
	c.entries[key] = e
	return nil
}

func (c *MemoryCounter) Reset(_ context.Context, r Recipient) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, CounterKey(r))
	return nil
}

// tolerantCounter logs counter failures instead of returning them; the
// counter is a cache and must not fail the operation that mutates it.
type tolerantCounter struct {
	next   UnreadCounter
	count  CountFunc
	logger *slog.Logger
}

func (c tolerantCounter) get(ctx context.Context, r Recipient) (int64, error) {
	value, err := c.next.Get(ctx, r)
	if err == nil {
		return value, nil
	}
	c.logger.LogAttrs(ctx, slog.LevelWarn, "unread counter unavailable, counting from store",
		logger.Recipient(r.ID, r.Type.String()),
		logger.Error(err))
	return c.count(ctx, r)
}

func (c tolerantCounter) increment(ctx context.Context, r Recipient, delta int64) {
	if delta == 0 {
		return
	}
	if err := c.next.Increment(ctx, r, delta); err != nil {
		c.logger.LogAttrs(ctx, slog.LevelWarn, "failed to adjust unread counter",
			logger.Recipient(r.ID, r.Type.String()),
			slog.Int64("delta", delta),
			logger.Error(err))
	}
}

func (c tolerantCounter) reset(ctx context.Context, r Recipient) {
	if err := c.next.Reset(ctx, r); err != nil {
		c.logger.LogAttrs(ctx, slog.LevelWarn, "failed to reset unread counter",
			logger.Recipient(r.ID, r.Type.String()),
			logger.Error(err))
	}
}
