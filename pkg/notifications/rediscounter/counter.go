package rediscounter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Rito-w/drone/pkg/notifications"
)

// Client is the go-redis surface the counter uses. *redis.Client and
// redis.UniversalClient satisfy it.
type Client interface {
	redis.Scripter
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// incrClamped adds ARGV[1], floors the result at zero and refreshes the TTL
// (ARGV[2], milliseconds) in one round trip.
var incrClamped = redis.NewScript(`
local v = redis.call('INCRBY', KEYS[1], ARGV[1])
if v < 0 then
	redis.call('SET', KEYS[1], 0)
	v = 0
end
redis.call('PEXPIRE', KEYS[1], ARGV[2])
return v
`)

// Counter caches unread counts in Redis under notifications.CounterKey.
type Counter struct {
	client Client
	count  notifications.CountFunc
	ttl    time.Duration
}

var _ notifications.UnreadCounter = (*Counter)(nil)

type Option func(*Counter)

// WithTTL overrides notifications.DefaultCounterTTL.
func WithTTL(ttl time.Duration) Option {
	return func(c *Counter) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// New returns a counter that recomputes misses with count, usually
// Store.CountUnread.
func New(client Client, count notifications.CountFunc, opts ...Option) (*Counter, error) {
	if client == nil {
		return nil, ErrClientNil
	}
	if count == nil {
		return nil, ErrCountFuncNil
	}
	c := &Counter{client: client, count: count, ttl: notifications.DefaultCounterTTL}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Counter) Get(ctx context.Context, r notifications.Recipient) (int64, error) {
	key := notifications.CounterKey(r)

	value, err := c.client.Get(ctx, key).Int64()
	if err == nil {
		return value, nil
	}
	if !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("get %s: %w", key, err)
	}

	value, err = c.count(ctx, r)
	if err != nil {
		return 0, fmt.Errorf("recompute unread count for %s: %w", r, err)
	}
	if err := c.client.Set(ctx, key, value, c.ttl).Err(); err != nil {
		return value, fmt.Errorf("cache %s: %w", key, err)
	}
	return value, nil
}

func (c *Counter) Increment(ctx context.Context, r notifications.Recipient, delta int64) error {
	key := notifications.CounterKey(r)
	if err := incrClamped.Run(ctx, c.client, []string{key}, delta, c.ttl.Milliseconds()).Err(); err != nil {
		return fmt.Errorf("increment %s by %d: %w", key, delta, err)
	}
	return nil
}

func (c *Counter) Reset(ctx context.Context, r notifications.Recipient) error {
	key := notifications.CounterKey(r)
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}
