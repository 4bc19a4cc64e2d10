// Package rediscounter keeps per-recipient unread counts in Redis.
//
// Keys follow notifications.CounterKey and expire after an hour without
// mutation. Increments run as a Lua script so the floor at zero and the TTL
// refresh happen atomically. A missing key is recomputed from the store on
// the next Get.
//
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	counter, err := rediscounter.New(client, store.CountUnread)
package rediscounter
