// Package redis connects the notifier to Redis, which backs the unread-count
// cache in pkg/notifications/rediscounter.
//
// Connect parses REDIS_URL and pings with retries until the server answers
// or the connect timeout passes. Healthcheck wraps a ping for the readiness
// endpoint.
//
//	var cfg redis.Config
//	if err := config.Load(&cfg); err != nil {
//		return err
//	}
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//
// Failures are reported with the sentinel errors of this package joined with
// the driver error, so errors.Is works on both.
package redis
