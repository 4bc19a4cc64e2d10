// Package mongo connects the notifier to MongoDB when NOTIFY_STORE=mongo.
//
// Connect retries until the server answers a ping, then the caller picks the
// database named by MONGODB_DATABASE:
//
//	client, err := mongo.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer client.Disconnect(context.Background())
//	db := client.Database(cfg.Database)
//
// Healthcheck wraps a ping for the readiness endpoint.
package mongo
