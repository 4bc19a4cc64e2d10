// Package logger builds the structured slog loggers used by every component of
// the notification engine.
//
// New returns a *slog.Logger configured through functional options. The
// handler is JSON or text depending on the selected Format and is wrapped by a
// decorator that pulls attributes out of context.Context on each record, so
// values such as the notification being processed or the worker that claimed
// a task show up without being passed explicitly.
//
// # Usage
//
//	log := logger.New(
//	    logger.WithEnvironment(cfg.AppEnv, "notifier"),
//	    logger.WithContextExtractors(logger.NotificationExtractor()),
//	)
//	logger.SetAsDefault(log)
//
//	ctx = logger.WithNotificationID(ctx, id)
//	log.InfoContext(ctx, "notification sent",
//	    logger.Channel("email"),
//	    logger.Duration(time.Since(start)),
//	)
//
// # Attributes
//
// attr.go holds constructors for the attribute keys used across the engine
// (notification_id, channel, recipient, queue, retry_count, ...). Error and
// Errors return an empty attribute for nil errors, so
//
//	log.Info("sweep finished", logger.Error(err))
//
// needs no nil check at the call site.
package logger
