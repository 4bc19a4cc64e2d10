package logger

import (
	"context"
	"log/slog"
)

type notificationKey struct{}

// WithNotificationID stores the id of the notification being handled so
// NotificationExtractor can tag log records with it.
func WithNotificationID(ctx context.Context, id any) context.Context {
	return context.WithValue(ctx, notificationKey{}, id)
}

func NotificationExtractor() ContextExtractor {
	return func(ctx context.Context) (slog.Attr, bool) {
		if ctx == nil {
			return slog.Attr{}, false
		}
		if v := ctx.Value(notificationKey{}); v != nil {
			return NotificationID(v), true
		}
		return slog.Attr{}, false
	}
}

// ValueExtractor returns an extractor emitting ctx.Value(key) under name.
func ValueExtractor(name string, key any) ContextExtractor {
	if name == "" || key == nil {
		return nil
	}
	return func(ctx context.Context) (slog.Attr, bool) {
		if v := ctx.Value(key); v != nil {
			return slog.Any(name, v), true
		}
		return slog.Attr{}, false
	}
}
