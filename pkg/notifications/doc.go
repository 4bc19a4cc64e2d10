// Package notifications is a multi-channel notification delivery engine.
//
// A caller submits a SendRequest; the engine stores a Pending record, queues
// a delivery attempt and returns the new ID without waiting for delivery.
// Workers consume the attempt, route it to the ChannelSender registered for
// the notification's channel and record the outcome. Failures are retried
// with exponential backoff (5m, 10m, 20m, ...) until the per-notification
// retry budget is spent, after which the record is permanently Failed and
// handed to a DeadLetterSink.
//
// # Architecture
//
//   - Store: durable records with conditional status updates (memory,
//     PostgreSQL and MongoDB implementations)
//   - Dispatcher: Send, BatchSend, Resend and the per-message Attempt
//   - RetryScheduler: failure bookkeeping and the periodic retry sweep
//   - UnreadCounter: per-recipient cache of Sent and Unread counts
//   - Service: the API other services call, including read state, deletion
//     and retention
//   - Consumers: binds the engine to queue.Worker and queue.Scheduler
//
// # Basic Usage
//
//	store := notifications.NewMemoryStore()
//	retry, _ := notifications.NewRetryScheduler(store, enqueuer, sink)
//	dispatcher, _ := notifications.NewDispatcher(store, enqueuer,
//	    notifications.DefaultSenders(notifications.NewInAppSender(0), mailer, log),
//	    retry,
//	    notifications.WithUnreadCounter(counter),
//	)
//	svc, _ := notifications.NewService(dispatcher)
//
//	id, err := svc.Send(ctx, notifications.SendRequest{
//	    Title:         "Order shipped",
//	    Content:       "Your parcel is on its way",
//	    Category:      notifications.CategoryOrder,
//	    Channel:       notifications.ChannelInApp,
//	    RecipientID:   42,
//	    RecipientType: notifications.RecipientCustomer,
//	})
//
// # Delivery Lifecycle
//
//	Pending -> Sending -> Sent
//	              |
//	              v
//	           Failed -> Pending (retry due, budget left)
//
// Every transition is a conditional update on the current status, so
// duplicate or concurrent queue messages for one notification produce at
// most one Pending to Sending transition. A record left in Sending past the
// stall timeout, because its worker died or the outcome could not be
// written, is failed by the next retry sweep. Resend starts a new
// Generation; the dead-letter sink holds one entry per ID and Generation. Read state is tracked separately
// and never goes back to Unread.
//
// # Unread Counts
//
// Counters are a cache. Send adds one, reading or deleting an unread
// notification subtracts one, MarkAllRead evicts the entry. Values never go
// below zero and are recomputed from the store when missing or when the
// cache backend fails.
package notifications
