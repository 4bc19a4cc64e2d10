// Package queue is a storage-backed task queue with delayed, expiring and
// periodic tasks.
//
// Three components talk to storage through small repository interfaces:
//
//   - Enqueuer adds one-time tasks.
//   - Worker claims due tasks, runs the matching Handler and acknowledges or
//     fails them.
//   - Scheduler turns Schedule definitions into periodic tasks.
//
// MemoryStorage backs tests and local runs; PostgresStorage backs production with
// FOR UPDATE SKIP LOCKED claims so any number of worker processes can share a
// table.
//
// # Expiry and dead-letter routing
//
// A task enqueued WithTTL carries an ExpiresAt deadline. If no worker claims
// it before the deadline the storage re-routes it: with WithDeadLetterQueue
// set, the task moves to that queue (OriginQueue keeps where it came from) and
// becomes claimable there; otherwise it is moved to the dead-letter table.
// Tasks that exhaust MaxRetries also land in the dead-letter table.
//
// # Handlers
//
// Handlers are looked up by task name, which defaults to the payload's
// qualified type name:
//
//	type AttemptTask struct{ ID uuid.UUID }
//
//	w.RegisterHandler(queue.NewTaskHandler(func(ctx context.Context, t AttemptTask) error {
//	    return dispatcher.Attempt(ctx, t.ID)
//	}))
//
// A handler registered with RegisterQueueHandler receives every task of one
// queue regardless of its name, which is how dead-letter queues are consumed.
package queue
