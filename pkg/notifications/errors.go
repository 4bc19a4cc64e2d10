package notifications

import "errors"

var (
	ErrNotFound = errors.New("notification not found")

	// ErrInvalidStateTransition rejects a request the current send status
	// does not allow, such as resending a delivered notification.
	ErrInvalidStateTransition = errors.New("invalid notification state transition")

	ErrInvalidRequest = errors.New("invalid notification request")

	// ErrStatusConflict is returned by Store.UpdateStatus when the stored
	// send status differs from the expected one.
	ErrStatusConflict = errors.New("notification status changed concurrently")

	// ErrQueueUnavailable marks failures to hand work to the queue. Send
	// surfaces it to the caller after removing the orphaned record.
	ErrQueueUnavailable = errors.New("notification queue unavailable")

	ErrStoreNil = errors.New("notification store cannot be nil")
)
