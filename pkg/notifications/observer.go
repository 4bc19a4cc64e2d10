package notifications

import "time"

// Observer receives delivery events, typically to export metrics.
// Implementations must be safe for concurrent use and must not block.
type Observer interface {
	NotificationCreated(ch Channel)
	AttemptFinished(ch Channel, ok bool, elapsed time.Duration)
	RetryScheduled(ch Channel, retryCount int)
	RetryRequeued(ch Channel)
	DeadLettered(ch Channel)
}

type noopObserver struct{}

func (noopObserver) NotificationCreated(Channel)                  {}
func (noopObserver) AttemptFinished(Channel, bool, time.Duration) {}
func (noopObserver) RetryScheduled(Channel, int)                  {}
func (noopObserver) RetryRequeued(Channel)                        {}
func (noopObserver) DeadLettered(Channel)                         {}
