package notifications

import (
	"context"
	"fmt"

	"github.com/Rito-w/drone/pkg/statemachine"
)

// Name makes SendStatus usable as a statemachine.State.
func (s SendStatus) Name() string { return s.String() }

var (
	EventAttempt  = statemachine.StringEvent("attempt")
	EventSucceed  = statemachine.StringEvent("succeed")
	EventFail     = statemachine.StringEvent("fail")
	EventRetryDue = statemachine.StringEvent("retry_due")
	EventResend   = statemachine.StringEvent("resend")
)

// retriesRemain lets a Failed record back into the pipeline only while it is
// below its retry budget.
func retriesRemain(_ context.Context, _ statemachine.State, _ statemachine.Event, data any) bool {
	n, ok := data.(Notification)
	return ok && n.RetryCount < n.MaxRetryCount
}

// sendFlow is the delivery lifecycle:
//
//	Pending --attempt--> Sending --succeed--> Sent
//	Sending --fail--> Failed --retry_due--> Pending (while retries remain)
//	Pending, Failed --resend--> Pending
var sendFlow = statemachine.MustNewTable(
	statemachine.Allow(SendPending, EventAttempt, SendSending),
	statemachine.Allow(SendSending, EventSucceed, SendSent),
	statemachine.Allow(SendSending, EventFail, SendFailed),
	statemachine.Allow(SendFailed, EventRetryDue, SendPending, retriesRemain),
	statemachine.Allow(SendFailed, EventResend, SendPending),
	statemachine.Allow(SendPending, EventResend, SendPending),
)

// nextStatus resolves event against n's current status. Disallowed moves
// wrap ErrInvalidStateTransition.
func nextStatus(ctx context.Context, n Notification, event statemachine.Event) (SendStatus, error) {
	to, err := sendFlow.Next(ctx, n.SendStatus, event, n)
	if err != nil {
		return 0, fmt.Errorf("%w: %s on %s: %w", ErrInvalidStateTransition, event.Name(), n.SendStatus, err)
	}
	return to.(SendStatus), nil
}

// CanFire reports whether event is allowed for n.
func CanFire(ctx context.Context, n Notification, event statemachine.Event) bool {
	return sendFlow.Can(ctx, n.SendStatus, event, n)
}
