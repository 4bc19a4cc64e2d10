package pgstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Rito-w/drone/pkg/notifications"
)

// DeadLetterSink appends exhausted notifications to notification_dead_letters.
// Recording the same notification and generation twice keeps the first row.
type DeadLetterSink struct {
	db DB
}

var _ notifications.DeadLetterSink = (*DeadLetterSink)(nil)

func NewDeadLetterSink(db DB) (*DeadLetterSink, error) {
	if db == nil {
		return nil, notifications.ErrStoreNil
	}
	return &DeadLetterSink{db: db}, nil
}

func (s *DeadLetterSink) Record(ctx context.Context, n notifications.Notification) error {
	snapshot, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode dead letter %s: %w", n.ID, err)
	}

	_, err = s.db.Exec(ctx, `INSERT INTO notification_dead_letters
			(notification_id, channel, recipient_id, recipient_type, retry_count, fail_reason, snapshot, generation)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (notification_id, generation) DO NOTHING`,
		n.ID, int16(n.Channel), n.RecipientID, int16(n.RecipientType), n.RetryCount, n.FailReason, snapshot,
		int32(n.Generation),
	)
	if err != nil {
		return fmt.Errorf("record dead letter %s: %w", n.ID, err)
	}
	return nil
}
