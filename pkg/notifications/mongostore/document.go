package mongostore

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Rito-w/drone/pkg/notifications"
)

// document is the BSON shape of a notification. Enums are stored as their
// numeric codes, the id as its canonical string.
type document struct {
	ID       string `bson:"_id"`
	Title    string `bson:"title"`
	Content  string `bson:"content"`
	Category int32  `bson:"category"`
	Level    int32  `bson:"level"`
	Channel  int32  `bson:"channel"`

	RecipientID      int64  `bson:"recipient_id"`
	RecipientType    int32  `bson:"recipient_type"`
	RecipientAddress string `bson:"recipient_address,omitempty"`

	BusinessID     string            `bson:"business_id,omitempty"`
	BusinessType   string            `bson:"business_type,omitempty"`
	TemplateID     string            `bson:"template_id,omitempty"`
	TemplateParams map[string]string `bson:"template_params,omitempty"`
	ExtraData      map[string]any    `bson:"extra_data,omitempty"`

	SendStatus    int32      `bson:"send_status"`
	SendTime      *time.Time `bson:"send_time,omitempty"`
	FailReason    string     `bson:"fail_reason,omitempty"`
	RetryCount    int32      `bson:"retry_count"`
	MaxRetryCount int32      `bson:"max_retry_count"`
	NextRetryTime *time.Time `bson:"next_retry_time,omitempty"`
	Generation    int32      `bson:"generation"`

	ReadStatus int32      `bson:"read_status"`
	ReadTime   *time.Time `bson:"read_time,omitempty"`

	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
	Deleted   bool      `bson:"deleted"`
}

func toDocument(n notifications.Notification) document {
	return document{
		ID:               n.ID.String(),
		Title:            n.Title,
		Content:          n.Content,
		Category:         int32(n.Category),
		Level:            int32(n.Level),
		Channel:          int32(n.Channel),
		RecipientID:      n.RecipientID,
		RecipientType:    int32(n.RecipientType),
		RecipientAddress: n.RecipientAddress,
		BusinessID:       n.BusinessID,
		BusinessType:     n.BusinessType,
		TemplateID:       n.TemplateID,
		TemplateParams:   n.TemplateParams,
		ExtraData:        n.ExtraData,
		SendStatus:       int32(n.SendStatus),
		SendTime:         n.SendTime,
		FailReason:       n.FailReason,
		RetryCount:       int32(n.RetryCount),
		MaxRetryCount:    int32(n.MaxRetryCount),
		NextRetryTime:    n.NextRetryTime,
		Generation:       int32(n.Generation),
		ReadStatus:       int32(n.ReadStatus),
		ReadTime:         n.ReadTime,
		CreatedAt:        n.CreatedAt,
		UpdatedAt:        n.UpdatedAt,
		Deleted:          n.Deleted,
	}
}

func (d document) notification() (notifications.Notification, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return notifications.Notification{}, fmt.Errorf("decode notification id %q: %w", d.ID, err)
	}
	return notifications.Notification{
		ID:               id,
		Title:            d.Title,
		Content:          d.Content,
		Category:         notifications.Category(d.Category),
		Level:            notifications.Level(d.Level),
		Channel:          notifications.Channel(d.Channel),
		RecipientID:      d.RecipientID,
		RecipientType:    notifications.RecipientType(d.RecipientType),
		RecipientAddress: d.RecipientAddress,
		BusinessID:       d.BusinessID,
		BusinessType:     d.BusinessType,
		TemplateID:       d.TemplateID,
		TemplateParams:   d.TemplateParams,
		ExtraData:        d.ExtraData,
		SendStatus:       notifications.SendStatus(d.SendStatus),
		SendTime:         d.SendTime,
		FailReason:       d.FailReason,
		RetryCount:       int(d.RetryCount),
		MaxRetryCount:    int(d.MaxRetryCount),
		NextRetryTime:    d.NextRetryTime,
		Generation:       int(d.Generation),
		ReadStatus:       notifications.ReadStatus(d.ReadStatus),
		ReadTime:         d.ReadTime,
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
		Deleted:          d.Deleted,
	}, nil
}
