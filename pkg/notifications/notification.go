package notifications

import (
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultMaxRetryCount applies when a request does not set MaxRetryCount.
	DefaultMaxRetryCount = 3

	// MaxRetryCountLimit is the largest MaxRetryCount a request may ask for.
	// Backoff stops growing long before it.
	MaxRetryCountLimit = 100
)

// Recipient identifies who a notification is addressed to. The same numeric
// ID may exist in several recipient populations.
type Recipient struct {
	ID   int64         `json:"id"`
	Type RecipientType `json:"type"`
}

func (r Recipient) String() string {
	return fmt.Sprintf("%s:%d", r.Type, r.ID)
}

// Notification is one addressed message with its delivery and read lifecycle.
type Notification struct {
	ID       uuid.UUID `json:"id"`
	Title    string    `json:"title"`
	Content  string    `json:"content"`
	Category Category  `json:"category"`
	Level    Level     `json:"level"`

	Channel          Channel       `json:"channel"`
	RecipientID      int64         `json:"recipient_id"`
	RecipientType    RecipientType `json:"recipient_type"`
	RecipientAddress string        `json:"recipient_address,omitempty"` // phone, email or device token

	BusinessID     string            `json:"business_id,omitempty"`
	BusinessType   string            `json:"business_type,omitempty"`
	TemplateID     string            `json:"template_id,omitempty"`
	TemplateParams map[string]string `json:"template_params,omitempty"`
	ExtraData      map[string]any    `json:"extra_data,omitempty"`

	SendStatus    SendStatus `json:"send_status"`
	SendTime      *time.Time `json:"send_time,omitempty"`
	FailReason    string     `json:"fail_reason,omitempty"`
	RetryCount    int        `json:"retry_count"`
	MaxRetryCount int        `json:"max_retry_count"`
	NextRetryTime *time.Time `json:"next_retry_time,omitempty"`

	// Generation counts Resend calls. A dead letter is keyed by ID and
	// Generation, so each delivery cycle is recorded at most once.
	Generation int `json:"generation"`

	ReadStatus ReadStatus `json:"read_status"`
	ReadTime   *time.Time `json:"read_time,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Deleted   bool      `json:"deleted"`
}

func (n *Notification) Recipient() Recipient {
	return Recipient{ID: n.RecipientID, Type: n.RecipientType}
}

// CountsAsUnread reports whether n contributes to its recipient's unread count.
func (n *Notification) CountsAsUnread() bool {
	return n.SendStatus == SendSent && n.ReadStatus == Unread && !n.Deleted
}

// RetryDue reports whether the retry sweep should pick n up at now.
func (n *Notification) RetryDue(now time.Time) bool {
	return n.SendStatus == SendFailed &&
		!n.Deleted &&
		n.NextRetryTime != nil &&
		!n.NextRetryTime.After(now) &&
		n.RetryCount < n.MaxRetryCount
}

// Clone returns a deep copy, so callers may mutate maps and time pointers.
func (n Notification) Clone() Notification {
	n.TemplateParams = maps.Clone(n.TemplateParams)
	n.ExtraData = maps.Clone(n.ExtraData)
	n.SendTime = cloneTime(n.SendTime)
	n.NextRetryTime = cloneTime(n.NextRetryTime)
	n.ReadTime = cloneTime(n.ReadTime)
	return n
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// SendRequest is the caller-supplied intent passed to Send.
type SendRequest struct {
	Title    string
	Content  string
	Category Category
	Level    Level
	Channel  Channel

	RecipientID      int64
	RecipientType    RecipientType
	RecipientAddress string

	BusinessID     string
	BusinessType   string
	TemplateID     string
	TemplateParams map[string]string
	ExtraData      map[string]any

	// MaxRetryCount defaults to DefaultMaxRetryCount when zero.
	MaxRetryCount int
}

// Validate checks the required fields. Errors wrap ErrInvalidRequest.
func (r SendRequest) Validate() error {
	var errs []error
	if r.Title == "" {
		errs = append(errs, errors.New("title is required"))
	}
	if r.Content == "" {
		errs = append(errs, errors.New("content is required"))
	}
	if !r.Category.Valid() {
		errs = append(errs, fmt.Errorf("unknown category %d", r.Category))
	}
	if r.Level != 0 && !r.Level.Valid() {
		errs = append(errs, fmt.Errorf("unknown level %d", r.Level))
	}
	if !r.Channel.Valid() {
		errs = append(errs, fmt.Errorf("unknown channel %d", r.Channel))
	}
	if r.RecipientID <= 0 {
		errs = append(errs, errors.New("recipient id is required"))
	}
	if !r.RecipientType.Valid() {
		errs = append(errs, fmt.Errorf("unknown recipient type %d", r.RecipientType))
	}
	switch {
	case r.MaxRetryCount < 0:
		errs = append(errs, errors.New("max retry count must not be negative"))
	case r.MaxRetryCount > MaxRetryCountLimit:
		errs = append(errs, fmt.Errorf("max retry count %d exceeds %d", r.MaxRetryCount, MaxRetryCountLimit))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidRequest, errors.Join(errs...))
}

// newNotification builds the Pending/Unread record for r.
func newNotification(r SendRequest, now time.Time) Notification {
	level := r.Level
	if level == 0 {
		level = LevelNormal
	}
	maxRetry := r.MaxRetryCount
	if maxRetry == 0 {
		maxRetry = DefaultMaxRetryCount
	}
	return Notification{
		ID:               uuid.New(),
		Title:            r.Title,
		Content:          r.Content,
		Category:         r.Category,
		Level:            level,
		Channel:          r.Channel,
		RecipientID:      r.RecipientID,
		RecipientType:    r.RecipientType,
		RecipientAddress: r.RecipientAddress,
		BusinessID:       r.BusinessID,
		BusinessType:     r.BusinessType,
		TemplateID:       r.TemplateID,
		TemplateParams:   maps.Clone(r.TemplateParams),
		ExtraData:        maps.Clone(r.ExtraData),
		SendStatus:       SendPending,
		MaxRetryCount:    maxRetry,
		ReadStatus:       Unread,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}
