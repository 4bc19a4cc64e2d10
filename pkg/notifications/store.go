package notifications

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Store is the durable record of notifications. Every method ignores
// soft-deleted records unless stated otherwise.
type Store interface {
	Insert(ctx context.Context, n Notification) error

	// GetByID returns ErrNotFound for missing or deleted records.
	GetByID(ctx context.Context, id uuid.UUID) (Notification, error)

	// UpdateStatus applies patch only while the stored send status equals
	// expected, as one atomic step. It returns ErrStatusConflict when the
	// status differs and ErrNotFound when the record is gone.
	UpdateStatus(ctx context.Context, id uuid.UUID, expected SendStatus, patch StatusPatch) error

	Query(ctx context.Context, f Filter) (Page, error)

	// Delete soft-deletes the record and returns it as it was before.
	Delete(ctx context.Context, id uuid.UUID) (Notification, error)

	// DeleteBatch soft-deletes the listed records and returns the ones that
	// were actually deleted by this call.
	DeleteBatch(ctx context.Context, ids []uuid.UUID) ([]Notification, error)

	// DeleteOlderThan hard-deletes records created before cutoff, deleted
	// or not.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)

	// MarkRead sets Read and ReadTime once. changed is false when the record
	// was already read.
	MarkRead(ctx context.Context, id uuid.UUID, at time.Time) (n Notification, changed bool, err error)

	MarkAllRead(ctx context.Context, r Recipient, at time.Time) (int64, error)

	// CountUnread counts Sent and Unread records of r.
	CountUnread(ctx context.Context, r Recipient) (int64, error)

	// ListRetryable returns Failed records with NextRetryTime <= now and
	// RetryCount < MaxRetryCount, oldest retry first.
	ListRetryable(ctx context.Context, now time.Time, limit int) ([]Notification, error)

	// ListStalled returns Sending records last updated before cutoff,
	// oldest first.
	ListStalled(ctx context.Context, cutoff time.Time, limit int) ([]Notification, error)
}

// StatusPatch lists the delivery fields an UpdateStatus call writes. Nil
// pointers leave the stored value untouched.
type StatusPatch struct {
	SendStatus SendStatus
	SendTime   *time.Time
	FailReason *string
	RetryCount *int
	Generation *int

	NextRetryTime      *time.Time
	ClearNextRetryTime bool

	// UpdatedAt never moves the stored value backwards.
	UpdatedAt time.Time
}

// Apply writes the patch to n. Stores without native conditional updates
// use it after checking the expected status.
func (p StatusPatch) Apply(n *Notification) {
	n.SendStatus = p.SendStatus
	if p.SendTime != nil {
		n.SendTime = cloneTime(p.SendTime)
	}
	if p.FailReason != nil {
		n.FailReason = *p.FailReason
	}
	if p.RetryCount != nil {
		n.RetryCount = *p.RetryCount
	}
	if p.Generation != nil {
		n.Generation = *p.Generation
	}
	switch {
	case p.ClearNextRetryTime:
		n.NextRetryTime = nil
	case p.NextRetryTime != nil:
		n.NextRetryTime = cloneTime(p.NextRetryTime)
	}
	if p.UpdatedAt.After(n.UpdatedAt) {
		n.UpdatedAt = p.UpdatedAt
	}
}

const (
	DefaultPageSize = 10
	MaxPageSize     = 500
)

// Filter selects notifications for Query. Zero values do not filter.
type Filter struct {
	Title         string // case-insensitive substring
	Category      Category
	Level         Level
	Channel       Channel
	RecipientID   int64
	RecipientType RecipientType
	SendStatus    SendStatus
	ReadStatus    *ReadStatus
	BusinessID    string
	BusinessType  string
	CreatedFrom   *time.Time // inclusive
	CreatedTo     *time.Time // exclusive

	Page int // 1-based
	Size int
}

// Normalize clamps paging to sane values.
func (f Filter) Normalize() Filter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Size < 1 {
		f.Size = DefaultPageSize
	}
	if f.Size > MaxPageSize {
		f.Size = MaxPageSize
	}
	return f
}

func (f Filter) Offset() int {
	f = f.Normalize()
	return (f.Page - 1) * f.Size
}

// Match reports whether n passes every set criterion. Deleted records never
// match.
func (f Filter) Match(n *Notification) bool {
	switch {
	case n.Deleted:
		return false
	case f.Title != "" && !strings.Contains(strings.ToLower(n.Title), strings.ToLower(f.Title)):
		return false
	case f.Category != 0 && n.Category != f.Category:
		return false
	case f.Level != 0 && n.Level != f.Level:
		return false
	case f.Channel != 0 && n.Channel != f.Channel:
		return false
	case f.RecipientID != 0 && n.RecipientID != f.RecipientID:
		return false
	case f.RecipientType != 0 && n.RecipientType != f.RecipientType:
		return false
	case f.SendStatus != 0 && n.SendStatus != f.SendStatus:
		return false
	case f.ReadStatus != nil && n.ReadStatus != *f.ReadStatus:
		return false
	case f.BusinessID != "" && n.BusinessID != f.BusinessID:
		return false
	case f.BusinessType != "" && n.BusinessType != f.BusinessType:
		return false
	case f.CreatedFrom != nil && n.CreatedAt.Before(*f.CreatedFrom):
		return false
	case f.CreatedTo != nil && !n.CreatedAt.Before(*f.CreatedTo):
		return false
	}
	return true
}

// Page is one page of Query results, newest first.
type Page struct {
	Items []Notification `json:"items"`
	Total int64          `json:"total"`
	Page  int            `json:"page"`
	Size  int            `json:"size"`
}
