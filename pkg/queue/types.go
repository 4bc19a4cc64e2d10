package queue

import (
	"time"

	"github.com/google/uuid"
)

// DefaultQueueName is used when no queue is specified.
const DefaultQueueName = "default"

// TaskType represents the type of task
type TaskType string

const (
	TaskTypeOneTime  TaskType = "one-time"
	TaskTypePeriodic TaskType = "periodic"
)

// TaskStatus represents the status of a task
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// Priority is 0-100, higher runs first.
type Priority int8

const (
	PriorityMin     Priority = 0
	PriorityLow     Priority = 25
	PriorityMedium  Priority = 50
	PriorityHigh    Priority = 75
	PriorityMax     Priority = 100
	PriorityDefault Priority = PriorityMedium
)

func (p Priority) Valid() bool {
	return p >= PriorityMin && p <= PriorityMax
}

// ExpiredReason is recorded on tasks re-routed because their TTL elapsed.
const ExpiredReason = "message expired before delivery"

// Task represents a task in the queue
type Task struct {
	ID              uuid.UUID  `json:"id"`
	Queue           string     `json:"queue"`
	TaskType        TaskType   `json:"task_type"`
	TaskName        string     `json:"task_name"`
	Payload         []byte     `json:"payload,omitempty"`
	Status          TaskStatus `json:"status"`
	Priority        Priority   `json:"priority"`
	RetryCount      int8       `json:"retry_count"`
	MaxRetries      int8       `json:"max_retries"`
	ScheduledAt     time.Time  `json:"scheduled_at"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	DeadLetterQueue string     `json:"dead_letter_queue,omitempty"`
	OriginQueue     string     `json:"origin_queue,omitempty"`
	LockedUntil     *time.Time `json:"locked_until,omitempty"`
	LockedBy        *uuid.UUID `json:"locked_by,omitempty"`
	ProcessedAt     *time.Time `json:"processed_at,omitempty"`
	Error           *string    `json:"error,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// Expired reports whether the task's TTL elapsed before now.
func (t *Task) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && t.ExpiresAt.Before(now)
}

// routesToDeadLetterQueue reports whether an expired task should move to its
// dead-letter queue rather than the dead-letter table.
func (t *Task) routesToDeadLetterQueue() bool {
	return t.DeadLetterQueue != "" && t.DeadLetterQueue != t.Queue
}

// TasksDlq is a task that exhausted its retries or expired with nowhere to
// go, kept for manual inspection.
type TasksDlq struct {
	ID         uuid.UUID `json:"id"`
	TaskID     uuid.UUID `json:"task_id"`
	Queue      string    `json:"queue"`
	TaskType   TaskType  `json:"task_type"`
	TaskName   string    `json:"task_name"`
	Payload    []byte    `json:"payload,omitempty"`
	Priority   Priority  `json:"priority"`
	Error      string    `json:"error"`
	RetryCount int8      `json:"retry_count"`
	FailedAt   time.Time `json:"failed_at"`
	CreatedAt  time.Time `json:"created_at"`
}

func newDLQEntry(task *Task, now time.Time) *TasksDlq {
	entry := &TasksDlq{
		ID:         uuid.New(),
		TaskID:     task.ID,
		Queue:      task.Queue,
		TaskType:   task.TaskType,
		TaskName:   task.TaskName,
		Payload:    task.Payload,
		Priority:   task.Priority,
		RetryCount: task.RetryCount,
		FailedAt:   now,
		CreatedAt:  now,
	}
	if task.Error != nil {
		entry.Error = *task.Error
	}
	return entry
}
