package journal

import (
	"time"

	"github.com/google/uuid"
)

// Status represents ingest job processing status recorded in the database.
// Valid values: created, in_progress, completed, failed.
type Status string

const (
	StatusCreated    Status = "created"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// JobRecord is the persisted lifecycle of one asynchronous file
// registration.
type JobRecord struct {
	ID          string // asynq task ID
	Type        string // asynq task type
	Queue       string // asynq queue name
	PayloadJSON string
	Status      Status
	ErrorMsg    *string
	ResultJSON  *string
	CreatedAt   time.Time
	EnqueuedAt  time.Time
	StartedAt   *time.Time
	FinishedAt  *time.Time
}

// LeaseEvent is one row of the task lease audit log.
type LeaseEvent struct {
	Seq      int64 // queue sequence number; orders events of one task
	TaskID   uuid.UUID
	WorkerID uuid.UUID // uuid.Nil when no worker was involved
	Kind     string
	FileID   string
	Reason   string
	At       time.Time
}
