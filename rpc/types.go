package rpc

import (
	"github.com/google/uuid"

	"github.com/mohans/sensorq/tasks"
)

// ServiceName is the net/rpc service the coordinator registers.
const ServiceName = "TaskRepository"

// ---- administration ----

type SubmitArgs struct {
	Task tasks.Task
}

// Replies keep an OK field; gob does not encode empty structs.
type SubmitReply struct {
	OK bool
}

type StatusArgs struct {
	TaskID uuid.UUID
}

// StatusReply sends the status as a plain string. tasks.Status has no
// UnmarshalText for gob to decode it with.
type StatusReply struct {
	Status string
}

type CollectArgs struct {
	TaskIDs []uuid.UUID
}

type CollectReply struct {
	Entries []tasks.ResultEntry
}

// ---- worker -> coordinator ----

type GrantArgs struct {
	WorkerID uuid.UUID
}

// GrantReply carries a task only when HasTask is set.
type GrantReply struct {
	HasTask bool
	Task    tasks.Task
}

type CompleteArgs struct {
	WorkerID uuid.UUID
	TaskID   uuid.UUID
	Result   tasks.Result
}

type CompleteReply struct {
	OK bool
}

type FailArgs struct {
	WorkerID uuid.UUID
	TaskID   uuid.UUID
	Reason   string
}

type FailReply struct {
	OK bool
}
