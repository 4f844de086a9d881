package tasks

import (
	"time"

	"github.com/google/uuid"
)

// EventKind names a queue state change.
type EventKind string

const (
	EventSubmitted EventKind = "submitted"
	EventGranted   EventKind = "granted"
	EventCompleted EventKind = "completed"
	EventDropped   EventKind = "dropped" // completion without an active lease
	EventFailed    EventKind = "failed"
	EventExpired   EventKind = "expired"
	EventCollected EventKind = "collected"
)

// Event describes one state change of a task inside the queue.
type Event struct {
	Seq      uint64 // strictly increasing per Queue, in the order changes were applied
	Kind     EventKind
	TaskID   uuid.UUID
	WorkerID uuid.UUID // zero for submit, expire and collect
	FileID   string    // empty when the queue no longer holds the task
	Reason   string
	At       time.Time
}

// Observer receives queue events after the queue lock is released.
// Concurrent changes may be delivered out of order; Event.Seq restores it.
// Implementations must be safe for concurrent use.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) Observe(ev Event) { f(ev) }
