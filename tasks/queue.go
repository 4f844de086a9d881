package tasks

import (
	"container/list"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Repository is the surface workers and administrators use to drive tasks.
// *Queue implements it in process; rpc.Client implements it over the network.
type Repository interface {
	Submit(ctx context.Context, task Task) error
	Grant(ctx context.Context, workerID uuid.UUID) (Task, bool, error)
	Complete(ctx context.Context, workerID, taskID uuid.UUID, result Result) error
	Fail(ctx context.Context, workerID, taskID uuid.UUID, reason string) error
	Status(ctx context.Context, taskID uuid.UUID) (Status, error)
	CollectResults(ctx context.Context, taskIDs []uuid.UUID) ([]ResultEntry, error)
}

var _ Repository = (*Queue)(nil)

type QueueConfig struct {
	LeaseTimeout time.Duration // 0 means DefaultLeaseTimeout
	Logger       *slog.Logger
	Observer     Observer
	Now          func() time.Time
}

// Queue is the in-memory task repository. pending, leases and results are
// disjoint: a task id is in exactly one of them until its result is
// collected, after which it is in none.
type Queue struct {
	mu      sync.Mutex
	pending *list.List // of Task
	leases  *leaseTracker
	results map[uuid.UUID][]ResultEntry
	seq     uint64 // last Event.Seq handed out

	timeout  time.Duration
	now      func() time.Time
	logger   *slog.Logger
	observer Observer
}

func NewQueue(cfg QueueConfig) *Queue {
	timeout := cfg.LeaseTimeout
	if timeout <= 0 {
		timeout = DefaultLeaseTimeout
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		pending:  list.New(),
		leases:   newLeaseTracker(),
		results:  make(map[uuid.UUID][]ResultEntry),
		timeout:  timeout,
		now:      now,
		logger:   logger.With("component", "queue"),
		observer: cfg.Observer,
	}
}

// LeaseTimeout returns the lease duration applied by Grant.
func (q *Queue) LeaseTimeout() time.Duration { return q.timeout }

// Submit appends task to the tail of the pending queue. Ids are not checked
// for duplicates.
func (q *Queue) Submit(_ context.Context, task Task) error {
	q.mu.Lock()
	q.pending.PushBack(task)
	ev := q.event(Event{Kind: EventSubmitted, TaskID: task.ID, FileID: task.FileID, At: q.now()})
	q.mu.Unlock()

	q.logger.Debug("added task", "task", task.ID, "file", task.FileID, "offset", task.Offset, "length", task.Length)
	q.emit(ev)
	return nil
}

// Grant leases the head of the pending queue to workerID. It reports false
// when nothing is pending; callers poll.
func (q *Queue) Grant(_ context.Context, workerID uuid.UUID) (Task, bool, error) {
	q.mu.Lock()
	front := q.pending.Front()
	if front == nil {
		q.mu.Unlock()
		return Task{}, false, nil
	}
	task := q.pending.Remove(front).(Task)
	lease := q.leases.grant(task, workerID, q.now(), q.timeout)
	ev := q.event(Event{Kind: EventGranted, TaskID: task.ID, WorkerID: workerID, FileID: task.FileID, At: lease.GrantedAt})
	q.mu.Unlock()

	q.logger.Debug("worker executing task", "worker", workerID, "task", task.ID, "expires", lease.ExpiresAt)
	q.emit(ev)
	return task, true, nil
}

// Complete accepts result for a task with an active lease. The worker id is
// not compared with the lease holder. Completions for tasks without a lease
// (expired and reclaimed, or duplicates) are dropped.
func (q *Queue) Complete(_ context.Context, workerID, taskID uuid.UUID, result Result) error {
	q.mu.Lock()
	lease, ok := q.leases.release(taskID)
	var ev Event
	if ok {
		q.results[taskID] = result.sorted()
		ev = q.event(Event{Kind: EventCompleted, TaskID: taskID, WorkerID: workerID, FileID: lease.Task.FileID, At: q.now()})
	} else {
		ev = q.event(Event{Kind: EventDropped, TaskID: taskID, WorkerID: workerID, At: q.now()})
	}
	q.mu.Unlock()

	if !ok {
		q.logger.Debug("dropped completion without lease", "worker", workerID, "task", taskID)
	} else {
		q.logger.Debug("worker finished task", "worker", workerID, "task", taskID, "entries", len(result.Entries))
	}
	q.emit(ev)
	return nil
}

// Fail returns a leased task to the head of the pending queue so it is the
// next one granted. Without an active lease it does nothing.
func (q *Queue) Fail(_ context.Context, workerID, taskID uuid.UUID, reason string) error {
	q.mu.Lock()
	lease, ok := q.leases.release(taskID)
	if !ok {
		q.mu.Unlock()
		return nil
	}
	q.pending.PushFront(lease.Task)
	ev := q.event(Event{Kind: EventFailed, TaskID: taskID, WorkerID: workerID, FileID: lease.Task.FileID, Reason: reason, At: q.now()})
	q.mu.Unlock()

	q.logger.Info("worker failed task", "worker", workerID, "task", taskID, "reason", reason)
	q.emit(ev)
	return nil
}

// ReclaimExpired moves every expired lease back to the head of the pending
// queue, the earliest granted task first, and returns how many were moved.
func (q *Queue) ReclaimExpired() int {
	q.mu.Lock()
	now := q.now()
	expired := q.leases.releaseExpired(now)
	for i := len(expired) - 1; i >= 0; i-- {
		q.pending.PushFront(expired[i].Task)
	}
	evs := make([]Event, len(expired))
	for i, l := range expired {
		evs[i] = q.event(Event{Kind: EventExpired, TaskID: l.Task.ID, WorkerID: l.WorkerID, FileID: l.Task.FileID, Reason: "lease expired", At: now})
	}
	q.mu.Unlock()

	for i, l := range expired {
		q.logger.Info("task lease expired", "task", l.Task.ID, "worker", l.WorkerID, "granted", l.GrantedAt)
		q.emit(evs[i])
	}
	return len(expired)
}

// Status reports FINISHED, EXECUTING or PENDING for a known task and FAILED
// for anything else.
func (q *Queue) Status(_ context.Context, taskID uuid.UUID) (Status, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.results[taskID]; ok {
		return StatusFinished, nil
	}
	if q.leases.has(taskID) {
		return StatusExecuting, nil
	}
	for e := q.pending.Front(); e != nil; e = e.Next() {
		if e.Value.(Task).ID == taskID {
			return StatusPending, nil
		}
	}
	return StatusFailed, nil
}

// CollectResults concatenates and removes the stored entries of each id in
// order. It stops at the first id without a result and returns
// ErrResultNotReady; results consumed before that id stay consumed.
func (q *Queue) CollectResults(_ context.Context, taskIDs []uuid.UUID) ([]ResultEntry, error) {
	q.mu.Lock()
	var (
		out []ResultEntry
		evs []Event
		err error
	)
	at := q.now()
	for _, id := range taskIDs {
		entries, ok := q.results[id]
		if !ok {
			err = fmt.Errorf("%w: no result for task %s", ErrResultNotReady, id)
			break
		}
		out = append(out, entries...)
		delete(q.results, id)
		evs = append(evs, q.event(Event{Kind: EventCollected, TaskID: id, At: at}))
	}
	q.mu.Unlock()

	for _, ev := range evs {
		q.logger.Debug("removed task result", "task", ev.TaskID)
		q.emit(ev)
	}
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []ResultEntry{}
	}
	return out, nil
}

// Stats is a point-in-time count of each collection.
type Stats struct {
	Pending  int
	Leased   int
	Finished int
}

func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{Pending: q.pending.Len(), Leased: q.leases.len(), Finished: len(q.results)}
}

// event stamps ev with the next sequence number. Callers hold q.mu, so Seq
// follows the order in which changes were applied.
func (q *Queue) event(ev Event) Event {
	q.seq++
	ev.Seq = q.seq
	return ev
}

func (q *Queue) emit(ev Event) {
	if q.observer != nil {
		q.observer.Observe(ev)
	}
}
