package tasks

import (
	"cmp"
	"slices"
	"time"

	"github.com/google/uuid"
)

// DefaultLeaseTimeout is how long a worker may hold a task before the reaper
// hands it to someone else.
const DefaultLeaseTimeout = 100 * time.Second

// Lease is a time-bounded grant of a task to one worker.
type Lease struct {
	Task      Task
	WorkerID  uuid.UUID
	GrantedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the lease deadline has passed at now.
func (l Lease) Expired(now time.Time) bool { return !now.Before(l.ExpiresAt) }

// leaseTracker maps in-flight task ids to their lease. It is not safe for
// concurrent use; the Queue lock guards it.
type leaseTracker struct {
	leases map[uuid.UUID]Lease
}

func newLeaseTracker() *leaseTracker {
	return &leaseTracker{leases: make(map[uuid.UUID]Lease)}
}

func (lt *leaseTracker) grant(task Task, workerID uuid.UUID, now time.Time, timeout time.Duration) Lease {
	l := Lease{Task: task, WorkerID: workerID, GrantedAt: now, ExpiresAt: now.Add(timeout)}
	lt.leases[task.ID] = l
	return l
}

func (lt *leaseTracker) has(taskID uuid.UUID) bool {
	_, ok := lt.leases[taskID]
	return ok
}

// release removes and returns the lease for taskID.
func (lt *leaseTracker) release(taskID uuid.UUID) (Lease, bool) {
	l, ok := lt.leases[taskID]
	if ok {
		delete(lt.leases, taskID)
	}
	return l, ok
}

// releaseExpired removes every lease expired at now and returns them oldest
// grant first.
func (lt *leaseTracker) releaseExpired(now time.Time) []Lease {
	var out []Lease
	for id, l := range lt.leases {
		if l.Expired(now) {
			out = append(out, l)
			delete(lt.leases, id)
		}
	}
	slices.SortFunc(out, func(a, b Lease) int { return cmp.Compare(a.GrantedAt.UnixNano(), b.GrantedAt.UnixNano()) })
	return out
}

func (lt *leaseTracker) len() int { return len(lt.leases) }
