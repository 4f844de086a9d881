package tasks

import (
	"context"
	"log/slog"
	"time"
)

// DefaultReapInterval is how often the reaper scans for expired leases.
const DefaultReapInterval = 2500 * time.Millisecond

// Reaper periodically returns expired leases to the pending queue. It shares
// the reclaim path with Fail.
type Reaper struct {
	queue    *Queue
	interval time.Duration
	logger   *slog.Logger
}

func NewReaper(q *Queue, interval time.Duration, logger *slog.Logger) *Reaper {
	if interval <= 0 {
		interval = DefaultReapInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reaper{queue: q, interval: interval, logger: logger.With("component", "reaper")}
}

// Run scans on every tick until ctx is done.
func (r *Reaper) Run(ctx context.Context) error {
	t := time.NewTicker(r.interval)
	defer t.Stop()
	r.logger.Debug("reaper started", "interval", r.interval)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if n := r.queue.ReclaimExpired(); n > 0 {
				r.logger.Info("reclaimed expired tasks", "count", n)
			}
		}
	}
}
