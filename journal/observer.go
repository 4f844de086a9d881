package journal

import (
	"context"
	"log/slog"
	"time"

	"github.com/mohans/sensorq/tasks"
)

const recordTimeout = 2 * time.Second

// Observer writes queue events to a Store. Write errors are logged and
// otherwise ignored; the queue never waits on a failed journal.
type Observer struct {
	store  Store
	logger *slog.Logger
}

var _ tasks.Observer = (*Observer)(nil)

func NewObserver(store Store, logger *slog.Logger) *Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Observer{store: store, logger: logger.With("component", "journal")}
}

func (o *Observer) Observe(ev tasks.Event) {
	if o.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	err := o.store.RecordEvent(ctx, LeaseEvent{
		Seq:      int64(ev.Seq),
		TaskID:   ev.TaskID,
		WorkerID: ev.WorkerID,
		Kind:     string(ev.Kind),
		FileID:   ev.FileID,
		Reason:   ev.Reason,
		At:       ev.At,
	})
	if err != nil {
		o.logger.Warn("record lease event", "task", ev.TaskID, "kind", ev.Kind, "err", err)
	}
}
