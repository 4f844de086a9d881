// Package worker runs the loop that leases sections from a coordinator,
// validates them and reports the outcome.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/mohans/sensorq/sensor"
	"github.com/mohans/sensorq/tasks"
)

// DefaultPollInterval spaces Grant calls while the queue is empty.
const DefaultPollInterval = 800 * time.Millisecond

// reportTimeout bounds the Fail call made after ctx is cancelled.
const reportTimeout = 5 * time.Second

// Fetcher opens the bytes of a task's file starting at max(Offset-1, 0).
type Fetcher interface {
	Fetch(ctx context.Context, task tasks.Task) (io.ReadCloser, error)
}

type ValidateFunc func(ctx context.Context, r io.Reader, task tasks.Task) (*tasks.Result, error)

type Config struct {
	ID           uuid.UUID     // zero means a random id
	PollInterval time.Duration // 0 means DefaultPollInterval
	Validate     ValidateFunc  // nil means sensor.Validate
	Logger       *slog.Logger
}

type Worker struct {
	id       uuid.UUID
	repo     tasks.Repository
	fetcher  Fetcher
	validate ValidateFunc
	limiter  *rate.Limiter
	logger   *slog.Logger
}

func New(repo tasks.Repository, fetcher Fetcher, cfg Config) *Worker {
	id := cfg.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	validate := cfg.Validate
	if validate == nil {
		validate = sensor.Validate
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		id:       id,
		repo:     repo,
		fetcher:  fetcher,
		validate: validate,
		limiter:  rate.NewLimiter(rate.Every(poll), 1),
		logger:   logger.With("component", "worker", "worker", id),
	}
}

func (w *Worker) ID() uuid.UUID { return w.id }

// Run processes tasks until ctx is done. Errors talking to the coordinator
// are logged and retried at the poll rate.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker started")
	defer w.logger.Info("worker stopped")
	for {
		worked, err := w.Step(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			w.logger.Warn("coordinator call failed", "err", err)
		}
		if worked && err == nil {
			continue
		}
		if err := w.limiter.Wait(ctx); err != nil {
			return nil
		}
	}
}

// Step leases at most one task and handles it. It reports whether a task
// was granted.
func (w *Worker) Step(ctx context.Context) (bool, error) {
	task, ok, err := w.repo.Grant(ctx, w.id)
	if err != nil {
		return false, fmt.Errorf("grant: %w", err)
	}
	if !ok {
		return false, nil
	}
	log := w.logger.With("task", task.ID, "file", task.FileID, "offset", task.Offset)
	log.Debug("granted task")

	result, err := w.process(ctx, task)
	if err != nil {
		log.Info("task failed", "err", err)
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reportTimeout)
		defer cancel()
		if ferr := w.repo.Fail(rctx, w.id, task.ID, err.Error()); ferr != nil {
			return true, fmt.Errorf("fail %s: %w", task.ID, ferr)
		}
		return true, nil
	}
	if err := w.repo.Complete(ctx, w.id, task.ID, *result); err != nil {
		return true, fmt.Errorf("complete %s: %w", task.ID, err)
	}
	log.Debug("completed task", "entries", len(result.Entries))
	return true, nil
}

func (w *Worker) process(ctx context.Context, task tasks.Task) (*tasks.Result, error) {
	body, err := w.fetcher.Fetch(ctx, task)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer body.Close()

	result, err := w.validate(ctx, body, task)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, errors.New("worker shutting down")
		}
		return nil, fmt.Errorf("validate: %w", err)
	}
	return result, nil
}
