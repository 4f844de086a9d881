package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/mohans/sensorq/chunker"
	"github.com/mohans/sensorq/journal"
	"github.com/mohans/sensorq/sensor"
)

// Processor manages the asynq server and updates the Store on lifecycle
// events.
type Processor struct {
	server *asynq.Server
	store  journal.Store
}

type ProcessorConfig struct {
	Concurrency int
	Queues      map[string]int
	Logger      *slog.Logger
}

func NewProcessor(redisOpt asynq.RedisClientOpt, store journal.Store, cfg ProcessorConfig) *Processor {
	con := cfg.Concurrency
	if con <= 0 {
		con = 2
	}
	qs := cfg.Queues
	if qs == nil {
		qs = map[string]int{"default": 1}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: con,
		Queues:      qs,
		Logger:      &asynqLogger{l: logger.With("component", "ingest")},
	})
	return &Processor{server: server, store: store}
}

type resultKey struct{}

// setResult hands a JSON result from a handler to the lifecycle middleware.
func setResult(ctx context.Context, v any) {
	dst, ok := ctx.Value(resultKey{}).(*string)
	if !ok {
		return
	}
	if b, err := json.Marshal(v); err == nil {
		*dst = string(b)
	}
}

// Middleware to mark started/completed/failed
func (p *Processor) lifecycleMiddleware(next asynq.Handler) asynq.Handler {
	return asynq.HandlerFunc(func(ctx context.Context, t *asynq.Task) error {
		id, hasID := asynq.GetTaskID(ctx)
		if p.store != nil && hasID {
			_ = p.store.MarkStarted(ctx, id, time.Now().UTC())
		}
		var result string
		err := next.ProcessTask(context.WithValue(ctx, resultKey{}, &result), t)
		if p.store != nil && hasID {
			if err != nil {
				_ = p.store.MarkFailed(ctx, id, err.Error(), time.Now().UTC())
			} else {
				var res *string
				if result != "" {
					res = &result
				}
				_ = p.store.MarkCompleted(ctx, id, res, time.Now().UTC())
			}
		}
		return err
	})
}

// Start begins processing in the background. The caller builds the mux;
// it is wrapped with the lifecycle middleware.
func (p *Processor) Start(mux *asynq.ServeMux) error {
	if mux == nil {
		mux = asynq.NewServeMux()
	}
	return p.server.Start(p.lifecycleMiddleware(mux))
}

func (p *Processor) Shutdown() { p.server.Shutdown() }

// Run starts the processor and shuts it down when ctx is done.
func (p *Processor) Run(ctx context.Context, mux *asynq.ServeMux) error {
	if err := p.Start(mux); err != nil {
		return err
	}
	<-ctx.Done()
	p.Shutdown()
	return nil
}

// Registrar is the part of chunker.Registry the handler needs.
type Registrar interface {
	AddFile(ctx context.Context, name string, sectionSize int64) ([]uuid.UUID, error)
}

var _ Registrar = (*chunker.Registry)(nil)

// NewRegisterHandler returns the TypeRegisterFile handler. Bad payloads,
// missing files and unknown formats are not retried.
func NewRegisterHandler(r Registrar) asynq.Handler {
	return asynq.HandlerFunc(func(ctx context.Context, t *asynq.Task) error {
		var p RegisterFilePayload
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			return fmt.Errorf("decode payload: %w: %w", err, asynq.SkipRetry)
		}
		ids, err := r.AddFile(ctx, p.File, p.SectionSize)
		if err != nil {
			if permanent(err) {
				return fmt.Errorf("register %s: %w: %w", p.File, err, asynq.SkipRetry)
			}
			return fmt.Errorf("register %s: %w", p.File, err)
		}
		setResult(ctx, map[string]any{"file": p.File, "tasks": len(ids)})
		return nil
	})
}

// NewServeMux routes TypeRegisterFile to a handler backed by r.
func NewServeMux(r Registrar) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.Handle(TypeRegisterFile, NewRegisterHandler(r))
	return mux
}

func permanent(err error) bool {
	return errors.Is(err, fs.ErrNotExist) ||
		errors.Is(err, chunker.ErrInvalidName) ||
		errors.Is(err, sensor.ErrUnknownFormat)
}

// asynqLogger routes asynq's logs to slog.
type asynqLogger struct {
	l *slog.Logger
}

func (a *asynqLogger) Debug(args ...interface{}) { a.l.Debug(fmt.Sprint(args...)) }
func (a *asynqLogger) Info(args ...interface{})  { a.l.Info(fmt.Sprint(args...)) }
func (a *asynqLogger) Warn(args ...interface{})  { a.l.Warn(fmt.Sprint(args...)) }
func (a *asynqLogger) Error(args ...interface{}) { a.l.Error(fmt.Sprint(args...)) }
func (a *asynqLogger) Fatal(args ...interface{}) { a.l.Error(fmt.Sprint(args...)) }
