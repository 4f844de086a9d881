// Package ingest registers sensor files asynchronously: the console enqueues
// a registration job on redis through asynq, and a processor running inside
// the coordinator splits the file into tasks. Job lifecycles are recorded in
// a journal.Store.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/mohans/sensorq/journal"
)

// TypeRegisterFile is the asynq task type of a file registration.
const TypeRegisterFile = "file:register"

// RegisterFilePayload is the JSON payload of a TypeRegisterFile task.
type RegisterFilePayload struct {
	File        string `json:"file"`
	SectionSize int64  `json:"section_size"`
}

// Client wraps asynq.Client and a Store to persist job metadata.
type Client struct {
	client *asynq.Client
	store  journal.Store
	queue  string
}

type ClientOptions struct {
	Queue string
}

func NewClient(redisOpt asynq.RedisClientOpt, store journal.Store, opts ClientOptions) *Client {
	q := opts.Queue
	if q == "" {
		q = "default"
	}
	return &Client{
		client: asynq.NewClient(redisOpt),
		store:  store,
		queue:  q,
	}
}

// EnqueueFile schedules the registration of file and returns the job id.
// The journal row exists before the job is visible to a processor.
func (c *Client) EnqueueFile(ctx context.Context, file string, sectionSize int64, options ...asynq.Option) (string, error) {
	if c.client == nil {
		return "", fmt.Errorf("nil asynq client")
	}
	payloadBytes, err := json.Marshal(RegisterFilePayload{File: file, SectionSize: sectionSize})
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	if c.store != nil {
		_ = c.store.InsertCreated(ctx, journal.JobRecord{
			ID:          id,
			Type:        TypeRegisterFile,
			Queue:       c.queue,
			PayloadJSON: string(payloadBytes),
			Status:      journal.StatusCreated,
			CreatedAt:   time.Now().UTC(),
		})
	}
	t := asynq.NewTask(TypeRegisterFile, payloadBytes)
	info, err := c.client.EnqueueContext(ctx, t, append(options, asynq.Queue(c.queue), asynq.TaskID(id))...)
	if err != nil {
		if c.store != nil {
			_ = c.store.MarkFailed(ctx, id, err.Error(), time.Now().UTC())
		}
		return "", fmt.Errorf("enqueue %s: %w", file, err)
	}
	if c.store != nil {
		_ = c.store.MarkEnqueued(ctx, info.ID, info.Queue, time.Now().UTC())
	}
	return info.ID, nil
}

func (c *Client) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}
