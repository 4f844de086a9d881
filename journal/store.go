package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned by GetByID for an unknown job.
var ErrNotFound = errors.New("journal: record not found")

// Schema creates the journal tables. It is safe to apply repeatedly.
const Schema = `
CREATE TABLE IF NOT EXISTS ingest_jobs (
    id           VARCHAR(64)  PRIMARY KEY,
    type         VARCHAR(255) NOT NULL,
    queue        VARCHAR(64)  NOT NULL,
    payload_json TEXT         NOT NULL,
    status       VARCHAR(32)  NOT NULL,
    error_msg    TEXT         NULL,
    result_json  TEXT         NULL,
    created_at   DATETIME     NOT NULL,
    updated_at   DATETIME     NULL,
    enqueued_at  DATETIME     NULL,
    started_at   DATETIME     NULL,
    finished_at  DATETIME     NULL
);
CREATE TABLE IF NOT EXISTS lease_events (
    seq       INTEGER      PRIMARY KEY AUTOINCREMENT,
    queue_seq INTEGER      NOT NULL DEFAULT 0,
    task_id   VARCHAR(36)  NOT NULL,
    worker_id VARCHAR(36)  NOT NULL,
    kind      VARCHAR(16)  NOT NULL,
    file_id   TEXT         NOT NULL,
    reason    TEXT         NOT NULL,
    at        DATETIME     NOT NULL
);
CREATE INDEX IF NOT EXISTS lease_events_task ON lease_events (task_id);
`

// Store abstracts persistence for ingest job records and lease events.
// Implementations must be safe for concurrent use.
type Store interface {
	InsertCreated(ctx context.Context, rec JobRecord) error
	MarkEnqueued(ctx context.Context, jobID string, queue string, enqueuedAt time.Time) error
	MarkStarted(ctx context.Context, jobID string, startedAt time.Time) error
	MarkCompleted(ctx context.Context, jobID string, resultJSON *string, finishedAt time.Time) error
	MarkFailed(ctx context.Context, jobID string, errorMsg string, finishedAt time.Time) error
	GetByID(ctx context.Context, jobID string) (*JobRecord, error)

	RecordEvent(ctx context.Context, ev LeaseEvent) error
	Events(ctx context.Context, taskID uuid.UUID) ([]LeaseEvent, error)
}

// SQLStore implements Store on database/sql with '?' placeholders
// (SQLite, MySQL).
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Migrate applies Schema.
func (s *SQLStore) Migrate(ctx context.Context) error {
	if s.db == nil {
		return errors.New("nil db")
	}
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("journal migrate: %w", err)
	}
	return nil
}

func (s *SQLStore) InsertCreated(ctx context.Context, rec JobRecord) error {
	if s.db == nil {
		return errors.New("nil db")
	}
	created := rec.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	q := `INSERT INTO ingest_jobs (id, type, queue, payload_json, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, q, rec.ID, rec.Type, rec.Queue, rec.PayloadJSON, string(StatusCreated), created.UTC())
	return err
}

// MarkEnqueued records the enqueue time and leaves the status alone: a
// processor may already have started the job.
func (s *SQLStore) MarkEnqueued(ctx context.Context, jobID string, queue string, enqueuedAt time.Time) error {
	if s.db == nil {
		return errors.New("nil db")
	}
	q := `UPDATE ingest_jobs SET queue = ?, enqueued_at = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`
	_, err := s.db.ExecContext(ctx, q, queue, enqueuedAt.UTC(), jobID)
	return err
}

func (s *SQLStore) MarkStarted(ctx context.Context, jobID string, startedAt time.Time) error {
	if s.db == nil {
		return errors.New("nil db")
	}
	q := `UPDATE ingest_jobs SET status = ?, started_at = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`
	_, err := s.db.ExecContext(ctx, q, string(StatusInProgress), startedAt.UTC(), jobID)
	return err
}

func (s *SQLStore) MarkCompleted(ctx context.Context, jobID string, resultJSON *string, finishedAt time.Time) error {
	if s.db == nil {
		return errors.New("nil db")
	}
	q := `UPDATE ingest_jobs SET status = ?, result_json = ?, finished_at = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`
	_, err := s.db.ExecContext(ctx, q, string(StatusCompleted), resultJSON, finishedAt.UTC(), jobID)
	return err
}

func (s *SQLStore) MarkFailed(ctx context.Context, jobID string, errorMsg string, finishedAt time.Time) error {
	if s.db == nil {
		return errors.New("nil db")
	}
	q := `UPDATE ingest_jobs SET status = ?, error_msg = ?, finished_at = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`
	_, err := s.db.ExecContext(ctx, q, string(StatusFailed), errorMsg, finishedAt.UTC(), jobID)
	return err
}

func (s *SQLStore) GetByID(ctx context.Context, jobID string) (*JobRecord, error) {
	if s.db == nil {
		return nil, errors.New("nil db")
	}
	q := `SELECT id, type, queue, payload_json, status, error_msg, result_json, created_at, enqueued_at, started_at, finished_at
		FROM ingest_jobs WHERE id = ?`
	rec := JobRecord{}
	var status string
	var startedAt, finishedAt, enqueuedAt sql.NullTime
	var errorMsg, resultJSON sql.NullString
	err := s.db.QueryRowContext(ctx, q, jobID).Scan(&rec.ID, &rec.Type, &rec.Queue, &rec.PayloadJSON, &status,
		&errorMsg, &resultJSON, &rec.CreatedAt, &enqueuedAt, &startedAt, &finishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: job %s", ErrNotFound, jobID)
	}
	if err != nil {
		return nil, err
	}
	rec.Status = Status(status)
	if errorMsg.Valid {
		v := errorMsg.String
		rec.ErrorMsg = &v
	}
	if resultJSON.Valid {
		v := resultJSON.String
		rec.ResultJSON = &v
	}
	if startedAt.Valid {
		t := startedAt.Time
		rec.StartedAt = &t
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		rec.FinishedAt = &t
	}
	if enqueuedAt.Valid {
		rec.EnqueuedAt = enqueuedAt.Time
	}
	return &rec, nil
}

func (s *SQLStore) RecordEvent(ctx context.Context, ev LeaseEvent) error {
	if s.db == nil {
		return errors.New("nil db")
	}
	q := `INSERT INTO lease_events (queue_seq, task_id, worker_id, kind, file_id, reason, at) VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, q, ev.Seq, ev.TaskID.String(), ev.WorkerID.String(), ev.Kind, ev.FileID, ev.Reason, ev.At.UTC())
	return err
}

// Events returns the lease events of taskID in the order the queue applied
// them. Rows may have been inserted in a different order.
func (s *SQLStore) Events(ctx context.Context, taskID uuid.UUID) ([]LeaseEvent, error) {
	if s.db == nil {
		return nil, errors.New("nil db")
	}
	q := `SELECT queue_seq, task_id, worker_id, kind, file_id, reason, at FROM lease_events WHERE task_id = ? ORDER BY queue_seq, seq`
	rows, err := s.db.QueryContext(ctx, q, taskID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LeaseEvent
	for rows.Next() {
		var ev LeaseEvent
		var task, worker string
		if err := rows.Scan(&ev.Seq, &task, &worker, &ev.Kind, &ev.FileID, &ev.Reason, &ev.At); err != nil {
			return nil, err
		}
		if ev.TaskID, err = uuid.Parse(task); err != nil {
			return nil, fmt.Errorf("lease event task id %q: %w", task, err)
		}
		if ev.WorkerID, err = uuid.Parse(worker); err != nil {
			return nil, fmt.Errorf("lease event worker id %q: %w", worker, err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
