package ingest

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	_ "modernc.org/sqlite"

	"github.com/mohans/sensorq/chunker"
	"github.com/mohans/sensorq/journal"
	"github.com/mohans/sensorq/tasks"
)

func openTestStore(t *testing.T, name string) *journal.SQLStore {
	t.Helper()
	db, err := sql.Open("sqlite", "file:"+name+"?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	store := journal.NewSQLStore(db)
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

func startMiniRedis(t *testing.T) *miniredis.Miniredis {
	t.Helper()
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func pollUntil(t *testing.T, timeout time.Duration, f func() (bool, error)) error {
	deadline := time.Now().Add(timeout)
	for {
		ok, err := f()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if time.Now().After(deadline) {
			return errors.New("timeout")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func writeSensorFile(t *testing.T, dir, name string, minutes int) {
	t.Helper()
	var b strings.Builder
	b.WriteString("Station SJC   EMBRACE magnetometer\n")
	for m := range minutes {
		fmt.Fprintf(&b, "01 03 2015 %02d %02d 23.5 -1.2 30.0\n", m/60, m%60)
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte(b.String()), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

type fakeRegistrar struct {
	err   error
	calls []RegisterFilePayload
}

func (f *fakeRegistrar) AddFile(_ context.Context, name string, sectionSize int64) ([]uuid.UUID, error) {
	f.calls = append(f.calls, RegisterFilePayload{File: name, SectionSize: sectionSize})
	if f.err != nil {
		return nil, f.err
	}
	return []uuid.UUID{uuid.New(), uuid.New()}, nil
}

func TestRegisterHandlerDecodesPayload(t *testing.T) {
	reg := &fakeRegistrar{}
	payload, _ := json.Marshal(RegisterFilePayload{File: "sjc.txt", SectionSize: 4096})
	if err := NewRegisterHandler(reg).ProcessTask(context.Background(), asynq.NewTask(TypeRegisterFile, payload)); err != nil {
		t.Fatalf("ProcessTask: %v", err)
	}
	if len(reg.calls) != 1 || reg.calls[0].File != "sjc.txt" || reg.calls[0].SectionSize != 4096 {
		t.Fatalf("unexpected calls %+v", reg.calls)
	}
}

func TestRegisterHandlerSkipsRetryOnPermanentErrors(t *testing.T) {
	h := NewRegisterHandler(&fakeRegistrar{err: fmt.Errorf("stat: %w", os.ErrNotExist)})
	payload, _ := json.Marshal(RegisterFilePayload{File: "missing.txt"})
	err := h.ProcessTask(context.Background(), asynq.NewTask(TypeRegisterFile, payload))
	if !errors.Is(err, asynq.SkipRetry) || !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("want SkipRetry wrapping ErrNotExist, got %v", err)
	}

	if err := h.ProcessTask(context.Background(), asynq.NewTask(TypeRegisterFile, []byte("{"))); !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("bad payload: want SkipRetry, got %v", err)
	}

	transient := NewRegisterHandler(&fakeRegistrar{err: errors.New("connection reset")})
	if err := transient.ProcessTask(context.Background(), asynq.NewTask(TypeRegisterFile, payload)); err == nil || errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("transient errors should be retried, got %v", err)
	}
}

// orderCheckingStore asserts that the journal row is written while the job
// is still unknown to redis.
type orderCheckingStore struct {
	journal.Store
	inspector   *asynq.Inspector
	queue       string
	seenInRedis []bool
}

func (s *orderCheckingStore) InsertCreated(ctx context.Context, rec journal.JobRecord) error {
	_, err := s.inspector.GetTaskInfo(s.queue, rec.ID)
	s.seenInRedis = append(s.seenInRedis, err == nil)
	return s.Store.InsertCreated(ctx, rec)
}

func TestClientJournalsBeforeEnqueue(t *testing.T) {
	s := startMiniRedis(t)
	redis := asynq.RedisClientOpt{Addr: s.Addr()}
	inspector := asynq.NewInspector(redis)
	defer inspector.Close()
	store := &orderCheckingStore{Store: openTestStore(t, "ingest_order"), inspector: inspector, queue: "default"}

	client := NewClient(redis, store, ClientOptions{Queue: "default"})
	defer client.Close()
	ctx := context.Background()
	id, err := client.EnqueueFile(ctx, "sjc.txt", 1024)
	if err != nil {
		t.Fatalf("EnqueueFile: %v", err)
	}
	if len(store.seenInRedis) != 1 || store.seenInRedis[0] {
		t.Fatalf("journal row must be inserted before the job is enqueued, got %v", store.seenInRedis)
	}
	if _, err := inspector.GetTaskInfo("default", id); err != nil {
		t.Fatalf("job %s not enqueued under the journaled id: %v", id, err)
	}
	rec, err := store.GetByID(ctx, id)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if rec.Status != journal.StatusCreated || rec.EnqueuedAt.IsZero() {
		t.Fatalf("unexpected record %+v", rec)
	}
}

func TestProcessor_Integration_RegisterAndFail(t *testing.T) {
	s := startMiniRedis(t)
	store := openTestStore(t, "ingest_it")
	dir := t.TempDir()
	writeSensorFile(t, dir, "sjc.txt", 200)

	q := tasks.NewQueue(tasks.QueueConfig{})
	registry := chunker.NewRegistry(q, chunker.RegistryConfig{Dir: dir, Origin: "127.0.0.1:12345"})

	redis := asynq.RedisClientOpt{Addr: s.Addr()}
	processor := NewProcessor(redis, store, ProcessorConfig{Concurrency: 2, Queues: map[string]int{"default": 1}})
	if err := processor.Start(NewServeMux(registry)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer processor.Shutdown()

	client := NewClient(redis, store, ClientOptions{Queue: "default"})
	defer client.Close()

	ctx := context.Background()
	okID, err := client.EnqueueFile(ctx, "sjc.txt", 1024)
	if err != nil {
		t.Fatalf("enqueue ok: %v", err)
	}
	failID, err := client.EnqueueFile(ctx, "missing.txt", 1024)
	if err != nil {
		t.Fatalf("enqueue missing: %v", err)
	}

	if err := pollUntil(t, 5*time.Second, func() (bool, error) {
		rec, err := store.GetByID(ctx, okID)
		if err != nil {
			return false, nil
		}
		return rec.Status == journal.StatusCompleted, nil
	}); err != nil {
		t.Fatalf("registration did not complete: %v", err)
	}
	if err := pollUntil(t, 5*time.Second, func() (bool, error) {
		rec, err := store.GetByID(ctx, failID)
		if err != nil {
			return false, nil
		}
		return rec.Status == journal.StatusFailed, nil
	}); err != nil {
		t.Fatalf("missing file registration did not fail: %v", err)
	}

	ids, ok := registry.TaskIDs("sjc.txt")
	if !ok || len(ids) == 0 {
		t.Fatal("file was not registered")
	}
	if st := q.Stats(); st.Pending != len(ids) {
		t.Fatalf("expected %d pending tasks, got %+v", len(ids), st)
	}
	rec, _ := store.GetByID(ctx, okID)
	if rec.ResultJSON == nil || !strings.Contains(*rec.ResultJSON, fmt.Sprintf(`"tasks":%d`, len(ids))) {
		t.Fatalf("unexpected result json %v", rec.ResultJSON)
	}
}
