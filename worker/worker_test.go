package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mohans/sensorq/tasks"
)

// memFetcher serves files from memory the way the file server does.
type memFetcher struct {
	mu       sync.Mutex
	files    map[string]string
	failures int
}

func (m *memFetcher) Fetch(_ context.Context, task tasks.Task) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failures > 0 {
		m.failures--
		return nil, errors.New("connection refused")
	}
	data, ok := m.files[task.FileID]
	if !ok {
		return nil, fmt.Errorf("%s: 404 Not Found", task.FileID)
	}
	return io.NopCloser(strings.NewReader(data[max(task.Offset-1, 0):])), nil
}

func embraceFile(minutes int, skip int) string {
	var b strings.Builder
	b.WriteString("SJC EMBRACE station\n")
	for m := range minutes {
		if m == skip {
			continue
		}
		fmt.Fprintf(&b, "01 03 2015 %02d %02d 23.5 -1.2 30.0\n", m/60, m%60)
	}
	return b.String()
}

func submitAll(t *testing.T, q *tasks.Queue, file string, size, section int64) []uuid.UUID {
	t.Helper()
	var ids []uuid.UUID
	for off := int64(0); off < size; off += section {
		task, err := tasks.NewTask(tasks.FormatEmbrace, "mem", file, off, min(section, size-off))
		if err != nil {
			t.Fatal(err)
		}
		if err := q.Submit(context.Background(), task); err != nil {
			t.Fatal(err)
		}
		ids = append(ids, task.ID)
	}
	return ids
}

func TestStepCompletesTask(t *testing.T) {
	q := tasks.NewQueue(tasks.QueueConfig{})
	data := embraceFile(30, 12)
	ids := submitAll(t, q, "sjc.txt", int64(len(data)), int64(len(data)))
	w := New(q, &memFetcher{files: map[string]string{"sjc.txt": data}}, Config{})

	worked, err := w.Step(context.Background())
	if err != nil || !worked {
		t.Fatalf("Step = %v, %v", worked, err)
	}
	entries, err := q.CollectResults(context.Background(), ids)
	if err != nil {
		t.Fatalf("CollectResults: %v", err)
	}
	if len(entries) != 1 || !strings.Contains(entries[0].Message, "not sequential") {
		t.Fatalf("unexpected entries %+v", entries)
	}

	worked, err = w.Step(context.Background())
	if worked || err != nil {
		t.Fatalf("empty queue Step = %v, %v", worked, err)
	}
}

func TestStepFailsTaskOnFetchError(t *testing.T) {
	q := tasks.NewQueue(tasks.QueueConfig{})
	ids := submitAll(t, q, "gone.txt", 100, 100)
	w := New(q, &memFetcher{files: map[string]string{}}, Config{})

	worked, err := w.Step(context.Background())
	if err != nil || !worked {
		t.Fatalf("Step = %v, %v", worked, err)
	}
	if st, _ := q.Status(context.Background(), ids[0]); st != tasks.StatusPending {
		t.Fatalf("status = %s, want PENDING after failure", st)
	}
}

func TestRunDrainsQueueAcrossSections(t *testing.T) {
	q := tasks.NewQueue(tasks.QueueConfig{})
	data := embraceFile(500, 321)
	ids := submitAll(t, q, "sjc.txt", int64(len(data)), 1024)
	fetcher := &memFetcher{files: map[string]string{"sjc.txt": data}, failures: 2}

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	for range 3 {
		w := New(q, fetcher, Config{PollInterval: 5 * time.Millisecond})
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.Run(ctx); err != nil {
				t.Errorf("Run: %v", err)
			}
		}()
	}

	deadline := time.Now().Add(5 * time.Second)
	for q.Stats().Finished != len(ids) {
		if time.Now().After(deadline) {
			cancel()
			wg.Wait()
			t.Fatalf("workers did not finish: %+v", q.Stats())
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	wg.Wait()

	entries, err := q.CollectResults(context.Background(), ids)
	if err != nil {
		t.Fatalf("CollectResults: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("want exactly one gap, got %+v", entries)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	q := tasks.NewQueue(tasks.QueueConfig{})
	w := New(q, &memFetcher{}, Config{PollInterval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
