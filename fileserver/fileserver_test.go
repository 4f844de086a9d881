package fileserver

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/mohans/sensorq/tasks"
)

const content = "line one\nline two\nline three\n"

func newTestServer(t *testing.T, cache int) (*Server, *httptest.Server, string) {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	s, err := New(dir, cache, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ts := httptest.NewServer(s)
	t.Cleanup(func() {
		ts.Close()
		s.Close()
	})
	return s, ts, dir
}

func originOf(t *testing.T, ts *httptest.Server) string {
	t.Helper()
	u, err := url.Parse(ts.URL)
	if err != nil {
		t.Fatal(err)
	}
	return u.Host
}

func fetchAll(t *testing.T, task tasks.Task) string {
	t.Helper()
	body, err := Fetcher{}.Fetch(context.Background(), task)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	defer body.Close()
	b, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return string(b)
}

func TestFetchFromSectionStart(t *testing.T) {
	_, ts, _ := newTestServer(t, 4)
	origin := originOf(t, ts)

	got := fetchAll(t, tasks.Task{ID: uuid.New(), FileID: "a.txt", Offset: 0, Length: 5, Origin: origin})
	if got != content {
		t.Fatalf("offset 0: got %q", got)
	}
	got = fetchAll(t, tasks.Task{ID: uuid.New(), FileID: "a.txt", Offset: 9, Length: 5, Origin: origin})
	if got != content[8:] {
		t.Fatalf("offset 9: want %q, got %q", content[8:], got)
	}
}

func TestFetchMissingFile(t *testing.T) {
	_, ts, _ := newTestServer(t, 4)
	_, err := Fetcher{}.Fetch(context.Background(), tasks.Task{FileID: "nope.txt", Offset: 3, Length: 1, Origin: originOf(t, ts)})
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("expected 404 error, got %v", err)
	}
}

func TestServerRejectsTraversal(t *testing.T) {
	_, ts, _ := newTestServer(t, 4)
	resp, err := http.Get(ts.URL + "/files/..%2Fsecret")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest && resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected rejection, got %s", resp.Status)
	}
}

func TestSetRoot(t *testing.T) {
	s, ts, _ := newTestServer(t, 4)
	other := t.TempDir()
	if err := os.WriteFile(filepath.Join(other, "b.txt"), []byte("bee\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	s.SetRoot(other)
	if s.Root() != other {
		t.Fatalf("root not updated")
	}
	if got := fetchAll(t, tasks.Task{FileID: "b.txt", Length: 1, Origin: originOf(t, ts)}); got != "bee\n" {
		t.Fatalf("got %q", got)
	}
}

func TestHandleCacheEvictionKeepsReadersWorking(t *testing.T) {
	_, ts, dir := newTestServer(t, 1)
	for _, name := range []string{"b.txt", "c.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	origin := originOf(t, ts)

	var wg sync.WaitGroup
	errs := make(chan string, 30)
	for i := range 30 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			name := []string{"a.txt", "b.txt", "c.txt"}[i%3]
			body, err := Fetcher{}.Fetch(context.Background(), tasks.Task{FileID: name, Offset: 10, Length: 1, Origin: origin})
			if err != nil {
				errs <- err.Error()
				return
			}
			defer body.Close()
			b, _ := io.ReadAll(body)
			if string(b) != content[9:] {
				errs <- "short read " + string(b)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for e := range errs {
		t.Fatal(e)
	}
}

func TestHandleRefcount(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "h")
	if err != nil {
		t.Fatal(err)
	}
	info, _ := f.Stat()
	h := &handle{f: f, info: info, refs: 2}
	h.evict()
	if h.retain() {
		t.Fatal("evicted handle must not be retained")
	}
	if _, err := f.Stat(); err != nil {
		t.Fatal("file closed while a reader still holds it")
	}
	h.release()
	if _, err := f.Stat(); err == nil {
		t.Fatal("file should be closed after the last release")
	}
}
