package fileserver

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/mohans/sensorq/tasks"
)

// Fetcher downloads the bytes a worker needs for a task from the task's
// origin.
type Fetcher struct {
	Client *http.Client // nil means http.DefaultClient
}

// Fetch opens the file of task from byte max(Offset-1, 0) to the end of the
// file. The caller reads as far as it needs and closes the body. The extra
// leading byte lets the reader tell whether the section starts on a line
// boundary.
func (f Fetcher) Fetch(ctx context.Context, task tasks.Task) (io.ReadCloser, error) {
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	u := url.URL{Scheme: "http", Host: task.Origin, Path: "/files/" + task.FileID}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	start := max(task.Offset-1, 0)
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-", start))

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	switch {
	case resp.StatusCode == http.StatusPartialContent:
	case resp.StatusCode == http.StatusOK && start == 0:
	default:
		resp.Body.Close()
		return nil, fmt.Errorf("fetch %s from %s: unexpected status %s", task.FileID, task.Origin, resp.Status)
	}
	return resp.Body, nil
}
