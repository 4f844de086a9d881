package chunker

import (
	"bufio"
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/mohans/sensorq/sensor"
	"github.com/mohans/sensorq/tasks"
)

var (
	// ErrUnknownFile is returned for a file name with no tracked tasks.
	ErrUnknownFile = errors.New("no tasks for file")
	// ErrInvalidName is returned for names that are not plain file names.
	ErrInvalidName = errors.New("invalid file name")
)

// ResultsSentinel terminates a results dump.
const ResultsSentinel = "<<EOF>>"

type RegistryConfig struct {
	Dir    string // folder holding the sensor files
	Origin string // host:port of the file server stamped on each task
	Logger *slog.Logger
}

// Registry submits the sections of a file and remembers their task ids.
// Re-adding a file forgets the previous ids without withdrawing those tasks
// from the repository.
type Registry struct {
	repo   tasks.Repository
	logger *slog.Logger

	mu     sync.Mutex
	dir    string
	origin string
	files  map[string][]uuid.UUID
}

func NewRegistry(repo tasks.Repository, cfg RegistryConfig) *Registry {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	dir := cfg.Dir
	if dir == "" {
		dir = "."
	}
	return &Registry{
		repo:   repo,
		logger: logger.With("component", "chunker"),
		dir:    dir,
		origin: cfg.Origin,
		files:  make(map[string][]uuid.UUID),
	}
}

func (r *Registry) Dir() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dir
}

func (r *Registry) SetDir(dir string) {
	r.mu.Lock()
	r.dir = dir
	r.mu.Unlock()
}

func (r *Registry) Origin() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.origin
}

func (r *Registry) SetOrigin(origin string) {
	r.mu.Lock()
	r.origin = origin
	r.mu.Unlock()
}

// AddFile splits dir/name into sections of sectionSize bytes (the default
// when sectionSize <= 0), submits one task per section and returns the task
// ids. Ids of tasks submitted before an error stay tracked.
func (r *Registry) AddFile(ctx context.Context, name string, sectionSize int64) ([]uuid.UUID, error) {
	if name == "" || filepath.Base(name) != name || name == "." || name == ".." {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if sectionSize <= 0 {
		sectionSize = DefaultSectionSize
	}
	dir, origin := r.Dir(), r.Origin()
	path := filepath.Join(dir, name)

	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	format, err := sensor.ClassifyFile(path)
	if err != nil {
		return nil, err
	}
	r.logger.Info("file format", "file", name, "format", format, "size", info.Size())

	r.mu.Lock()
	delete(r.files, name)
	r.mu.Unlock()

	sections, err := NewSections(info.Size(), sectionSize)
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, Count(info.Size(), sectionSize))
	defer func() {
		if len(ids) == 0 {
			return
		}
		r.mu.Lock()
		r.files[name] = ids
		r.mu.Unlock()
	}()

	for {
		offset, length, ok := sections.Next()
		if !ok {
			break
		}
		task, err := tasks.NewTask(format, origin, name, offset, length)
		if err != nil {
			return ids, err
		}
		if err := r.repo.Submit(ctx, task); err != nil {
			return ids, fmt.Errorf("submit section %d of %s: %w", offset, name, err)
		}
		ids = append(ids, task.ID)
		r.logger.Debug("added task for file", "task", task.ID, "file", name, "offset", offset)
	}
	return ids, nil
}

// FileTasks pairs a tracked file with its task ids.
type FileTasks struct {
	Name string
	IDs  []uuid.UUID
}

// Files returns every tracked file sorted by name.
func (r *Registry) Files() []FileTasks {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]FileTasks, 0, len(r.files))
	for name, ids := range r.files {
		out = append(out, FileTasks{Name: name, IDs: slices.Clone(ids)})
	}
	slices.SortFunc(out, func(a, b FileTasks) int { return cmp.Compare(a.Name, b.Name) })
	return out
}

// TaskIDs returns the ids tracked for name.
func (r *Registry) TaskIDs(name string) ([]uuid.UUID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids, ok := r.files[name]
	return slices.Clone(ids), ok
}

// Status asks the repository for the status of one task.
func (r *Registry) Status(ctx context.Context, taskID uuid.UUID) (tasks.Status, error) {
	return r.repo.Status(ctx, taskID)
}

// WriteResults collects the results of every task of name and writes them as
// tab-separated offset/message lines between a header and ResultsSentinel.
// Nothing is collected until every task is FINISHED, so asking too early
// leaves the finished results in place. The file is forgotten once its
// results were written.
func (r *Registry) WriteResults(ctx context.Context, name string, w io.Writer) error {
	ids, ok := r.TaskIDs(name)
	if !ok {
		return fmt.Errorf("%w %s", ErrUnknownFile, name)
	}
	for _, id := range ids {
		st, err := r.repo.Status(ctx, id)
		if err != nil {
			return err
		}
		if st != tasks.StatusFinished {
			return fmt.Errorf("%w: task %s of %s is %s", tasks.ErrResultNotReady, id, name, st)
		}
	}
	entries, err := r.repo.CollectResults(ctx, ids)
	if err != nil {
		return err
	}

	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, "offset\tmessage")
	for _, e := range entries {
		fmt.Fprintf(bw, "%d\t%s\n", e.Offset, e.Message)
	}
	fmt.Fprintln(bw, ResultsSentinel)
	if err := bw.Flush(); err != nil {
		return err
	}

	r.mu.Lock()
	delete(r.files, name)
	r.mu.Unlock()
	return nil
}
