// Package console is the interactive administration prompt of the
// coordinator.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/mohans/sensorq/chunker"
	"github.com/mohans/sensorq/journal"
)

// Enqueuer schedules asynchronous file registrations. *ingest.Client
// implements it.
type Enqueuer interface {
	EnqueueFile(ctx context.Context, file string, sectionSize int64, options ...asynq.Option) (string, error)
}

// JobLookup reads ingest job records. journal.Store implements it.
type JobLookup interface {
	GetByID(ctx context.Context, jobID string) (*journal.JobRecord, error)
}

// RootSetter is the part of the file server the path command updates.
type RootSetter interface {
	SetRoot(root string)
}

// Deps are the coordinator components the commands act on. Registry is
// required; the others may be nil.
type Deps struct {
	Registry    *chunker.Registry
	Files       RootSetter
	Ingest      Enqueuer
	Jobs        JobLookup
	SectionSize int64 // default for add; 0 means chunker.DefaultSectionSize
	Logger      *slog.Logger
}

type Console struct {
	in   io.Reader
	out  io.Writer
	deps Deps
}

func New(in io.Reader, out io.Writer, deps Deps) *Console {
	if deps.SectionSize <= 0 {
		deps.SectionSize = chunker.DefaultSectionSize
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Console{in: in, out: out, deps: deps}
}

const invalidCommand = "Invalid command, type help to display all available commands."

// Run reads commands until exit, end of input or ctx is done.
func (c *Console) Run(ctx context.Context) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(c.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- sc.Err()
	}()

	for {
		fmt.Fprint(c.out, "> ")
		var line string
		select {
		case <-ctx.Done():
			fmt.Fprintln(c.out)
			return nil
		case err := <-readErr:
			fmt.Fprintln(c.out, "Bye.")
			return err
		case line = <-lines:
		}

		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if fields[0] == "exit" {
			fmt.Fprintln(c.out, "Bye.")
			return nil
		}
		c.Exec(ctx, fields[0], fields[1:])
	}
}

// Exec runs one command and prints its output.
func (c *Console) Exec(ctx context.Context, cmd string, args []string) {
	switch cmd {
	case "help":
		c.help()
	case "add":
		c.add(ctx, args)
	case "ip":
		c.ip(args)
	case "path":
		c.path(args)
	case "status":
		c.status(ctx, args)
	case "tasks":
		c.tasks(ctx, args)
	case "results":
		c.results(ctx, args)
	case "job":
		c.job(ctx, args)
	default:
		fmt.Fprintln(c.out, invalidCommand)
	}
}

func (c *Console) help() {
	fmt.Fprintln(c.out, "Command list:")
	fmt.Fprintln(c.out, "  add FILE [SECTION_SIZE]")
	fmt.Fprintln(c.out, "  ip [NEW_ADDR]")
	fmt.Fprintln(c.out, "  path [NEW_PATH]")
	fmt.Fprintln(c.out, "  status TASK_ID")
	fmt.Fprintln(c.out, "  tasks [nostatus]")
	fmt.Fprintln(c.out, "  results FILE [OUTPUT_FILE_PATH]")
	if c.deps.Jobs != nil {
		fmt.Fprintln(c.out, "  job JOB_ID")
	}
	fmt.Fprintln(c.out, "  exit")
}

func (c *Console) add(ctx context.Context, args []string) {
	if len(args) < 1 || len(args) > 2 {
		fmt.Fprintln(c.out, "Invalid syntax: add FILE [SECTION_SIZE]")
		return
	}
	name := args[0]
	size := c.deps.SectionSize
	if len(args) == 2 {
		n, err := humanize.ParseBytes(args[1])
		if err != nil || n == 0 || n > math.MaxInt64 {
			fmt.Fprintf(c.out, "Invalid section size: %s\n", args[1])
			return
		}
		size = int64(n)
	}

	if c.deps.Ingest != nil {
		id, err := c.deps.Ingest.EnqueueFile(ctx, name, size)
		if err != nil {
			fmt.Fprintf(c.out, "Could not queue %s: %v\n", name, err)
			return
		}
		fmt.Fprintf(c.out, "Queued %s as job %s\n", name, id)
		return
	}

	ids, err := c.deps.Registry.AddFile(ctx, name, size)
	switch {
	case errors.Is(err, os.ErrNotExist):
		fmt.Fprintf(c.out, "Could not read %s\n", name)
	case err != nil:
		fmt.Fprintln(c.out, err.Error())
	default:
		fmt.Fprintf(c.out, "Added %s: %d tasks of %s\n", name, len(ids), humanize.IBytes(uint64(size)))
	}
}

func (c *Console) ip(args []string) {
	if len(args) > 0 {
		addr := args[0]
		if _, port, err := net.SplitHostPort(addr); err != nil || port == "" {
			fmt.Fprintf(c.out, "Invalid address: %s\n", addr)
			return
		}
		c.deps.Registry.SetOrigin(addr)
		c.deps.Logger.Info("origin changed", "origin", addr)
	}
	fmt.Fprintf(c.out, "Local address is %s\n", c.deps.Registry.Origin())
}

func (c *Console) path(args []string) {
	if len(args) > 0 {
		dir := args[0]
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			fmt.Fprintf(c.out, "Invalid path: %s\n", dir)
			return
		}
		c.deps.Registry.SetDir(dir)
		if c.deps.Files != nil {
			c.deps.Files.SetRoot(dir)
		}
		c.deps.Logger.Info("path changed", "dir", dir)
	}
	fmt.Fprintf(c.out, "Path is %s\n", c.deps.Registry.Dir())
}

func (c *Console) status(ctx context.Context, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(c.out, "Invalid syntax: status TASK_ID")
		return
	}
	id, err := uuid.Parse(args[0])
	if err != nil {
		fmt.Fprintf(c.out, "Invalid task id: %s\n", args[0])
		return
	}
	st, err := c.deps.Registry.Status(ctx, id)
	if err != nil {
		fmt.Fprintln(c.out, err.Error())
		return
	}
	fmt.Fprintf(c.out, "Task %s status is %s\n", id, st)
}

func (c *Console) tasks(ctx context.Context, args []string) {
	withStatus := !(len(args) > 0 && args[0] == "nostatus")
	for _, f := range c.deps.Registry.Files() {
		fmt.Fprintf(c.out, "%s:\n", f.Name)
		for _, id := range f.IDs {
			if !withStatus {
				fmt.Fprintf(c.out, "  %s\n", id)
				continue
			}
			st, err := c.deps.Registry.Status(ctx, id)
			if err != nil {
				fmt.Fprintf(c.out, "  %s: %v\n", id, err)
				continue
			}
			fmt.Fprintf(c.out, "  %s: %s\n", id, st)
		}
	}
}

func (c *Console) results(ctx context.Context, args []string) {
	if len(args) < 1 || len(args) > 2 {
		fmt.Fprintln(c.out, "Invalid syntax: results FILE [OUTPUT_FILE_PATH]")
		return
	}
	name := args[0]
	if len(args) == 1 {
		if err := c.deps.Registry.WriteResults(ctx, name, c.out); err != nil {
			fmt.Fprintf(c.out, "ERROR: %v\n", err)
		}
		return
	}

	dst := args[1]
	if err := writeFileAtomic(dst, func(w io.Writer) error {
		return c.deps.Registry.WriteResults(ctx, name, w)
	}); err != nil {
		fmt.Fprintf(c.out, "ERROR: %v\n", err)
		return
	}
	fmt.Fprintf(c.out, "Results of %s written to %s\n", name, dst)
}

// writeFileAtomic writes through a temporary file next to dst and renames
// it over dst only when write succeeds. An existing dst is untouched on
// failure.
func writeFileAtomic(dst string, write func(io.Writer) error) error {
	f, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	err = write(f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp, dst)
	}
	if err != nil {
		os.Remove(tmp)
	}
	return err
}

func (c *Console) job(ctx context.Context, args []string) {
	if c.deps.Jobs == nil {
		fmt.Fprintln(c.out, "Job journal is disabled.")
		return
	}
	if len(args) != 1 {
		fmt.Fprintln(c.out, "Invalid syntax: job JOB_ID")
		return
	}
	rec, err := c.deps.Jobs.GetByID(ctx, args[0])
	if errors.Is(err, journal.ErrNotFound) {
		fmt.Fprintf(c.out, "Unknown job %s\n", args[0])
		return
	}
	if err != nil {
		fmt.Fprintf(c.out, "ERROR: %v\n", err)
		return
	}
	fmt.Fprintf(c.out, "Job %s %s (queue %s)\n", rec.ID, rec.Status, rec.Queue)
	fmt.Fprintf(c.out, "  payload: %s\n", rec.PayloadJSON)
	fmt.Fprintf(c.out, "  enqueued %s\n", humanize.Time(rec.EnqueuedAt))
	if rec.FinishedAt != nil {
		fmt.Fprintf(c.out, "  finished %s\n", humanize.Time(*rec.FinishedAt))
	}
	if rec.ResultJSON != nil {
		fmt.Fprintf(c.out, "  result: %s\n", *rec.ResultJSON)
	}
	if rec.ErrorMsg != nil {
		fmt.Fprintf(c.out, "  error: %s\n", *rec.ErrorMsg)
	}
}
