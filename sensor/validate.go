package sensor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/mohans/sensorq/tasks"
)

const (
	maxLine = 1 << 20
	// Step is the expected distance between consecutive samples.
	Step = time.Minute

	embraceLayout = "02 01 2006  15 04"
	iagaLayout    = "2006-01-02 15:04:05.000"
)

var errBadTimestamp = errors.New("bad timestamp")

// Validate checks the section of task read from r. The stream must start at
// byte max(task.Offset-1, 0) of the file; the partial line that precedes the
// section belongs to the previous section and is skipped. Every line starting
// inside [Offset, Offset+Length) is checked, so a line crossing the section
// end is read past the end.
func Validate(ctx context.Context, r io.Reader, task tasks.Task) (*tasks.Result, error) {
	res := tasks.NewResult(task.ID)
	br := bufio.NewReaderSize(r, 64*1024)

	pos := task.Offset
	if task.Offset > 0 {
		pos = task.Offset - 1
		skipped, err := br.ReadString('\n')
		pos += int64(len(skipped))
		if errors.Is(err, io.EOF) {
			return res, nil
		}
		if err != nil {
			return nil, err
		}
	}

	var (
		header = task.Offset == 0
		last   time.Time
		seen   bool
		n      int
	)
	for pos < task.End() {
		line, err := br.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		if line == "" {
			break
		}
		start := pos
		pos += int64(len(line))
		if n++; n%4096 == 0 {
			if cerr := ctx.Err(); cerr != nil {
				return nil, cerr
			}
		}

		text := strings.TrimRight(line, "\r\n")
		header = header && isHeaderFor(task.Format, text)
		if !header {
			ts, msg := checkLine(task.Format, text)
			switch {
			case msg != "":
				res.Add(start, msg)
			case !seen:
				last, seen = ts, true
			default:
				if want := last.Add(Step); !ts.Equal(want) {
					res.Add(start, fmt.Sprintf("not sequential, expected %s: %s", formatTime(task.Format, want), text))
				}
				last = ts
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
	}
	return res, nil
}

// checkLine parses the timestamp of a data line, or returns a diagnostic.
func checkLine(format tasks.FileFormat, text string) (time.Time, string) {
	words := strings.Fields(text)
	minFields := 6
	if format.IsIAGA() {
		minFields = 7
	}
	if len(words) < minFields {
		return time.Time{}, "incomplete line: " + text
	}
	var (
		ts  time.Time
		err error
	)
	if format.IsIAGA() {
		ts, err = parseIAGA(words)
	} else {
		ts, err = parseColumns(words)
	}
	if err != nil {
		return time.Time{}, "invalid date or time: " + text
	}
	return ts, ""
}

// parseColumns reads "DD MM YYYY hh mm" from the first five fields.
func parseColumns(words []string) (time.Time, error) {
	var v [5]int
	for i := range v {
		n, err := strconv.Atoi(words[i])
		if err != nil {
			return time.Time{}, err
		}
		v[i] = n
	}
	day, month, year, hour, minute := v[0], v[1], v[2], v[3], v[4]
	ts := time.Date(year, time.Month(month), day, hour, minute, 0, 0, time.UTC)
	if ts.Day() != day || int(ts.Month()) != month || ts.Year() != year || ts.Hour() != hour || ts.Minute() != minute {
		return time.Time{}, errBadTimestamp
	}
	return ts, nil
}

// parseIAGA reads the IAGA-2002 "DATE TIME" columns.
func parseIAGA(words []string) (time.Time, error) {
	if len(words) < 2 {
		return time.Time{}, errBadTimestamp
	}
	return time.Parse(iagaLayout, words[0]+" "+words[1])
}

func formatTime(format tasks.FileFormat, ts time.Time) string {
	if format.IsIAGA() {
		return ts.Format(iagaLayout)
	}
	return ts.Format(embraceLayout)
}
