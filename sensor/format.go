// Package sensor understands the text layout of geomagnetic sensor logs:
// which format a file is in, which lines are header lines, and whether the
// sample timestamps of a section advance one minute per line.
package sensor

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/mohans/sensorq/tasks"
)

// ErrUnknownFormat is returned when no header line carries a format mark.
var ErrUnknownFormat = errors.New("unknown file format")

// IsHeader reports false when line looks like sensor data: at least six
// fields, the first six of them numeric.
func IsHeader(line string) bool {
	words := strings.Fields(line)
	if len(words) < 6 {
		return true
	}
	for _, w := range words[:6] {
		if _, err := strconv.ParseFloat(w, 64); err != nil {
			return true
		}
	}
	return false
}

// Classify reads header lines from r until one contains a format mark after
// its first character. Reading stops at the first data line.
func Classify(r io.Reader) (tasks.FileFormat, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLine)
	for sc.Scan() {
		line := sc.Text()
		for _, f := range tasks.Formats {
			if strings.Index(line, f.Mark()) > 0 {
				return f, nil
			}
		}
		if !isHeaderFor("", line) {
			break
		}
	}
	if err := sc.Err(); err != nil {
		return "", err
	}
	return "", ErrUnknownFormat
}

// ClassifyFile opens path and classifies it.
func ClassifyFile(path string) (tasks.FileFormat, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	format, err := Classify(f)
	if err != nil {
		return "", fmt.Errorf("classify %s: %w", path, err)
	}
	return format, nil
}

// isHeaderFor is IsHeader extended with the IAGA-2002 data line shape, whose
// first column is a date rather than a number.
func isHeaderFor(format tasks.FileFormat, line string) bool {
	if !IsHeader(line) {
		return false
	}
	if format != "" && !format.IsIAGA() {
		return true
	}
	words := strings.Fields(line)
	if len(words) < 3 {
		return true
	}
	_, err := parseIAGA(words)
	return err != nil
}
