package tasks

import (
	"fmt"

	"github.com/google/uuid"
)

// FileFormat tells a worker how to interpret the bytes of a section.
type FileFormat string

const (
	FormatIAGADHZF FileFormat = "IAGA_DHZF"
	FormatIAGAXYZF FileFormat = "IAGA_XYZF"
	FormatEmbrace  FileFormat = "EMBRACE"
	FormatUnivap   FileFormat = "UNIVAP"
	FormatIAGAXYZG FileFormat = "IAGA_XYZG"
)

// Formats lists every known format in the order header marks are probed.
var Formats = []FileFormat{FormatIAGADHZF, FormatIAGAXYZF, FormatEmbrace, FormatUnivap, FormatIAGAXYZG}

// Mark is the text that identifies the format in a file header.
func (f FileFormat) Mark() string {
	switch f {
	case FormatIAGADHZF:
		return "DHZF"
	case FormatIAGAXYZF:
		return "XYZF"
	case FormatIAGAXYZG:
		return "XYZG"
	case FormatEmbrace:
		return "EMBRACE"
	case FormatUnivap:
		return "UNIVAP"
	}
	return ""
}

// IsIAGA reports whether the format uses IAGA-2002 date and time columns.
func (f FileFormat) IsIAGA() bool {
	return f == FormatIAGADHZF || f == FormatIAGAXYZF || f == FormatIAGAXYZG
}

// Status is the coarse lifecycle state reported for a task id.
// FAILED also covers ids the queue does not know, including ids whose
// results were already collected.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusExecuting Status = "EXECUTING"
	StatusFinished  Status = "FINISHED"
	StatusFailed    Status = "FAILED"
)

func (s Status) MarshalText() ([]byte, error) { return []byte(string(s)), nil }

// Task is one byte range of a source file. Tasks are values: the queue,
// the chunker and each worker hold their own copy and never mutate it.
type Task struct {
	ID     uuid.UUID
	FileID string // logical file name on the origin
	Format FileFormat
	Offset int64  // first byte of the section
	Length int64  // number of bytes in the section
	Origin string // host:port serving the file bytes
}

// NewTask creates a task with a fresh id.
func NewTask(format FileFormat, origin, fileID string, offset, length int64) (Task, error) {
	if offset < 0 || length <= 0 {
		return Task{}, fmt.Errorf("%w: offset=%d length=%d", ErrInvalidSection, offset, length)
	}
	return Task{
		ID:     uuid.New(),
		FileID: fileID,
		Format: format,
		Offset: offset,
		Length: length,
		Origin: origin,
	}, nil
}

// Is reports whether both values describe the same task. Identity is the id
// alone.
func (t Task) Is(other Task) bool { return t.ID == other.ID }

// End is the offset one past the last byte of the section.
func (t Task) End() int64 { return t.Offset + t.Length }

func (t Task) String() string { return t.ID.String() }
