// Package chunker splits sensor files into byte-range tasks, submits them to
// a task repository, and tracks which tasks belong to which file so results
// can be gathered per file.
package chunker

import (
	"errors"
	"fmt"
)

// DefaultSectionSize is the number of bytes per task when none is given.
const DefaultSectionSize int64 = 10 << 20

var errSectionSize = errors.New("section size must be positive")

// Sections yields contiguous, non-overlapping (offset, length) pairs covering
// [0, size). It is lazy and cannot be restarted.
type Sections struct {
	size        int64
	sectionSize int64
	next        int64
}

func NewSections(size, sectionSize int64) (*Sections, error) {
	if sectionSize <= 0 {
		return nil, fmt.Errorf("%w: %d", errSectionSize, sectionSize)
	}
	if size < 0 {
		size = 0
	}
	return &Sections{size: size, sectionSize: sectionSize}, nil
}

// Next returns the following range, or ok=false once the file is covered.
func (s *Sections) Next() (offset, length int64, ok bool) {
	if s.next >= s.size {
		return 0, 0, false
	}
	offset = s.next
	length = min(s.sectionSize, s.size-offset)
	s.next += length
	return offset, length, true
}

// Count is the number of ranges a file of size bytes splits into.
func Count(size, sectionSize int64) int64 {
	if size <= 0 || sectionSize <= 0 {
		return 0
	}
	return (size + sectionSize - 1) / sectionSize
}
