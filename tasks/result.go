package tasks

import (
	"cmp"
	"slices"
	"strings"

	"github.com/google/uuid"
)

// ResultEntry is one diagnostic produced while validating a section.
type ResultEntry struct {
	Offset  int64 // absolute byte offset of the offending line
	Message string
}

// CompareEntries orders entries by descending offset, then by message.
func CompareEntries(a, b ResultEntry) int {
	if c := cmp.Compare(b.Offset, a.Offset); c != 0 {
		return c
	}
	return strings.Compare(a.Message, b.Message)
}

// Result collects the diagnostics of one task. Workers build it and hand it
// to Complete; the queue keeps only the entries.
type Result struct {
	TaskID  uuid.UUID
	Entries []ResultEntry
}

func NewResult(taskID uuid.UUID) *Result {
	return &Result{TaskID: taskID}
}

// Add appends a diagnostic.
func (r *Result) Add(offset int64, msg string) {
	r.Entries = append(r.Entries, ResultEntry{Offset: offset, Message: msg})
}

// sorted returns a copy of the entries ordered by CompareEntries.
func (r Result) sorted() []ResultEntry {
	out := slices.Clone(r.Entries)
	if out == nil {
		out = []ResultEntry{}
	}
	slices.SortStableFunc(out, CompareEntries)
	return out
}
