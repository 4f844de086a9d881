package tasks

import "errors"

var (
	// ErrResultNotReady is returned by CollectResults when a requested task
	// has no accepted result.
	ErrResultNotReady = errors.New("result not ready")
	// ErrInvalidSection is returned by NewTask for a negative offset or a
	// non-positive length.
	ErrInvalidSection = errors.New("invalid section")
)
