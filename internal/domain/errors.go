package domain

import "errors"

var (
	// ErrStorageUnavailable marks a section whose persisted state exists but cannot be read or written.
	ErrStorageUnavailable = errors.New("section storage unavailable")
	// ErrUnknownSection is returned for section names outside the configured list.
	ErrUnknownSection = errors.New("unknown section")
	// ErrInvalidActivity is returned when a completion names no activity.
	ErrInvalidActivity = errors.New("activity name is required")
	// ErrLockTimeout is returned when a section stays locked past the deadline.
	ErrLockTimeout = errors.New("section lock timeout")
)
