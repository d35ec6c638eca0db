package storage

import "errors"

// Sentinel errors mapped to the wire-level taxonomy at the HTTP boundary.
var (
	// ErrNotFound is returned when a referenced entity does not exist.
	ErrNotFound = errors.New("storage: not found")

	// ErrConflict is returned when the open-fact unique index rejects an
	// insert (two writers raced for the same open fact slot).
	ErrConflict = errors.New("storage: conflict")

	// ErrInvalidInput is returned when a write is semantically inconsistent
	// with persisted state, e.g. a valid_from earlier than the open fact's.
	ErrInvalidInput = errors.New("storage: invalid input")
)
