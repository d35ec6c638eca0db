// Package ident generates and validates entity identifiers.
//
// Identifiers are 26-character ULIDs: lexicographically sortable, with the
// millisecond timestamp in the prefix so per-run index scans stay local.
// Producers may supply their own identifiers; Parse enforces the lexical
// grammar before they are accepted.
package ident

import (
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ErrInvalidID is returned when a supplied identifier is not a valid ULID.
var ErrInvalidID = errors.New("ident: invalid identifier")

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// New returns a fresh 26-character identifier. Identifiers generated within
// the same millisecond still sort in generation order (monotonic entropy).
func New() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now().UTC()), entropy).String()
}

// Parse validates an externally supplied identifier and returns its canonical
// (upper-case) form. Malformed identifiers are rejected with ErrInvalidID.
func Parse(s string) (string, error) {
	id, err := ulid.ParseStrict(s)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	return id.String(), nil
}

// OrNew returns the canonical form of s when present and well-formed, a fresh
// identifier when s is empty, and ErrInvalidID otherwise.
func OrNew(s string) (string, error) {
	if s == "" {
		return New(), nil
	}
	return Parse(s)
}

// Time extracts the embedded timestamp from an identifier. Returns the zero
// time for malformed input.
func Time(s string) time.Time {
	id, err := ulid.ParseStrict(s)
	if err != nil {
		return time.Time{}
	}
	return ulid.Time(id.Time()).UTC()
}
