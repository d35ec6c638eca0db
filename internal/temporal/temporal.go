// Package temporal provides the time primitives for the bi-temporal fact
// engine: the open-interval infinity sentinel, half-open intervals, and a
// process-monotonic transaction clock.
package temporal

import (
	"sync"
	"time"
)

// Infinity is the concrete far-future sentinel used for open facts. It is a
// real timestamp (not SQL 'infinity') so it scans into time.Time, round-trips
// RFC-3339 JSON, and keeps range indexes dense. It must match the literal in
// migrations/001_initial.sql.
var Infinity = time.Date(9999, 12, 31, 23, 59, 59, 999999000, time.UTC)

// IsInfinity reports whether t is the open-end sentinel.
func IsInfinity(t time.Time) bool {
	return t.Equal(Infinity)
}

// Interval is a half-open time range [From, To). To may be Infinity for an
// open interval.
type Interval struct {
	From time.Time
	To   time.Time
}

// Contains reports whether t falls inside the interval: From <= t < To.
func (iv Interval) Contains(t time.Time) bool {
	return !t.Before(iv.From) && t.Before(iv.To)
}

// Open reports whether the interval's end is the infinity sentinel.
func (iv Interval) Open() bool {
	return IsInfinity(iv.To)
}

// TxClock assigns transaction timestamps. Now returns a UTC timestamp with
// microsecond resolution that is strictly greater than any value previously
// returned by the same clock, regardless of wall-clock adjustments. Safe for
// concurrent use.
type TxClock struct {
	mu   sync.Mutex
	last time.Time
}

// NewTxClock returns a clock starting from the current wall-clock time.
func NewTxClock() *TxClock {
	return &TxClock{}
}

// Now returns the next transaction timestamp.
func (c *TxClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now().UTC().Truncate(time.Microsecond)
	if !now.After(c.last) {
		now = c.last.Add(time.Microsecond)
	}
	c.last = now
	return now
}
