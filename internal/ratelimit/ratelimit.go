// Package ratelimit provides the per-token request limiter for the ingest
// front-end.
//
// The in-process token bucket covers the single-instance deployment model;
// the Limiter interface is the seam for swapping in a shared store if the
// service ever runs behind more than one replica.
package ratelimit

// Limiter decides whether a request identified by key should proceed.
// Implementations must be safe for concurrent use.
type Limiter interface {
	// Allow consumes one unit of budget for key and reports whether the
	// request may proceed. Keys are opaque; the ingest front-end uses the
	// bearer token.
	Allow(key string) bool

	// Close releases resources (cleanup goroutines).
	Close()
}

// Unlimited permits every request. Used when ingest_rate_limit is unset.
type Unlimited struct{}

// Allow always returns true.
func (Unlimited) Allow(string) bool { return true }

// Close is a no-op.
func (Unlimited) Close() {}
