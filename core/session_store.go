package core

import "time"

// SessionStore owns session lifecycle: creation, lookup, in-flight
// accounting and idle eviction.
type SessionStore interface {
	// GetOrCreate returns the session for id, creating it on first use.
	// Concurrent callers with the same id observe a single instance.
	GetOrCreate(id string) *Session
	// Get returns an existing session.
	Get(id string) (*Session, bool)
	// Acquire is GetOrCreate plus an in-flight increment; every Acquire must
	// be paired with a Release.
	Acquire(id string) *Session
	// Release decrements the in-flight count of a session returned by
	// Acquire. Releasing a session that was removed meanwhile is a no-op
	// for the store.
	Release(s *Session)
	// Remove deletes a session regardless of activity (explicit logout).
	Remove(id string) bool
	// EvictIdle removes sessions idle for longer than threshold that have no
	// queued or executing request, returning the evicted ids.
	EvictIdle(threshold time.Duration) []string
	// Len returns the number of live sessions.
	Len() int
}

// LaneKey identifies the serialization unit of the concurrency manager.
type LaneKey struct {
	SessionID  string
	ResourceID string
}

// String returns "session/resource".
func (k LaneKey) String() string { return k.SessionID + "/" + k.ResourceID }
