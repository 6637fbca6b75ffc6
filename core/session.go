package core

import (
	"sort"
	"sync"
	"time"
)

// Session is the server side record of one client's editing context. It owns
// the DocumentStates of every resource the client touched. It is safe for
// concurrent access.
//
// Contract:
//   - Document returns the same *DocumentState for a resource id for the
//     lifetime of the session
//   - LastAccess is refreshed by Retain and Unretain on every request
//   - InFlight counts requests currently queued or executing; the session
//     store never evicts a session with a non-zero count
type Session struct {
	ID      string
	Created time.Time

	mu         sync.RWMutex
	lastAccess time.Time
	inFlight   int
	documents  map[string]*DocumentState
}

// NewSession creates a new session with the given ID.
func NewSession(id string, now time.Time) *Session {
	return &Session{ID: id, Created: now, lastAccess: now, documents: map[string]*DocumentState{}}
}

// Document returns the DocumentState for resourceID, creating an empty one
// (version 0, no artifact) on first use.
func (s *Session) Document(resourceID string) *DocumentState {
	s.mu.RLock()
	doc, ok := s.documents[resourceID]
	s.mu.RUnlock()
	if ok {
		return doc
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if doc, ok := s.documents[resourceID]; ok {
		return doc
	}
	doc = NewDocumentState(resourceID)
	s.documents[resourceID] = doc
	return doc
}

// LookupDocument returns the DocumentState for resourceID without creating it.
func (s *Session) LookupDocument(resourceID string) (*DocumentState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.documents[resourceID]
	return doc, ok
}

// Resources returns the sorted ids of all documents known to the session.
func (s *Session) Resources() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.documents))
	for id := range s.documents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// LastAccess returns the last access timestamp.
func (s *Session) LastAccess() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastAccess
}

// InFlight returns the number of requests queued or executing for the session.
func (s *Session) InFlight() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inFlight
}

// Retain increments the in-flight count and refreshes the access time.
// Session stores call it while holding their own lock so that eviction
// cannot observe a half-acquired session.
func (s *Session) Retain(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight++
	if now.After(s.lastAccess) {
		s.lastAccess = now
	}
}

// Unretain decrements the in-flight count and refreshes the access time.
func (s *Session) Unretain(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight > 0 {
		s.inFlight--
	}
	if now.After(s.lastAccess) {
		s.lastAccess = now
	}
}

// DocumentState is the per resource cached analysis state within a session.
// Version starts at 0 and strictly increases on every committed change.
type DocumentState struct {
	ResourceID string

	mu       sync.RWMutex
	version  int64
	artifact any
	dirty    bool
	updated  time.Time
}

// NewDocumentState returns an empty document state at version 0.
func NewDocumentState(resourceID string) *DocumentState {
	return &DocumentState{ResourceID: resourceID}
}

// Version returns the current version.
func (d *DocumentState) Version() int64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.version
}

// Snapshot returns a consistent point-in-time copy of the document state.
func (d *DocumentState) Snapshot() DocumentSnapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return DocumentSnapshot{
		ResourceID: d.ResourceID,
		Version:    d.version,
		Artifact:   d.artifact,
		Dirty:      d.dirty,
		Updated:    d.updated,
	}
}

// Commit applies change if the current version still equals base. On success
// the version is incremented exactly once and the new version returned. A
// mismatch leaves the state untouched and returns ErrStaleState.
func (d *DocumentState) Commit(base int64, change DocumentChange, now time.Time) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.version != base {
		return d.version, NewError(KindStaleState, "document %s is at version %d, expected %d", d.ResourceID, d.version, base)
	}
	if change.IsEmpty() {
		return d.version, nil
	}

	if change.SetArtifact {
		d.artifact = change.Artifact
	}
	if change.Dirty != nil {
		d.dirty = *change.Dirty
	}
	d.version++
	d.updated = now

	return d.version, nil
}

// DocumentSnapshot is an immutable view of a DocumentState.
type DocumentSnapshot struct {
	ResourceID string
	Version    int64
	Artifact   any
	Dirty      bool
	Updated    time.Time
}

// HasArtifact reports whether a cached artifact is present.
func (s DocumentSnapshot) HasArtifact() bool { return s.Artifact != nil }

// DocumentChange is a staged mutation of a DocumentState produced by a
// mutating service.
type DocumentChange struct {
	SetArtifact bool
	Artifact    any
	Dirty       *bool
}

// IsEmpty reports whether the change carries no mutation.
func (c DocumentChange) IsEmpty() bool { return !c.SetArtifact && c.Dirty == nil }
