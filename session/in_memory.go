package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hupe1980/xweb/core"
	"github.com/hupe1980/xweb/logging"
)

// Options holds dependency overrides passed to NewInMemoryStore().
type Options struct {
	// Now returns the current time. Defaults to time.Now; tests inject a
	// fake clock to drive idle eviction deterministically.
	Now func() time.Time
	// OnEvict is invoked with the ids removed by each eviction pass.
	OnEvict func(ids []string)
	// Logger defaults to NoOpLogger.
	Logger logging.Logger
}

// InMemoryStore is a process local SessionStore. All sessions live behind a
// single mutex which makes GetOrCreate race free and lets eviction observe
// a consistent view of in-flight counts.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*core.Session

	now     func() time.Time
	onEvict func(ids []string)
	logger  logging.Logger
}

// NewInMemoryStore constructs an empty in‑memory session store.
func NewInMemoryStore(optFns ...func(o *Options)) *InMemoryStore {
	opts := Options{
		Now:    time.Now,
		Logger: logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &InMemoryStore{
		sessions: make(map[string]*core.Session),
		now:      opts.Now,
		onEvict:  opts.OnEvict,
		logger:   logging.OrNoOp(opts.Logger),
	}
}

// GetOrCreate returns an existing session or creates a new one lazily.
func (s *InMemoryStore) GetOrCreate(id string) *core.Session {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if ok {
		return sess
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getOrCreateLocked(id)
}

// Get returns an existing session.
func (s *InMemoryStore) Get(id string) (*core.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// Acquire returns the session for id with its in-flight count incremented.
// The increment happens under the store lock so an eviction pass can never
// remove a session between lookup and retain.
func (s *InMemoryStore) Acquire(id string) *core.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.getOrCreateLocked(id)
	sess.Retain(s.now())
	return sess
}

// Release decrements the in-flight count of sess.
func (s *InMemoryStore) Release(sess *core.Session) {
	if sess == nil {
		return
	}
	sess.Unretain(s.now())
}

// Remove deletes the session with the given id. It reports whether a
// session existed.
func (s *InMemoryStore) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return false
	}
	delete(s.sessions, id)
	return true
}

// EvictIdle removes every session whose last access is older than threshold
// and that has no queued or executing request.
func (s *InMemoryStore) EvictIdle(threshold time.Duration) []string {
	now := s.now()

	s.mu.Lock()
	var evicted []string
	for id, sess := range s.sessions {
		if sess.InFlight() > 0 {
			continue
		}
		if now.Sub(sess.LastAccess()) <= threshold {
			continue
		}
		delete(s.sessions, id)
		evicted = append(evicted, id)
	}
	s.mu.Unlock()

	sort.Strings(evicted)
	if len(evicted) > 0 {
		s.logger.Info("evicted idle sessions", "count", len(evicted), "threshold", threshold)
		if s.onEvict != nil {
			s.onEvict(evicted)
		}
	}
	return evicted
}

// Len returns the number of live sessions.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// IDs returns the sorted ids of all live sessions.
func (s *InMemoryStore) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Sweep runs EvictIdle every interval until ctx is done. It blocks; callers
// run it in its own goroutine.
func (s *InMemoryStore) Sweep(ctx context.Context, interval, threshold time.Duration) error {
	if interval <= 0 {
		interval = threshold / 2
	}
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Debug("session sweeper started", "interval", interval, "threshold", threshold)

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("session sweeper stopped")
			return ctx.Err()
		case <-ticker.C:
			s.EvictIdle(threshold)
		}
	}
}

// getOrCreateLocked returns or allocates a session; caller must hold the
// write lock.
func (s *InMemoryStore) getOrCreateLocked(id string) *core.Session {
	if sess, ok := s.sessions[id]; ok {
		return sess
	}
	sess := core.NewSession(id, s.now())
	s.sessions[id] = sess
	return sess
}
