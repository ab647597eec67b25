package mirror

import (
	"sync"
)

// Session owns the snapshot of the open board. The coordinator is its only
// writer; renderers read published snapshots or subscribe to them.
type Session struct {
	mu          sync.Mutex
	current     Snapshot
	version     uint64
	nextSub     int
	subscribers map[int]func(Snapshot, uint64)
}

// NewSession starts a session with the given initial snapshot.
func NewSession(initial Snapshot) *Session {
	return &Session{
		current:     initial,
		subscribers: make(map[int]func(Snapshot, uint64)),
	}
}

// Snapshot returns the latest published snapshot.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Version counts published snapshots.
func (s *Session) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// Update applies fn to the current snapshot and publishes the result.
// Subscribers are called in publish order while the session is locked, so they
// must not call back into Update or Replace.
func (s *Session) Update(fn func(Snapshot) Snapshot) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publishLocked(fn(s.current))
	return s.current
}

// Replace publishes snap as is, discarding the current snapshot.
func (s *Session) Replace(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publishLocked(snap)
}

// Subscribe registers fn for every future publish. The returned func removes
// the subscription.
func (s *Session) Subscribe(fn func(Snapshot, uint64)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subscribers[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.subscribers, id)
		s.mu.Unlock()
	}
}

func (s *Session) publishLocked(next Snapshot) {
	s.current = next
	s.version++
	for _, fn := range s.subscribers {
		fn(next, s.version)
	}
}
