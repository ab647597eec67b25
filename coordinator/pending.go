package coordinator

import (
	"context"
	"sync"

	"trelow-offline/domain"
)

// pendingEntry tracks one optimistic creation until the server confirms or
// rejects it.
type pendingEntry struct {
	done      chan struct{}
	id        domain.ID
	discarded bool
	// deleted is set when the user removed the entity before the server
	// confirmed it.
	deleted bool
}

// registry maps pending ids to their outcome. Mutations that reference a
// pending id wait on it before talking to the server.
type registry struct {
	mu      sync.Mutex
	entries map[string]*pendingEntry
}

func newRegistry() *registry {
	return &registry{entries: make(map[string]*pendingEntry)}
}

// add allocates a fresh pending id.
func (r *registry) add() domain.ID {
	id := domain.NewPending()
	r.mu.Lock()
	r.entries[id.Value()] = &pendingEntry{done: make(chan struct{})}
	r.mu.Unlock()
	return id
}

func (r *registry) confirm(pending, id domain.ID) {
	r.finish(pending, id, false)
}

func (r *registry) discard(pending domain.ID) {
	r.finish(pending, domain.ID{}, true)
}

func (r *registry) finish(pending, id domain.ID, discarded bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[pending.Value()]
	if !ok {
		return
	}
	select {
	case <-e.done:
		return
	default:
	}
	e.id, e.discarded = id, discarded
	close(e.done)
}

// markDeleted records that pending id was removed locally.
func (r *registry) markDeleted(id domain.ID) {
	if !id.IsPending() {
		return
	}
	r.mu.Lock()
	if e, ok := r.entries[id.Value()]; ok {
		e.deleted = true
	}
	r.mu.Unlock()
}

func (r *registry) isDeleted(id domain.ID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id.Value()]
	return ok && e.deleted
}

// lookup maps id to its authoritative form when that is already known.
func (r *registry) lookup(id domain.ID) domain.ID {
	if !id.IsPending() {
		return id
	}
	r.mu.Lock()
	e, ok := r.entries[id.Value()]
	r.mu.Unlock()
	if !ok {
		return id
	}
	select {
	case <-e.done:
		if !e.discarded {
			return e.id
		}
	default:
	}
	return id
}

// resolve waits until id is confirmed or discarded.
func (r *registry) resolve(ctx context.Context, id domain.ID) (domain.ID, error) {
	if !id.IsPending() {
		return id, nil
	}
	r.mu.Lock()
	e, ok := r.entries[id.Value()]
	r.mu.Unlock()
	if !ok {
		return domain.ID{}, ErrDiscarded
	}
	select {
	case <-ctx.Done():
		return domain.ID{}, ctx.Err()
	case <-e.done:
	}
	if e.discarded {
		return domain.ID{}, ErrDiscarded
	}
	return e.id, nil
}
