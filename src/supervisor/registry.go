package supervisor

import (
	"context"
	"sync"

	"github.com/tagoio/mqtt-relay/src/broker"
)

// Entry is a Supervisor-owned SessionEntry: a running session's cancel
// function, completion signal, and the sending half of its bounded publish
// channel (SPEC_FULL §3).
type Entry struct {
	RelayID string
	Cancel  context.CancelFunc
	Done    <-chan struct{}
	Publish chan<- broker.PublishMessage
}

// Registry is the shared SessionEntry map: written by the Supervisor,
// read by the DownlinkAPI's routing handlers, protected by a
// sync.RWMutex with writer-is-Supervisor (SPEC_FULL §5).
type Registry struct {
	mu      sync.RWMutex
	order   []string
	entries map[string]*Entry
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*Entry)}
}

// Put inserts or replaces the entry for id, recording insertion order the
// first time id is seen so First() has a deterministic answer.
func (r *Registry) Put(id string, e *Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[id]; !exists {
		r.order = append(r.order, id)
	}
	r.entries[id] = e
}

// Remove deletes the entry for id, if present.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.entries, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Has reports whether id currently has a live entry.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.entries[id]
	return ok
}

// IDs returns a snapshot of every relay id currently in the registry.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, len(r.order))
	copy(ids, r.order)
	return ids
}

// Entry returns the raw entry for id, used by the Supervisor to check
// whether a session has finished during a reconcile sweep.
func (r *Registry) Entry(id string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	return e, ok
}

// Lookup returns the publish channel for id, satisfying downlink.Registry.
func (r *Registry) Lookup(id string) (chan<- broker.PublishMessage, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	return e.Publish, true
}

// First returns the first relay id (by insertion order) and its publish
// channel, satisfying downlink.Registry's default-relay lookup.
func (r *Registry) First() (string, chan<- broker.PublishMessage, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.order) == 0 {
		return "", nil, false
	}
	id := r.order[0]
	return id, r.entries[id].Publish, true
}
