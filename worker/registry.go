// Package worker implements the management plane of one router worker: the
// entity registries and lifecycle orchestrators for realms, roles, uplinks,
// components and transports, the management RPC surface they are driven by,
// and the shutdown coordinator.
package worker

import (
	"sort"
	"sync"
	"time"
)

// registry is a keyed entity store. Starting an entity reserves its id under
// the lock before any blocking step, so two concurrent starts of the same id
// cannot both pass the duplicate check; a reservation is either committed
// with a value or released on failure. Reserved-but-uncommitted ids are
// invisible to reads.
type registry[V any] struct {
	mu      sync.Mutex
	entries map[string]*registryEntry[V]
}

type registryEntry[V any] struct {
	value   V
	created time.Time
	pending bool
}

func newRegistry[V any]() *registry[V] {
	return &registry[V]{entries: make(map[string]*registryEntry[V])}
}

// reserve claims an id. It reports false when the id is already reserved or
// committed.
func (r *registry[V]) reserve(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[id]; exists {
		return false
	}
	r.entries[id] = &registryEntry[V]{created: time.Now().UTC(), pending: true}
	return true
}

// commit fills a reservation with its value.
func (r *registry[V]) commit(id string, value V) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[id]; ok {
		e.value = value
		e.pending = false
	}
}

// release drops a reservation after a failed start.
func (r *registry[V]) release(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[id]; ok && e.pending {
		delete(r.entries, id)
	}
}

// put reserves and commits in one step, for synchronous starts.
func (r *registry[V]) put(id string, value V) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[id]; exists {
		return false
	}
	r.entries[id] = &registryEntry[V]{value: value, created: time.Now().UTC()}
	return true
}

func (r *registry[V]) get(id string) (V, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok || e.pending {
		var zero V
		return zero, false
	}
	return e.value, true
}

// createdAt returns the reservation time of a committed entry.
func (r *registry[V]) createdAt(id string) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok || e.pending {
		return time.Time{}, false
	}
	return e.created, true
}

// remove deletes a committed entry and returns it.
func (r *registry[V]) remove(id string) (V, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok || e.pending {
		var zero V
		return zero, false
	}
	delete(r.entries, id)
	return e.value, true
}

// list returns committed values ordered by creation time ascending.
func (r *registry[V]) list() []V {
	r.mu.Lock()
	defer r.mu.Unlock()
	type dated struct {
		value   V
		created time.Time
	}
	all := make([]dated, 0, len(r.entries))
	for _, e := range r.entries {
		if !e.pending {
			all = append(all, dated{value: e.value, created: e.created})
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].created.Before(all[j].created) })

	values := make([]V, len(all))
	for i, d := range all {
		values[i] = d.value
	}
	return values
}

func (r *registry[V]) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.entries {
		if !e.pending {
			n++
		}
	}
	return n
}
