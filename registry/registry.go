// Package registry provides the ordered, keyed collection that underlies
// every list of extension entries in the runtime: middleware registrants,
// function names, storage adapter installers, and so on.
//
// The backing store is append only. In clean mode the list view deduplicates
// by id keeping the most recent entry; in history mode every registration is
// preserved.
package registry

import (
	"fmt"
	"sync"

	"github.com/hashicorp/go-set/v3"
)

// Mode controls how re-registration of an existing id behaves.
type Mode int

const (
	// ModeClean replaces the previous entry when an id is re-registered.
	ModeClean Mode = iota

	// ModeHistory preserves every registration for an id.
	ModeHistory
)

// Registry is a mutex guarded, ordered, keyed collection.
type Registry[T any] struct {
	name string
	mode Mode
	idOf func(T) string

	mu        sync.RWMutex
	items     []T
	protected *set.Set[string]
	banned    *set.Set[string]
}

// New returns an initialized Registry. idOf extracts the key for an entry
// and must not be nil.
func New[T any](name string, mode Mode, idOf func(T) string) *Registry[T] {
	return &Registry[T]{
		name:      name,
		mode:      mode,
		idOf:      idOf,
		protected: set.New[string](0),
		banned:    set.New[string](0),
	}
}

// Name returns the registry's name.
func (r *Registry[T]) Name() string {
	return r.name
}

// Mode returns the registry's duplicate handling mode.
func (r *Registry[T]) Mode() Mode {
	return r.mode
}

// Register appends an entry. Banned ids are rejected; blank ids are
// rejected.
func (r *Registry[T]) Register(entry T) error {
	id := r.idOf(entry)
	if id == "" {
		return fmt.Errorf("registry %s: entry id must not be empty", r.name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.banned.Contains(id) {
		return fmt.Errorf("registry %s: id %q is banned", r.name, id)
	}

	r.items = append(r.items, entry)
	return nil
}

// Unregister removes every occurrence of id. Protected ids are rejected.
// Unregistering an unknown id is a no-op.
func (r *Registry[T]) Unregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.protected.Contains(id) {
		return fmt.Errorf("registry %s: id %q is protected", r.name, id)
	}

	filtered := r.items[:0]
	for _, entry := range r.items {
		if r.idOf(entry) != id {
			filtered = append(filtered, entry)
		}
	}
	r.items = filtered
	return nil
}

// Protect marks an id so it cannot be unregistered until unprotected.
func (r *Registry[T]) Protect(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.protected.Insert(id)
}

// Unprotect clears protection for an id.
func (r *Registry[T]) Unprotect(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.protected.Remove(id)
}

// Ban rejects future registrations of id and removes existing unprotected
// entries.
func (r *Registry[T]) Ban(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.banned.Insert(id)
	if r.protected.Contains(id) {
		return
	}
	filtered := r.items[:0]
	for _, entry := range r.items {
		if r.idOf(entry) != id {
			filtered = append(filtered, entry)
		}
	}
	r.items = filtered
}

// Unban clears a ban for an id.
func (r *Registry[T]) Unban(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.banned.Remove(id)
}

// IsBanned reports whether the id is banned.
func (r *Registry[T]) IsBanned(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.banned.Contains(id)
}

// IsProtected reports whether the id is protected.
func (r *Registry[T]) IsProtected(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.protected.Contains(id)
}

// Get returns the most recent entry for id.
func (r *Registry[T]) Get(id string) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for i := len(r.items) - 1; i >= 0; i-- {
		if r.idOf(r.items[i]) == id {
			return r.items[i], true
		}
	}
	var zero T
	return zero, false
}

// IsRegistered reports whether at least one entry exists for id.
func (r *Registry[T]) IsRegistered(id string) bool {
	_, ok := r.Get(id)
	return ok
}

// List returns the entries in registration order. In clean mode duplicates
// are collapsed to the most recent entry per id, holding the position of the
// last occurrence.
func (r *Registry[T]) List() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.mode == ModeHistory {
		out := make([]T, len(r.items))
		copy(out, r.items)
		return out
	}
	return r.cleanView()
}

// History returns every registration regardless of mode.
func (r *Registry[T]) History() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]T, len(r.items))
	copy(out, r.items)
	return out
}

// Len returns the number of entries in the list view.
func (r *Registry[T]) Len() int {
	return len(r.List())
}

// Cleanup truncates the backing store to the clean mode view, discarding
// superseded entries.
func (r *Registry[T]) Cleanup() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = r.cleanView()
}

// cleanView deduplicates by id keeping the last occurrence. Callers must
// hold at least a read lock.
func (r *Registry[T]) cleanView() []T {
	keep := make([]bool, len(r.items))
	seen := make(map[string]int, len(r.items))
	for i, entry := range r.items {
		id := r.idOf(entry)
		if prev, ok := seen[id]; ok {
			keep[prev] = false
		}
		seen[id] = i
		keep[i] = true
	}

	out := make([]T, 0, len(seen))
	for i, entry := range r.items {
		if keep[i] {
			out = append(out, entry)
		}
	}
	return out
}
