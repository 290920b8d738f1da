// Package registry maps descriptors to their state objects.
//
// A Registry is shared by reference between every component that needs it;
// there is no process-wide instance.
package registry

import (
	"slices"
	"sync"
)

// Registry is a thread-safe descriptor table.
//
// Foreach copies the table under the lock and runs the callback after
// releasing it, so callbacks may call back into the registry.
type Registry[T comparable] struct {
	mu      sync.RWMutex
	entries map[int]T
	owners  map[T]int
}

// New returns an empty registry.
func New[T comparable]() *Registry[T] {
	return &Registry[T]{
		entries: make(map[int]T),
		owners:  make(map[T]int),
	}
}

// Insert adds v under fd. It fails if fd is already present or if v is
// already registered under another descriptor.
func (r *Registry[T]) Insert(fd int, v T) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[fd]; ok {
		return false
	}
	if _, ok := r.owners[v]; ok {
		return false
	}

	r.entries[fd] = v
	r.owners[v] = fd
	return true
}

// Remove deletes fd and reports whether it was present.
func (r *Registry[T]) Remove(fd int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.entries[fd]
	if !ok {
		return false
	}

	delete(r.entries, fd)
	delete(r.owners, v)
	return true
}

// CompareAndRemove deletes fd only if it still holds v. A descriptor
// that was freed and reused for another value is left alone.
func (r *Registry[T]) CompareAndRemove(fd int, v T) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.entries[fd]
	if !ok || cur != v {
		return false
	}

	delete(r.entries, fd)
	delete(r.owners, v)
	return true
}

// Lookup returns the value stored under fd.
func (r *Registry[T]) Lookup(fd int) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, ok := r.entries[fd]
	return v, ok
}

// Len returns the number of live descriptors.
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.entries)
}

type item[T any] struct {
	fd int
	v  T
}

// Foreach calls fn for every descriptor present when the snapshot was taken,
// in ascending descriptor order.
func (r *Registry[T]) Foreach(fn func(fd int, v T)) {
	for _, it := range r.snapshot() {
		fn(it.fd, it.v)
	}
}

func (r *Registry[T]) snapshot() []item[T] {
	r.mu.RLock()
	items := make([]item[T], 0, len(r.entries))
	for fd, v := range r.entries {
		items = append(items, item[T]{fd: fd, v: v})
	}
	r.mu.RUnlock()

	slices.SortFunc(items, func(a, b item[T]) int {
		return a.fd - b.fd
	})
	return items
}
