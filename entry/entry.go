// Package entry holds the state behind each descriptor: listeners,
// connections and the streams inside them.
//
// Entries never block. Network work happens on goroutines owned by the entry,
// which buffer data and report readiness to the watchers registered on it.
package entry

import (
	"strconv"
	"strings"
	"sync"
)

// Events is a readiness mask.
type Events uint32

const (
	EventIn  Events = 0x1
	EventOut Events = 0x4
	EventErr Events = 0x8
)

func (e Events) String() string {
	if e == 0 {
		return "NONE"
	}
	var parts []string
	if e&EventIn != 0 {
		parts = append(parts, "IN")
	}
	if e&EventOut != 0 {
		parts = append(parts, "OUT")
	}
	if e&EventErr != 0 {
		parts = append(parts, "ERR")
	}
	if rest := e &^ (EventIn | EventOut | EventErr); rest != 0 {
		parts = append(parts, "0x"+strconv.FormatUint(uint64(rest), 16))
	}
	return strings.Join(parts, "|")
}

// Category splits descriptors into connection level and stream level.
type Category int

const (
	CategoryInvalid Category = iota
	CategoryConnection
	CategoryStream
)

func (c Category) String() string {
	switch c {
	case CategoryConnection:
		return "connection"
	case CategoryStream:
		return "stream"
	default:
		return "invalid"
	}
}

// Watcher is told when the readiness of a descriptor may have changed.
// Notify must not block.
type Watcher interface {
	Notify(fd int)
}

// Entry is the state of one descriptor.
type Entry interface {
	Fd() int
	Category() Category

	// Events returns the current readiness.
	Events() Events

	AddWatcher(w Watcher)
	RemoveWatcher(w Watcher)

	// DebugInfo returns a human readable dump indented by level.
	DebugInfo(level int) string
}

// watchers is embedded by every entry.
type watchers struct {
	mu  sync.Mutex
	set map[Watcher]struct{}
}

func (w *watchers) AddWatcher(x Watcher) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.set == nil {
		w.set = make(map[Watcher]struct{})
	}
	w.set[x] = struct{}{}
}

func (w *watchers) RemoveWatcher(x Watcher) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.set, x)
}

func (w *watchers) watcherCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.set)
}

// notify calls every watcher outside the lock.
func (w *watchers) notify(fd int) {
	w.mu.Lock()
	list := make([]Watcher, 0, len(w.set))
	for x := range w.set {
		list = append(list, x)
	}
	w.mu.Unlock()

	for _, x := range list {
		x.Notify(fd)
	}
}
