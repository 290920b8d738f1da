// Package epoll multiplexes readiness of descriptors, level triggered like
// epoll(7). An Epoller keeps an interest mask per descriptor and sleeps until
// one of the watched entries reports that its readiness may have changed.
package epoll

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/okdaichi/posixquic/diag"
	"github.com/okdaichi/posixquic/entry"
	"golang.org/x/sys/unix"
)

// Op is a control operation, numbered like EPOLL_CTL_*.
type Op int

const (
	OpAdd Op = 1
	OpDel Op = 2
	OpMod Op = 3
)

func (op Op) String() string {
	switch op {
	case OpAdd:
		return "add"
	case OpDel:
		return "del"
	case OpMod:
		return "mod"
	default:
		return fmt.Sprintf("op(%d)", int(op))
	}
}

// Event is one ready descriptor.
type Event struct {
	Fd     int
	Events entry.Events
}

// Entries resolves descriptors.
type Entries interface {
	Lookup(fd int) (entry.Entry, bool)
}

type interest struct {
	entry entry.Entry
	mask  entry.Events
}

var _ entry.Watcher = (*Epoller)(nil)

// Epoller is one epoll instance.
type Epoller struct {
	fd      int
	entries Entries

	mu        sync.Mutex
	interests map[int]interest
	closed    bool

	wake chan struct{}
}

// New returns an empty epoller known as fd.
func New(fd int, entries Entries) *Epoller {
	return &Epoller{
		fd:        fd,
		entries:   entries,
		interests: make(map[int]interest),
		wake:      make(chan struct{}, 1),
	}
}

func (ep *Epoller) Fd() int {
	return ep.fd
}

// Ctl changes the interest set. EventErr is always reported whether or not
// it is part of events.
func (ep *Epoller) Ctl(op Op, fd int, events entry.Events) error {
	ep.mu.Lock()
	if ep.closed {
		ep.mu.Unlock()
		return unix.EBADF
	}

	switch op {
	case OpAdd:
		e, ok := ep.entries.Lookup(fd)
		if !ok {
			ep.mu.Unlock()
			return unix.EBADF
		}
		if cur, ok := ep.interests[fd]; ok && cur.entry == e {
			ep.mu.Unlock()
			return unix.EEXIST
		}
		ep.interests[fd] = interest{entry: e, mask: events}
		ep.mu.Unlock()

		e.AddWatcher(ep)
	case OpMod:
		cur, ok := ep.interests[fd]
		if !ok {
			ep.mu.Unlock()
			return unix.ENOENT
		}
		cur.mask = events
		ep.interests[fd] = cur
		ep.mu.Unlock()
	case OpDel:
		cur, ok := ep.interests[fd]
		if !ok {
			ep.mu.Unlock()
			return unix.ENOENT
		}
		delete(ep.interests, fd)
		ep.mu.Unlock()

		cur.entry.RemoveWatcher(ep)
		return nil
	default:
		ep.mu.Unlock()
		return unix.EINVAL
	}

	// The entry may already be ready
	ep.Notify(fd)
	return nil
}

// Notify wakes a pending Wait. It never blocks.
func (ep *Epoller) Notify(fd int) {
	select {
	case ep.wake <- struct{}{}:
	default:
	}
}

// Wait fills events with ready descriptors and returns how many it filled.
// A negative timeout waits until something is ready or ctx is done; a zero
// timeout polls.
func (ep *Epoller) Wait(ctx context.Context, events []Event, timeout time.Duration) (int, error) {
	if len(events) == 0 {
		return 0, unix.EINVAL
	}

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		n, err := ep.collect(events)
		if err != nil || n > 0 || timeout == 0 {
			return n, err
		}

		select {
		case <-ep.wake:
		case <-deadline:
			return ep.collect(events)
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

func (ep *Epoller) collect(events []Event) (int, error) {
	ep.mu.Lock()
	if ep.closed {
		ep.mu.Unlock()
		return 0, unix.EBADF
	}
	fds := make([]int, 0, len(ep.interests))
	snapshot := make(map[int]interest, len(ep.interests))
	for fd, in := range ep.interests {
		fds = append(fds, fd)
		snapshot[fd] = in
	}
	ep.mu.Unlock()

	sort.Ints(fds)

	var stale []int
	n := 0
	for _, fd := range fds {
		in := snapshot[fd]
		if cur, ok := ep.entries.Lookup(fd); !ok || cur != in.entry {
			stale = append(stale, fd)
			continue
		}
		if n == len(events) {
			continue
		}
		ready := in.entry.Events() & (in.mask | entry.EventErr)
		if ready == 0 {
			continue
		}
		events[n] = Event{Fd: fd, Events: ready}
		n++
	}

	if len(stale) > 0 {
		ep.forget(stale, snapshot)
	}
	return n, nil
}

// forget drops interests whose descriptor was closed.
func (ep *Epoller) forget(fds []int, snapshot map[int]interest) {
	ep.mu.Lock()
	for _, fd := range fds {
		if cur, ok := ep.interests[fd]; ok && cur.entry == snapshot[fd].entry {
			delete(ep.interests, fd)
		}
	}
	ep.mu.Unlock()

	for _, fd := range fds {
		snapshot[fd].entry.RemoveWatcher(ep)
	}
}

// Len returns the number of registered descriptors.
func (ep *Epoller) Len() int {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	return len(ep.interests)
}

// Close detaches from every watched entry. Later calls fail with EBADF.
func (ep *Epoller) Close() error {
	ep.mu.Lock()
	if ep.closed {
		ep.mu.Unlock()
		return unix.EBADF
	}
	ep.closed = true
	interests := ep.interests
	ep.interests = make(map[int]interest)
	ep.mu.Unlock()

	for _, in := range interests {
		in.entry.RemoveWatcher(ep)
	}
	ep.Notify(ep.fd)
	return nil
}

func (ep *Epoller) DebugInfo(level int) string {
	ep.mu.Lock()
	fds := make([]int, 0, len(ep.interests))
	for fd := range ep.interests {
		fds = append(fds, fd)
	}
	snapshot := make(map[int]interest, len(ep.interests))
	for fd, in := range ep.interests {
		snapshot[fd] = in
	}
	ep.mu.Unlock()

	sort.Ints(fds)

	var sb strings.Builder
	indent := diag.Indent(level)
	fmt.Fprintf(&sb, "%s* epoller fd:%d interests:%d\n", indent, ep.fd, len(fds))
	for _, fd := range fds {
		in := snapshot[fd]
		fmt.Fprintf(&sb, "%s    fd:%d category:%s mask:%s ready:%s\n",
			indent, fd, in.entry.Category(), in.mask, in.entry.Events())
	}
	return sb.String()
}
