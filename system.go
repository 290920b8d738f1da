package posixquic

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/okdaichi/posixquic/entry"
	"github.com/okdaichi/posixquic/epoll"
	"github.com/okdaichi/posixquic/metrics"
	"github.com/okdaichi/posixquic/registry"
	"golang.org/x/sys/unix"
)

// System owns a set of descriptors. Its methods are safe for concurrent use.
type System struct {
	config  *Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	fds      *registry.Allocator
	entries  *registry.Registry[entry.Entry]
	epollers *registry.Registry[*epoll.Epoller]

	mu sync.Mutex
	// closing holds descriptors whose teardown is in progress
	closing map[int]struct{}

	inShutdown atomic.Bool
}

// New creates a System. config may be nil.
func New(config *Config) (*System, error) {
	config = config.Clone()

	m := metrics.New()
	if err := m.Register(config.registerer()); err != nil {
		return nil, fmt.Errorf("posixquic: registering metrics: %w", err)
	}

	s := &System{
		config:   config,
		logger:   config.logger(),
		metrics:  m,
		fds:      registry.NewAllocator(config.firstDescriptor()),
		entries:  registry.New[entry.Entry](),
		epollers: registry.New[*epoll.Epoller](),
		closing:  make(map[int]struct{}),
	}
	s.logger.Debug("system created", "first_descriptor", config.firstDescriptor())
	return s, nil
}

// Metrics returns the System's collectors.
func (s *System) Metrics() *metrics.Metrics {
	return s.metrics
}

// Shutdown closes every descriptor. Streams go first, then connections, then
// listeners and epoll instances. Later calls return nil.
func (s *System) Shutdown() error {
	if !s.inShutdown.CompareAndSwap(false, true) {
		return nil
	}

	var streams, conns, listeners []int
	s.entries.Foreach(func(fd int, e entry.Entry) {
		switch e.(type) {
		case *entry.StreamEntry:
			streams = append(streams, fd)
		case *entry.ConnectionEntry:
			conns = append(conns, fd)
		default:
			listeners = append(listeners, fd)
		}
	})
	var epfds []int
	s.epollers.Foreach(func(fd int, _ *epoll.Epoller) {
		epfds = append(epfds, fd)
	})

	var errs []error
	for _, group := range [][]int{streams, conns, listeners, epfds} {
		for _, fd := range group {
			if err := s.close(fd); err != nil && !errors.Is(err, unix.EBADF) {
				errs = append(errs, fmt.Errorf("closing fd %d: %w", fd, err))
			}
		}
	}

	s.logger.Debug("system closed", "descriptors", s.fds.InUse())
	return errors.Join(errs...)
}

func (s *System) shuttingDown() bool {
	return s.inShutdown.Load()
}

// insert publishes e under its descriptor.
func (s *System) insert(e entry.Entry) {
	if !s.entries.Insert(e.Fd(), e) {
		// The allocator never hands out a live descriptor
		panic(fmt.Sprintf("posixquic: descriptor %d already registered", e.Fd()))
	}
	s.metrics.EntryAdded(e.Category().String())
}

func (s *System) lookup(fd int) (entry.Entry, error) {
	e, ok := s.entries.Lookup(fd)
	if !ok {
		return nil, unix.EBADF
	}
	return e, nil
}

func (s *System) connection(fd int) (*entry.ConnectionEntry, error) {
	e, err := s.lookup(fd)
	if err != nil {
		return nil, err
	}
	c, ok := e.(*entry.ConnectionEntry)
	if !ok {
		return nil, unix.EINVAL
	}
	return c, nil
}

func (s *System) listener(fd int) (*entry.ListenerEntry, error) {
	e, err := s.lookup(fd)
	if err != nil {
		return nil, err
	}
	l, ok := e.(*entry.ListenerEntry)
	if !ok {
		return nil, unix.EINVAL
	}
	return l, nil
}

func (s *System) stream(fd int) (*entry.StreamEntry, error) {
	e, err := s.lookup(fd)
	if err != nil {
		return nil, err
	}
	st, ok := e.(*entry.StreamEntry)
	if !ok {
		return nil, unix.EINVAL
	}
	return st, nil
}

// claim marks fd as being torn down. Only one caller wins.
func (s *System) claim(fd int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.closing[fd]; busy {
		return false
	}
	s.closing[fd] = struct{}{}
	return true
}

// claimEntry claims fd and reports whether it still refers to e. On
// false nothing is held.
func (s *System) claimEntry(fd int, e entry.Entry) bool {
	if !s.claim(fd) {
		return false
	}
	if cur, ok := s.entries.Lookup(fd); !ok || cur != e {
		s.unclaim(fd)
		return false
	}
	return true
}

// unclaim drops a claim without freeing the descriptor.
func (s *System) unclaim(fd int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.closing, fd)
}

// unregister removes e from the registry. Epollers drop it on their next
// wait.
func (s *System) unregister(e entry.Entry) {
	if s.entries.CompareAndRemove(e.Fd(), e) {
		s.metrics.EntryRemoved(e.Category().String())
	}
}

// free returns a claimed descriptor for reuse.
func (s *System) free(fd int) {
	s.unclaim(fd)
	s.fds.Release(fd)
}
