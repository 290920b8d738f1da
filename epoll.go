package posixquic

import (
	"context"
	"fmt"
	"time"

	"github.com/okdaichi/posixquic/entry"
	"github.com/okdaichi/posixquic/epoll"
	"golang.org/x/sys/unix"
)

// EpollCreate returns a new epoll descriptor.
func (s *System) EpollCreate() (int, error) {
	if s.shuttingDown() {
		return -1, unix.EBADF
	}

	fd := s.fds.Allocate()
	ep := epoll.New(fd, s.entries)
	if !s.epollers.Insert(fd, ep) {
		// The allocator never hands out a live descriptor
		panic(fmt.Sprintf("posixquic: epoll descriptor %d already registered", fd))
	}

	s.logger.Debug("epoll created", "fd", fd)
	return fd, nil
}

// EpollCtl adds, modifies or removes the interest of epfd in fd.
func (s *System) EpollCtl(epfd int, op epoll.Op, fd int, events entry.Events) error {
	ep, ok := s.epollers.Lookup(epfd)
	if !ok {
		return unix.EBADF
	}
	return ep.Ctl(op, fd, events)
}

// EpollWait fills events with ready descriptors of epfd. A negative timeout
// waits until one is ready; zero polls.
func (s *System) EpollWait(ctx context.Context, epfd int, events []epoll.Event, timeout time.Duration) (int, error) {
	ep, ok := s.epollers.Lookup(epfd)
	if !ok {
		return -1, unix.EBADF
	}
	return ep.Wait(ctx, events, timeout)
}
