package posixquic

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"

	"github.com/okdaichi/posixquic/entry"
	"github.com/okdaichi/posixquic/quic"
	"github.com/okdaichi/posixquic/quic/quicgo"
	"github.com/okdaichi/posixquic/sockopt"
	"github.com/okdaichi/posixquic/transport"
	"golang.org/x/sys/unix"
)

// Listen binds a UDP socket to addr and returns a listening descriptor.
// Connections accepted on it share the socket.
func (s *System) Listen(addr string, tlsConfig *tls.Config) (int, error) {
	if s.shuttingDown() {
		return -1, unix.EBADF
	}

	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return -1, fmt.Errorf("posixquic: resolving %q: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return -1, fmt.Errorf("posixquic: listen %s: %w", addr, err)
	}

	options := s.config.options()
	endpoint := quicgo.NewEndpoint(conn, s.logger)
	socket := transport.NewSharedSocket(conn, endpoint)
	s.applyBuffers(socket, options)

	ln, err := endpoint.Listen(tlsConfig, s.config.quicConfig(options, false))
	if err != nil {
		_ = socket.Release()
		return -1, fmt.Errorf("posixquic: listen %s: %w", addr, err)
	}

	fd := s.fds.Allocate()
	l := entry.NewListenerEntry(entry.ListenerConfig{
		Fd:       fd,
		Listener: ln,
		Endpoint: endpoint,
		Socket:   socket,
		Options:  options,
		Backlog:  s.config.backlog(),
		Logger:   s.logger,
	})
	s.insert(l)

	s.logger.Info("listening", "fd", fd, "address", ln.Addr().String())
	return fd, nil
}

// Accept takes the oldest connection waiting on the listening descriptor fd.
// It fails with unix.EAGAIN when none is waiting.
func (s *System) Accept(fd int) (int, error) {
	l, err := s.listener(fd)
	if err != nil {
		return -1, err
	}

	conn, ok := l.Pop()
	if !ok {
		if err := l.Err(); err != nil {
			return -1, err
		}
		return -1, unix.EAGAIN
	}

	var socket *transport.SharedSocket
	if ls := l.Socket(); ls != nil {
		if socket = ls.Retain(); socket == nil {
			_ = conn.Close(quic.CauseExplicit, quic.CloseBehaviorSendClose)
			return -1, unix.EBADF
		}
	}

	cfd := s.fds.Allocate()
	c := entry.NewConnectionEntry(entry.ConnectionConfig{
		Fd:       cfd,
		Conn:     conn,
		Endpoint: l.Endpoint(),
		Socket:   socket,
		Options:  l.Options().Clone(),
		Metrics:  s.metrics,
		Logger:   s.logger,
	})
	s.insert(c)

	s.logger.Debug("accepted connection", "fd", cfd, "listener_fd", fd,
		"remote_address", c.PeerAddress().String())
	return cfd, nil
}

// Dial connects to addr from a new UDP socket and returns the connection's
// descriptor once the handshake completed.
func (s *System) Dial(ctx context.Context, addr string, tlsConfig *tls.Config) (int, error) {
	if s.shuttingDown() {
		return -1, unix.EBADF
	}

	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return -1, fmt.Errorf("posixquic: resolving %q: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return -1, fmt.Errorf("posixquic: dial %s: %w", addr, err)
	}

	options := s.config.options()
	endpoint := quicgo.NewEndpoint(conn, s.logger)
	socket := transport.NewSharedSocket(conn, endpoint)
	s.applyBuffers(socket, options)

	qconn, err := endpoint.Dial(ctx, raddr, tlsConfig, s.config.quicConfig(options, true))
	if err != nil {
		_ = socket.Release()
		return -1, fmt.Errorf("posixquic: dial %s: %w", addr, err)
	}

	fd := s.fds.Allocate()
	c := entry.NewConnectionEntry(entry.ConnectionConfig{
		Fd:       fd,
		Conn:     qconn,
		Endpoint: endpoint,
		Socket:   socket,
		Options:  options,
		Metrics:  s.metrics,
		Logger:   s.logger,
	})
	s.insert(c)

	s.logger.Info("connected", "fd", fd, "remote_address", raddr.String())
	return fd, nil
}

// Close closes any descriptor. Closing a connection closes its streams first.
func (s *System) Close(fd int) error {
	return s.close(fd)
}

func (s *System) close(fd int) error {
	// The claim is taken before the lookup: fd cannot be freed and reused
	// for another entry while it is held.
	if !s.claim(fd) {
		return unix.EBADF
	}

	if ep, ok := s.epollers.Lookup(fd); ok {
		defer s.free(fd)
		s.epollers.CompareAndRemove(fd, ep)
		return ep.Close()
	}

	e, ok := s.entries.Lookup(fd)
	if !ok {
		s.unclaim(fd)
		return unix.EBADF
	}
	defer s.free(fd)

	switch e := e.(type) {
	case *entry.StreamEntry:
		return s.closeStream(e)
	case *entry.ConnectionEntry:
		return s.closeConnection(e)
	case *entry.ListenerEntry:
		s.unregister(e)
		return e.Close()
	default:
		s.unregister(e)
		return nil
	}
}

func (s *System) closeStream(st *entry.StreamEntry) error {
	err := st.Close()
	s.unregister(st)
	return err
}

// closeConnection tears c down: child streams, then the alarm and the engine
// connection, then the registry entry and finally the socket reference.
func (s *System) closeConnection(c *entry.ConnectionEntry) error {
	var errs []error
	for _, st := range c.Streams() {
		if !s.claimEntry(st.Fd(), st) {
			continue
		}
		if err := s.closeStream(st); err != nil {
			errs = append(errs, err)
		}
		s.free(st.Fd())
	}

	if err := c.Shutdown(); err != nil {
		errs = append(errs, err)
	}
	s.unregister(c)
	if err := c.Release(); err != nil {
		errs = append(errs, err)
	}

	s.logger.Debug("connection closed by application", "fd", c.Fd())
	return errors.Join(errs...)
}

// SetOption stores value for opt. Unknown options are ignored. A stream
// shares the option vector of its connection.
func (s *System) SetOption(fd int, opt sockopt.Option, value int64) error {
	e, err := s.lookup(fd)
	if err != nil {
		return err
	}

	switch e := e.(type) {
	case *entry.ConnectionEntry:
		if !e.Options().Set(opt, value) {
			return nil
		}
		if opt == sockopt.AckTimeoutSecs {
			e.Visitor().SetNoAckAlarm()
		}
		if isBufferOption(opt) && e.Socket() != nil {
			return s.setBuffers(e.Socket(), e.Options())
		}
	case *entry.ListenerEntry:
		if !e.Options().Set(opt, value) {
			return nil
		}
		if isBufferOption(opt) && e.Socket() != nil {
			return s.setBuffers(e.Socket(), e.Options())
		}
	case *entry.StreamEntry:
		return s.SetOption(e.Parent().Fd(), opt, value)
	}
	return nil
}

// GetOption returns the value of opt, or 0 for an unknown option.
func (s *System) GetOption(fd int, opt sockopt.Option) (int64, error) {
	e, err := s.lookup(fd)
	if err != nil {
		return 0, err
	}

	switch e := e.(type) {
	case *entry.ConnectionEntry:
		return e.Options().Get(opt), nil
	case *entry.ListenerEntry:
		return e.Options().Get(opt), nil
	case *entry.StreamEntry:
		return e.Parent().Options().Get(opt), nil
	default:
		return 0, unix.EINVAL
	}
}

// PeerAddr returns the current peer address of a connection or stream.
func (s *System) PeerAddr(fd int) (net.Addr, error) {
	e, err := s.lookup(fd)
	if err != nil {
		return nil, err
	}

	switch e := e.(type) {
	case *entry.ConnectionEntry:
		return e.PeerAddress(), nil
	case *entry.StreamEntry:
		return e.Parent().PeerAddress(), nil
	default:
		return nil, unix.ENOTCONN
	}
}

// LocalAddr returns the address of the UDP socket under fd.
func (s *System) LocalAddr(fd int) (net.Addr, error) {
	e, err := s.lookup(fd)
	if err != nil {
		return nil, err
	}

	switch e := e.(type) {
	case *entry.ListenerEntry:
		return e.Addr(), nil
	case *entry.ConnectionEntry:
		return e.Conn().LocalAddr(), nil
	case *entry.StreamEntry:
		return e.Parent().Conn().LocalAddr(), nil
	default:
		return nil, unix.EINVAL
	}
}

// CloseCause reports why the connection of fd closed. closed is false while
// it is still open.
func (s *System) CloseCause(fd int) (cause quic.CloseCause, closed bool, err error) {
	e, err := s.lookup(fd)
	if err != nil {
		return 0, false, err
	}

	var c *entry.ConnectionEntry
	switch e := e.(type) {
	case *entry.ConnectionEntry:
		c = e
	case *entry.StreamEntry:
		c = e.Parent()
	default:
		return 0, false, unix.EINVAL
	}

	cause, _, closed = c.CloseCause()
	return cause, closed, nil
}

func isBufferOption(opt sockopt.Option) bool {
	return opt == sockopt.UDPRmem || opt == sockopt.UDPWmem
}

func (s *System) setBuffers(socket *transport.SharedSocket, opts *sockopt.Options) error {
	rmem, wmem := opts.Get(sockopt.UDPRmem), opts.Get(sockopt.UDPWmem)
	if err := socket.SetBuffers(int(rmem), int(wmem)); err != nil {
		return fmt.Errorf("posixquic: sizing udp buffers: %w", err)
	}
	return nil
}

// applyBuffers sizes a new socket. Failures are logged, not fatal.
func (s *System) applyBuffers(socket *transport.SharedSocket, opts *sockopt.Options) {
	if err := s.setBuffers(socket, opts); err != nil {
		s.logger.Warn("udp buffers not applied", "error", err)
	}
}
