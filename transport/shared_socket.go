// Package transport sends encrypted bytes to a connection's current peer over
// a UDP socket that may be shared by several connections.
package transport

import (
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
)

// ErrSocketReleased is returned when writing through a socket whose last
// reference is gone.
var ErrSocketReleased = errors.New("transport: socket released")

// SharedSocket is a reference counted UDP socket. A listening socket is held
// by the listener and by every connection accepted on it; whoever releases
// last closes it.
type SharedSocket struct {
	conn net.PacketConn

	refs atomic.Int32

	closeOnce sync.Once
	closers   []io.Closer
	closeErr  error
}

// NewSharedSocket wraps conn with one reference held by the caller.
// closers run in order, before conn itself is closed, when the last
// reference is released.
func NewSharedSocket(conn net.PacketConn, closers ...io.Closer) *SharedSocket {
	s := &SharedSocket{
		conn:    conn,
		closers: closers,
	}
	s.refs.Store(1)
	return s
}

// Retain adds a reference. It returns nil if the socket is already closed.
func (s *SharedSocket) Retain() *SharedSocket {
	for {
		n := s.refs.Load()
		if n <= 0 {
			return nil
		}
		if s.refs.CompareAndSwap(n, n+1) {
			return s
		}
	}
}

// Release drops a reference and closes the socket when it was the last one.
func (s *SharedSocket) Release() error {
	n := s.refs.Add(-1)
	switch {
	case n > 0:
		return nil
	case n < 0:
		s.refs.Store(0)
		return nil
	}

	s.closeOnce.Do(func() {
		var errs []error
		for _, c := range s.closers {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if err := s.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}

// Refs returns the number of live references.
func (s *SharedSocket) Refs() int {
	return int(s.refs.Load())
}

// WriteTo sends b to addr.
func (s *SharedSocket) WriteTo(b []byte, addr net.Addr) (int, error) {
	if s.refs.Load() <= 0 {
		return 0, ErrSocketReleased
	}
	return s.conn.WriteTo(b, addr)
}

// LocalAddr returns the bound address.
func (s *SharedSocket) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

// PacketConn returns the underlying socket.
func (s *SharedSocket) PacketConn() net.PacketConn {
	return s.conn
}

// SetBuffers sizes the kernel buffers when the socket supports it.
// Zero leaves a buffer untouched.
func (s *SharedSocket) SetBuffers(rmem, wmem int) error {
	type bufferSetter interface {
		SetReadBuffer(int) error
		SetWriteBuffer(int) error
	}
	bs, ok := s.conn.(bufferSetter)
	if !ok {
		return nil
	}
	if rmem > 0 {
		if err := bs.SetReadBuffer(rmem); err != nil {
			return err
		}
	}
	if wmem > 0 {
		if err := bs.SetWriteBuffer(wmem); err != nil {
			return err
		}
	}
	return nil
}
