package posixquic

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/okdaichi/posixquic/quic"
	"github.com/okdaichi/posixquic/quic/quicgo"
)

var _ quic.Connection = (*fakeConn)(nil)

type fakeConn struct {
	id       uint64
	peer     net.Addr
	incoming chan quic.Stream
	ctx      context.Context
	cancel   context.CancelFunc

	mu         sync.Mutex
	visitor    quic.Visitor
	closeCalls []quic.CloseCause
	opened     int64
}

func newFakeConn(id uint64, peer net.Addr) *fakeConn {
	if peer == nil {
		peer = &net.UDPAddr{IP: net.IPv4(192, 0, 2, 1), Port: 9000}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &fakeConn{
		id:       id,
		peer:     peer,
		incoming: make(chan quic.Stream, 8),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (c *fakeConn) ID() uint64                    { return c.id }
func (c *fakeConn) Perspective() quic.Perspective { return quic.PerspectiveServer }
func (c *fakeConn) PeerAddress() net.Addr         { return c.peer }
func (c *fakeConn) LocalAddr() net.Addr           { return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 4433} }
func (c *fakeConn) Context() context.Context      { return c.ctx }
func (c *fakeConn) AlarmFactory() quic.AlarmFactory {
	return quicgo.NewAlarmFactory(quicgo.SystemClock)
}
func (c *fakeConn) Clock() quic.Clock { return quicgo.SystemClock }

func (c *fakeConn) Close(cause quic.CloseCause, behavior quic.CloseBehavior) error {
	c.mu.Lock()
	c.closeCalls = append(c.closeCalls, cause)
	v := c.visitor
	c.mu.Unlock()

	c.cancel()
	if v != nil {
		v.OnEvent(quic.ConnectionClosed{Cause: cause})
	}
	return nil
}

func (c *fakeConn) closes() []quic.CloseCause {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]quic.CloseCause(nil), c.closeCalls...)
}

// event delivers ev as if the engine produced it.
func (c *fakeConn) event(ev quic.Event) {
	c.mu.Lock()
	v := c.visitor
	c.mu.Unlock()
	v.OnEvent(ev)
}

func (c *fakeConn) AcceptStream(ctx context.Context) (quic.Stream, error) {
	select {
	case s := <-c.incoming:
		return s, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.ctx.Done():
		return nil, errors.New("connection closed")
	}
}

func (c *fakeConn) OpenStream() (quic.Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opened++
	return newFakeStream(quic.StreamID(c.opened * 4)), nil
}

func (c *fakeConn) SetVisitor(v quic.Visitor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.visitor = v
}

var _ quic.Stream = (*fakeStream)(nil)

type fakeStream struct {
	id     quic.StreamID
	pr     *io.PipeReader
	pw     *io.PipeWriter
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	written bytes.Buffer
	fin     bool
}

func newFakeStream(id quic.StreamID) *fakeStream {
	pr, pw := io.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	return &fakeStream{id: id, pr: pr, pw: pw, ctx: ctx, cancel: cancel}
}

func (s *fakeStream) peerSend(b []byte) {
	go s.pw.Write(b)
}

func (s *fakeStream) StreamID() quic.StreamID    { return s.id }
func (s *fakeStream) Read(b []byte) (int, error) { return s.pr.Read(b) }

func (s *fakeStream) Write(b []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fin {
		return 0, errors.New("write on closed stream")
	}
	return s.written.Write(b)
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fin = true
	s.cancel()
	return nil
}

func (s *fakeStream) CancelRead(code quic.StreamErrorCode) {
	s.pr.CloseWithError(&quic.StreamError{StreamID: s.id, ErrorCode: code})
}

func (s *fakeStream) CancelWrite(quic.StreamErrorCode) {}
func (s *fakeStream) SetDeadline(time.Time) error      { return nil }
func (s *fakeStream) SetReadDeadline(time.Time) error  { return nil }
func (s *fakeStream) SetWriteDeadline(time.Time) error { return nil }
func (s *fakeStream) Context() context.Context         { return s.ctx }

func (s *fakeStream) data() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written.String()
}

var _ quic.Listener = (*fakeListener)(nil)

type fakeListener struct {
	conns  chan quic.Connection
	closed chan struct{}
	once   sync.Once
}

func newFakeListener() *fakeListener {
	return &fakeListener{
		conns:  make(chan quic.Connection, 16),
		closed: make(chan struct{}),
	}
}

func (l *fakeListener) Accept(ctx context.Context) (quic.Connection, error) {
	select {
	case c := <-l.conns:
		return c, nil
	case <-l.closed:
		return nil, quic.ErrServerClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *fakeListener) Addr() net.Addr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 4433}
}

func (l *fakeListener) Close() error {
	l.once.Do(func() { close(l.closed) })
	return nil
}
