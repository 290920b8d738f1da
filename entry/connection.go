package entry

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/okdaichi/posixquic/diag"
	"github.com/okdaichi/posixquic/metrics"
	"github.com/okdaichi/posixquic/quic"
	"github.com/okdaichi/posixquic/sockopt"
	"github.com/okdaichi/posixquic/transport"
	"github.com/okdaichi/posixquic/visitor"
)

var (
	_ Entry          = (*ConnectionEntry)(nil)
	_ visitor.Parent = (*ConnectionEntry)(nil)
)

// ConnectionEntry is one QUIC connection. It owns the engine connection, its
// visitor, its options and its packet transport, and holds a reference on
// the UDP socket it shares with its siblings.
type ConnectionEntry struct {
	watchers

	fd        int
	conn      quic.Connection
	endpoint  quic.Endpoint
	socket    *transport.SharedSocket
	options   *sockopt.Options
	transport *transport.PacketTransport
	visitor   *visitor.Visitor
	metrics   *metrics.Metrics
	logger    *slog.Logger
	ctx       context.Context

	migrations atomic.Int64

	mu       sync.Mutex
	streams  map[int]*StreamEntry
	incoming []quic.Stream
	closed   bool
	cause    quic.CloseCause
	closeErr error

	cancel context.CancelFunc
	done   chan struct{}
}

// ConnectionConfig holds what a connection entry needs.
type ConnectionConfig struct {
	Fd   int
	Conn quic.Connection
	// Endpoint reads non-QUIC datagrams of the socket.
	Endpoint quic.Endpoint
	// Socket must already carry a reference for this entry.
	Socket  *transport.SharedSocket
	Options *sockopt.Options
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// NewConnectionEntry binds a visitor to cfg.Conn and starts accepting the
// streams the peer opens.
func NewConnectionEntry(cfg ConnectionConfig) *ConnectionEntry {
	logger := cfg.Logger
	if logger == nil {
		logger = diag.DiscardLogger()
	}
	options := cfg.Options
	if options == nil {
		options = sockopt.New()
	}

	var writer transport.PacketWriter
	if cfg.Socket != nil {
		writer = cfg.Socket
	}
	tr := transport.NewPacketTransport(writer, cfg.Conn.PeerAddress(), logger)

	ctx, cancel := context.WithCancel(diag.WithConnectionID(context.Background(), cfg.Conn.ID()))
	e := &ConnectionEntry{
		fd:        cfg.Fd,
		conn:      cfg.Conn,
		endpoint:  cfg.Endpoint,
		socket:    cfg.Socket,
		options:   options,
		transport: tr,
		metrics:   cfg.Metrics,
		logger:    logger.With("fd", cfg.Fd, "perspective", cfg.Conn.Perspective().String()),
		ctx:       ctx,
		streams:   make(map[int]*StreamEntry),
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	tr.OnPeerAddressChange = e.onPeerAddressChange

	e.visitor = visitor.New(logger, cfg.Metrics)
	e.visitor.Bind(cfg.Conn, options, e, tr)

	go e.acceptStreams(ctx)

	return e
}

func (e *ConnectionEntry) acceptStreams(ctx context.Context) {
	defer close(e.done)

	for {
		stream, err := e.conn.AcceptStream(ctx)
		if err != nil {
			e.logger.DebugContext(ctx, "stopped accepting streams", "error", err)
			return
		}

		e.mu.Lock()
		e.incoming = append(e.incoming, stream)
		e.mu.Unlock()

		e.logger.DebugContext(ctx, "stream queued", "stream_id", int64(stream.StreamID()))
		e.notify(e.fd)
	}
}

// OnClosed records why the engine closed the connection and wakes watchers.
// The descriptor stays valid until the application closes it.
func (e *ConnectionEntry) OnClosed(cause quic.CloseCause, err error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.cause = cause
	e.closeErr = err
	streams := e.streamsLocked()
	e.mu.Unlock()

	e.logger.InfoContext(e.ctx, "connection closed", "cause", cause.String(), "error", err)

	e.notify(e.fd)
	for _, s := range streams {
		s.notify(s.fd)
	}
}

// PopStream takes the oldest stream opened by the peer.
func (e *ConnectionEntry) PopStream() (quic.Stream, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.incoming) == 0 {
		return nil, false
	}
	s := e.incoming[0]
	e.incoming[0] = nil
	e.incoming = e.incoming[1:]
	return s, true
}

// AddStream attaches a child stream. It fails once the connection closed.
func (e *ConnectionEntry) AddStream(s *StreamEntry) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}
	if _, ok := e.streams[s.fd]; ok {
		return false
	}
	e.streams[s.fd] = s
	return true
}

// RemoveStream detaches a child stream.
func (e *ConnectionEntry) RemoveStream(fd int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.streams, fd)
}

// Streams returns the child streams ordered by descriptor.
func (e *ConnectionEntry) Streams() []*StreamEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.streamsLocked()
}

func (e *ConnectionEntry) streamsLocked() []*StreamEntry {
	list := make([]*StreamEntry, 0, len(e.streams))
	for _, s := range e.streams {
		list = append(list, s)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].fd < list[j].fd })
	return list
}

func (e *ConnectionEntry) Fd() int {
	return e.fd
}

func (e *ConnectionEntry) Category() Category {
	return CategoryConnection
}

func (e *ConnectionEntry) Events() Events {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return EventErr
	}
	ev := EventOut
	if len(e.incoming) > 0 {
		ev |= EventIn
	}
	return ev
}

// CloseCause reports why the connection closed, if it has.
func (e *ConnectionEntry) CloseCause() (cause quic.CloseCause, err error, closed bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cause, e.closeErr, e.closed
}

func (e *ConnectionEntry) Conn() quic.Connection {
	return e.conn
}

func (e *ConnectionEntry) Endpoint() quic.Endpoint {
	return e.endpoint
}

// Socket returns the UDP socket the connection sends on. It may be nil.
func (e *ConnectionEntry) Socket() *transport.SharedSocket {
	return e.socket
}

func (e *ConnectionEntry) Options() *sockopt.Options {
	return e.options
}

func (e *ConnectionEntry) Transport() *transport.PacketTransport {
	return e.transport
}

func (e *ConnectionEntry) Visitor() *visitor.Visitor {
	return e.visitor
}

func (e *ConnectionEntry) PeerAddress() net.Addr {
	return e.transport.PeerAddress()
}

// onPeerAddressChange records a silent migration of the peer.
func (e *ConnectionEntry) onPeerAddressChange(from, to net.Addr) {
	if from == nil {
		return
	}
	e.migrations.Add(1)
	e.logger.InfoContext(e.ctx, "peer address changed", "old", from.String(), "new", to.String())
}

// Migrations returns how many times the peer address changed.
func (e *ConnectionEntry) Migrations() int64 {
	return e.migrations.Load()
}

// Shutdown cancels the no-ack alarm and closes the engine connection. Child
// streams must already be closed. It does not release the socket.
func (e *ConnectionEntry) Shutdown() error {
	e.visitor.CancelNoAckAlarm()

	e.mu.Lock()
	alreadyClosed := e.closed
	e.mu.Unlock()

	var err error
	if !alreadyClosed {
		// The engine reports the close back through OnClosed; mu must be free.
		err = e.conn.Close(quic.CauseExplicit, quic.CloseBehaviorSendClose)
	}

	e.cancel()
	<-e.done

	e.mu.Lock()
	incoming := e.incoming
	e.incoming = nil
	e.closed = true
	e.mu.Unlock()

	for _, s := range incoming {
		s.CancelRead(0)
		s.CancelWrite(0)
	}
	return err
}

// Release drops the entry's reference on the UDP socket.
func (e *ConnectionEntry) Release() error {
	if e.socket == nil {
		return nil
	}
	return e.socket.Release()
}

func (e *ConnectionEntry) DebugInfo(level int) string {
	lastSend, lastAck := e.visitor.Timestamps()

	e.mu.Lock()
	closed, cause, closeErr := e.closed, e.cause, e.closeErr
	nStreams, nIncoming := len(e.streams), len(e.incoming)
	e.mu.Unlock()

	var sb strings.Builder
	indent := diag.Indent(level)
	fmt.Fprintf(&sb, "%s* connection fd:%d conn_id:%d perspective:%s\n", indent, e.fd, e.conn.ID(), e.conn.Perspective())
	fmt.Fprintf(&sb, "%s    local:%s peer:%s migrations:%d\n", indent, e.conn.LocalAddr(), e.transport.PeerAddress(), e.Migrations())
	fmt.Fprintf(&sb, "%s    events:%s streams:%d incoming:%d watchers:%d\n", indent, e.Events(), nStreams, nIncoming, e.watcherCount())
	fmt.Fprintf(&sb, "%s    last_send:%d last_ack:%d alarm:%d\n", indent,
		unixMilli(lastSend), unixMilli(lastAck), unixMilli(e.visitor.AlarmDeadline()))
	if e.socket != nil {
		fmt.Fprintf(&sb, "%s    udp socket refs:%d\n", indent, e.socket.Refs())
	}
	if closed {
		fmt.Fprintf(&sb, "%s    closed cause:%s error:%v\n", indent, cause, closeErr)
	}
	fmt.Fprintf(&sb, "%s    options:%s\n", indent, formatOptions(e.options))
	return sb.String()
}
