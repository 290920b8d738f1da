package entry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"

	"github.com/okdaichi/posixquic/diag"
	"github.com/okdaichi/posixquic/quic"
	"github.com/okdaichi/posixquic/sockopt"
	"github.com/okdaichi/posixquic/transport"
)

// DefaultBacklog bounds the accept queue when no backlog is configured.
const DefaultBacklog = 128

var _ Entry = (*ListenerEntry)(nil)

// ListenerEntry is a listening socket. Connections accepted by the engine
// wait in a bounded backlog until the application accepts them.
type ListenerEntry struct {
	watchers

	fd       int
	listener quic.Listener
	endpoint quic.Endpoint
	socket   *transport.SharedSocket
	options  *sockopt.Options
	backlog  int
	logger   *slog.Logger

	mu      sync.Mutex
	pending []quic.Connection
	err     error
	closed  bool

	cancel context.CancelFunc
	done   chan struct{}
}

// ListenerConfig holds what a listener entry needs.
type ListenerConfig struct {
	Fd       int
	Listener quic.Listener
	Endpoint quic.Endpoint
	Socket   *transport.SharedSocket
	Options  *sockopt.Options
	Backlog  int
	Logger   *slog.Logger
}

// NewListenerEntry starts accepting connections on cfg.Listener.
func NewListenerEntry(cfg ListenerConfig) *ListenerEntry {
	backlog := cfg.Backlog
	if backlog <= 0 {
		backlog = DefaultBacklog
	}
	logger := cfg.Logger
	if logger == nil {
		logger = diag.DiscardLogger()
	}
	options := cfg.Options
	if options == nil {
		options = sockopt.New()
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &ListenerEntry{
		fd:       cfg.Fd,
		listener: cfg.Listener,
		endpoint: cfg.Endpoint,
		socket:   cfg.Socket,
		options:  options,
		backlog:  backlog,
		logger:   logger.With("fd", cfg.Fd, "role", "listener"),
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	go l.acceptLoop(ctx)

	return l
}

func (l *ListenerEntry) acceptLoop(ctx context.Context) {
	defer close(l.done)

	for {
		conn, err := l.listener.Accept(ctx)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, quic.ErrServerClosed) {
				l.logger.Error("accepting connection failed", "error", err)
				l.mu.Lock()
				l.err = err
				l.mu.Unlock()
				l.notify(l.fd)
			}
			return
		}

		l.mu.Lock()
		if l.closed || len(l.pending) >= l.backlog {
			l.mu.Unlock()
			l.logger.Debug("accept backlog full, refusing connection",
				"remote_address", conn.PeerAddress().String(),
			)
			_ = conn.Close(quic.CauseExplicit, quic.CloseBehaviorSendClose)
			continue
		}
		l.pending = append(l.pending, conn)
		l.mu.Unlock()

		l.logger.Debug("connection queued", "remote_address", conn.PeerAddress().String())
		l.notify(l.fd)
	}
}

// Pop takes the oldest queued connection.
func (l *ListenerEntry) Pop() (quic.Connection, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.pending) == 0 {
		return nil, false
	}
	conn := l.pending[0]
	l.pending[0] = nil
	l.pending = l.pending[1:]
	return conn, true
}

func (l *ListenerEntry) Fd() int {
	return l.fd
}

func (l *ListenerEntry) Category() Category {
	return CategoryConnection
}

func (l *ListenerEntry) Events() Events {
	l.mu.Lock()
	defer l.mu.Unlock()

	var ev Events
	if len(l.pending) > 0 {
		ev |= EventIn
	}
	if l.err != nil {
		ev |= EventErr
	}
	return ev
}

// Err returns the error that stopped accepting, if any.
func (l *ListenerEntry) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

func (l *ListenerEntry) Options() *sockopt.Options {
	return l.options
}

func (l *ListenerEntry) Socket() *transport.SharedSocket {
	return l.socket
}

func (l *ListenerEntry) Endpoint() quic.Endpoint {
	return l.endpoint
}

func (l *ListenerEntry) Addr() net.Addr {
	return l.listener.Addr()
}

// Close stops accepting and refuses every queued connection. The shared
// socket stays open until the accepted connections release it too.
func (l *ListenerEntry) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	l.cancel()
	err := l.listener.Close()
	<-l.done

	l.mu.Lock()
	pending := l.pending
	l.pending = nil
	l.mu.Unlock()

	for _, conn := range pending {
		_ = conn.Close(quic.CauseExplicit, quic.CloseBehaviorSendClose)
	}

	if l.socket != nil {
		if rerr := l.socket.Release(); rerr != nil && err == nil {
			err = rerr
		}
	}
	return err
}

func (l *ListenerEntry) DebugInfo(level int) string {
	l.mu.Lock()
	pending := len(l.pending)
	closed := l.closed
	err := l.err
	l.mu.Unlock()

	var sb strings.Builder
	indent := diag.Indent(level)
	fmt.Fprintf(&sb, "%s* listener fd:%d addr:%s\n", indent, l.fd, l.listener.Addr())
	fmt.Fprintf(&sb, "%s    backlog:%d/%d closed:%t events:%s\n", indent, pending, l.backlog, closed, l.Events())
	if l.socket != nil {
		fmt.Fprintf(&sb, "%s    udp socket refs:%d\n", indent, l.socket.Refs())
	}
	if err != nil {
		fmt.Fprintf(&sb, "%s    error:%v\n", indent, err)
	}
	fmt.Fprintf(&sb, "%s    options:%s\n", indent, formatOptions(l.options))
	return sb.String()
}

func formatOptions(o *sockopt.Options) string {
	var parts []string
	o.Each(func(opt sockopt.Option, value int64) {
		parts = append(parts, fmt.Sprintf("%s=%d", opt, value))
	})
	return strings.Join(parts, " ")
}
