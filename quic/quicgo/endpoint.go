package quicgo

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net"
	"sync"

	"github.com/okdaichi/posixquic/diag"
	"github.com/okdaichi/posixquic/quic"
	quicgo_quicgo "github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/logging"
)

var _ quic.Endpoint = (*Endpoint)(nil)

// Endpoint runs quic-go on one packet connection. All connections it listens
// for or dials share that connection.
type Endpoint struct {
	transport *quicgo_quicgo.Transport
	logger    *slog.Logger
	clock     quic.Clock
	alarms    quic.AlarmFactory

	mu      sync.Mutex
	tracers map[quicgo_quicgo.ConnectionTracingID]*tracer
}

// NewEndpoint starts an endpoint on conn. The caller keeps ownership of conn
// and closes it after Close.
func NewEndpoint(conn net.PacketConn, logger *slog.Logger) *Endpoint {
	if logger == nil {
		logger = diag.DiscardLogger()
	}
	return &Endpoint{
		transport: &quicgo_quicgo.Transport{Conn: conn},
		logger:    logger,
		clock:     SystemClock,
		alarms:    NewAlarmFactory(SystemClock),
		tracers:   make(map[quicgo_quicgo.ConnectionTracingID]*tracer),
	}
}

func (e *Endpoint) Listen(tlsConfig *tls.Config, quicConfig *quic.Config) (quic.Listener, error) {
	ln, err := e.transport.Listen(tlsConfig, e.config(quicConfig))
	if err != nil {
		return nil, err
	}
	return &listenerWrapper{endpoint: e, listener: ln}, nil
}

func (e *Endpoint) Dial(ctx context.Context, addr net.Addr, tlsConfig *tls.Config, quicConfig *quic.Config) (quic.Connection, error) {
	conn, err := e.transport.Dial(ctx, addr, tlsConfig, e.config(quicConfig))
	if err != nil {
		return nil, err
	}
	return e.wrapConnection(conn, quic.PerspectiveClient), nil
}

func (e *Endpoint) ReadNonQUICPacket(ctx context.Context, b []byte) (int, net.Addr, error) {
	return e.transport.ReadNonQUICPacket(ctx, b)
}

// Close stops every listener and connection on the endpoint. The packet
// connection stays open.
func (e *Endpoint) Close() error {
	return e.transport.Close()
}

// Tracked returns the number of connections whose tracer is still live.
func (e *Endpoint) Tracked() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.tracers)
}

// config returns a copy of c whose tracer feeds this endpoint. A tracer
// already set on c keeps receiving every hook.
func (e *Endpoint) config(c *quic.Config) *quic.Config {
	var conf *quic.Config
	if c != nil {
		conf = c.Clone()
	} else {
		conf = &quic.Config{}
	}

	userTracer := conf.Tracer
	conf.Tracer = func(ctx context.Context, p logging.Perspective, odcid quicgo_quicgo.ConnectionID) *logging.ConnectionTracer {
		ct := e.newTracer(ctx).connectionTracer()
		if userTracer == nil {
			return ct
		}
		if ut := userTracer(ctx, p, odcid); ut != nil {
			return logging.NewMultiplexedConnectionTracer(ct, ut)
		}
		return ct
	}
	return conf
}

func (e *Endpoint) newTracer(ctx context.Context) *tracer {
	id, ok := ctx.Value(quicgo_quicgo.ConnectionTracingKey).(quicgo_quicgo.ConnectionTracingID)
	if !ok {
		return newTracer(e.logger, nil)
	}

	t := newTracer(e.logger.With("tracing_id", uint64(id)), func() {
		e.mu.Lock()
		delete(e.tracers, id)
		e.mu.Unlock()
	})

	e.mu.Lock()
	e.tracers[id] = t
	e.mu.Unlock()

	return t
}

func (e *Endpoint) wrapConnection(conn quicgo_quicgo.Connection, perspective quic.Perspective) *connWrapper {
	id, _ := conn.Context().Value(quicgo_quicgo.ConnectionTracingKey).(quicgo_quicgo.ConnectionTracingID)

	e.mu.Lock()
	t, ok := e.tracers[id]
	e.mu.Unlock()
	if !ok {
		// The connection closed before it was handed out and its tracer is
		// gone. Keep a detached one so SetVisitor stays valid.
		t = newTracer(e.logger, nil)
	}

	return &connWrapper{
		conn:        conn,
		id:          uint64(id),
		perspective: perspective,
		tracer:      t,
		clock:       e.clock,
		alarms:      e.alarms,
	}
}
