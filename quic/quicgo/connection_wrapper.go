package quicgo

import (
	"context"
	"net"

	"github.com/okdaichi/posixquic/quic"
	quicgo_quicgo "github.com/quic-go/quic-go"
)

var _ quic.Connection = (*connWrapper)(nil)

type connWrapper struct {
	conn        quicgo_quicgo.Connection
	id          uint64
	perspective quic.Perspective
	tracer      *tracer
	clock       quic.Clock
	alarms      quic.AlarmFactory
}

func (wrapper *connWrapper) ID() uint64 {
	return wrapper.id
}

func (wrapper *connWrapper) Perspective() quic.Perspective {
	return wrapper.perspective
}

func (wrapper *connWrapper) PeerAddress() net.Addr {
	return wrapper.conn.RemoteAddr()
}

func (wrapper *connWrapper) LocalAddr() net.Addr {
	return wrapper.conn.LocalAddr()
}

func (wrapper *connWrapper) Context() context.Context {
	return wrapper.conn.Context()
}

// Close sends CONNECTION_CLOSE carrying the cause's application error code.
// quic-go always sends the close frame and never waits for the peer, so
// every behavior maps to the same call.
func (wrapper *connWrapper) Close(cause quic.CloseCause, behavior quic.CloseBehavior) error {
	return wrapper.conn.CloseWithError(cause.ApplicationErrorCode(), cause.String())
}

func (wrapper *connWrapper) AlarmFactory() quic.AlarmFactory {
	return wrapper.alarms
}

func (wrapper *connWrapper) Clock() quic.Clock {
	return wrapper.clock
}

func (wrapper *connWrapper) AcceptStream(ctx context.Context) (quic.Stream, error) {
	stream, err := wrapper.conn.AcceptStream(ctx)
	if err != nil {
		return nil, err
	}
	return stream, nil
}

func (wrapper *connWrapper) OpenStream() (quic.Stream, error) {
	stream, err := wrapper.conn.OpenStream()
	if err != nil {
		return nil, err
	}
	return stream, nil
}

func (wrapper *connWrapper) SetVisitor(v quic.Visitor) {
	wrapper.tracer.attach(v)
}
