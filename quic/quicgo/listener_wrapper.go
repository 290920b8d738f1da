package quicgo

import (
	"context"
	"net"

	"github.com/okdaichi/posixquic/quic"
	quicgo_quicgo "github.com/quic-go/quic-go"
)

var _ quic.Listener = (*listenerWrapper)(nil)

type listenerWrapper struct {
	endpoint *Endpoint
	listener *quicgo_quicgo.Listener
}

func (wrapper *listenerWrapper) Accept(ctx context.Context) (quic.Connection, error) {
	conn, err := wrapper.listener.Accept(ctx)
	if err != nil {
		return nil, err
	}
	return wrapper.endpoint.wrapConnection(conn, quic.PerspectiveServer), nil
}

func (wrapper *listenerWrapper) Addr() net.Addr {
	return wrapper.listener.Addr()
}

func (wrapper *listenerWrapper) Close() error {
	return wrapper.listener.Close()
}
