package quic

import (
	"context"
	"crypto/tls"
	"net"
)

// Listener accepts incoming QUIC connections.
type Listener interface {
	// Accept waits for and returns the next incoming connection.
	Accept(ctx context.Context) (Connection, error)

	// Addr returns the listener's network address.
	Addr() net.Addr

	// Close stops accepting new connections. Accepted connections stay open.
	Close() error
}

// Endpoint is one engine instance bound to one UDP socket. Every connection
// it creates shares that socket.
type Endpoint interface {
	Listen(tlsConfig *tls.Config, quicConfig *Config) (Listener, error)
	Dial(ctx context.Context, addr net.Addr, tlsConfig *tls.Config, quicConfig *Config) (Connection, error)

	// ReadNonQUICPacket returns the next datagram on the socket that is not
	// a QUIC packet.
	ReadNonQUICPacket(ctx context.Context, b []byte) (int, net.Addr, error)

	Close() error
}
