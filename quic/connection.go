package quic

import (
	"context"
	"net"

	"github.com/quic-go/quic-go/logging"
)

// Perspective tells whether the local endpoint is the client or the server.
type Perspective = logging.Perspective

const (
	PerspectiveServer Perspective = logging.PerspectiveServer
	PerspectiveClient Perspective = logging.PerspectiveClient
)

// Connection is the engine handle of one QUIC connection.
type Connection interface {
	// ID identifies the connection for diagnostics. It is unique per engine.
	ID() uint64

	// Perspective reports whether this side dialed or accepted.
	Perspective() Perspective

	// PeerAddress returns the peer's current address. It changes when the
	// peer migrates.
	PeerAddress() net.Addr

	// LocalAddr returns the local network address.
	LocalAddr() net.Addr

	// Context is canceled when the connection is closed.
	Context() context.Context

	// Close closes the connection. The cause ends up in the CONNECTION_CLOSE
	// frame sent to the peer.
	Close(cause CloseCause, behavior CloseBehavior) error

	// AlarmFactory creates alarms on the engine's timer facility.
	AlarmFactory() AlarmFactory

	// Clock is the engine clock alarms are scheduled against.
	Clock() Clock

	// AcceptStream waits for the next bidirectional stream opened by the peer.
	AcceptStream(ctx context.Context) (Stream, error)

	// OpenStream opens a bidirectional stream without blocking.
	OpenStream() (Stream, error)

	// SetVisitor attaches the receiver of this connection's protocol events.
	// Events that happened before it is attached are not replayed, except
	// ConnectionClosed.
	SetVisitor(v Visitor)
}
