package quic

import (
	"github.com/quic-go/quic-go"
)

// Errors a connection can be closed with. They are classified into a
// CloseCause before they reach a Visitor.
type (
	TransportError          = quic.TransportError
	ApplicationError        = quic.ApplicationError
	VersionNegotiationError = quic.VersionNegotiationError
	StatelessResetError     = quic.StatelessResetError
	IdleTimeoutError        = quic.IdleTimeoutError
	HandshakeTimeoutError   = quic.HandshakeTimeoutError
)

type (
	TransportErrorCode   = quic.TransportErrorCode
	ApplicationErrorCode = quic.ApplicationErrorCode
	StreamErrorCode      = quic.StreamErrorCode
)

// Transport error codes this package inspects.
const (
	NoError           TransportErrorCode = quic.NoError
	InternalError     TransportErrorCode = quic.InternalError
	ConnectionRefused TransportErrorCode = quic.ConnectionRefused
	ProtocolViolation TransportErrorCode = quic.ProtocolViolation
)

// StreamError is returned by stream reads and writes after either side
// canceled the stream.
type StreamError = quic.StreamError

// ErrServerClosed is returned by Listener.Accept after Close.
var ErrServerClosed = quic.ErrServerClosed
