package quic

import (
	"context"
	"io"
	"time"

	"github.com/quic-go/quic-go"
)

// StreamID identifies a stream within a connection.
type StreamID = quic.StreamID

// Stream is a bidirectional stream. A stream descriptor wraps exactly one.
type Stream interface {
	SendStream
	ReceiveStream

	// SetDeadline sets the read and write deadlines.
	SetDeadline(time.Time) error
}

// SendStream is the send direction of a stream.
type SendStream interface {
	io.Writer
	io.Closer // FIN

	StreamID() StreamID

	// CancelWrite resets the send direction (RESET_STREAM).
	CancelWrite(StreamErrorCode)

	SetWriteDeadline(time.Time) error

	// Context is canceled once the send direction is done.
	Context() context.Context
}

// ReceiveStream is the receive direction of a stream.
type ReceiveStream interface {
	io.Reader

	StreamID() StreamID

	// CancelRead asks the peer to stop sending (STOP_SENDING).
	CancelRead(StreamErrorCode)

	SetReadDeadline(time.Time) error
}
