package quic

import (
	"net"
	"strconv"
	"time"
)

// Visitor receives every protocol event of one connection. The engine calls
// OnEvent serially per connection. Implementations switch on the concrete
// event type and ignore the kinds they have no use for.
type Visitor interface {
	OnEvent(Event)
}

// VisitorFunc adapts a function to Visitor.
type VisitorFunc func(Event)

func (f VisitorFunc) OnEvent(e Event) { f(e) }

// EventKind names an event for logs.
type EventKind int

const (
	EventConnectionStarted EventKind = iota
	EventPacketSent
	EventPingSent
	EventPacketReceived
	EventPacketHeader
	EventFrameParsed
	EventPacketLost
	EventConnectionClosed
	EventVersionNegotiated
	EventVersionNegotiationPacket
	EventPublicReset
	EventRTTChanged
	EventConnectionStateExchanged
	EventConfigApplied
)

var eventKindNames = [...]string{
	EventConnectionStarted:        "connection_started",
	EventPacketSent:               "packet_sent",
	EventPingSent:                 "ping_sent",
	EventPacketReceived:           "packet_received",
	EventPacketHeader:             "packet_header",
	EventFrameParsed:              "frame_parsed",
	EventPacketLost:               "packet_lost",
	EventConnectionClosed:         "connection_closed",
	EventVersionNegotiated:        "version_negotiated",
	EventVersionNegotiationPacket: "version_negotiation_packet",
	EventPublicReset:              "public_reset",
	EventRTTChanged:               "rtt_changed",
	EventConnectionStateExchanged: "connection_state_exchanged",
	EventConfigApplied:            "config_applied",
}

func (k EventKind) String() string {
	if k >= 0 && int(k) < len(eventKindNames) {
		return eventKindNames[k]
	}
	return "event(" + strconv.Itoa(int(k)) + ")"
}

// Event is one protocol event.
type Event interface {
	Kind() EventKind
}

// PacketNumber is a QUIC packet number.
type PacketNumber int64

// ConnectionStarted is emitted once the engine has created the connection.
type ConnectionStarted struct {
	Local  net.Addr
	Remote net.Addr
}

func (ConnectionStarted) Kind() EventKind { return EventConnectionStarted }

// PacketSent is emitted for every packet the connection sends.
type PacketSent struct {
	PacketNumber PacketNumber
	Size         int64
	Transmission TransmissionType
	// AckEliciting is false for packets that carry only ACK, PADDING or
	// CONNECTION_CLOSE frames.
	AckEliciting bool
	Frames       []FrameType
}

func (PacketSent) Kind() EventKind { return EventPacketSent }

// PingSent is emitted for a sent packet carrying a PING frame.
type PingSent struct {
	PacketNumber PacketNumber
}

func (PingSent) Kind() EventKind { return EventPingSent }

// PacketReceived is emitted for every packet that was decrypted.
type PacketReceived struct {
	Size int64
}

func (PacketReceived) Kind() EventKind { return EventPacketReceived }

// PacketHeader is emitted after the header of a received packet is parsed.
type PacketHeader struct {
	PacketNumber PacketNumber
	LongHeader   bool
}

func (PacketHeader) Kind() EventKind { return EventPacketHeader }

// FrameParsed is emitted for every frame of a received packet.
type FrameParsed struct {
	Frame FrameType
	// StreamID is set for STREAM frames.
	StreamID StreamID
	Length   int64
}

func (FrameParsed) Kind() EventKind { return EventFrameParsed }

// PacketLost is emitted when loss detection declares a packet lost.
type PacketLost struct {
	PacketNumber PacketNumber
}

func (PacketLost) Kind() EventKind { return EventPacketLost }

// ConnectionClosed is emitted once when the connection ends for any reason.
type ConnectionClosed struct {
	Cause  CloseCause
	Err    error
	Remote bool
}

func (ConnectionClosed) Kind() EventKind { return EventConnectionClosed }

// VersionNegotiated is emitted when the version is settled.
type VersionNegotiated struct {
	Version Version
}

func (VersionNegotiated) Kind() EventKind { return EventVersionNegotiated }

// VersionNegotiationPacket is emitted when a Version Negotiation packet is
// received.
type VersionNegotiationPacket struct {
	Versions []Version
}

func (VersionNegotiationPacket) Kind() EventKind { return EventVersionNegotiationPacket }

// PublicReset is emitted when the peer reset the connection statelessly.
type PublicReset struct{}

func (PublicReset) Kind() EventKind { return EventPublicReset }

// RTTChanged is emitted when the RTT estimate changes.
type RTTChanged struct {
	SmoothedRTT time.Duration
	LatestRTT   time.Duration
}

func (RTTChanged) Kind() EventKind { return EventRTTChanged }

// StateExchange tells which way transport parameters moved.
type StateExchange int

const (
	StateSent StateExchange = iota
	StateReceived
	StateRestored
)

func (s StateExchange) String() string {
	switch s {
	case StateSent:
		return "sent"
	case StateReceived:
		return "received"
	case StateRestored:
		return "restored"
	default:
		return "exchange(" + strconv.Itoa(int(s)) + ")"
	}
}

// ConnectionStateExchanged is emitted when transport parameters are sent,
// received or restored from a session ticket.
type ConnectionStateExchanged struct {
	Direction StateExchange
}

func (ConnectionStateExchanged) Kind() EventKind { return EventConnectionStateExchanged }

// ConfigApplied is emitted when the peer's transport parameters take effect.
type ConfigApplied struct {
	MaxIdleTimeout time.Duration
}

func (ConfigApplied) Kind() EventKind { return EventConfigApplied }

// FrameType is the kind of a QUIC frame.
type FrameType int

const (
	FrameUnknown FrameType = iota
	FramePadding
	FramePing
	FrameAck
	FrameResetStream
	FrameStopSending
	FrameCrypto
	FrameNewToken
	FrameStream
	FrameMaxData
	FrameMaxStreamData
	FrameMaxStreams
	FrameDataBlocked
	FrameStreamDataBlocked
	FrameStreamsBlocked
	FrameNewConnectionID
	FrameRetireConnectionID
	FramePathChallenge
	FramePathResponse
	FrameConnectionClose
	FrameHandshakeDone
	FrameDatagram
)

var frameTypeNames = [...]string{
	FrameUnknown:            "unknown",
	FramePadding:            "padding",
	FramePing:               "ping",
	FrameAck:                "ack",
	FrameResetStream:        "reset_stream",
	FrameStopSending:        "stop_sending",
	FrameCrypto:             "crypto",
	FrameNewToken:           "new_token",
	FrameStream:             "stream",
	FrameMaxData:            "max_data",
	FrameMaxStreamData:      "max_stream_data",
	FrameMaxStreams:         "max_streams",
	FrameDataBlocked:        "data_blocked",
	FrameStreamDataBlocked:  "stream_data_blocked",
	FrameStreamsBlocked:     "streams_blocked",
	FrameNewConnectionID:    "new_connection_id",
	FrameRetireConnectionID: "retire_connection_id",
	FramePathChallenge:      "path_challenge",
	FramePathResponse:       "path_response",
	FrameConnectionClose:    "connection_close",
	FrameHandshakeDone:      "handshake_done",
	FrameDatagram:           "datagram",
}

func (t FrameType) String() string {
	if t >= 0 && int(t) < len(frameTypeNames) {
		return frameTypeNames[t]
	}
	return "frame(" + strconv.Itoa(int(t)) + ")"
}

// AckEliciting reports whether a packet holding this frame must be
// acknowledged by the peer.
func (t FrameType) AckEliciting() bool {
	switch t {
	case FrameAck, FramePadding, FrameConnectionClose:
		return false
	default:
		return true
	}
}
