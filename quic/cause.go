package quic

import "strconv"

// CloseCause tells why a connection closed. It decides the error code sent
// in the CONNECTION_CLOSE frame.
type CloseCause int

const (
	// CauseExplicit is a close requested by the application.
	CauseExplicit CloseCause = iota
	// CauseAckTimeout is a close by the no-ack liveness check.
	CauseAckTimeout
	// CauseIdleTimeout is a close by the engine's idle timer.
	CauseIdleTimeout
	// CausePeerClose is a close initiated by the peer.
	CausePeerClose
	// CauseProtocolError is a transport error detected by either side.
	CauseProtocolError
)

func (c CloseCause) String() string {
	switch c {
	case CauseExplicit:
		return "explicit"
	case CauseAckTimeout:
		return "ack_timeout"
	case CauseIdleTimeout:
		return "idle_timeout"
	case CausePeerClose:
		return "peer_close"
	case CauseProtocolError:
		return "protocol_error"
	default:
		return "cause(" + strconv.Itoa(int(c)) + ")"
	}
}

// Application error codes carried by locally initiated closes.
const (
	ExplicitCloseErrorCode ApplicationErrorCode = 0x0
	AckTimeoutErrorCode    ApplicationErrorCode = 0x51
	IdleTimeoutErrorCode   ApplicationErrorCode = 0x52
	ProtocolErrorCode      ApplicationErrorCode = 0x53
)

// ApplicationErrorCode returns the code sent to the peer when closing locally
// for this cause.
func (c CloseCause) ApplicationErrorCode() ApplicationErrorCode {
	switch c {
	case CauseAckTimeout:
		return AckTimeoutErrorCode
	case CauseIdleTimeout:
		return IdleTimeoutErrorCode
	case CauseProtocolError:
		return ProtocolErrorCode
	default:
		return ExplicitCloseErrorCode
	}
}

// CauseFromApplicationErrorCode maps a code from a locally sent
// CONNECTION_CLOSE frame back to its cause.
func CauseFromApplicationErrorCode(code ApplicationErrorCode) CloseCause {
	switch code {
	case AckTimeoutErrorCode:
		return CauseAckTimeout
	case IdleTimeoutErrorCode:
		return CauseIdleTimeout
	case ProtocolErrorCode:
		return CauseProtocolError
	default:
		return CauseExplicit
	}
}

// CloseBehavior tells the engine how to close.
type CloseBehavior int

const (
	// CloseBehaviorSilent drops the connection state without sending anything.
	CloseBehaviorSilent CloseBehavior = iota
	// CloseBehaviorSendClose sends CONNECTION_CLOSE and waits for the
	// peer's acknowledgement within the draining period.
	CloseBehaviorSendClose
	// CloseBehaviorNoAck sends CONNECTION_CLOSE without waiting for the peer.
	// Used when the peer is already known to be unresponsive.
	CloseBehaviorNoAck
)

func (b CloseBehavior) String() string {
	switch b {
	case CloseBehaviorSilent:
		return "silent"
	case CloseBehaviorSendClose:
		return "send_close"
	case CloseBehaviorNoAck:
		return "send_close_no_ack"
	default:
		return "behavior(" + strconv.Itoa(int(b)) + ")"
	}
}

// TransmissionType classifies a sent packet.
type TransmissionType int

const (
	NotRetransmission TransmissionType = iota
	// LossRetransmission carries frames of a packet declared lost.
	LossRetransmission
	// ProbeRetransmission is sent when the probe timeout fired.
	ProbeRetransmission
)

func (t TransmissionType) String() string {
	switch t {
	case NotRetransmission:
		return "not_retransmission"
	case LossRetransmission:
		return "loss_retransmission"
	case ProbeRetransmission:
		return "probe_retransmission"
	default:
		return "transmission(" + strconv.Itoa(int(t)) + ")"
	}
}

// IsRetransmission reports whether t is any kind of retransmission.
func (t TransmissionType) IsRetransmission() bool {
	return t != NotRetransmission
}
