package quicgo

import (
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/okdaichi/posixquic/quic"
	"github.com/quic-go/quic-go/logging"
)

// tracer turns the quic-go connection tracer hooks of one connection into
// quic events for the attached visitor. quic-go calls the hooks from the
// connection's run loop, so they never run concurrently for one connection.
type tracer struct {
	logger *slog.Logger

	visitor atomic.Pointer[visitorBox]

	// Send classification
	ptoCount    atomic.Uint32
	pendingLost atomic.Int64

	lastSmoothedRTT time.Duration

	// The close is kept for a visitor attached after it happened.
	closeEvent     atomic.Pointer[quic.ConnectionClosed]
	closeDelivered atomic.Bool

	onClose func()
}

type visitorBox struct {
	v quic.Visitor
}

func newTracer(logger *slog.Logger, onClose func()) *tracer {
	return &tracer{
		logger:  logger,
		onClose: onClose,
	}
}

func (t *tracer) attach(v quic.Visitor) {
	if v == nil {
		t.visitor.Store(nil)
		return
	}
	t.visitor.Store(&visitorBox{v: v})

	if t.closeEvent.Load() != nil {
		t.deliverClose()
	}
}

// deliverClose hands the close to the visitor exactly once.
func (t *tracer) deliverClose() {
	e := t.closeEvent.Load()
	if e == nil || t.visitor.Load() == nil {
		return
	}
	if !t.closeDelivered.CompareAndSwap(false, true) {
		return
	}
	t.emit(*e)
}

func (t *tracer) emit(e quic.Event) {
	box := t.visitor.Load()
	if box == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("visitor panicked",
				"event", e.Kind().String(),
				"panic", fmt.Sprint(r),
			)
		}
	}()

	box.v.OnEvent(e)
}

func (t *tracer) connectionTracer() *logging.ConnectionTracer {
	return &logging.ConnectionTracer{
		StartedConnection: func(local, remote net.Addr, _, _ logging.ConnectionID) {
			t.emit(quic.ConnectionStarted{Local: local, Remote: remote})
		},
		NegotiatedVersion: func(chosen logging.Version, _, _ []logging.Version) {
			t.emit(quic.VersionNegotiated{Version: chosen})
		},
		ClosedConnection: t.closedConnection,
		SentTransportParameters: func(*logging.TransportParameters) {
			t.emit(quic.ConnectionStateExchanged{Direction: quic.StateSent})
		},
		ReceivedTransportParameters: func(params *logging.TransportParameters) {
			t.emit(quic.ConnectionStateExchanged{Direction: quic.StateReceived})
			if params != nil {
				t.emit(quic.ConfigApplied{MaxIdleTimeout: params.MaxIdleTimeout})
			}
		},
		RestoredTransportParameters: func(*logging.TransportParameters) {
			t.emit(quic.ConnectionStateExchanged{Direction: quic.StateRestored})
		},
		SentLongHeaderPacket: func(hdr *logging.ExtendedHeader, size logging.ByteCount, _ logging.ECN, ack *logging.AckFrame, frames []logging.Frame) {
			t.sentPacket(quic.PacketNumber(hdr.PacketNumber), int64(size), ack, frames)
		},
		SentShortHeaderPacket: func(hdr *logging.ShortHeader, size logging.ByteCount, _ logging.ECN, ack *logging.AckFrame, frames []logging.Frame) {
			t.sentPacket(quic.PacketNumber(hdr.PacketNumber), int64(size), ack, frames)
		},
		ReceivedVersionNegotiationPacket: func(_, _ logging.ArbitraryLenConnectionID, versions []logging.Version) {
			t.emit(quic.VersionNegotiationPacket{Versions: versions})
		},
		ReceivedLongHeaderPacket: func(hdr *logging.ExtendedHeader, size logging.ByteCount, _ logging.ECN, frames []logging.Frame) {
			t.receivedPacket(quic.PacketNumber(hdr.PacketNumber), true, int64(size), frames)
		},
		ReceivedShortHeaderPacket: func(hdr *logging.ShortHeader, size logging.ByteCount, _ logging.ECN, frames []logging.Frame) {
			t.receivedPacket(quic.PacketNumber(hdr.PacketNumber), false, int64(size), frames)
		},
		UpdatedMetrics: func(rttStats *logging.RTTStats, _, _ logging.ByteCount, _ int) {
			if rttStats == nil {
				return
			}
			smoothed := rttStats.SmoothedRTT()
			if smoothed == t.lastSmoothedRTT {
				return
			}
			t.lastSmoothedRTT = smoothed
			t.emit(quic.RTTChanged{SmoothedRTT: smoothed, LatestRTT: rttStats.LatestRTT()})
		},
		UpdatedPTOCount: func(value uint32) {
			t.ptoCount.Store(value)
		},
		LostPacket: func(_ logging.EncryptionLevel, pn logging.PacketNumber, _ logging.PacketLossReason) {
			t.pendingLost.Add(1)
			t.emit(quic.PacketLost{PacketNumber: quic.PacketNumber(pn)})
		},
		Close: func() {
			if t.onClose != nil {
				t.onClose()
			}
		},
	}
}

func (t *tracer) sentPacket(pn quic.PacketNumber, size int64, ack *logging.AckFrame, frames []logging.Frame) {
	types := make([]quic.FrameType, 0, len(frames)+1)
	if ack != nil {
		types = append(types, quic.FrameAck)
	}

	var ackEliciting, ping bool
	for _, f := range frames {
		ft, _, _ := frameInfo(f)
		types = append(types, ft)
		if ft.AckEliciting() {
			ackEliciting = true
		}
		if ft == quic.FramePing {
			ping = true
		}
	}

	t.emit(quic.PacketSent{
		PacketNumber: pn,
		Size:         size,
		Transmission: t.classify(ackEliciting),
		AckEliciting: ackEliciting,
		Frames:       types,
	})

	if ping {
		t.emit(quic.PingSent{PacketNumber: pn})
	}
}

// classify guesses why a packet was sent. quic-go does not report
// retransmissions directly: packets sent while a probe timeout is pending are
// probes, and the next ack-eliciting packets after a loss carry the lost data.
func (t *tracer) classify(ackEliciting bool) quic.TransmissionType {
	if !ackEliciting {
		return quic.NotRetransmission
	}
	if t.ptoCount.Load() > 0 {
		return quic.ProbeRetransmission
	}
	for {
		n := t.pendingLost.Load()
		if n <= 0 {
			return quic.NotRetransmission
		}
		if t.pendingLost.CompareAndSwap(n, n-1) {
			return quic.LossRetransmission
		}
	}
}

func (t *tracer) receivedPacket(pn quic.PacketNumber, long bool, size int64, frames []logging.Frame) {
	t.emit(quic.PacketReceived{Size: size})
	t.emit(quic.PacketHeader{PacketNumber: pn, LongHeader: long})
	for _, f := range frames {
		ft, id, length := frameInfo(f)
		t.emit(quic.FrameParsed{Frame: ft, StreamID: id, Length: length})
	}
}

func (t *tracer) closedConnection(err error) {
	cause, remote := closeCause(err)
	if isStatelessReset(err) {
		t.emit(quic.PublicReset{})
	}
	t.closeEvent.Store(&quic.ConnectionClosed{Cause: cause, Err: err, Remote: remote})
	t.deliverClose()
}

func frameInfo(f logging.Frame) (ft quic.FrameType, id quic.StreamID, length int64) {
	switch f := f.(type) {
	case *logging.AckFrame:
		return quic.FrameAck, 0, 0
	case *logging.PingFrame:
		return quic.FramePing, 0, 0
	case *logging.ResetStreamFrame:
		return quic.FrameResetStream, f.StreamID, 0
	case *logging.StopSendingFrame:
		return quic.FrameStopSending, f.StreamID, 0
	case *logging.CryptoFrame:
		return quic.FrameCrypto, 0, int64(f.Length)
	case *logging.NewTokenFrame:
		return quic.FrameNewToken, 0, 0
	case *logging.StreamFrame:
		return quic.FrameStream, f.StreamID, int64(f.Length)
	case *logging.MaxDataFrame:
		return quic.FrameMaxData, 0, 0
	case *logging.MaxStreamDataFrame:
		return quic.FrameMaxStreamData, f.StreamID, 0
	case *logging.MaxStreamsFrame:
		return quic.FrameMaxStreams, 0, 0
	case *logging.DataBlockedFrame:
		return quic.FrameDataBlocked, 0, 0
	case *logging.StreamDataBlockedFrame:
		return quic.FrameStreamDataBlocked, f.StreamID, 0
	case *logging.StreamsBlockedFrame:
		return quic.FrameStreamsBlocked, 0, 0
	case *logging.NewConnectionIDFrame:
		return quic.FrameNewConnectionID, 0, 0
	case *logging.RetireConnectionIDFrame:
		return quic.FrameRetireConnectionID, 0, 0
	case *logging.PathChallengeFrame:
		return quic.FramePathChallenge, 0, 0
	case *logging.PathResponseFrame:
		return quic.FramePathResponse, 0, 0
	case *logging.ConnectionCloseFrame:
		return quic.FrameConnectionClose, 0, 0
	case *logging.HandshakeDoneFrame:
		return quic.FrameHandshakeDone, 0, 0
	case *logging.DatagramFrame:
		return quic.FrameDatagram, 0, int64(f.Length)
	default:
		return quic.FrameUnknown, 0, 0
	}
}
