// Package visitor supervises the liveness of one connection.
//
// A Visitor watches every protocol event of its connection. It records when a
// packet that needs an acknowledgement went out while nothing else was
// outstanding, and when the last acknowledgement arrived. One alarm checks
// the gap between the two and closes the connection with CauseAckTimeout when
// the peer stayed silent for longer than the AckTimeoutSecs option.
package visitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/okdaichi/posixquic/diag"
	"github.com/okdaichi/posixquic/metrics"
	"github.com/okdaichi/posixquic/quic"
	"github.com/okdaichi/posixquic/sockopt"
	"github.com/okdaichi/posixquic/transport"
)

// Parent is the descriptor entry owning the connection.
type Parent interface {
	Fd() int
	// OnClosed runs once when the engine reports the connection closed.
	OnClosed(cause quic.CloseCause, err error)
}

var _ quic.Visitor = (*Visitor)(nil)

// Visitor is bound to exactly one connection.
type Visitor struct {
	logger  *slog.Logger
	metrics *metrics.Metrics

	conn      quic.Connection
	options   *sockopt.Options
	parent    Parent
	transport *transport.PacketTransport
	clock     quic.Clock
	alarm     quic.Alarm
	ctx       context.Context

	mu           sync.Mutex
	lastSendTime time.Time
	lastAckTime  time.Time
	closed       bool
}

// New returns an unbound visitor.
func New(logger *slog.Logger, m *metrics.Metrics) *Visitor {
	if logger == nil {
		logger = diag.DiscardLogger()
	}
	return &Visitor{
		logger:  logger,
		metrics: m,
		ctx:     context.Background(),
	}
}

// Bind wires the visitor to a connection and starts receiving its events.
// The alarm is created here and lives as long as the visitor.
func (v *Visitor) Bind(conn quic.Connection, options *sockopt.Options, parent Parent, tr *transport.PacketTransport) {
	v.conn = conn
	v.options = options
	v.parent = parent
	v.transport = tr
	v.clock = conn.Clock()
	v.ctx = diag.WithConnectionID(context.Background(), conn.ID())
	if parent != nil {
		v.logger = v.logger.With("fd", parent.Fd())
	}
	v.alarm = conn.AlarmFactory().CreateAlarm(noAckDelegate{v: v})

	conn.SetVisitor(v)
}

// OnEvent handles one protocol event. It never panics.
func (v *Visitor) OnEvent(ev quic.Event) {
	defer v.recover(ev.Kind().String())

	switch e := ev.(type) {
	case quic.PacketSent:
		if e.Transmission == quic.NotRetransmission && e.AckEliciting {
			v.onPacketSent()
		}
		v.logger.DebugContext(v.ctx, "packet sent",
			"packet_number", int64(e.PacketNumber),
			"size", e.Size,
			"transmission", e.Transmission.String(),
			"ack_eliciting", e.AckEliciting,
			"frames", e.Frames,
		)
	case quic.FrameParsed:
		switch e.Frame {
		case quic.FrameAck:
			v.onAck()
		case quic.FrameStream:
			v.refreshPeerAddress()
		}
		v.logger.DebugContext(v.ctx, "frame parsed",
			"frame", e.Frame.String(),
			"stream_id", int64(e.StreamID),
			"length", e.Length,
		)
	case quic.ConnectionClosed:
		v.onConnectionClosed(e)
	default:
		v.logger.DebugContext(v.ctx, "protocol event", "event", ev.Kind().String())
	}
}

func (v *Visitor) onPacketSent() {
	now := v.clock.Now()

	v.mu.Lock()
	opened := !v.lastSendTime.After(v.lastAckTime)
	if opened {
		v.lastSendTime = now
	}
	v.mu.Unlock()

	if opened && !v.alarm.IsSet() {
		v.SetNoAckAlarm()
	}
}

func (v *Visitor) onAck() {
	now := v.clock.Now()

	v.mu.Lock()
	v.lastAckTime = now
	v.mu.Unlock()

	if !v.alarm.IsSet() {
		v.SetNoAckAlarm()
	}
}

func (v *Visitor) refreshPeerAddress() {
	if v.transport == nil {
		return
	}
	if v.transport.UpdatePeerAddress(v.conn.PeerAddress()) {
		v.metrics.PeerAddressUpdated()
	}
}

func (v *Visitor) onConnectionClosed(e quic.ConnectionClosed) {
	v.mu.Lock()
	v.closed = true
	v.mu.Unlock()

	v.CancelNoAckAlarm()
	v.metrics.ConnectionClosed(e.Cause.String())

	v.logger.DebugContext(v.ctx, "connection closed",
		"cause", e.Cause.String(),
		"remote", e.Remote,
		"error", e.Err,
	)

	if v.parent != nil {
		v.parent.OnClosed(e.Cause, e.Err)
	}
}

// CheckForNoAckTimeout closes the connection if a packet has waited for its
// acknowledgement longer than the ack timeout, and reschedules the alarm
// otherwise. It runs only from the alarm.
func (v *Visitor) CheckForNoAckTimeout() {
	timeout := v.ackTimeout()
	if timeout == 0 {
		return
	}

	now := v.clock.Now()

	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	lastSend, lastAck := v.lastSendTime, v.lastAckTime
	expired := lastSend.After(lastAck) && now.Sub(lastSend) > timeout
	if expired {
		v.closed = true
	}
	v.mu.Unlock()

	if !expired {
		v.SetNoAckAlarm()
		return
	}

	v.logger.InfoContext(v.ctx, "no ack timeout, closing connection",
		"now", now.UnixMilli(),
		"last_ack", lastAck.UnixMilli(),
		"last_send", lastSend.UnixMilli(),
		"timeout", timeout,
	)
	v.metrics.AckTimeout()

	// The close event reaches OnEvent from the engine; it must not find mu held.
	if err := v.conn.Close(quic.CauseAckTimeout, quic.CloseBehaviorNoAck); err != nil {
		v.logger.DebugContext(v.ctx, "closing connection failed", "error", err)
	}
}

// SetNoAckAlarm schedules the alarm for the current waiting window, or one
// timeout from now when nothing is outstanding. It does nothing while the
// ack timeout is 0.
func (v *Visitor) SetNoAckAlarm() {
	if v.alarm == nil {
		return
	}
	timeout := v.ackTimeout()
	if timeout == 0 {
		return
	}

	now := v.clock.Now()

	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	base := now
	if v.lastSendTime.After(v.lastAckTime) {
		base = v.lastSendTime
	}
	v.mu.Unlock()

	v.alarm.Update(base.Add(timeout), 0)
}

// CancelNoAckAlarm stops the alarm. The owner calls it before the connection
// entry is torn down.
func (v *Visitor) CancelNoAckAlarm() {
	if v.alarm == nil {
		return
	}
	v.alarm.Cancel()
}

// AlarmDeadline returns the pending alarm deadline, or the zero time.
func (v *Visitor) AlarmDeadline() time.Time {
	if v.alarm == nil {
		return time.Time{}
	}
	return v.alarm.Deadline()
}

// Timestamps returns the last window-opening send and the last ack.
func (v *Visitor) Timestamps() (lastSend, lastAck time.Time) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.lastSendTime, v.lastAckTime
}

func (v *Visitor) ackTimeout() time.Duration {
	if v.options == nil {
		return 0
	}
	return v.options.Seconds(sockopt.AckTimeoutSecs)
}

func (v *Visitor) recover(where string) {
	if r := recover(); r != nil {
		v.metrics.CallbackPanic()
		v.logger.ErrorContext(v.ctx, "recovered from panic in engine callback",
			"callback", where,
			"panic", fmt.Sprint(r),
		)
	}
}

type noAckDelegate struct {
	v *Visitor
}

func (d noAckDelegate) OnAlarm() {
	defer d.v.recover("no_ack_alarm")

	d.v.metrics.AlarmFired()
	d.v.CheckForNoAckTimeout()
}
