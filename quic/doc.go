// Package quic defines the contract between the descriptor layer and the
// QUIC protocol engine that actually speaks QUIC.
//
// The descriptor layer never touches packets. It consumes:
//
//   - Connection: an engine connection that can be closed with a CloseCause,
//     reports its peer address, hands out streams and creates alarms
//   - Listener: accepts incoming connections
//   - Stream, SendStream, ReceiveStream: byte streams inside a connection
//   - AlarmFactory and Alarm: a reschedulable deadline on the engine's timers
//
// and produces:
//
//   - Visitor: receives every protocol event of one connection as an Event
//   - AlarmDelegate: runs when an alarm's deadline passes
//
// # Events
//
// Protocol events are delivered through a single method, Visitor.OnEvent,
// with one concrete type per event kind:
//
//	func (v *myVisitor) OnEvent(ev quic.Event) {
//	    switch e := ev.(type) {
//	    case quic.PacketSent:
//	        // ...
//	    case quic.FrameParsed:
//	        if e.Frame == quic.FrameAck {
//	            // ...
//	        }
//	    }
//	}
//
// New event kinds therefore never break existing visitors.
//
// # Implementations
//
// The quicgo subpackage binds the contract to github.com/quic-go/quic-go.
//
// For more information about QUIC, see RFC 9000:
// https://datatracker.ietf.org/doc/html/rfc9000
package quic
