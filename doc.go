// Package posixquic exposes QUIC connections and their streams as integer
// descriptors that are driven like non-blocking sockets.
//
// A System owns every descriptor. Listen and Dial create connection-level
// descriptors, OpenStream and AcceptStream create stream-level ones, and an
// epoll instance created with EpollCreate reports which of them are readable,
// writable or failed. Calls never block on the network: when nothing can be
// done they fail with unix.EAGAIN, like a socket in non-blocking mode.
//
// Every connection is supervised for liveness. When the AckTimeoutSecs option
// is set and a sent packet stays unacknowledged for that long, the connection
// is closed and CloseCause reports quic.CauseAckTimeout.
package posixquic
