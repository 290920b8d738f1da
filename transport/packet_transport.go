package transport

import (
	"log/slog"
	"net"
	"sync/atomic"
)

// PacketWriter is the send half of a datagram socket.
type PacketWriter interface {
	WriteTo(b []byte, addr net.Addr) (int, error)
}

var _ PacketWriter = (*SharedSocket)(nil)

// PacketTransport writes to the peer address recorded for one connection.
// The peer address follows silent address migration through UpdatePeerAddress.
type PacketTransport struct {
	writer atomic.Pointer[writerBox]
	peer   atomic.Pointer[addrBox]

	// OnPeerAddressChange runs after UpdatePeerAddress stored a different address.
	OnPeerAddressChange func(old, new net.Addr)

	logger *slog.Logger
}

type writerBox struct{ w PacketWriter }

type addrBox struct{ addr net.Addr }

// NewPacketTransport returns a transport writing to peer through w.
func NewPacketTransport(w PacketWriter, peer net.Addr, logger *slog.Logger) *PacketTransport {
	t := &PacketTransport{logger: logger}
	t.Set(w, peer)
	return t
}

// Set replaces both the socket and the peer address.
func (t *PacketTransport) Set(w PacketWriter, peer net.Addr) {
	t.writer.Store(&writerBox{w: w})
	t.peer.Store(&addrBox{addr: peer})
}

// Write sends b to the current peer. It returns the number of bytes written,
// or -1 if the send failed.
func (t *PacketTransport) Write(b []byte) int {
	wb := t.writer.Load()
	peer := t.PeerAddress()
	if wb == nil || wb.w == nil || peer == nil {
		return -1
	}

	n, err := wb.w.WriteTo(b, peer)
	if err != nil {
		if t.logger != nil {
			t.logger.Debug("packet transport write failed",
				"peer", peer.String(),
				"length", len(b),
				"error", err,
			)
		}
		return -1
	}
	return n
}

// UpdatePeerAddress records addr as the destination of the next Write.
// It reports whether the address changed.
func (t *PacketTransport) UpdatePeerAddress(addr net.Addr) bool {
	if addr == nil {
		return false
	}

	old := t.PeerAddress()
	if old != nil && old.Network() == addr.Network() && old.String() == addr.String() {
		return false
	}
	t.peer.Store(&addrBox{addr: addr})

	if old != nil && t.logger != nil {
		t.logger.Debug("peer address migrated",
			"old", old.String(),
			"new", addr.String(),
		)
	}
	if t.OnPeerAddressChange != nil {
		t.OnPeerAddressChange(old, addr)
	}
	return true
}

// PeerAddress returns the recorded peer.
func (t *PacketTransport) PeerAddress() net.Addr {
	b := t.peer.Load()
	if b == nil {
		return nil
	}
	return b.addr
}
