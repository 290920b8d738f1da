package posixquic

import (
	"context"
	"net"

	"github.com/okdaichi/posixquic/entry"
	"github.com/okdaichi/posixquic/quic"
	"golang.org/x/sys/unix"
)

// SendPacket sends b as a raw datagram to the current peer of connection fd,
// on the connection's UDP socket. It returns -1 if the send failed.
func (s *System) SendPacket(fd int, b []byte) int {
	c, err := s.connection(fd)
	if err != nil {
		return -1
	}
	n := c.Transport().Write(b)
	if n < 0 {
		s.metrics.TransportWriteFailed()
	}
	return n
}

// ReadPacket reads the next datagram on the socket of fd that is not a QUIC
// packet.
func (s *System) ReadPacket(ctx context.Context, fd int, b []byte) (int, net.Addr, error) {
	e, err := s.lookup(fd)
	if err != nil {
		return 0, nil, err
	}

	var endpoint quic.Endpoint
	switch e := e.(type) {
	case *entry.ConnectionEntry:
		endpoint = e.Endpoint()
	case *entry.ListenerEntry:
		endpoint = e.Endpoint()
	}
	if endpoint == nil {
		return 0, nil, unix.EINVAL
	}
	return endpoint.ReadNonQUICPacket(ctx, b)
}
