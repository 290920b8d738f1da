package posixquic

import (
	"fmt"

	"github.com/okdaichi/posixquic/entry"
	"github.com/okdaichi/posixquic/quic"
	"golang.org/x/sys/unix"
)

// OpenStream opens a bidirectional stream on the connection fd.
func (s *System) OpenStream(fd int) (int, error) {
	c, err := s.connection(fd)
	if err != nil {
		return -1, err
	}
	if _, _, closed := c.CloseCause(); closed {
		return -1, unix.ENOTCONN
	}

	qs, err := c.Conn().OpenStream()
	if err != nil {
		return -1, fmt.Errorf("posixquic: opening stream: %w", err)
	}
	return s.adoptStream(c, qs)
}

// AcceptStream takes the oldest stream opened by the peer of connection fd.
// It fails with unix.EAGAIN when none is waiting.
func (s *System) AcceptStream(fd int) (int, error) {
	c, err := s.connection(fd)
	if err != nil {
		return -1, err
	}

	qs, ok := c.PopStream()
	if !ok {
		if _, _, closed := c.CloseCause(); closed {
			return -1, unix.ENOTCONN
		}
		return -1, unix.EAGAIN
	}
	return s.adoptStream(c, qs)
}

func (s *System) adoptStream(c *entry.ConnectionEntry, qs quic.Stream) (int, error) {
	sfd := s.fds.Allocate()
	st := entry.NewStreamEntry(sfd, c, qs)
	if !c.AddStream(st) {
		// the connection closed meanwhile
		_ = st.Close()
		s.fds.Release(sfd)
		return -1, unix.ENOTCONN
	}
	s.insert(st)

	s.logger.Debug("stream opened", "fd", sfd, "parent_fd", c.Fd(), "stream_id", int64(st.StreamID()))
	return sfd, nil
}

// Read reads buffered stream data. It fails with unix.EAGAIN when nothing is
// buffered and returns io.EOF once the peer finished the stream.
func (s *System) Read(fd int, p []byte) (int, error) {
	st, err := s.stream(fd)
	if err != nil {
		return -1, err
	}
	return st.Read(p)
}

// Write queues p on the stream fd. It may accept fewer bytes than len(p) and
// fails with unix.EAGAIN when the send buffer is full.
func (s *System) Write(fd int, p []byte) (int, error) {
	st, err := s.stream(fd)
	if err != nil {
		return -1, err
	}
	return st.Write(p)
}

// StreamParent returns the connection descriptor a stream belongs to.
func (s *System) StreamParent(fd int) (int, error) {
	st, err := s.stream(fd)
	if err != nil {
		return -1, err
	}
	return st.Parent().Fd(), nil
}
