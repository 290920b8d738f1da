package entry

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/okdaichi/posixquic/diag"
	"github.com/okdaichi/posixquic/quic"
	"github.com/okdaichi/posixquic/sockopt"
	"golang.org/x/sys/unix"
)

const (
	readChunk = 32 << 10
	// The read pump stops pulling from the engine above this many buffered bytes.
	readHighWater = 1 << 20
)

var _ Entry = (*StreamEntry)(nil)

// StreamEntry is one bidirectional stream. Reads and writes go through
// buffers that two goroutines move to and from the engine stream, so Read and
// Write never block.
type StreamEntry struct {
	watchers

	fd     int
	parent *ConnectionEntry
	stream quic.Stream
	logger *slog.Logger

	mu       sync.Mutex
	rbuf     bytes.Buffer
	readErr  error
	wbuf     bytes.Buffer
	writeErr error
	closing  bool

	readResume chan struct{}
	writeWake  chan struct{}
	readDone   chan struct{}
	writeDone  chan struct{}
}

// NewStreamEntry wraps stream. The parent is not owned: it must outlive the
// stream entry.
func NewStreamEntry(fd int, parent *ConnectionEntry, stream quic.Stream) *StreamEntry {
	s := &StreamEntry{
		fd:         fd,
		parent:     parent,
		stream:     stream,
		logger:     parent.logger.With("stream_fd", fd, "stream_id", int64(stream.StreamID())),
		readResume: make(chan struct{}, 1),
		writeWake:  make(chan struct{}, 1),
		readDone:   make(chan struct{}),
		writeDone:  make(chan struct{}),
	}

	go s.readLoop()
	go s.writeLoop()

	return s
}

func (s *StreamEntry) readLoop() {
	defer close(s.readDone)

	buf := make([]byte, readChunk)
	for {
		n, err := s.stream.Read(buf)

		s.mu.Lock()
		s.rbuf.Write(buf[:n])
		if err != nil {
			s.readErr = err
		}
		full := s.rbuf.Len() >= readHighWater
		s.mu.Unlock()

		if n > 0 || err != nil {
			s.notify(s.fd)
		}
		if err != nil {
			return
		}
		if full {
			<-s.readResume
		}
	}
}

func (s *StreamEntry) writeLoop() {
	defer close(s.writeDone)

	for {
		_, open := <-s.writeWake
		if !s.flush() {
			return
		}
		if !open {
			// FIN after everything queued went out
			if err := s.stream.Close(); err != nil {
				s.logger.Debug("closing stream failed", "error", err)
			}
			return
		}
	}
}

// flush writes the queue to the engine. It reports false once a write failed.
func (s *StreamEntry) flush() bool {
	for {
		s.mu.Lock()
		if s.wbuf.Len() == 0 {
			s.mu.Unlock()
			return true
		}
		chunk := make([]byte, s.wbuf.Len())
		copy(chunk, s.wbuf.Bytes())
		s.mu.Unlock()

		n, err := s.stream.Write(chunk)

		s.mu.Lock()
		s.wbuf.Next(n)
		if err != nil {
			s.writeErr = err
			s.wbuf.Reset()
		}
		s.mu.Unlock()

		s.notify(s.fd)
		if err != nil {
			s.logger.Debug("stream write failed", "error", err)
			return false
		}
	}
}

// Read copies buffered data into p. It returns unix.EAGAIN when nothing is
// buffered and io.EOF once the peer finished the stream.
func (s *StreamEntry) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rbuf.Len() > 0 {
		wasFull := s.rbuf.Len() >= readHighWater
		n, _ := s.rbuf.Read(p)
		if wasFull && s.rbuf.Len() < readHighWater {
			select {
			case s.readResume <- struct{}{}:
			default:
			}
		}
		return n, nil
	}

	switch {
	case s.readErr == nil:
		return 0, unix.EAGAIN
	case errors.Is(s.readErr, io.EOF):
		return 0, io.EOF
	default:
		return 0, s.readErr
	}
}

// Write queues p for sending. It accepts at most as many bytes as fit under
// the StreamWmem option and returns unix.EAGAIN when nothing fits.
func (s *StreamEntry) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closing || s.writeErr != nil {
		return 0, unix.EPIPE
	}
	if len(p) == 0 {
		return 0, nil
	}

	room := s.wmem() - int64(s.wbuf.Len())
	if room <= 0 {
		return 0, unix.EAGAIN
	}
	n := len(p)
	if int64(n) > room {
		n = int(room)
	}
	s.wbuf.Write(p[:n])

	select {
	case s.writeWake <- struct{}{}:
	default:
	}
	return n, nil
}

func (s *StreamEntry) wmem() int64 {
	if v := s.parent.options.Get(sockopt.StreamWmem); v > 0 {
		return v
	}
	return sockopt.DefaultStreamWmem
}

func (s *StreamEntry) Fd() int {
	return s.fd
}

func (s *StreamEntry) Category() Category {
	return CategoryStream
}

func (s *StreamEntry) Parent() *ConnectionEntry {
	return s.parent
}

func (s *StreamEntry) StreamID() quic.StreamID {
	return s.stream.StreamID()
}

func (s *StreamEntry) Events() Events {
	_, _, connClosed := s.parent.CloseCause()

	s.mu.Lock()
	defer s.mu.Unlock()

	var ev Events
	if s.rbuf.Len() > 0 || s.readErr != nil {
		ev |= EventIn
	}
	if s.writeErr == nil && !s.closing && int64(s.wbuf.Len()) < s.wmem() {
		ev |= EventOut
	}
	if s.writeErr != nil || (s.readErr != nil && !errors.Is(s.readErr, io.EOF)) || connClosed {
		ev |= EventErr
	}
	return ev
}

// Close sends FIN once queued data went out and stops reading. It does not
// wait for the peer.
func (s *StreamEntry) Close() error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return nil
	}
	s.closing = true
	s.mu.Unlock()

	s.parent.RemoveStream(s.fd)

	s.stream.CancelRead(0)
	select {
	case s.readResume <- struct{}{}:
	default:
	}
	close(s.writeWake)

	return nil
}

// Wait blocks until both pumps exited or the timeout passed.
func (s *StreamEntry) Wait(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for _, ch := range []chan struct{}{s.readDone, s.writeDone} {
		select {
		case <-ch:
		case <-timer.C:
			return false
		}
	}
	return true
}

func (s *StreamEntry) DebugInfo(level int) string {
	s.mu.Lock()
	buffered, queued := s.rbuf.Len(), s.wbuf.Len()
	readErr, writeErr, closing := s.readErr, s.writeErr, s.closing
	s.mu.Unlock()

	var sb strings.Builder
	indent := diag.Indent(level)
	fmt.Fprintf(&sb, "%s* stream fd:%d stream_id:%d parent_fd:%d\n", indent, s.fd, s.stream.StreamID(), s.parent.fd)
	fmt.Fprintf(&sb, "%s    events:%s readable:%d queued:%d/%d closing:%t watchers:%d\n",
		indent, s.Events(), buffered, queued, s.wmem(), closing, s.watcherCount())
	if readErr != nil {
		fmt.Fprintf(&sb, "%s    read error:%v\n", indent, readErr)
	}
	if writeErr != nil {
		fmt.Fprintf(&sb, "%s    write error:%v\n", indent, writeErr)
	}
	return sb.String()
}

func unixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
