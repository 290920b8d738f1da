package transport

import (
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockPacketWriter struct {
	mock.Mock
}

func (m *MockPacketWriter) WriteTo(b []byte, addr net.Addr) (int, error) {
	args := m.Called(b, addr)
	return args.Int(0), args.Error(1)
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func udpAddr(t *testing.T, s string) *net.UDPAddr {
	t.Helper()
	addr, err := net.ResolveUDPAddr("udp", s)
	require.NoError(t, err)
	return addr
}

func TestPacketTransport_Write(t *testing.T) {
	peer := udpAddr(t, "127.0.0.1:4433")
	w := &MockPacketWriter{}
	w.On("WriteTo", []byte("hello"), peer).Return(5, nil)

	pt := NewPacketTransport(w, peer, nil)

	assert.Equal(t, 5, pt.Write([]byte("hello")))
	w.AssertExpectations(t)
}

func TestPacketTransport_WriteFailureIsNegative(t *testing.T) {
	peer := udpAddr(t, "127.0.0.1:4433")
	w := &MockPacketWriter{}
	w.On("WriteTo", mock.Anything, mock.Anything).Return(0, errors.New("network unreachable"))

	pt := NewPacketTransport(w, peer, nil)

	assert.Equal(t, -1, pt.Write([]byte("hello")))
}

func TestPacketTransport_WriteWithoutPeer(t *testing.T) {
	pt := NewPacketTransport(&MockPacketWriter{}, nil, nil)

	assert.Equal(t, -1, pt.Write([]byte("x")))
}

func TestPacketTransport_UpdatePeerAddress(t *testing.T) {
	oldPeer := udpAddr(t, "127.0.0.1:4433")
	newPeer := udpAddr(t, "127.0.0.1:5544")

	w := &MockPacketWriter{}
	w.On("WriteTo", mock.Anything, newPeer).Return(3, nil)

	pt := NewPacketTransport(w, oldPeer, nil)

	var changes int
	pt.OnPeerAddressChange = func(old, new net.Addr) {
		changes++
		assert.Equal(t, oldPeer.String(), old.String())
		assert.Equal(t, newPeer.String(), new.String())
	}

	assert.True(t, pt.UpdatePeerAddress(newPeer))
	assert.False(t, pt.UpdatePeerAddress(udpAddr(t, "127.0.0.1:5544")), "same address is not a change")
	assert.False(t, pt.UpdatePeerAddress(nil))

	assert.Equal(t, 3, pt.Write([]byte("abc")), "next write goes to the migrated address")
	assert.Equal(t, 1, changes)
	w.AssertExpectations(t)
}

func TestSharedSocket_LastHolderCloses(t *testing.T) {
	conn, err := net.ListenUDP("udp", udpAddr(t, "127.0.0.1:0"))
	require.NoError(t, err)

	var closed int
	sock := NewSharedSocket(conn, closerFunc(func() error {
		closed++
		return nil
	}))
	assert.Equal(t, 1, sock.Refs())

	require.NotNil(t, sock.Retain())
	require.NotNil(t, sock.Retain())
	assert.Equal(t, 3, sock.Refs())

	// The listener goes away first; accepted connections keep the socket open.
	require.NoError(t, sock.Release())
	require.NoError(t, sock.Release())
	assert.Equal(t, 0, closed)

	_, err = sock.WriteTo([]byte("ping"), conn.LocalAddr())
	assert.NoError(t, err, "socket stays usable while a holder remains")

	require.NoError(t, sock.Release())
	assert.Equal(t, 1, closed)
	assert.Equal(t, 0, sock.Refs())

	assert.Nil(t, sock.Retain(), "a released socket cannot be revived")
	_, err = sock.WriteTo([]byte("ping"), conn.LocalAddr())
	assert.ErrorIs(t, err, ErrSocketReleased)

	assert.NoError(t, sock.Release(), "extra release is harmless")
	assert.Equal(t, 1, closed)
}

func TestSharedSocket_PacketTransportRoundTrip(t *testing.T) {
	server, err := net.ListenUDP("udp", udpAddr(t, "127.0.0.1:0"))
	require.NoError(t, err)
	defer server.Close()

	client, err := net.ListenUDP("udp", udpAddr(t, "127.0.0.1:0"))
	require.NoError(t, err)

	sock := NewSharedSocket(client)
	defer sock.Release()

	require.NoError(t, sock.SetBuffers(1<<16, 1<<16))

	pt := NewPacketTransport(sock, server.LocalAddr(), nil)
	assert.Equal(t, 4, pt.Write([]byte("data")))

	buf := make([]byte, 16)
	n, from, err := server.ReadFrom(buf)
	require.NoError(t, err)
	assert.Equal(t, "data", string(buf[:n]))
	assert.Equal(t, sock.LocalAddr().String(), from.String())
}
