package posixquic

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/okdaichi/posixquic/entry"
	"github.com/okdaichi/posixquic/epoll"
	"github.com/okdaichi/posixquic/quic"
	"github.com/okdaichi/posixquic/sockopt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testALPN = "posixquic-test"

func testTLSConfigs(t *testing.T) (server, client *tls.Config) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "localhost"},
		IPAddresses:  []net.IP{net.IPv4(127, 0, 0, 1)},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	server = &tls.Config{
		Certificates: []tls.Certificate{{Certificate: [][]byte{der}, PrivateKey: key}},
		NextProtos:   []string{testALPN},
	}
	client = &tls.Config{
		InsecureSkipVerify: true,
		NextProtos:         []string{testALPN},
	}
	return server, client
}

// waitReady blocks until fd is ready for want on epfd.
func waitReady(t *testing.T, s *System, epfd, fd int, want entry.Events) entry.Events {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	events := make([]epoll.Event, 8)
	for {
		n, err := s.EpollWait(ctx, epfd, events, -1)
		require.NoError(t, err)
		for _, ev := range events[:n] {
			if ev.Fd == fd && ev.Events&want != 0 {
				return ev.Events
			}
		}
		// level triggered: something else is ready, poll again shortly
		time.Sleep(pollEvery)
	}
}

func readAll(t *testing.T, s *System, fd int, want int) string {
	t.Helper()
	var got []byte
	buf := make([]byte, 64)
	require.Eventually(t, func() bool {
		n, err := s.Read(fd, buf)
		if err == nil {
			got = append(got, buf[:n]...)
		}
		return len(got) >= want
	}, 5*time.Second, pollEvery)
	return string(got)
}

func TestSystem_Loopback(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping loopback test in short mode")
	}

	serverTLS, clientTLS := testTLSConfigs(t)
	s := newTestSystem(t, &Config{
		DefaultOptions: map[sockopt.Option]int64{
			sockopt.IdleTimeoutSecs: 10,
			sockopt.AckTimeoutSecs:  10,
		},
	})

	lfd, err := s.Listen("127.0.0.1:0", serverTLS)
	require.NoError(t, err)
	laddr, err := s.LocalAddr(lfd)
	require.NoError(t, err)

	epfd, err := s.EpollCreate()
	require.NoError(t, err)
	require.NoError(t, s.EpollCtl(epfd, epoll.OpAdd, lfd, entry.EventIn))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	cfd, err := s.Dial(ctx, laddr.String(), clientTLS)
	require.NoError(t, err)

	waitReady(t, s, epfd, lfd, entry.EventIn)
	sfd, err := s.Accept(lfd)
	require.NoError(t, err)

	caddr, err := s.LocalAddr(cfd)
	require.NoError(t, err)
	peer, err := s.PeerAddr(sfd)
	require.NoError(t, err)
	// the client socket is bound to the wildcard address
	assert.Equal(t, caddr.(*net.UDPAddr).Port, peer.(*net.UDPAddr).Port)

	// client opens a stream and sends first
	cs, err := s.OpenStream(cfd)
	require.NoError(t, err)
	n, err := s.Write(cs, []byte("ping"))
	require.NoError(t, err)
	require.Equal(t, 4, n)

	require.NoError(t, s.EpollCtl(epfd, epoll.OpAdd, sfd, entry.EventIn))
	waitReady(t, s, epfd, sfd, entry.EventIn)
	ss, err := s.AcceptStream(sfd)
	require.NoError(t, err)

	assert.Equal(t, "ping", readAll(t, s, ss, 4))

	n, err = s.Write(ss, []byte("pong"))
	require.NoError(t, err)
	require.Equal(t, 4, n)
	assert.Equal(t, "pong", readAll(t, s, cs, 4))

	// the exchanged packets were acknowledged, so nothing timed out
	_, closed, err := s.CloseCause(cfd)
	require.NoError(t, err)
	assert.False(t, closed)

	// an application close reaches the peer as a peer close
	require.NoError(t, s.Close(cfd))
	waitReady(t, s, epfd, sfd, entry.EventErr)

	cause, closed, err := s.CloseCause(ss)
	require.NoError(t, err)
	assert.True(t, closed)
	assert.Equal(t, quic.CausePeerClose, cause)

	require.NoError(t, s.Close(sfd))
	require.NoError(t, s.Close(lfd))
	assert.Equal(t, 0, s.entries.Len())
}
