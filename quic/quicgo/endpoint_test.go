package quicgo

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/okdaichi/posixquic/diag"
	"github.com/okdaichi/posixquic/quic"
	quicgo_quicgo "github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/logging"
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
		DNSNames:     []string{"localhost"},
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

func listenUDP(t *testing.T) net.PacketConn {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestEndpoint_DialAcceptAndEvents(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping loopback test in short mode")
	}

	serverTLS, clientTLS := testTLSConfigs(t)

	server := NewEndpoint(listenUDP(t), diag.DiscardLogger())
	defer server.Close()
	client := NewEndpoint(listenUDP(t), diag.DiscardLogger())
	defer client.Close()

	var userTracerCalled atomic.Bool
	ln, err := server.Listen(serverTLS, &quic.Config{
		Tracer: func(context.Context, logging.Perspective, quicgo_quicgo.ConnectionID) *logging.ConnectionTracer {
			userTracerCalled.Store(true)
			return &logging.ConnectionTracer{}
		},
	})
	require.NoError(t, err)
	defer ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	accepted := make(chan quic.Connection, 1)
	go func() {
		conn, err := ln.Accept(ctx)
		if err == nil {
			accepted <- conn
		}
	}()

	cconn, err := client.Dial(ctx, ln.Addr(), clientTLS, nil)
	require.NoError(t, err)
	assert.Equal(t, quic.PerspectiveClient, cconn.Perspective())
	assert.NotNil(t, cconn.AlarmFactory())
	assert.NotNil(t, cconn.Clock())

	var sconn quic.Connection
	select {
	case sconn = <-accepted:
	case <-ctx.Done():
		t.Fatal("accept timed out")
	}
	assert.Equal(t, quic.PerspectiveServer, sconn.Perspective())
	assert.Equal(t, cconn.LocalAddr().String(), sconn.PeerAddress().String())
	assert.True(t, userTracerCalled.Load())

	closed := make(chan quic.ConnectionClosed, 1)
	sconn.SetVisitor(quic.VisitorFunc(func(e quic.Event) {
		if c, ok := e.(quic.ConnectionClosed); ok {
			closed <- c
		}
	}))

	require.NoError(t, cconn.Close(quic.CauseAckTimeout, quic.CloseBehaviorNoAck))

	select {
	case c := <-closed:
		assert.Equal(t, quic.CausePeerClose, c.Cause)
		assert.True(t, c.Remote)
	case <-ctx.Done():
		t.Fatal("close event not delivered")
	}

	assert.Eventually(t, func() bool { return server.Tracked() == 0 }, 2*time.Second, 10*time.Millisecond)
}
