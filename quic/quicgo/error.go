package quicgo

import (
	"errors"

	"github.com/okdaichi/posixquic/quic"
)

// closeCause classifies the error a connection was closed with. remote
// reports whether the peer initiated the close.
func closeCause(err error) (cause quic.CloseCause, remote bool) {
	if err == nil {
		return quic.CauseExplicit, false
	}

	var (
		idleErr      *quic.IdleTimeoutError
		handshakeErr *quic.HandshakeTimeoutError
		appErr       *quic.ApplicationError
		transportErr *quic.TransportError
		resetErr     *quic.StatelessResetError
		vnErr        *quic.VersionNegotiationError
	)

	switch {
	case errors.As(err, &idleErr), errors.As(err, &handshakeErr):
		return quic.CauseIdleTimeout, false
	case errors.As(err, &appErr):
		if appErr.Remote {
			return quic.CausePeerClose, true
		}
		return quic.CauseFromApplicationErrorCode(appErr.ErrorCode), false
	case errors.As(err, &transportErr):
		if transportErr.Remote && transportErr.ErrorCode == quic.NoError {
			return quic.CausePeerClose, true
		}
		return quic.CauseProtocolError, transportErr.Remote
	case errors.As(err, &resetErr):
		return quic.CausePeerClose, true
	case errors.As(err, &vnErr):
		return quic.CauseProtocolError, false
	default:
		return quic.CauseProtocolError, false
	}
}

func isStatelessReset(err error) bool {
	var resetErr *quic.StatelessResetError
	return errors.As(err, &resetErr)
}
