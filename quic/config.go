package quic

import "github.com/quic-go/quic-go"

// Config is the engine configuration. The descriptor layer only sets
// MaxIdleTimeout, KeepAlivePeriod and Tracer, and only on a clone.
type Config = quic.Config

// Version is a QUIC version number.
type Version = quic.Version
