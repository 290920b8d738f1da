package posixquic

import (
	"log/slog"
	"maps"

	"github.com/okdaichi/posixquic/diag"
	"github.com/okdaichi/posixquic/entry"
	"github.com/okdaichi/posixquic/quic"
	"github.com/okdaichi/posixquic/sockopt"
	"github.com/prometheus/client_golang/prometheus"
)

// DefaultFirstDescriptor leaves room for stdin, stdout and stderr.
const DefaultFirstDescriptor = 3

// Config contains configuration options for a System.
type Config struct {
	// Logger receives the System's logs.
	// If nil, logs are discarded.
	Logger *slog.Logger

	// QUICConfig is the base engine configuration of every listen and dial.
	// The IdleTimeoutSecs option overrides its MaxIdleTimeout.
	QUICConfig *quic.Config

	// DefaultOptions seeds the options of every new socket.
	DefaultOptions map[sockopt.Option]int64

	// Registerer receives the System's metrics.
	// If nil, metrics are kept but not registered.
	Registerer prometheus.Registerer

	// FirstDescriptor is the lowest descriptor handed out.
	// If zero, DefaultFirstDescriptor is used.
	FirstDescriptor int

	// Backlog bounds the connections waiting in each listener.
	// If zero, entry.DefaultBacklog is used.
	Backlog int
}

func (c *Config) logger() *slog.Logger {
	if c != nil && c.Logger != nil {
		return c.Logger
	}
	return diag.DiscardLogger()
}

func (c *Config) registerer() prometheus.Registerer {
	if c != nil {
		return c.Registerer
	}
	return nil
}

func (c *Config) firstDescriptor() int {
	if c != nil && c.FirstDescriptor > 0 {
		return c.FirstDescriptor
	}
	return DefaultFirstDescriptor
}

func (c *Config) backlog() int {
	if c != nil && c.Backlog > 0 {
		return c.Backlog
	}
	return entry.DefaultBacklog
}

// options returns a fresh option vector holding the defaults.
func (c *Config) options() *sockopt.Options {
	opts := sockopt.New()
	if c != nil {
		for opt, value := range c.DefaultOptions {
			opts.Set(opt, value)
		}
	}
	return opts
}

// quicConfig returns the engine configuration for a socket with opts.
func (c *Config) quicConfig(opts *sockopt.Options, client bool) *quic.Config {
	var qc *quic.Config
	if c != nil && c.QUICConfig != nil {
		qc = c.QUICConfig.Clone()
	} else {
		qc = &quic.Config{}
	}

	if idle := opts.Seconds(sockopt.IdleTimeoutSecs); idle > 0 {
		qc.MaxIdleTimeout = idle
		if client && qc.KeepAlivePeriod == 0 {
			qc.KeepAlivePeriod = qc.MaxIdleTimeout / 2
		}
	}
	return qc
}

// Clone creates a copy of the Config.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := &Config{
		Logger:          c.Logger,
		DefaultOptions:  maps.Clone(c.DefaultOptions),
		Registerer:      c.Registerer,
		FirstDescriptor: c.FirstDescriptor,
		Backlog:         c.Backlog,
	}
	if c.QUICConfig != nil {
		clone.QUICConfig = c.QUICConfig.Clone()
	}
	return clone
}
