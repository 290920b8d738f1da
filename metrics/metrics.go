// Package metrics exposes Prometheus collectors for descriptors and the
// no-ack liveness supervisor.
//
// Every method is safe to call on a nil *Metrics, which records nothing.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "posixquic"

// Metrics holds the collectors of one System.
type Metrics struct {
	ConnectionsClosed   *prometheus.CounterVec
	AckTimeouts         prometheus.Counter
	AlarmFires          prometheus.Counter
	Entries             *prometheus.GaugeVec
	PeerAddressUpdates  prometheus.Counter
	CallbackPanics      prometheus.Counter
	TransportWriteFails prometheus.Counter
}

// New creates unregistered collectors.
func New() *Metrics {
	return &Metrics{
		ConnectionsClosed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connections_closed_total",
				Help:      "Connections closed, by close cause",
			},
			[]string{"cause"},
		),
		AckTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ack_timeouts_total",
			Help:      "Connections closed because a sent packet was never acknowledged",
		}),
		AlarmFires: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "noack_alarm_fires_total",
			Help:      "No-ack alarm expirations",
		}),
		Entries: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "entries",
				Help:      "Live descriptors, by category",
			},
			[]string{"category"},
		),
		PeerAddressUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "peer_address_updates_total",
			Help:      "Peer address changes observed by packet transports",
		}),
		CallbackPanics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "callback_panics_total",
			Help:      "Panics recovered inside engine callbacks",
		}),
		TransportWriteFails: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_write_failures_total",
			Help:      "Packet transport writes that returned a negative result",
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.ConnectionsClosed,
		m.AckTimeouts,
		m.AlarmFires,
		m.Entries,
		m.PeerAddressUpdates,
		m.CallbackPanics,
		m.TransportWriteFails,
	}
}

// Register registers every collector. Collectors that are already registered
// are tolerated so two Systems may share one registerer.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	if m == nil || reg == nil {
		return nil
	}
	for _, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

func (m *Metrics) ConnectionClosed(cause string) {
	if m == nil {
		return
	}
	m.ConnectionsClosed.WithLabelValues(cause).Inc()
}

func (m *Metrics) AckTimeout() {
	if m == nil {
		return
	}
	m.AckTimeouts.Inc()
}

func (m *Metrics) AlarmFired() {
	if m == nil {
		return
	}
	m.AlarmFires.Inc()
}

func (m *Metrics) EntryAdded(category string) {
	if m == nil {
		return
	}
	m.Entries.WithLabelValues(category).Inc()
}

func (m *Metrics) EntryRemoved(category string) {
	if m == nil {
		return
	}
	m.Entries.WithLabelValues(category).Dec()
}

func (m *Metrics) PeerAddressUpdated() {
	if m == nil {
		return
	}
	m.PeerAddressUpdates.Inc()
}

func (m *Metrics) CallbackPanic() {
	if m == nil {
		return
	}
	m.CallbackPanics.Inc()
}

func (m *Metrics) TransportWriteFailed() {
	if m == nil {
		return
	}
	m.TransportWriteFails.Inc()
}
