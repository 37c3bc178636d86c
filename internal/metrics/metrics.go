package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all prometheus metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	RequestsCreated    prometheus.Counter
	RequestTransitions *prometheus.CounterVec
	CacheLookups       *prometheus.CounterVec
	ConnectionsActive  prometheus.Gauge
	HandshakeFailures  prometheus.Counter
	ChannelsCreated    prometheus.Counter
	MessagesRelayed    prometheus.Counter
	ErrorsCount        *prometheus.CounterVec
}

// New registers the collectors on reg (prometheus.DefaultRegisterer in main).
func New(namespace string, reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RequestsCreated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_created_total",
			Help:      "The total number of transport requests created",
		}),
		RequestTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "request_transitions_total",
			Help:      "Request status changes by source and target status",
		}, []string{"from", "to"}),
		CacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Read-through cache lookups by view and result",
		}, []string{"view", "result"}),
		ConnectionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "chat_connections_active",
			Help:      "Authenticated live connections currently open",
		}),
		HandshakeFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_handshake_failures_total",
			Help:      "Live connections rejected at handshake",
		}),
		ChannelsCreated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_channels_created_total",
			Help:      "Request chat channels created",
		}),
		MessagesRelayed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_messages_relayed_total",
			Help:      "Chat messages broadcast to a channel",
		}),
		ErrorsCount: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "The total number of backend errors",
		}, []string{"operation"}),
	}
}

func (m *Metrics) RequestCreated() {
	if m == nil {
		return
	}
	m.RequestsCreated.Inc()
}

func (m *Metrics) Transition(from, to string) {
	if m == nil {
		return
	}
	m.RequestTransitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) CacheLookup(view string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(view, result).Inc()
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.ConnectionsActive.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.ConnectionsActive.Dec()
}

func (m *Metrics) HandshakeFailed() {
	if m == nil {
		return
	}
	m.HandshakeFailures.Inc()
}

func (m *Metrics) ChannelCreated() {
	if m == nil {
		return
	}
	m.ChannelsCreated.Inc()
}

func (m *Metrics) MessageRelayed() {
	if m == nil {
		return
	}
	m.MessagesRelayed.Inc()
}

func (m *Metrics) Error(operation string) {
	if m == nil {
		return
	}
	m.ErrorsCount.WithLabelValues(operation).Inc()
}
