package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the collectors of one engine instance. Every method is safe
// on a nil receiver so components can run without instrumentation.
type Metrics struct {
	Registry *prometheus.Registry

	connected      prometheus.Gauge
	reconnects     prometheus.Counter
	inboundFrames  *prometheus.CounterVec
	malformed      prometheus.Counter
	acks           *prometheus.CounterVec
	restFallbacks  prometheus.Counter
	droppedPublish *prometheus.CounterVec
	relayClients   prometheus.Gauge
	relayRejected  prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chatsync",
			Name:      "connected",
			Help:      "1 while the transport connection is established.",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatsync",
			Name:      "reconnects_scheduled_total",
			Help:      "Reconnect attempts scheduled after an unexpected closure or failed handshake.",
		}),
		inboundFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatsync",
			Name:      "inbound_events_total",
			Help:      "Inbound events emitted by the router, by event name.",
		}, []string{"event"}),
		malformed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatsync",
			Name:      "malformed_payloads_total",
			Help:      "Inbound frames or payloads dropped because they could not be decoded.",
		}),
		acks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatsync",
			Name:      "acknowledgments_total",
			Help:      "Resolved send acknowledgments, by outcome.",
		}, []string{"outcome"}),
		restFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatsync",
			Name:      "rest_fallback_sends_total",
			Help:      "Messages sent through the REST fallback because the transport was down.",
		}),
		droppedPublish: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatsync",
			Name:      "dropped_publishes_total",
			Help:      "Best-effort frames dropped while disconnected, by destination.",
		}, []string{"destination"}),
		relayClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chatsync",
			Subsystem: "relay",
			Name:      "clients",
			Help:      "Clients currently attached to the relay.",
		}),
		relayRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatsync",
			Subsystem: "relay",
			Name:      "rate_limited_frames_total",
			Help:      "Frames rejected by the relay rate limiter.",
		}),
	}

	m.Registry.MustRegister(
		m.connected,
		m.reconnects,
		m.inboundFrames,
		m.malformed,
		m.acks,
		m.restFallbacks,
		m.droppedPublish,
		m.relayClients,
		m.relayRejected,
	)
	return m
}

func (m *Metrics) SetConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.connected.Set(1)
		return
	}
	m.connected.Set(0)
}

func (m *Metrics) ReconnectScheduled() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

func (m *Metrics) InboundEvent(event string) {
	if m == nil {
		return
	}
	m.inboundFrames.WithLabelValues(event).Inc()
}

func (m *Metrics) MalformedPayload() {
	if m == nil {
		return
	}
	m.malformed.Inc()
}

func (m *Metrics) Ack(outcome string) {
	if m == nil {
		return
	}
	m.acks.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RESTFallback() {
	if m == nil {
		return
	}
	m.restFallbacks.Inc()
}

func (m *Metrics) DroppedPublish(destination string) {
	if m == nil {
		return
	}
	m.droppedPublish.WithLabelValues(destination).Inc()
}

func (m *Metrics) RelayClients(n int) {
	if m == nil {
		return
	}
	m.relayClients.Set(float64(n))
}

func (m *Metrics) RelayRateLimited() {
	if m == nil {
		return
	}
	m.relayRejected.Inc()
}
