package realtime

import "github.com/prometheus/client_golang/prometheus"

// Rejection reasons used as the "reason" label on tuthub_chat_rejected_total.
const (
	rejectOrigin       = "origin"
	rejectUnauthorized = "unauthorized"
	rejectPeerNotFound = "peer_not_found"
	rejectSelfChat     = "self_chat"
	rejectResolver     = "resolver_error"
	rejectUpgrade      = "upgrade_failed"
	rejectInternal     = "internal"
)

// Metrics holds the realtime Prometheus collectors.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	connections      prometheus.Gauge
	rooms            prometheus.Gauge
	rejected         *prometheus.CounterVec
	persisted        prometheus.Counter
	persistFailures  prometheus.Counter
	malformed        prometheus.Counter
	delivered        prometheus.Counter
	deliveryFailures prometheus.Counter
}

// NewMetrics builds and registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tuthub", Subsystem: "chat", Name: "connections",
			Help: "Chat connections currently registered in the room directory.",
		}),
		rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tuthub", Subsystem: "chat", Name: "rooms",
			Help: "Rooms with at least one registered connection.",
		}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tuthub", Subsystem: "chat", Name: "rejected_total",
			Help: "Connection attempts closed before registration.",
		}, []string{"reason"}),
		persisted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tuthub", Subsystem: "chat", Name: "messages_persisted_total",
			Help: "Chat messages durably appended to the message store.",
		}),
		persistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tuthub", Subsystem: "chat", Name: "messages_persist_failures_total",
			Help: "Chat messages that failed to persist (never published).",
		}),
		malformed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tuthub", Subsystem: "chat", Name: "events_malformed_total",
			Help: "Inbound events dropped for shape or kind.",
		}),
		delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tuthub", Subsystem: "chat", Name: "deliveries_total",
			Help: "Delivery events enqueued to room members.",
		}),
		deliveryFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tuthub", Subsystem: "chat", Name: "delivery_failures_total",
			Help: "Delivery events that could not be enqueued; the member is torn down.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.connections, m.rooms, m.rejected,
			m.persisted, m.persistFailures, m.malformed,
			m.delivered, m.deliveryFailures,
		)
	}
	return m
}

func (m *Metrics) setMembership(rooms, conns int) {
	if m == nil {
		return
	}
	m.rooms.Set(float64(rooms))
	m.connections.Set(float64(conns))
}

func (m *Metrics) reject(reason string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) messagePersisted() {
	if m == nil {
		return
	}
	m.persisted.Inc()
}

func (m *Metrics) persistFailed() {
	if m == nil {
		return
	}
	m.persistFailures.Inc()
}

func (m *Metrics) eventMalformed() {
	if m == nil {
		return
	}
	m.malformed.Inc()
}

func (m *Metrics) deliveries(ok, failed int) {
	if m == nil {
		return
	}
	m.delivered.Add(float64(ok))
	m.deliveryFailures.Add(float64(failed))
}
