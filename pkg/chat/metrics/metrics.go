package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "inbox"

// Metrics groups the synchronization counters. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	InboundEvents   *prometheus.CounterVec
	InboundRejected *prometheus.CounterVec
	OutboundFrames  *prometheus.CounterVec
	OutboxDropped   *prometheus.CounterVec
	Inserts         *prometheus.CounterVec
	StaleHistory    prometheus.Counter
	Connects        *prometheus.CounterVec
	RESTFailures    *prometheus.CounterVec
	Connected       prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		InboundEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "inbound_events_total",
			Help: "Live events decoded from the gateway, by event name.",
		}, []string{"event"}),
		InboundRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "inbound_rejected_total",
			Help: "Live frames rejected at decode, by reason.",
		}, []string{"reason"}),
		OutboundFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "outbound_frames_total",
			Help: "Frames written to the gateway, by event name.",
		}, []string{"event"}),
		OutboxDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "outbox_dropped_total",
			Help: "Queued outbound frames dropped, by reason.",
		}, []string{"reason"}),
		Inserts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "message_inserts_total",
			Help: "Live message inserts seen by the reconciler, by result.",
		}, []string{"result"}),
		StaleHistory: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "stale_history_discarded_total",
			Help: "History responses discarded because the selection moved on.",
		}),
		Connects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "connects_total",
			Help: "Successful gateway connections, split by first connect and reconnect.",
		}, []string{"kind"}),
		RESTFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "rest_failures_total",
			Help: "Failed REST calls, by operation.",
		}, []string{"op"}),
		Connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "connected",
			Help: "1 while the live channel is connected.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.InboundEvents, m.InboundRejected, m.OutboundFrames, m.OutboxDropped,
			m.Inserts, m.StaleHistory, m.Connects, m.RESTFailures, m.Connected,
		)
	}
	return m
}

func (m *Metrics) Inbound(event string) {
	if m != nil {
		m.InboundEvents.WithLabelValues(event).Inc()
	}
}

func (m *Metrics) Rejected(reason string) {
	if m != nil {
		m.InboundRejected.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) Outbound(event string) {
	if m != nil {
		m.OutboundFrames.WithLabelValues(event).Inc()
	}
}

func (m *Metrics) Dropped(reason string) {
	if m != nil {
		m.OutboxDropped.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) Insert(result string) {
	if m != nil {
		m.Inserts.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) Stale() {
	if m != nil {
		m.StaleHistory.Inc()
	}
}

func (m *Metrics) Connect(reconnect bool) {
	if m == nil {
		return
	}
	kind := "first"
	if reconnect {
		kind = "reconnect"
	}
	m.Connects.WithLabelValues(kind).Inc()
}

func (m *Metrics) RESTFailure(op string) {
	if m != nil {
		m.RESTFailures.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) SetConnected(up bool) {
	if m == nil {
		return
	}
	if up {
		m.Connected.Set(1)
	} else {
		m.Connected.Set(0)
	}
}
