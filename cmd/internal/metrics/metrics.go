// Package metrics exposes Prometheus collectors for the server.
// All methods are safe on a nil *Metrics so components can run without instrumentation.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "nearby"

// Rejection reasons for realtime sends.
const (
	ReasonRateLimit = "rate_limit"
	ReasonTooLong   = "too_long"
	ReasonInvalid   = "invalid"
)

// Metrics owns a private registry so tests can build as many instances as they like.
type Metrics struct {
	registry *prometheus.Registry

	sessionsCreated prometheus.Counter
	roomsCreated    prometheus.Counter
	roomsPruned     prometheus.Counter
	nearbyDuration  prometheus.Histogram

	connections      prometheus.Gauge
	joins            *prometheus.CounterVec
	messagesSent     prometheus.Counter
	messagesRejected *prometheus.CounterVec
	historyFailures  prometheus.Counter
	fanoutDropped    prometheus.Counter
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		sessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "sessions_created_total",
			Help: "Sessions created.",
		}),
		roomsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "rooms_created_total",
			Help: "Rooms created.",
		}),
		roomsPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "rooms_index_pruned_total",
			Help: "Dangling room ids removed from the active index.",
		}),
		nearbyDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "nearby_query_duration_seconds",
			Help:    "Latency of nearby room scans.",
			Buckets: prometheus.DefBuckets,
		}),

		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "ws", Name: "connections",
			Help: "Open realtime connections.",
		}),
		joins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ws", Name: "joins_total",
			Help: "Room join attempts by outcome.",
		}, []string{"outcome"}),
		messagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ws", Name: "messages_sent_total",
			Help: "Messages accepted and broadcast.",
		}),
		messagesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ws", Name: "messages_rejected_total",
			Help: "Messages dropped before broadcast, by reason.",
		}, []string{"reason"}),
		historyFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ws", Name: "history_failures_total",
			Help: "History reads or writes that failed against the store.",
		}),
		fanoutDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ws", Name: "fanout_dropped_total",
			Help: "Envelopes dropped because a subscriber queue was full.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.sessionsCreated,
		m.roomsCreated,
		m.roomsPruned,
		m.nearbyDuration,
		m.connections,
		m.joins,
		m.messagesSent,
		m.messagesRejected,
		m.historyFailures,
		m.fanoutDropped,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry (tests, extra collectors).
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) SessionCreated() {
	if m != nil {
		m.sessionsCreated.Inc()
	}
}

func (m *Metrics) RoomCreated() {
	if m != nil {
		m.roomsCreated.Inc()
	}
}

func (m *Metrics) RoomsPruned(n int) {
	if m != nil && n > 0 {
		m.roomsPruned.Add(float64(n))
	}
}

func (m *Metrics) ObserveNearby(d time.Duration) {
	if m != nil {
		m.nearbyDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) ConnectionOpened() {
	if m != nil {
		m.connections.Inc()
	}
}

func (m *Metrics) ConnectionClosed() {
	if m != nil {
		m.connections.Dec()
	}
}

// Join records a join outcome ("joined", "not_found", "expired", "error").
func (m *Metrics) Join(outcome string) {
	if m != nil {
		m.joins.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) MessageSent() {
	if m != nil {
		m.messagesSent.Inc()
	}
}

func (m *Metrics) MessageRejected(reason string) {
	if m != nil {
		m.messagesRejected.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) HistoryFailure() {
	if m != nil {
		m.historyFailures.Inc()
	}
}

func (m *Metrics) FanoutDropped() {
	if m != nil {
		m.fanoutDropped.Inc()
	}
}
