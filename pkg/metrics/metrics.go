package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "stationery"

// Metrics groups the collectors used by the client. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	RealtimeMessages    *prometheus.CounterVec
	RealtimeReconnects  prometheus.Counter
	RealtimeConnected   prometheus.Gauge
	StatusTransitions   *prometheus.CounterVec
	NotificationChanges *prometheus.CounterVec
	HTTPRequests        *prometheus.CounterVec
	HTTPLatencyMS       *prometheus.HistogramVec
}

// New registers every collector on a fresh registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		RealtimeMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "messages_total",
			Help:      "Realtime messages by delivery result.",
		}, []string{"result"}),
		RealtimeReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "reconnects_total",
			Help:      "Successful reconnections of the realtime channel.",
		}),
		RealtimeConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "connected",
			Help:      "1 while the realtime channel is connected.",
		}),
		StatusTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tracker",
			Name:      "status_updates_total",
			Help:      "Order status updates by source and outcome.",
		}, []string{"source", "outcome"}),
		NotificationChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "changes_total",
			Help:      "Notification feed changes by kind.",
		}, []string{"kind"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "http_requests_total",
			Help:      "Total number of local API requests.",
		}, []string{"route", "status"}),
		HTTPLatencyMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "http_request_duration_ms",
			Help:      "Local API latency in milliseconds.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		}, []string{"route"}),
	}

	m.registry.MustRegister(
		m.RealtimeMessages,
		m.RealtimeReconnects,
		m.RealtimeConnected,
		m.StatusTransitions,
		m.NotificationChanges,
		m.HTTPRequests,
		m.HTTPLatencyMS,
	)

	return m
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and extra collectors
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) RealtimeMessage(result string) {
	if m != nil {
		m.RealtimeMessages.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) Reconnected() {
	if m != nil {
		m.RealtimeReconnects.Inc()
	}
}

func (m *Metrics) SetConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.RealtimeConnected.Set(1)
	} else {
		m.RealtimeConnected.Set(0)
	}
}

func (m *Metrics) StatusUpdate(source, outcome string) {
	if m != nil {
		m.StatusTransitions.WithLabelValues(source, outcome).Inc()
	}
}

func (m *Metrics) NotificationChange(kind string) {
	if m != nil {
		m.NotificationChanges.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) ObserveRequest(route, status string, ms float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(route, status).Inc()
	m.HTTPLatencyMS.WithLabelValues(route).Observe(ms)
}
