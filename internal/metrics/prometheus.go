package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/skypro1111/ccs-service/internal/protocol"
)

// Metrics contains all Prometheus metrics for the CCS service
type Metrics struct {
	// TCP connection metrics
	ConnectionsAccepted prometheus.Counter
	NewPeers            prometheus.Counter
	ActiveConnections   prometheus.Gauge
	AcceptErrors        prometheus.Counter
	ConnectionDuration  prometheus.Histogram

	// Request metrics
	RequestsComputed *prometheus.CounterVec
	RequestErrors    *prometheus.CounterVec
	RequestDuration  prometheus.Histogram

	// Discovery metrics
	DiscoveryDatagrams prometheus.Counter
	DiscoveryReplies   prometheus.Counter
	DiscoveryErrors    prometheus.Counter

	// Reporter metrics
	ReportsEmitted prometheus.Counter
	SinkErrors     *prometheus.CounterVec

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

// NewMetrics creates a private registry and registers all metrics on it
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	factory := promauto.With(reg)

	m := &Metrics{
		registry: reg,

		// TCP connection metrics
		ConnectionsAccepted: factory.NewCounter(prometheus.CounterOpts{
			Name: "ccs_connections_accepted_total",
			Help: "Total number of TCP connections accepted",
		}),
		NewPeers: factory.NewCounter(prometheus.CounterOpts{
			Name: "ccs_new_peers_total",
			Help: "Total number of connections from previously unseen address:port pairs",
		}),
		ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ccs_active_connections",
			Help: "Current number of open TCP connections",
		}),
		AcceptErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "ccs_accept_errors_total",
			Help: "Total number of transient accept failures",
		}),
		ConnectionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "ccs_connection_duration_seconds",
			Help:    "Lifetime of TCP connections in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 14), // 100ms to ~27 minutes
		}),

		// Request metrics
		RequestsComputed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ccs_requests_computed_total",
			Help: "Total number of successfully computed requests",
		}, []string{"operation"}),
		RequestErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ccs_request_errors_total",
			Help: "Total number of requests answered with ERROR",
		}, []string{"kind"}),
		RequestDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "ccs_request_duration_seconds",
			Help:    "Time spent decoding, evaluating and answering a request",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10), // 10us to ~2.6s
		}),

		// Discovery metrics
		DiscoveryDatagrams: factory.NewCounter(prometheus.CounterOpts{
			Name: "ccs_discovery_datagrams_total",
			Help: "Total number of datagrams received on the discovery socket",
		}),
		DiscoveryReplies: factory.NewCounter(prometheus.CounterOpts{
			Name: "ccs_discovery_replies_total",
			Help: "Total number of discovery replies sent",
		}),
		DiscoveryErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "ccs_discovery_errors_total",
			Help: "Total number of discovery socket read or write failures",
		}),

		// Reporter metrics
		ReportsEmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "ccs_reports_emitted_total",
			Help: "Total number of statistics reports produced",
		}),
		SinkErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ccs_report_sink_errors_total",
			Help: "Total number of failed report deliveries per sink",
		}, []string{"sink"}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ccs_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ccs_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
	}

	// Pre-create label sets so every series is exported from the start
	for _, op := range protocol.Operations {
		m.RequestsComputed.WithLabelValues(op.String())
	}
	for _, kind := range protocol.FailureKinds {
		m.RequestErrors.WithLabelValues(kind)
	}

	return m
}

// Registry returns the registry the metrics are registered on
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordConnectionOpened records an accepted connection
func (m *Metrics) RecordConnectionOpened(newPeer bool) {
	m.ConnectionsAccepted.Inc()
	m.ActiveConnections.Inc()
	if newPeer {
		m.NewPeers.Inc()
	}
}

// RecordConnectionClosed records a closed connection and its lifetime
func (m *Metrics) RecordConnectionClosed(durationSeconds float64) {
	m.ActiveConnections.Dec()
	m.ConnectionDuration.Observe(durationSeconds)
}

// RecordAcceptError increments the transient accept error counter
func (m *Metrics) RecordAcceptError() {
	m.AcceptErrors.Inc()
}

// RecordComputed records a successfully computed request
func (m *Metrics) RecordComputed(op protocol.Operation, durationSeconds float64) {
	m.RequestsComputed.WithLabelValues(op.String()).Inc()
	m.RequestDuration.Observe(durationSeconds)
}

// RecordRequestError records a request answered with ERROR
func (m *Metrics) RecordRequestError(kind string, durationSeconds float64) {
	m.RequestErrors.WithLabelValues(kind).Inc()
	m.RequestDuration.Observe(durationSeconds)
}

// RecordDiscoveryDatagram records a received discovery datagram and whether it was answered
func (m *Metrics) RecordDiscoveryDatagram(replied bool) {
	m.DiscoveryDatagrams.Inc()
	if replied {
		m.DiscoveryReplies.Inc()
	}
}

// RecordDiscoveryError increments the discovery socket error counter
func (m *Metrics) RecordDiscoveryError() {
	m.DiscoveryErrors.Inc()
}

// RecordReport increments the reports counter
func (m *Metrics) RecordReport() {
	m.ReportsEmitted.Inc()
}

// RecordSinkError records a failed report delivery
func (m *Metrics) RecordSinkError(sink string) {
	m.SinkErrors.WithLabelValues(sink).Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}
