package infra

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the stream client's collectors on a private registry.
// All methods are safe on a nil *Metrics so components can run without it.
type Metrics struct {
	registry *prometheus.Registry

	framesReceived     *prometheus.CounterVec
	frameLatency       prometheus.Histogram
	malformedFrames    prometheus.Counter
	requestsSent       *prometheus.CounterVec
	statusFailures     *prometheus.CounterVec
	uncorrelatedStatus prometheus.Counter
	segmentsMerged     prometheus.Counter
	listenerPanics     prometheus.Counter
	framePanics        prometheus.Counter
	reconnects         prometheus.Counter
	connectionStatus   prometheus.Gauge
	marketsTracked     *prometheus.GaugeVec
}

// NewMetrics creates and registers all collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "esa_frames_received_total",
			Help: "Inbound frames by operation.",
		}, []string{"op"}),
		frameLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "esa_frame_process_seconds",
			Help:    "Time spent applying one inbound frame.",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
		}),
		malformedFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "esa_malformed_frames_total",
			Help: "Inbound frames skipped because they could not be decoded.",
		}),
		requestsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "esa_requests_sent_total",
			Help: "Outbound requests by operation.",
		}, []string{"op"}),
		statusFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "esa_status_failures_total",
			Help: "Non-success status replies by error code.",
		}, []string{"error_code"}),
		uncorrelatedStatus: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "esa_uncorrelated_status_total",
			Help: "Status frames that matched no pending request.",
		}),
		segmentsMerged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "esa_segments_merged_total",
			Help: "Segmented frames merged into a logical batch.",
		}),
		listenerPanics: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "esa_listener_panics_total",
			Help: "Listener callbacks that panicked during dispatch.",
		}),
		framePanics: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "esa_frame_panics_total",
			Help: "Inbound frames whose processing panicked.",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "esa_reconnects_total",
			Help: "Connection attempts after a disconnect.",
		}),
		connectionStatus: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "esa_connection_status",
			Help: "Current connection status (0=stopped 1=connected 2=authenticated 3=subscribed 4=disconnected).",
		}),
		marketsTracked: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "esa_markets_tracked",
			Help: "Markets currently held by a cache.",
		}, []string{"cache"}),
	}

	m.registry.MustRegister(
		m.framesReceived,
		m.frameLatency,
		m.malformedFrames,
		m.requestsSent,
		m.statusFailures,
		m.uncorrelatedStatus,
		m.segmentsMerged,
		m.listenerPanics,
		m.framePanics,
		m.reconnects,
		m.connectionStatus,
		m.marketsTracked,
	)
	return m
}

// Registry exposes the underlying registry (for tests and extra collectors).
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordFrame records an inbound frame and its processing time.
func (m *Metrics) RecordFrame(op string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.framesReceived.WithLabelValues(op).Inc()
	m.frameLatency.Observe(elapsed.Seconds())
}

// RecordMalformedFrame records a skipped frame.
func (m *Metrics) RecordMalformedFrame() {
	if m == nil {
		return
	}
	m.malformedFrames.Inc()
}

// RecordRequest records an outbound request.
func (m *Metrics) RecordRequest(op string) {
	if m == nil {
		return
	}
	m.requestsSent.WithLabelValues(op).Inc()
}

// RecordStatusFailure records a non-success status reply.
func (m *Metrics) RecordStatusFailure(errorCode string) {
	if m == nil {
		return
	}
	m.statusFailures.WithLabelValues(errorCode).Inc()
}

// RecordUncorrelatedStatus records an asynchronous status notification.
func (m *Metrics) RecordUncorrelatedStatus() {
	if m == nil {
		return
	}
	m.uncorrelatedStatus.Inc()
}

// RecordSegmentMerged records one segment folded into a batch.
func (m *Metrics) RecordSegmentMerged() {
	if m == nil {
		return
	}
	m.segmentsMerged.Inc()
}

// RecordListenerPanic records a recovered listener panic.
func (m *Metrics) RecordListenerPanic() {
	if m == nil {
		return
	}
	m.listenerPanics.Inc()
}

// RecordFramePanic records an inbound frame whose processing panicked.
func (m *Metrics) RecordFramePanic() {
	if m == nil {
		return
	}
	m.framePanics.Inc()
}

// RecordReconnect records a reconnection attempt.
func (m *Metrics) RecordReconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

// SetConnectionStatus sets the connection status gauge.
func (m *Metrics) SetConnectionStatus(status int) {
	if m == nil {
		return
	}
	m.connectionStatus.Set(float64(status))
}

// SetMarketsTracked sets the number of markets held by the named cache.
func (m *Metrics) SetMarketsTracked(cache string, count int) {
	if m == nil {
		return
	}
	m.marketsTracked.WithLabelValues(cache).Set(float64(count))
}
