// Package metrics defines the Prometheus collectors exported by the point
// cloud server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Skip reasons recorded on StreamCyclesSkipped.
const (
	SkipUnavailable = "unavailable"
	SkipEncoding    = "encoding"
)

// Metrics contains all Prometheus metrics for the point cloud server.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Snapshot metrics
	SnapshotFailures *prometheus.CounterVec
	EncodedBytes     prometheus.Histogram

	// Stream metrics
	ActiveStreams       prometheus.Gauge
	StreamsOpened       *prometheus.CounterVec
	StreamRecords       prometheus.Counter
	StreamCyclesSkipped *prometheus.CounterVec
	StreamOverruns      prometheus.Counter
	StreamWorkDuration  prometheus.Histogram

	// Lifecycle metrics
	ServerRunning prometheus.Gauge
	ServerStarts  prometheus.Counter
	BindFailures  prometheus.Counter
}

// New creates the collectors on a private registry so several servers (and
// tests) can coexist in one process.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pointcloud_http_requests_total",
			Help: "Total number of HTTP requests by route and status code",
		}, []string{"route", "code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pointcloud_http_request_duration_seconds",
			Help:    "HTTP request duration by route (streams observe their full lifetime)",
			Buckets: prometheus.ExponentialBuckets(0.0005, 4, 10),
		}, []string{"route"}),

		SnapshotFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pointcloud_snapshot_failures_total",
			Help: "Single-snapshot requests answered with an error, by reason",
		}, []string{"reason"}),
		EncodedBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "pointcloud_encoded_bytes",
			Help:    "Size of encoded measurements",
			Buckets: prometheus.ExponentialBuckets(64, 4, 10),
		}),

		ActiveStreams: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pointcloud_active_streams",
			Help: "Current number of open stream connections",
		}),
		StreamsOpened: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pointcloud_streams_opened_total",
			Help: "Total number of stream connections opened, by transport",
		}, []string{"transport"}),
		StreamRecords: factory.NewCounter(prometheus.CounterOpts{
			Name: "pointcloud_stream_records_total",
			Help: "Total number of measurement records written to streams",
		}),
		StreamCyclesSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pointcloud_stream_cycles_skipped_total",
			Help: "Stream cycles that wrote nothing, by reason",
		}, []string{"reason"}),
		StreamOverruns: factory.NewCounter(prometheus.CounterOpts{
			Name: "pointcloud_stream_overruns_total",
			Help: "Stream cycles whose work exceeded the refresh period",
		}),
		StreamWorkDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "pointcloud_stream_work_duration_seconds",
			Help:    "Fetch, encode and write time per stream cycle",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
		}),

		ServerRunning: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pointcloud_server_running",
			Help: "1 while the listener is up, 0 otherwise",
		}),
		ServerStarts: factory.NewCounter(prometheus.CounterOpts{
			Name: "pointcloud_server_starts_total",
			Help: "Total number of successful listener starts",
		}),
		BindFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "pointcloud_bind_failures_total",
			Help: "Total number of failed listener starts",
		}),
	}
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the collectors in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
