package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the screen-cast daemon.
// It satisfies core.Metrics.
type Metrics struct {
	registry        *prometheus.Registry
	framesPublished *prometheus.CounterVec
	framesDropped   *prometheus.CounterVec
	framesSkipped   *prometheus.CounterVec
	activeSessions  prometheus.Gauge
	activeStreams   prometheus.Gauge
	requestsTotal   prometheus.Counter
	errorsTotal     prometheus.Counter
}

// New creates and registers the daemon's metrics.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	framesPublished := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "screencast_frames_published_total",
		Help: "Frames handed to the transport",
	}, []string{"output"})
	framesDropped := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "screencast_frames_dropped_total",
		Help: "Frames dropped because no buffer was free",
	}, []string{"output"})
	framesSkipped := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "screencast_frames_skipped_total",
		Help: "Refreshes skipped by the framerate cap",
	}, []string{"output"})
	activeSessions := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "screencast_active_sessions",
		Help: "Number of live sessions",
	})
	activeStreams := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "screencast_active_streams",
		Help: "Number of live streams",
	})
	requestsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "screencast_http_requests_total",
		Help: "Total number of HTTP requests received",
	})
	errorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "screencast_http_errors_total",
		Help: "Total number of HTTP responses with error status (4xx or 5xx)",
	})

	registry.MustRegister(
		framesPublished,
		framesDropped,
		framesSkipped,
		activeSessions,
		activeStreams,
		requestsTotal,
		errorsTotal,
	)

	return &Metrics{
		registry:        registry,
		framesPublished: framesPublished,
		framesDropped:   framesDropped,
		framesSkipped:   framesSkipped,
		activeSessions:  activeSessions,
		activeStreams:   activeStreams,
		requestsTotal:   requestsTotal,
		errorsTotal:     errorsTotal,
	}
}

func (m *Metrics) FramePublished(output string) {
	m.framesPublished.WithLabelValues(output).Inc()
}

func (m *Metrics) FrameDropped(output string) {
	m.framesDropped.WithLabelValues(output).Inc()
}

func (m *Metrics) FrameSkipped(output string) {
	m.framesSkipped.WithLabelValues(output).Inc()
}

func (m *Metrics) SetActiveSessions(n int) {
	m.activeSessions.Set(float64(n))
}

func (m *Metrics) SetActiveStreams(n int) {
	m.activeStreams.Set(float64(n))
}

// Handler returns an http.Handler that serves Prometheus metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
