// Package metrics exposes Prometheus instrumentation for the tracker.
package metrics

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics.
type Metrics struct {
	// Frame pipeline counters
	FramesSampled atomic.Uint64
	FramesSent    atomic.Uint64
	FramesDropped atomic.Uint64
	FramesSkipped atomic.Uint64 // source not ready / capture failed

	// Classification counters
	Classifications atomic.Uint64
	ServiceErrors   atomic.Uint64

	// Connection tracking
	ReconnectAttempts atomic.Uint64
	ConnectionState   atomic.Uint64 // 0=disconnected, 1=connecting, 2=connected

	// Session state
	SessionActive     atomic.Uint64 // 0=idle, 1=running
	FocusedSeconds    atomic.Uint64 // milliseconds, exported as seconds
	DistractedSeconds atomic.Uint64 // milliseconds, exported as seconds

	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}
	m.registerPrometheusMetrics()
	return m
}

func (m *Metrics) registerPrometheusMetrics() {
	gauges := []struct {
		name string
		help string
		fn   func() float64
	}{
		{"focustrack_frames_sampled_total", "Total frames captured from the video source",
			func() float64 { return float64(m.FramesSampled.Load()) }},
		{"focustrack_frames_sent_total", "Total frames written to the service",
			func() float64 { return float64(m.FramesSent.Load()) }},
		{"focustrack_frames_dropped_total", "Total frames dropped (disconnected or overwritten before send)",
			func() float64 { return float64(m.FramesDropped.Load()) }},
		{"focustrack_frames_skipped_total", "Total sampling ticks skipped (source unavailable)",
			func() float64 { return float64(m.FramesSkipped.Load()) }},
		{"focustrack_classifications_total", "Total classification events received",
			func() float64 { return float64(m.Classifications.Load()) }},
		{"focustrack_service_errors_total", "Total processing errors reported by the service",
			func() float64 { return float64(m.ServiceErrors.Load()) }},
		{"focustrack_reconnect_attempts_total", "Total reconnection attempts",
			func() float64 { return float64(m.ReconnectAttempts.Load()) }},
		{"focustrack_connection_state", "Connection state (0=disconnected, 1=connecting, 2=connected)",
			func() float64 { return float64(m.ConnectionState.Load()) }},
		{"focustrack_session_active", "Session active (0=idle, 1=running)",
			func() float64 { return float64(m.SessionActive.Load()) }},
		{"focustrack_focused_seconds", "Time attributed to the focused label",
			func() float64 { return float64(m.FocusedSeconds.Load()) / 1000 }},
		{"focustrack_distracted_seconds", "Time attributed to the distracted label",
			func() float64 { return float64(m.DistractedSeconds.Load()) / 1000 }},
	}

	for _, g := range gauges {
		m.registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: g.name, Help: g.help},
			g.fn,
		))
	}
}

// Handler returns the Prometheus HTTP handler for the private registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
