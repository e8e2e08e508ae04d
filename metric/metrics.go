// Package metric holds the bridge's Prometheus instrumentation and the
// HTTP endpoint that exposes it.
package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics contains all bridge-level metrics
type Metrics struct {
	// Polling metrics
	PollCycles        *prometheus.CounterVec
	PollDuration      *prometheus.HistogramVec
	AttributeFailures *prometheus.CounterVec
	StatesPublished   *prometheus.CounterVec

	// Connection metrics
	DeviceConnected *prometheus.GaugeVec
	SupervisorState *prometheus.GaugeVec
	BusConnected    prometheus.Gauge
	BusReconnects   prometheus.Counter

	// Command metrics
	CommandsReceived *prometheus.CounterVec
	CommandsRejected *prometheus.CounterVec

	// Imaging metrics
	FramesProcessed *prometheus.CounterVec
	FrameDuration   *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance with all bridge metrics
func NewMetrics() *Metrics {
	return &Metrics{
		PollCycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "astrolive",
				Subsystem: "poller",
				Name:      "cycles_total",
				Help:      "Total number of poll cycles",
			},
			[]string{"component", "status"},
		),

		PollDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "astrolive",
				Subsystem: "poller",
				Name:      "cycle_duration_seconds",
				Help:      "Poll cycle duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"component"},
		),

		AttributeFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "astrolive",
				Subsystem: "poller",
				Name:      "attribute_failures_total",
				Help:      "Total number of per-attribute read failures",
			},
			[]string{"component", "attribute"},
		),

		StatesPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "astrolive",
				Subsystem: "bus",
				Name:      "states_published_total",
				Help:      "Total number of state payloads published",
			},
			[]string{"component"},
		),

		DeviceConnected: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "astrolive",
				Subsystem: "device",
				Name:      "connected",
				Help:      "Device link status (0=disconnected, 1=connected)",
			},
			[]string{"component"},
		),

		SupervisorState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "astrolive",
				Subsystem: "device",
				Name:      "supervisor_state",
				Help:      "Reconnect supervisor state (0=healthy, 1=degraded, 2=backoff)",
			},
			[]string{"connection"},
		),

		BusConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "astrolive",
				Subsystem: "bus",
				Name:      "connected",
				Help:      "Bus connection status (0=disconnected, 1=connected)",
			},
		),

		BusReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "astrolive",
				Subsystem: "bus",
				Name:      "reconnects_total",
				Help:      "Total number of bus reconnections",
			},
		),

		CommandsReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "astrolive",
				Subsystem: "command",
				Name:      "received_total",
				Help:      "Total number of commands received",
			},
			[]string{"component", "command"},
		),

		CommandsRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "astrolive",
				Subsystem: "command",
				Name:      "rejected_total",
				Help:      "Total number of commands rejected",
			},
			[]string{"reason"},
		),

		FramesProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "astrolive",
				Subsystem: "imaging",
				Name:      "frames_total",
				Help:      "Total number of frames processed",
			},
			[]string{"component", "status"},
		),

		FrameDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "astrolive",
				Subsystem: "imaging",
				Name:      "frame_duration_seconds",
				Help:      "Frame pipeline duration in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"component"},
		),
	}
}

// RecordPollCycle increments the poll cycle counter
func (m *Metrics) RecordPollCycle(component, status string, duration time.Duration) {
	m.PollCycles.WithLabelValues(component, status).Inc()
	m.PollDuration.WithLabelValues(component).Observe(duration.Seconds())
}

// RecordAttributeFailure increments the per-attribute failure counter
func (m *Metrics) RecordAttributeFailure(component, attribute string) {
	m.AttributeFailures.WithLabelValues(component, attribute).Inc()
}

// RecordStatePublished increments the published state counter
func (m *Metrics) RecordStatePublished(component string) {
	m.StatesPublished.WithLabelValues(component).Inc()
}

// RecordDeviceConnected updates the device link status gauge
func (m *Metrics) RecordDeviceConnected(component string, connected bool) {
	value := 0.0
	if connected {
		value = 1.0
	}
	m.DeviceConnected.WithLabelValues(component).Set(value)
}

// RecordSupervisorState updates the supervisor state gauge
func (m *Metrics) RecordSupervisorState(connection string, state int) {
	m.SupervisorState.WithLabelValues(connection).Set(float64(state))
}

// RecordBusStatus updates the bus connection status gauge
func (m *Metrics) RecordBusStatus(connected bool) {
	value := 0.0
	if connected {
		value = 1.0
	}
	m.BusConnected.Set(value)
}

// RecordBusReconnect increments the bus reconnection counter
func (m *Metrics) RecordBusReconnect() {
	m.BusReconnects.Inc()
}

// RecordCommand increments the received command counter
func (m *Metrics) RecordCommand(component, command string) {
	m.CommandsReceived.WithLabelValues(component, command).Inc()
}

// RecordCommandRejected increments the rejected command counter
func (m *Metrics) RecordCommandRejected(reason string) {
	m.CommandsRejected.WithLabelValues(reason).Inc()
}

// RecordFrame increments the frame counter and records its duration
func (m *Metrics) RecordFrame(component, status string, duration time.Duration) {
	m.FramesProcessed.WithLabelValues(component, status).Inc()
	m.FrameDuration.WithLabelValues(component).Observe(duration.Seconds())
}

// Registry bundles the bridge metrics with their Prometheus registry
type Registry struct {
	prometheusRegistry *prometheus.Registry
	Metrics            *Metrics
}

// NewRegistry creates a registry holding the bridge metrics plus the Go
// runtime collectors
func NewRegistry() *Registry {
	prometheusRegistry := prometheus.NewRegistry()

	registry := &Registry{
		prometheusRegistry: prometheusRegistry,
		Metrics:            NewMetrics(),
	}

	prometheusRegistry.MustRegister(
		registry.Metrics.PollCycles,
		registry.Metrics.PollDuration,
		registry.Metrics.AttributeFailures,
		registry.Metrics.StatesPublished,
		registry.Metrics.DeviceConnected,
		registry.Metrics.SupervisorState,
		registry.Metrics.BusConnected,
		registry.Metrics.BusReconnects,
		registry.Metrics.CommandsReceived,
		registry.Metrics.CommandsRejected,
		registry.Metrics.FramesProcessed,
		registry.Metrics.FrameDuration,
	)

	prometheusRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return registry
}

// PrometheusRegistry returns the underlying Prometheus registry
func (r *Registry) PrometheusRegistry() *prometheus.Registry {
	return r.prometheusRegistry
}
