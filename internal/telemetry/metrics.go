// Package telemetry exposes the runtime's Prometheus metrics: reload
// counters, commit-pass duration, AoI set sizes, and bus queue depth.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus metric the server registers.
type Metrics struct {
	ReloadTotal       *prometheus.CounterVec
	ReloadFailures    *prometheus.CounterVec
	LibraryGeneration *prometheus.GaugeVec

	CommitPassDuration *prometheus.HistogramVec
	CommitEncodeTotal  *prometheus.CounterVec

	AoISetSize *prometheus.HistogramVec

	BusQueueDepth *prometheus.GaugeVec
	BusInFlight   prometheus.Gauge
	BusDispatched *prometheus.CounterVec

	Connections       prometheus.Gauge
	ConnectionsClosed *prometheus.CounterVec

	PersistDuration *prometheus.HistogramVec
	PersistFailures *prometheus.CounterVec
}

// NewMetrics creates and registers every metric against the default
// registry via promauto.
func NewMetrics() *Metrics {
	return NewMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegisterer is NewMetrics against an explicit registerer —
// used by tests so repeated construction doesn't collide on the global
// default registry.
func NewMetricsWithRegisterer(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ReloadTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ecsforge_reload_total",
				Help: "Total number of plugin reload attempts, by library and outcome.",
			},
			[]string{"library", "outcome"}, // outcome: success, failure
		),
		ReloadFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ecsforge_reload_failures_total",
				Help: "Total number of failed plugin reload attempts, by library.",
			},
			[]string{"library"},
		),
		LibraryGeneration: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ecsforge_library_generation",
				Help: "Current load generation of a hot-reloadable library.",
			},
			[]string{"library"},
		),
		CommitPassDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ecsforge_commit_pass_duration_seconds",
				Help:    "Duration of a Commit Change System pass, by component type.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"component"},
		),
		CommitEncodeTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ecsforge_commit_encode_total",
				Help: "Total number of component encode calls, by component and direction.",
			},
			[]string{"component", "direction"},
		),
		AoISetSize: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ecsforge_aoi_set_size",
				Help:    "Observed size of an entity's area-of-interest observer set.",
				Buckets: []float64{0, 1, 2, 5, 10, 20, 50, 100},
			},
			[]string{"scene"},
		),
		BusQueueDepth: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ecsforge_bus_queue_depth",
				Help: "Number of requests currently queued (not yet in flight) per entity bucket.",
			},
			[]string{"kind"},
		),
		BusInFlight: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "ecsforge_bus_in_flight",
				Help: "Number of entities currently holding an in-flight keep_order request.",
			},
		),
		BusDispatched: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ecsforge_bus_dispatched_total",
				Help: "Total number of requests dispatched through the bus, by kind.",
			},
			[]string{"kind"},
		),
		Connections: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "ecsforge_connections",
				Help: "Current number of open TCP connections.",
			},
		),
		ConnectionsClosed: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ecsforge_connections_closed_total",
				Help: "Total number of closed connections, by reason.",
			},
			[]string{"reason"}, // reason: idle_timeout, eof, error, shutdown
		),
		PersistDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ecsforge_persist_duration_seconds",
				Help:    "Duration of a persistence sink write.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"backend"},
		),
		PersistFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ecsforge_persist_failures_total",
				Help: "Total number of failed persistence sink writes, by backend.",
			},
			[]string{"backend"},
		),
	}
}

// RecordReload records the outcome of a plugin reload attempt and updates
// the library's generation gauge.
func (m *Metrics) RecordReload(library string, success bool, generation uint64) {
	outcome := "success"
	if !success {
		outcome = "failure"
		m.ReloadFailures.WithLabelValues(library).Inc()
	}
	m.ReloadTotal.WithLabelValues(library, outcome).Inc()
	m.LibraryGeneration.WithLabelValues(library).Set(float64(generation))
}

// RecordCommitPass records one Commit Change System pass's duration.
func (m *Metrics) RecordCommitPass(component string, seconds float64) {
	m.CommitPassDuration.WithLabelValues(component).Observe(seconds)
}

// RecordEncode increments the encode counter for one component/direction.
func (m *Metrics) RecordEncode(component, direction string) {
	m.CommitEncodeTotal.WithLabelValues(component, direction).Inc()
}

// RecordAoISetSize observes the size of an AoI observer set for a scene.
func (m *Metrics) RecordAoISetSize(scene string, size int) {
	m.AoISetSize.WithLabelValues(scene).Observe(float64(size))
}

// RecordDispatch increments the dispatched-request counter for one kind.
func (m *Metrics) RecordDispatch(kind string) {
	m.BusDispatched.WithLabelValues(kind).Inc()
}

// SetConnections sets the current open-connection gauge.
func (m *Metrics) SetConnections(n int) {
	m.Connections.Set(float64(n))
}

// RecordConnectionClosed increments the closed-connections counter for a
// reason (idle_timeout, eof, error, shutdown).
func (m *Metrics) RecordConnectionClosed(reason string) {
	m.ConnectionsClosed.WithLabelValues(reason).Inc()
}

// RecordPersist records one persistence sink write's outcome and duration.
func (m *Metrics) RecordPersist(backend string, seconds float64, err error) {
	m.PersistDuration.WithLabelValues(backend).Observe(seconds)
	if err != nil {
		m.PersistFailures.WithLabelValues(backend).Inc()
	}
}
