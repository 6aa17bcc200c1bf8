package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Terminal metrics
	TerminalsActive   prometheus.Gauge
	TerminalsCreated  *prometheus.CounterVec
	SpawnFailures     prometheus.Counter
	TerminalsOrphaned prometheus.Counter
	TerminalsKilled   *prometheus.CounterVec
	NaturalExits      prometheus.Counter
	SessionsPruned    prometheus.Counter
	BackingFailures   *prometheus.CounterVec

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec
	WSDropped     prometheus.Counter

	// System metrics
	Uptime    prometheus.GaugeFunc
	startTime time.Time
}

// NewMetrics creates a metrics collector on its own registry, so several
// instances can coexist in one process.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		// HTTP metrics
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "termhost_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "termhost_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),

		// Terminal metrics
		TerminalsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "termhost_terminals_active",
				Help: "Number of live terminals",
			},
		),
		TerminalsCreated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "termhost_terminals_created_total",
				Help: "Total number of terminals created",
			},
			[]string{"mode"},
		),
		SpawnFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "termhost_spawn_failures_total",
				Help: "Total number of terminal creations that failed to spawn",
			},
		),
		TerminalsOrphaned: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "termhost_terminals_orphaned_total",
				Help: "Total number of terminals detached from their owner",
			},
		),
		TerminalsKilled: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "termhost_terminals_killed_total",
				Help: "Total number of terminals killed by the host",
			},
			[]string{"reason"},
		),
		NaturalExits: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "termhost_terminals_exited_total",
				Help: "Total number of terminals whose process exited on its own",
			},
		),
		SessionsPruned: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "termhost_backing_sessions_pruned_total",
				Help: "Total number of stale backing sessions killed by reconciliation",
			},
		),
		BackingFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "termhost_backing_failures_total",
				Help: "Total number of failed backing tool invocations",
			},
			[]string{"operation"},
		),

		// WebSocket metrics
		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "termhost_ws_connections",
				Help: "Number of active WebSocket connections",
			},
		),
		WSMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "termhost_ws_messages_total",
				Help: "Total number of WebSocket messages",
			},
			[]string{"direction", "type"},
		),
		WSDropped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "termhost_ws_messages_dropped_total",
				Help: "Outbound messages dropped because a connection could not keep up",
			},
		),
	}

	m.Uptime = factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "termhost_uptime_seconds",
			Help: "Host uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)

	return m
}

// Registry exposes the underlying registry for tests and custom collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// SetTerminalsActive sets the number of live terminals
func (m *Metrics) SetTerminalsActive(count int) {
	m.TerminalsActive.Set(float64(count))
}

// IncTerminalsCreated counts a created terminal; mode is "direct" or "backed"
func (m *Metrics) IncTerminalsCreated(mode string) {
	m.TerminalsCreated.WithLabelValues(mode).Inc()
}

// IncSpawnFailures counts a failed creation
func (m *Metrics) IncSpawnFailures() {
	m.SpawnFailures.Inc()
}

// IncTerminalsOrphaned counts an owner detach
func (m *Metrics) IncTerminalsOrphaned() {
	m.TerminalsOrphaned.Inc()
}

// IncTerminalsKilled counts a host-initiated kill; reason is "close", "orphan_timeout" or "max_lifetime"
func (m *Metrics) IncTerminalsKilled(reason string) {
	m.TerminalsKilled.WithLabelValues(reason).Inc()
}

// IncNaturalExits counts a process that exited on its own
func (m *Metrics) IncNaturalExits() {
	m.NaturalExits.Inc()
}

// AddSessionsPruned counts stale backing sessions removed by reconciliation
func (m *Metrics) AddSessionsPruned(n int) {
	m.SessionsPruned.Add(float64(n))
}

// IncBackingFailures counts a failed backing tool call
func (m *Metrics) IncBackingFailures(operation string) {
	m.BackingFailures.WithLabelValues(operation).Inc()
}

// RecordWSMessage records a WebSocket message
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// IncWSDropped counts an outbound message dropped for a slow connection
func (m *Metrics) IncWSDropped() {
	m.WSDropped.Inc()
}

// IncWSConnections increments WebSocket connections
func (m *Metrics) IncWSConnections() {
	m.WSConnections.Inc()
}

// DecWSConnections decrements WebSocket connections
func (m *Metrics) DecWSConnections() {
	m.WSConnections.Dec()
}
