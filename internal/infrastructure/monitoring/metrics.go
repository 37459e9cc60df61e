package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the session service.
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Session metrics
	SessionsActive     prometheus.Gauge
	SessionsCreated    *prometheus.CounterVec
	SessionsTerminated *prometheus.CounterVec
	CommandsTotal      prometheus.Counter
	OutputBytes        prometheus.Counter
	InputBytes         prometheus.Counter

	// Endpoint metrics
	EndpointsAttached prometheus.Gauge
	WSMessages        *prometheus.CounterVec

	// Audit metrics
	AuditEvents *prometheus.CounterVec

	// System metrics
	Uptime    prometheus.Gauge
	startTime time.Time
}

// NewMetrics creates a new metrics collector registered on a private
// registry, so multiple instances can coexist in tests.
func NewMetrics() *Metrics {
	return newMetrics(prometheus.NewRegistry())
}

// NewMetricsWith registers the collectors on the given registerer.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	return newMetrics(reg)
}

func newMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	m := &Metrics{
		startTime: time.Now(),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jitterm_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "jitterm_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),

		SessionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "jitterm_sessions_active",
				Help: "Number of active terminal sessions",
			},
		),
		SessionsCreated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jitterm_sessions_created_total",
				Help: "Total number of terminal sessions created",
			},
			[]string{"kind"},
		),
		SessionsTerminated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jitterm_sessions_terminated_total",
				Help: "Total number of terminal sessions terminated",
			},
			[]string{"trigger"},
		),
		CommandsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "jitterm_commands_total",
				Help: "Total number of completed command lines across sessions",
			},
		),
		OutputBytes: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "jitterm_pty_output_bytes_total",
				Help: "Total bytes of PTY output streamed to endpoints",
			},
		),
		InputBytes: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "jitterm_pty_input_bytes_total",
				Help: "Total bytes of input written to PTYs",
			},
		),

		EndpointsAttached: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "jitterm_endpoints_attached",
				Help: "Number of transport endpoints currently attached",
			},
		),
		WSMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jitterm_ws_messages_total",
				Help: "Total number of WebSocket messages",
			},
			[]string{"direction", "type"},
		),

		AuditEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jitterm_audit_events_total",
				Help: "Total number of audit events recorded",
			},
			[]string{"action"},
		),

		Uptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "jitterm_uptime_seconds",
				Help: "Service uptime in seconds",
			},
		),
	}

	go m.updateUptime()

	return m
}

// updateUptime continuously updates the uptime metric.
func (m *Metrics) updateUptime() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for range ticker.C {
		m.Uptime.Set(time.Since(m.startTime).Seconds())
	}
}

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordWSMessage records a WebSocket message.
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// RecordAuditEvent records an audit event by action.
func (m *Metrics) RecordAuditEvent(action string) {
	m.AuditEvents.WithLabelValues(action).Inc()
}
