package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// These cover the gateway and connection FSM; internal/raft carries its own
// package-level Metrics (see internal/raft/metrics.go) since a raft.Node's
// lifetime and label set (node_id) differ from the process-wide gauges here.
var (
	GatewayOpenDBs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nestd_gateway_open_dbs",
			Help: "Number of currently open database handles across all sessions",
		},
	)

	GatewayOpenStmts = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nestd_gateway_open_stmts",
			Help: "Number of currently prepared statements across all sessions",
		},
	)

	GatewayRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nestd_gateway_requests_total",
			Help: "Total number of gateway requests by operation and outcome",
		},
		[]string{"op", "outcome"},
	)

	GatewayRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nestd_gateway_request_duration_seconds",
			Help:    "Gateway request duration in seconds by operation",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	ConnFSMActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nestd_connfsm_active_connections",
			Help: "Number of currently open client connections",
		},
	)

	ConnFSMAborts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nestd_connfsm_aborts_total",
			Help: "Total number of connections aborted, by cause",
		},
		[]string{"cause"},
	)
)

func init() {
	prometheus.MustRegister(GatewayOpenDBs)
	prometheus.MustRegister(GatewayOpenStmts)
	prometheus.MustRegister(GatewayRequestsTotal)
	prometheus.MustRegister(GatewayRequestDuration)
	prometheus.MustRegister(ConnFSMActiveConnections)
	prometheus.MustRegister(ConnFSMAborts)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
