/*
Package metrics provides Prometheus metrics collection and exposition, plus a
small health-check registry, for nestd.

Metrics are defined and registered with the Prometheus client library at
package init, giving observability into gateway request volume/latency and
connection lifecycle. internal/raft keeps its own node_id-labeled Metrics
(see internal/raft/metrics.go) rather than sharing these process-wide
gauges, since a raft.Node's label set doesn't fit a singleton registry.

# Architecture

	┌──────────────────── METRICS SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │          Prometheus Registry                │          │
	│  │  - Global DefaultRegistry                   │          │
	│  │  - MustRegister at package init             │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Metric Categories                 │          │
	│  │                                              │          │
	│  │  Gateway: open dbs/stmts, request count,    │          │
	│  │           request duration                  │          │
	│  │  ConnFSM: active connections, aborts        │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          HTTP Metrics Endpoint              │          │
	│  │  - Path: /metrics                           │          │
	│  │  - Handler: metrics.Handler()                │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Metrics Catalog

nestd_gateway_open_dbs:
  - Type: Gauge
  - Description: Number of currently open database handles across all sessions

nestd_gateway_open_stmts:
  - Type: Gauge
  - Description: Number of currently prepared statements across all sessions

nestd_gateway_requests_total{op, outcome}:
  - Type: Counter
  - Description: Total gateway requests by operation and outcome (ok/error)

nestd_gateway_request_duration_seconds{op}:
  - Type: Histogram
  - Description: Gateway request duration in seconds by operation
  - Buckets: prometheus.DefBuckets

nestd_connfsm_active_connections:
  - Type: Gauge
  - Description: Number of currently open client connections

nestd_connfsm_aborts_total{cause}:
  - Type: Counter
  - Description: Total connections aborted, by cause (eof, reset_or_timeout, protocol, other)

# Usage

	import "github.com/cuemby/nestd/pkg/metrics"

	metrics.GatewayOpenDBs.Inc()
	metrics.GatewayRequestsTotal.WithLabelValues("query", "ok").Inc()

	timer := metrics.NewTimer()
	// ... handle the request ...
	timer.ObserveDurationVec(metrics.GatewayRequestDuration, "query")

	http.Handle("/metrics", metrics.Handler())

# Health Checks

Alongside metrics, this package maintains a small named-component health
registry used for /health, /ready, and /live endpoints:

	metrics.RegisterComponent("raft", true, "")
	metrics.RegisterComponent("gateway", true, "")

	http.Handle("/health", metrics.HealthHandler())
	http.Handle("/ready", metrics.ReadyHandler())
	http.Handle("/live", metrics.LivenessHandler())

GetReadiness reports "not_ready" until every component named in its
critical-components list ("raft", "gateway") has been registered healthy.

# Design Patterns

Package Init Registration:
  - All metrics registered in init(); MustRegister panics on duplicate
    registration, so metrics are guaranteed available before main() runs.

Timer Pattern:
  - Create a Timer at the start of an operation, observe its duration to a
    Histogram or HistogramVec when the operation completes.

# See Also

  - Prometheus client library: https://github.com/prometheus/client_golang
  - Histogram best practices: https://prometheus.io/docs/practices/histograms/
*/
package metrics
