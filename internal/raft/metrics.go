package raft

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the prometheus collector set for one Node, grounded on the
// teacher's pkg/metrics gauge/counter style (package-level NewGaugeVec /
// NewCounterVec construction, node-specific labels applied at call time
// rather than baked into global vars).
type Metrics struct {
	State          *prometheus.GaugeVec
	Term           prometheus.Gauge
	CommitIndex    prometheus.Gauge
	LastApplied    prometheus.Gauge
	LogLength      prometheus.Gauge
	Elections      *prometheus.CounterVec
	Snapshots      prometheus.Counter
	AppendRejected *prometheus.CounterVec
}

// NewMetrics builds a fresh Metrics set and registers it with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		State: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "nestd_raft_state",
			Help: "Raft role as a one-hot gauge (1 = current state, labeled by state name)",
		}, []string{"node_id", "state"}),
		Term: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nestd_raft_term",
			Help: "Current Raft term",
		}),
		CommitIndex: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nestd_raft_commit_index",
			Help: "Highest committed log index",
		}),
		LastApplied: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nestd_raft_last_applied",
			Help: "Highest log index applied to the FSM",
		}),
		LogLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nestd_raft_log_length",
			Help: "Number of entries retained in the in-memory log",
		}),
		Elections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nestd_raft_elections_total",
			Help: "Election attempts started, labeled by pre_vote",
		}, []string{"pre_vote"}),
		Snapshots: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nestd_raft_snapshots_total",
			Help: "Snapshots taken by this node",
		}),
		AppendRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nestd_raft_append_rejected_total",
			Help: "AppendEntries RPCs rejected, labeled by follower id",
		}, []string{"follower_id"}),
	}
	if reg != nil {
		reg.MustRegister(m.State, m.Term, m.CommitIndex, m.LastApplied, m.LogLength, m.Elections, m.Snapshots, m.AppendRejected)
	}
	return m
}

// SetRaftState publishes a one-hot gauge across all known states so
// dashboards can chart the fraction of time spent in each role without a
// join against a separate "current state" series.
func (m *Metrics) SetRaftState(nodeID uint64, state State) {
	id := strconv.FormatUint(nodeID, 10)
	for _, s := range []State{StateUnavailable, StateFollower, StateCandidate, StateLeader} {
		v := 0.0
		if s == state {
			v = 1.0
		}
		m.State.WithLabelValues(id, s.String()).Set(v)
	}
}
