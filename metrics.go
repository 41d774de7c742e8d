package raft

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "raftlog"

// metrics are created per node and left unregistered; Node.Collectors exposes them so that
// several nodes can share a process.
type metrics struct {
	term          prometheus.Gauge
	commit        prometheus.Gauge
	applied       prometheus.Gauge
	isLeader      prometheus.Gauge
	elections     prometheus.Counter
	leaderChanges prometheus.Counter
	proposals     *prometheus.CounterVec
	queries       *prometheus.CounterVec
}

func newMetrics(id uint64) *metrics {
	labels := prometheus.Labels{"node": strconv.FormatUint(id, 10)}
	return &metrics{
		term: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "node",
			Name:        "term",
			Help:        "Current term of the node",
			ConstLabels: labels,
		}),
		commit: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "node",
			Name:        "commit_index",
			Help:        "Highest log index known to be committed",
			ConstLabels: labels,
		}),
		applied: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "node",
			Name:        "applied_index",
			Help:        "Highest log index applied to the application",
			ConstLabels: labels,
		}),
		isLeader: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "node",
			Name:        "is_leader",
			Help:        "1 if the node is the leader, 0 otherwise",
			ConstLabels: labels,
		}),
		elections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "node",
			Name:        "elections_total",
			Help:        "Number of elections started by the node",
			ConstLabels: labels,
		}),
		leaderChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "node",
			Name:        "leader_changes_total",
			Help:        "Number of times the node learnt of a new leader",
			ConstLabels: labels,
		}),
		proposals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "node",
			Name:        "proposals_total",
			Help:        "Number of proposals by result",
			ConstLabels: labels,
		}, []string{"result"}),
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "node",
			Name:        "queries_total",
			Help:        "Number of linearizable queries by result",
			ConstLabels: labels,
		}, []string{"result"}),
	}
}

func (m *metrics) observeState(s State) {
	m.term.Set(float64(s.Term))
	if s.Role == RoleLeader {
		m.isLeader.Set(1)
	} else {
		m.isLeader.Set(0)
	}
}

func (m *metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.term,
		m.commit,
		m.applied,
		m.isLeader,
		m.elections,
		m.leaderChanges,
		m.proposals,
		m.queries,
	}
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	return "error"
}
