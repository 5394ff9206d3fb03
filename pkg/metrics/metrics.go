// Package metrics exposes the process's Prometheus registry. Series are
// keyed by the label tuple (operation, node, group, raft_node), created
// lazily and shared by identity the way prometheus.*Vec already does -
// there is no separate lookup table to keep in sync.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry groups every series this module emits under one
// prometheus.Registerer so a binary can mount exactly one /metrics
// handler regardless of how many Raft groups or compaction workers it
// runs.
type Registry struct {
	reg *prometheus.Registry

	applyLatency  *prometheus.HistogramVec
	appendLatency *prometheus.HistogramVec
	appendEntries *prometheus.CounterVec

	compactionDuration *prometheus.HistogramVec
	compactionInputs   *prometheus.CounterVec
	compactionOutputs  *prometheus.CounterVec

	raftIsLeader *prometheus.GaugeVec
	raftTerm     *prometheus.GaugeVec
}

// New constructs and registers a fresh Registry.
func New() *Registry {
	r := &Registry{reg: prometheus.NewRegistry()}

	r.applyLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rockyardkv_raft_apply_latency_seconds",
		Help:    "Latency of FSM.Apply calls per Raft group.",
		Buckets: prometheus.DefBuckets,
	}, []string{"group"})

	r.appendLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rockyardkv_raft_append_latency_seconds",
		Help:    "Latency of raft log store Append calls per Raft group.",
		Buckets: prometheus.DefBuckets,
	}, []string{"group"})

	r.appendEntries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rockyardkv_raft_append_entries_total",
		Help: "Entries persisted by the raft log store per Raft group.",
	}, []string{"group"})

	r.compactionDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rockyardkv_compaction_duration_seconds",
		Help:    "Duration of a single compaction request.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	r.compactionInputs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rockyardkv_compaction_input_sstables_total",
		Help: "Input SSTs consumed by compaction requests.",
	}, []string{"operation"})

	r.compactionOutputs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rockyardkv_compaction_output_sstables_total",
		Help: "Output SSTs produced by compaction requests.",
	}, []string{"operation"})

	r.raftIsLeader = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rockyardkv_raft_is_leader",
		Help: "1 if this node believes it is leader of the group, else 0.",
	}, []string{"node", "group", "raft_node"})

	r.raftTerm = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rockyardkv_raft_term",
		Help: "Current Raft term observed by this node for the group.",
	}, []string{"node", "group", "raft_node"})

	r.reg.MustRegister(
		r.applyLatency, r.appendLatency, r.appendEntries,
		r.compactionDuration, r.compactionInputs, r.compactionOutputs,
		r.raftIsLeader, r.raftTerm,
	)
	return r
}

// Handler exposes the registry on an HTTP mux.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// ObserveApplyLatency records how long one FSM.Apply batch took for group.
func (r *Registry) ObserveApplyLatency(group uint64, d time.Duration) {
	r.applyLatency.WithLabelValues(groupLabel(group)).Observe(d.Seconds())
}

// ObserveAppendLatency records how long one log store Append took for
// group, and counts the entries it persisted.
func (r *Registry) ObserveAppendLatency(group uint64, d time.Duration, numEntries int) {
	g := groupLabel(group)
	r.appendLatency.WithLabelValues(g).Observe(d.Seconds())
	r.appendEntries.WithLabelValues(g).Add(float64(numEntries))
}

// ObserveCompaction records one compaction request's duration and the
// number of input/output SSTs it processed.
func (r *Registry) ObserveCompaction(d time.Duration, numInputs, numOutputs int) {
	const op = "compact"
	r.compactionDuration.WithLabelValues(op).Observe(d.Seconds())
	r.compactionInputs.WithLabelValues(op).Add(float64(numInputs))
	r.compactionOutputs.WithLabelValues(op).Add(float64(numOutputs))
}

// SetRaftState updates the leader/term gauges for one (node, group,
// raft_node) tuple.
func (r *Registry) SetRaftState(node, group, raftNode uint64, isLeader bool, term uint64) {
	n, g, rn := nodeLabel(node), groupLabel(group), nodeLabel(raftNode)
	lead := 0.0
	if isLeader {
		lead = 1.0
	}
	r.raftIsLeader.WithLabelValues(n, g, rn).Set(lead)
	r.raftTerm.WithLabelValues(n, g, rn).Set(float64(term))
}

func groupLabel(group uint64) string { return strconv.FormatUint(group, 10) }
func nodeLabel(node uint64) string   { return strconv.FormatUint(node, 10) }
