package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Cluster metrics
	NodesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "meridian_nodes_total",
			Help: "Total number of registered nodes by liveness state",
		},
		[]string{"state"},
	)

	ShardsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "meridian_shards_total",
			Help: "Total number of shards in the shard map",
		},
	)

	// Consensus (ReplicatedLog) metrics
	ConsensusIsLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "meridian_consensus_is_leader",
			Help: "Whether this node is the consensus leader (1 = leader, 0 = follower/candidate)",
		},
	)

	ConsensusTerm = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "meridian_consensus_term",
			Help: "Current consensus term observed by this node",
		},
	)

	ConsensusLastLogIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "meridian_consensus_last_log_index",
			Help: "Index of the last log entry on this node",
		},
	)

	ConsensusCommitIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "meridian_consensus_commit_index",
			Help: "Highest committed log index on this node",
		},
	)

	ConsensusAppliedIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "meridian_consensus_applied_index",
			Help: "Highest applied log index on this node",
		},
	)

	ConsensusElectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "meridian_consensus_elections_total",
			Help: "Total number of consensus term increases observed by this node",
		},
	)

	ConsensusSubmitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "meridian_consensus_submit_duration_seconds",
			Help:    "Time from submit() to the entry being committed and applied",
			Buckets: prometheus.DefBuckets,
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meridian_api_requests_total",
			Help: "Total number of API requests by operation and status",
		},
		[]string{"operation", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "meridian_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// Rebalancer / sharding metrics
	RebalancePlansTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meridian_rebalance_plans_total",
			Help: "Total number of rebalance plans executed by outcome",
		},
		[]string{"outcome"},
	)

	RebalanceMovesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "meridian_rebalance_moves_total",
			Help: "Total number of shard moves completed",
		},
	)

	// 2PC metrics
	TxnOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meridian_txn_outcomes_total",
			Help: "Total number of 2PC transactions by terminal state",
		},
		[]string{"state"},
	)

	// Saga metrics
	SagaOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meridian_saga_outcomes_total",
			Help: "Total number of sagas by terminal state",
		},
		[]string{"state"},
	)

	// Replication metrics
	ReplicationLagSeconds = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "meridian_replication_lag_seconds",
			Help: "Seconds since the last successful heartbeat per region",
		},
		[]string{"region"},
	)

	ConflictsResolvedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meridian_conflicts_resolved_total",
			Help: "Total number of key conflicts resolved by strategy",
		},
		[]string{"strategy"},
	)

	// Cross-shard query metrics
	QueryFanoutDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "meridian_query_fanout_duration_seconds",
			Help:    "Time taken to fan a cross-shard query out and collect results",
			Buckets: prometheus.DefBuckets,
		},
	)

	QueryShardFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "meridian_query_shard_failures_total",
			Help: "Total number of per-shard query failures (timeout or error)",
		},
	)

	// Elastic scaler metrics
	ScalingDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meridian_scaling_decisions_total",
			Help: "Total number of scaling decisions emitted by action",
		},
		[]string{"action"},
	)
)

func init() {
	prometheus.MustRegister(
		NodesTotal,
		ShardsTotal,
		ConsensusIsLeader,
		ConsensusTerm,
		ConsensusLastLogIndex,
		ConsensusCommitIndex,
		ConsensusAppliedIndex,
		ConsensusElectionsTotal,
		ConsensusSubmitDuration,
		APIRequestsTotal,
		APIRequestDuration,
		RebalancePlansTotal,
		RebalanceMovesTotal,
		TxnOutcomesTotal,
		SagaOutcomesTotal,
		ReplicationLagSeconds,
		ConflictsResolvedTotal,
		QueryFanoutDuration,
		QueryShardFailuresTotal,
		ScalingDecisionsTotal,
	)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
