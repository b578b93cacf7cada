// Package types holds the data model shared across Meridian's coordination
// components: node and shard descriptors, consensus log entries, region and
// transaction records. Components depend on these shapes rather than on each
// other's internal structs.
package types

import "time"

// NodeID uniquely identifies a node within a cluster. Immutable once
// registered.
type NodeID string

// ShardID identifies one shard of the keyspace.
type ShardID string

// TxnID identifies one distributed transaction, 2PC or saga.
type TxnID string

// NodeDescriptor is the registry's record of a cluster member.
type NodeDescriptor struct {
	ID            NodeID    `json:"id"`
	Addr          string    `json:"addr"`
	Port          int       `json:"port"`
	Live          bool      `json:"live"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

// LivenessState is the failure detector's classification of a node.
type LivenessState string

const (
	LivenessAlive   LivenessState = "alive"
	LivenessSuspect LivenessState = "suspect"
	LivenessFailed  LivenessState = "failed"
)

// ShardAssignment records which nodes hold replicas of a shard and, for
// range-partitioned shards, the key bounds it owns.
type ShardAssignment struct {
	ShardID         ShardID   `json:"shard_id"`
	Replicas        []NodeID  `json:"replicas"`
	RangeStart      string    `json:"range_start,omitempty"`
	RangeEnd        string    `json:"range_end,omitempty"`
	ByteSizeEstimate int64    `json:"byte_size_estimate"`
	LastRebalance   time.Time `json:"last_rebalance"`
}

// LogEntry is one entry of the replicated log.
type LogEntry struct {
	Index   uint64 `json:"index"`
	Term    uint64 `json:"term"`
	Command string `json:"command"`
	Payload []byte `json:"payload"`
}

// NodeRole is a consensus replica's current role.
type NodeRole string

const (
	RoleFollower  NodeRole = "follower"
	RoleCandidate NodeRole = "candidate"
	RoleLeader    NodeRole = "leader"
)

// RegionDescriptor identifies a peer deployment region that receives
// replicated writes.
type RegionDescriptor struct {
	RegionID  string `json:"region_id"`
	Addr      string `json:"addr"`
	Port      int    `json:"port"`
	IsPrimary bool   `json:"is_primary"`
}

// ReplicationStatus is a region's last-known replication health.
type ReplicationStatus struct {
	RegionID            string    `json:"region_id"`
	Connected           bool      `json:"connected"`
	LastReplicatedIndex uint64    `json:"last_replicated_index"`
	LastHeartbeat       time.Time `json:"last_heartbeat"`
	Err                 string    `json:"error,omitempty"`
}

// TxnKind distinguishes the two commitment protocols a TransactionRecord
// can run under.
type TxnKind string

const (
	TxnKindTwoPhase TxnKind = "two_phase"
	TxnKindSaga     TxnKind = "saga"
)

// TxnState is the lifecycle state of a TransactionRecord. 2PC moves
// Active -> Prepared -> Committed|Aborted; sagas move
// Active -> Completed|Failed|Compensated. Transitions are monotonic.
type TxnState string

const (
	TxnActive      TxnState = "active"
	TxnPrepared    TxnState = "prepared"
	TxnCommitted   TxnState = "committed"
	TxnAborted     TxnState = "aborted"
	TxnCompleted   TxnState = "completed"
	TxnFailed      TxnState = "failed"
	TxnCompensated TxnState = "compensated"
)

// TransactionRecord is the coordinator's bookkeeping for one distributed
// transaction, 2PC or saga.
type TransactionRecord struct {
	TxnID   TxnID     `json:"txn_id"`
	Kind    TxnKind   `json:"kind"`
	State   TxnState  `json:"state"`
	Started time.Time `json:"started"`
}

// SagaStepStatus is the lifecycle state of one SagaStep.
type SagaStepStatus string

const (
	StepPending     SagaStepStatus = "pending"
	StepExecuting   SagaStepStatus = "executing"
	StepCompleted   SagaStepStatus = "completed"
	StepFailed      SagaStepStatus = "failed"
	StepCompensated SagaStepStatus = "compensated"
)

// SagaStep is one forward-action/compensation pair in a saga.
type SagaStep struct {
	StepID        string         `json:"step_id"`
	Participant   NodeID         `json:"participant"`
	ForwardVerb   string         `json:"forward_verb"`
	CompensateVerb string        `json:"compensate_verb"`
	Data          map[string]any `json:"data,omitempty"`
	Status        SagaStepStatus `json:"status"`
}

// ResourceSample is one point-in-time reading of a node's resource
// utilization, fed to the elastic scaler and the load balancer's
// weighted-least-score policy.
type ResourceSample struct {
	NodeID    NodeID    `json:"node_id"`
	CPUPct    float64   `json:"cpu_pct"`
	MemPct    float64   `json:"mem_pct"`
	DiskPct   float64   `json:"disk_pct"`
	NetPct    float64   `json:"net_pct"`
	QueryRate float64   `json:"query_rate"`
	TxnRate   float64   `json:"txn_rate"`
	Observed  time.Time `json:"observed"`
}

// ShardResult is one shard's contribution to a cross-shard query.
type ShardResult struct {
	ShardID ShardID          `json:"shard_id"`
	Success bool             `json:"success"`
	Rows    []map[string]any `json:"rows,omitempty"`
	Err     string           `json:"error,omitempty"`
}

// ScaleAction is the elastic scaler's verdict for one evaluation cycle.
type ScaleAction string

const (
	ScaleUp       ScaleAction = "scale_up"
	ScaleDown     ScaleAction = "scale_down"
	ScaleNoAction ScaleAction = "no_action"
)

// ScaleDecision names the target node for a non-NoAction ScaleAction.
type ScaleDecision struct {
	Action ScaleAction `json:"action"`
	Target NodeID      `json:"target,omitempty"`
	Reason string      `json:"reason,omitempty"`
}
