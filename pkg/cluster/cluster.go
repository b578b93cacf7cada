// Package cluster implements ClusterSupervisor, the top-level facade
// that initializes every coordination component in dependency order,
// wires their callbacks and event-bus subscriptions, and exposes the
// coarse operator surface named in the coordination design's §6
// (add_node, remove_node, submit_command, begin_transaction, ...). It is
// grounded in the teacher's pkg/manager.Manager: a single struct owning
// every subsystem, constructed once at node startup and torn down once
// at shutdown, generalized from Warren's container-orchestration
// concerns to Meridian's replication/consensus/sharding ones.
package cluster

import (
	"fmt"

	"github.com/cuemby/meridian/pkg/balancer"
	"github.com/cuemby/meridian/pkg/config"
	"github.com/cuemby/meridian/pkg/consensus"
	"github.com/cuemby/meridian/pkg/events"
	"github.com/cuemby/meridian/pkg/gateway"
	"github.com/cuemby/meridian/pkg/log"
	"github.com/cuemby/meridian/pkg/merr"
	"github.com/cuemby/meridian/pkg/query"
	"github.com/cuemby/meridian/pkg/registry"
	"github.com/cuemby/meridian/pkg/replication"
	"github.com/cuemby/meridian/pkg/saga"
	"github.com/cuemby/meridian/pkg/scale"
	"github.com/cuemby/meridian/pkg/shard"
	"github.com/cuemby/meridian/pkg/storage"
	"github.com/cuemby/meridian/pkg/txn"
	"github.com/cuemby/meridian/pkg/types"
	"github.com/google/uuid"
	"github.com/hashicorp/raft"
	"github.com/rs/zerolog"
)

// Options configures a Supervisor at construction time. Everything
// optional is given a sane default so a single-node demo needs only
// NodeID and Config.
type Options struct {
	NodeID types.NodeID
	Config config.Config

	// Peers is this replica's fellow voting members. Empty means a
	// single-voter consensus group (always leader).
	Peers []consensus.Peer
	// Transport defaults to an in-memory raft.Transport for
	// single-process deployments/tests; consensus.NewTCPTransport
	// replaces it for a networked cluster.
	Transport raft.Transport
	// Stores defaults to storage.NewMemory(); supply
	// storage.NewBolt(dataDir) for durability across restarts.
	Stores storage.Stores

	ReplicaFactor int
	ScaleTrigger  scale.Trigger
	ScalePolicy   scale.Policy
}

// Supervisor owns every coordination component for one cluster node and
// exposes the operator-facing facade the external interface table names.
type Supervisor struct {
	nodeID types.NodeID
	cfg    config.Config

	broker     *events.Broker
	registry   *registry.Registry
	balancer   *balancer.Balancer
	shardMap   *shard.Map
	rebalancer *shard.Rebalancer
	consensus  *consensus.Node
	replicator *replication.Replicator
	resolver   *replication.ConflictResolver
	twoPhase   *txn.Coordinator
	sagas      *saga.Orchestrator
	gateway    *gateway.Gateway
	executor   *query.Executor
	scaler     *scale.Scaler

	logger zerolog.Logger
}

// New constructs every component in leaf-first dependency order
// (registry → balancer → shard map/rebalancer → consensus →
// replication → 2PC/saga → gateway → cross-shard executor → elastic
// scaler) and wires their cross-component event subscriptions. It does
// not start any background loop; call Start for that.
func New(opts Options) (*Supervisor, error) {
	if opts.NodeID == "" {
		return nil, merr.New(merr.KindInvalidArgument, "node id is required")
	}
	cfg := opts.Config
	if cfg.ShardCount == 0 {
		cfg = config.Default()
	}
	replicaFactor := opts.ReplicaFactor
	if replicaFactor == 0 {
		replicaFactor = 1
	}

	broker := events.NewBroker()

	reg := registry.New(cfg, broker)
	bal := balancer.New(balancer.PolicyRoundRobin)
	shardMap := shard.NewMap(cfg.PlacementStrategy, cfg.ShardCount)
	rebalancer := shard.NewRebalancer(shardMap, cfg.RebalancingThreshold, broker)

	transport := opts.Transport
	if transport == nil {
		_, inmem := consensus.NewInmemTransport(opts.NodeID)
		transport = inmem
	}
	stores := opts.Stores
	if stores.Log == nil {
		stores = storage.NewMemory()
	}
	node, err := consensus.New(opts.NodeID, opts.Peers, transport, stores, cfg, broker)
	if err != nil {
		return nil, fmt.Errorf("cluster: start consensus: %w", err)
	}

	replicator := replication.New(cfg, broker)
	resolver := replication.NewConflictResolver(cfg.ConflictResolution)

	twoPhase := txn.New(cfg, broker)
	sagas := saga.New(cfg, broker)
	gw := gateway.New(twoPhase, sagas)

	executor := query.New(shardMap, cfg)

	scalePolicy := opts.ScalePolicy
	scaler := scale.New(opts.ScaleTrigger, scalePolicy, cfg, broker)

	s := &Supervisor{
		nodeID:     opts.NodeID,
		cfg:        cfg,
		broker:     broker,
		registry:   reg,
		balancer:   bal,
		shardMap:   shardMap,
		rebalancer: rebalancer,
		consensus:  node,
		replicator: replicator,
		resolver:   resolver,
		twoPhase:   twoPhase,
		sagas:      sagas,
		gateway:    gw,
		executor:   executor,
		scaler:     scaler,
		logger:     log.WithComponent("cluster"),
	}

	s.wireEvents()
	s.scaler.SetNodeCounter(func() int { return len(s.registry.Snapshot()) })
	return s, nil
}

// wireEvents subscribes the supervisor's own cross-cutting log handler to
// the broker. Components publish; nothing holds an owning pointer to a
// sibling component, per the redesign notes on cyclic callback graphs.
func (s *Supervisor) wireEvents() {
	sub := s.broker.Subscribe()
	go func() {
		for ev := range sub {
			s.logger.Debug().Str("event", string(ev.Type)).Msg("cluster event")
		}
	}()
}

// Start brings up every background loop in dependency order: event
// broker, registry liveness monitor, consensus leadership watcher and
// metrics sampler, region heartbeat loop, 2PC timeout sweeper, elastic
// scaler evaluator. It places no shards (see BootstrapShards) and always
// returns nil.
func (s *Supervisor) Start() error {
	s.broker.Start()
	s.registry.Start()
	s.consensus.Start()
	s.replicator.Start()
	s.twoPhase.Start()
	s.scaler.Start()
	s.logger.Info().Str("node_id", string(s.nodeID)).Msg("cluster supervisor started")
	return nil
}

// Shutdown reverses Start's order so no component outlives a peer it
// depends on, then stops the event broker last so in-flight
// notifications are not dropped mid-shutdown.
func (s *Supervisor) Shutdown() {
	s.scaler.Stop()
	s.twoPhase.Stop()
	s.replicator.Stop()
	if err := s.consensus.Stop(); err != nil {
		s.logger.Warn().Err(err).Msg("consensus shutdown returned an error")
	}
	s.registry.Stop()
	s.broker.Stop()
	s.logger.Info().Str("node_id", string(s.nodeID)).Msg("cluster supervisor stopped")
}

// Broker exposes the event bus for callers that want to subscribe
// directly.
func (s *Supervisor) Broker() *events.Broker { return s.broker }

// AddNode registers a new node and makes it a balancer candidate.
func (s *Supervisor) AddNode(id types.NodeID, addr string, port int) error {
	if err := s.registry.Register(id, addr, port); err != nil {
		return err
	}
	s.balancer.AddCandidate(id)
	return nil
}

// RemoveNode deregisters a node and drops it from balancer
// consideration.
func (s *Supervisor) RemoveNode(id types.NodeID) error {
	if err := s.registry.Deregister(id); err != nil {
		return err
	}
	s.balancer.RemoveCandidate(id)
	return nil
}

// Heartbeat records a liveness pulse for id.
func (s *Supervisor) Heartbeat(id types.NodeID) error {
	return s.registry.Heartbeat(id)
}

// BootstrapShards places cfg.ShardCount shards across the currently live
// node set, replicaFactor replicas each.
func (s *Supervisor) BootstrapShards(replicaFactor int) error {
	live := make([]types.NodeID, 0)
	for _, n := range s.registry.LiveNodes() {
		live = append(live, n.ID)
	}
	return s.shardMap.Bootstrap(live, replicaFactor)
}

// SubmitCommand submits a command to the replicated log. Only the
// consensus leader accepts; followers return merr.NotLeader with the
// last-known leader hint.
func (s *Supervisor) SubmitCommand(command string, payload []byte) (uint64, error) {
	return s.consensus.Submit(command, payload)
}

// OnApply registers the callback invoked once per committed log entry.
func (s *Supervisor) OnApply(fn consensus.ApplyFunc) { s.consensus.OnApply(fn) }

// BeginTransaction starts a new distributed transaction of the given
// kind and returns a freshly minted TxnID.
func (s *Supervisor) BeginTransaction(kind types.TxnKind, participants []txn.Participant, steps []types.SagaStep) (types.TxnID, error) {
	txnID := types.TxnID(uuid.NewString())
	var err error
	switch kind {
	case types.TxnKindTwoPhase:
		err = s.gateway.BeginTwoPhase(txnID, participants)
	case types.TxnKindSaga:
		err = s.gateway.BeginSaga(txnID, steps)
	default:
		return "", merr.New(merr.KindInvalidArgument, fmt.Sprintf("unknown transaction kind: %s", kind))
	}
	if err != nil {
		return "", err
	}
	return txnID, nil
}

// AddParticipant adds a 2PC participant to txnID.
func (s *Supervisor) AddParticipant(txnID types.TxnID, p txn.Participant) error {
	return s.gateway.AddParticipant(txnID, p)
}

// AddSagaStep adds a step to a saga-kind txnID.
func (s *Supervisor) AddSagaStep(txnID types.TxnID, step types.SagaStep) error {
	return s.gateway.AddSagaStep(txnID, step)
}

// ExecuteTransaction runs txnID to its terminal state.
func (s *Supervisor) ExecuteTransaction(txnID types.TxnID) (types.TxnState, error) {
	return s.gateway.Execute(txnID)
}

// ExecuteCrossShardQuery fans query out to the relevant shards (or
// exactly shardIDs, if non-empty) and returns per-shard results.
func (s *Supervisor) ExecuteCrossShardQuery(query string, shardIDs []types.ShardID) ([]types.ShardResult, error) {
	if len(shardIDs) > 0 {
		return s.executor.ExecuteOnSubset(query, shardIDs)
	}
	return s.executor.ExecuteOnAll(query)
}

// UpdateResourceSample feeds a fresh resource reading to both the
// balancer's weighted-least-score policy and the elastic scaler.
func (s *Supervisor) UpdateResourceSample(sample types.ResourceSample) {
	s.balancer.UpdateStats(sample)
	s.scaler.UpdateSample(sample)
}

// Registry, ShardMap, Rebalancer, Consensus, Replicator, Resolver,
// Executor, and Scaler expose the underlying components for callers
// (notably pkg/api) that need operations this facade does not cover.
func (s *Supervisor) Registry() *registry.Registry               { return s.registry }
func (s *Supervisor) Balancer() *balancer.Balancer                { return s.balancer }
func (s *Supervisor) ShardMap() *shard.Map                        { return s.shardMap }
func (s *Supervisor) Rebalancer() *shard.Rebalancer               { return s.rebalancer }
func (s *Supervisor) Consensus() *consensus.Node                  { return s.consensus }
func (s *Supervisor) Replicator() *replication.Replicator         { return s.replicator }
func (s *Supervisor) Resolver() *replication.ConflictResolver     { return s.resolver }
func (s *Supervisor) Executor() *query.Executor                  { return s.executor }
func (s *Supervisor) Scaler() *scale.Scaler                       { return s.scaler }
