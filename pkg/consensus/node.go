// Package consensus implements the leader-elected replicated log that
// orders writes across a fixed voter set. It is grounded in the
// teacher's own dependency choice for this concern: github.com/hashicorp/raft
// plus github.com/hashicorp/raft-boltdb, the same pairing pkg/manager.Manager
// and poc/raft wire up for Warren's own cluster log. Node is a thin
// wrapper around *raft.Raft: it owns configuration translation, the
// FSM that bridges committed entries to the registered ApplyFunc, and
// the handful of accessors the rest of this codebase needs
// (IsLeader, CurrentTerm, CommitIndex, LeaderHint, Submit).
package consensus

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/cuemby/meridian/pkg/config"
	"github.com/cuemby/meridian/pkg/events"
	"github.com/cuemby/meridian/pkg/log"
	"github.com/cuemby/meridian/pkg/merr"
	"github.com/cuemby/meridian/pkg/metrics"
	"github.com/cuemby/meridian/pkg/storage"
	"github.com/cuemby/meridian/pkg/types"
	"github.com/hashicorp/raft"
	"github.com/rs/zerolog"
)

// ApplyFunc is invoked once per committed entry, in strict increasing
// index order, exactly once per replica. It runs on raft's own FSM
// goroutine and must not block indefinitely.
type ApplyFunc func(entry types.LogEntry)

// Peer identifies one other voting member of the consensus group. Addr
// and Port are empty for peers reachable only through an in-memory
// transport (tests, single-process demos), where the peer's NodeID
// doubles as its transport address.
type Peer struct {
	ID   types.NodeID
	Addr string
	Port int
}

// Node is one replica of the replicated log.
type Node struct {
	id     types.NodeID
	raft   *raft.Raft
	fsm    *raftFSM
	broker *events.Broker
	logger zerolog.Logger

	applyTimeout time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds and starts a raft.Raft instance bound to stores and
// transport, and bootstraps it as a member of peers (plus itself) if
// no persisted configuration already exists — the pattern poc/raft and
// pkg/manager.Manager.Bootstrap both follow for a statically known
// voter set.
func New(id types.NodeID, peers []Peer, transport raft.Transport, stores storage.Stores, cfg config.Config, broker *events.Broker) (*Node, error) {
	raftCfg := raft.DefaultConfig()
	raftCfg.LocalID = raft.ServerID(id)
	raftCfg.LogOutput = io.Discard

	if hb := time.Duration(cfg.LeaderHeartbeatInterval); hb > 0 {
		raftCfg.HeartbeatTimeout = hb
		raftCfg.LeaderLeaseTimeout = hb
	}
	// raft randomizes its actual election timeout in
	// [ElectionTimeout, 2*ElectionTimeout); ElectionTimeoutMax is not
	// consulted directly, since raft already owns that randomization.
	if et := time.Duration(cfg.ElectionTimeoutMin); et > 0 {
		raftCfg.ElectionTimeout = et
	}
	if err := raft.ValidateConfig(raftCfg); err != nil {
		return nil, fmt.Errorf("consensus: invalid raft config: %w", err)
	}

	fsm := &raftFSM{}
	r, err := raft.NewRaft(raftCfg, fsm, stores.Log, stores.Stable, stores.Snapshot, transport)
	if err != nil {
		return nil, fmt.Errorf("consensus: start raft: %w", err)
	}

	servers := []raft.Server{{ID: raftCfg.LocalID, Address: transport.LocalAddr()}}
	for _, p := range peers {
		servers = append(servers, raft.Server{ID: raft.ServerID(p.ID), Address: peerAddress(p)})
	}
	bootstrap := r.BootstrapCluster(raft.Configuration{Servers: servers})
	if err := bootstrap.Error(); err != nil && !errors.Is(err, raft.ErrCantBootstrap) {
		return nil, fmt.Errorf("consensus: bootstrap cluster: %w", err)
	}

	return &Node{
		id:           id,
		raft:         r,
		fsm:          fsm,
		broker:       broker,
		logger:       log.WithComponent("consensus"),
		applyTimeout: 5 * time.Second,
		stopCh:       make(chan struct{}),
	}, nil
}

func peerAddress(p Peer) raft.ServerAddress {
	if p.Addr == "" {
		return raft.ServerAddress(p.ID)
	}
	return raft.ServerAddress(fmt.Sprintf("%s:%d", p.Addr, p.Port))
}

// OnApply registers the callback invoked for each committed entry.
func (n *Node) OnApply(fn ApplyFunc) {
	n.fsm.setApplyFn(fn)
}

// Start begins the leadership-change watcher and periodic metrics
// sampling; raft itself is already running once New returns.
func (n *Node) Start() {
	n.wg.Add(2)
	go n.watchLeadership()
	go n.sampleMetrics()
}

// Stop shuts the underlying raft instance down and waits for this
// node's background goroutines to exit.
func (n *Node) Stop() error {
	close(n.stopCh)
	n.wg.Wait()
	return n.raft.Shutdown().Error()
}

// IsLeader reports whether this node currently believes itself leader.
func (n *Node) IsLeader() bool {
	return n.raft.State() == raft.Leader
}

// CurrentTerm returns the node's current term.
func (n *Node) CurrentTerm() uint64 {
	term, _ := strconv.ParseUint(n.raft.Stats()["term"], 10, 64)
	return term
}

// CommitIndex returns the highest log index this replica has applied
// to its FSM.
func (n *Node) CommitIndex() uint64 {
	return n.raft.AppliedIndex()
}

// LeaderHint returns the last-known leader id, for redirecting
// not-leader callers.
func (n *Node) LeaderHint() types.NodeID {
	_, id := n.raft.LeaderWithID()
	return types.NodeID(id)
}

// Submit is accepted only by the leader; followers return a not_leader
// error carrying the last-known leader hint. It blocks until the entry
// is committed and applied to this replica's FSM before returning its
// index.
func (n *Node) Submit(command string, payload []byte) (uint64, error) {
	if n.raft.State() != raft.Leader {
		return 0, merr.New(merr.KindNotLeader, "not the leader").WithLeaderHint(string(n.LeaderHint()))
	}

	timer := metrics.NewTimer()
	data, err := encodeCommand(command, payload)
	if err != nil {
		return 0, merr.Wrap(merr.KindInvalidArgument, err, "failed to encode log entry")
	}

	future := n.raft.Apply(data, n.applyTimeout)
	if err := future.Error(); err != nil {
		if errors.Is(err, raft.ErrNotLeader) || errors.Is(err, raft.ErrLeadershipLost) || errors.Is(err, raft.ErrLeadershipTransferInProgress) {
			return 0, merr.New(merr.KindNotLeader, "not the leader").WithLeaderHint(string(n.LeaderHint()))
		}
		return 0, merr.Wrap(merr.KindUnavailable, err, "failed to apply log entry")
	}

	timer.ObserveDuration(metrics.ConsensusSubmitDuration)
	return future.Index(), nil
}

// watchLeadership logs and publishes EventLeaderElected on every
// leadership transition raft reports on LeaderCh, matching the
// coordination design's "dedicated worker observes state, never blocks
// the request path" model.
func (n *Node) watchLeadership() {
	defer n.wg.Done()
	for {
		select {
		case <-n.stopCh:
			return
		case isLeader, ok := <-n.raft.LeaderCh():
			if !ok {
				return
			}
			if isLeader {
				metrics.ConsensusIsLeader.Set(1)
				n.logger.Info().Str("node_id", string(n.id)).Msg("became leader")
				if n.broker != nil {
					n.broker.Publish(&events.Event{Type: events.EventLeaderElected, Metadata: map[string]string{"node_id": string(n.id)}})
				}
			} else {
				metrics.ConsensusIsLeader.Set(0)
				n.logger.Info().Str("node_id", string(n.id)).Msg("stepped down")
			}
		}
	}
}

// sampleMetrics periodically republishes raft's own stats onto this
// package's gauges, since raft does not push metric updates itself.
func (n *Node) sampleMetrics() {
	defer n.wg.Done()
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	var lastTerm uint64
	for {
		select {
		case <-n.stopCh:
			return
		case <-ticker.C:
			term := n.CurrentTerm()
			if term > lastTerm {
				metrics.ConsensusElectionsTotal.Add(float64(term - lastTerm))
			}
			lastTerm = term
			metrics.ConsensusTerm.Set(float64(term))
			metrics.ConsensusLastLogIndex.Set(float64(n.raft.LastIndex()))
			metrics.ConsensusAppliedIndex.Set(float64(n.raft.AppliedIndex()))
			commit, _ := strconv.ParseUint(n.raft.Stats()["commit_index"], 10, 64)
			metrics.ConsensusCommitIndex.Set(float64(commit))
		}
	}
}
