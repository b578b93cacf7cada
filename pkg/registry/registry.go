// Package registry owns cluster membership: it tracks NodeDescriptors,
// ingests heartbeats, and runs a background FailureDetector that
// classifies nodes as alive, suspect, or failed. It is grounded in the
// teacher's manager node-map plus the reconciler's heartbeat-timeout
// liveness sweep, generalized from a single node-status field into the
// alive/suspect/failed classifier the coordination design calls for.
package registry

import (
	"sync"
	"time"

	"github.com/cuemby/meridian/pkg/config"
	"github.com/cuemby/meridian/pkg/events"
	"github.com/cuemby/meridian/pkg/log"
	"github.com/cuemby/meridian/pkg/merr"
	"github.com/cuemby/meridian/pkg/metrics"
	"github.com/cuemby/meridian/pkg/types"
	"github.com/rs/zerolog"
)

// member is the registry's internal record: a NodeDescriptor plus the
// consecutive-suspect count the FailureDetector uses to decide when to
// promote a node to failed.
type member struct {
	desc             types.NodeDescriptor
	liveness         types.LivenessState
	consecutiveSuspects int
}

// Registry owns the cluster membership set. All mutations are serialized
// under mu; readers call Snapshot/LiveNodes for a consistent copy without
// blocking writers for longer than the copy itself.
type Registry struct {
	mu      sync.RWMutex
	members map[types.NodeID]*member
	timeout time.Duration

	broker *events.Broker
	logger zerolog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a Registry. broker may be nil if the caller does not want
// membership-change notifications.
func New(cfg config.Config, broker *events.Broker) *Registry {
	return &Registry{
		members: make(map[types.NodeID]*member),
		timeout: time.Duration(cfg.HeartbeatTimeout),
		broker:  broker,
		logger:  log.WithComponent("registry"),
		stopCh:  make(chan struct{}),
	}
}

// Register adds a new node. Returns merr.Duplicate if the id is already
// registered.
func (r *Registry) Register(id types.NodeID, addr string, port int) error {
	r.mu.Lock()
	if _, exists := r.members[id]; exists {
		r.mu.Unlock()
		return merr.New(merr.KindDuplicate, "node already registered: "+string(id))
	}
	r.members[id] = &member{
		desc: types.NodeDescriptor{
			ID:            id,
			Addr:          addr,
			Port:          port,
			Live:          true,
			LastHeartbeat: time.Now(),
		},
		liveness: types.LivenessAlive,
	}
	count := len(r.members)
	r.mu.Unlock()

	metrics.NodesTotal.WithLabelValues(string(types.LivenessAlive)).Set(float64(count))
	r.logger.Info().Str("node_id", string(id)).Str("addr", addr).Msg("node registered")
	r.publish(events.EventNodeJoined, id)
	return nil
}

// Deregister removes a node. Idempotent: deregistering an unknown id
// returns merr.NotFound but is otherwise a no-op.
func (r *Registry) Deregister(id types.NodeID) error {
	r.mu.Lock()
	if _, exists := r.members[id]; !exists {
		r.mu.Unlock()
		return merr.New(merr.KindNotFound, "node not registered: "+string(id))
	}
	delete(r.members, id)
	r.mu.Unlock()

	r.logger.Info().Str("node_id", string(id)).Msg("node deregistered")
	r.publish(events.EventNodeLeft, id)
	return nil
}

// Heartbeat records a liveness pulse from id, reviving it to alive if it
// had been classified suspect.
func (r *Registry) Heartbeat(id types.NodeID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, exists := r.members[id]
	if !exists {
		return merr.New(merr.KindNotFound, "node not registered: "+string(id))
	}
	m.desc.LastHeartbeat = time.Now()
	m.desc.Live = true
	m.liveness = types.LivenessAlive
	m.consecutiveSuspects = 0
	return nil
}

// Snapshot returns a consistent copy of every registered descriptor.
func (r *Registry) Snapshot() []types.NodeDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.NodeDescriptor, 0, len(r.members))
	for _, m := range r.members {
		out = append(out, m.desc)
	}
	return out
}

// LiveNodes returns descriptors for every node currently classified
// alive.
func (r *Registry) LiveNodes() []types.NodeDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.NodeDescriptor, 0, len(r.members))
	for _, m := range r.members {
		if m.liveness == types.LivenessAlive {
			out = append(out, m.desc)
		}
	}
	return out
}

// Healthy reports whether the live count is a strict majority of the
// registered count N: live >= N/2+1 with integer division (2 of 3, 3 of
// 4). An empty registry is unhealthy.
func (r *Registry) Healthy() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	live := 0
	for _, m := range r.members {
		if m.liveness == types.LivenessAlive {
			live++
		}
	}
	n := len(r.members)
	return live >= n/2+1
}

// Start begins the background failure-detection loop, ticking at
// roughly 1 second cadence per the membership design.
func (r *Registry) Start() {
	r.wg.Add(1)
	go r.run()
}

// Stop halts the failure-detection loop and waits for it to exit.
func (r *Registry) Stop() {
	close(r.stopCh)
	r.wg.Wait()
}

func (r *Registry) run() {
	defer r.wg.Done()
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.sweep()
		case <-r.stopCh:
			return
		}
	}
}

// sweep reclassifies every member against the heartbeat timeout. A node
// whose last heartbeat is older than the timeout becomes suspect; two
// consecutive suspect sweeps promote it to failed and publish
// EventNodeDown.
func (r *Registry) sweep() {
	now := time.Now()
	var failed []types.NodeID

	r.mu.Lock()
	counts := map[types.LivenessState]int{}
	for id, m := range r.members {
		if now.Sub(m.desc.LastHeartbeat) > r.timeout {
			switch m.liveness {
			case types.LivenessAlive:
				m.liveness = types.LivenessSuspect
				m.consecutiveSuspects = 1
				r.logger.Warn().Str("node_id", string(id)).Msg("node marked suspect")
			case types.LivenessSuspect:
				m.consecutiveSuspects++
				if m.consecutiveSuspects >= 2 {
					m.liveness = types.LivenessFailed
					m.desc.Live = false
					failed = append(failed, id)
					r.logger.Error().Str("node_id", string(id)).Msg("node marked failed")
				}
			}
		}
		counts[m.liveness]++
	}
	r.mu.Unlock()

	for state, n := range counts {
		metrics.NodesTotal.WithLabelValues(string(state)).Set(float64(n))
	}
	for _, id := range failed {
		r.publish(events.EventNodeDown, id)
	}
}

func (r *Registry) publish(t events.EventType, id types.NodeID) {
	if r.broker == nil {
		return
	}
	r.broker.Publish(&events.Event{
		Type:     t,
		Metadata: map[string]string{"node_id": string(id)},
	})
}
