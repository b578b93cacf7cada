package registry

import (
	"testing"
	"time"

	"github.com/cuemby/meridian/pkg/config"
	"github.com/cuemby/meridian/pkg/events"
	"github.com/cuemby/meridian/pkg/merr"
	"github.com/cuemby/meridian/pkg/types"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(timeout time.Duration) *Registry {
	cfg := config.Default()
	cfg.HeartbeatTimeout = config.Duration(timeout)
	return New(cfg, nil)
}

func TestRegisterAndSnapshot(t *testing.T) {
	r := newTestRegistry(time.Minute)
	require.NoError(t, r.Register("node-1", "10.0.0.1", 7600))

	snap := r.Snapshot()
	require.Len(t, snap, 1)
	require.Equal(t, types.NodeID("node-1"), snap[0].ID)
	require.True(t, snap[0].Live)
}

func TestRegisterDuplicateRejected(t *testing.T) {
	r := newTestRegistry(time.Minute)
	require.NoError(t, r.Register("node-1", "10.0.0.1", 7600))

	err := r.Register("node-1", "10.0.0.2", 7601)
	require.True(t, merr.Is(err, merr.KindDuplicate))
}

func TestDeregisterUnknownNotFound(t *testing.T) {
	r := newTestRegistry(time.Minute)
	err := r.Deregister("ghost")
	require.True(t, merr.Is(err, merr.KindNotFound))
}

func TestHeartbeatRevivesSuspectNode(t *testing.T) {
	r := newTestRegistry(time.Minute)
	require.NoError(t, r.Register("node-1", "10.0.0.1", 7600))

	r.mu.Lock()
	r.members["node-1"].liveness = types.LivenessSuspect
	r.members["node-1"].consecutiveSuspects = 1
	r.mu.Unlock()

	require.NoError(t, r.Heartbeat("node-1"))

	r.mu.RLock()
	m := r.members["node-1"]
	r.mu.RUnlock()
	require.Equal(t, types.LivenessAlive, m.liveness)
	require.Equal(t, 0, m.consecutiveSuspects)
}

func TestLiveNodesExcludesSuspectAndFailed(t *testing.T) {
	r := newTestRegistry(time.Minute)
	require.NoError(t, r.Register("node-1", "10.0.0.1", 7600))
	require.NoError(t, r.Register("node-2", "10.0.0.2", 7601))

	r.mu.Lock()
	r.members["node-2"].liveness = types.LivenessSuspect
	r.mu.Unlock()

	live := r.LiveNodes()
	require.Len(t, live, 1)
	require.Equal(t, types.NodeID("node-1"), live[0].ID)
}

func TestHealthyRequiresStrictMajority(t *testing.T) {
	r := newTestRegistry(time.Minute)
	require.NoError(t, r.Register("node-1", "a", 1))
	require.NoError(t, r.Register("node-2", "b", 2))
	require.NoError(t, r.Register("node-3", "c", 3))
	require.True(t, r.Healthy())

	r.mu.Lock()
	r.members["node-2"].liveness = types.LivenessFailed
	r.members["node-3"].liveness = types.LivenessFailed
	r.mu.Unlock()

	require.False(t, r.Healthy())
}

func TestSweepPromotesSuspectThenFailed(t *testing.T) {
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	sub := broker.Subscribe()

	cfg := config.Default()
	cfg.HeartbeatTimeout = config.Duration(10 * time.Millisecond)
	r := New(cfg, broker)
	require.NoError(t, r.Register("node-1", "10.0.0.1", 7600))

	r.mu.Lock()
	r.members["node-1"].desc.LastHeartbeat = time.Now().Add(-time.Hour)
	r.mu.Unlock()

	r.sweep()
	r.mu.RLock()
	require.Equal(t, types.LivenessSuspect, r.members["node-1"].liveness)
	r.mu.RUnlock()

	r.sweep()
	r.mu.RLock()
	require.Equal(t, types.LivenessFailed, r.members["node-1"].liveness)
	require.False(t, r.members["node-1"].desc.Live)
	r.mu.RUnlock()

	select {
	case evt := <-sub:
		require.Equal(t, events.EventNodeDown, evt.Type)
	case <-time.After(time.Second):
		t.Fatal("expected node-down event")
	}
}

func TestStartStopSweepLoop(t *testing.T) {
	r := newTestRegistry(time.Minute)
	r.Start()
	r.Stop()
}
