package consensus

import (
	"sync"
	"testing"
	"time"

	"github.com/cuemby/meridian/pkg/config"
	"github.com/cuemby/meridian/pkg/merr"
	"github.com/cuemby/meridian/pkg/storage"
	"github.com/cuemby/meridian/pkg/types"
	"github.com/hashicorp/raft"
	"github.com/stretchr/testify/require"
)

// testCluster wires N in-process Nodes over raft's own InmemTransport
// with fast election/heartbeat timing, suitable for exercising
// consensus invariants without a network.
type testCluster struct {
	nodes      map[types.NodeID]*Node
	transports map[types.NodeID]*raft.InmemTransport
}

func fastConfig() config.Config {
	cfg := config.Default()
	cfg.ElectionTimeoutMin = config.Duration(100 * time.Millisecond)
	cfg.ElectionTimeoutMax = config.Duration(200 * time.Millisecond)
	cfg.LeaderHeartbeatInterval = config.Duration(25 * time.Millisecond)
	return cfg
}

func newTestCluster(t *testing.T, n int) *testCluster {
	t.Helper()
	ids := make([]types.NodeID, n)
	for i := range ids {
		ids[i] = types.NodeID("node-" + string(rune('1'+i)))
	}

	addrs := make(map[types.NodeID]raft.ServerAddress, n)
	transports := make(map[types.NodeID]*raft.InmemTransport, n)
	for _, id := range ids {
		addr, transport := NewInmemTransport(id)
		addrs[id] = addr
		transports[id] = transport
	}
	for _, a := range ids {
		for _, b := range ids {
			if a != b {
				transports[a].Connect(addrs[b], transports[b])
			}
		}
	}

	nodes := make(map[types.NodeID]*Node, n)
	for _, id := range ids {
		var peers []Peer
		for _, other := range ids {
			if other != id {
				peers = append(peers, Peer{ID: other})
			}
		}
		node, err := New(id, peers, transports[id], storage.NewMemory(), fastConfig(), nil)
		require.NoError(t, err)
		nodes[id] = node
	}
	return &testCluster{nodes: nodes, transports: transports}
}

func (c *testCluster) startAll() {
	for _, n := range c.nodes {
		n.Start()
	}
}

func (c *testCluster) stopAll() {
	for _, n := range c.nodes {
		_ = n.Stop()
	}
}

func (c *testCluster) leader() *Node {
	for _, n := range c.nodes {
		if n.IsLeader() {
			return n
		}
	}
	return nil
}

func (c *testCluster) awaitLeader(t *testing.T, timeout time.Duration) *Node {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if l := c.leader(); l != nil {
			return l
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("no leader elected within timeout")
	return nil
}

func TestSingleNodeBecomesLeaderAndCommits(t *testing.T) {
	c := newTestCluster(t, 1)
	c.startAll()
	defer c.stopAll()

	leader := c.awaitLeader(t, 2*time.Second)
	index, err := leader.Submit("set", []byte("x=1"))
	require.NoError(t, err)
	require.Equal(t, uint64(1), index)
	require.Equal(t, uint64(1), leader.CommitIndex())
}

func TestThreeNodeQuorumElectsExactlyOneLeaderPerTerm(t *testing.T) {
	c := newTestCluster(t, 3)
	c.startAll()
	defer c.stopAll()

	leader := c.awaitLeader(t, 3*time.Second)
	term := leader.CurrentTerm()

	time.Sleep(150 * time.Millisecond)

	leaders := 0
	for _, n := range c.nodes {
		if n.IsLeader() {
			leaders++
			require.Equal(t, term, n.CurrentTerm(), "leader's term should be stable absent disruption")
		}
	}
	require.Equal(t, 1, leaders, "election safety: at most one leader per term")
}

// TestFourNodeQuorumElectsExactlyOneLeaderPerTerm exercises an even
// voter set, where a majority computed from the peer count alone
// (excluding the leader) would fall one vote short of a true majority.
func TestFourNodeQuorumElectsExactlyOneLeaderPerTerm(t *testing.T) {
	c := newTestCluster(t, 4)
	c.startAll()
	defer c.stopAll()

	leader := c.awaitLeader(t, 3*time.Second)
	term := leader.CurrentTerm()

	time.Sleep(150 * time.Millisecond)

	leaders := 0
	for _, n := range c.nodes {
		if n.IsLeader() {
			leaders++
			require.Equal(t, term, n.CurrentTerm())
		}
	}
	require.Equal(t, 1, leaders, "election safety must hold for an even-sized voter set too")
}

func TestThreeNodeQuorumCommitsAndReplicates(t *testing.T) {
	c := newTestCluster(t, 3)
	c.startAll()
	defer c.stopAll()

	leader := c.awaitLeader(t, 3*time.Second)
	index, err := leader.Submit("put", []byte("key=value"))
	require.NoError(t, err)
	require.Equal(t, uint64(1), index)

	require.Eventually(t, func() bool {
		count := 0
		for _, n := range c.nodes {
			if n.CommitIndex() >= 1 {
				count++
			}
		}
		return count == len(c.nodes)
	}, 3*time.Second, 10*time.Millisecond, "every replica should eventually observe the commit")
}

func TestFollowerSubmitReturnsNotLeaderWithHint(t *testing.T) {
	c := newTestCluster(t, 3)
	c.startAll()
	defer c.stopAll()

	leader := c.awaitLeader(t, 3*time.Second)
	var follower *Node
	for id, n := range c.nodes {
		if id != leader.id {
			follower = n
			break
		}
	}
	require.NotNil(t, follower)

	_, err := follower.Submit("put", []byte("x"))
	require.True(t, merr.Is(err, merr.KindNotLeader))
	require.Equal(t, leader.id, follower.LeaderHint())
}

func TestApplyFuncInvokedInOrderExactlyOnce(t *testing.T) {
	c := newTestCluster(t, 1)
	var applied []uint64
	for _, n := range c.nodes {
		n.OnApply(func(e types.LogEntry) { applied = append(applied, e.Index) })
	}
	c.startAll()
	defer c.stopAll()

	leader := c.awaitLeader(t, 2*time.Second)
	for i := 0; i < 3; i++ {
		_, err := leader.Submit("put", []byte("x"))
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool { return len(applied) == 3 }, time.Second, 5*time.Millisecond)
	require.Equal(t, []uint64{1, 2, 3}, applied)
}

func TestLeaderCompletenessAfterStepDown(t *testing.T) {
	c := newTestCluster(t, 3)

	var mu sync.Mutex
	var committedCommand string
	for _, n := range c.nodes {
		n.OnApply(func(e types.LogEntry) {
			mu.Lock()
			committedCommand = e.Command
			mu.Unlock()
		})
	}
	c.startAll()
	defer c.stopAll()

	leader := c.awaitLeader(t, 3*time.Second)
	index, err := leader.Submit("put", []byte("durable-write"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		for _, n := range c.nodes {
			if n.CommitIndex() < index {
				return false
			}
		}
		return true
	}, 3*time.Second, 10*time.Millisecond)

	// Disconnect the current leader entirely so a new election must run;
	// whichever node becomes leader next must already hold the
	// previously committed entry (raft's own vote-denial / log-matching
	// rules enforce this).
	oldLeaderID := leader.id
	c.transports[oldLeaderID].DisconnectAll()
	for id, transport := range c.transports {
		if id != oldLeaderID {
			transport.Disconnect(raft.ServerAddress(oldLeaderID))
		}
	}

	require.Eventually(t, func() bool {
		for id, n := range c.nodes {
			if id != oldLeaderID && n.IsLeader() {
				return true
			}
		}
		return false
	}, 5*time.Second, 20*time.Millisecond, "a new leader must be elected after the old one is partitioned")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return committedCommand == "put"
	}, 2*time.Second, 10*time.Millisecond)
}
