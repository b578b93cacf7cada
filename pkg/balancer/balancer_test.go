package balancer

import (
	"testing"

	"github.com/cuemby/meridian/pkg/types"
	"github.com/stretchr/testify/require"
)

func TestPickNoCandidatesEligible(t *testing.T) {
	b := New(PolicyRoundRobin)
	_, ok := b.Pick([]types.NodeID{"node-1"})
	require.False(t, ok)
}

func TestPickRoundRobinCyclesEvenly(t *testing.T) {
	b := New(PolicyRoundRobin)
	b.AddCandidate("node-1")
	b.AddCandidate("node-2")
	b.AddCandidate("node-3")

	candidates := []types.NodeID{"node-1", "node-2", "node-3"}
	picks := make(map[types.NodeID]int)
	for i := 0; i < 9; i++ {
		id, ok := b.Pick(candidates)
		require.True(t, ok)
		picks[id]++
	}
	require.Equal(t, 3, picks["node-1"])
	require.Equal(t, 3, picks["node-2"])
	require.Equal(t, 3, picks["node-3"])
}

func TestPickExcludesUnhealthyCandidates(t *testing.T) {
	b := New(PolicyRoundRobin)
	b.AddCandidate("node-1")
	b.AddCandidate("node-2")
	b.MarkHealth("node-2", false)

	for i := 0; i < 5; i++ {
		id, ok := b.Pick([]types.NodeID{"node-1", "node-2"})
		require.True(t, ok)
		require.Equal(t, types.NodeID("node-1"), id)
	}
}

func TestPickLeastConnections(t *testing.T) {
	b := New(PolicyLeastConnections)
	b.AddCandidate("node-1")
	b.AddCandidate("node-2")
	b.RecordConnection("node-1", 5)
	b.RecordConnection("node-2", 1)

	id, ok := b.Pick([]types.NodeID{"node-1", "node-2"})
	require.True(t, ok)
	require.Equal(t, types.NodeID("node-2"), id)
}

func TestPickWeightedLeastScorePrefersLighterNode(t *testing.T) {
	b := New(PolicyWeightedLeastScore)
	b.AddCandidate("node-1")
	b.AddCandidate("node-2")
	b.UpdateStats(types.ResourceSample{NodeID: "node-1", CPUPct: 90, MemPct: 85})
	b.UpdateStats(types.ResourceSample{NodeID: "node-2", CPUPct: 10, MemPct: 15})

	id, ok := b.Pick([]types.NodeID{"node-1", "node-2"})
	require.True(t, ok)
	require.Equal(t, types.NodeID("node-2"), id)
}

func TestRecordResponseTimeSmoothsAverage(t *testing.T) {
	b := New(PolicyWeightedLeastScore)
	b.AddCandidate("node-1")
	b.RecordResponseTime("node-1", 100)
	require.InDelta(t, 100, b.nodes["node-1"].avgResponseMs, 0.001)

	b.RecordResponseTime("node-1", 0)
	require.InDelta(t, 80, b.nodes["node-1"].avgResponseMs, 0.001)
}

func TestRemoveCandidateExcludesFromPick(t *testing.T) {
	b := New(PolicyRoundRobin)
	b.AddCandidate("node-1")
	b.RemoveCandidate("node-1")

	_, ok := b.Pick([]types.NodeID{"node-1"})
	require.False(t, ok)
}
