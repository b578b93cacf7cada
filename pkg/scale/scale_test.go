package scale

import (
	"testing"
	"time"

	"github.com/cuemby/meridian/pkg/config"
	"github.com/cuemby/meridian/pkg/types"
	"github.com/stretchr/testify/require"
)

func testTrigger() Trigger {
	return Trigger{CPUPct: 80, MemPct: 80, DiskPct: 80, QueryRPS: 1000, TxnRPS: 500}
}

func newScaler(policy Policy) *Scaler {
	cfg := config.Default()
	cfg.ScalerEvaluationInterval = config.Duration(10 * time.Millisecond)
	return New(testTrigger(), policy, cfg, nil)
}

func TestEvaluateNoSamplesReturnsNoAction(t *testing.T) {
	s := newScaler(Policy{})
	decision := s.Evaluate()
	require.Equal(t, types.ScaleNoAction, decision.Action)
}

func TestEvaluatePressureTriggersScaleUpOnHighestLoadedNode(t *testing.T) {
	s := newScaler(Policy{})
	s.UpdateSample(types.ResourceSample{NodeID: "node-1", CPUPct: 50, MemPct: 50})
	s.UpdateSample(types.ResourceSample{NodeID: "node-2", CPUPct: 95, MemPct: 90})

	decision := s.Evaluate()
	require.Equal(t, types.ScaleUp, decision.Action)
	require.Equal(t, types.NodeID("node-2"), decision.Target)
}

func TestEvaluateAllSlackTriggersScaleDownOnLowestLoadedNode(t *testing.T) {
	s := newScaler(Policy{})
	s.UpdateSample(types.ResourceSample{NodeID: "node-1", CPUPct: 5, MemPct: 5, DiskPct: 5})
	s.UpdateSample(types.ResourceSample{NodeID: "node-2", CPUPct: 1, MemPct: 1, DiskPct: 1})

	decision := s.Evaluate()
	require.Equal(t, types.ScaleDown, decision.Action)
	require.Equal(t, types.NodeID("node-2"), decision.Target)
}

func TestEvaluateMixedLoadNoActionBetweenPressureAndSlack(t *testing.T) {
	s := newScaler(Policy{})
	s.UpdateSample(types.ResourceSample{NodeID: "node-1", CPUPct: 50, MemPct: 50, DiskPct: 50})

	decision := s.Evaluate()
	require.Equal(t, types.ScaleNoAction, decision.Action)
}

func TestClampDemotesScaleUpAtMaxNodes(t *testing.T) {
	s := newScaler(Policy{MaxNodes: 3})
	s.SetNodeCounter(func() int { return 3 })

	decision := s.clamp(types.ScaleDecision{Action: types.ScaleUp, Target: "node-1"})
	require.Equal(t, types.ScaleNoAction, decision.Action)
}

func TestClampDemotesScaleDownAtMinNodes(t *testing.T) {
	s := newScaler(Policy{MinNodes: 2})
	s.SetNodeCounter(func() int { return 2 })

	decision := s.clamp(types.ScaleDecision{Action: types.ScaleDown, Target: "node-1"})
	require.Equal(t, types.ScaleNoAction, decision.Action)
}

func TestClampAllowsScaleUpBelowMax(t *testing.T) {
	s := newScaler(Policy{MaxNodes: 5})
	s.SetNodeCounter(func() int { return 2 })

	decision := s.clamp(types.ScaleDecision{Action: types.ScaleUp, Target: "node-1"})
	require.Equal(t, types.ScaleUp, decision.Action)
}

func TestStartInvokesScaleUpCallbackOnTick(t *testing.T) {
	s := newScaler(Policy{MaxNodes: 10})
	s.SetNodeCounter(func() int { return 1 })
	s.UpdateSample(types.ResourceSample{NodeID: "node-1", CPUPct: 99, MemPct: 99})

	called := make(chan types.NodeID, 1)
	s.SetScaleUpFunc(func(target types.NodeID) error {
		called <- target
		return nil
	})

	s.Start()
	defer s.Stop()

	select {
	case target := <-called:
		require.Equal(t, types.NodeID("node-1"), target)
	case <-time.After(time.Second):
		t.Fatal("expected scale-up callback to fire")
	}
}
