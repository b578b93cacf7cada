package gateway

import (
	"testing"
	"time"

	"github.com/cuemby/meridian/pkg/config"
	"github.com/cuemby/meridian/pkg/merr"
	"github.com/cuemby/meridian/pkg/saga"
	"github.com/cuemby/meridian/pkg/txn"
	"github.com/cuemby/meridian/pkg/types"
	"github.com/stretchr/testify/require"
)

func newGateway() *Gateway {
	cfg := config.Default()
	cfg.PrepareTimeout = config.Duration(200 * time.Millisecond)
	cfg.CommitAbortTimeout = config.Duration(200 * time.Millisecond)
	cfg.SagaTimeout = config.Duration(time.Second)

	tc := txn.New(cfg, nil)
	tc.SetPrepareFunc(func(p txn.Participant, txnID types.TxnID) bool { return true })
	tc.SetCommitFunc(func(p txn.Participant, txnID types.TxnID) bool { return true })

	so := saga.New(cfg, nil)
	so.SetActionFunc(func(p types.NodeID, verb string, data map[string]any) bool { return true })

	return New(tc, so)
}

func TestBeginTwoPhaseThenExecuteRoutesToCoordinator(t *testing.T) {
	g := newGateway()
	require.NoError(t, g.BeginTwoPhase("txn-1", []txn.Participant{{ID: "node-1"}}))

	state, err := g.Execute("txn-1")
	require.NoError(t, err)
	require.Equal(t, types.TxnCommitted, state)
}

func TestBeginSagaThenExecuteRoutesToOrchestrator(t *testing.T) {
	g := newGateway()
	steps := []types.SagaStep{{StepID: "s1", ForwardVerb: "reserve", CompensateVerb: "cancel"}}
	require.NoError(t, g.BeginSaga("txn-1", steps))

	state, err := g.Execute("txn-1")
	require.NoError(t, err)
	require.Equal(t, types.TxnCompleted, state)
}

func TestExecuteUnknownTxnIDReturnsNotFound(t *testing.T) {
	g := newGateway()
	_, err := g.Execute("ghost")
	require.True(t, merr.Is(err, merr.KindNotFound))
}

func TestAddParticipantRejectedForSagaTxn(t *testing.T) {
	g := newGateway()
	steps := []types.SagaStep{{StepID: "s1", ForwardVerb: "reserve", CompensateVerb: "cancel"}}
	require.NoError(t, g.BeginSaga("txn-1", steps))

	err := g.AddParticipant("txn-1", txn.Participant{ID: "node-1"})
	require.True(t, merr.Is(err, merr.KindWrongState))
}

func TestAddSagaStepRejectedForTwoPhaseTxn(t *testing.T) {
	g := newGateway()
	require.NoError(t, g.BeginTwoPhase("txn-1", []txn.Participant{{ID: "node-1"}}))

	err := g.AddSagaStep("txn-1", types.SagaStep{StepID: "s1"})
	require.True(t, merr.Is(err, merr.KindWrongState))
}

func TestStateReflectsUnderlyingProtocol(t *testing.T) {
	g := newGateway()
	require.NoError(t, g.BeginTwoPhase("txn-1", []txn.Participant{{ID: "node-1"}}))

	state, err := g.State("txn-1")
	require.NoError(t, err)
	require.Equal(t, types.TxnActive, state)

	_, err = g.Execute("txn-1")
	require.NoError(t, err)

	state, err = g.State("txn-1")
	require.NoError(t, err)
	require.Equal(t, types.TxnCommitted, state)
}
