// Package gateway implements TransactionGateway: a thin facade that binds
// TxnCoordinator2PC and SagaOrchestrator under a single transaction id,
// so a caller need not know which commitment protocol backs a given
// TxnID. Cross-shard queries do not go through the gateway; they are
// dispatched by pkg/query's Executor directly. It is grounded in the coordination
// design's §2 "TransactionGateway" row and has no direct
// original_source analogue — the original couples these concerns
// directly into its coordinator classes, which this package
// deliberately un-couples per the redesign notes on cyclic callback
// graphs.
package gateway

import (
	"sync"

	"github.com/cuemby/meridian/pkg/merr"
	"github.com/cuemby/meridian/pkg/saga"
	"github.com/cuemby/meridian/pkg/txn"
	"github.com/cuemby/meridian/pkg/types"
)

// Gateway routes distributed-transaction operations to the 2PC
// coordinator or saga orchestrator by the TxnKind recorded at Begin.
type Gateway struct {
	twoPhase *txn.Coordinator
	sagas    *saga.Orchestrator

	mu    sync.RWMutex
	kinds map[types.TxnID]types.TxnKind
}

// New creates a Gateway over an already-constructed 2PC coordinator and
// saga orchestrator.
func New(twoPhase *txn.Coordinator, sagas *saga.Orchestrator) *Gateway {
	return &Gateway{
		twoPhase: twoPhase,
		sagas:    sagas,
		kinds:    make(map[types.TxnID]types.TxnKind),
	}
}

// BeginTwoPhase starts a 2PC transaction under txnID with the given
// participants.
func (g *Gateway) BeginTwoPhase(txnID types.TxnID, participants []txn.Participant) error {
	if err := g.twoPhase.Begin(txnID, participants); err != nil {
		return err
	}
	g.mu.Lock()
	g.kinds[txnID] = types.TxnKindTwoPhase
	g.mu.Unlock()
	return nil
}

// BeginSaga starts a saga under txnID with the given ordered steps.
func (g *Gateway) BeginSaga(txnID types.TxnID, steps []types.SagaStep) error {
	if err := g.sagas.Begin(txnID, steps); err != nil {
		return err
	}
	g.mu.Lock()
	g.kinds[txnID] = types.TxnKindSaga
	g.mu.Unlock()
	return nil
}

// AddParticipant adds a 2PC participant to an existing transaction.
// Returns merr.WrongState if txnID was begun as a saga.
func (g *Gateway) AddParticipant(txnID types.TxnID, p txn.Participant) error {
	kind, err := g.kindOf(txnID)
	if err != nil {
		return err
	}
	if kind != types.TxnKindTwoPhase {
		return merr.New(merr.KindWrongState, "txn is not a two-phase-commit transaction")
	}
	return g.twoPhase.AddParticipant(txnID, p)
}

// AddSagaStep adds a step to an existing saga. Returns merr.WrongState if
// txnID was begun as a 2PC transaction.
func (g *Gateway) AddSagaStep(txnID types.TxnID, step types.SagaStep) error {
	kind, err := g.kindOf(txnID)
	if err != nil {
		return err
	}
	if kind != types.TxnKindSaga {
		return merr.New(merr.KindWrongState, "txn is not a saga")
	}
	return g.sagas.AddStep(txnID, step)
}

// Execute runs the transaction to completion (2PC protocol or saga
// forward-then-compensate) and returns its terminal state.
func (g *Gateway) Execute(txnID types.TxnID) (types.TxnState, error) {
	kind, err := g.kindOf(txnID)
	if err != nil {
		return "", err
	}
	if kind == types.TxnKindTwoPhase {
		return g.twoPhase.Execute(txnID)
	}
	return g.sagas.Execute(txnID)
}

// State returns the current terminal or in-flight state of txnID.
func (g *Gateway) State(txnID types.TxnID) (types.TxnState, error) {
	kind, err := g.kindOf(txnID)
	if err != nil {
		return "", err
	}
	if kind == types.TxnKindTwoPhase {
		return g.twoPhase.State(txnID)
	}
	return g.sagas.State(txnID)
}

func (g *Gateway) kindOf(txnID types.TxnID) (types.TxnKind, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	kind, exists := g.kinds[txnID]
	if !exists {
		return "", merr.New(merr.KindNotFound, "unknown transaction: "+string(txnID))
	}
	return kind, nil
}
