// Package saga runs an ordered list of forward actions and, on failure
// of any step, compensates every previously completed step in reverse
// order. It is grounded in original_source's saga.cpp (forward/
// compensation callback pair per step, Failed-vs-Compensated terminal
// state distinction).
package saga

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

// ActionFunc executes one step's forward or compensation action for a
// participant, given the verb and step data, reporting success.
type ActionFunc func(participant types.NodeID, verb string, data map[string]any) bool

// instance is one running saga's mutable state.
type instance struct {
	mu      sync.Mutex
	record  types.TransactionRecord
	steps   []types.SagaStep
}

// Orchestrator runs sagas across an arbitrary number of concurrently
// active instances, keyed by TxnID.
type Orchestrator struct {
	mu        sync.RWMutex
	sagas     map[types.TxnID]*instance
	timeout   time.Duration
	actionFn  ActionFunc
	broker    *events.Broker
	logger    zerolog.Logger
}

// New creates an Orchestrator using cfg's saga timeout.
func New(cfg config.Config, broker *events.Broker) *Orchestrator {
	return &Orchestrator{
		sagas:   make(map[types.TxnID]*instance),
		timeout: time.Duration(cfg.SagaTimeout),
		broker:  broker,
		logger:  log.WithComponent("saga"),
	}
}

// SetActionFunc registers the callback invoked for both forward and
// compensation actions; verb distinguishes which.
func (o *Orchestrator) SetActionFunc(fn ActionFunc) { o.actionFn = fn }

// Begin starts a new saga with an ordered list of steps, all Pending.
func (o *Orchestrator) Begin(txnID types.TxnID, steps []types.SagaStep) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, exists := o.sagas[txnID]; exists {
		return merr.New(merr.KindDuplicate, "saga already exists: "+string(txnID))
	}
	copied := append([]types.SagaStep(nil), steps...)
	for i := range copied {
		copied[i].Status = types.StepPending
	}
	o.sagas[txnID] = &instance{
		record: types.TransactionRecord{TxnID: txnID, Kind: types.TxnKindSaga, State: types.TxnActive, Started: time.Now()},
		steps:  copied,
	}
	return nil
}

// AddStep appends a step to an Active saga.
func (o *Orchestrator) AddStep(txnID types.TxnID, step types.SagaStep) error {
	s, err := o.lookup(txnID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.record.State != types.TxnActive {
		return merr.New(merr.KindWrongState, "saga is not active")
	}
	step.Status = types.StepPending
	s.steps = append(s.steps, step)
	return nil
}

func (o *Orchestrator) lookup(txnID types.TxnID) (*instance, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	s, exists := o.sagas[txnID]
	if !exists {
		return nil, merr.New(merr.KindNotFound, "unknown saga: "+string(txnID))
	}
	return s, nil
}

// Execute runs the saga's steps forward in order. Step N+1 begins only
// after step N reports success. On any step failure (including the
// saga-wide timeout firing mid-step), every Completed step is
// compensated in reverse order.
func (o *Orchestrator) Execute(txnID types.TxnID) (types.TxnState, error) {
	s, err := o.lookup(txnID)
	if err != nil {
		return "", err
	}

	deadline := time.Now().Add(o.timeout)
	failedAt := -1

	s.mu.Lock()
	steps := s.steps
	s.mu.Unlock()

	for i := range steps {
		if time.Now().After(deadline) {
			failedAt = i
			break
		}
		s.mu.Lock()
		s.steps[i].Status = types.StepExecuting
		s.mu.Unlock()

		ok := o.actionFn == nil || o.actionFn(steps[i].Participant, steps[i].ForwardVerb, steps[i].Data)

		s.mu.Lock()
		if ok {
			s.steps[i].Status = types.StepCompleted
		} else {
			s.steps[i].Status = types.StepFailed
		}
		s.mu.Unlock()

		if !ok {
			failedAt = i
			break
		}
	}

	if failedAt == -1 {
		s.mu.Lock()
		s.record.State = types.TxnCompleted
		s.mu.Unlock()
		metrics.SagaOutcomesTotal.WithLabelValues(string(types.TxnCompleted)).Inc()
		o.publish(events.EventSagaCompleted, txnID)
		return types.TxnCompleted, nil
	}

	compensationOK := o.compensate(s)
	s.mu.Lock()
	if compensationOK {
		s.record.State = types.TxnCompensated
	} else {
		s.record.State = types.TxnFailed
	}
	final := s.record.State
	s.mu.Unlock()

	metrics.SagaOutcomesTotal.WithLabelValues(string(final)).Inc()
	if final == types.TxnCompensated {
		o.publish(events.EventSagaCompensated, txnID)
		return final, nil
	}
	return final, merr.New(merr.KindCompensationFailed,
		"at least one compensation did not succeed; manual intervention required").
		WithRemediation("inspect saga " + string(txnID) + " steps for the first Completed, uncompensated step")
}

// compensate runs the compensation of every Completed step in strict
// reverse order. A Completed step becomes Compensated if its
// compensation succeeds; if a compensation fails, that step remains
// Completed and compensate reports failure for the whole saga, without
// attempting the remaining (earlier) compensations — the spec treats
// this as an operator alert condition distinct from a clean
// Compensated terminal state.
func (o *Orchestrator) compensate(s *instance) bool {
	s.mu.Lock()
	steps := append([]types.SagaStep(nil), s.steps...)
	s.mu.Unlock()

	for i := len(steps) - 1; i >= 0; i-- {
		if steps[i].Status != types.StepCompleted {
			continue
		}
		ok := o.actionFn == nil || o.actionFn(steps[i].Participant, steps[i].CompensateVerb, steps[i].Data)
		s.mu.Lock()
		if ok {
			s.steps[i].Status = types.StepCompensated
		}
		s.mu.Unlock()
		if !ok {
			return false
		}
	}
	return true
}

// State returns the current state of a tracked saga.
func (o *Orchestrator) State(txnID types.TxnID) (types.TxnState, error) {
	s, err := o.lookup(txnID)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record.State, nil
}

// Steps returns a snapshot of a saga's step statuses.
func (o *Orchestrator) Steps(txnID types.TxnID) ([]types.SagaStep, error) {
	s, err := o.lookup(txnID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.SagaStep(nil), s.steps...), nil
}

func (o *Orchestrator) publish(t events.EventType, txnID types.TxnID) {
	if o.broker == nil {
		return
	}
	o.broker.Publish(&events.Event{Type: t, Metadata: map[string]string{"txn_id": string(txnID)}})
}
