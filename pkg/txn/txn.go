// Package txn implements two-phase commit coordination across named
// participants: Prepare, then Commit or Abort, each under its own
// timeout. It is grounded in original_source's two_phase_commit.cpp
// (ParticipantInfo, prepare/commit/abort callback shapes, per-phase
// timeouts), reworked so each transaction's state lives behind its own
// lock rather than one coordinator-wide mutex, per the concurrency
// model's "operations on distinct TxnIds proceed in parallel" rule.
package txn

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

// Participant identifies one node executing a local branch of a
// distributed transaction.
type Participant struct {
	ID   types.NodeID
	Addr string
	Port int
}

// PrepareFunc, CommitFunc, and AbortFunc are the per-phase callbacks
// invoked for each participant. The coordinator may retry commit/abort
// on timeout, so implementations must be idempotent under
// double-delivery.
type (
	PrepareFunc func(p Participant, txnID types.TxnID) bool
	CommitFunc  func(p Participant, txnID types.TxnID) bool
	AbortFunc   func(p Participant, txnID types.TxnID) bool
)

// transaction is one coordinator-tracked 2PC instance. Its own mutex
// guards mutation so distinct transactions never contend.
type transaction struct {
	mu           sync.Mutex
	record       types.TransactionRecord
	participants []Participant
	// partialFailure is set when commit/abort left effects on only a
	// subset of participants — the well-known 2PC blocking problem —
	// and must be surfaced to operators rather than silently retried.
	partialFailure bool
}

// Coordinator runs the 2PC protocol across an arbitrary number of
// concurrently active transactions, keyed by TxnID.
type Coordinator struct {
	mu   sync.RWMutex
	txns map[types.TxnID]*transaction

	prepareTimeout     time.Duration
	commitAbortTimeout time.Duration
	// activeTimeout bounds how long a transaction may sit in Active
	// before the sweeper force-aborts it. A transaction that never
	// reaches Execute (coordinator crash, caller never calls it) would
	// otherwise hold its participants' locks forever.
	activeTimeout time.Duration

	prepareFn PrepareFunc
	commitFn  CommitFunc
	abortFn   AbortFunc

	broker *events.Broker
	logger zerolog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a Coordinator using cfg's prepare and commit/abort
// timeouts.
func New(cfg config.Config, broker *events.Broker) *Coordinator {
	return &Coordinator{
		txns:               make(map[types.TxnID]*transaction),
		prepareTimeout:     time.Duration(cfg.PrepareTimeout),
		commitAbortTimeout: time.Duration(cfg.CommitAbortTimeout),
		activeTimeout:      time.Duration(cfg.PrepareTimeout) + time.Duration(cfg.CommitAbortTimeout),
		broker:             broker,
		logger:             log.WithComponent("txn"),
		stopCh:             make(chan struct{}),
	}
}

// Start begins the 2PC timeout sweeper, ticking at roughly one tenth of
// activeTimeout so a stuck transaction is reclaimed promptly without
// busy-polling.
func (c *Coordinator) Start() {
	c.wg.Add(1)
	go c.run()
}

// Stop halts the sweeper and waits for it to exit.
func (c *Coordinator) Stop() {
	close(c.stopCh)
	c.wg.Wait()
}

func (c *Coordinator) run() {
	defer c.wg.Done()
	interval := c.activeTimeout / 10
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.stopCh:
			return
		}
	}
}

// sweep force-aborts any transaction whose wall-clock age exceeds
// activeTimeout while still Active, per the coordination design's rule
// that a coordinator crash or abandoned caller must not leave a
// transaction's participants blocked indefinitely.
func (c *Coordinator) sweep() {
	c.mu.RLock()
	stuck := make([]*transaction, 0)
	for _, t := range c.txns {
		t.mu.Lock()
		if t.record.State == types.TxnActive && time.Since(t.record.Started) > c.activeTimeout {
			stuck = append(stuck, t)
		}
		t.mu.Unlock()
	}
	c.mu.RUnlock()

	for _, t := range stuck {
		t.mu.Lock()
		if t.record.State != types.TxnActive {
			t.mu.Unlock()
			continue
		}
		t.record.State = types.TxnAborted
		txnID := t.record.TxnID
		t.mu.Unlock()

		c.logger.Warn().Str("txn_id", string(txnID)).Msg("aborting transaction that exceeded its active timeout")
		metrics.TxnOutcomesTotal.WithLabelValues(string(types.TxnAborted)).Inc()
		c.publish(events.EventTxnAborted, txnID)
	}
}

func (c *Coordinator) SetPrepareFunc(fn PrepareFunc) { c.prepareFn = fn }
func (c *Coordinator) SetCommitFunc(fn CommitFunc)   { c.commitFn = fn }
func (c *Coordinator) SetAbortFunc(fn AbortFunc)     { c.abortFn = fn }

// Begin starts a new 2PC transaction with the given participants.
// Returns merr.Duplicate if txnID is already in use.
func (c *Coordinator) Begin(txnID types.TxnID, participants []Participant) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.txns[txnID]; exists {
		return merr.New(merr.KindDuplicate, "transaction already exists: "+string(txnID))
	}
	c.txns[txnID] = &transaction{
		record: types.TransactionRecord{
			TxnID:   txnID,
			Kind:    types.TxnKindTwoPhase,
			State:   types.TxnActive,
			Started: time.Now(),
		},
		participants: append([]Participant(nil), participants...),
	}
	return nil
}

// AddParticipant appends a participant to an Active transaction.
func (c *Coordinator) AddParticipant(txnID types.TxnID, p Participant) error {
	t, err := c.lookup(txnID)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.record.State != types.TxnActive {
		return merr.New(merr.KindWrongState, "transaction is not active")
	}
	t.participants = append(t.participants, p)
	return nil
}

func (c *Coordinator) lookup(txnID types.TxnID) (*transaction, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, exists := c.txns[txnID]
	if !exists {
		return nil, merr.New(merr.KindNotFound, "unknown transaction: "+string(txnID))
	}
	return t, nil
}

// Execute runs the full 2PC protocol for txnID: Prepare, then Commit or
// Abort, returning the terminal state.
func (c *Coordinator) Execute(txnID types.TxnID) (types.TxnState, error) {
	t, err := c.lookup(txnID)
	if err != nil {
		return "", err
	}

	t.mu.Lock()
	participants := append([]Participant(nil), t.participants...)
	t.mu.Unlock()

	if c.prepare(t, participants) {
		t.mu.Lock()
		t.record.State = types.TxnPrepared
		t.mu.Unlock()

		if c.commitAll(t, participants) {
			t.mu.Lock()
			t.record.State = types.TxnCommitted
			t.mu.Unlock()
			metrics.TxnOutcomesTotal.WithLabelValues(string(types.TxnCommitted)).Inc()
			c.publish(events.EventTxnCommitted, txnID)
			return types.TxnCommitted, nil
		}

		// Commit failed on at least one participant after prepare
		// succeeded on all: this is the 2PC blocking window. The
		// transaction is recorded Aborted but effects may persist on a
		// subset of participants.
		t.mu.Lock()
		t.record.State = types.TxnAborted
		t.partialFailure = true
		t.mu.Unlock()
		metrics.TxnOutcomesTotal.WithLabelValues(string(types.TxnAborted)).Inc()
		c.publish(events.EventTxnAborted, txnID)
		return types.TxnAborted, merr.New(merr.KindParticipantFailed,
			"commit failed on at least one participant after prepare succeeded; partial effects may exist").
			WithRemediation("reconcile participant state manually for txn " + string(txnID))
	}

	c.abortAll(t, participants)
	t.mu.Lock()
	t.record.State = types.TxnAborted
	t.mu.Unlock()
	metrics.TxnOutcomesTotal.WithLabelValues(string(types.TxnAborted)).Inc()
	c.publish(events.EventTxnAborted, txnID)
	return types.TxnAborted, nil
}

// prepare invokes the prepare callback for every participant under
// prepareTimeout. All-yes is required to proceed to commit.
func (c *Coordinator) prepare(t *transaction, participants []Participant) bool {
	if c.prepareFn == nil || len(participants) == 0 {
		return len(participants) == 0
	}
	results := make(chan bool, len(participants))
	for _, p := range participants {
		p := p
		go func() {
			results <- c.callWithTimeout(c.prepareTimeout, func() bool { return c.prepareFn(p, t.record.TxnID) })
		}()
	}
	allYes := true
	for range participants {
		if !<-results {
			allYes = false
		}
	}
	return allYes
}

// commitAll invokes commit on every participant under
// commitAbortTimeout. Any failure leaves the transaction in the 2PC
// blocking state described in Execute.
func (c *Coordinator) commitAll(t *transaction, participants []Participant) bool {
	if c.commitFn == nil {
		return true
	}
	ok := true
	for _, p := range participants {
		if !c.callWithTimeout(c.commitAbortTimeout, func() bool { return c.commitFn(p, t.record.TxnID) }) {
			ok = false
		}
	}
	return ok
}

// abortAll invokes abort on every participant that was contacted.
// Idempotent: safe to call on participants that never saw prepare.
func (c *Coordinator) abortAll(t *transaction, participants []Participant) {
	if c.abortFn == nil {
		return
	}
	for _, p := range participants {
		c.callWithTimeout(c.commitAbortTimeout, func() bool { return c.abortFn(p, t.record.TxnID) })
	}
}

func (c *Coordinator) callWithTimeout(timeout time.Duration, fn func() bool) bool {
	done := make(chan bool, 1)
	go func() { done <- fn() }()
	select {
	case ok := <-done:
		return ok
	case <-time.After(timeout):
		return false
	}
}

// State returns the current state of a tracked transaction.
func (c *Coordinator) State(txnID types.TxnID) (types.TxnState, error) {
	t, err := c.lookup(txnID)
	if err != nil {
		return "", err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.record.State, nil
}

func (c *Coordinator) publish(t events.EventType, txnID types.TxnID) {
	if c.broker == nil {
		return
	}
	c.broker.Publish(&events.Event{Type: t, Metadata: map[string]string{"txn_id": string(txnID)}})
}
