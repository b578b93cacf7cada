package consensus

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/cuemby/meridian/pkg/metrics"
	"github.com/cuemby/meridian/pkg/types"
	"github.com/hashicorp/raft"
)

// logCommand is the wire envelope stored in every raft log entry,
// mirroring the {Op, ...} envelope poc/raft's KeyValueFSM and
// pkg/manager's WarrenFSM both use to carry an application-level
// command through the log.
type logCommand struct {
	Command string `json:"command"`
	Payload []byte `json:"payload,omitempty"`
}

func encodeCommand(command string, payload []byte) ([]byte, error) {
	return json.Marshal(logCommand{Command: command, Payload: payload})
}

// raftFSM bridges hashicorp/raft's commit pipeline to the ApplyFunc
// registered by this node's owner (pkg/cluster.Supervisor). It carries
// no application state of its own: every resource this codebase needs
// durable (nodes, services, shard assignments, transactions) is owned
// and snapshotted by its own package, not by the consensus log's FSM.
type raftFSM struct {
	mu      sync.RWMutex
	applyFn ApplyFunc
}

func (f *raftFSM) setApplyFn(fn ApplyFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applyFn = fn
}

// Apply decodes the committed entry and invokes the registered
// ApplyFunc. raft guarantees this runs on a single goroutine, in
// increasing log-index order, exactly once per entry.
func (f *raftFSM) Apply(log *raft.Log) interface{} {
	var cmd logCommand
	if err := json.Unmarshal(log.Data, &cmd); err != nil {
		return fmt.Errorf("consensus: decode log entry %d: %w", log.Index, err)
	}

	f.mu.RLock()
	fn := f.applyFn
	f.mu.RUnlock()

	if fn != nil {
		fn(types.LogEntry{Index: log.Index, Term: log.Term, Command: cmd.Command, Payload: cmd.Payload})
	}
	metrics.ConsensusAppliedIndex.Set(float64(log.Index))
	return nil
}

// Snapshot and Restore are no-ops: this codebase's durable-persistence
// scope is the consensus log itself (current term, vote, entries), not
// a compacted snapshot of derived application state. Raft writes these
// empty snapshots to whichever SnapshotStore the caller passed to New
// (in memory for storage.NewMemory, files for storage.NewBolt).
func (f *raftFSM) Snapshot() (raft.FSMSnapshot, error) {
	return emptySnapshot{}, nil
}

func (f *raftFSM) Restore(rc io.ReadCloser) error {
	return rc.Close()
}

type emptySnapshot struct{}

func (emptySnapshot) Persist(sink raft.SnapshotSink) error {
	return sink.Close()
}

func (emptySnapshot) Release() {}
