// Package storage provides the durable stores the consensus log
// depends on: raft's own LogStore/StableStore/SnapshotStore
// interfaces, backed either by an in-memory implementation for tests
// and single-process demos, or by BoltDB for production. This package
// is grounded in the teacher's own pairing for this concern —
// github.com/hashicorp/raft-boltdb over github.com/hashicorp/raft's
// in-memory store, the same combination poc/raft/main.go and
// pkg/manager.Manager.Bootstrap wire up — rather than the teacher's
// separate go.etcd.io/bbolt-backed pkg/storage.BoltStore, which backs
// per-resource CRUD state this codebase has no equivalent durable
// component for.
package storage

import (
	"io"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
)

// Stores bundles the three stores raft.NewRaft requires. Log and
// Stable are frequently the same underlying database (BoltStore
// implements both interfaces); Snapshot is always separate since raft
// snapshots are written as directories of files.
type Stores struct {
	Log      raft.LogStore
	Stable   raft.StableStore
	Snapshot raft.SnapshotStore

	closers []io.Closer
}

// Close releases every underlying resource opened by NewBolt. It is a
// no-op for an in-memory Stores.
func (s Stores) Close() error {
	var first error
	for _, c := range s.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// NewMemory builds a Stores entirely in memory, for tests and
// single-process demos where losing the log on restart is acceptable.
func NewMemory() Stores {
	store := raft.NewInmemStore()
	return Stores{
		Log:      store,
		Stable:   store,
		Snapshot: raft.NewInmemSnapshotStore(),
	}
}

// NewBolt builds a Stores backed by two BoltDB files (raft-log.db,
// raft-stable.db) and a directory of snapshot files, all rooted at
// dataDir — the same layout poc/raft/main.go and
// pkg/manager.Manager.Bootstrap use for a restart-durable replica.
func NewBolt(dataDir string) (Stores, error) {
	logStore, err := raftboltdb.NewBoltStore(dataDir + "/raft-log.db")
	if err != nil {
		return Stores{}, err
	}
	stableStore, err := raftboltdb.NewBoltStore(dataDir + "/raft-stable.db")
	if err != nil {
		logStore.Close()
		return Stores{}, err
	}
	snaps, err := raft.NewFileSnapshotStore(dataDir, 2, io.Discard)
	if err != nil {
		logStore.Close()
		stableStore.Close()
		return Stores{}, err
	}
	return Stores{
		Log:      logStore,
		Stable:   stableStore,
		Snapshot: snaps,
		closers:  []io.Closer{logStore, stableStore},
	}, nil
}
