package storage

import (
	"testing"

	"github.com/hashicorp/raft"
	"github.com/stretchr/testify/require"
)

// newStores returns one instance of every Stores implementation so the
// raft.LogStore/raft.StableStore contract below is exercised
// identically against each.
func newStores(t *testing.T) map[string]Stores {
	t.Helper()
	bolt, err := NewBolt(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = bolt.Close() })
	return map[string]Stores{
		"memory": NewMemory(),
		"bolt":   bolt,
	}
}

func TestStableStoreTermAndVoteRoundTrip(t *testing.T) {
	for name, s := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			missing, _ := s.Stable.GetUint64([]byte("CurrentTerm"))
			require.Equal(t, uint64(0), missing)

			require.NoError(t, s.Stable.SetUint64([]byte("CurrentTerm"), 7))
			term, err := s.Stable.GetUint64([]byte("CurrentTerm"))
			require.NoError(t, err)
			require.Equal(t, uint64(7), term)

			require.NoError(t, s.Stable.Set([]byte("LastVoteCand"), []byte("node-2")))
			voted, err := s.Stable.Get([]byte("LastVoteCand"))
			require.NoError(t, err)
			require.Equal(t, "node-2", string(voted))
		})
	}
}

func TestLogStoreAppendAndGet(t *testing.T) {
	for name, s := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Log.StoreLogs([]*raft.Log{
				{Index: 1, Term: 1, Type: raft.LogCommand, Data: []byte("a")},
				{Index: 2, Term: 1, Type: raft.LogCommand, Data: []byte("b")},
			}))

			var entry raft.Log
			require.NoError(t, s.Log.GetLog(2, &entry))
			require.Equal(t, []byte("b"), entry.Data)

			last, err := s.Log.LastIndex()
			require.NoError(t, err)
			require.Equal(t, uint64(2), last)

			first, err := s.Log.FirstIndex()
			require.NoError(t, err)
			require.Equal(t, uint64(1), first)

			require.Error(t, s.Log.GetLog(99, &entry))
		})
	}
}

func TestLogStoreDeleteRange(t *testing.T) {
	for name, s := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Log.StoreLogs([]*raft.Log{
				{Index: 1, Term: 1, Type: raft.LogCommand, Data: []byte("a")},
				{Index: 2, Term: 1, Type: raft.LogCommand, Data: []byte("b")},
				{Index: 3, Term: 1, Type: raft.LogCommand, Data: []byte("c")},
			}))

			require.NoError(t, s.Log.DeleteRange(2, 3))
			last, err := s.Log.LastIndex()
			require.NoError(t, err)
			require.Equal(t, uint64(1), last)

			var entry raft.Log
			require.Error(t, s.Log.GetLog(2, &entry))
		})
	}
}

func TestBoltStorePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := NewBolt(dir)
	require.NoError(t, err)

	require.NoError(t, s.Stable.SetUint64([]byte("CurrentTerm"), 3))
	require.NoError(t, s.Log.StoreLogs([]*raft.Log{{Index: 1, Term: 3, Type: raft.LogCommand, Data: []byte("x")}}))
	require.NoError(t, s.Close())

	reopened, err := NewBolt(dir)
	require.NoError(t, err)
	defer reopened.Close()

	term, err := reopened.Stable.GetUint64([]byte("CurrentTerm"))
	require.NoError(t, err)
	require.Equal(t, uint64(3), term)

	var entry raft.Log
	require.NoError(t, reopened.Log.GetLog(1, &entry))
	require.Equal(t, []byte("x"), entry.Data)
}
