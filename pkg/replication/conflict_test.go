package replication

import (
	"errors"
	"testing"
	"time"

	"github.com/cuemby/meridian/pkg/config"
	"github.com/stretchr/testify/require"
)

func TestResolveLatestTimestampPicksNewest(t *testing.T) {
	r := NewConflictResolver(config.ConflictLatestTimestamp)
	now := time.Now()
	values := []ConflictValue{
		{Value: "old", Timestamp: now.Add(-time.Minute), Source: "a"},
		{Value: "new", Timestamp: now, Source: "b"},
	}
	require.Equal(t, "new", r.Resolve("k", values))
}

func TestResolveLatestTimestampBreaksTiesBySource(t *testing.T) {
	r := NewConflictResolver(config.ConflictLatestTimestamp)
	now := time.Now()
	values := []ConflictValue{
		{Value: "from-b", Timestamp: now, Source: "b"},
		{Value: "from-a", Timestamp: now, Source: "a"},
	}
	require.Equal(t, "from-a", r.Resolve("k", values))
}

func TestResolveMultiValueSerializesSortedBySource(t *testing.T) {
	r := NewConflictResolver(config.ConflictMultiValue)
	values := []ConflictValue{
		{Value: "2", Source: "region-b"},
		{Value: "1", Source: "region-a"},
	}
	require.Equal(t, "region-a=1|region-b=2", r.Resolve("k", values))
}

func TestResolveCustomFallsBackOnError(t *testing.T) {
	r := NewConflictResolver(config.ConflictCustom)
	r.RegisterCustomResolver(func(key string, values []ConflictValue) (string, error) {
		return "", errors.New("custom resolver unavailable")
	})

	now := time.Now()
	values := []ConflictValue{
		{Value: "old", Timestamp: now.Add(-time.Second), Source: "a"},
		{Value: "new", Timestamp: now, Source: "b"},
	}
	require.Equal(t, "new", r.Resolve("k", values))
}

func TestResolveCustomUsesRegisteredFunc(t *testing.T) {
	r := NewConflictResolver(config.ConflictCustom)
	r.RegisterCustomResolver(func(key string, values []ConflictValue) (string, error) {
		return "custom-result", nil
	})
	require.Equal(t, "custom-result", r.Resolve("k", []ConflictValue{{Value: "x", Source: "a"}}))
}

func TestResolveEmptyValuesCountsUnresolved(t *testing.T) {
	r := NewConflictResolver(config.ConflictLatestTimestamp)
	require.Equal(t, "", r.Resolve("k", nil))

	total, unresolved := r.Stats()
	require.Equal(t, uint64(1), total)
	require.Equal(t, uint64(1), unresolved)
}

func TestStatsCountsEveryResolution(t *testing.T) {
	r := NewConflictResolver(config.ConflictLatestTimestamp)
	r.Resolve("k1", []ConflictValue{{Value: "a", Source: "x"}})
	r.Resolve("k2", []ConflictValue{{Value: "b", Source: "y"}})

	total, unresolved := r.Stats()
	require.Equal(t, uint64(2), total)
	require.Equal(t, uint64(0), unresolved)
}
