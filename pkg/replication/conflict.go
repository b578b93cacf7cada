// Package replication pushes committed writes out to peer regions and
// deterministically reconciles concurrent writes to the same key. It is
// grounded in original_source's replication_manager.cpp (per-region
// heartbeat and connected-state tracking) and conflict_resolver.cpp
// (strategy enum and resolution-statistics counters).
package replication

import (
	"sort"
	"sync"
	"time"

	"github.com/cuemby/meridian/pkg/config"
	"github.com/cuemby/meridian/pkg/metrics"
)

// ConflictValue is one candidate value observed for a key, from one
// source (region or writer).
type ConflictValue struct {
	Value     string
	Timestamp time.Time
	Source    string
}

// CustomResolverFunc is a pure function of a key and its conflicting
// values, returning the single value to keep. A custom resolver that
// panics or returns an error falls back to LatestTimestamp.
type CustomResolverFunc func(key string, values []ConflictValue) (string, error)

// ConflictResolver reconciles multiple candidate values for a key under
// a configured strategy, deterministically: resolve(input) ==
// resolve(input) for any input regardless of goroutine scheduling, since
// resolution only ever reads its input slice and never touches shared
// state.
type ConflictResolver struct {
	strategy config.ConflictStrategy
	custom   CustomResolverFunc

	mu                    sync.Mutex
	totalResolutions      uint64
	unresolvedResolutions uint64
}

// NewConflictResolver creates a resolver under the given strategy.
func NewConflictResolver(strategy config.ConflictStrategy) *ConflictResolver {
	return &ConflictResolver{strategy: strategy}
}

// RegisterCustomResolver installs the function used by ConflictCustom.
func (c *ConflictResolver) RegisterCustomResolver(fn CustomResolverFunc) {
	c.custom = fn
}

// Resolve reconciles values for key under the resolver's strategy.
// MultiValue returns every value serialized deterministically
// (sorted by source); every other strategy returns a single value.
func (c *ConflictResolver) Resolve(key string, values []ConflictValue) string {
	c.mu.Lock()
	c.totalResolutions++
	c.mu.Unlock()
	if len(values) == 0 {
		c.mu.Lock()
		c.unresolvedResolutions++
		c.mu.Unlock()
		metrics.ConflictsResolvedTotal.WithLabelValues("unresolved").Inc()
		return ""
	}

	switch c.strategy {
	case config.ConflictMultiValue:
		metrics.ConflictsResolvedTotal.WithLabelValues(string(config.ConflictMultiValue)).Inc()
		return multiValueSerialize(values)
	case config.ConflictCustom:
		if c.custom != nil {
			v, ok := func() (v string, ok bool) {
				defer func() {
					if recover() != nil {
						v, ok = "", false
					}
				}()
				res, err := c.custom(key, values)
				return res, err == nil
			}()
			if ok {
				metrics.ConflictsResolvedTotal.WithLabelValues(string(config.ConflictCustom)).Inc()
				return v
			}
		}
		// custom resolver unset or failed: fall back to LatestTimestamp
		metrics.ConflictsResolvedTotal.WithLabelValues(string(config.ConflictLatestTimestamp)).Inc()
		return latestTimestamp(values)
	case config.ConflictLWW:
		metrics.ConflictsResolvedTotal.WithLabelValues(string(config.ConflictLWW)).Inc()
		return latestTimestamp(values)
	default: // ConflictLatestTimestamp
		metrics.ConflictsResolvedTotal.WithLabelValues(string(config.ConflictLatestTimestamp)).Inc()
		return latestTimestamp(values)
	}
}

// latestTimestamp picks the value with the greatest timestamp, ties
// broken by lexicographically smallest source id.
func latestTimestamp(values []ConflictValue) string {
	best := values[0]
	for _, v := range values[1:] {
		if v.Timestamp.After(best.Timestamp) ||
			(v.Timestamp.Equal(best.Timestamp) && v.Source < best.Source) {
			best = v
		}
	}
	return best.Value
}

// multiValueSerialize retains every conflicting value, sorted by source
// id for determinism, joined as a deterministic sequence.
func multiValueSerialize(values []ConflictValue) string {
	sorted := append([]ConflictValue(nil), values...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Source < sorted[j].Source })
	out := ""
	for i, v := range sorted {
		if i > 0 {
			out += "|"
		}
		out += v.Source + "=" + v.Value
	}
	return out
}

// Stats returns the resolver's running counters.
func (c *ConflictResolver) Stats() (total, unresolved uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalResolutions, c.unresolvedResolutions
}
