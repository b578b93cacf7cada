// Package query implements the cross-shard executor: it fans a query out
// to every live shard (or to a caller-chosen subset), collects per-shard results under a
// deadline, and merges them. It is grounded in original_source's
// distributed_query_executor.cpp (ShardInfo registry, parallel dispatch
// with a per-shard timeout, concatenation merge), reworked so dispatch
// runs over real goroutines and a per-shard timeout is a context
// deadline rather than a polled flag.
package query

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cuemby/meridian/pkg/config"
	"github.com/cuemby/meridian/pkg/log"
	"github.com/cuemby/meridian/pkg/merr"
	"github.com/cuemby/meridian/pkg/metrics"
	"github.com/cuemby/meridian/pkg/shard"
	"github.com/cuemby/meridian/pkg/types"
	"github.com/rs/zerolog"
)

// ShardInfo is one shard the executor can dispatch to.
type ShardInfo struct {
	ShardID types.ShardID
	Live    bool
}

// ExecFunc runs a query against one shard and returns its rows. It must
// respect ctx's deadline: the executor treats a late return as a
// timed-out shard regardless of whether ExecFunc eventually answers.
type ExecFunc func(ctx context.Context, shardID types.ShardID, query string) ([]map[string]any, error)

// TablesFunc extracts the table names a query references. ExecuteOnAll
// calls it but does not narrow fan-out by its result: whether it returns
// table names or nothing, the query goes to every live shard.
type TablesFunc func(query string) []string

// MergeFunc combines per-shard results into a final row set. The default
// ConcatMerge only concatenates rows and is not valid for queries needing
// cross-shard joins or global aggregation; callers needing those must
// supply their own MergeFunc.
type MergeFunc func(results []types.ShardResult) []map[string]any

// Executor fans queries out across shards registered via AddShard.
type Executor struct {
	mu      sync.RWMutex
	shards  map[types.ShardID]ShardInfo
	shardMp *shard.Map

	timeout    time.Duration
	execFn     ExecFunc
	tablesFn   TablesFunc
	mergeFn    MergeFunc
	aggregateOK bool

	logger zerolog.Logger
}

// New creates an Executor. shardMp may be nil if the caller manages
// shard liveness purely through AddShard/RemoveShard.
func New(shardMp *shard.Map, cfg config.Config) *Executor {
	return &Executor{
		shards:  make(map[types.ShardID]ShardInfo),
		shardMp: shardMp,
		timeout: time.Duration(cfg.QueryTimeout),
		mergeFn: ConcatMerge,
		logger:  log.WithComponent("query"),
	}
}

// SetExecFunc registers the callback that runs a query against one shard.
func (e *Executor) SetExecFunc(fn ExecFunc) { e.execFn = fn }

// SetTablesFunc registers the callback that extracts referenced table
// names from a query. Its result does not narrow fan-out (see TablesFunc).
func (e *Executor) SetTablesFunc(fn TablesFunc) { e.tablesFn = fn }

// SetMergeFunc overrides the default concatenation merge. Queries that
// need GROUP BY/HAVING/cross-shard joins need their own MergeFunc;
// ConcatMerge does not detect or reject them, it concatenates their rows
// like any other query's.
func (e *Executor) SetMergeFunc(fn MergeFunc) { e.mergeFn = fn }

// AddShard registers a shard as a fan-out candidate.
func (e *Executor) AddShard(info ShardInfo) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.shards[info.ShardID] = info
}

// RemoveShard drops a shard from fan-out consideration.
func (e *Executor) RemoveShard(shardID types.ShardID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.shards, shardID)
}

func (e *Executor) liveShardIDs() []types.ShardID {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]types.ShardID, 0, len(e.shards))
	for id, info := range e.shards {
		if info.Live {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ExecuteOnAll dispatches query to every live registered shard. A
// registered TablesFunc is consulted but does not narrow the target set.
func (e *Executor) ExecuteOnAll(query string) ([]types.ShardResult, error) {
	targets := e.relevantShards(query)
	return e.dispatch(targets, query)
}

// ExecuteOnSubset dispatches query to exactly shardIDs, ignoring table
// extraction.
func (e *Executor) ExecuteOnSubset(query string, shardIDs []types.ShardID) ([]types.ShardResult, error) {
	if len(shardIDs) == 0 {
		return nil, merr.New(merr.KindInvalidArgument, "no shards specified")
	}
	return e.dispatch(shardIDs, query)
}

// relevantShards returns every live shard. It consults TablesFunc when
// one is registered, but the result is the same with or without table
// names.
func (e *Executor) relevantShards(query string) []types.ShardID {
	all := e.liveShardIDs()
	if e.tablesFn == nil {
		return all
	}
	tables := e.tablesFn(query)
	if len(tables) == 0 {
		return all
	}
	// Table-to-shard routing is left to the caller's ExecFunc/TablesFunc
	// pairing in this generic core; absent a richer catalog the executor
	// cannot narrow further than "tables were named" and still fans out
	// to every live shard, merge collapses duplicates as the design notes.
	return all
}

func (e *Executor) dispatch(shardIDs []types.ShardID, query string) ([]types.ShardResult, error) {
	if len(shardIDs) == 0 {
		return nil, merr.New(merr.KindUnavailable, "no shards available for query").
			WithRemediation("register at least one live shard before querying")
	}

	timer := metrics.NewTimer()
	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()

	results := make([]types.ShardResult, len(shardIDs))
	var wg sync.WaitGroup
	for i, id := range shardIDs {
		i, id := i, id
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = e.execOne(ctx, id, query)
		}()
	}
	wg.Wait()

	timer.ObserveDuration(metrics.QueryFanoutDuration)
	for _, r := range results {
		if !r.Success {
			metrics.QueryShardFailuresTotal.Inc()
		}
	}
	return results, nil
}

func (e *Executor) execOne(ctx context.Context, shardID types.ShardID, query string) types.ShardResult {
	if e.execFn == nil {
		return types.ShardResult{ShardID: shardID, Success: false, Err: "no exec function registered"}
	}

	done := make(chan struct{})
	var rows []map[string]any
	var err error
	go func() {
		rows, err = e.execFn(ctx, shardID, query)
		close(done)
	}()

	select {
	case <-done:
		if err != nil {
			return types.ShardResult{ShardID: shardID, Success: false, Err: err.Error()}
		}
		return types.ShardResult{ShardID: shardID, Success: true, Rows: rows}
	case <-ctx.Done():
		e.logger.Warn().Str("shard_id", string(shardID)).Msg("shard query timed out")
		return types.ShardResult{ShardID: shardID, Success: false, Err: "timeout"}
	}
}

// Merge applies the executor's configured MergeFunc (ConcatMerge by
// default) to a result set.
func (e *Executor) Merge(results []types.ShardResult) []map[string]any {
	fn := e.mergeFn
	if fn == nil {
		fn = ConcatMerge
	}
	return fn(results)
}

// ConcatMerge concatenates the rows of every successful shard result, in
// shard-id order. It is the default merge and is only valid for simple
// projections: it performs no cross-shard join or aggregation, per the
// design's explicit call-out that those require a caller-supplied
// MergeFunc.
func ConcatMerge(results []types.ShardResult) []map[string]any {
	sorted := append([]types.ShardResult(nil), results...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ShardID < sorted[j].ShardID })

	var out []map[string]any
	for _, r := range sorted {
		if r.Success {
			out = append(out, r.Rows...)
		}
	}
	return out
}
