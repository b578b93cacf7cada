package replication

import (
	"sync"
	"time"

	"github.com/cuemby/meridian/pkg/config"
	"github.com/cuemby/meridian/pkg/events"
	"github.com/cuemby/meridian/pkg/log"
	"github.com/cuemby/meridian/pkg/metrics"
	"github.com/cuemby/meridian/pkg/types"
	"github.com/rs/zerolog"
)

// ReplicateFunc pushes a (key, value) write to one region and reports
// whether it was acknowledged.
type ReplicateFunc func(region types.RegionDescriptor, key, value string) bool

// HeartbeatFunc pings one region and reports whether it answered.
type HeartbeatFunc func(region types.RegionDescriptor) bool

// connectionLossThreshold is how long a region may go without a
// successful heartbeat before RegionReplicator considers it
// disconnected.
const connectionLossThreshold = 3 * time.Second

// Replicator forwards committed writes to peer regions under a
// configured strategy and tracks per-region ReplicationStatus via a
// background heartbeat loop.
type Replicator struct {
	mu       sync.RWMutex
	regions  map[string]types.RegionDescriptor
	status   map[string]types.ReplicationStatus
	strategy config.ReplicationStrategy
	cadence  time.Duration

	replicateFn ReplicateFunc
	heartbeatFn HeartbeatFunc
	broker      *events.Broker
	logger      zerolog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a Replicator under cfg's replication strategy and region
// heartbeat cadence.
func New(cfg config.Config, broker *events.Broker) *Replicator {
	return &Replicator{
		regions:  make(map[string]types.RegionDescriptor),
		status:   make(map[string]types.ReplicationStatus),
		strategy: cfg.ReplicationStrategy,
		cadence:  time.Duration(cfg.RegionHeartbeatInterval),
		broker:   broker,
		logger:   log.WithComponent("replication"),
		stopCh:   make(chan struct{}),
	}
}

// SetReplicateFunc registers the callback that performs the network send
// to a region.
func (r *Replicator) SetReplicateFunc(fn ReplicateFunc) { r.replicateFn = fn }

// SetHeartbeatFunc registers the callback that pings a region.
func (r *Replicator) SetHeartbeatFunc(fn HeartbeatFunc) { r.heartbeatFn = fn }

// AddRegion registers a peer region, initially disconnected until the
// first successful heartbeat.
func (r *Replicator) AddRegion(region types.RegionDescriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.regions[region.RegionID] = region
	r.status[region.RegionID] = types.ReplicationStatus{RegionID: region.RegionID}
}

// Replicate forwards (key, value) to every connected region under the
// configured strategy: Synchronous waits for every connected region;
// Asynchronous returns immediately; SemiSynchronous waits only for the
// primary region.
func (r *Replicator) Replicate(key, value string) bool {
	r.mu.RLock()
	regions := make([]types.RegionDescriptor, 0, len(r.regions))
	for _, rg := range r.regions {
		if r.status[rg.RegionID].Connected {
			regions = append(regions, rg)
		}
	}
	strategy := r.strategy
	r.mu.RUnlock()

	switch strategy {
	case config.ReplicationAsync:
		go r.fanOut(regions, key, value)
		return true
	case config.ReplicationSemiSync:
		var primary *types.RegionDescriptor
		var rest []types.RegionDescriptor
		for _, rg := range regions {
			if rg.IsPrimary {
				p := rg
				primary = &p
			} else {
				rest = append(rest, rg)
			}
		}
		go r.fanOut(rest, key, value)
		if primary == nil {
			return true
		}
		return r.send(*primary, key, value)
	default: // ReplicationSync
		ok := true
		for _, rg := range regions {
			if !r.send(rg, key, value) {
				ok = false
			}
		}
		return ok
	}
}

func (r *Replicator) fanOut(regions []types.RegionDescriptor, key, value string) {
	for _, rg := range regions {
		r.send(rg, key, value)
	}
}

func (r *Replicator) send(region types.RegionDescriptor, key, value string) bool {
	if r.replicateFn == nil {
		return false
	}
	return r.replicateFn(region, key, value)
}

// Start begins the per-region heartbeat loop at the configured cadence.
func (r *Replicator) Start() {
	r.wg.Add(1)
	go r.run()
}

// Stop halts the heartbeat loop.
func (r *Replicator) Stop() {
	close(r.stopCh)
	r.wg.Wait()
}

func (r *Replicator) run() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.cadence)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.sweep()
		case <-r.stopCh:
			return
		}
	}
}

func (r *Replicator) sweep() {
	r.mu.RLock()
	regions := make([]types.RegionDescriptor, 0, len(r.regions))
	for _, rg := range r.regions {
		regions = append(regions, rg)
	}
	r.mu.RUnlock()

	for _, rg := range regions {
		ok := r.heartbeatFn != nil && r.heartbeatFn(rg)
		r.mu.Lock()
		st := r.status[rg.RegionID]
		wasConnected := st.Connected
		if ok {
			st.Connected = true
			st.LastHeartbeat = time.Now()
			st.Err = ""
		} else if time.Since(st.LastHeartbeat) > connectionLossThreshold {
			st.Connected = false
			st.Err = "heartbeat timeout"
		}
		r.status[rg.RegionID] = st
		r.mu.Unlock()

		lag := time.Since(st.LastHeartbeat).Seconds()
		metrics.ReplicationLagSeconds.WithLabelValues(rg.RegionID).Set(lag)

		if wasConnected && !st.Connected {
			r.logger.Warn().Str("region_id", rg.RegionID).Msg("region disconnected")
			if r.broker != nil {
				r.broker.Publish(&events.Event{Type: events.EventReplicaLagging, Metadata: map[string]string{"region_id": rg.RegionID}})
			}
		}
	}
}

// Status returns a snapshot of every tracked region's replication
// status.
func (r *Replicator) Status() []types.ReplicationStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.ReplicationStatus, 0, len(r.status))
	for _, s := range r.status {
		out = append(out, s)
	}
	return out
}
