// Package balancer picks a node from a candidate set under one of four
// policies. It is stateless across restarts: all per-node stats and
// health live in memory and are rebuilt from heartbeats and resource
// samples as the cluster runs.
package balancer

import (
	"math/rand"
	"sync"

	"github.com/cuemby/meridian/pkg/types"
)

// Policy selects how Pick chooses among healthy candidates.
type Policy string

const (
	PolicyRoundRobin           Policy = "round_robin"
	PolicyUniformRandom        Policy = "uniform_random"
	PolicyLeastConnections     Policy = "least_connections"
	PolicyWeightedLeastScore   Policy = "weighted_least_score"
)

// ScoreWeights are the coefficients of the weighted-least-score policy:
// score = alpha*CPU% + beta*mem% + gamma*avgResponseMs.
type ScoreWeights struct {
	Alpha float64
	Beta  float64
	Gamma float64
}

// DefaultScoreWeights weights CPU and memory equally and gives response
// time a smaller coefficient since it is measured in milliseconds, not
// percent.
var DefaultScoreWeights = ScoreWeights{Alpha: 0.4, Beta: 0.4, Gamma: 0.2}

// stats is the per-candidate state the balancer tracks between picks.
type stats struct {
	healthy       bool
	connections   int
	cpuPct        float64
	memPct        float64
	avgResponseMs float64
}

// Balancer selects one node from a candidate set under Policy. Stats
// updates are lock-coarse; Pick holds the lock only long enough to
// filter the candidate view and select.
type Balancer struct {
	mu      sync.Mutex
	policy  Policy
	weights ScoreWeights
	nodes   map[types.NodeID]*stats
	rrIndex int
}

// New creates a Balancer under the given policy.
func New(policy Policy) *Balancer {
	return &Balancer{
		policy:  policy,
		weights: DefaultScoreWeights,
		nodes:   make(map[types.NodeID]*stats),
	}
}

// AddCandidate registers a node as eligible for selection, healthy by
// default.
func (b *Balancer) AddCandidate(id types.NodeID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.nodes[id]; !exists {
		b.nodes[id] = &stats{healthy: true}
	}
}

// RemoveCandidate drops a node from consideration.
func (b *Balancer) RemoveCandidate(id types.NodeID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.nodes, id)
}

// UpdateStats records a fresh resource sample for id.
func (b *Balancer) UpdateStats(sample types.ResourceSample) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, exists := b.nodes[sample.NodeID]
	if !exists {
		s = &stats{healthy: true}
		b.nodes[sample.NodeID] = s
	}
	s.cpuPct = sample.CPUPct
	s.memPct = sample.MemPct
}

// MarkHealth sets a candidate's eligibility for selection.
func (b *Balancer) MarkHealth(id types.NodeID, healthy bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, exists := b.nodes[id]; exists {
		s.healthy = healthy
	}
}

// RecordConnection adjusts id's open-connection count, used by the
// least-connections policy. delta is typically +1 on connect, -1 on
// disconnect.
func (b *Balancer) RecordConnection(id types.NodeID, delta int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, exists := b.nodes[id]; exists {
		s.connections += delta
	}
}

// RecordResponseTime folds a new response-time observation into id's
// running average, used by the weighted-least-score policy.
func (b *Balancer) RecordResponseTime(id types.NodeID, ms float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, exists := b.nodes[id]; exists {
		if s.avgResponseMs == 0 {
			s.avgResponseMs = ms
		} else {
			s.avgResponseMs = s.avgResponseMs*0.8 + ms*0.2
		}
	}
}

// Pick filters candidateSet to healthy, known nodes and applies the
// current policy. Returns ("", false) if no candidate is eligible.
// Pick is total-order-fair (every candidate gets an equal turn over
// time) only under PolicyRoundRobin.
func (b *Balancer) Pick(candidateSet []types.NodeID) (types.NodeID, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var healthy []types.NodeID
	for _, id := range candidateSet {
		if s, exists := b.nodes[id]; exists && s.healthy {
			healthy = append(healthy, id)
		}
	}
	if len(healthy) == 0 {
		return "", false
	}

	switch b.policy {
	case PolicyUniformRandom:
		return healthy[rand.Intn(len(healthy))], true
	case PolicyLeastConnections:
		return b.pickLeastConnections(healthy), true
	case PolicyWeightedLeastScore:
		return b.pickWeightedLeastScore(healthy), true
	default: // PolicyRoundRobin
		return b.pickRoundRobin(healthy), true
	}
}

func (b *Balancer) pickRoundRobin(healthy []types.NodeID) types.NodeID {
	id := healthy[b.rrIndex%len(healthy)]
	b.rrIndex++
	return id
}

func (b *Balancer) pickLeastConnections(healthy []types.NodeID) types.NodeID {
	best := healthy[0]
	bestConn := b.nodes[best].connections
	for _, id := range healthy[1:] {
		if c := b.nodes[id].connections; c < bestConn {
			best, bestConn = id, c
		}
	}
	return best
}

func (b *Balancer) pickWeightedLeastScore(healthy []types.NodeID) types.NodeID {
	best := healthy[0]
	bestScore := b.score(best)
	for _, id := range healthy[1:] {
		if s := b.score(id); s < bestScore {
			best, bestScore = id, s
		}
	}
	return best
}

func (b *Balancer) score(id types.NodeID) float64 {
	s := b.nodes[id]
	return b.weights.Alpha*s.cpuPct + b.weights.Beta*s.memPct + b.weights.Gamma*s.avgResponseMs
}
