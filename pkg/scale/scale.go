// Package scale implements the elastic scaler: it watches per-node
// resource samples against a trigger's thresholds and, on a fixed
// evaluation cadence, emits a scale-up/scale-down/no-action decision. It
// is grounded in original_source's elastic_scaler.cpp (pressure/slack
// classification, min/max clamping), reworked into a ticker-driven
// background loop matching the registry's failure-detector shape.
package scale

import (
	"sort"
	"sync"
	"time"

	"github.com/cuemby/meridian/pkg/config"
	"github.com/cuemby/meridian/pkg/events"
	"github.com/cuemby/meridian/pkg/log"
	"github.com/cuemby/meridian/pkg/metrics"
	"github.com/cuemby/meridian/pkg/types"
	"github.com/rs/zerolog"
)

// Trigger names the per-metric thresholds that define scale-up pressure.
// Scale-down slack is every metric at or below 30% of its threshold.
type Trigger struct {
	CPUPct   float64
	MemPct   float64
	DiskPct  float64
	QueryRPS float64
	TxnRPS   float64
}

const slackFraction = 0.30

// Policy clamps scaling decisions to a node-count range.
type Policy struct {
	MinNodes int
	MaxNodes int
}

// ScaleUpFunc and ScaleDownFunc execute a scaling decision, typically by
// manipulating the registry and triggering a rebalance.
type (
	ScaleUpFunc   func(target types.NodeID) error
	ScaleDownFunc func(target types.NodeID) error
)

// Scaler evaluates resource samples against Trigger at a fixed cadence
// and emits ScaleUp/ScaleDown/NoAction decisions, clamped by Policy.
type Scaler struct {
	mu      sync.RWMutex
	samples map[types.NodeID]types.ResourceSample

	trigger Trigger
	policy  Policy
	cadence time.Duration

	currentNodeCount func() int
	scaleUpFn        ScaleUpFunc
	scaleDownFn      ScaleDownFunc

	broker *events.Broker
	logger zerolog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a Scaler evaluating at cfg.ScalerEvaluationInterval.
func New(trigger Trigger, policy Policy, cfg config.Config, broker *events.Broker) *Scaler {
	return &Scaler{
		samples: make(map[types.NodeID]types.ResourceSample),
		trigger: trigger,
		policy:  policy,
		cadence: time.Duration(cfg.ScalerEvaluationInterval),
		broker:  broker,
		logger:  log.WithComponent("scale"),
		stopCh:  make(chan struct{}),
	}
}

// SetNodeCounter registers the callback the scaler consults to clamp
// decisions against Policy.MinNodes/MaxNodes.
func (s *Scaler) SetNodeCounter(fn func() int) { s.currentNodeCount = fn }

// SetScaleUpFunc registers the callback invoked when a SCALE_UP decision
// is emitted.
func (s *Scaler) SetScaleUpFunc(fn ScaleUpFunc) { s.scaleUpFn = fn }

// SetScaleDownFunc registers the callback invoked when a SCALE_DOWN
// decision is emitted.
func (s *Scaler) SetScaleDownFunc(fn ScaleDownFunc) { s.scaleDownFn = fn }

// UpdateSample records the latest resource reading for a node.
func (s *Scaler) UpdateSample(sample types.ResourceSample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sample.Observed = time.Now()
	s.samples[sample.NodeID] = sample
}

// pressure reports whether sample crosses any threshold in Trigger.
func (s *Scaler) pressure(sample types.ResourceSample) bool {
	return sample.CPUPct >= s.trigger.CPUPct ||
		sample.MemPct >= s.trigger.MemPct ||
		sample.DiskPct >= s.trigger.DiskPct ||
		sample.QueryRate >= s.trigger.QueryRPS ||
		sample.TxnRate >= s.trigger.TxnRPS
}

// slack reports whether every metric in sample is at or below 30% of its
// threshold.
func (s *Scaler) slack(sample types.ResourceSample) bool {
	return sample.CPUPct <= s.trigger.CPUPct*slackFraction &&
		sample.MemPct <= s.trigger.MemPct*slackFraction &&
		sample.DiskPct <= s.trigger.DiskPct*slackFraction &&
		sample.QueryRate <= s.trigger.QueryRPS*slackFraction &&
		sample.TxnRate <= s.trigger.TxnRPS*slackFraction
}

// loadScore is a single comparable figure used to rank nodes by load for
// targeting the highest/lowest-loaded node.
func loadScore(sample types.ResourceSample) float64 {
	return sample.CPUPct + sample.MemPct + sample.DiskPct
}

// Evaluate runs one decision cycle over the current samples and returns
// the verdict. It does not invoke the scale-up/scale-down callbacks;
// Start's background loop does that after clamping against Policy.
func (s *Scaler) Evaluate() types.ScaleDecision {
	s.mu.RLock()
	samples := make([]types.ResourceSample, 0, len(s.samples))
	for _, sample := range s.samples {
		samples = append(samples, sample)
	}
	s.mu.RUnlock()

	if len(samples) == 0 {
		return types.ScaleDecision{Action: types.ScaleNoAction, Reason: "no samples"}
	}

	sort.Slice(samples, func(i, j int) bool { return samples[i].NodeID < samples[j].NodeID })

	var highest, lowest *types.ResourceSample
	anyPressure, allSlack := false, true
	for i := range samples {
		sample := samples[i]
		if s.pressure(sample) {
			anyPressure = true
			if highest == nil || loadScore(sample) > loadScore(*highest) {
				highest = &samples[i]
			}
		}
		if !s.slack(sample) {
			allSlack = false
		}
		if lowest == nil || loadScore(sample) < loadScore(*lowest) {
			lowest = &samples[i]
		}
	}

	if anyPressure {
		return types.ScaleDecision{Action: types.ScaleUp, Target: highest.NodeID, Reason: "resource threshold crossed"}
	}
	if allSlack {
		return types.ScaleDecision{Action: types.ScaleDown, Target: lowest.NodeID, Reason: "every metric under slack fraction"}
	}
	return types.ScaleDecision{Action: types.ScaleNoAction}
}

// Start begins the evaluation loop at the configured cadence.
func (s *Scaler) Start() {
	s.wg.Add(1)
	go s.run()
}

// Stop halts the evaluation loop.
func (s *Scaler) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

func (s *Scaler) run() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cadence)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.evaluateAndAct()
		case <-s.stopCh:
			return
		}
	}
}

func (s *Scaler) evaluateAndAct() {
	decision := s.clamp(s.Evaluate())

	switch decision.Action {
	case types.ScaleUp:
		metrics.ScalingDecisionsTotal.WithLabelValues(string(types.ScaleUp)).Inc()
		s.logger.Info().Str("target", string(decision.Target)).Msg("scale up decision")
		if s.broker != nil {
			s.broker.Publish(&events.Event{Type: events.EventScaleUp, Metadata: map[string]string{"target": string(decision.Target)}})
		}
		if s.scaleUpFn != nil {
			if err := s.scaleUpFn(decision.Target); err != nil {
				s.logger.Error().Err(err).Msg("scale up callback failed")
			}
		}
	case types.ScaleDown:
		metrics.ScalingDecisionsTotal.WithLabelValues(string(types.ScaleDown)).Inc()
		s.logger.Info().Str("target", string(decision.Target)).Msg("scale down decision")
		if s.broker != nil {
			s.broker.Publish(&events.Event{Type: events.EventScaleDown, Metadata: map[string]string{"target": string(decision.Target)}})
		}
		if s.scaleDownFn != nil {
			if err := s.scaleDownFn(decision.Target); err != nil {
				s.logger.Error().Err(err).Msg("scale down callback failed")
			}
		}
	default:
		metrics.ScalingDecisionsTotal.WithLabelValues(string(types.ScaleNoAction)).Inc()
		s.logger.Debug().Msg("no scaling action")
	}
}

// clamp enforces Policy.MinNodes/MaxNodes against the decision, demoting
// a SCALE_UP past MaxNodes or a SCALE_DOWN past MinNodes to NoAction.
func (s *Scaler) clamp(decision types.ScaleDecision) types.ScaleDecision {
	if s.currentNodeCount == nil {
		return decision
	}
	n := s.currentNodeCount()
	switch decision.Action {
	case types.ScaleUp:
		if s.policy.MaxNodes > 0 && n >= s.policy.MaxNodes {
			return types.ScaleDecision{Action: types.ScaleNoAction, Reason: "at max_nodes"}
		}
	case types.ScaleDown:
		if s.policy.MinNodes > 0 && n <= s.policy.MinNodes {
			return types.ScaleDecision{Action: types.ScaleNoAction, Reason: "at min_nodes"}
		}
	}
	return decision
}
