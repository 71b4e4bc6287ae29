package cluster

import (
	"fmt"
	"time"

	"github.com/danieleschmidt/GH200-Retrieval-Router-sub004/internal/logging"
)

// Health score deductions. The score starts at 1.0 per node and each signal
// subtracts its penalty; a node is healthy iff the remainder exceeds
// healthyThreshold.
const (
	healthyThreshold = 0.5

	loadCriticalRatio   = 0.9
	loadWarnRatio       = 0.7
	loadCriticalPenalty = 0.4
	loadWarnPenalty     = 0.2

	latencyCriticalMs      = 5000.0
	latencyWarnMs          = 2000.0
	latencyCriticalPenalty = 0.3
	latencyWarnPenalty     = 0.1

	failureCriticalRate    = 0.10
	failureWarnRate        = 0.05
	failureCriticalPenalty = 0.3
	failureWarnPenalty     = 0.1

	lowCoherence        = 0.3
	lowCoherencePenalty = 0.2
)

// healthTransition records a status flip observed during a sweep, so the
// Router can emit events after releasing its lock.
type healthTransition struct {
	NodeID  string
	Score   float64
	Healthy bool
}

// HealthSupervisor periodically scores node health and flips status. It owns
// no state beyond the probe logic; the Router drives it under its lock.
type HealthSupervisor struct{}

// NewHealthSupervisor creates a supervisor.
func NewHealthSupervisor() *HealthSupervisor {
	return &HealthSupervisor{}
}

// Sweep scores every node and applies status transitions, returning the flips
// that occurred. A probe failure on one node is caught, logged, and resolved
// to score 0 (unhealthy); it never aborts the sweep for the others.
func (h *HealthSupervisor) Sweep(nodes []*Node, now time.Time) []healthTransition {
	var transitions []healthTransition

	for _, node := range nodes {
		score, err := h.probe(node, now)
		if err != nil {
			logging.Op().Warn("health probe failed", "id", node.ID, "error", err)
			score = 0
		}

		node.HealthScore = score
		node.LastHealthCheck = now

		healthy := score > healthyThreshold
		switch {
		case healthy && node.Status == NodeUnhealthy:
			node.Status = NodeHealthy
			transitions = append(transitions, healthTransition{NodeID: node.ID, Score: score, Healthy: true})
			logging.Op().Info("node recovered", "id", node.ID, "score", score)
		case !healthy && node.Status == NodeHealthy:
			node.Status = NodeUnhealthy
			transitions = append(transitions, healthTransition{NodeID: node.ID, Score: score, Healthy: false})
			logging.Op().Warn("node became unhealthy", "id", node.ID, "score", score)
		}
	}

	return transitions
}

// probe computes the additive health score for one node.
func (h *HealthSupervisor) probe(node *Node, now time.Time) (float64, error) {
	if node.State == nil {
		return 0, fmt.Errorf("node %s has no state model", node.ID)
	}

	score := 1.0

	switch lr := node.LoadRatio(); {
	case lr > loadCriticalRatio:
		score -= loadCriticalPenalty
	case lr > loadWarnRatio:
		score -= loadWarnPenalty
	}

	switch rt := node.AvgResponseTime; {
	case rt > latencyCriticalMs:
		score -= latencyCriticalPenalty
	case rt > latencyWarnMs:
		score -= latencyWarnPenalty
	}

	switch fr := node.FailureRate(); {
	case fr > failureCriticalRate:
		score -= failureCriticalPenalty
	case fr > failureWarnRate:
		score -= failureWarnPenalty
	}

	if node.State.Coherence(now) < lowCoherence {
		score -= lowCoherencePenalty
	}

	if score < 0 {
		score = 0
	}
	return score, nil
}
