package cluster

import (
	"fmt"
	"math/rand"
	"time"
)

// Strategy names accepted in configuration.
const (
	StrategyRoundRobin         = "round_robin"
	StrategyLeastConnections   = "least_connections"
	StrategyWeightedRoundRobin = "weighted_round_robin"
	StrategyResponseTime       = "response_time"
	StrategyStateWeighted      = "state_weighted"
	StrategyCorrelationAware   = "correlation_aware"
	StrategyAdaptive           = "adaptive"
)

// SelectionContext carries the per-call inputs a strategy may consult.
// Candidates are always healthy and ordered by node id; the Router guarantees
// both before dispatch.
type SelectionContext struct {
	Now time.Time
	Rng *rand.Rand

	// TotalRequests is the global request count prior to this selection.
	TotalRequests int64

	// TotalNodes is the registry size including unhealthy nodes; the
	// adaptive strategy uses it for edge density.
	TotalNodes int

	// Entanglement scales the correlation bonus (correlation-aware only).
	Entanglement float64

	// Graph and Lookup resolve correlation partners.
	Graph  *Graph
	Lookup func(string) *Node

	// Measure triggers a state model measurement (plus correlation
	// propagation) on the winner. Set by the Router; strategies that do not
	// measure ignore it.
	Measure func(*Node)
}

// Strategy selects one node among healthy candidates. Implementations are
// pure over the candidate slice except for the measurement hook; they never
// see unhealthy nodes.
type Strategy interface {
	Name() string
	Select(candidates []*Node, sctx *SelectionContext) (*Node, error)
}

// NewStrategy builds the named strategy. The adaptive variant holds direct
// references to its delegate strategies rather than a name-indexed table.
func NewStrategy(name string) (Strategy, error) {
	switch name {
	case StrategyRoundRobin:
		return &roundRobin{}, nil
	case StrategyLeastConnections:
		return &leastConnections{}, nil
	case StrategyWeightedRoundRobin:
		return &weightedRoundRobin{}, nil
	case StrategyResponseTime:
		return &responseTime{}, nil
	case StrategyStateWeighted:
		return &stateWeighted{}, nil
	case StrategyCorrelationAware:
		return &correlationAware{}, nil
	case StrategyAdaptive:
		return newAdaptive(), nil
	default:
		return nil, fmt.Errorf("strategy %q: %w", name, ErrUnknownStrategy)
	}
}

// roundRobin cycles healthy nodes by global request count mod node count.
type roundRobin struct{}

func (s *roundRobin) Name() string { return StrategyRoundRobin }

func (s *roundRobin) Select(candidates []*Node, sctx *SelectionContext) (*Node, error) {
	if len(candidates) == 0 {
		return nil, ErrNoHealthyNode
	}
	idx := int(sctx.TotalRequests % int64(len(candidates)))
	return candidates[idx], nil
}

// leastConnections picks the healthy node with the fewest active connections.
type leastConnections struct{}

func (s *leastConnections) Name() string { return StrategyLeastConnections }

func (s *leastConnections) Select(candidates []*Node, _ *SelectionContext) (*Node, error) {
	if len(candidates) == 0 {
		return nil, ErrNoHealthyNode
	}
	selected := candidates[0]
	for _, node := range candidates[1:] {
		if node.ActiveConnections < selected.ActiveConnections {
			selected = node
		}
	}
	return selected, nil
}

// weightedRoundRobin samples proportionally to static weight via a cumulative
// sum against a uniform draw.
type weightedRoundRobin struct{}

func (s *weightedRoundRobin) Name() string { return StrategyWeightedRoundRobin }

func (s *weightedRoundRobin) Select(candidates []*Node, sctx *SelectionContext) (*Node, error) {
	if len(candidates) == 0 {
		return nil, ErrNoHealthyNode
	}
	var total float64
	for _, node := range candidates {
		total += node.Weight
	}
	draw := sctx.Rng.Float64() * total
	var cum float64
	for _, node := range candidates {
		cum += node.Weight
		if draw <= cum {
			return node, nil
		}
	}
	return candidates[len(candidates)-1], nil
}

// responseTime picks the healthy node with the lowest EMA response time.
type responseTime struct{}

func (s *responseTime) Name() string { return StrategyResponseTime }

func (s *responseTime) Select(candidates []*Node, _ *SelectionContext) (*Node, error) {
	if len(candidates) == 0 {
		return nil, ErrNoHealthyNode
	}
	selected := candidates[0]
	for _, node := range candidates[1:] {
		if node.AvgResponseTime < selected.AvgResponseTime {
			selected = node
		}
	}
	return selected, nil
}

// stateWeighted scores each candidate as coherence * availability * weight
// and measures the winner, collapsing its distribution to a concrete band.
type stateWeighted struct{}

func (s *stateWeighted) Name() string { return StrategyStateWeighted }

func (s *stateWeighted) Select(candidates []*Node, sctx *SelectionContext) (*Node, error) {
	if len(candidates) == 0 {
		return nil, ErrNoHealthyNode
	}
	selected := candidates[0]
	best := stateScore(candidates[0], sctx.Now)
	for _, node := range candidates[1:] {
		if score := stateScore(node, sctx.Now); score > best {
			best = score
			selected = node
		}
	}
	if sctx.Measure != nil {
		sctx.Measure(selected)
	}
	return selected, nil
}

func stateScore(n *Node, now time.Time) float64 {
	return n.State.Coherence(now) * (1 - n.LoadRatio()) * n.Weight
}

// correlationAware extends the state-weighted score with an additive bonus
// per correlation edge: a lightly loaded healthy partner makes the candidate
// more attractive. The multiplicative base score and the additive bonus are
// on separate scales; candidates are only ever compared to each other.
type correlationAware struct{}

func (s *correlationAware) Name() string { return StrategyCorrelationAware }

func (s *correlationAware) Select(candidates []*Node, sctx *SelectionContext) (*Node, error) {
	if len(candidates) == 0 {
		return nil, ErrNoHealthyNode
	}
	selected := candidates[0]
	best := s.score(candidates[0], sctx)
	for _, node := range candidates[1:] {
		if score := s.score(node, sctx); score > best {
			best = score
			selected = node
		}
	}
	if sctx.Measure != nil {
		sctx.Measure(selected)
	}
	return selected, nil
}

func (s *correlationAware) score(n *Node, sctx *SelectionContext) float64 {
	score := stateScore(n, sctx.Now)
	if sctx.Graph == nil || sctx.Lookup == nil {
		return score
	}
	for _, edge := range sctx.Graph.EdgesOf(n.ID) {
		partner := sctx.Lookup(edge.Partner(n.ID))
		if partner == nil || !partner.IsHealthy() {
			continue
		}
		score += edge.Strength * (1 - partner.LoadRatio()) * sctx.Entanglement
	}
	return score
}
