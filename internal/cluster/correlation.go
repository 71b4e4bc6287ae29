package cluster

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/danieleschmidt/GH200-Retrieval-Router-sub004/internal/logging"
)

// EdgeType classifies a correlation edge by strength.
type EdgeType string

const (
	EdgeStandard EdgeType = "standard"
	EdgeStrong   EdgeType = "strong" // strength > 0.8
)

// Correlation signal weights and thresholds.
const (
	signalDatacenterWeight = 0.4
	signalRegionWeight     = 0.3
	signalLoadWeight       = 0.3

	edgeThreshold   = 0.7 // minimum strength to create an edge
	strongThreshold = 0.8

	// Propagation constants: a measurement on one member shifts strength*0.2
	// of probability mass toward the measured band on its partner, damps the
	// other bands slightly, and costs the partner a sliver of coherence.
	propagationBoost     = 0.2
	propagationDampScale = 0.1
	propagationCohScale  = 0.05
)

// Metadata keys consulted when scoring placement signals.
const (
	metaDatacenter = "datacenter"
	metaRegion     = "region"
)

// CorrelationEdge links an unordered pair of nodes whose behavior is
// statistically related. Edges are created lazily during registration scans
// and never removed except when a member node is unregistered.
type CorrelationEdge struct {
	ID        string    `json:"id"`
	NodeA     string    `json:"node_a"`
	NodeB     string    `json:"node_b"`
	Strength  float64   `json:"strength"` // [0, 1]
	Type      EdgeType  `json:"type"`
	CreatedAt time.Time `json:"created_at"`
}

// Partner returns the other member of the edge, or "" if id is not a member.
func (e *CorrelationEdge) Partner(id string) string {
	switch id {
	case e.NodeA:
		return e.NodeB
	case e.NodeB:
		return e.NodeA
	default:
		return ""
	}
}

// Graph maintains correlation edges between registered nodes. Like the
// Registry it holds no lock of its own; the Router serializes access.
type Graph struct {
	edges  map[string]*CorrelationEdge
	byNode map[string][]string // node id -> edge ids
}

// NewGraph creates an empty correlation graph.
func NewGraph() *Graph {
	return &Graph{
		edges:  make(map[string]*CorrelationEdge),
		byNode: make(map[string][]string),
	}
}

// EdgeCount returns the number of live edges.
func (g *Graph) EdgeCount() int {
	return len(g.edges)
}

// EdgesOf returns the edges touching the given node.
func (g *Graph) EdgesOf(id string) []*CorrelationEdge {
	ids := g.byNode[id]
	out := make([]*CorrelationEdge, 0, len(ids))
	for _, eid := range ids {
		if e, ok := g.edges[eid]; ok {
			out = append(out, e)
		}
	}
	return out
}

// Density returns |edges| / (N*(N-1)/2) for N registered nodes.
func (g *Graph) Density(totalNodes int) float64 {
	if totalNodes < 2 {
		return 0
	}
	possible := float64(totalNodes*(totalNodes-1)) / 2
	return float64(len(g.edges)) / possible
}

// Scan computes correlation strength between a newly registered node and
// every existing node, creating an edge for each pair whose strength clears
// the threshold. Both state models record the edge id.
func (g *Graph) Scan(node *Node, existing []*Node, now time.Time) {
	for _, other := range existing {
		if other.ID == node.ID {
			continue
		}
		strength := correlationStrength(node, other)
		if strength <= edgeThreshold {
			continue
		}
		g.addEdge(node, other, strength, now)
	}
}

func (g *Graph) addEdge(a, b *Node, strength float64, now time.Time) {
	edgeType := EdgeStandard
	if strength > strongThreshold {
		edgeType = EdgeStrong
	}
	edge := &CorrelationEdge{
		ID:        uuid.NewString(),
		NodeA:     a.ID,
		NodeB:     b.ID,
		Strength:  strength,
		Type:      edgeType,
		CreatedAt: now,
	}
	g.edges[edge.ID] = edge
	g.byNode[a.ID] = append(g.byNode[a.ID], edge.ID)
	g.byNode[b.ID] = append(g.byNode[b.ID], edge.ID)
	a.State.AttachEdge(edge.ID)
	b.State.AttachEdge(edge.ID)

	logging.Op().Debug("correlation edge created",
		"edge", edge.ID, "a", a.ID, "b", b.ID, "strength", strength, "type", string(edgeType))
}

// RemoveNode deletes every edge touching the given node, detaching edge ids
// from surviving partners via the lookup function.
func (g *Graph) RemoveNode(id string, lookup func(string) *Node) {
	for _, eid := range g.byNode[id] {
		edge, ok := g.edges[eid]
		if !ok {
			continue
		}
		delete(g.edges, eid)

		partnerID := edge.Partner(id)
		g.detachFromNode(partnerID, eid)
		if partner := lookup(partnerID); partner != nil && partner.State != nil {
			partner.State.DetachEdge(eid)
		}
	}
	delete(g.byNode, id)
}

func (g *Graph) detachFromNode(id, edgeID string) {
	ids := g.byNode[id]
	for i, e := range ids {
		if e == edgeID {
			g.byNode[id] = append(ids[:i], ids[i+1:]...)
			return
		}
	}
}

// Propagate perturbs the partners of a just-measured node: each partner's
// probability for the measured band rises with edge strength, its other bands
// are proportionally damped, and its coherence drops slightly. The lookup
// function resolves live nodes; vanished partners are skipped.
func (g *Graph) Propagate(measured *Node, band LoadBand, lookup func(string) *Node) {
	for _, edge := range g.EdgesOf(measured.ID) {
		partner := lookup(edge.Partner(measured.ID))
		if partner == nil || partner.State == nil {
			continue
		}
		boost := edge.Strength * propagationBoost
		damp := 1 - boost*propagationDampScale
		partner.State.Nudge(band, boost, damp)
		partner.State.ReduceCoherence(boost * propagationCohScale)
	}
}

// correlationStrength averages up to three weighted signals, each counted
// only when both sides carry the data: same-datacenter match, same-region
// match, and load similarity.
func correlationStrength(a, b *Node) float64 {
	var weighted, weights float64

	if av, bv := a.Metadata[metaDatacenter], b.Metadata[metaDatacenter]; av != "" && bv != "" {
		weights += signalDatacenterWeight
		if av == bv {
			weighted += signalDatacenterWeight
		}
	}
	if av, bv := a.Metadata[metaRegion], b.Metadata[metaRegion]; av != "" && bv != "" {
		weights += signalRegionWeight
		if av == bv {
			weighted += signalRegionWeight
		}
	}

	maxCap := math.Max(a.Capacity, b.Capacity)
	if maxCap > 0 {
		similarity := 1 - math.Abs(a.CurrentLoad-b.CurrentLoad)/maxCap
		weights += signalLoadWeight
		weighted += signalLoadWeight * clamp01(similarity)
	}

	if weights == 0 {
		return 0
	}
	return clamp01(weighted / weights)
}
