package cluster

import (
	"fmt"
	"sort"
	"time"

	"github.com/danieleschmidt/GH200-Retrieval-Router-sub004/internal/logging"
)

// LoadEvent identifies a load mutation on a node.
type LoadEvent string

const (
	LoadEventRequestStart    LoadEvent = "request_start"
	LoadEventRequestComplete LoadEvent = "request_complete"
	LoadEventRequestFailed   LoadEvent = "request_failed"
)

// Registry is the authoritative map of node identity to live state. It holds
// no lock of its own: every mutation funnels through the owning Router, which
// serializes access and keeps the cross-component paths (selection,
// measurement propagation, rebalance) trivially atomic.
type Registry struct {
	maxNodes int
	nodes    map[string]*Node

	// failedRequests is the global monotonic failure counter fed by
	// request_failed events; reset only on full reinitialization.
	failedRequests int64
}

// NewRegistry creates an empty registry. maxNodes <= 0 means unlimited.
func NewRegistry(maxNodes int) *Registry {
	return &Registry{
		maxNodes: maxNodes,
		nodes:    make(map[string]*Node),
	}
}

// Register creates a Node from the given info. Duplicate ids are rejected.
func (r *Registry) Register(id string, info NodeInfo, decay float64, now time.Time) (*Node, error) {
	if id == "" {
		return nil, fmt.Errorf("register node: empty id")
	}
	if _, exists := r.nodes[id]; exists {
		return nil, fmt.Errorf("register node %s: %w", id, ErrDuplicateNode)
	}
	if r.maxNodes > 0 && len(r.nodes) >= r.maxNodes {
		return nil, fmt.Errorf("register node %s: %w", id, ErrRegistryFull)
	}

	weight := info.Weight
	if weight == 0 {
		weight = 1.0
	}
	capacity := info.Capacity
	if capacity <= 0 {
		capacity = 100
	}

	node := &Node{
		ID:           id,
		Address:      info.Address,
		Port:         info.Port,
		Metadata:     info.Metadata,
		Weight:       clampWeight(weight),
		Capacity:     capacity,
		Status:       NodeHealthy,
		HealthScore:  1.0,
		RegisteredAt: now,
	}
	node.State = NewStateModel(node.LoadRatio(), node.Weight, decay, now)
	r.nodes[id] = node

	logging.Op().Info("node registered", "id", id, "address", info.Address, "capacity", capacity, "weight", node.Weight)
	return node, nil
}

// Unregister removes a node and returns it, or nil if the id is unknown.
// Correlation edge cleanup is the Router's responsibility.
func (r *Registry) Unregister(id string) *Node {
	node, exists := r.nodes[id]
	if !exists {
		return nil
	}
	delete(r.nodes, id)
	logging.Op().Info("node unregistered", "id", id)
	return node
}

// Get retrieves a node by id, or nil when unknown.
func (r *Registry) Get(id string) *Node {
	return r.nodes[id]
}

// Len returns the number of registered nodes.
func (r *Registry) Len() int {
	return len(r.nodes)
}

// FailedRequests returns the global monotonic failure counter.
func (r *Registry) FailedRequests() int64 {
	return r.failedRequests
}

// List returns all nodes ordered by id. Deterministic ordering matters: the
// round-robin strategy indexes into this slice and map iteration order would
// break its cycle.
func (r *Registry) List() []*Node {
	nodes := make([]*Node, 0, len(r.nodes))
	for _, node := range r.nodes {
		nodes = append(nodes, node)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return nodes
}

// ListHealthy returns all healthy nodes ordered by id.
func (r *Registry) ListHealthy() []*Node {
	nodes := make([]*Node, 0, len(r.nodes))
	for _, node := range r.nodes {
		if node.IsHealthy() {
			nodes = append(nodes, node)
		}
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return nodes
}

// ApplyLoadEvent mutates a node's load counters for one of the three request
// lifecycle events and refreshes its state model. Mutations against unknown
// ids are logged no-ops: unregistration races with in-flight completions are
// expected, never errors. Returns the node, or nil when unknown.
func (r *Registry) ApplyLoadEvent(id string, event LoadEvent, responseTimeMs float64, now time.Time) *Node {
	node, exists := r.nodes[id]
	if !exists {
		logging.Op().Debug("load event for unknown node", "id", id, "event", string(event))
		return nil
	}

	switch event {
	case LoadEventRequestStart:
		node.ActiveConnections++
		node.TotalRequests++
		node.addLoad(+1)
	case LoadEventRequestComplete:
		if node.ActiveConnections > 0 {
			node.ActiveConnections--
		}
		node.SuccessfulRequests++
		node.addLoad(-1)
		if responseTimeMs > 0 {
			node.recordResponseTime(responseTimeMs)
		}
	case LoadEventRequestFailed:
		if node.ActiveConnections > 0 {
			node.ActiveConnections--
		}
		node.FailedRequests++
		node.addLoad(-1)
		r.failedRequests++
	default:
		logging.Op().Warn("unknown load event", "id", id, "event", string(event))
		return node
	}

	node.State.Refresh(node.LoadRatio(), node.Weight, now)
	return node
}
