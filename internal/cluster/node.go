package cluster

import (
	"time"
)

// NodeStatus represents the health status of a backend node.
type NodeStatus string

const (
	NodeHealthy   NodeStatus = "healthy"   // Node is accepting work
	NodeUnhealthy NodeStatus = "unhealthy" // Node is excluded from selection
)

// Weight bounds for both static configuration and rebalancing corrections.
const (
	minWeight = 0.1
	maxWeight = 5.0
)

// emaAlpha is the smoothing factor for the per-node response time EMA.
const emaAlpha = 0.1

// loadUnit is the load added per in-flight request, scaled by capacity so
// that a node at full concurrency sits at currentLoad == capacity for the
// default capacity of 100.
const loadUnit = 100.0

// NodeInfo is the registration payload for a backend node.
type NodeInfo struct {
	Address  string            `json:"address"`
	Port     int               `json:"port"`
	Weight   float64           `json:"weight,omitempty"`   // defaults to 1.0
	Capacity float64           `json:"capacity,omitempty"` // defaults to 100
	Metadata map[string]string `json:"metadata,omitempty"` // e.g. datacenter, region
}

// Node is a backend endpoint accepting up to Capacity concurrent work units.
// All fields are guarded by the owning Router's lock; Node values handed out
// by SelectNode are live handles and callers must treat them as read-only.
type Node struct {
	ID       string            `json:"id"`
	Address  string            `json:"address"`
	Port     int               `json:"port"`
	Metadata map[string]string `json:"metadata,omitempty"`

	Weight      float64 `json:"weight"`       // clamped to [0.1, 5.0]
	Capacity    float64 `json:"capacity"`     // > 0
	CurrentLoad float64 `json:"current_load"` // clamped to [0, Capacity]

	ActiveConnections  int     `json:"active_connections"`
	TotalRequests      int64   `json:"total_requests"`
	SuccessfulRequests int64   `json:"successful_requests"`
	FailedRequests     int64   `json:"failed_requests"`
	AvgResponseTime    float64 `json:"avg_response_time_ms"` // EMA, alpha=0.1

	Status          NodeStatus `json:"status"`
	HealthScore     float64    `json:"health_score"`
	LastHealthCheck time.Time  `json:"last_health_check"`
	RegisteredAt    time.Time  `json:"registered_at"`

	State *StateModel `json:"-"`
}

// LoadRatio returns CurrentLoad / Capacity in [0, 1].
func (n *Node) LoadRatio() float64 {
	if n.Capacity <= 0 {
		return 1.0
	}
	return clamp01(n.CurrentLoad / n.Capacity)
}

// FailureRate returns the fraction of total requests that failed.
func (n *Node) FailureRate() float64 {
	if n.TotalRequests == 0 {
		return 0
	}
	return float64(n.FailedRequests) / float64(n.TotalRequests)
}

// IsHealthy reports whether the node is eligible for selection.
func (n *Node) IsHealthy() bool {
	return n.Status == NodeHealthy
}

// addLoad applies a load delta of one request unit (100/capacity), keeping
// CurrentLoad within [0, Capacity].
func (n *Node) addLoad(sign float64) {
	if n.Capacity <= 0 {
		return
	}
	n.CurrentLoad += sign * loadUnit / n.Capacity
	if n.CurrentLoad < 0 {
		n.CurrentLoad = 0
	}
	if n.CurrentLoad > n.Capacity {
		n.CurrentLoad = n.Capacity
	}
}

// recordResponseTime folds a response time sample into the EMA.
func (n *Node) recordResponseTime(ms float64) {
	if n.AvgResponseTime == 0 {
		n.AvgResponseTime = ms
		return
	}
	n.AvgResponseTime = emaAlpha*ms + (1-emaAlpha)*n.AvgResponseTime
}

// setWeight clamps and applies a weight, then refreshes the state model so
// band weight factors track the new value.
func (n *Node) setWeight(w float64, now time.Time) {
	n.Weight = clampWeight(w)
	if n.State != nil {
		n.State.Refresh(n.LoadRatio(), n.Weight, now)
	}
}

func clampWeight(w float64) float64 {
	if w < minWeight {
		return minWeight
	}
	if w > maxWeight {
		return maxWeight
	}
	return w
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
