package cluster

import "time"

// NodeReport is the GetNodeStatus payload: a point-in-time copy of the node
// plus its live state model distribution.
type NodeReport struct {
	Node             Node     `json:"node"`
	Bands            []Band   `json:"bands"`
	Coherence        float64  `json:"coherence"`
	LastBand         LoadBand `json:"last_band,omitempty"`
	CorrelatedEdges  int      `json:"correlated_edges"`
	UtilizationShare float64  `json:"utilization_share"`
	HealthScore      float64  `json:"health_score"`
}

// Counters are the monotonic routing totals, reset only on full
// reinitialization.
type Counters struct {
	TotalRequests    int64 `json:"total_requests"`
	BalancedRequests int64 `json:"balanced_requests"`
	FailedRequests   int64 `json:"failed_requests"`
}

// SystemHealth summarizes fleet-level load.
type SystemHealth struct {
	TotalNodes    int     `json:"total_nodes"`
	HealthyNodes  int     `json:"healthy_nodes"`
	MeanLoadRatio float64 `json:"mean_load_ratio"`
	Imbalance     float64 `json:"imbalance"`
	LoadTrend     float64 `json:"load_trend"` // mean-load slope per minute
}

// CorrelationMetrics summarizes the correlation graph.
type CorrelationMetrics struct {
	TotalEdges       int     `json:"total_edges"`
	EdgeDensity      float64 `json:"edge_density"`
	AverageCoherence float64 `json:"average_coherence"`
}

// PerformanceMetrics reports the configured strategy and, when adaptive
// learning is on, the per-delegate running stats.
type PerformanceMetrics struct {
	Strategy    string                   `json:"strategy"`
	PerStrategy map[string]StrategyStats `json:"per_strategy,omitempty"`
}

// SystemMetrics is the GetSystemMetrics payload.
type SystemMetrics struct {
	Counters    Counters           `json:"counters"`
	Health      SystemHealth       `json:"system_health"`
	Correlation CorrelationMetrics `json:"correlation_metrics"`
	Performance PerformanceMetrics `json:"performance"`
}

// GetNodeStatus returns a snapshot of one node, or nil when the id is
// unknown (including after unregistration).
func (r *Router) GetNodeStatus(id string) *NodeReport {
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	node := r.registry.Get(id)
	if node == nil {
		return nil
	}

	nodeCopy := *node
	nodeCopy.State = nil
	bands := make([]Band, len(node.State.Bands))
	copy(bands, node.State.Bands)

	var share float64
	if r.totalRequests > 0 {
		share = float64(r.utilization[id]) / float64(r.totalRequests)
	}

	return &NodeReport{
		Node:             nodeCopy,
		Bands:            bands,
		Coherence:        node.State.Coherence(now),
		LastBand:         node.State.LastBand,
		CorrelatedEdges:  len(node.State.EdgeIDs()),
		UtilizationShare: share,
		HealthScore:      node.HealthScore,
	}
}

// GetSystemMetrics returns the fleet-level counters, health, correlation and
// strategy-performance summary.
func (r *Router) GetSystemMetrics() *SystemMetrics {
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	nodes := r.registry.List()
	healthy := r.registry.ListHealthy()

	var loadSum float64
	for _, node := range healthy {
		loadSum += node.LoadRatio()
	}
	meanLoad := 0.0
	if len(healthy) > 0 {
		meanLoad = loadSum / float64(len(healthy))
	}

	var coherenceSum float64
	for _, node := range nodes {
		coherenceSum += node.State.Coherence(now)
	}
	avgCoherence := 0.0
	if len(nodes) > 0 {
		avgCoherence = coherenceSum / float64(len(nodes))
	}

	perf := PerformanceMetrics{Strategy: r.cfg.Strategy}
	if r.adaptive != nil && r.cfg.AdaptiveLearning {
		perf.PerStrategy = r.adaptive.Stats()
	}

	return &SystemMetrics{
		Counters: Counters{
			TotalRequests:    r.totalRequests,
			BalancedRequests: r.balancedRequests,
			FailedRequests:   r.registry.FailedRequests(),
		},
		Health: SystemHealth{
			TotalNodes:    len(nodes),
			HealthyNodes:  len(healthy),
			MeanLoadRatio: meanLoad,
			Imbalance:     Imbalance(healthy),
			LoadTrend:     r.rebalancer.LoadTrend(30),
		},
		Correlation: CorrelationMetrics{
			TotalEdges:       r.graph.EdgeCount(),
			EdgeDensity:      r.graph.Density(len(nodes)),
			AverageCoherence: avgCoherence,
		},
		Performance: perf,
	}
}
