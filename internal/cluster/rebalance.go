package cluster

import (
	"math"
	"sort"
	"time"

	"github.com/danieleschmidt/GH200-Retrieval-Router-sub004/internal/logging"
)

// Rebalancing constants: overloaded nodes lose 20% weight, underloaded nodes
// gain 20%, at most three of each per pass, and every correction reverts to
// 1.0x after the grace period.
const (
	overloadedRatio   = 0.8
	underloadedRatio  = 0.4
	overloadedFactor  = 0.8
	underloadedFactor = 1.2
	maxAdjustPerSide  = 3
	revertWeight      = 1.0
)

// snapshotCap bounds the load history; past it the oldest snapshot is
// evicted FIFO.
const snapshotCap = 1000

// LoadSnapshot is an immutable per-tick record of fleet load.
type LoadSnapshot struct {
	Time          time.Time `json:"time"`
	TotalNodes    int       `json:"total_nodes"`
	HealthyNodes  int       `json:"healthy_nodes"`
	MeanLoadRatio float64   `json:"mean_load_ratio"`
	Imbalance     float64   `json:"imbalance"`
	TotalRequests int64     `json:"total_requests"`
}

// weightRevert schedules a correction rollback.
type weightRevert struct {
	nodeID string
	dueAt  time.Time
}

// Rebalancer computes system imbalance and issues temporary weight
// corrections. Driven by the Router under its lock.
type Rebalancer struct {
	threshold   float64
	gracePeriod time.Duration

	reverts []weightRevert

	history []LoadSnapshot
}

// NewRebalancer creates a rebalancer with the given imbalance threshold and
// correction grace period.
func NewRebalancer(threshold float64, gracePeriod time.Duration) *Rebalancer {
	return &Rebalancer{
		threshold:   threshold,
		gracePeriod: gracePeriod,
	}
}

// Imbalance returns the standard deviation of load ratios across healthy
// nodes.
func Imbalance(healthy []*Node) float64 {
	if len(healthy) == 0 {
		return 0
	}
	var sum float64
	for _, node := range healthy {
		sum += node.LoadRatio()
	}
	mean := sum / float64(len(healthy))

	var variance float64
	for _, node := range healthy {
		d := node.LoadRatio() - mean
		variance += d * d
	}
	return math.Sqrt(variance / float64(len(healthy)))
}

// Rebalance runs one pass: revert corrections past their grace period, then,
// when imbalance exceeds the threshold, shift weight away from the most
// overloaded healthy nodes and toward the most underloaded ones. Returns the
// ids of adjusted nodes (empty when the pass was a no-op).
func (rb *Rebalancer) Rebalance(healthy []*Node, lookup func(string) *Node, now time.Time) []string {
	rb.applyDueReverts(lookup, now)

	imbalance := Imbalance(healthy)
	if imbalance <= rb.threshold {
		return nil
	}

	var overloaded, underloaded []*Node
	for _, node := range healthy {
		switch lr := node.LoadRatio(); {
		case lr > overloadedRatio:
			overloaded = append(overloaded, node)
		case lr < underloadedRatio:
			underloaded = append(underloaded, node)
		}
	}
	sort.Slice(overloaded, func(i, j int) bool { return overloaded[i].LoadRatio() > overloaded[j].LoadRatio() })
	sort.Slice(underloaded, func(i, j int) bool { return underloaded[i].LoadRatio() < underloaded[j].LoadRatio() })

	if len(overloaded) > maxAdjustPerSide {
		overloaded = overloaded[:maxAdjustPerSide]
	}
	if len(underloaded) > maxAdjustPerSide {
		underloaded = underloaded[:maxAdjustPerSide]
	}

	var adjusted []string
	for _, node := range overloaded {
		node.setWeight(node.Weight*overloadedFactor, now)
		rb.scheduleRevert(node.ID, now)
		adjusted = append(adjusted, node.ID)
		logging.Op().Info("rebalance: weight reduced", "id", node.ID, "weight", node.Weight, "load_ratio", node.LoadRatio())
	}
	for _, node := range underloaded {
		node.setWeight(node.Weight*underloadedFactor, now)
		rb.scheduleRevert(node.ID, now)
		adjusted = append(adjusted, node.ID)
		logging.Op().Info("rebalance: weight raised", "id", node.ID, "weight", node.Weight, "load_ratio", node.LoadRatio())
	}

	if len(adjusted) > 0 {
		logging.Op().Info("rebalancing completed", "imbalance", imbalance, "adjusted", len(adjusted))
	}
	return adjusted
}

func (rb *Rebalancer) scheduleRevert(nodeID string, now time.Time) {
	rb.reverts = append(rb.reverts, weightRevert{nodeID: nodeID, dueAt: now.Add(rb.gracePeriod)})
}

// applyDueReverts restores corrected weights to 1.0x once their grace period
// has elapsed. Reverts against vanished nodes are dropped silently.
func (rb *Rebalancer) applyDueReverts(lookup func(string) *Node, now time.Time) {
	remaining := rb.reverts[:0]
	for _, rev := range rb.reverts {
		if rev.dueAt.After(now) {
			remaining = append(remaining, rev)
			continue
		}
		if node := lookup(rev.nodeID); node != nil {
			node.setWeight(revertWeight, now)
			logging.Op().Debug("rebalance: weight reverted", "id", rev.nodeID)
		}
	}
	rb.reverts = remaining
}

// PendingReverts returns the number of outstanding weight corrections.
func (rb *Rebalancer) PendingReverts() int {
	return len(rb.reverts)
}

// RecordSnapshot appends a per-tick load record, evicting FIFO past the cap.
func (rb *Rebalancer) RecordSnapshot(snap LoadSnapshot) {
	rb.history = append(rb.history, snap)
	if len(rb.history) > snapshotCap {
		rb.history = rb.history[len(rb.history)-snapshotCap:]
	}
}

// History returns a copy of the snapshot history, oldest first.
func (rb *Rebalancer) History() []LoadSnapshot {
	out := make([]LoadSnapshot, len(rb.history))
	copy(out, rb.history)
	return out
}

// LoadTrend reports the mean-load slope per minute over the most recent
// window of snapshots. Positive values mean the fleet is heating up. Returns
// 0 with fewer than two samples.
func (rb *Rebalancer) LoadTrend(window int) float64 {
	if window <= 0 || window > len(rb.history) {
		window = len(rb.history)
	}
	if window < 2 {
		return 0
	}
	recent := rb.history[len(rb.history)-window:]
	first, last := recent[0], recent[len(recent)-1]
	minutes := last.Time.Sub(first.Time).Minutes()
	if minutes <= 0 {
		return 0
	}
	return (last.MeanLoadRatio - first.MeanLoadRatio) / minutes
}
