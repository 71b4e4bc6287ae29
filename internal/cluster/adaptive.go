package cluster

// Adaptive strategy thresholds: the meta-strategy inspects live system
// metrics and delegates to whichever concrete strategy fits the regime.
const (
	adaptiveHighLoad      = 0.8    // mean load ratio above which connections dominate
	adaptiveHighLatencyMs = 2000.0 // mean EMA latency above which latency dominates
	adaptiveDenseGraph    = 0.5    // edge density above which correlation pays off
)

// statsEMAAlpha smooths per-strategy latency statistics (~3-sample horizon).
const statsEMAAlpha = 0.3

// StrategyStats is the running record for one delegate strategy.
type StrategyStats struct {
	Selections   int64   `json:"selections"`
	Completions  int64   `json:"completions"`
	Failures     int64   `json:"failures"`
	AvgLatencyMs float64 `json:"avg_latency_ms"` // EMA, alpha=0.3
}

// adaptive switches between its delegates from live system metrics:
// connection counts when the fleet runs hot, raw latency when responses
// drag, correlation scoring when the graph is dense enough to pay off, and
// state-weighted scoring otherwise.
type adaptive struct {
	leastConn   *leastConnections
	respTime    *responseTime
	correlation *correlationAware
	state       *stateWeighted

	// lastDelegate names the strategy used by the most recent Select call.
	lastDelegate string

	// stats accumulates per-delegate outcomes; guarded by the Router lock
	// like all selection state.
	stats map[string]*StrategyStats
}

func newAdaptive() *adaptive {
	return &adaptive{
		leastConn:   &leastConnections{},
		respTime:    &responseTime{},
		correlation: &correlationAware{},
		state:       &stateWeighted{},
		stats:       make(map[string]*StrategyStats),
	}
}

func (a *adaptive) Name() string { return StrategyAdaptive }

func (a *adaptive) Select(candidates []*Node, sctx *SelectionContext) (*Node, error) {
	if len(candidates) == 0 {
		return nil, ErrNoHealthyNode
	}

	delegate := a.pick(candidates, sctx)
	a.lastDelegate = delegate.Name()
	a.statsFor(delegate.Name()).Selections++

	return delegate.Select(candidates, sctx)
}

// pick applies the dispatch rules in priority order.
func (a *adaptive) pick(candidates []*Node, sctx *SelectionContext) Strategy {
	var loadSum, latencySum float64
	for _, node := range candidates {
		loadSum += node.LoadRatio()
		latencySum += node.AvgResponseTime
	}
	n := float64(len(candidates))
	meanLoad := loadSum / n
	meanLatency := latencySum / n

	switch {
	case meanLoad > adaptiveHighLoad:
		return a.leastConn
	case meanLatency > adaptiveHighLatencyMs:
		return a.respTime
	case sctx.Graph != nil && sctx.Graph.Density(totalNodesFor(sctx, len(candidates))) > adaptiveDenseGraph:
		return a.correlation
	default:
		return a.state
	}
}

// RecordOutcome folds a completed request's latency into the stats of the
// delegate that served it.
func (a *adaptive) RecordOutcome(delegate string, latencyMs float64, success bool) {
	st := a.statsFor(delegate)
	st.Completions++
	if !success {
		st.Failures++
	}
	if st.AvgLatencyMs == 0 {
		st.AvgLatencyMs = latencyMs
	} else {
		st.AvgLatencyMs = statsEMAAlpha*latencyMs + (1-statsEMAAlpha)*st.AvgLatencyMs
	}
}

// Stats returns a copy of the per-delegate running statistics.
func (a *adaptive) Stats() map[string]StrategyStats {
	out := make(map[string]StrategyStats, len(a.stats))
	for name, st := range a.stats {
		out[name] = *st
	}
	return out
}

func (a *adaptive) statsFor(name string) *StrategyStats {
	st, ok := a.stats[name]
	if !ok {
		st = &StrategyStats{}
		a.stats[name] = st
	}
	return st
}

// totalNodesFor resolves the registry size for edge density. The lookup-based
// context does not expose the registry directly, so the Router sets
// TotalNodes; fall back to the candidate count when unset.
func totalNodesFor(sctx *SelectionContext, candidateCount int) int {
	if sctx.TotalNodes > 0 {
		return sctx.TotalNodes
	}
	return candidateCount
}
