// Package cluster implements the request-routing core of the retrieval
// fleet: a node registry with per-node load state models, a correlation
// graph linking statistically related nodes, interchangeable selection
// strategies, and periodic health scoring and load rebalancing.
//
// # Concurrency
//
// The Router is the single logical owner of all balancing state. SelectNode
// and CompleteRequest are synchronous over in-memory state and never block on
// I/O; every read-modify-write path funnels through the Router mutex, so the
// inner components (Registry, Graph, Rebalancer, HealthSupervisor) carry no
// locks of their own. Event publication and metric updates happen after the
// lock is released. Health and rebalance ticks run on independent timers with
// skip-if-running semantics.
package cluster

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/danieleschmidt/GH200-Retrieval-Router-sub004/internal/events"
	"github.com/danieleschmidt/GH200-Retrieval-Router-sub004/internal/logging"
	"github.com/danieleschmidt/GH200-Retrieval-Router-sub004/internal/metrics"
)

// inflightCap bounds the per-node queue of delegate names awaiting their
// completion callback; callers that never complete requests would otherwise
// grow it without bound.
const inflightCap = 1024

// Request is a unit of work to route.
type Request struct {
	ID       string            `json:"id"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Router selects backend nodes for incoming requests and continuously
// rebalances the fleet as health and utilization change.
type Router struct {
	cfg *Config

	mu         sync.Mutex
	registry   *Registry
	graph      *Graph
	strategy   Strategy
	adaptive   *adaptive // non-nil when the configured strategy is adaptive
	supervisor *HealthSupervisor
	rebalancer *Rebalancer
	rng        *rand.Rand

	totalRequests    int64
	balancedRequests int64
	utilization      map[string]int64

	// inflight queues the delegate strategy name per selected node so a
	// later CompleteRequest can credit the right strategy's stats.
	inflight map[string][]string

	notifier events.Notifier
	routeLog *logging.Logger

	healthRunning    atomic.Bool
	rebalanceRunning atomic.Bool
	cancel           context.CancelFunc
	wg               sync.WaitGroup
}

// NewRouter creates a router from the given configuration. A nil config uses
// defaults; a nil notifier discards events. An unknown strategy name is fatal
// here, never at selection time.
func NewRouter(cfg *Config, notifier events.Notifier) (*Router, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg = cfg.withDefaults()

	strategy, err := NewStrategy(cfg.Strategy)
	if err != nil {
		return nil, fmt.Errorf("new router: %w", err)
	}
	if notifier == nil {
		notifier = events.NewNoopNotifier()
	}

	r := &Router{
		cfg:         cfg,
		registry:    NewRegistry(cfg.MaxNodes),
		graph:       NewGraph(),
		strategy:    strategy,
		supervisor:  NewHealthSupervisor(),
		rebalancer:  NewRebalancer(cfg.RebalanceThreshold, cfg.GracePeriod),
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		utilization: make(map[string]int64),
		inflight:    make(map[string][]string),
		notifier:    notifier,
		routeLog:    logging.Default(),
	}
	if a, ok := strategy.(*adaptive); ok {
		r.adaptive = a
	}
	return r, nil
}

// RegisterNode creates a node from the given info, seeds its state model,
// and scans the correlation graph for related nodes.
func (r *Router) RegisterNode(id string, info NodeInfo) (*Node, error) {
	now := time.Now()

	r.mu.Lock()
	node, err := r.registry.Register(id, info, r.cfg.CoherenceDecay, now)
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}
	r.graph.Scan(node, r.registry.List(), now)
	coherence := node.State.Coherence(now)
	r.mu.Unlock()

	metrics.SetNodeGauges(id, node.LoadRatio(), node.Weight, coherence)
	r.publish(events.Event{Type: events.NodeRegistered, Node: id})
	return node, nil
}

// UnregisterNode removes a node, its state model, its utilization entry, and
// every correlation edge touching it. Returns false for unknown ids.
func (r *Router) UnregisterNode(id string) bool {
	r.mu.Lock()
	node := r.registry.Unregister(id)
	if node == nil {
		r.mu.Unlock()
		return false
	}
	r.graph.RemoveNode(id, r.registry.Get)
	delete(r.utilization, id)
	delete(r.inflight, id)
	r.mu.Unlock()

	metrics.RemoveNodeGauges(id)
	r.publish(events.Event{Type: events.NodeUnregistered, Node: id})
	return true
}

// SelectNode dispatches the configured strategy over the healthy nodes and
// books the request onto the winner. The returned Node is a live handle;
// callers must follow up with CompleteRequest.
func (r *Router) SelectNode(req *Request) (*Node, error) {
	if req == nil {
		req = &Request{}
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	now := time.Now()

	r.mu.Lock()
	healthy := r.registry.ListHealthy()
	sctx := &SelectionContext{
		Now:           now,
		Rng:           r.rng,
		TotalRequests: r.totalRequests,
		TotalNodes:    r.registry.Len(),
		Entanglement:  r.cfg.EntanglementFactor,
		Graph:         r.graph,
		Lookup:        r.registry.Get,
		Measure:       func(n *Node) { r.measureLocked(n, now) },
	}

	node, err := r.strategy.Select(healthy, sctx)
	if err != nil {
		r.mu.Unlock()
		metrics.RecordSelection(r.strategy.Name(), false)
		return nil, fmt.Errorf("select node for request %s: %w", req.ID, err)
	}

	r.totalRequests++
	r.balancedRequests++
	r.utilization[node.ID]++
	r.registry.ApplyLoadEvent(node.ID, LoadEventRequestStart, 0, now)
	r.trackInflight(node.ID)
	r.mu.Unlock()

	metrics.RecordSelection(r.strategy.Name(), true)
	r.publish(events.Event{Type: events.NodeSelected, Node: node.ID, Request: req.ID, Strategy: r.strategy.Name()})
	return node, nil
}

// measureLocked performs a state model measurement on the winner and
// propagates the drawn band to correlated partners. Caller holds the lock.
func (r *Router) measureLocked(n *Node, now time.Time) {
	band := n.State.Measure(r.rng, now)
	r.graph.Propagate(n, band, r.registry.Get)
}

// trackInflight records which strategy served the node so the completion
// callback can credit it. Caller holds the lock.
func (r *Router) trackInflight(nodeID string) {
	if !r.cfg.AdaptiveLearning || r.adaptive == nil {
		return
	}
	q := r.inflight[nodeID]
	if len(q) >= inflightCap {
		q = q[1:]
	}
	r.inflight[nodeID] = append(q, r.adaptive.lastDelegate)
}

// CompleteRequest is the mandatory follow-up to SelectNode: it releases the
// connection, folds the response time into the node's EMA, and updates the
// failure counters. Completions against unregistered nodes are logged no-ops,
// since unregistration races with in-flight requests are expected.
func (r *Router) CompleteRequest(nodeID string, responseTimeMs float64, success bool) {
	now := time.Now()
	event := LoadEventRequestComplete
	evType := events.RequestCompleted
	if !success {
		event = LoadEventRequestFailed
		evType = events.RequestFailed
	}

	r.mu.Lock()
	node := r.registry.ApplyLoadEvent(nodeID, event, responseTimeMs, now)
	delegate := r.popInflight(nodeID)
	if delegate != "" && r.adaptive != nil {
		r.adaptive.RecordOutcome(delegate, responseTimeMs, success)
	}
	var loadRatio, weight, coherence float64
	if node != nil {
		loadRatio = node.LoadRatio()
		weight = node.Weight
		coherence = node.State.Coherence(now)
	}
	r.mu.Unlock()

	if node == nil {
		return
	}

	metrics.RecordCompletion(success, responseTimeMs)
	metrics.SetNodeGauges(nodeID, loadRatio, weight, coherence)
	r.routeLog.Log(&logging.RouteLog{
		Node:       nodeID,
		Strategy:   r.strategy.Name(),
		DurationMs: int64(responseTimeMs),
		Success:    success,
	})
	r.publish(events.Event{Type: evType, Node: nodeID})
}

// popInflight pops the oldest delegate name for the node. Caller holds the
// lock.
func (r *Router) popInflight(nodeID string) string {
	q := r.inflight[nodeID]
	if len(q) == 0 {
		return ""
	}
	delegate := q[0]
	if len(q) == 1 {
		delete(r.inflight, nodeID)
	} else {
		r.inflight[nodeID] = q[1:]
	}
	return delegate
}

// Start launches the health and rebalance loops. Stop cancels them.
func (r *Router) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(2)
	go r.healthLoop(ctx)
	go r.rebalanceLoop(ctx)

	logging.Op().Info("router started",
		"strategy", r.cfg.Strategy,
		"health_interval", r.cfg.HealthCheckInterval,
		"rebalance_interval", r.cfg.RebalanceInterval)
}

// Stop cancels the periodic loops, waits for them, and emits a shutdown
// event. The notifier itself stays open; its owner closes it.
func (r *Router) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	r.publish(events.Event{Type: events.Shutdown})
	logging.Op().Info("router stopped")
}

func (r *Router) healthLoop(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.healthTick(time.Now())
		}
	}
}

func (r *Router) rebalanceLoop(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.cfg.RebalanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.rebalanceTick(time.Now())
		}
	}
}

// healthTick runs one health sweep and records a load snapshot. A tick that
// finds the previous one still running is skipped rather than queued.
func (r *Router) healthTick(now time.Time) {
	if !r.healthRunning.CompareAndSwap(false, true) {
		return
	}
	defer r.healthRunning.Store(false)

	r.mu.Lock()
	nodes := r.registry.List()
	transitions := r.supervisor.Sweep(nodes, now)

	healthy := r.registry.ListHealthy()
	imbalance := Imbalance(healthy)
	var loadSum float64
	for _, node := range healthy {
		loadSum += node.LoadRatio()
	}
	meanLoad := 0.0
	if len(healthy) > 0 {
		meanLoad = loadSum / float64(len(healthy))
	}
	r.rebalancer.RecordSnapshot(LoadSnapshot{
		Time:          now,
		TotalNodes:    len(nodes),
		HealthyNodes:  len(healthy),
		MeanLoadRatio: meanLoad,
		Imbalance:     imbalance,
		TotalRequests: r.totalRequests,
	})

	type gaugeUpdate struct {
		id                           string
		loadRatio, weight, coherence float64
	}
	updates := make([]gaugeUpdate, 0, len(nodes))
	for _, node := range nodes {
		updates = append(updates, gaugeUpdate{node.ID, node.LoadRatio(), node.Weight, node.State.Coherence(now)})
	}
	r.mu.Unlock()

	for _, u := range updates {
		metrics.SetNodeGauges(u.id, u.loadRatio, u.weight, u.coherence)
	}
	metrics.SetClusterGauges(len(healthy), len(nodes)-len(healthy), imbalance)
	for _, tr := range transitions {
		evType := events.NodeUnhealthy
		to := string(NodeUnhealthy)
		if tr.Healthy {
			evType = events.NodeRecovered
			to = string(NodeHealthy)
		}
		metrics.RecordHealthTransition(to)
		r.publish(events.Event{
			Type:   evType,
			Node:   tr.NodeID,
			Detail: map[string]string{"score": fmt.Sprintf("%.2f", tr.Score)},
		})
	}
}

// rebalanceTick runs one rebalance pass, with the same skip-if-running
// semantics as healthTick.
func (r *Router) rebalanceTick(now time.Time) {
	if !r.rebalanceRunning.CompareAndSwap(false, true) {
		return
	}
	defer r.rebalanceRunning.Store(false)

	r.mu.Lock()
	adjusted := r.rebalancer.Rebalance(r.registry.ListHealthy(), r.registry.Get, now)
	r.mu.Unlock()

	if len(adjusted) == 0 {
		return
	}
	metrics.RecordRebalance()
	r.publish(events.Event{
		Type:   events.RebalancingCompleted,
		Detail: map[string]string{"adjusted": fmt.Sprintf("%d", len(adjusted))},
	})
}

// publish stamps and delivers an event outside the router lock.
func (r *Router) publish(ev events.Event) {
	ev.ID = uuid.NewString()
	ev.Time = time.Now()
	if err := r.notifier.Publish(context.Background(), ev); err != nil {
		logging.Op().Warn("event publish failed", "type", string(ev.Type), "error", err)
	}
}

// Subscribe returns a channel of router events, valid until ctx is cancelled.
func (r *Router) Subscribe(ctx context.Context) <-chan events.Event {
	return r.notifier.Subscribe(ctx)
}
