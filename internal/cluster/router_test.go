package cluster

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/danieleschmidt/GH200-Retrieval-Router-sub004/internal/events"
)

func newTestRouter(t *testing.T, strategy string) *Router {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Strategy = strategy
	r, err := NewRouter(cfg, nil)
	if err != nil {
		t.Fatalf("NewRouter failed: %v", err)
	}
	return r
}

func registerFleet(t *testing.T, r *Router, ids ...string) {
	t.Helper()
	meta := map[string]string{"datacenter": "dc1", "region": "r1"}
	for _, id := range ids {
		if _, err := r.RegisterNode(id, NodeInfo{Capacity: 100, Weight: 1.0, Metadata: meta}); err != nil {
			t.Fatalf("RegisterNode(%s) failed: %v", id, err)
		}
	}
}

func TestNewRouterRejectsUnknownStrategy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Strategy = "psychic"
	if _, err := NewRouter(cfg, nil); !errors.Is(err, ErrUnknownStrategy) {
		t.Errorf("error = %v, want ErrUnknownStrategy", err)
	}
}

func TestLeastConnectionsSpreadsEvenly(t *testing.T) {
	r := newTestRouter(t, StrategyLeastConnections)
	registerFleet(t, r, "n1", "n2", "n3")

	// Nine selections with no completions in between: connections pile up on
	// each winner, so the fleet must be walked three full times.
	counts := map[string]int{}
	for i := 0; i < 9; i++ {
		node, err := r.SelectNode(&Request{})
		if err != nil {
			t.Fatalf("SelectNode failed: %v", err)
		}
		counts[node.ID]++
	}
	for _, id := range []string{"n1", "n2", "n3"} {
		if counts[id] != 3 {
			t.Errorf("node %s selected %d times, want 3", id, counts[id])
		}
	}
}

func TestSelectCompleteLifecycle(t *testing.T) {
	r := newTestRouter(t, StrategyRoundRobin)
	registerFleet(t, r, "n1")

	node, err := r.SelectNode(&Request{ID: "req-1"})
	if err != nil {
		t.Fatalf("SelectNode failed: %v", err)
	}
	if node.ActiveConnections != 1 {
		t.Errorf("active connections = %d, want 1", node.ActiveConnections)
	}

	r.CompleteRequest("n1", 120, true)
	if node.ActiveConnections != 0 {
		t.Errorf("active connections after completion = %d, want 0", node.ActiveConnections)
	}
	if node.SuccessfulRequests != 1 {
		t.Errorf("successful requests = %d, want 1", node.SuccessfulRequests)
	}
	if node.AvgResponseTime != 120 {
		t.Errorf("avg response time = %v, want 120", node.AvgResponseTime)
	}
}

func TestSelectNodeNoHealthyNodes(t *testing.T) {
	r := newTestRouter(t, StrategyRoundRobin)

	if _, err := r.SelectNode(&Request{}); !errors.Is(err, ErrNoHealthyNode) {
		t.Errorf("error = %v, want ErrNoHealthyNode", err)
	}

	registerFleet(t, r, "n1")
	r.registry.Get("n1").Status = NodeUnhealthy
	if _, err := r.SelectNode(&Request{}); !errors.Is(err, ErrNoHealthyNode) {
		t.Errorf("error with only unhealthy nodes = %v, want ErrNoHealthyNode", err)
	}
}

func TestUnregisterCleansUp(t *testing.T) {
	r := newTestRouter(t, StrategyRoundRobin)
	registerFleet(t, r, "n1", "n2")

	if r.graph.EdgeCount() != 1 {
		t.Fatalf("edge count = %d, want 1 for twin nodes", r.graph.EdgeCount())
	}

	if !r.UnregisterNode("n2") {
		t.Fatal("UnregisterNode returned false for known id")
	}
	if r.graph.EdgeCount() != 0 {
		t.Errorf("edge count after unregister = %d, want 0", r.graph.EdgeCount())
	}
	if r.GetNodeStatus("n2") != nil {
		t.Error("GetNodeStatus returned a report for an unregistered node")
	}
	if r.UnregisterNode("n2") {
		t.Error("second UnregisterNode returned true")
	}

	metrics := r.GetSystemMetrics()
	if metrics.Health.TotalNodes != 1 {
		t.Errorf("total nodes = %d, want 1", metrics.Health.TotalNodes)
	}
}

func TestCompleteAgainstUnregisteredNodeIsNoop(t *testing.T) {
	r := newTestRouter(t, StrategyRoundRobin)
	registerFleet(t, r, "n1")

	if _, err := r.SelectNode(&Request{}); err != nil {
		t.Fatalf("SelectNode failed: %v", err)
	}
	r.UnregisterNode("n1")

	// The in-flight request finishes after its node is gone.
	r.CompleteRequest("n1", 100, true)

	if got := r.GetSystemMetrics().Counters.TotalRequests; got != 1 {
		t.Errorf("total requests = %d, want 1", got)
	}
}

func TestGetNodeStatus(t *testing.T) {
	r := newTestRouter(t, StrategyRoundRobin)
	registerFleet(t, r, "n1", "n2")

	for i := 0; i < 4; i++ {
		if _, err := r.SelectNode(&Request{}); err != nil {
			t.Fatalf("SelectNode failed: %v", err)
		}
	}

	report := r.GetNodeStatus("n1")
	if report == nil {
		t.Fatal("GetNodeStatus returned nil for known id")
	}
	if report.Node.State != nil {
		t.Error("report leaked the live state model")
	}
	if len(report.Bands) != 5 {
		t.Errorf("bands = %d, want 5", len(report.Bands))
	}
	if report.CorrelatedEdges != 1 {
		t.Errorf("correlated edges = %d, want 1", report.CorrelatedEdges)
	}
	// Round robin over two nodes: each carries half the traffic.
	if report.UtilizationShare != 0.5 {
		t.Errorf("utilization share = %v, want 0.5", report.UtilizationShare)
	}
}

func TestGetSystemMetrics(t *testing.T) {
	r := newTestRouter(t, StrategyAdaptive)
	registerFleet(t, r, "n1", "n2")

	for i := 0; i < 6; i++ {
		node, err := r.SelectNode(&Request{})
		if err != nil {
			t.Fatalf("SelectNode failed: %v", err)
		}
		r.CompleteRequest(node.ID, 50, i%3 != 0)
	}

	m := r.GetSystemMetrics()
	if m.Counters.TotalRequests != 6 || m.Counters.BalancedRequests != 6 {
		t.Errorf("counters = %+v, want 6 total and balanced", m.Counters)
	}
	if m.Counters.FailedRequests != 2 {
		t.Errorf("failed requests = %d, want 2", m.Counters.FailedRequests)
	}
	if m.Health.TotalNodes != 2 || m.Health.HealthyNodes != 2 {
		t.Errorf("health = %+v, want 2/2 nodes", m.Health)
	}
	if m.Correlation.TotalEdges != 1 {
		t.Errorf("total edges = %d, want 1", m.Correlation.TotalEdges)
	}
	if m.Performance.Strategy != StrategyAdaptive {
		t.Errorf("strategy = %s, want adaptive", m.Performance.Strategy)
	}

	var completions int64
	for _, st := range m.Performance.PerStrategy {
		completions += st.Completions
	}
	if completions != 6 {
		t.Errorf("per-strategy completions = %d, want 6", completions)
	}
}

func TestHealthTickFlipsAndSnapshots(t *testing.T) {
	r := newTestRouter(t, StrategyRoundRobin)
	registerFleet(t, r, "hot", "ok")

	hot := r.registry.Get("hot")
	hot.CurrentLoad = 95
	hot.TotalRequests = 100
	hot.FailedRequests = 12

	r.healthTick(time.Now())

	if hot.Status != NodeUnhealthy {
		t.Errorf("hot node status = %s, want unhealthy", hot.Status)
	}
	if r.registry.Get("ok").Status != NodeHealthy {
		t.Error("healthy node flipped without cause")
	}
	if len(r.rebalancer.History()) != 1 {
		t.Errorf("snapshot history = %d, want 1", len(r.rebalancer.History()))
	}
}

func TestRebalanceTickAdjustsWeights(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Strategy = StrategyRoundRobin
	cfg.RebalanceThreshold = 0.3
	r, err := NewRouter(cfg, nil)
	if err != nil {
		t.Fatalf("NewRouter failed: %v", err)
	}
	registerFleet(t, r, "hot", "cold")

	r.registry.Get("hot").CurrentLoad = 90
	r.registry.Get("cold").CurrentLoad = 20

	r.rebalanceTick(time.Now())

	if w := r.registry.Get("hot").Weight; w >= 1.0 {
		t.Errorf("hot weight = %v, want reduced", w)
	}
	if w := r.registry.Get("cold").Weight; w <= 1.0 {
		t.Errorf("cold weight = %v, want raised", w)
	}
	if r.rebalancer.PendingReverts() != 2 {
		t.Errorf("pending reverts = %d, want 2", r.rebalancer.PendingReverts())
	}
}

func TestRouterEvents(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Strategy = StrategyRoundRobin
	notifier := events.NewChannelNotifier()
	defer notifier.Close()

	r, err := NewRouter(cfg, notifier)
	if err != nil {
		t.Fatalf("NewRouter failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := r.Subscribe(ctx)

	registerFleet(t, r, "n1")
	node, err := r.SelectNode(&Request{ID: "req-1"})
	if err != nil {
		t.Fatalf("SelectNode failed: %v", err)
	}
	r.CompleteRequest(node.ID, 80, true)

	want := []events.Type{events.NodeRegistered, events.NodeSelected, events.RequestCompleted}
	for _, wantType := range want {
		select {
		case ev := <-ch:
			if ev.Type != wantType {
				t.Errorf("event type = %s, want %s", ev.Type, wantType)
			}
			if ev.ID == "" || ev.Time.IsZero() {
				t.Error("event missing id or timestamp")
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %s event", wantType)
		}
	}
}

func TestStartStop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Strategy = StrategyRoundRobin
	cfg.HealthCheckInterval = 10 * time.Millisecond
	cfg.RebalanceInterval = 10 * time.Millisecond
	r, err := NewRouter(cfg, nil)
	if err != nil {
		t.Fatalf("NewRouter failed: %v", err)
	}
	registerFleet(t, r, "n1")

	r.Start(context.Background())
	time.Sleep(50 * time.Millisecond)
	r.Stop()

	if len(r.rebalancer.History()) == 0 {
		t.Error("no snapshots recorded while running")
	}
}
