package cluster

import (
	"errors"
	"math/rand"
	"testing"
	"time"
)

func testContext(now time.Time, seed int64) *SelectionContext {
	return &SelectionContext{
		Now:          now,
		Rng:          rand.New(rand.NewSource(seed)),
		Entanglement: 0.2,
	}
}

func TestNewStrategyNames(t *testing.T) {
	names := []string{
		StrategyRoundRobin,
		StrategyLeastConnections,
		StrategyWeightedRoundRobin,
		StrategyResponseTime,
		StrategyStateWeighted,
		StrategyCorrelationAware,
		StrategyAdaptive,
	}
	for _, name := range names {
		s, err := NewStrategy(name)
		if err != nil {
			t.Errorf("NewStrategy(%q) failed: %v", name, err)
			continue
		}
		if s.Name() != name {
			t.Errorf("strategy name = %q, want %q", s.Name(), name)
		}
	}
}

func TestNewStrategyUnknown(t *testing.T) {
	_, err := NewStrategy("quantum_annealing")
	if !errors.Is(err, ErrUnknownStrategy) {
		t.Errorf("error = %v, want ErrUnknownStrategy", err)
	}
}

func TestStrategiesRejectEmptyCandidates(t *testing.T) {
	now := time.Now()
	for _, name := range []string{
		StrategyRoundRobin, StrategyLeastConnections, StrategyWeightedRoundRobin,
		StrategyResponseTime, StrategyStateWeighted, StrategyCorrelationAware, StrategyAdaptive,
	} {
		s, err := NewStrategy(name)
		if err != nil {
			t.Fatalf("NewStrategy(%q): %v", name, err)
		}
		if _, err := s.Select(nil, testContext(now, 1)); !errors.Is(err, ErrNoHealthyNode) {
			t.Errorf("%s with no candidates: error = %v, want ErrNoHealthyNode", name, err)
		}
	}
}

func TestRoundRobinCycles(t *testing.T) {
	now := time.Now()
	candidates := []*Node{
		newTestNode("a", 100, nil, now),
		newTestNode("b", 100, nil, now),
		newTestNode("c", 100, nil, now),
	}
	s := &roundRobin{}

	for i := 0; i < 9; i++ {
		sctx := testContext(now, 1)
		sctx.TotalRequests = int64(i)
		node, err := s.Select(candidates, sctx)
		if err != nil {
			t.Fatalf("Select failed: %v", err)
		}
		want := candidates[i%3].ID
		if node.ID != want {
			t.Errorf("selection %d = %s, want %s", i, node.ID, want)
		}
	}
}

func TestLeastConnections(t *testing.T) {
	now := time.Now()
	a := newTestNode("a", 100, nil, now)
	b := newTestNode("b", 100, nil, now)
	c := newTestNode("c", 100, nil, now)
	a.ActiveConnections = 5
	b.ActiveConnections = 1
	c.ActiveConnections = 3

	s := &leastConnections{}
	node, err := s.Select([]*Node{a, b, c}, testContext(now, 1))
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if node.ID != "b" {
		t.Errorf("selected %s, want b", node.ID)
	}
}

func TestWeightedRoundRobinFavorsWeight(t *testing.T) {
	now := time.Now()
	light := newTestNode("light", 100, nil, now)
	heavy := newTestNode("heavy", 100, nil, now)
	light.Weight = 0.1
	heavy.Weight = 5.0

	s := &weightedRoundRobin{}
	sctx := testContext(now, 7)

	counts := map[string]int{}
	for i := 0; i < 1000; i++ {
		node, err := s.Select([]*Node{heavy, light}, sctx)
		if err != nil {
			t.Fatalf("Select failed: %v", err)
		}
		counts[node.ID]++
	}
	if counts["heavy"] <= counts["light"] {
		t.Errorf("weight-5 node selected %d times, weight-0.1 node %d times", counts["heavy"], counts["light"])
	}
}

func TestResponseTimePrefersFastNode(t *testing.T) {
	now := time.Now()
	slow := newTestNode("slow", 100, nil, now)
	fast := newTestNode("fast", 100, nil, now)
	slow.CurrentLoad = 95
	slow.AvgResponseTime = 4000
	fast.CurrentLoad = 10
	fast.AvgResponseTime = 200

	s := &responseTime{}
	for i := 0; i < 10; i++ {
		node, err := s.Select([]*Node{fast, slow}, testContext(now, int64(i)))
		if err != nil {
			t.Fatalf("Select failed: %v", err)
		}
		if node.ID != "fast" {
			t.Fatalf("selected %s, want fast", node.ID)
		}
	}
}

func TestStateWeightedPrefersFreshIdleNode(t *testing.T) {
	now := time.Now()
	idle := newTestNode("idle", 100, nil, now)
	busy := newTestNode("busy", 100, nil, now)
	busy.CurrentLoad = 90
	busy.State.Refresh(busy.LoadRatio(), busy.Weight, now)

	var measured *Node
	sctx := testContext(now, 1)
	sctx.Measure = func(n *Node) { measured = n }

	s := &stateWeighted{}
	node, err := s.Select([]*Node{busy, idle}, sctx)
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if node.ID != "idle" {
		t.Errorf("selected %s, want idle", node.ID)
	}
	if measured != node {
		t.Error("winner was not measured")
	}
}

func TestCorrelationAwareBonus(t *testing.T) {
	now := time.Now()
	g := NewGraph()
	meta := map[string]string{"datacenter": "dc1", "region": "r1"}

	// a and b are identical twins with an edge; c stands alone. The partner
	// bonus must tip the score toward the correlated pair.
	a := newTestNode("a", 100, meta, now)
	b := newTestNode("b", 100, meta, now)
	c := newTestNode("c", 100, nil, now)
	nodes := map[string]*Node{"a": a, "b": b, "c": c}
	g.Scan(b, []*Node{a, b}, now)

	sctx := testContext(now, 1)
	sctx.Graph = g
	sctx.Lookup = func(id string) *Node { return nodes[id] }
	sctx.Measure = func(*Node) {}

	s := &correlationAware{}
	node, err := s.Select([]*Node{a, b, c}, sctx)
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if node.ID == "c" {
		t.Error("selected uncorrelated node despite identical base scores")
	}
}

func TestCorrelationAwareIgnoresUnhealthyPartner(t *testing.T) {
	now := time.Now()
	g := NewGraph()
	meta := map[string]string{"datacenter": "dc1", "region": "r1"}
	a := newTestNode("a", 100, meta, now)
	b := newTestNode("b", 100, meta, now)
	nodes := map[string]*Node{"a": a, "b": b}
	g.Scan(b, []*Node{a, b}, now)
	b.Status = NodeUnhealthy

	sctx := testContext(now, 1)
	sctx.Graph = g
	sctx.Lookup = func(id string) *Node { return nodes[id] }

	s := &correlationAware{}
	base := stateScore(a, now)
	if got := s.score(a, sctx); got != base {
		t.Errorf("score with unhealthy partner = %v, want base %v", got, base)
	}
}

func TestAdaptiveDispatch(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name  string
		setup func() ([]*Node, *SelectionContext)
		want  string
	}{
		{
			name: "high load delegates to least connections",
			setup: func() ([]*Node, *SelectionContext) {
				a := newTestNode("a", 100, nil, now)
				b := newTestNode("b", 100, nil, now)
				a.CurrentLoad = 90
				b.CurrentLoad = 85
				return []*Node{a, b}, testContext(now, 1)
			},
			want: StrategyLeastConnections,
		},
		{
			name: "high latency delegates to response time",
			setup: func() ([]*Node, *SelectionContext) {
				a := newTestNode("a", 100, nil, now)
				b := newTestNode("b", 100, nil, now)
				a.AvgResponseTime = 3000
				b.AvgResponseTime = 2500
				return []*Node{a, b}, testContext(now, 1)
			},
			want: StrategyResponseTime,
		},
		{
			name: "dense graph delegates to correlation aware",
			setup: func() ([]*Node, *SelectionContext) {
				g := NewGraph()
				meta := map[string]string{"datacenter": "dc1", "region": "r1"}
				a := newTestNode("a", 100, meta, now)
				b := newTestNode("b", 100, meta, now)
				g.Scan(b, []*Node{a, b}, now)
				nodes := map[string]*Node{"a": a, "b": b}
				sctx := testContext(now, 1)
				sctx.Graph = g
				sctx.TotalNodes = 2
				sctx.Lookup = func(id string) *Node { return nodes[id] }
				return []*Node{a, b}, sctx
			},
			want: StrategyCorrelationAware,
		},
		{
			name: "quiet fleet delegates to state weighted",
			setup: func() ([]*Node, *SelectionContext) {
				a := newTestNode("a", 100, nil, now)
				b := newTestNode("b", 100, nil, now)
				sctx := testContext(now, 1)
				sctx.Graph = NewGraph()
				sctx.TotalNodes = 2
				return []*Node{a, b}, sctx
			},
			want: StrategyStateWeighted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newAdaptive()
			candidates, sctx := tt.setup()
			if _, err := a.Select(candidates, sctx); err != nil {
				t.Fatalf("Select failed: %v", err)
			}
			if a.lastDelegate != tt.want {
				t.Errorf("delegate = %s, want %s", a.lastDelegate, tt.want)
			}
			if a.stats[tt.want].Selections != 1 {
				t.Errorf("delegate selections = %d, want 1", a.stats[tt.want].Selections)
			}
		})
	}
}

func TestAdaptiveRecordOutcome(t *testing.T) {
	a := newAdaptive()
	a.RecordOutcome(StrategyStateWeighted, 100, true)
	a.RecordOutcome(StrategyStateWeighted, 200, false)

	stats := a.Stats()[StrategyStateWeighted]
	if stats.Completions != 2 {
		t.Errorf("completions = %d, want 2", stats.Completions)
	}
	if stats.Failures != 1 {
		t.Errorf("failures = %d, want 1", stats.Failures)
	}
	// EMA: first sample 100, then 0.3*200 + 0.7*100 = 130
	if stats.AvgLatencyMs != 130 {
		t.Errorf("avg latency = %v, want 130", stats.AvgLatencyMs)
	}
}
