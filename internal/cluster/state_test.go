package cluster

import (
	"math"
	"math/rand"
	"testing"
	"time"
)

func probabilitySum(m *StateModel) float64 {
	var sum float64
	for _, b := range m.Bands {
		sum += b.Probability
	}
	return sum
}

func TestStateModelProbabilitiesSumToOne(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name string
		load float64
	}{
		{"idle", 0.0},
		{"light", 0.2},
		{"moderate", 0.5},
		{"heavy", 0.8},
		{"saturated", 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewStateModel(tt.load, 1.0, 0.95, now)
			if sum := probabilitySum(m); math.Abs(sum-1.0) > 1e-9 {
				t.Errorf("probability sum = %v, want 1.0", sum)
			}
		})
	}
}

func TestStateModelProbabilitiesSumAfterMutation(t *testing.T) {
	now := time.Now()
	m := NewStateModel(0.5, 1.0, 0.95, now)

	m.Nudge(BandHeavy, 0.18, 0.98)
	if sum := probabilitySum(m); math.Abs(sum-1.0) > 1e-9 {
		t.Errorf("after nudge: probability sum = %v, want 1.0", sum)
	}

	m.Refresh(0.9, 2.0, now)
	if sum := probabilitySum(m); math.Abs(sum-1.0) > 1e-9 {
		t.Errorf("after refresh: probability sum = %v, want 1.0", sum)
	}
}

func TestStateModelPeakBandTracksLoad(t *testing.T) {
	now := time.Now()

	tests := []struct {
		load float64
		want LoadBand
	}{
		{0.0, BandIdle},
		{0.25, BandLight},
		{0.5, BandModerate},
		{0.75, BandHeavy},
		{1.0, BandOverloaded},
	}

	for _, tt := range tests {
		m := NewStateModel(tt.load, 1.0, 0.95, now)
		var peak LoadBand
		best := -1.0
		for _, b := range m.Bands {
			if b.Probability > best {
				best = b.Probability
				peak = b.Name
			}
		}
		if peak != tt.want {
			t.Errorf("load %v: peak band = %s, want %s", tt.load, peak, tt.want)
		}
	}
}

func TestStateModelBandFactors(t *testing.T) {
	now := time.Now()
	m := NewStateModel(0.5, 2.0, 0.95, now)

	for _, b := range m.Bands {
		wantWeight := 2.0 * (1 - b.Level*0.5)
		if math.Abs(b.WeightFactor-wantWeight) > 1e-9 {
			t.Errorf("band %s: weight factor = %v, want %v", b.Name, b.WeightFactor, wantWeight)
		}
		wantRT := 1 + b.Level*2
		if math.Abs(b.ResponseTimeFactor-wantRT) > 1e-9 {
			t.Errorf("band %s: response time factor = %v, want %v", b.Name, b.ResponseTimeFactor, wantRT)
		}
	}
}

func TestCoherenceDecay(t *testing.T) {
	now := time.Now()
	m := NewStateModel(0.5, 1.0, 0.95, now)

	fresh := m.Coherence(now)
	if math.Abs(fresh-0.95) > 1e-9 {
		t.Errorf("fresh coherence = %v, want 0.95", fresh)
	}

	aged := m.Coherence(now.Add(60 * time.Second))
	want := 0.95 * math.Exp(-1)
	if math.Abs(aged-want) > 1e-9 {
		t.Errorf("coherence after 60s = %v, want %v", aged, want)
	}

	ancient := m.Coherence(now.Add(24 * time.Hour))
	if ancient != 0.01 {
		t.Errorf("coherence after 24h = %v, want floor 0.01", ancient)
	}
}

func TestMeasureRefreshesCoherence(t *testing.T) {
	now := time.Now()
	m := NewStateModel(0.5, 1.0, 0.95, now)
	rng := rand.New(rand.NewSource(1))

	later := now.Add(10 * time.Minute)
	if c := m.Coherence(later); c >= 0.95 {
		t.Fatalf("coherence should have decayed, got %v", c)
	}

	band := m.Measure(rng, later)
	if band == "" {
		t.Fatal("Measure returned empty band")
	}
	if m.LastBand != band {
		t.Errorf("LastBand = %s, want %s", m.LastBand, band)
	}
	if c := m.Coherence(later); math.Abs(c-0.95) > 1e-9 {
		t.Errorf("coherence after measurement = %v, want 0.95", c)
	}
}

func TestMeasureDrawsValidBand(t *testing.T) {
	now := time.Now()
	rng := rand.New(rand.NewSource(42))
	valid := map[LoadBand]bool{
		BandIdle: true, BandLight: true, BandModerate: true,
		BandHeavy: true, BandOverloaded: true,
	}

	m := NewStateModel(0.3, 1.0, 0.95, now)
	for i := 0; i < 100; i++ {
		if band := m.Measure(rng, now); !valid[band] {
			t.Fatalf("Measure returned invalid band %q", band)
		}
	}
}

func TestReduceCoherenceFloor(t *testing.T) {
	now := time.Now()
	m := NewStateModel(0.5, 1.0, 0.95, now)

	for i := 0; i < 200; i++ {
		m.ReduceCoherence(0.01)
	}
	if m.coherence != 0.1 {
		t.Errorf("stored coherence = %v, want propagation floor 0.1", m.coherence)
	}
}
