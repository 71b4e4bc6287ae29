package cluster

import (
	"math"
	"math/rand"
	"time"
)

// LoadBand is one of five qualitative utilization levels.
type LoadBand string

const (
	BandIdle       LoadBand = "idle"
	BandLight      LoadBand = "light"
	BandModerate   LoadBand = "moderate"
	BandHeavy      LoadBand = "heavy"
	BandOverloaded LoadBand = "overloaded"
)

// bandLevels maps each band to its nominal load level. Order matters: it is
// the cumulative sampling order for measurements.
var bandLevels = []struct {
	Name  LoadBand
	Level float64
}{
	{BandIdle, 0.0},
	{BandLight, 0.25},
	{BandModerate, 0.5},
	{BandHeavy, 0.75},
	{BandOverloaded, 1.0},
}

// Band holds the per-band probability and its derived multipliers.
type Band struct {
	Name               LoadBand `json:"name"`
	Level              float64  `json:"level"`
	Probability        float64  `json:"probability"`
	WeightFactor       float64  `json:"weight_factor"`
	ResponseTimeFactor float64  `json:"response_time_factor"`
}

// Coherence bounds and decay horizon.
const (
	coherenceFloor     = 0.01
	coherenceHorizon   = 60.0 // seconds to one e-folding of decay
	propagationFloor   = 0.1  // coherence floor when reduced by propagation
	bandSharpness      = 5.0  // exponent scale for probability vs. distance
	weightLevelPenalty = 0.5  // weight factor loses half per unit of level
)

// StateModel derives a discrete probability distribution over the five load
// bands from a node's instantaneous load ratio. One StateModel exists per
// node; it is created and destroyed with the node.
type StateModel struct {
	Bands []Band `json:"bands"`

	// coherence is the stored scalar at lastMeasuredAt; the live value is
	// computed lazily from elapsed time (see Coherence) rather than by a
	// ticking timer, so tests can drive it with explicit timestamps.
	coherence      float64
	decay          float64
	lastMeasuredAt time.Time

	// LastBand is the band drawn by the most recent measurement.
	LastBand LoadBand `json:"last_band,omitempty"`

	// edges lists ids of correlation edges touching this node.
	edges []string
}

// NewStateModel builds a state model for a fresh node at the given load ratio.
func NewStateModel(loadRatio, weight, decay float64, now time.Time) *StateModel {
	if decay <= 0 || decay > 1 {
		decay = 0.95
	}
	m := &StateModel{
		Bands:          make([]Band, len(bandLevels)),
		coherence:      1.0,
		decay:          decay,
		lastMeasuredAt: now,
	}
	for i, b := range bandLevels {
		m.Bands[i] = Band{Name: b.Name, Level: b.Level}
	}
	m.Refresh(loadRatio, weight, now)
	return m
}

// Refresh rebuilds band probabilities and multipliers from the load ratio.
// Unnormalized probability is exp(-5*|level-r|); the weight factor scales the
// node weight down as the band level rises, and the response time factor
// scales expected latency up.
func (m *StateModel) Refresh(loadRatio, weight float64, now time.Time) {
	r := clamp01(loadRatio)
	for i := range m.Bands {
		level := m.Bands[i].Level
		m.Bands[i].Probability = math.Exp(-bandSharpness * math.Abs(level-r))
		m.Bands[i].WeightFactor = weight * (1 - level*weightLevelPenalty)
		m.Bands[i].ResponseTimeFactor = 1 + level*2
	}
	m.normalize()
}

// Coherence returns the live coherence scalar: the stored value decayed
// geometrically by elapsed time since the last measurement, floored at 0.01.
func (m *StateModel) Coherence(now time.Time) float64 {
	elapsed := now.Sub(m.lastMeasuredAt).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	c := m.coherence * math.Exp(-elapsed/coherenceHorizon) * m.decay
	if c < coherenceFloor {
		return coherenceFloor
	}
	if c > 1 {
		return 1
	}
	return c
}

// Measure draws one band via cumulative weighted sampling against a uniform
// random draw, records it as the latest measurement, and restores coherence
// to full: a fresh measurement makes the distribution trustworthy again.
func (m *StateModel) Measure(rng *rand.Rand, now time.Time) LoadBand {
	draw := rng.Float64()
	var cum float64
	band := m.Bands[len(m.Bands)-1].Name
	for _, b := range m.Bands {
		cum += b.Probability
		if draw <= cum {
			band = b.Name
			break
		}
	}
	m.LastBand = band
	m.lastMeasuredAt = now
	m.coherence = 1.0
	return band
}

// Nudge shifts probability mass toward the named band: the band gains boost,
// every other band is damped by the given factor, and the distribution is
// renormalized. Used by correlation propagation.
func (m *StateModel) Nudge(band LoadBand, boost, damp float64) {
	for i := range m.Bands {
		if m.Bands[i].Name == band {
			m.Bands[i].Probability += boost
		} else {
			m.Bands[i].Probability *= damp
		}
	}
	m.normalize()
}

// ReduceCoherence lowers stored coherence by the given amount, floored for
// propagation so a partner never collapses to the decay floor from updates
// it did not originate.
func (m *StateModel) ReduceCoherence(amount float64) {
	m.coherence -= amount
	if m.coherence < propagationFloor {
		m.coherence = propagationFloor
	}
}

// AttachEdge records a correlation edge id touching this node.
func (m *StateModel) AttachEdge(id string) {
	m.edges = append(m.edges, id)
}

// DetachEdge removes a correlation edge id.
func (m *StateModel) DetachEdge(id string) {
	for i, e := range m.edges {
		if e == id {
			m.edges = append(m.edges[:i], m.edges[i+1:]...)
			return
		}
	}
}

// EdgeIDs returns the correlation edge ids touching this node.
func (m *StateModel) EdgeIDs() []string {
	return m.edges
}

// normalize rescales probabilities to sum to exactly 1. Every mutation path
// ends here, which is what keeps the distribution invariant intact.
func (m *StateModel) normalize() {
	var sum float64
	for i := range m.Bands {
		if m.Bands[i].Probability < 0 {
			m.Bands[i].Probability = 0
		}
		sum += m.Bands[i].Probability
	}
	if sum <= 0 {
		// Degenerate distribution: reset to uniform.
		uniform := 1.0 / float64(len(m.Bands))
		for i := range m.Bands {
			m.Bands[i].Probability = uniform
		}
		return
	}
	for i := range m.Bands {
		m.Bands[i].Probability /= sum
	}
}
