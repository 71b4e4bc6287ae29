package cluster

import "time"

// Config holds the routing-core settings.
type Config struct {
	// MaxNodes caps the registry size; <= 0 falls back to the default.
	MaxNodes int

	// Strategy names the selection strategy (see the Strategy* constants).
	Strategy string

	// HealthCheckInterval is the period of the health sweep loop.
	HealthCheckInterval time.Duration

	// RebalanceInterval is the period of the rebalance loop.
	RebalanceInterval time.Duration

	// RebalanceThreshold is the load-ratio stddev above which a rebalance
	// pass adjusts weights.
	RebalanceThreshold float64

	// CoherenceDecay scales every state model's reported coherence; (0, 1].
	CoherenceDecay float64

	// EntanglementFactor scales the correlation-aware partner bonus.
	EntanglementFactor float64

	// AdaptiveLearning enables per-delegate outcome tracking for the
	// adaptive strategy.
	AdaptiveLearning bool

	// GracePeriod is how long a rebalance weight correction holds before
	// reverting to 1.0x.
	GracePeriod time.Duration
}

// DefaultConfig returns the default routing-core settings.
func DefaultConfig() *Config {
	return &Config{
		MaxNodes:            64,
		Strategy:            StrategyAdaptive,
		HealthCheckInterval: 10 * time.Second,
		RebalanceInterval:   20 * time.Second,
		RebalanceThreshold:  0.3,
		CoherenceDecay:      0.95,
		EntanglementFactor:  0.2,
		AdaptiveLearning:    true,
		GracePeriod:         30 * time.Second,
	}
}

// withDefaults fills zero values from DefaultConfig, returning a copy.
func (c *Config) withDefaults() *Config {
	out := *c
	def := DefaultConfig()
	if out.MaxNodes <= 0 {
		out.MaxNodes = def.MaxNodes
	}
	if out.Strategy == "" {
		out.Strategy = def.Strategy
	}
	if out.HealthCheckInterval <= 0 {
		out.HealthCheckInterval = def.HealthCheckInterval
	}
	if out.RebalanceInterval <= 0 {
		out.RebalanceInterval = def.RebalanceInterval
	}
	if out.RebalanceThreshold <= 0 {
		out.RebalanceThreshold = def.RebalanceThreshold
	}
	if out.CoherenceDecay <= 0 || out.CoherenceDecay > 1 {
		out.CoherenceDecay = def.CoherenceDecay
	}
	if out.EntanglementFactor <= 0 {
		out.EntanglementFactor = def.EntanglementFactor
	}
	if out.GracePeriod <= 0 {
		out.GracePeriod = def.GracePeriod
	}
	return &out
}
