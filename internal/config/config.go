// Package config loads router configuration from JSON or YAML files with
// environment variable overrides.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/danieleschmidt/GH200-Retrieval-Router-sub004/internal/cluster"
)

// RedisConfig holds Redis connection settings for the distributed event
// notifier.
type RedisConfig struct {
	Addr     string `json:"addr" yaml:"addr"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
}

// MetricsConfig holds Prometheus settings.
type MetricsConfig struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	Namespace string `json:"namespace" yaml:"namespace"`
}

// DaemonConfig holds daemon-specific settings.
type DaemonConfig struct {
	HTTPAddr  string `json:"http_addr" yaml:"http_addr"`
	LogLevel  string `json:"log_level" yaml:"log_level"`
	LogFormat string `json:"log_format" yaml:"log_format"`
	RouteLog  string `json:"route_log" yaml:"route_log"` // path for the decision log, empty disables
}

// BalancerConfig holds the routing-core settings. Intervals are milliseconds.
type BalancerConfig struct {
	MaxNodes              int     `json:"max_nodes" yaml:"max_nodes"`
	Strategy              string  `json:"strategy" yaml:"strategy"`
	HealthCheckIntervalMs int     `json:"health_check_interval_ms" yaml:"health_check_interval_ms"`
	RebalanceIntervalMs   int     `json:"rebalance_interval_ms" yaml:"rebalance_interval_ms"`
	RebalanceThreshold    float64 `json:"rebalance_threshold" yaml:"rebalance_threshold"`
	CoherenceDecay        float64 `json:"coherence_decay" yaml:"coherence_decay"`
	EntanglementFactor    float64 `json:"entanglement_factor" yaml:"entanglement_factor"`
	AdaptiveLearning      bool    `json:"adaptive_learning" yaml:"adaptive_learning"`
	GracePeriodMs         int     `json:"grace_period_ms" yaml:"grace_period_ms"`
}

// NodeSeed is a statically configured backend node registered at startup.
type NodeSeed struct {
	ID         string  `json:"id" yaml:"id"`
	Address    string  `json:"address" yaml:"address"`
	Port       int     `json:"port" yaml:"port"`
	Weight     float64 `json:"weight" yaml:"weight"`
	Capacity   float64 `json:"capacity" yaml:"capacity"`
	Datacenter string  `json:"datacenter" yaml:"datacenter"`
	Region     string  `json:"region" yaml:"region"`
}

// Config is the central configuration struct embedding all component configs.
type Config struct {
	Balancer BalancerConfig `json:"balancer" yaml:"balancer"`
	Redis    RedisConfig    `json:"redis" yaml:"redis"`
	Metrics  MetricsConfig  `json:"metrics" yaml:"metrics"`
	Daemon   DaemonConfig   `json:"daemon" yaml:"daemon"`
	Nodes    []NodeSeed     `json:"nodes" yaml:"nodes"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Balancer: BalancerConfig{
			MaxNodes:              64,
			Strategy:              cluster.StrategyAdaptive,
			HealthCheckIntervalMs: 10000,
			RebalanceIntervalMs:   20000,
			RebalanceThreshold:    0.3,
			CoherenceDecay:        0.95,
			EntanglementFactor:    0.2,
			AdaptiveLearning:      true,
			GracePeriodMs:         30000,
		},
		Redis: RedisConfig{
			Addr: "",
			DB:   0,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "router",
		},
		Daemon: DaemonConfig{
			HTTPAddr:  ":8080",
			LogLevel:  "info",
			LogFormat: "text",
		},
	}
}

// LoadFromFile loads configuration from a JSON or YAML file, chosen by
// extension (.yaml/.yml parse as YAML, anything else as JSON).
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse yaml config %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse json config %s: %w", path, err)
		}
	}

	return cfg, nil
}

// LoadFromEnv applies environment variable overrides to the config.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("ROUTER_STRATEGY"); v != "" {
		cfg.Balancer.Strategy = v
	}
	if v := os.Getenv("ROUTER_MAX_NODES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Balancer.MaxNodes = n
		}
	}
	if v := os.Getenv("ROUTER_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("ROUTER_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("ROUTER_HTTP_ADDR"); v != "" {
		cfg.Daemon.HTTPAddr = v
	}
	if v := os.Getenv("ROUTER_LOG_LEVEL"); v != "" {
		cfg.Daemon.LogLevel = v
	}
	if v := os.Getenv("ROUTER_LOG_FORMAT"); v != "" {
		cfg.Daemon.LogFormat = v
	}
}

// ClusterConfig maps the file-level balancer settings onto the routing core's
// configuration type.
func (c *Config) ClusterConfig() *cluster.Config {
	return &cluster.Config{
		MaxNodes:            c.Balancer.MaxNodes,
		Strategy:            c.Balancer.Strategy,
		HealthCheckInterval: time.Duration(c.Balancer.HealthCheckIntervalMs) * time.Millisecond,
		RebalanceInterval:   time.Duration(c.Balancer.RebalanceIntervalMs) * time.Millisecond,
		RebalanceThreshold:  c.Balancer.RebalanceThreshold,
		CoherenceDecay:      c.Balancer.CoherenceDecay,
		EntanglementFactor:  c.Balancer.EntanglementFactor,
		AdaptiveLearning:    c.Balancer.AdaptiveLearning,
		GracePeriod:         time.Duration(c.Balancer.GracePeriodMs) * time.Millisecond,
	}
}
