// Package metrics wraps the Prometheus collectors for the routing core.
// Until Init is called every Record/Set helper is a no-op, so library users
// embedding the router pay nothing for instrumentation they did not ask for.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterMetrics wraps prometheus collectors for router metrics.
type RouterMetrics struct {
	registry *prometheus.Registry

	// Counters
	selectionsTotal        *prometheus.CounterVec
	requestsTotal          *prometheus.CounterVec
	rebalanceTotal         prometheus.Counter
	healthTransitionsTotal *prometheus.CounterVec

	// Histograms
	responseTime prometheus.Histogram

	// Gauges
	uptime        prometheus.GaugeFunc
	nodes         *prometheus.GaugeVec
	nodeLoadRatio *prometheus.GaugeVec
	nodeWeight    *prometheus.GaugeVec
	nodeCoherence *prometheus.GaugeVec
	imbalance     prometheus.Gauge
}

// Default histogram buckets for backend response time (in milliseconds).
var defaultBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

var routerMetrics *RouterMetrics

// Init initializes the Prometheus metrics subsystem.
func Init(namespace string, buckets []float64) {
	if len(buckets) == 0 {
		buckets = defaultBuckets
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	start := time.Now()

	m := &RouterMetrics{
		registry: registry,

		selectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "selections_total",
				Help:      "Total node selections by strategy and outcome",
			},
			[]string{"strategy", "outcome"},
		),

		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Total completed requests by status",
			},
			[]string{"status"},
		),

		rebalanceTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rebalance_passes_total",
				Help:      "Total rebalancing passes that adjusted weights",
			},
		),

		healthTransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "health_transitions_total",
				Help:      "Total node health status transitions",
			},
			[]string{"to"},
		),

		responseTime: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "response_time_milliseconds",
				Help:      "Backend response time in milliseconds",
				Buckets:   buckets,
			},
		),

		uptime: prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "uptime_seconds",
				Help:      "Seconds since metrics initialization",
			},
			func() float64 { return time.Since(start).Seconds() },
		),

		nodes: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "nodes",
				Help:      "Registered nodes by health status",
			},
			[]string{"status"},
		),

		nodeLoadRatio: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "node_load_ratio",
				Help:      "Per-node load ratio (currentLoad / capacity)",
			},
			[]string{"node"},
		),

		nodeWeight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "node_weight",
				Help:      "Per-node selection weight",
			},
			[]string{"node"},
		),

		nodeCoherence: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "node_coherence",
				Help:      "Per-node state model coherence",
			},
			[]string{"node"},
		),

		imbalance: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "load_imbalance",
				Help:      "Standard deviation of load ratios across healthy nodes",
			},
		),
	}

	registry.MustRegister(
		m.selectionsTotal,
		m.requestsTotal,
		m.rebalanceTotal,
		m.healthTransitionsTotal,
		m.responseTime,
		m.uptime,
		m.nodes,
		m.nodeLoadRatio,
		m.nodeWeight,
		m.nodeCoherence,
		m.imbalance,
	)

	routerMetrics = m
}

// Handler returns the HTTP handler for the /metrics endpoint, or nil when
// metrics are not initialized.
func Handler() http.Handler {
	if routerMetrics == nil {
		return nil
	}
	return promhttp.HandlerFor(routerMetrics.registry, promhttp.HandlerOpts{})
}

// RecordSelection counts one selection attempt.
func RecordSelection(strategy string, ok bool) {
	if routerMetrics == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "no_healthy_node"
	}
	routerMetrics.selectionsTotal.WithLabelValues(strategy, outcome).Inc()
}

// RecordCompletion counts one completed request and its response time.
func RecordCompletion(success bool, responseTimeMs float64) {
	if routerMetrics == nil {
		return
	}
	status := "success"
	if !success {
		status = "failure"
	}
	routerMetrics.requestsTotal.WithLabelValues(status).Inc()
	routerMetrics.responseTime.Observe(responseTimeMs)
}

// RecordRebalance counts one weight-adjusting rebalance pass.
func RecordRebalance() {
	if routerMetrics == nil {
		return
	}
	routerMetrics.rebalanceTotal.Inc()
}

// RecordHealthTransition counts a status flip to the given state.
func RecordHealthTransition(to string) {
	if routerMetrics == nil {
		return
	}
	routerMetrics.healthTransitionsTotal.WithLabelValues(to).Inc()
}

// SetNodeGauges updates the per-node gauges.
func SetNodeGauges(node string, loadRatio, weight, coherence float64) {
	if routerMetrics == nil {
		return
	}
	routerMetrics.nodeLoadRatio.WithLabelValues(node).Set(loadRatio)
	routerMetrics.nodeWeight.WithLabelValues(node).Set(weight)
	routerMetrics.nodeCoherence.WithLabelValues(node).Set(coherence)
}

// RemoveNodeGauges drops the gauges for an unregistered node.
func RemoveNodeGauges(node string) {
	if routerMetrics == nil {
		return
	}
	routerMetrics.nodeLoadRatio.DeleteLabelValues(node)
	routerMetrics.nodeWeight.DeleteLabelValues(node)
	routerMetrics.nodeCoherence.DeleteLabelValues(node)
}

// SetClusterGauges updates the fleet-level gauges.
func SetClusterGauges(healthy, unhealthy int, imbalance float64) {
	if routerMetrics == nil {
		return
	}
	routerMetrics.nodes.WithLabelValues("healthy").Set(float64(healthy))
	routerMetrics.nodes.WithLabelValues("unhealthy").Set(float64(unhealthy))
	routerMetrics.imbalance.Set(imbalance)
}
