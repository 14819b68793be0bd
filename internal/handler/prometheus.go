package handler

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mir00r/nodebalancer/pkg/logger"
)

const metricsNamespace = "nodebalancer"

var nodeLabels = []string{"balancer_id", "connection"}

// nodeCollector reads node state from the registry on every scrape
type nodeCollector struct {
	source    BalancerSource
	balancers *prometheus.Desc
	nodes     *prometheus.Desc
	alive     *prometheus.Desc
	active    *prometheus.Desc
	enabled   *prometheus.Desc
}

func newNodeCollector(source BalancerSource) *nodeCollector {
	return &nodeCollector{
		source: source,
		balancers: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "", "balancers"),
			"Number of registered balancers", nil, nil),
		nodes: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "", "nodes"),
			"Number of nodes currently installed in a balancer", []string{"balancer_id"}, nil),
		alive: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "node", "alive"),
			"Node reachability (1=alive, 0=not alive)", nodeLabels, nil),
		active: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "node", "active"),
			"Node serviceability (1=active, 0=not active)", nodeLabels, nil),
		enabled: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "node", "enabled"),
			"Operator enablement flag (1=enabled, 0=disabled)", nodeLabels, nil),
	}
}

func (c *nodeCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.balancers
	ch <- c.nodes
	ch <- c.alive
	ch <- c.active
	ch <- c.enabled
}

func (c *nodeCollector) Collect(ch chan<- prometheus.Metric) {
	balancers := c.source.Balancers()
	ch <- prometheus.MustNewConstMetric(c.balancers, prometheus.GaugeValue, float64(len(balancers)))

	for _, b := range balancers {
		nodes := b.Nodes()
		ch <- prometheus.MustNewConstMetric(c.nodes, prometheus.GaugeValue, float64(len(nodes)), b.ID())

		// Duplicate connections in one balancer would collide on labels
		seen := make(map[string]struct{}, len(nodes))
		for _, node := range nodes {
			connection := node.Connection().String()
			if _, dup := seen[connection]; dup {
				continue
			}
			seen[connection] = struct{}{}

			ch <- prometheus.MustNewConstMetric(c.alive, prometheus.GaugeValue, gauge(node.IsAlive()), b.ID(), connection)
			ch <- prometheus.MustNewConstMetric(c.active, prometheus.GaugeValue, gauge(node.IsActive()), b.ID(), connection)
			ch <- prometheus.MustNewConstMetric(c.enabled, prometheus.GaugeValue, gauge(node.IsEnabled()), b.ID(), connection)
		}
	}
}

func gauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}

// MetricsHandler serves Prometheus metrics for the injected registry
type MetricsHandler struct {
	gatherer *prometheus.Registry
	handler  http.Handler
	logger   *logger.Logger
}

// NewMetricsHandler creates a metrics handler backed by its own collector
// registry. Go runtime and process collectors are included.
func NewMetricsHandler(source BalancerSource, log *logger.Logger) *MetricsHandler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		newNodeCollector(source),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	h := &MetricsHandler{
		gatherer: reg,
		logger:   log.WithField("component", "metrics"),
	}
	h.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		ErrorLog:      promLogger{h.logger},
		ErrorHandling: promhttp.ContinueOnError,
	})
	return h
}

// Gatherer exposes the underlying collector registry
func (h *MetricsHandler) Gatherer() prometheus.Gatherer {
	return h.gatherer
}

// ServeHTTP serves the Prometheus text exposition
func (h *MetricsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.handler.ServeHTTP(w, r)
	h.logger.Debug("Served Prometheus metrics")
}

// promLogger adapts the logger to promhttp.Logger
type promLogger struct {
	log *logger.Logger
}

func (l promLogger) Println(v ...interface{}) {
	l.log.Error(v...)
}
