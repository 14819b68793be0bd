package handler

import (
	"net/http"
	"time"

	"github.com/mir00r/nodebalancer/internal/balancer"
)

// BalancerSource lists the registered balancers
type BalancerSource interface {
	Balancers() []*balancer.Balancer
}

// HealthHandler provides liveness and readiness endpoints
type HealthHandler struct {
	registry  BalancerSource
	startTime time.Time
	version   string
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(registry BalancerSource, version string) *HealthHandler {
	return &HealthHandler{
		registry:  registry,
		startTime: time.Now(),
		version:   version,
	}
}

// ReadinessHandler reports readiness together with balancer and node counts
func (h *HealthHandler) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	balancers := h.registry.Balancers()
	nodes, eligible := 0, 0
	for _, b := range balancers {
		for _, node := range b.Nodes() {
			nodes++
			if node.IsEligible() {
				eligible++
			}
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ready",
		"timestamp":      time.Now().UTC(),
		"version":        h.version,
		"uptime":         time.Since(h.startTime).String(),
		"balancers":      len(balancers),
		"nodes":          nodes,
		"eligible_nodes": eligible,
	})
}

// LivenessHandler checks if the application is alive
func (h *HealthHandler) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "alive",
		"timestamp": time.Now().UTC(),
		"version":   h.version,
		"uptime":    time.Since(h.startTime).String(),
	})
}
