package strategy

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/mir00r/nodebalancer/internal/domain"
	lberrors "github.com/mir00r/nodebalancer/internal/errors"
)

// Stats holds thread-safe selection statistics for a strategy
type Stats struct {
	TotalRequests   int64
	SuccessRequests int64
	EmptyRequests   int64
	LastUsed        int64 // Unix timestamp
}

func (s *Stats) record(selected bool) {
	atomic.AddInt64(&s.TotalRequests, 1)
	if selected {
		atomic.AddInt64(&s.SuccessRequests, 1)
	} else {
		atomic.AddInt64(&s.EmptyRequests, 1)
	}
	atomic.StoreInt64(&s.LastUsed, time.Now().Unix())
}

// Snapshot returns a snapshot of current statistics
func (s *Stats) Snapshot() map[string]interface{} {
	return map[string]interface{}{
		"total_requests":   atomic.LoadInt64(&s.TotalRequests),
		"success_requests": atomic.LoadInt64(&s.SuccessRequests),
		"empty_requests":   atomic.LoadInt64(&s.EmptyRequests),
		"last_used":        atomic.LoadInt64(&s.LastUsed),
	}
}

// RoundRobin cycles through the eligible nodes of a set with one shared counter
type RoundRobin struct {
	counter atomic.Uint64
	stats   Stats
}

// NewRoundRobin creates a round-robin strategy
func NewRoundRobin() *RoundRobin {
	return &RoundRobin{}
}

// Balance filters the set by selector, enabled and active, keeping order,
// and picks counter mod size. Returns nil when nothing is eligible.
func (r *RoundRobin) Balance(set domain.NodeSet, selector domain.Selector) *domain.Node {
	if set == nil {
		r.stats.record(false)
		return nil
	}

	nodes := set.Nodes()
	eligible := make([]*domain.Node, 0, len(nodes))
	for _, node := range nodes {
		if node != nil && node.IsEligible() && selector.Matches(node) {
			eligible = append(eligible, node)
		}
	}

	if len(eligible) == 0 {
		r.stats.record(false)
		return nil
	}

	next := r.counter.Add(1) - 1
	r.stats.record(true)
	return eligible[next%uint64(len(eligible))]
}

// Name returns the human-readable name of the strategy
func (r *RoundRobin) Name() string {
	return "Round Robin"
}

// Stats returns strategy statistics
func (r *RoundRobin) Stats() map[string]interface{} {
	stats := r.stats.Snapshot()
	stats["counter"] = r.counter.Load()
	return stats
}

// ByName creates a strategy from its configured name
func ByName(name string) (domain.Strategy, error) {
	switch domain.StrategyType(name) {
	case domain.RoundRobinStrategyType, "":
		return NewRoundRobin(), nil
	default:
		return nil, lberrors.NewInvalidConfigurationError(
			"strategy",
			fmt.Sprintf("unsupported strategy type: %s", name),
		)
	}
}
