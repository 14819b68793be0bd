package domain

import "context"

// StrategyType represents the configured name of a balancing strategy
type StrategyType string

const (
	RoundRobinStrategyType StrategyType = "round_robin"
)

// NodeSet exposes the authoritative node list of a balancer
type NodeSet interface {
	Nodes() []*Node
}

// Strategy selects one eligible node.
// Implementations must be safe for concurrent use.
type Strategy interface {
	// Balance returns an enabled and active node matching selector, or nil
	Balance(set NodeSet, selector Selector) *Node

	// Name returns the human-readable name of the strategy
	Name() string
}

// Checker probes a node and records the outcome on it.
// Faults are recorded through the node's check status, never returned.
type Checker interface {
	Check(ctx context.Context, node *Node)
}

// Discoverer returns the current membership of a balancer.
//
// It returns ErrNoChange when it has nothing new to report and an empty
// slice when the balancer should fall back to its initial nodes. Any other
// error is a fault and is treated like ErrNoChange.
type Discoverer interface {
	Discover(ctx context.Context, balancerID string) ([]*Node, error)
}

// DiscovererFunc adapts a function to the Discoverer interface
type DiscovererFunc func(ctx context.Context, balancerID string) ([]*Node, error)

// Discover calls f(ctx, balancerID)
func (f DiscovererFunc) Discover(ctx context.Context, balancerID string) ([]*Node, error) {
	return f(ctx, balancerID)
}

// CheckerFunc adapts a function to the Checker interface
type CheckerFunc func(ctx context.Context, node *Node)

// Check calls f(ctx, node)
func (f CheckerFunc) Check(ctx context.Context, node *Node) {
	f(ctx, node)
}
