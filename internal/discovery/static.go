// Package discovery provides the built-in membership sources of a balancer:
// a static list, YAML documents from a pluggable source, YAML files per
// balancer and an HTTP endpoint serving those files.
package discovery

import (
	"context"

	"github.com/mir00r/nodebalancer/internal/domain"
)

// StaticDiscoverer always reports the same node list
type StaticDiscoverer struct {
	nodes []*domain.Node
}

// NewStaticDiscoverer creates a discoverer over a fixed list
func NewStaticDiscoverer(nodes []*domain.Node) *StaticDiscoverer {
	list := make([]*domain.Node, len(nodes))
	copy(list, nodes)
	return &StaticDiscoverer{nodes: list}
}

// Discover returns a copy of the list
func (d *StaticDiscoverer) Discover(_ context.Context, _ string) ([]*domain.Node, error) {
	list := make([]*domain.Node, len(d.nodes))
	copy(list, d.nodes)
	return list, nil
}
