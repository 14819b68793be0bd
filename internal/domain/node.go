package domain

import (
	"fmt"
	"net/url"
	"sync/atomic"

	lberrors "github.com/mir00r/nodebalancer/internal/errors"
)

// DefaultStateBarrier is the number of consecutive negative reports needed
// to take a healthy node out of rotation.
const DefaultStateBarrier = 3

// Node represents one backend endpoint with immutable identity and
// concurrently mutated health and enablement state.
type Node struct {
	connection   *url.URL
	status       *url.URL
	labels       map[string]string
	stateBarrier int32

	aliveCount  atomic.Int32
	activeCount atomic.Int32
	enabled     atomic.Bool
	checkStatus atomic.Pointer[string]
}

// NodeOption customises node construction
type NodeOption func(*Node)

// WithStateBarrier sets the hysteresis barrier of the node
func WithStateBarrier(barrier int) NodeOption {
	return func(n *Node) {
		n.stateBarrier = int32(barrier)
	}
}

// NewNode creates a node. The status URI may be nil, in which case probing
// uses the connection URI. A nil labels map becomes an empty one.
func NewNode(connection, status *url.URL, labels map[string]string, opts ...NodeOption) (*Node, error) {
	if connection == nil {
		return nil, lberrors.NewInvalidConfigurationError("node", "connection URI is required")
	}

	n := &Node{
		connection:   connection,
		status:       status,
		labels:       make(map[string]string, len(labels)),
		stateBarrier: DefaultStateBarrier,
	}
	for k, v := range labels {
		n.labels[k] = v
	}
	for _, opt := range opts {
		opt(n)
	}

	if n.stateBarrier < 1 {
		return nil, lberrors.NewInvalidConfigurationError(
			"node",
			fmt.Sprintf("state barrier must be at least 1, got %d", n.stateBarrier),
		).WithMetadata("connection", connection.String())
	}

	n.enabled.Store(true)
	return n, nil
}

// ParseNode is NewNode over URI strings. An empty status means no status URI.
func ParseNode(connection, status string, labels map[string]string, opts ...NodeOption) (*Node, error) {
	if connection == "" {
		return nil, lberrors.NewInvalidConfigurationError("node", "connection URI is required")
	}

	conn, err := url.Parse(connection)
	if err != nil {
		return nil, lberrors.WrapError(err, lberrors.ErrCodeInvalidConfiguration, "node", "invalid connection URI")
	}

	var st *url.URL
	if status != "" {
		if st, err = url.Parse(status); err != nil {
			return nil, lberrors.WrapError(err, lberrors.ErrCodeInvalidConfiguration, "node", "invalid status URI")
		}
	}

	return NewNode(conn, st, labels, opts...)
}

// Connection returns the address used to route traffic
func (n *Node) Connection() *url.URL {
	return n.connection
}

// Status returns the health probing address, nil when absent
func (n *Node) Status() *url.URL {
	return n.status
}

// ProbeTarget returns the status URI, falling back to the connection URI
func (n *Node) ProbeTarget() *url.URL {
	if n.status != nil {
		return n.status
	}
	return n.connection
}

// Labels returns a copy of the node labels
func (n *Node) Labels() map[string]string {
	labels := make(map[string]string, len(n.labels))
	for k, v := range n.labels {
		labels[k] = v
	}
	return labels
}

// Label returns a single label value
func (n *Node) Label(key string) (string, bool) {
	v, ok := n.labels[key]
	return v, ok
}

// StateBarrier returns the hysteresis barrier
func (n *Node) StateBarrier() int {
	return int(n.stateBarrier)
}

// ReportAlive records a reachability probe outcome
func (n *Node) ReportAlive(alive bool) {
	n.report(&n.aliveCount, alive)
}

// ReportActive records a readiness probe outcome
func (n *Node) ReportActive(active bool) {
	n.report(&n.activeCount, active)
}

// report snaps the counter to the barrier on success and steps it toward
// zero on failure.
func (n *Node) report(counter *atomic.Int32, healthy bool) {
	if healthy {
		counter.Store(n.stateBarrier)
		return
	}
	for {
		current := counter.Load()
		if current <= 0 {
			return
		}
		if counter.CompareAndSwap(current, current-1) {
			return
		}
	}
}

// IsAlive reports whether the node is reachable
func (n *Node) IsAlive() bool {
	return n.aliveCount.Load() > 0
}

// IsActive reports whether the node is ready to serve
func (n *Node) IsActive() bool {
	return n.activeCount.Load() > 0
}

// Enable puts the node back into rotation
func (n *Node) Enable() {
	n.enabled.Store(true)
}

// Disable takes the node out of rotation regardless of its health
func (n *Node) Disable() {
	n.enabled.Store(false)
}

// IsEnabled reports the operator enablement flag
func (n *Node) IsEnabled() bool {
	return n.enabled.Load()
}

// IsEligible reports whether a strategy may select the node
func (n *Node) IsEligible() bool {
	return n.IsEnabled() && n.IsActive()
}

// SetCheckStatus records the diagnostic of the last probe. Empty clears it.
func (n *Node) SetCheckStatus(status string) {
	if status == "" {
		n.checkStatus.Store(nil)
		return
	}
	n.checkStatus.Store(&status)
}

// CheckStatus returns the diagnostic of the last probe, empty after a clean one
func (n *Node) CheckStatus() string {
	if s := n.checkStatus.Load(); s != nil {
		return *s
	}
	return ""
}

// Snapshot returns a point-in-time view of the node
func (n *Node) Snapshot() NodeView {
	view := NodeView{
		Connection:   n.connection.String(),
		Labels:       n.Labels(),
		Alive:        n.IsAlive(),
		Active:       n.IsActive(),
		Enabled:      n.IsEnabled(),
		CheckStatus:  n.CheckStatus(),
		StateBarrier: n.StateBarrier(),
	}
	if n.status != nil {
		view.Status = n.status.String()
	}
	return view
}

// String returns the connection URI
func (n *Node) String() string {
	return n.connection.String()
}
