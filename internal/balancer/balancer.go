package balancer

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/mir00r/nodebalancer/internal/domain"
	lberrors "github.com/mir00r/nodebalancer/internal/errors"
	"github.com/mir00r/nodebalancer/pkg/logger"
)

// BalancerConfig holds the collaborators of a balancer
type BalancerConfig struct {
	// ID identifies the balancer. A random UUID is used when empty.
	ID         string
	Strategy   domain.Strategy
	Discoverer domain.Discoverer
	Checker    domain.Checker
	// Nodes is the initial list, used when there is no discoverer and as
	// the fallback when the discoverer reports an empty membership.
	Nodes []*domain.Node
}

// Balancer is one named balancing domain
type Balancer struct {
	id         string
	strategy   domain.Strategy
	discoverer domain.Discoverer
	checker    domain.Checker
	logger     *logger.Logger

	initial    []*domain.Node
	initialRef *[]*domain.Node
	current    atomic.Pointer[[]*domain.Node]
}

// View is a point-in-time description of a balancer
type View struct {
	ID        string            `json:"id"`
	Strategy  string            `json:"strategy"`
	Discovery bool              `json:"discovery"`
	Nodes     []domain.NodeView `json:"nodes"`
}

// New creates a balancer and runs its first discovery synchronously
func New(ctx context.Context, config BalancerConfig, log *logger.Logger) (*Balancer, error) {
	if config.Strategy == nil {
		return nil, lberrors.NewInvalidConfigurationError("balancer", "strategy is required")
	}
	if config.Checker == nil {
		return nil, lberrors.NewInvalidConfigurationError("balancer", "checker is required")
	}

	id := config.ID
	if id == "" {
		id = uuid.NewString()
	}

	initial := withoutNil(config.Nodes)

	b := &Balancer{
		id:         id,
		strategy:   config.Strategy,
		discoverer: config.Discoverer,
		checker:    config.Checker,
		logger:     log.BalancerLogger(id),
		initial:    initial,
	}
	b.initialRef = &b.initial

	b.Discover(ctx)
	return b, nil
}

// ID returns the balancer identifier
func (b *Balancer) ID() string {
	return b.id
}

// Nodes returns the authoritative node list: the current list, or the
// initial list while the current one is empty. Callers must not modify it.
func (b *Balancer) Nodes() []*domain.Node {
	if current := b.current.Load(); current != nil && len(*current) > 0 {
		return *current
	}
	return b.initial
}

// Initial returns the immutable initial node list
func (b *Balancer) Initial() []*domain.Node {
	return b.initial
}

// HasDiscoverer reports whether membership is discovered
func (b *Balancer) HasDiscoverer() bool {
	return b.discoverer != nil
}

// Strategy returns the selection strategy
func (b *Balancer) Strategy() domain.Strategy {
	return b.strategy
}

// Discover refreshes membership. Discovered nodes are probed before they
// replace the current list in a single swap. Faults keep the current list.
func (b *Balancer) Discover(ctx context.Context) {
	if b.discoverer == nil {
		b.installInitial(ctx)
		return
	}

	nodes, err := b.discover(ctx)
	switch {
	case errors.Is(err, domain.ErrNoChange):
		b.logger.Debug("No membership change")
		return
	case err != nil:
		b.logger.WithError(err).
			WithField("error_code", lberrors.ErrCodeDiscoveryFailed).
			Warn("Node discovery failed, keeping current nodes")
		return
	}

	nodes = withoutNil(nodes)
	if len(nodes) == 0 {
		// The fallback list is re-probed on every empty cycle
		b.logger.Debug("Discovery returned no nodes, falling back to initial nodes")
		b.probe(ctx, b.initial)
		b.current.Store(b.initialRef)
		return
	}

	b.probe(ctx, nodes)
	b.current.Store(&nodes)
	b.logger.WithField("nodes", len(nodes)).Info("Installed discovered nodes")
}

func withoutNil(nodes []*domain.Node) []*domain.Node {
	out := make([]*domain.Node, 0, len(nodes))
	for _, node := range nodes {
		if node != nil {
			out = append(out, node)
		}
	}
	return out
}

func (b *Balancer) discover(ctx context.Context) (nodes []*domain.Node, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = lberrors.NewDiscoveryError(b.id, fmt.Errorf("discoverer panic: %v", r))
		}
	}()
	return b.discoverer.Discover(ctx, b.id)
}

// installInitial probes and installs the initial list of a balancer without
// discoverer. Once installed it is left to the check loop.
func (b *Balancer) installInitial(ctx context.Context) {
	if b.current.Load() == b.initialRef {
		return
	}
	b.probe(ctx, b.initial)
	b.current.Store(b.initialRef)
}

// Check probes every node of the authoritative list
func (b *Balancer) Check(ctx context.Context) {
	b.probe(ctx, b.Nodes())
}

func (b *Balancer) probe(ctx context.Context, nodes []*domain.Node) {
	for _, node := range nodes {
		if ctx.Err() != nil {
			return
		}
		b.probeNode(ctx, node)
	}
}

func (b *Balancer) probeNode(ctx context.Context, node *domain.Node) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.WithField("node", node.String()).
				WithField("error_code", lberrors.ErrCodeProbeFailed).
				Errorf("Checker panicked: %v", r)
		}
	}()
	b.checker.Check(ctx, node)
}

// GetBalanced returns the next eligible node matching selector, or nil
func (b *Balancer) GetBalanced(selector domain.Selector) *domain.Node {
	return b.strategy.Balance(b, selector)
}

// Enable enables every node matching selector
func (b *Balancer) Enable(selector domain.Selector) int {
	count := 0
	for _, node := range b.Nodes() {
		if selector.Matches(node) {
			node.Enable()
			count++
		}
	}
	return count
}

// Disable disables every node matching selector
func (b *Balancer) Disable(selector domain.Selector) int {
	count := 0
	for _, node := range b.Nodes() {
		if selector.Matches(node) {
			node.Disable()
			count++
		}
	}
	return count
}

// Snapshot returns a view of the balancer and its nodes
func (b *Balancer) Snapshot() View {
	nodes := b.Nodes()
	view := View{
		ID:        b.id,
		Strategy:  b.strategy.Name(),
		Discovery: b.HasDiscoverer(),
		Nodes:     make([]domain.NodeView, 0, len(nodes)),
	}
	for _, node := range nodes {
		view.Nodes = append(view.Nodes, node.Snapshot())
	}
	return view
}
