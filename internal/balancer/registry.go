// Package balancer holds the balancing domains and the registry that owns
// them together with the shared checker and the background check and
// discovery loops.
package balancer

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mir00r/nodebalancer/internal/checker"
	"github.com/mir00r/nodebalancer/internal/domain"
	lberrors "github.com/mir00r/nodebalancer/internal/errors"
	"github.com/mir00r/nodebalancer/pkg/logger"
)

// Config holds the registry timing and probing settings
type Config struct {
	// CheckPeriod is the delay between health check cycles. <= 0 disables them.
	CheckPeriod time.Duration
	// DiscoverPeriod is the delay between discovery cycles. <= 0 disables them.
	DiscoverPeriod    time.Duration
	ConnectionTimeout time.Duration
	ExecutionTimeout  time.Duration
	StateBarrier      int
	ShutdownTimeout   time.Duration
	ProxyURL          string
}

// DefaultConfig returns the default registry configuration
func DefaultConfig() Config {
	return Config{
		CheckPeriod:       2 * time.Second,
		DiscoverPeriod:    30 * time.Second,
		ConnectionTimeout: checker.DefaultConnectionTimeout,
		ExecutionTimeout:  checker.DefaultExecutionTimeout,
		StateBarrier:      domain.DefaultStateBarrier,
		ShutdownTimeout:   5 * time.Second,
	}
}

// Option customises a registry
type Option func(*Registry)

// WithChecker replaces the default schema-aware checker
func WithChecker(c domain.Checker) Option {
	return func(r *Registry) {
		r.checker = c
	}
}

// Registry creates and owns balancers and runs their background loops
type Registry struct {
	config     Config
	logger     *logger.Logger
	baseLogger *logger.Logger
	client     *checker.Client
	checker    domain.Checker

	createMu  sync.Mutex
	mu        sync.RWMutex
	balancers map[string]*Balancer

	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	destroyOnce sync.Once
}

// NewRegistry creates the registry and starts its loops
func NewRegistry(config Config, log *logger.Logger, opts ...Option) (*Registry, error) {
	if config.StateBarrier < 1 {
		return nil, lberrors.NewInvalidConfigurationError(
			"registry",
			fmt.Sprintf("state barrier must be at least 1, got %d", config.StateBarrier),
		)
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = 5 * time.Second
	}

	client, err := checker.NewClient(checker.ClientConfig{
		ConnectionTimeout: config.ConnectionTimeout,
		ExecutionTimeout:  config.ExecutionTimeout,
		ProxyURL:          config.ProxyURL,
	})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		config:     config,
		logger:     log.RegistryLogger(),
		baseLogger: log,
		client:     client,
		balancers:  make(map[string]*Balancer),
		ctx:        ctx,
		cancel:     cancel,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.checker == nil {
		r.checker = checker.NewDefault(client, log)
	}

	r.startLoop("check", config.CheckPeriod, func(ctx context.Context, b *Balancer) {
		b.Check(ctx)
	})
	r.startLoop("discover", config.DiscoverPeriod, func(ctx context.Context, b *Balancer) {
		b.Discover(ctx)
	})

	r.logger.WithFields(map[string]interface{}{
		"check_period":    config.CheckPeriod.String(),
		"discover_period": config.DiscoverPeriod.String(),
		"state_barrier":   config.StateBarrier,
	}).Info("Registry started")

	return r, nil
}

// Config returns the registry configuration
func (r *Registry) Config() Config {
	return r.config
}

// Checker returns the shared checker
func (r *Registry) Checker() domain.Checker {
	return r.checker
}

// Create registers a balancer whose membership comes from discoverer
func (r *Registry) Create(id string, strategy domain.Strategy, discoverer domain.Discoverer) (*Balancer, error) {
	return r.Register(BalancerConfig{ID: id, Strategy: strategy, Discoverer: discoverer})
}

// CreateStatic registers a balancer over a fixed node list
func (r *Registry) CreateStatic(id string, strategy domain.Strategy, nodes []*domain.Node) (*Balancer, error) {
	return r.Register(BalancerConfig{ID: id, Strategy: strategy, Nodes: nodes})
}

// Register creates a balancer from a full configuration. The checker of the
// configuration is always replaced by the registry checker.
func (r *Registry) Register(config BalancerConfig) (*Balancer, error) {
	r.createMu.Lock()
	defer r.createMu.Unlock()

	if r.ctx.Err() != nil {
		return nil, lberrors.NewError(lberrors.ErrCodeInternalError, "registry", "registry is destroyed")
	}
	if config.ID != "" {
		if _, exists := r.Balancer(config.ID); exists {
			return nil, lberrors.NewDuplicateIdentifierError(config.ID)
		}
	}

	config.Checker = r.checker
	b, err := New(r.ctx, config, r.baseLogger)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.balancers[b.ID()] = b
	r.mu.Unlock()

	r.logger.WithField("balancer_id", b.ID()).
		WithField("nodes", len(b.Nodes())).
		Info("Balancer created")
	return b, nil
}

// Balancer returns the balancer with the given id
func (r *Registry) Balancer(id string) (*Balancer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.balancers[id]
	return b, ok
}

// Balancers returns every balancer ordered by id
func (r *Registry) Balancers() []*Balancer {
	r.mu.RLock()
	list := make([]*Balancer, 0, len(r.balancers))
	for _, b := range r.balancers {
		list = append(list, b)
	}
	r.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool {
		return list[i].ID() < list[j].ID()
	})
	return list
}

// EnableNodes enables matching nodes of a balancer. Unknown ids are ignored.
func (r *Registry) EnableNodes(id string, selector domain.Selector) int {
	b, ok := r.Balancer(id)
	if !ok {
		return 0
	}
	return b.Enable(selector)
}

// DisableNodes disables matching nodes of a balancer. Unknown ids are ignored.
func (r *Registry) DisableNodes(id string, selector domain.Selector) int {
	b, ok := r.Balancer(id)
	if !ok {
		return 0
	}
	return b.Disable(selector)
}

// startLoop runs fn over every balancer, waiting period after each cycle
// completes. The first cycle runs immediately.
func (r *Registry) startLoop(name string, period time.Duration, fn func(context.Context, *Balancer)) {
	log := r.logger.WithField("loop", name)
	if period <= 0 {
		log.Info("Loop disabled")
		return
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		timer := time.NewTimer(0)
		defer timer.Stop()

		for {
			select {
			case <-r.ctx.Done():
				log.Debug("Loop stopped")
				return
			case <-timer.C:
				log.Debug("Running cycle")
				for _, b := range r.Balancers() {
					if r.ctx.Err() != nil {
						break
					}
					r.runSafely(log, b, fn)
				}
				timer.Reset(period)
			}
		}
	}()

	log.WithField("period", period.String()).Info("Loop started")
}

// runSafely isolates a fault of one balancer from the rest of the cycle
func (r *Registry) runSafely(log *logger.Logger, b *Balancer, fn func(context.Context, *Balancer)) {
	defer func() {
		if rec := recover(); rec != nil {
			log.WithField("balancer_id", b.ID()).
				WithField("error_code", lberrors.ErrCodeSchedulerFailed).
				Errorf("Cycle failed: %v", rec)
		}
	}()
	fn(r.ctx, b)
}

// Destroy stops the loops and releases the shared client. It waits at most
// ShutdownTimeout for running cycles. Calling it again is a no-op.
func (r *Registry) Destroy() {
	r.destroyOnce.Do(func() {
		r.cancel()
		r.client.Close()

		done := make(chan struct{})
		go func() {
			r.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			r.logger.Info("Registry destroyed")
		case <-time.After(r.config.ShutdownTimeout):
			r.logger.WithField("error_code", lberrors.ErrCodeShutdownTimeout).
				WithField("timeout", r.config.ShutdownTimeout.String()).
				Warn("Timed out waiting for loops to stop")
		}
	})
}
