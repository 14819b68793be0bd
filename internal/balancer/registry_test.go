package balancer

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mir00r/nodebalancer/internal/discovery"
	"github.com/mir00r/nodebalancer/internal/domain"
	lberrors "github.com/mir00r/nodebalancer/internal/errors"
	"github.com/mir00r/nodebalancer/internal/strategy"
	"github.com/mir00r/nodebalancer/pkg/logger"
)

func quietConfig() Config {
	config := DefaultConfig()
	config.CheckPeriod = 0
	config.DiscoverPeriod = 0
	config.ShutdownTimeout = time.Second
	return config
}

func newRegistry(t *testing.T, config Config, opts ...Option) *Registry {
	t.Helper()
	r, err := NewRegistry(config, logger.Discard(), opts...)
	require.NoError(t, err)
	t.Cleanup(r.Destroy)
	return r
}

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	config := DefaultConfig()
	assert.Equal(t, 2*time.Second, config.CheckPeriod)
	assert.Equal(t, 30*time.Second, config.DiscoverPeriod)
	assert.Equal(t, 2*time.Second, config.ConnectionTimeout)
	assert.Equal(t, 2*time.Second, config.ExecutionTimeout)
	assert.Equal(t, 3, config.StateBarrier)
	assert.Equal(t, 5*time.Second, config.ShutdownTimeout)
}

func TestNewRegistryRejectsInvalidBarrier(t *testing.T) {
	t.Parallel()

	config := quietConfig()
	config.StateBarrier = 0
	_, err := NewRegistry(config, logger.Discard())
	assert.ErrorIs(t, err, lberrors.ErrInvalidConfiguration)
}

func TestRegistryCreate(t *testing.T) {
	t.Parallel()

	checker := &countingChecker{}
	r := newRegistry(t, quietConfig(), WithChecker(checker))
	assert.Same(t, checker, r.Checker())

	b, err := r.CreateStatic("orders", strategy.NewRoundRobin(), []*domain.Node{node(t, "http://a")})
	require.NoError(t, err)
	assert.Equal(t, "orders", b.ID())
	assert.Equal(t, int64(1), checker.calls.Load(), "construction probes synchronously")

	got, ok := r.Balancer("orders")
	require.True(t, ok)
	assert.Same(t, b, got)

	_, ok = r.Balancer("missing")
	assert.False(t, ok)

	generated, err := r.Create("", strategy.NewRoundRobin(), discovery.NewStaticDiscoverer(nil))
	require.NoError(t, err)
	assert.NotEmpty(t, generated.ID())
	assert.True(t, generated.HasDiscoverer())
}

func TestRegistryRejectsDuplicateIdentifier(t *testing.T) {
	t.Parallel()

	r := newRegistry(t, quietConfig(), WithChecker(&countingChecker{}))

	_, err := r.CreateStatic("orders", strategy.NewRoundRobin(), nil)
	require.NoError(t, err)

	_, err = r.Create("orders", strategy.NewRoundRobin(), discovery.NewStaticDiscoverer(nil))
	require.Error(t, err)
	assert.ErrorIs(t, err, lberrors.ErrDuplicateIdentifier)
	assert.Len(t, r.Balancers(), 1)
}

func TestRegistryBalancersSorted(t *testing.T) {
	t.Parallel()

	r := newRegistry(t, quietConfig(), WithChecker(&countingChecker{}))
	for _, id := range []string{"c", "a", "b"} {
		_, err := r.CreateStatic(id, strategy.NewRoundRobin(), nil)
		require.NoError(t, err)
	}

	var ids []string
	for _, b := range r.Balancers() {
		ids = append(ids, b.ID())
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)
}

func TestRegistryEnableDisableNodes(t *testing.T) {
	t.Parallel()

	r := newRegistry(t, quietConfig(), WithChecker(&countingChecker{}))
	b, err := r.CreateStatic("orders", strategy.NewRoundRobin(), []*domain.Node{node(t, "http://a"), node(t, "http://b")})
	require.NoError(t, err)

	assert.Equal(t, 1, r.DisableNodes("orders", domain.ByConnection("http://a")))
	assert.False(t, b.Nodes()[0].IsEnabled())
	assert.True(t, b.Nodes()[1].IsEnabled())

	assert.Equal(t, 0, r.DisableNodes("missing", nil))
	assert.Equal(t, 2, r.EnableNodes("orders", nil))
	assert.True(t, b.Nodes()[0].IsEnabled())
}

func TestRegistryLoopsRunPeriodically(t *testing.T) {
	t.Parallel()

	checker := &countingChecker{}
	config := quietConfig()
	config.CheckPeriod = 10 * time.Millisecond
	r := newRegistry(t, config, WithChecker(checker))

	_, err := r.CreateStatic("orders", strategy.NewRoundRobin(), []*domain.Node{node(t, "http://a")})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return checker.calls.Load() >= 5
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRegistryDisabledLoops(t *testing.T) {
	t.Parallel()

	checker := &countingChecker{}
	r := newRegistry(t, quietConfig(), WithChecker(checker))

	_, err := r.CreateStatic("orders", strategy.NewRoundRobin(), []*domain.Node{node(t, "http://a")})
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int64(1), checker.calls.Load())
}

func TestRegistryDiscoverLoop(t *testing.T) {
	t.Parallel()

	config := quietConfig()
	config.DiscoverPeriod = 10 * time.Millisecond
	r := newRegistry(t, config, WithChecker(&countingChecker{}))

	discoverer := script(
		discoverResult{err: domain.ErrNoChange},
		discoverResult{nodes: []*domain.Node{node(t, "http://late")}},
	)
	b, err := r.Create("orders", strategy.NewRoundRobin(), discoverer)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		n := b.GetBalanced(nil)
		return n != nil && n.String() == "http://late"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRunSafelyIsolatesPanics(t *testing.T) {
	t.Parallel()

	r := newRegistry(t, quietConfig(), WithChecker(&countingChecker{}))
	b, err := r.CreateStatic("orders", strategy.NewRoundRobin(), nil)
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		r.runSafely(r.logger, b, func(context.Context, *Balancer) {
			panic("cycle exploded")
		})
	})
}

func TestRegistryDestroy(t *testing.T) {
	t.Parallel()

	config := quietConfig()
	config.CheckPeriod = 5 * time.Millisecond
	config.DiscoverPeriod = 5 * time.Millisecond
	r, err := NewRegistry(config, logger.Discard(), WithChecker(&countingChecker{}))
	require.NoError(t, err)

	start := time.Now()
	r.Destroy()
	r.Destroy()
	assert.Less(t, time.Since(start), config.ShutdownTimeout)
	assert.True(t, r.client.Closed())

	_, err = r.CreateStatic("late", strategy.NewRoundRobin(), nil)
	assert.Error(t, err)
}

// TestRegistryEndToEnd tests that a failing node is never selected while a healthy one is
func TestRegistryEndToEnd(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	dead := "http://" + ln.Addr().String()
	ln.Close()

	config := quietConfig()
	config.CheckPeriod = 20 * time.Millisecond
	config.ConnectionTimeout = 200 * time.Millisecond
	config.ExecutionTimeout = 500 * time.Millisecond
	r := newRegistry(t, config)

	healthy, err := domain.ParseNode(server.URL, "", nil)
	require.NoError(t, err)
	failing, err := domain.ParseNode(dead, "", nil)
	require.NoError(t, err)

	b, err := r.CreateStatic("web", strategy.NewRoundRobin(), []*domain.Node{failing, healthy})
	require.NoError(t, err)

	require.Eventually(t, healthy.IsActive, 2*time.Second, 10*time.Millisecond)

	for i := 0; i < 10; i++ {
		selected := b.GetBalanced(nil)
		require.NotNil(t, selected)
		assert.Same(t, healthy, selected)
	}

	assert.False(t, failing.IsAlive())
	assert.Contains(t, failing.CheckStatus(), "ConnectionRefused")
}
