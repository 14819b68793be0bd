package discovery

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mir00r/nodebalancer/internal/domain"
	lberrors "github.com/mir00r/nodebalancer/internal/errors"
	"github.com/mir00r/nodebalancer/pkg/logger"
)

const twoNodes = `
nodes:
  - connection: http://10.0.0.1:8080
    status: http://10.0.0.1:8080/health
    labels:
      zone: eu-1
  - connection: tcp://10.0.0.2:5432
`

func staticSource(text string, err error) SourceFunc {
	return func(context.Context, string) (string, error) {
		return text, err
	}
}

func TestStaticDiscoverer(t *testing.T) {
	t.Parallel()

	node, err := domain.ParseNode("http://a", "", nil)
	require.NoError(t, err)

	input := []*domain.Node{node}
	d := NewStaticDiscoverer(input)
	input[0] = nil

	nodes, err := d.Discover(context.Background(), "any")
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Same(t, node, nodes[0])

	nodes, err = NewStaticDiscoverer(nil).Discover(context.Background(), "any")
	require.NoError(t, err)
	assert.NotNil(t, nodes)
	assert.Empty(t, nodes)
}

func TestYAMLDiscoverer(t *testing.T) {
	t.Parallel()

	sourceErr := errors.New("source down")

	tests := []struct {
		name      string
		source    SourceFunc
		wantNodes int
		wantErr   error
	}{
		{"document", staticSource(twoNodes, nil), 2, nil},
		{"empty text", staticSource("  \n", nil), 0, domain.ErrNoChange},
		{"no nodes key", staticSource("other: 1\n", nil), 0, nil},
		{"empty nodes", staticSource("nodes: []\n", nil), 0, nil},
		{"invalid yaml", staticSource("nodes: [", nil), 0, lberrors.ErrDiscoveryFailed},
		{"invalid uri", staticSource("nodes:\n  - connection: 'http://[::1'\n", nil), 0, lberrors.ErrDiscoveryFailed},
		{"source no change", staticSource("", domain.ErrNoChange), 0, domain.ErrNoChange},
		{"source fault", staticSource("", sourceErr), 0, lberrors.ErrDiscoveryFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := NewYAMLDiscoverer(tt.source, 2, logger.Discard())
			require.NoError(t, err)

			nodes, err := d.Discover(context.Background(), "orders")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, nodes)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, nodes)
			assert.Len(t, nodes, tt.wantNodes)
			for _, n := range nodes {
				assert.Equal(t, 2, n.StateBarrier())
			}
		})
	}
}

func TestYAMLDiscovererRejectsBadConfiguration(t *testing.T) {
	t.Parallel()

	_, err := NewYAMLDiscoverer(nil, 3, logger.Discard())
	assert.ErrorIs(t, err, lberrors.ErrInvalidConfiguration)

	_, err = NewYAMLDiscoverer(staticSource("", nil), 0, logger.Discard())
	assert.ErrorIs(t, err, lberrors.ErrInvalidConfiguration)
}

type mapStore map[string]string

func (m mapStore) Get(id string) (string, bool) {
	v, ok := m[id]
	return v, ok
}

func TestRepositorySource(t *testing.T) {
	t.Parallel()

	d, err := NewYAMLDiscoverer(RepositorySource(mapStore{"orders": twoNodes}), 3, logger.Discard())
	require.NoError(t, err)

	nodes, err := d.Discover(context.Background(), "orders")
	require.NoError(t, err)
	assert.Len(t, nodes, 2)

	_, err = d.Discover(context.Background(), "unknown")
	assert.ErrorIs(t, err, domain.ErrNoChange)
}

func TestFileDiscoverer(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "nodes")
	d, err := NewFileDiscoverer(dir, 3, logger.Discard())
	require.NoError(t, err)

	info, err := os.Stat(dir)
	require.NoError(t, err, "directory is created")
	assert.True(t, info.IsDir())

	ctx := context.Background()

	_, err = d.Discover(ctx, "orders")
	assert.ErrorIs(t, err, domain.ErrNoChange, "missing file")

	path := d.Path("orders")
	require.NoError(t, os.WriteFile(path, []byte(twoNodes), 0o644))
	past := time.Now().Add(-time.Minute)
	require.NoError(t, os.Chtimes(path, past, past))

	nodes, err := d.Discover(ctx, "orders")
	require.NoError(t, err)
	assert.Len(t, nodes, 2)

	_, err = d.Discover(ctx, "orders")
	assert.ErrorIs(t, err, domain.ErrNoChange, "unchanged file")

	require.NoError(t, os.WriteFile(path, []byte("nodes: []\n"), 0o644))
	require.NoError(t, os.Chtimes(path, time.Now(), time.Now()))

	nodes, err = d.Discover(ctx, "orders")
	require.NoError(t, err)
	assert.Empty(t, nodes, "touched file is reloaded")

	require.NoError(t, os.WriteFile(path, []byte(twoNodes), 0o644))
	older := past.Add(-time.Hour)
	require.NoError(t, os.Chtimes(path, older, older))

	nodes, err = d.Discover(ctx, "orders")
	require.NoError(t, err)
	assert.Len(t, nodes, 2, "a file restored with an older timestamp is reloaded")
}

func TestFileDiscovererTracksEachBalancer(t *testing.T) {
	t.Parallel()

	d, err := NewFileDiscoverer(t.TempDir(), 3, logger.Discard())
	require.NoError(t, err)

	stamp := time.Now().Add(-time.Hour)
	for _, id := range []string{"a", "b"} {
		require.NoError(t, os.WriteFile(d.Path(id), []byte(twoNodes), 0o644))
		require.NoError(t, os.Chtimes(d.Path(id), stamp, stamp))
	}

	ctx := context.Background()
	_, err = d.Discover(ctx, "a")
	require.NoError(t, err)

	nodes, err := d.Discover(ctx, "b")
	require.NoError(t, err, "loading a does not hide b")
	assert.Len(t, nodes, 2)
}

func TestFileDiscovererEdgeCases(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	file := filepath.Join(dir, "plain")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	_, err := NewFileDiscoverer(file, 3, logger.Discard())
	assert.ErrorIs(t, err, lberrors.ErrInvalidConfiguration, "path is a file")

	d, err := NewFileDiscoverer(dir, 3, logger.Discard())
	require.NoError(t, err)

	require.NoError(t, os.Mkdir(d.Path("dir"), 0o755))
	_, err = d.Discover(context.Background(), "dir")
	assert.ErrorIs(t, err, domain.ErrNoChange)

	_, err = d.Discover(context.Background(), "../escape")
	assert.ErrorIs(t, err, lberrors.ErrDiscoveryFailed)

	require.NoError(t, os.WriteFile(d.Path("broken"), []byte("nodes: ["), 0o644))
	_, err = d.Discover(context.Background(), "broken")
	assert.ErrorIs(t, err, lberrors.ErrDiscoveryFailed)
	_, err = d.Discover(context.Background(), "broken")
	assert.ErrorIs(t, err, lberrors.ErrDiscoveryFailed, "failed parse is retried")
}

func TestHTTPProvider(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/nodes/orders.yml":
			w.Write([]byte(twoNodes))
		case "/nodes/broken.yml":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	provider, err := NewHTTPProvider(server.URL+"/nodes/", time.Second, logger.Discard())
	require.NoError(t, err)

	d, err := provider.Discoverer(3, logger.Discard())
	require.NoError(t, err)
	ctx := context.Background()

	nodes, err := d.Discover(ctx, "orders")
	require.NoError(t, err)
	assert.Len(t, nodes, 2)

	_, err = d.Discover(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNoChange)

	_, err = d.Discover(ctx, "broken")
	assert.ErrorIs(t, err, lberrors.ErrDiscoveryFailed)

	_, err = NewHTTPProvider("", time.Second, logger.Discard())
	assert.ErrorIs(t, err, lberrors.ErrInvalidConfiguration)
}

func TestHTTPProviderCircuitBreaker(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	provider, err := NewHTTPProvider(server.URL, time.Second, logger.Discard())
	require.NoError(t, err)

	for i := 0; i < breakerFailures; i++ {
		_, err := provider.Source(context.Background(), "orders")
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, provider.BreakerState())

	_, err = provider.Source(context.Background(), "orders")
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(breakerFailures), calls.Load(), "an open breaker does not reach the endpoint")
}
