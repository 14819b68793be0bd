package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mir00r/nodebalancer/internal/balancer"
	"github.com/mir00r/nodebalancer/internal/config"
	"github.com/mir00r/nodebalancer/internal/domain"
	"github.com/mir00r/nodebalancer/internal/handler"
	"github.com/mir00r/nodebalancer/internal/middleware"
	"github.com/mir00r/nodebalancer/internal/repository"
	"github.com/mir00r/nodebalancer/pkg/logger"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Balancer.CheckPeriod = 0
	cfg.Balancer.DiscoverPeriod = 0
	cfg.Balancer.ShutdownTimeout = time.Second
	cfg.Discovery.NodeDirectory = t.TempDir()
	return cfg
}

func newRegistry(t *testing.T, cfg *config.Config) *balancer.Registry {
	t.Helper()
	registry, err := balancer.NewRegistry(cfg.ToRegistryConfig(), logger.Discard())
	require.NoError(t, err)
	t.Cleanup(registry.Destroy)
	return registry
}

func TestCreateBalancers(t *testing.T) {
	t.Parallel()

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	t.Cleanup(backend.Close)

	cfg := testConfig(t)
	cfg.Balancers = []config.BalancerDefinition{
		{ID: "static", Nodes: []domain.NodeDefinition{{Connection: backend.URL}}},
		{ID: "files", Discovery: config.DiscoveryFile, Nodes: []domain.NodeDefinition{{Connection: backend.URL}}},
		{ID: "stored", Discovery: config.DiscoveryRepository, Nodes: []domain.NodeDefinition{
			{Connection: "http://10.0.0.1:8080", Labels: map[string]string{"zone": "a"}},
		}},
	}
	require.NoError(t, cfg.Validate())

	registry := newRegistry(t, cfg)
	store := repository.NewInMemoryNodeDefinitionRepository()
	require.NoError(t, createBalancers(cfg, registry, store, logger.Discard()))

	require.Len(t, registry.Balancers(), 3)

	static, ok := registry.Balancer("static")
	require.True(t, ok)
	assert.False(t, static.HasDiscoverer())
	require.Len(t, static.Nodes(), 1)
	assert.True(t, static.Nodes()[0].IsActive(), "static nodes are probed on creation")

	files, ok := registry.Balancer("files")
	require.True(t, ok)
	assert.True(t, files.HasDiscoverer())
	assert.Len(t, files.Nodes(), 1, "a missing node file keeps the configured nodes")

	stored, ok := registry.Balancer("stored")
	require.True(t, ok)
	document, ok := store.Get("stored")
	require.True(t, ok)
	assert.Contains(t, document, "http://10.0.0.1:8080")
	require.Len(t, stored.Nodes(), 1)
	assert.Equal(t, map[string]string{"zone": "a"}, stored.Nodes()[0].Labels())
}

func TestCreateBalancersRejectsDuplicates(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Balancers = []config.BalancerDefinition{{ID: "a"}}

	registry := newRegistry(t, cfg)
	store := repository.NewInMemoryNodeDefinitionRepository()
	require.NoError(t, createBalancers(cfg, registry, store, logger.Discard()))
	assert.Error(t, createBalancers(cfg, registry, store, logger.Discard()))
}

func TestProxyHandlerRoutes(t *testing.T) {
	t.Parallel()

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("proxied"))
	}))
	t.Cleanup(backend.Close)

	cfg := testConfig(t)
	cfg.Balancers = []config.BalancerDefinition{
		{ID: "web", Nodes: []domain.NodeDefinition{{Connection: backend.URL}}},
	}
	registry := newRegistry(t, cfg)
	require.NoError(t, createBalancers(cfg, registry, repository.NewInMemoryNodeDefinitionRepository(), logger.Discard()))

	h := newProxyHandler(cfg, registry, logger.Discard())

	req := httptest.NewRequest(http.MethodGet, "/anything", nil)
	req.Header.Set(handler.BalancerIDHeader, "web")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "proxied", rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(middleware.RequestIDHeader))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"balancers":1`)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "nodebalancer_balancers 1")
}

func TestProxyHandlerRateLimit(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.RateLimit = config.RateLimitConfig{Enabled: true, RequestsPerSecond: 0.001, BurstSize: 1}
	h := newProxyHandler(cfg, newRegistry(t, cfg), logger.Discard())

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestAdminHandlerRequiresToken(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Admin.JWTSecret = "secret"
	registry := newRegistry(t, cfg)

	h, err := newAdminHandler(cfg, registry, repository.NewInMemoryNodeDefinitionRepository(), logger.Discard())
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/balancer/find-all", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	token, err := middleware.IssueToken(cfg.ToJWTConfig(), "operator", nil, time.Minute)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/balancer/find-all", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestAdminHandlerWithoutSecret(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	h, err := newAdminHandler(cfg, newRegistry(t, cfg), repository.NewInMemoryNodeDefinitionRepository(), logger.Discard())
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/node/find-all", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminCommands(t *testing.T) {
	t.Setenv("NB_CONFIG_FILE", "")
	t.Setenv("NB_JWT_SECRET", "secret")

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	t.Cleanup(backend.Close)

	path := filepath.Join(t.TempDir(), "nodes.yml")
	document := "nodes:\n  - connection: " + backend.URL + "\n  - connection: http://127.0.0.1:1\n"
	require.NoError(t, os.WriteFile(path, []byte(document), 0o644))

	var out bytes.Buffer
	require.NoError(t, adminCommand(&out, []string{"check", path}))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[1], "healthy (alive=true active=true)")
	assert.Contains(t, lines[2], "unhealthy (alive=false active=false): ConnectionRefused")

	out.Reset()
	require.NoError(t, adminCommand(&out, []string{"validate-config"}))
	assert.Contains(t, out.String(), "Configuration validation passed")

	out.Reset()
	require.NoError(t, adminCommand(&out, []string{"token", "operator", "1h"}))
	token := strings.TrimSpace(out.String())
	assert.Len(t, strings.Split(token, "."), 3)

	assert.Error(t, adminCommand(&out, nil))
	assert.Error(t, adminCommand(&out, []string{"check"}))
	assert.Error(t, adminCommand(&out, []string{"token", "operator", "soon"}))
	assert.Error(t, adminCommand(&out, []string{"unknown"}))
}
