package main

import (
	"net/http"

	"github.com/gorilla/mux"
	"gopkg.in/yaml.v2"

	"github.com/mir00r/nodebalancer/internal/balancer"
	"github.com/mir00r/nodebalancer/internal/config"
	"github.com/mir00r/nodebalancer/internal/discovery"
	"github.com/mir00r/nodebalancer/internal/domain"
	"github.com/mir00r/nodebalancer/internal/handler"
	"github.com/mir00r/nodebalancer/internal/middleware"
	"github.com/mir00r/nodebalancer/internal/repository"
	"github.com/mir00r/nodebalancer/internal/strategy"
	"github.com/mir00r/nodebalancer/pkg/logger"
)

const version = "1.0.0"

// discoverers builds discovery sources on first use so that unused kinds
// need no configuration
type discoverers struct {
	cfg   *config.Config
	store *repository.InMemoryNodeDefinitionRepository
	log   *logger.Logger

	file *discovery.FileDiscoverer
	http *discovery.YAMLDiscoverer
	repo *discovery.YAMLDiscoverer
}

func (d *discoverers) get(kind string) (domain.Discoverer, error) {
	barrier := d.cfg.Balancer.StateBarrier

	switch kind {
	case config.DiscoveryFile:
		if d.file == nil {
			fd, err := discovery.NewFileDiscoverer(d.cfg.Discovery.NodeDirectory, barrier, d.log)
			if err != nil {
				return nil, err
			}
			d.file = fd
		}
		return d.file, nil
	case config.DiscoveryHTTP:
		if d.http == nil {
			provider, err := discovery.NewHTTPProvider(d.cfg.Discovery.HTTPEndpoint, d.cfg.Discovery.HTTPTimeout, d.log)
			if err != nil {
				return nil, err
			}
			if d.http, err = provider.Discoverer(barrier, d.log); err != nil {
				return nil, err
			}
		}
		return d.http, nil
	case config.DiscoveryRepository:
		if d.repo == nil {
			yd, err := discovery.NewYAMLDiscoverer(discovery.RepositorySource(d.store), barrier, d.log)
			if err != nil {
				return nil, err
			}
			d.repo = yd
		}
		return d.repo, nil
	default:
		return nil, nil
	}
}

// createBalancers registers every configured balancer. Repository backed
// balancers are seeded with their configured nodes.
func createBalancers(cfg *config.Config, registry *balancer.Registry, store *repository.InMemoryNodeDefinitionRepository, log *logger.Logger) error {
	sources := &discoverers{cfg: cfg, store: store, log: log}

	for _, def := range cfg.Balancers {
		strat, err := strategy.ByName(def.Strategy)
		if err != nil {
			return err
		}

		doc := domain.NodeDocument{Nodes: def.Nodes}
		nodes, err := doc.Build(domain.WithStateBarrier(cfg.Balancer.StateBarrier))
		if err != nil {
			return err
		}

		if def.Discovery == config.DiscoveryRepository && len(def.Nodes) > 0 {
			if _, stored := store.Get(def.ID); !stored {
				data, err := yaml.Marshal(doc)
				if err != nil {
					return err
				}
				if _, err := store.Save(def.ID, string(data)); err != nil {
					return err
				}
			}
		}

		discoverer, err := sources.get(def.Discovery)
		if err != nil {
			return err
		}

		if _, err := registry.Register(balancer.BalancerConfig{
			ID:         def.ID,
			Strategy:   strat,
			Discoverer: discoverer,
			Nodes:      nodes,
		}); err != nil {
			return err
		}

		log.WithFields(map[string]interface{}{
			"balancer_id": def.ID,
			"discovery":   def.Discovery,
			"nodes":       len(nodes),
		}).Info("Configured balancer")
	}
	return nil
}

// newProxyHandler builds the handler of the main server: requests carrying
// X-Balancer-Id are proxied, the rest reach health and metrics routes
func newProxyHandler(cfg *config.Config, registry *balancer.Registry, log *logger.Logger) http.Handler {
	healthHandler := handler.NewHealthHandler(registry, version)
	metricsHandler := handler.NewMetricsHandler(registry, log)

	router := mux.NewRouter()
	router.HandleFunc("/health/live", healthHandler.LivenessHandler).Methods(http.MethodGet)
	router.HandleFunc("/health/ready", healthHandler.ReadinessHandler).Methods(http.MethodGet)
	router.Handle("/metrics", metricsHandler).Methods(http.MethodGet)

	var h http.Handler = handler.NewBalancingHandler(registry, router, cfg.Server.ProxyTimeout, log)

	if cfg.RateLimit.Enabled {
		h = middleware.NewRateLimiter(cfg.ToRateLimitConfig(), log).RateLimitMiddleware()(h)
		log.Info("Rate limiting enabled")
	}

	return chain(h,
		middleware.RecoveryMiddleware(log),
		middleware.LoggingMiddleware(log),
	)
}

// newAdminHandler builds the admin API, guarded by JWT when a secret is set
func newAdminHandler(cfg *config.Config, registry *balancer.Registry, store *repository.InMemoryNodeDefinitionRepository, log *logger.Logger) (http.Handler, error) {
	router := mux.NewRouter()
	handler.NewAdminHandler(registry, store, cfg.Balancer.StateBarrier, log).RegisterRoutes(router)

	var h http.Handler = router
	if cfg.Admin.JWTSecret != "" {
		auth, err := middleware.NewJWTAuthMiddleware(cfg.ToJWTConfig(), log)
		if err != nil {
			return nil, err
		}
		h = auth.JWTAuth()(h)
	} else {
		log.Warn("Admin API is not protected: no JWT secret configured")
	}

	return chain(h,
		middleware.RecoveryMiddleware(log),
		middleware.LoggingMiddleware(log),
		middleware.CORSMiddleware(),
		middleware.SecurityHeadersMiddleware(),
	), nil
}

// chain wraps h so that the first middleware runs first
func chain(h http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}
