package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mir00r/nodebalancer/internal/balancer"
	"github.com/mir00r/nodebalancer/internal/config"
	"github.com/mir00r/nodebalancer/internal/repository"
	"github.com/mir00r/nodebalancer/pkg/logger"
)

const shutdownTimeout = 30 * time.Second

// getConfigSource returns the configuration source for logging
func getConfigSource() string {
	path := os.Getenv("NB_CONFIG_FILE")
	if path == "" {
		path = config.DefaultConfigFile
	}
	if _, err := os.Stat(path); err == nil {
		return "file+env"
	}
	return "env"
}

// getPort lets a platform provided PORT override the configured port
func getPort(defaultPort int) int {
	if portStr := os.Getenv("PORT"); portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil && port > 0 && port <= 65535 {
			return port
		}
	}
	return defaultPort
}

func main() {
	if checkIfAdminMode() {
		runAdminProcess()
		return
	}

	cfg, err := config.LoadConfig("")
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.ToLoggerConfig())
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.WithFields(map[string]interface{}{
		"version":       version,
		"config_source": getConfigSource(),
		"balancers":     len(cfg.Balancers),
		"check_period":  cfg.Balancer.CheckPeriod.String(),
		"state_barrier": cfg.Balancer.StateBarrier,
		"pid":           os.Getpid(),
	}).Info("Starting NodeBalancer")

	registry, err := balancer.NewRegistry(cfg.ToRegistryConfig(), log)
	if err != nil {
		log.WithError(err).Fatal("Failed to create registry")
	}

	store := repository.NewInMemoryNodeDefinitionRepository()
	if err := createBalancers(cfg, registry, store, log); err != nil {
		registry.Destroy()
		log.WithError(err).Fatal("Failed to create balancers")
	}

	servers := []*http.Server{{
		Addr:         fmt.Sprintf(":%d", getPort(cfg.Server.Port)),
		Handler:      newProxyHandler(cfg, registry, log),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}}

	if cfg.Admin.Enabled {
		adminHandler, err := newAdminHandler(cfg, registry, store, log)
		if err != nil {
			registry.Destroy()
			log.WithError(err).Fatal("Failed to create admin API")
		}
		servers = append(servers, &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Admin.Port),
			Handler:      adminHandler,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  cfg.Server.IdleTimeout,
		})
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	for _, server := range servers {
		server := server
		g.Go(func() error {
			log.WithField("addr", server.Addr).Info("Starting HTTP server")
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server %s: %w", server.Addr, err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down HTTP servers")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()

		for _, server := range servers {
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.WithError(err).WithField("addr", server.Addr).Error("Error shutting down HTTP server")
			}
		}
		return nil
	})

	// A listener failure cancels gctx, which shuts the remaining servers down
	if err := g.Wait(); err != nil {
		log.WithError(err).Error("HTTP server failed")
	}

	registry.Destroy()

	log.Info("NodeBalancer stopped gracefully")
}
