package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/mir00r/nodebalancer/internal/balancer"
	"github.com/mir00r/nodebalancer/internal/domain"
	lberrors "github.com/mir00r/nodebalancer/internal/errors"
	"github.com/mir00r/nodebalancer/internal/middleware"
	"github.com/mir00r/nodebalancer/internal/strategy"
	"github.com/mir00r/nodebalancer/pkg/logger"
)

// Discovery kinds of a configured balancer
const (
	DiscoveryStatic     = "static"
	DiscoveryFile       = "file"
	DiscoveryHTTP       = "http"
	DiscoveryRepository = "repository"
)

// Config represents the main configuration structure
type Config struct {
	Server    ServerConfig         `yaml:"server"`
	Admin     AdminConfig          `yaml:"admin"`
	Balancer  BalancerConfig       `yaml:"balancer"`
	Discovery DiscoveryConfig      `yaml:"discovery"`
	Balancers []BalancerDefinition `yaml:"balancers"`
	RateLimit RateLimitConfig      `yaml:"rate_limit"`
	Logging   LoggingConfig        `yaml:"logging"`
}

// ServerConfig contains the proxy HTTP server configuration
type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	ProxyTimeout time.Duration `yaml:"proxy_timeout"`
}

// AdminConfig contains admin API configuration
type AdminConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Port      int    `yaml:"port"`
	JWTSecret string `yaml:"jwt_secret"`
	JWTIssuer string `yaml:"jwt_issuer"`
}

// BalancerConfig contains the registry scheduling and probing settings
type BalancerConfig struct {
	CheckPeriod       time.Duration `yaml:"check_period"`
	DiscoverPeriod    time.Duration `yaml:"discover_period"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
	ExecutionTimeout  time.Duration `yaml:"execution_timeout"`
	StateBarrier      int           `yaml:"state_barrier"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	ProxyURL          string        `yaml:"proxy_url"`
}

// DiscoveryConfig contains the sources used by discovering balancers
type DiscoveryConfig struct {
	NodeDirectory string        `yaml:"node_directory"`
	HTTPEndpoint  string        `yaml:"http_endpoint"`
	HTTPTimeout   time.Duration `yaml:"http_timeout"`
}

// BalancerDefinition declares a balancer created at startup
type BalancerDefinition struct {
	ID        string                  `yaml:"id"`
	Strategy  string                  `yaml:"strategy"`
	Discovery string                  `yaml:"discovery"`
	Nodes     []domain.NodeDefinition `yaml:"nodes"`
}

// RateLimitConfig contains per-client rate limiting of proxied requests
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	File   string `yaml:"file"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	registry := balancer.DefaultConfig()
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
			ProxyTimeout: 30 * time.Second,
		},
		Admin: AdminConfig{
			Enabled:   true,
			Port:      8081,
			JWTIssuer: "nodebalancer",
		},
		Balancer: BalancerConfig{
			CheckPeriod:       registry.CheckPeriod,
			DiscoverPeriod:    registry.DiscoverPeriod,
			ConnectionTimeout: registry.ConnectionTimeout,
			ExecutionTimeout:  registry.ExecutionTimeout,
			StateBarrier:      registry.StateBarrier,
			ShutdownTimeout:   registry.ShutdownTimeout,
		},
		Discovery: DiscoveryConfig{
			NodeDirectory: "nodes",
			HTTPTimeout:   5 * time.Second,
		},
		RateLimit: RateLimitConfig{
			Enabled:           false,
			RequestsPerSecond: 100,
			BurstSize:         200,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// LoadFromFile loads configuration from a YAML file over the defaults
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, lberrors.WrapError(err, lberrors.ErrCodeInvalidConfiguration, "config",
			fmt.Sprintf("failed to read config file %s", filename))
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, lberrors.WrapError(err, lberrors.ErrCodeInvalidConfiguration, "config",
			fmt.Sprintf("failed to parse config file %s", filename))
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate validates the configuration for correctness
func (c *Config) Validate() error {
	if err := validatePort("server.port", c.Server.Port); err != nil {
		return err
	}
	if c.Server.ProxyTimeout <= 0 {
		return invalid("server.proxy_timeout must be positive: %v", c.Server.ProxyTimeout)
	}

	if c.Admin.Enabled {
		if err := validatePort("admin.port", c.Admin.Port); err != nil {
			return err
		}
		if c.Admin.Port == c.Server.Port {
			return invalid("admin.port must differ from server.port (%d)", c.Server.Port)
		}
	}

	if c.Balancer.StateBarrier < 1 {
		return invalid("balancer.state_barrier must be at least 1, got %d", c.Balancer.StateBarrier)
	}
	if c.Balancer.ConnectionTimeout <= 0 {
		return invalid("balancer.connection_timeout must be positive")
	}
	if c.Balancer.ExecutionTimeout <= 0 {
		return invalid("balancer.execution_timeout must be positive")
	}
	if c.Balancer.ShutdownTimeout <= 0 {
		return invalid("balancer.shutdown_timeout must be positive")
	}

	ids := make(map[string]bool)
	for i, def := range c.Balancers {
		if def.ID == "" {
			return invalid("balancers[%d]: id cannot be empty", i)
		}
		if ids[def.ID] {
			return invalid("balancers[%d]: duplicate id '%s'", i, def.ID)
		}
		ids[def.ID] = true

		if _, err := strategy.ByName(def.Strategy); err != nil {
			return lberrors.WrapError(err, lberrors.ErrCodeInvalidConfiguration, "config",
				fmt.Sprintf("balancers[%d]: unsupported strategy '%s'", i, def.Strategy))
		}

		switch def.Discovery {
		case "", DiscoveryStatic, DiscoveryRepository:
		case DiscoveryFile:
			if c.Discovery.NodeDirectory == "" {
				return invalid("balancers[%d]: file discovery requires discovery.node_directory", i)
			}
		case DiscoveryHTTP:
			if c.Discovery.HTTPEndpoint == "" {
				return invalid("balancers[%d]: http discovery requires discovery.http_endpoint", i)
			}
		default:
			return invalid("balancers[%d]: unsupported discovery '%s'", i, def.Discovery)
		}

		if _, err := (domain.NodeDocument{Nodes: def.Nodes}).Build(); err != nil {
			return lberrors.WrapError(err, lberrors.ErrCodeInvalidConfiguration, "config",
				fmt.Sprintf("balancers[%d]: invalid node", i))
		}
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.RequestsPerSecond <= 0 {
			return invalid("rate_limit.requests_per_second must be positive")
		}
		if c.RateLimit.BurstSize <= 0 {
			return invalid("rate_limit.burst_size must be positive")
		}
	}

	validLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLevels[c.Logging.Level] {
		return invalid("invalid log level: %s", c.Logging.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return invalid("invalid log format: %s", c.Logging.Format)
	}

	validOutputs := map[string]bool{"stdout": true, "stderr": true, "file": true}
	if !validOutputs[c.Logging.Output] {
		return invalid("invalid log output: %s", c.Logging.Output)
	}
	if c.Logging.Output == "file" && c.Logging.File == "" {
		return invalid("logging.file is required when output is file")
	}

	return nil
}

// ToRegistryConfig converts to the registry configuration
func (c *Config) ToRegistryConfig() balancer.Config {
	return balancer.Config{
		CheckPeriod:       c.Balancer.CheckPeriod,
		DiscoverPeriod:    c.Balancer.DiscoverPeriod,
		ConnectionTimeout: c.Balancer.ConnectionTimeout,
		ExecutionTimeout:  c.Balancer.ExecutionTimeout,
		StateBarrier:      c.Balancer.StateBarrier,
		ShutdownTimeout:   c.Balancer.ShutdownTimeout,
		ProxyURL:          c.Balancer.ProxyURL,
	}
}

// ToLoggerConfig converts to the logger configuration
func (c *Config) ToLoggerConfig() logger.Config {
	return logger.Config{
		Level:  c.Logging.Level,
		Format: c.Logging.Format,
		Output: c.Logging.Output,
		File:   c.Logging.File,
	}
}

// ToRateLimitConfig converts to the rate limiter configuration
func (c *Config) ToRateLimitConfig() middleware.RateLimitConfig {
	return middleware.RateLimitConfig{
		RequestsPerSecond: c.RateLimit.RequestsPerSecond,
		BurstSize:         c.RateLimit.BurstSize,
	}
}

// ToJWTConfig converts to the admin JWT configuration
func (c *Config) ToJWTConfig() middleware.JWTAuthConfig {
	return middleware.JWTAuthConfig{
		SecretKey: c.Admin.JWTSecret,
		Issuer:    c.Admin.JWTIssuer,
		ClockSkew: 30 * time.Second,
	}
}

func validatePort(name string, port int) error {
	if port <= 0 || port > 65535 {
		return invalid("invalid %s: %d", name, port)
	}
	return nil
}

func invalid(format string, args ...interface{}) error {
	return lberrors.NewInvalidConfigurationError("config", fmt.Sprintf(format, args...))
}
