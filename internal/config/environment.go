package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/mir00r/nodebalancer/internal/domain"
	lberrors "github.com/mir00r/nodebalancer/internal/errors"
)

const (
	// DefaultConfigFile is read by LoadConfig when no path is given and
	// NB_CONFIG_FILE is unset
	DefaultConfigFile = "config.yaml"

	// DefaultEnvFile is loaded into the environment when present and
	// NB_ENV_FILE is unset
	DefaultEnvFile = ".env"
)

// LoadConfig loads configuration with priority: env vars > config file > defaults.
// Variables from the env file never replace variables already set.
// An empty path falls back to NB_CONFIG_FILE, then to DefaultConfigFile when
// that file exists.
func LoadConfig(path string) (*Config, error) {
	if err := loadEnvFile(); err != nil {
		return nil, err
	}

	explicit := path != ""
	if !explicit {
		path = getEnv("NB_CONFIG_FILE", DefaultConfigFile)
		explicit = os.Getenv("NB_CONFIG_FILE") != ""
	}

	config := DefaultConfig()
	if _, err := os.Stat(path); err == nil || explicit {
		loaded, err := LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		config = loaded
	}

	ApplyEnvironment(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func loadEnvFile() error {
	path := os.Getenv("NB_ENV_FILE")
	explicit := path != ""
	if !explicit {
		path = DefaultEnvFile
	}
	if _, err := os.Stat(path); err != nil && !explicit {
		return nil
	}

	if err := godotenv.Load(path); err != nil {
		return lberrors.WrapError(err, lberrors.ErrCodeInvalidConfiguration, "config", "failed to load env file "+path)
	}
	return nil
}

// ApplyEnvironment overrides config with the NB_* environment variables that
// are set. Values that fail to parse are ignored.
func ApplyEnvironment(config *Config) {
	// Server
	setInt("NB_PORT", &config.Server.Port)
	setDuration("NB_READ_TIMEOUT", &config.Server.ReadTimeout)
	setDuration("NB_WRITE_TIMEOUT", &config.Server.WriteTimeout)
	setDuration("NB_PROXY_TIMEOUT", &config.Server.ProxyTimeout)

	// Admin
	setBool("NB_ADMIN_ENABLED", &config.Admin.Enabled)
	setInt("NB_ADMIN_PORT", &config.Admin.Port)
	setString("NB_JWT_SECRET", &config.Admin.JWTSecret)
	setString("NB_JWT_ISSUER", &config.Admin.JWTIssuer)

	// Registry
	setDuration("NB_CHECK_PERIOD", &config.Balancer.CheckPeriod)
	setDuration("NB_DISCOVER_PERIOD", &config.Balancer.DiscoverPeriod)
	setDuration("NB_CONNECTION_TIMEOUT", &config.Balancer.ConnectionTimeout)
	setDuration("NB_EXECUTION_TIMEOUT", &config.Balancer.ExecutionTimeout)
	setInt("NB_STATE_BARRIER", &config.Balancer.StateBarrier)
	setDuration("NB_SHUTDOWN_TIMEOUT", &config.Balancer.ShutdownTimeout)
	setString("NB_PROXY_URL", &config.Balancer.ProxyURL)

	// Discovery
	setString("NB_NODE_DIRECTORY", &config.Discovery.NodeDirectory)
	setString("NB_DISCOVERY_ENDPOINT", &config.Discovery.HTTPEndpoint)
	setDuration("NB_DISCOVERY_TIMEOUT", &config.Discovery.HTTPTimeout)

	// Balancers from the environment replace the file list completely
	if balancers := getEnv("NB_BALANCERS", ""); balancers != "" {
		config.Balancers = parseBalancersFromEnv(balancers)
	}

	// Rate limiting
	setBool("NB_RATE_LIMIT_ENABLED", &config.RateLimit.Enabled)
	if rps := getEnv("NB_RATE_LIMIT_RPS", ""); rps != "" {
		if r, err := strconv.ParseFloat(rps, 64); err == nil && r > 0 {
			config.RateLimit.RequestsPerSecond = r
		}
	}
	setInt("NB_RATE_LIMIT_BURST", &config.RateLimit.BurstSize)

	// Logging
	setString("NB_LOG_LEVEL", &config.Logging.Level)
	setString("NB_LOG_FORMAT", &config.Logging.Format)
	setString("NB_LOG_OUTPUT", &config.Logging.Output)
	setString("NB_LOG_FILE", &config.Logging.File)
}

// parseBalancersFromEnv parses static balancers.
// Format: "id1=conn1|conn2,id2=conn3"
// Example: "web=http://10.0.0.1:8080|http://10.0.0.2:8080,db=tcp://10.0.1.1:5432"
func parseBalancersFromEnv(value string) []BalancerDefinition {
	var definitions []BalancerDefinition

	for _, entry := range strings.Split(value, ",") {
		id, connections, ok := strings.Cut(strings.TrimSpace(entry), "=")
		if !ok || id == "" {
			continue
		}

		def := BalancerDefinition{ID: id, Discovery: DiscoveryStatic}
		for _, connection := range strings.Split(connections, "|") {
			if connection = strings.TrimSpace(connection); connection != "" {
				def.Nodes = append(def.Nodes, domain.NodeDefinition{Connection: connection})
			}
		}
		definitions = append(definitions, def)
	}

	return definitions
}

// getEnv gets environment variable with fallback to default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func setString(key string, target *string) {
	if value := os.Getenv(key); value != "" {
		*target = value
	}
}

func setInt(key string, target *int) {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			*target = i
		}
	}
}

func setBool(key string, target *bool) {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			*target = b
		}
	}
}

func setDuration(key string, target *time.Duration) {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			*target = d
		}
	}
}
