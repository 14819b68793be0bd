package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mir00r/nodebalancer/internal/checker"
	"github.com/mir00r/nodebalancer/internal/config"
	"github.com/mir00r/nodebalancer/internal/domain"
	"github.com/mir00r/nodebalancer/internal/middleware"
	"github.com/mir00r/nodebalancer/pkg/logger"
)

const defaultTokenTTL = 24 * time.Hour

// runConfigValidation validates the current configuration
func runConfigValidation(out io.Writer) error {
	cfg, err := config.LoadConfig("")
	if err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	fmt.Fprintln(out, "Configuration validation passed")
	fmt.Fprintf(out, "Port: %d\n", cfg.Server.Port)
	fmt.Fprintf(out, "Admin API: %t (port %d, jwt %t)\n", cfg.Admin.Enabled, cfg.Admin.Port, cfg.Admin.JWTSecret != "")
	fmt.Fprintf(out, "Check period: %s, discover period: %s, state barrier: %d\n",
		cfg.Balancer.CheckPeriod, cfg.Balancer.DiscoverPeriod, cfg.Balancer.StateBarrier)
	fmt.Fprintf(out, "Rate limiting: %t\n", cfg.RateLimit.Enabled)
	for _, def := range cfg.Balancers {
		discovery := def.Discovery
		if discovery == "" {
			discovery = config.DiscoveryStatic
		}
		fmt.Fprintf(out, "Balancer %s: %d nodes, discovery %s\n", def.ID, len(def.Nodes), discovery)
	}

	return nil
}

// runNodeCheck probes every node of a YAML node document once and prints
// the resulting state
func runNodeCheck(out io.Writer, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read node document: %w", err)
	}

	doc, err := domain.ParseNodeDocument(data)
	if err != nil {
		return err
	}
	nodes, err := doc.Build()
	if err != nil {
		return err
	}

	cfg, err := config.LoadConfig("")
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	client, err := checker.NewClient(checker.ClientConfig{
		ConnectionTimeout: cfg.Balancer.ConnectionTimeout,
		ExecutionTimeout:  cfg.Balancer.ExecutionTimeout,
		ProxyURL:          cfg.Balancer.ProxyURL,
	})
	if err != nil {
		return err
	}
	defer client.Close()

	probe := checker.NewDefault(client, logger.Discard())

	fmt.Fprintf(out, "Checking %d nodes...\n", len(nodes))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, node := range nodes {
		probe.Check(ctx, node)

		status := "healthy"
		if !node.IsActive() {
			status = "unhealthy"
		}
		line := fmt.Sprintf("Node %s: %s (alive=%t active=%t)", node, status, node.IsAlive(), node.IsActive())
		if diagnostic := node.CheckStatus(); diagnostic != "" {
			line += ": " + diagnostic
		}
		fmt.Fprintln(out, line)
	}

	return nil
}

// runIssueToken prints a signed admin API token for subject
func runIssueToken(out io.Writer, subject, ttl string) error {
	cfg, err := config.LoadConfig("")
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	validity := defaultTokenTTL
	if ttl != "" {
		if validity, err = time.ParseDuration(ttl); err != nil {
			return fmt.Errorf("invalid token ttl %q: %w", ttl, err)
		}
	}

	token, err := middleware.IssueToken(cfg.ToJWTConfig(), subject, nil, validity)
	if err != nil {
		return err
	}

	fmt.Fprintln(out, token)
	return nil
}

// runAdminProcess handles admin process execution
func runAdminProcess() {
	if err := adminCommand(os.Stdout, os.Args[adminIndex()+1:]); err != nil {
		fmt.Printf("Command failed: %v\n", err)
		os.Exit(1)
	}
}

func adminCommand(out io.Writer, args []string) error {
	if len(args) == 0 {
		fmt.Fprintln(out, "Usage: nodebalancer -admin <command>")
		fmt.Fprintln(out, "Commands:")
		fmt.Fprintln(out, "  validate-config         - Validate configuration")
		fmt.Fprintln(out, "  check <nodes.yml>       - Probe every node of a node document once")
		fmt.Fprintln(out, "  token <subject> [ttl]   - Issue an admin API token")
		return fmt.Errorf("missing admin command")
	}

	switch args[0] {
	case "validate-config", "validate":
		return runConfigValidation(out)
	case "check":
		if len(args) < 2 {
			return fmt.Errorf("check requires a node document path")
		}
		return runNodeCheck(out, args[1])
	case "token":
		if len(args) < 2 {
			return fmt.Errorf("token requires a subject")
		}
		ttl := ""
		if len(args) > 2 {
			ttl = args[2]
		}
		return runIssueToken(out, args[1], ttl)
	default:
		return fmt.Errorf("unknown command: %s", args[0])
	}
}

// checkIfAdminMode checks if running in admin mode
func checkIfAdminMode() bool {
	return adminIndex() >= 0
}

func adminIndex() int {
	for i, arg := range os.Args {
		if arg == "-admin" {
			return i
		}
	}
	return -1
}
