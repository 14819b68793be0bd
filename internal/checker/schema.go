// Package checker probes node health over TCP and HTTP and records the
// outcome on the node. Checkers never return errors: faults become the
// node's check status.
package checker

import (
	"context"

	"github.com/mir00r/nodebalancer/internal/domain"
	"github.com/mir00r/nodebalancer/pkg/logger"
)

// SchemaAwareChecker dispatches to a protocol checker by the scheme of the probe target
type SchemaAwareChecker struct {
	checkers map[domain.Scheme]domain.Checker
	logger   *logger.Logger
}

// NewSchemaAwareChecker creates a dispatcher over the given protocol checkers.
// Schemes without a checker are not probed.
func NewSchemaAwareChecker(checkers map[domain.Scheme]domain.Checker, log *logger.Logger) *SchemaAwareChecker {
	registered := make(map[domain.Scheme]domain.Checker, len(checkers))
	for scheme, checker := range checkers {
		if scheme != domain.SchemeUnknown && checker != nil {
			registered[scheme] = checker
		}
	}
	return &SchemaAwareChecker{
		checkers: registered,
		logger:   log.CheckerLogger("schema"),
	}
}

// NewDefault creates the schema-aware checker for http, https and tcp
func NewDefault(client *Client, log *logger.Logger) *SchemaAwareChecker {
	httpChecker := NewHTTPChecker(client, log)
	return NewSchemaAwareChecker(map[domain.Scheme]domain.Checker{
		domain.SchemeHTTP:  httpChecker,
		domain.SchemeHTTPS: httpChecker,
		domain.SchemeTCP:   NewTCPChecker(client, log),
	}, log)
}

// Check forwards the node to the checker of its scheme
func (c *SchemaAwareChecker) Check(ctx context.Context, node *domain.Node) {
	if node == nil || node.ProbeTarget() == nil {
		return
	}

	target := node.ProbeTarget()
	log := c.logger.NodeLogger(node.String(), target.String())
	defer recoverProbe(node, log)

	checker, ok := c.checkers[domain.ParseScheme(target.Scheme)]
	if !ok {
		log.WithField("scheme", target.Scheme).Debug("No checker for scheme, skipping probe")
		return
	}
	checker.Check(ctx, node)
}
