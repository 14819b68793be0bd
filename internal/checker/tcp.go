package checker

import (
	"context"
	"fmt"

	"github.com/mir00r/nodebalancer/internal/domain"
	"github.com/mir00r/nodebalancer/pkg/logger"
)

// TCPChecker probes a node by opening a raw connection to its probe target
type TCPChecker struct {
	client *Client
	logger *logger.Logger
}

// NewTCPChecker creates a TCP checker on the shared client
func NewTCPChecker(client *Client, log *logger.Logger) *TCPChecker {
	return &TCPChecker{
		client: client,
		logger: log.CheckerLogger("tcp"),
	}
}

// Check dials host:port of the probe target
func (c *TCPChecker) Check(ctx context.Context, node *domain.Node) {
	if node == nil || node.ProbeTarget() == nil {
		return
	}

	target := node.ProbeTarget()
	log := c.logger.NodeLogger(node.String(), target.String())
	defer recoverProbe(node, log)

	if target.Port() == "" {
		node.SetCheckStatus(Diagnostic(KindProbeError, fmt.Errorf("no port in %s", target)))
		log.Warn("TCP probe target has no port")
		return
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.client.ConnectionTimeout())
	defer cancel()

	conn, err := c.client.Dial(dialCtx, "tcp", target.Host)
	if err != nil {
		recordFailure(node, err, log)
		return
	}
	conn.Close()

	recordSuccess(node)
	log.Debug("TCP probe succeeded")
}
