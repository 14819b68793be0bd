package checker

import (
	"context"
	"net/http"
	"time"

	"github.com/mir00r/nodebalancer/internal/domain"
	"github.com/mir00r/nodebalancer/pkg/logger"
)

// HTTPChecker probes a node with a HEAD request to its probe target
type HTTPChecker struct {
	client *Client
	logger *logger.Logger
}

// NewHTTPChecker creates an HTTP checker on the shared client
func NewHTTPChecker(client *Client, log *logger.Logger) *HTTPChecker {
	return &HTTPChecker{
		client: client,
		logger: log.CheckerLogger("http"),
	}
}

// Check issues the HEAD request. 200 means alive and active, any other
// status code means reachable but not ready.
func (c *HTTPChecker) Check(ctx context.Context, node *domain.Node) {
	if node == nil || node.ProbeTarget() == nil {
		return
	}

	target := node.ProbeTarget()
	log := c.logger.NodeLogger(node.String(), target.String())
	defer recoverProbe(node, log)

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, target.String(), nil)
	if err != nil {
		recordFailure(node, err, log)
		return
	}
	req.Header.Set("User-Agent", "NodeBalancer-Checker/1.0")

	start := time.Now()
	resp, err := c.client.HTTP().Do(req)
	duration := time.Since(start)
	if err != nil {
		recordFailure(node, err, log.WithField("duration_ms", duration.Milliseconds()))
		return
	}
	resp.Body.Close()

	log = log.WithField("status_code", resp.StatusCode).
		WithField("duration_ms", duration.Milliseconds())

	if resp.StatusCode == http.StatusOK {
		recordSuccess(node)
		log.Debug("HTTP probe succeeded")
		return
	}

	node.ReportAlive(true)
	node.ReportActive(false)
	node.SetCheckStatus("")
	log.Debug("HTTP probe returned non-200 status")
}
