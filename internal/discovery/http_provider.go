package discovery

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	lberrors "github.com/mir00r/nodebalancer/internal/errors"
	"github.com/mir00r/nodebalancer/pkg/logger"
)

const (
	maxDocumentSize = 1 << 20

	// The breaker opens after this many consecutive failed fetches and
	// stays open for breakerOpenTimeout
	breakerFailures    = 5
	breakerOpenTimeout = 30 * time.Second
)

// HTTPProvider serves node documents from `<endpoint>/<balancerID>.yml`.
// Fetches go through a circuit breaker shared by every balancer id.
type HTTPProvider struct {
	endpoint string
	client   *http.Client
	breaker  *gobreaker.CircuitBreaker
	logger   *logger.Logger
}

// NewHTTPProvider creates a new HTTP node document provider
func NewHTTPProvider(endpoint string, timeout time.Duration, log *logger.Logger) (*HTTPProvider, error) {
	if endpoint == "" {
		return nil, lberrors.NewInvalidConfigurationError("discovery", "no HTTP endpoint configured")
	}
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return nil, lberrors.WrapError(err, lberrors.ErrCodeInvalidConfiguration, "discovery", "invalid HTTP endpoint")
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	h := &HTTPProvider{
		endpoint: strings.TrimRight(endpoint, "/"),
		client: &http.Client{
			Timeout: timeout,
		},
		logger: log.DiscoveryLogger("http"),
	}
	h.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "discovery-http",
		Timeout: breakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			h.logger.WithFields(map[string]interface{}{
				"breaker":  name,
				"from":     from.String(),
				"to":       to.String(),
				"endpoint": h.endpoint,
			}).Warn("Discovery circuit breaker state changed")
		},
	})
	return h, nil
}

// Name returns the provider name
func (h *HTTPProvider) Name() string {
	return "http"
}

// Source fetches the document of balancerID. A 404 yields an empty document.
// While the breaker is open Source fails without contacting the endpoint.
func (h *HTTPProvider) Source(ctx context.Context, balancerID string) (string, error) {
	document, err := h.breaker.Execute(func() (interface{}, error) {
		return h.fetch(ctx, balancerID)
	})
	if err != nil {
		return "", err
	}
	return document.(string), nil
}

// BreakerState reports the state of the fetch circuit breaker
func (h *HTTPProvider) BreakerState() gobreaker.State {
	return h.breaker.State()
}

func (h *HTTPProvider) fetch(ctx context.Context, balancerID string) (string, error) {
	target := h.endpoint + "/" + url.PathEscape(balancerID) + ".yml"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create node document request: %w", err)
	}
	req.Header.Set("Accept", "application/yaml, text/yaml, text/plain, */*")

	resp, err := h.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch node document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		h.logger.WithField("balancer_id", balancerID).
			WithField("url", target).
			Debug("No node document published")
		return "", nil
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("node document request failed with status: %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
	if err != nil {
		return "", fmt.Errorf("failed to read node document: %w", err)
	}
	return string(body), nil
}

// Discoverer wraps the provider in a YAML discoverer
func (h *HTTPProvider) Discoverer(stateBarrier int, log *logger.Logger) (*YAMLDiscoverer, error) {
	return NewYAMLDiscoverer(h.Source, stateBarrier, log)
}
