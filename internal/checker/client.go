package checker

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"golang.org/x/net/http2"

	lberrors "github.com/mir00r/nodebalancer/internal/errors"
)

const (
	DefaultConnectionTimeout = 2 * time.Second
	DefaultExecutionTimeout  = 2 * time.Second
)

// ClientConfig configures the shared probing client
type ClientConfig struct {
	ConnectionTimeout time.Duration
	ExecutionTimeout  time.Duration
	ProxyURL          string
	MaxIdleConns      int
}

// Client is the connection-pooled transport shared by every checker of a registry
type Client struct {
	http              *http.Client
	transport         *http.Transport
	dialer            *net.Dialer
	connectionTimeout time.Duration
	closed            atomic.Bool
}

// NewClient creates the probing client. Certificates are not verified:
// probes judge reachability, not certificate validity.
func NewClient(config ClientConfig) (*Client, error) {
	if config.ConnectionTimeout <= 0 {
		config.ConnectionTimeout = DefaultConnectionTimeout
	}
	if config.ExecutionTimeout <= 0 {
		config.ExecutionTimeout = DefaultExecutionTimeout
	}
	if config.MaxIdleConns <= 0 {
		config.MaxIdleConns = 100
	}

	dialer := &net.Dialer{
		Timeout:   config.ConnectionTimeout,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConns:          config.MaxIdleConns,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   config.ConnectionTimeout,
		ResponseHeaderTimeout: config.ExecutionTimeout,
		DisableCompression:    true,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: true, //nolint:gosec
		},
	}

	if config.ProxyURL != "" {
		proxy, err := url.Parse(config.ProxyURL)
		if err != nil {
			return nil, lberrors.WrapError(err, lberrors.ErrCodeInvalidConfiguration, "checker", "invalid proxy URL")
		}
		transport.Proxy = http.ProxyURL(proxy)
	}

	if err := http2.ConfigureTransport(transport); err != nil {
		return nil, lberrors.WrapError(err, lberrors.ErrCodeInvalidConfiguration, "checker", "failed to enable HTTP/2")
	}

	return &Client{
		http: &http.Client{
			Timeout:   config.ExecutionTimeout,
			Transport: transport,
		},
		transport:         transport,
		dialer:            dialer,
		connectionTimeout: config.ConnectionTimeout,
	}, nil
}

// HTTP returns the pooled HTTP client
func (c *Client) HTTP() *http.Client {
	return c.http
}

// Dial opens a raw connection bounded by the connection timeout
func (c *Client) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	return c.dialer.DialContext(ctx, network, address)
}

// ConnectionTimeout returns the dial timeout
func (c *Client) ConnectionTimeout() time.Duration {
	return c.connectionTimeout
}

// Close releases pooled connections. Calling it more than once is a no-op.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.transport.CloseIdleConnections()
	return nil
}

// Closed reports whether Close has been called
func (c *Client) Closed() bool {
	return c.closed.Load()
}
