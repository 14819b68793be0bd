package handler

import (
	"context"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/mir00r/nodebalancer/internal/balancer"
	"github.com/mir00r/nodebalancer/internal/domain"
	lberrors "github.com/mir00r/nodebalancer/internal/errors"
	"github.com/mir00r/nodebalancer/pkg/logger"
)

// BalancerIDHeader selects the balancer a proxied request is routed through
const BalancerIDHeader = "X-Balancer-Id"

type targetKey struct{}

// BalancerLookup finds balancers by id
type BalancerLookup interface {
	Balancer(id string) (*balancer.Balancer, bool)
}

// BalancingHandler forwards requests carrying X-Balancer-Id to a node
// selected by that balancer. Other requests go to next.
type BalancingHandler struct {
	registry BalancerLookup
	next     http.Handler
	proxy    *httputil.ReverseProxy
	logger   *logger.Logger
}

// NewBalancingHandler creates the proxy handler. next may be nil.
func NewBalancingHandler(registry BalancerLookup, next http.Handler, timeout time.Duration, log *logger.Logger) *BalancingHandler {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	h := &BalancingHandler{
		registry: registry,
		next:     next,
		logger:   log.ProxyLogger(),
	}

	h.proxy = &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			target := pr.In.Context().Value(targetKey{}).(*url.URL)
			pr.SetURL(target)
			pr.SetXForwarded()
			pr.Out.Header.Set("X-Forwarded-By", "NodeBalancer/1.0")
		},
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   20,
			IdleConnTimeout:       90 * time.Second,
			ResponseHeaderTimeout: timeout,
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			h.logger.WithError(err).
				WithField("path", r.URL.Path).
				Error("Backend request failed")
			lberrors.WriteHTTPErrorWithStatus(w,
				lberrors.WrapError(err, lberrors.ErrCodeInternalError, "proxy", "Backend request failed"),
				http.StatusBadGateway)
		},
	}
	return h
}

// ServeHTTP handles incoming HTTP requests
func (h *BalancingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	balancerID := r.Header.Get(BalancerIDHeader)
	if balancerID == "" {
		if h.next != nil {
			h.next.ServeHTTP(w, r)
			return
		}
		http.NotFound(w, r)
		return
	}

	log := h.logger.WithField("balancer_id", balancerID)

	b, ok := h.registry.Balancer(balancerID)
	if !ok {
		log.Warn("Request for unknown balancer")
		lberrors.WriteHTTPErrorWithStatus(w, lberrors.NewBalancerNotFoundError(balancerID), http.StatusBadGateway)
		return
	}

	node := b.GetBalanced(nil)
	if node == nil {
		log.Warn("No available nodes")
		lberrors.WriteHTTPError(w, lberrors.NewNoNodesError(balancerID))
		return
	}

	target := proxyTarget(node)
	log.WithField("target", target.String()).Debug("Forwarding request")

	ctx := context.WithValue(r.Context(), targetKey{}, target)
	h.proxy.ServeHTTP(w, r.WithContext(ctx))
}

// proxyTarget returns the connection URI of node as an HTTP URL
func proxyTarget(node *domain.Node) *url.URL {
	target := *node.Connection()
	if domain.ParseScheme(target.Scheme) != domain.SchemeHTTPS {
		target.Scheme = "http"
	}
	return &target
}
