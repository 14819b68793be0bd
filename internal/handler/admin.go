package handler

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/mir00r/nodebalancer/internal/balancer"
	"github.com/mir00r/nodebalancer/internal/discovery"
	"github.com/mir00r/nodebalancer/internal/domain"
	lberrors "github.com/mir00r/nodebalancer/internal/errors"
	"github.com/mir00r/nodebalancer/internal/strategy"
	"github.com/mir00r/nodebalancer/pkg/logger"
)

// AdminRegistry is the registry surface used by the admin API
type AdminRegistry interface {
	BalancerLookup
	Balancers() []*balancer.Balancer
	Register(config balancer.BalancerConfig) (*balancer.Balancer, error)
	EnableNodes(id string, selector domain.Selector) int
	DisableNodes(id string, selector domain.Selector) int
}

// NodeDefinitionStore keeps the YAML node documents saved through the API
type NodeDefinitionStore interface {
	discovery.DefinitionStore
	Save(balancerID, document string) (domain.NodeDocument, error)
}

// AdminHandler provides administrative API endpoints
type AdminHandler struct {
	registry     AdminRegistry
	store        NodeDefinitionStore
	stateBarrier int
	logger       *logger.Logger
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(registry AdminRegistry, store NodeDefinitionStore, stateBarrier int, log *logger.Logger) *AdminHandler {
	return &AdminHandler{
		registry:     registry,
		store:        store,
		stateBarrier: stateBarrier,
		logger:       log.AdminLogger(),
	}
}

// NodeResponse represents node information in API responses
type NodeResponse struct {
	BalancerID string `json:"balancer_id"`
	domain.NodeView
}

// BalancerResponse represents balancer information in API responses
type BalancerResponse struct {
	ID        string `json:"id"`
	Strategy  string `json:"strategy,omitempty"`
	Discovery bool   `json:"discovery"`
	Nodes     int    `json:"nodes"`
	YAMLNodes string `json:"yaml_nodes,omitempty"`
}

// SaveBalancerRequest represents a request to store the node document of a balancer
type SaveBalancerRequest struct {
	ID        string `json:"id"`
	YAMLNodes string `json:"yaml_nodes"`
}

// SaveBalancerResponse reports the outcome of a save
type SaveBalancerResponse struct {
	ID        string `json:"id"`
	YAMLNodes string `json:"yaml_nodes"`
	Nodes     int    `json:"nodes"`
	Created   bool   `json:"created"`
}

// EnablementResponse reports the nodes touched by enable or disable
type EnablementResponse struct {
	BalancerID string    `json:"balancer_id"`
	Action     string    `json:"action"`
	Affected   int       `json:"affected"`
	Timestamp  time.Time `json:"timestamp"`
}

// RegisterRoutes mounts the admin API on router
func (h *AdminHandler) RegisterRoutes(router *mux.Router) {
	api := router.PathPrefix("/api/v1").Subrouter()
	api.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)
	api.HandleFunc("/node/find-all", h.ListNodesHandler).Methods(http.MethodGet)
	api.HandleFunc("/balancer/find-all", h.ListBalancersHandler).Methods(http.MethodGet)
	api.HandleFunc("/balancer/save", h.SaveBalancerHandler).Methods(http.MethodPost)
	api.HandleFunc("/balancer/find-by-name/{name}", h.GetBalancerHandler).Methods(http.MethodGet)
	api.HandleFunc("/balancer/{id}/enable", h.EnableNodesHandler).Methods(http.MethodPost)
	api.HandleFunc("/balancer/{id}/disable", h.DisableNodesHandler).Methods(http.MethodPost)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	lberrors.WriteHTTPErrorWithStatus(w,
		lberrors.NewError(lberrors.ErrCodeInvalidRequest, "admin", r.Method+" is not allowed on "+r.URL.Path),
		http.StatusMethodNotAllowed)
}

// ListNodesHandler handles GET /api/v1/node/find-all
func (h *AdminHandler) ListNodesHandler(w http.ResponseWriter, r *http.Request) {
	response := make([]NodeResponse, 0)
	for _, b := range h.registry.Balancers() {
		for _, node := range b.Nodes() {
			response = append(response, NodeResponse{BalancerID: b.ID(), NodeView: node.Snapshot()})
		}
	}

	writeJSON(w, http.StatusOK, response)
	h.logger.WithField("count", len(response)).Debug("Listed nodes")
}

// ListBalancersHandler handles GET /api/v1/balancer/find-all
func (h *AdminHandler) ListBalancersHandler(w http.ResponseWriter, r *http.Request) {
	balancers := h.registry.Balancers()
	response := make([]BalancerResponse, 0, len(balancers))
	for _, b := range balancers {
		response = append(response, BalancerResponse{
			ID:        b.ID(),
			Strategy:  b.Strategy().Name(),
			Discovery: b.HasDiscoverer(),
			Nodes:     len(b.Nodes()),
		})
	}

	writeJSON(w, http.StatusOK, response)
}

// SaveBalancerHandler handles POST /api/v1/balancer/save. Unknown balancers
// are created with a round-robin strategy reading the saved document.
func (h *AdminHandler) SaveBalancerHandler(w http.ResponseWriter, r *http.Request) {
	var req SaveBalancerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		lberrors.WriteHTTPError(w, lberrors.WrapError(err, lberrors.ErrCodeInvalidRequest, "admin_api", "Invalid JSON body"))
		return
	}

	doc, err := h.store.Save(req.ID, req.YAMLNodes)
	if err != nil {
		h.logger.WithError(err).WithField("balancer_id", req.ID).Warn("Rejected node document")
		lberrors.WriteHTTPError(w, err)
		return
	}

	created := false
	if _, exists := h.registry.Balancer(req.ID); !exists {
		discoverer, err := discovery.NewYAMLDiscoverer(discovery.RepositorySource(h.store), h.stateBarrier, h.logger)
		if err != nil {
			lberrors.WriteHTTPError(w, err)
			return
		}
		if _, err := h.registry.Register(balancer.BalancerConfig{
			ID:         req.ID,
			Strategy:   strategy.NewRoundRobin(),
			Discoverer: discoverer,
		}); err != nil {
			lberrors.WriteHTTPError(w, err)
			return
		}
		created = true
	}

	h.logger.WithFields(map[string]interface{}{
		"balancer_id": req.ID,
		"nodes":       len(doc.Nodes),
		"created":     created,
	}).Info("Saved node document")

	writeJSON(w, http.StatusOK, SaveBalancerResponse{
		ID:        req.ID,
		YAMLNodes: req.YAMLNodes,
		Nodes:     len(doc.Nodes),
		Created:   created,
	})
}

// GetBalancerHandler handles GET /api/v1/balancer/find-by-name/{name}
func (h *AdminHandler) GetBalancerHandler(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	document, stored := h.store.Get(name)
	b, registered := h.registry.Balancer(name)
	if !stored && !registered {
		lberrors.WriteHTTPError(w, lberrors.NewBalancerNotFoundError(name))
		return
	}

	response := BalancerResponse{ID: name, YAMLNodes: document}
	if registered {
		response.Strategy = b.Strategy().Name()
		response.Discovery = b.HasDiscoverer()
		response.Nodes = len(b.Nodes())
	}
	writeJSON(w, http.StatusOK, response)
}

// EnableNodesHandler handles POST /api/v1/balancer/{id}/enable
func (h *AdminHandler) EnableNodesHandler(w http.ResponseWriter, r *http.Request) {
	h.changeEnablement(w, r, "enable", h.registry.EnableNodes)
}

// DisableNodesHandler handles POST /api/v1/balancer/{id}/disable
func (h *AdminHandler) DisableNodesHandler(w http.ResponseWriter, r *http.Request) {
	h.changeEnablement(w, r, "disable", h.registry.DisableNodes)
}

func (h *AdminHandler) changeEnablement(w http.ResponseWriter, r *http.Request, action string, apply func(string, domain.Selector) int) {
	id := mux.Vars(r)["id"]
	if _, ok := h.registry.Balancer(id); !ok {
		lberrors.WriteHTTPError(w, lberrors.NewBalancerNotFoundError(id))
		return
	}

	affected := apply(id, SelectorFromQuery(r.URL.Query()))

	h.logger.WithFields(map[string]interface{}{
		"balancer_id": id,
		"action":      action,
		"affected":    affected,
		"query":       r.URL.RawQuery,
	}).Info("Changed node enablement")

	writeJSON(w, http.StatusOK, EnablementResponse{
		BalancerID: id,
		Action:     action,
		Affected:   affected,
		Timestamp:  time.Now().UTC(),
	})
}

// SelectorFromQuery builds a selector from `connection` and `label.<key>`
// parameters. Without parameters every node is selected.
func SelectorFromQuery(query url.Values) domain.Selector {
	var selectors []domain.Selector

	if connection := query.Get("connection"); connection != "" {
		selectors = append(selectors, domain.ByConnection(connection))
	}

	labels := make(map[string]string)
	for key, values := range query {
		if name, ok := strings.CutPrefix(key, "label."); ok && name != "" && len(values) > 0 {
			labels[name] = values[0]
		}
	}
	if len(labels) > 0 {
		selectors = append(selectors, domain.ByLabels(labels))
	}

	if len(selectors) == 0 {
		return nil
	}
	return func(n *domain.Node) bool {
		for _, s := range selectors {
			if !s(n) {
				return false
			}
		}
		return true
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
