package domain

import (
	"errors"
	"strings"

	"gopkg.in/yaml.v2"

	lberrors "github.com/mir00r/nodebalancer/internal/errors"
)

// ErrNoChange is returned by a Discoverer that has no new information.
// The balancer keeps its current node list.
var ErrNoChange = errors.New("no change in node membership")

// Scheme identifies the probing protocol of a node
type Scheme int

const (
	// SchemeUnknown is not probed
	SchemeUnknown Scheme = iota
	// SchemeHTTP is probed with an HTTP HEAD request
	SchemeHTTP
	// SchemeHTTPS is probed with an HTTP HEAD request over TLS
	SchemeHTTPS
	// SchemeTCP is probed by opening a connection
	SchemeTCP
)

// ParseScheme maps a URI scheme to a Scheme, case-insensitively
func ParseScheme(scheme string) Scheme {
	switch strings.ToLower(scheme) {
	case "http":
		return SchemeHTTP
	case "https":
		return SchemeHTTPS
	case "tcp":
		return SchemeTCP
	default:
		return SchemeUnknown
	}
}

// String returns the string representation of Scheme
func (s Scheme) String() string {
	switch s {
	case SchemeHTTP:
		return "http"
	case SchemeHTTPS:
		return "https"
	case SchemeTCP:
		return "tcp"
	default:
		return "unknown"
	}
}

// Selector is a node predicate. A nil Selector selects every node.
type Selector func(*Node) bool

// Matches applies the selector, treating nil as select all
func (s Selector) Matches(n *Node) bool {
	return s == nil || s(n)
}

// SelectAll selects every node
func SelectAll(*Node) bool {
	return true
}

// ByConnection selects the node whose connection URI equals uri
func ByConnection(uri string) Selector {
	return func(n *Node) bool {
		return n.Connection().String() == uri
	}
}

// ByLabels selects nodes carrying every given label with the given value
func ByLabels(labels map[string]string) Selector {
	return func(n *Node) bool {
		for k, v := range labels {
			if got, ok := n.Label(k); !ok || got != v {
				return false
			}
		}
		return true
	}
}

// NodeView is a plain value copy of a node used by the admin API and metrics
type NodeView struct {
	Connection   string            `json:"connection"`
	Status       string            `json:"status,omitempty"`
	Labels       map[string]string `json:"labels"`
	Alive        bool              `json:"alive"`
	Active       bool              `json:"active"`
	Enabled      bool              `json:"enabled"`
	CheckStatus  string            `json:"check_status,omitempty"`
	StateBarrier int               `json:"state_barrier"`
}

// NodeDefinition is one entry of a static node document
type NodeDefinition struct {
	Connection string            `json:"connection" yaml:"connection"`
	Status     string            `json:"status,omitempty" yaml:"status,omitempty"`
	Labels     map[string]string `json:"labels,omitempty" yaml:"labels,omitempty"`
}

// NodeDocument is the YAML document `nodes: [{connection, status, labels}]`
type NodeDocument struct {
	Nodes []NodeDefinition `json:"nodes" yaml:"nodes"`
}

// ParseNodeDocument decodes a YAML node document
func ParseNodeDocument(data []byte) (NodeDocument, error) {
	var doc NodeDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return NodeDocument{}, lberrors.WrapError(err, lberrors.ErrCodeInvalidConfiguration, "node_document", "invalid YAML")
	}
	return doc, nil
}

// Build constructs the nodes of the document in order. A document without
// nodes yields an empty, non-nil slice.
func (d NodeDocument) Build(opts ...NodeOption) ([]*Node, error) {
	nodes := make([]*Node, 0, len(d.Nodes))
	for _, def := range d.Nodes {
		node, err := ParseNode(def.Connection, def.Status, def.Labels, opts...)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}
