package discovery

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mir00r/nodebalancer/internal/domain"
	lberrors "github.com/mir00r/nodebalancer/internal/errors"
	"github.com/mir00r/nodebalancer/pkg/logger"
)

// SourceFunc returns the YAML node document of a balancer.
// An empty document means there is nothing new to report.
type SourceFunc func(ctx context.Context, balancerID string) (string, error)

// DefinitionStore is the read side of a node definition repository
type DefinitionStore interface {
	Get(balancerID string) (string, bool)
}

// RepositorySource reads node documents from a definition store.
// Unknown balancers yield an empty document.
func RepositorySource(store DefinitionStore) SourceFunc {
	return func(_ context.Context, balancerID string) (string, error) {
		text, _ := store.Get(balancerID)
		return text, nil
	}
}

// YAMLDiscoverer parses one node document per call
type YAMLDiscoverer struct {
	source       SourceFunc
	stateBarrier int
	logger       *logger.Logger
}

// NewYAMLDiscoverer creates a discoverer over source. Parsed nodes use stateBarrier.
func NewYAMLDiscoverer(source SourceFunc, stateBarrier int, log *logger.Logger) (*YAMLDiscoverer, error) {
	if source == nil {
		return nil, lberrors.NewInvalidConfigurationError("discovery", "YAML source is required")
	}
	if stateBarrier < 1 {
		return nil, lberrors.NewInvalidConfigurationError(
			"discovery",
			fmt.Sprintf("state barrier must be at least 1, got %d", stateBarrier),
		)
	}
	return &YAMLDiscoverer{
		source:       source,
		stateBarrier: stateBarrier,
		logger:       log.DiscoveryLogger("yaml"),
	}, nil
}

// Discover fetches and parses the document of balancerID
func (d *YAMLDiscoverer) Discover(ctx context.Context, balancerID string) ([]*domain.Node, error) {
	text, err := d.source(ctx, balancerID)
	if err != nil {
		if errors.Is(err, domain.ErrNoChange) {
			return nil, domain.ErrNoChange
		}
		return nil, lberrors.NewDiscoveryError(balancerID, err)
	}
	return d.decode(balancerID, text)
}

// decode turns document text into nodes. Empty text is no information,
// a document without nodes is an empty list.
func (d *YAMLDiscoverer) decode(balancerID, text string) ([]*domain.Node, error) {
	if strings.TrimSpace(text) == "" {
		return nil, domain.ErrNoChange
	}

	doc, err := domain.ParseNodeDocument([]byte(text))
	if err != nil {
		return nil, lberrors.NewDiscoveryError(balancerID, err)
	}

	nodes, err := doc.Build(domain.WithStateBarrier(d.stateBarrier))
	if err != nil {
		return nil, lberrors.NewDiscoveryError(balancerID, err)
	}

	d.logger.WithField("balancer_id", balancerID).
		WithField("nodes", len(nodes)).
		Debug("Parsed node document")
	return nodes, nil
}
