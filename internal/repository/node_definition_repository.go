package repository

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/mir00r/nodebalancer/internal/domain"
	lberrors "github.com/mir00r/nodebalancer/internal/errors"
)

// InMemoryNodeDefinitionRepository stores YAML node documents by balancer id
type InMemoryNodeDefinitionRepository struct {
	mu        sync.RWMutex
	documents map[string]string
}

// NewInMemoryNodeDefinitionRepository creates a new in-memory node definition repository
func NewInMemoryNodeDefinitionRepository() *InMemoryNodeDefinitionRepository {
	return &InMemoryNodeDefinitionRepository{
		documents: make(map[string]string),
	}
}

// Save validates and stores the document of a balancer, replacing any previous one
func (r *InMemoryNodeDefinitionRepository) Save(balancerID, document string) (domain.NodeDocument, error) {
	if strings.TrimSpace(balancerID) == "" {
		return domain.NodeDocument{}, lberrors.NewError(lberrors.ErrCodeInvalidRequest, "repository", "balancer id cannot be empty")
	}

	doc, err := domain.ParseNodeDocument([]byte(document))
	if err != nil {
		return domain.NodeDocument{}, lberrors.WrapError(err, lberrors.ErrCodeInvalidRequest, "repository", "invalid node document")
	}
	if _, err := doc.Build(); err != nil {
		return domain.NodeDocument{}, lberrors.WrapError(err, lberrors.ErrCodeInvalidRequest, "repository",
			fmt.Sprintf("invalid node in document of %s", balancerID))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.documents[balancerID] = document
	return doc, nil
}

// Get returns the document of a balancer
func (r *InMemoryNodeDefinitionRepository) Get(balancerID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	document, exists := r.documents[balancerID]
	return document, exists
}

// IDs returns the stored balancer ids in order
func (r *InMemoryNodeDefinitionRepository) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.documents))
	for id := range r.documents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Delete removes the document of a balancer
func (r *InMemoryNodeDefinitionRepository) Delete(balancerID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.documents[balancerID]; !exists {
		return false
	}
	delete(r.documents, balancerID)
	return true
}

// Count returns the number of stored documents
func (r *InMemoryNodeDefinitionRepository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.documents)
}
