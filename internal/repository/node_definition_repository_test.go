package repository

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lberrors "github.com/mir00r/nodebalancer/internal/errors"
)

const document = `
nodes:
  - connection: http://10.0.0.1:8080
  - connection: http://10.0.0.2:8080
`

func TestNodeDefinitionRepository(t *testing.T) {
	t.Parallel()

	repo := NewInMemoryNodeDefinitionRepository()

	doc, err := repo.Save("orders", document)
	require.NoError(t, err)
	assert.Len(t, doc.Nodes, 2)

	got, ok := repo.Get("orders")
	require.True(t, ok)
	assert.Equal(t, document, got)

	_, err = repo.Save("billing", "nodes: []\n")
	require.NoError(t, err)
	assert.Equal(t, []string{"billing", "orders"}, repo.IDs())
	assert.Equal(t, 2, repo.Count())

	assert.True(t, repo.Delete("billing"))
	assert.False(t, repo.Delete("billing"))
	_, ok = repo.Get("billing")
	assert.False(t, ok)
}

func TestNodeDefinitionRepositoryRejectsInvalidDocuments(t *testing.T) {
	t.Parallel()

	repo := NewInMemoryNodeDefinitionRepository()

	tests := []struct {
		name string
		id   string
		doc  string
	}{
		{"empty id", " ", document},
		{"invalid yaml", "orders", "nodes: ["},
		{"missing connection", "orders", "nodes:\n  - status: http://a/health\n"},
		{"invalid uri", "orders", "nodes:\n  - connection: 'http://[::1'\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := repo.Save(tt.id, tt.doc)
			require.Error(t, err)
			assert.Equal(t, lberrors.ErrCodeInvalidRequest, lberrors.GetErrorCode(err))
		})
	}
	assert.Zero(t, repo.Count())
}

func TestNodeDefinitionRepositoryConcurrentAccess(t *testing.T) {
	t.Parallel()

	repo := NewInMemoryNodeDefinitionRepository()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = repo.Save("orders", document)
		}()
		go func() {
			defer wg.Done()
			repo.Get("orders")
			repo.IDs()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, repo.Count())
}
