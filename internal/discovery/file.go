package discovery

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mir00r/nodebalancer/internal/domain"
	lberrors "github.com/mir00r/nodebalancer/internal/errors"
	"github.com/mir00r/nodebalancer/pkg/logger"
)

// FileDiscoverer reads `<dir>/<balancerID>.yml` and reloads it only when
// its modification time moves forward.
type FileDiscoverer struct {
	dir    string
	yaml   *YAMLDiscoverer
	logger *logger.Logger

	mu           sync.Mutex
	lastModified map[string]time.Time
}

// NewFileDiscoverer creates the discoverer, creating dir when it does not exist
func NewFileDiscoverer(dir string, stateBarrier int, log *logger.Logger) (*FileDiscoverer, error) {
	info, err := os.Stat(dir)
	switch {
	case os.IsNotExist(err):
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, lberrors.WrapError(err, lberrors.ErrCodeInvalidConfiguration, "discovery", "failed to create node directory")
		}
	case err != nil:
		return nil, lberrors.WrapError(err, lberrors.ErrCodeInvalidConfiguration, "discovery", "failed to stat node directory")
	case !info.IsDir():
		return nil, lberrors.NewInvalidConfigurationError("discovery", fmt.Sprintf("%s is not a directory", dir))
	}

	d := &FileDiscoverer{
		dir:          dir,
		logger:       log.DiscoveryLogger("file"),
		lastModified: make(map[string]time.Time),
	}

	d.yaml, err = NewYAMLDiscoverer(d.read, stateBarrier, log)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// Dir returns the watched directory
func (d *FileDiscoverer) Dir() string {
	return d.dir
}

// Path returns the node file of a balancer
func (d *FileDiscoverer) Path(balancerID string) string {
	return filepath.Join(d.dir, balancerID+".yml")
}

// Discover returns the nodes of the balancer file, or ErrNoChange when the
// file is missing or has not been modified since the last successful load.
func (d *FileDiscoverer) Discover(ctx context.Context, balancerID string) ([]*domain.Node, error) {
	if balancerID == "" || strings.ContainsAny(balancerID, `/\`) || strings.Contains(balancerID, "..") {
		return nil, lberrors.NewDiscoveryError(balancerID, fmt.Errorf("balancer id %q is not a valid file name", balancerID))
	}

	log := d.logger.WithField("balancer_id", balancerID)
	path := d.Path(balancerID)

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.WithField("path", path).Warn("Node file not found")
			return nil, domain.ErrNoChange
		}
		return nil, lberrors.NewDiscoveryError(balancerID, err)
	}
	if info.IsDir() {
		log.WithField("path", path).Warn("Node file path is a directory")
		return nil, domain.ErrNoChange
	}

	modified := info.ModTime()
	d.mu.Lock()
	last, seen := d.lastModified[balancerID]
	d.mu.Unlock()
	if seen && modified.Equal(last) {
		return nil, domain.ErrNoChange
	}

	nodes, err := d.yaml.Discover(ctx, balancerID)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.lastModified[balancerID] = modified
	d.mu.Unlock()

	log.WithField("path", path).WithField("nodes", len(nodes)).Info("Loaded node file")
	return nodes, nil
}

func (d *FileDiscoverer) read(_ context.Context, balancerID string) (string, error) {
	data, err := os.ReadFile(d.Path(balancerID))
	if err != nil {
		return "", err
	}
	return string(data), nil
}
