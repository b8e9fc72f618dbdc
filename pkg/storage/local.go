package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"socialdash/pkg/logger"
)

// LocalGateway stores objects on disk under <dir>/<bucket>, for development
// and offline use. The files are served by the HTTP API under publicBaseURL.
type LocalGateway struct {
	root          string
	publicBaseURL string
	logger        logger.Logger
	mu            sync.Mutex
}

// NewLocalGateway creates a disk-backed gateway
func NewLocalGateway(dir, bucket, publicBaseURL string, log logger.Logger) *LocalGateway {
	return &LocalGateway{
		root:          filepath.Join(dir, bucket),
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		logger:        logger.OrNop(log),
	}
}

// Root is the directory holding the bucket's objects
func (g *LocalGateway) Root() string {
	return g.root
}

// EnsureBucket creates the bucket directory
func (g *LocalGateway) EnsureBucket(ctx context.Context) bool {
	if err := os.MkdirAll(g.root, 0755); err != nil {
		g.logger.WithError(err).WithField("dir", g.root).Warn("failed to create bucket directory")
		return false
	}
	return true
}

// Upload writes the object atomically, replacing any existing file
func (g *LocalGateway) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	path, err := g.objectPath(key)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("failed to create object directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpName := tmp.Name()

	_, err = tmp.Write(data)
	closeErr := tmp.Close()
	if err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to write object: %w", err)
	}
	if closeErr != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to close file: %w", closeErr)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to rename temporary file: %w", err)
	}

	return g.PublicURL(key), nil
}

// PublicURL returns the URL the object is served under
func (g *LocalGateway) PublicURL(key string) string {
	return g.publicBaseURL + "/" + strings.TrimLeft(key, "/")
}

// Owns reports whether ref is served by this gateway
func (g *LocalGateway) Owns(ref string) bool {
	return g.publicBaseURL != "" && strings.HasPrefix(ref, g.publicBaseURL+"/")
}

// objectPath maps a key to a file inside root, rejecting traversal
func (g *LocalGateway) objectPath(key string) (string, error) {
	key = strings.TrimLeft(key, "/")
	if key == "" {
		return "", fmt.Errorf("object key is required")
	}
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) || filepath.IsAbs(clean) {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return filepath.Join(g.root, clean), nil
}
