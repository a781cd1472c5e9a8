package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/danielcregg/powerpoint-to-video-old/pkg/domain"
)

// ArtifactStore keeps artifacts in memory.
type ArtifactStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewArtifactStore creates an empty in-memory artifact store.
func NewArtifactStore() *ArtifactStore {
	return &ArtifactStore{blobs: make(map[string][]byte)}
}

// Put stores the contents of r under key.
func (s *ArtifactStore) Put(ctx context.Context, key string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read artifact %s: %w", key, err)
	}
	s.mu.Lock()
	s.blobs[key] = data
	s.mu.Unlock()
	return nil
}

// Open returns a reader over the stored artifact.
func (s *ArtifactStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	s.mu.RLock()
	data, ok := s.blobs[key]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: artifact %s", domain.ErrNotFound, key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Exists reports whether key has been stored.
func (s *ArtifactStore) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.blobs[key]
	return ok, nil
}

// Ping always succeeds.
func (s *ArtifactStore) Ping(ctx context.Context) error {
	return nil
}

// Len returns the number of stored artifacts.
func (s *ArtifactStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}
