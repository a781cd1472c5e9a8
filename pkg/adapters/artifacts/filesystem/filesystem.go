package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/danielcregg/powerpoint-to-video-old/pkg/domain"
)

// ArtifactStore stores artifacts as files under a root directory.
type ArtifactStore struct {
	root string
}

// NewArtifactStore creates the root directory if needed.
func NewArtifactStore(root string) (*ArtifactStore, error) {
	if root == "" {
		return nil, fmt.Errorf("artifact root directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifact root: %w", err)
	}
	return &ArtifactStore{root: root}, nil
}

// Put writes r to key. The file appears atomically.
func (s *ArtifactStore) Put(ctx context.Context, key string, r io.Reader) error {
	full, err := s.fullPath(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("failed to create artifact dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), ".artifact-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := io.Copy(tmp, contextReader{ctx: ctx, r: r}); err != nil {
		return fmt.Errorf("failed to write artifact %s: %w", key, err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync artifact %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close artifact %s: %w", key, err)
	}
	if err := os.Rename(tmpName, full); err != nil {
		return fmt.Errorf("failed to commit artifact %s: %w", key, err)
	}
	return nil
}

// Open opens the file stored under key.
func (s *ArtifactStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	full, err := s.fullPath(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: artifact %s", domain.ErrNotFound, key)
		}
		return nil, fmt.Errorf("failed to open artifact %s: %w", key, err)
	}
	return f, nil
}

// Exists reports whether key is stored.
func (s *ArtifactStore) Exists(ctx context.Context, key string) (bool, error) {
	full, err := s.fullPath(key)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(full)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat artifact %s: %w", key, err)
	}
	return info.Mode().IsRegular(), nil
}

// Ping checks the root directory is still present.
func (s *ArtifactStore) Ping(ctx context.Context) error {
	info, err := os.Stat(s.root)
	if err != nil {
		return fmt.Errorf("artifact root unavailable: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("artifact root is not a directory: %s", s.root)
	}
	return nil
}

// Root returns the root directory.
func (s *ArtifactStore) Root() string {
	return s.root
}

// fullPath maps a key to a path inside root, rejecting traversal.
func (s *ArtifactStore) fullPath(key string) (string, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(key), "/")
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty artifact key", domain.ErrInvalidArgument)
	}
	for _, part := range strings.Split(trimmed, "/") {
		if part == ".." {
			return "", fmt.Errorf("%w: invalid artifact key %q", domain.ErrInvalidArgument, key)
		}
	}
	clean := strings.TrimPrefix(filepath.Clean("/"+trimmed), "/")
	return filepath.Join(s.root, filepath.FromSlash(clean)), nil
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
