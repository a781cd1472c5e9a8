package executors

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/danielcregg/powerpoint-to-video-old/pkg/domain"
	"github.com/danielcregg/powerpoint-to-video-old/pkg/ports"
)

// workspace is a private scratch directory for one unit execution.
type workspace struct {
	dir       string
	artifacts ports.ArtifactStore
	stage     domain.Stage
}

func newWorkspace(root string, artifacts ports.ArtifactStore, u domain.Unit) (*workspace, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create work root: %w", err)
	}
	pattern := fmt.Sprintf("%s-%s-*", shortID(u.JobID), u.Stage)
	dir, err := os.MkdirTemp(root, pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}
	return &workspace{dir: dir, artifacts: artifacts, stage: u.Stage}, nil
}

func (w *workspace) path(name string) string {
	return filepath.Join(w.dir, name)
}

// fetch copies an artifact into the workspace and returns its local path.
func (w *workspace) fetch(ctx context.Context, key, name string) (string, error) {
	rc, err := w.artifacts.Open(ctx, key)
	if err != nil {
		return "", storeError(w.stage, "fetch", key, err)
	}
	defer rc.Close()

	local := w.path(name)
	f, err := os.Create(local)
	if err != nil {
		return "", domain.Wrap(domain.ErrTransient, w.stage, "fetch", key, err)
	}
	if _, err := io.Copy(f, rc); err != nil {
		_ = f.Close()
		return "", storeError(w.stage, "fetch", key, err)
	}
	if err := f.Close(); err != nil {
		return "", domain.Wrap(domain.ErrTransient, w.stage, "fetch", key, err)
	}
	return local, nil
}

// publish stores a local file under key.
func (w *workspace) publish(ctx context.Context, key, local string) error {
	f, err := os.Open(local)
	if err != nil {
		return domain.Wrap(domain.ErrTransient, w.stage, "publish", key, err)
	}
	defer f.Close()
	if err := w.artifacts.Put(ctx, key, f); err != nil {
		return storeError(w.stage, "publish", key, err)
	}
	return nil
}

// publishStrategy records the encoding strategy that produced key.
func (w *workspace) publishStrategy(ctx context.Context, key, strategy string) error {
	sidecar := domain.StrategyKey(key)
	if err := w.artifacts.Put(ctx, sidecar, strings.NewReader(strategy)); err != nil {
		return storeError(w.stage, "publish", sidecar, err)
	}
	return nil
}

func (w *workspace) cleanup() {
	_ = os.RemoveAll(w.dir)
}

// nonEmpty reports whether path exists with content.
func nonEmpty(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}

func shortID(id string) string {
	id = strings.ReplaceAll(id, "-", "")
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
