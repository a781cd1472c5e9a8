package filesystem

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielcregg/powerpoint-to-video-old/pkg/adapters/artifacts/artifacttest"
	"github.com/danielcregg/powerpoint-to-video-old/pkg/domain"
	"github.com/danielcregg/powerpoint-to-video-old/pkg/ports"
)

func TestArtifactStore(t *testing.T) {
	artifacttest.Run(t, func(t *testing.T) ports.ArtifactStore {
		store, err := NewArtifactStore(t.TempDir())
		require.NoError(t, err)
		return store
	})
}

func TestPutLeavesNoTempFiles(t *testing.T) {
	root := t.TempDir()
	store, err := NewArtifactStore(root)
	require.NoError(t, err)

	key := domain.SlideImageKey("job-1", 4)
	require.NoError(t, store.Put(context.Background(), key, strings.NewReader("png")))

	entries, err := os.ReadDir(filepath.Dir(filepath.Join(root, filepath.FromSlash(key))))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "v1.png", entries[0].Name())
}

func TestRejectsTraversal(t *testing.T) {
	store, err := NewArtifactStore(t.TempDir())
	require.NoError(t, err)

	for _, key := range []string{"../escape.txt", "", "/", "jobs/../../etc/passwd"} {
		err := store.Put(context.Background(), key, strings.NewReader("x"))
		assert.ErrorIs(t, err, domain.ErrInvalidArgument, key)
	}

	full, err := store.fullPath("/jobs/./a.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(store.Root(), "jobs", "a.txt"), full)
}

func TestPutHonoursCancellation(t *testing.T) {
	store, err := NewArtifactStore(t.TempDir())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = store.Put(ctx, "jobs/x/final/v1.mp4", strings.NewReader("video"))
	require.ErrorIs(t, err, context.Canceled)

	ok, err := store.Exists(context.Background(), "jobs/x/final/v1.mp4")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPingMissingRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "artifacts")
	store, err := NewArtifactStore(root)
	require.NoError(t, err)
	require.NoError(t, os.RemoveAll(root))
	assert.Error(t, store.Ping(context.Background()))
}
