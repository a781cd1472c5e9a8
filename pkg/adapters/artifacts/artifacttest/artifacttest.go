// Package artifacttest holds a conformance suite shared by artifact store
// implementations.
package artifacttest

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielcregg/powerpoint-to-video-old/pkg/domain"
	"github.com/danielcregg/powerpoint-to-video-old/pkg/ports"
)

// Run exercises the ports.ArtifactStore contract against stores built by
// newStore.
func Run(t *testing.T, newStore func(t *testing.T) ports.ArtifactStore) {
	t.Run("PutOpen", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		key := domain.ScriptKey("job-1", 0, 1)

		require.NoError(t, store.Put(ctx, key, strings.NewReader("hello slide")))

		body := read(t, store, key)
		assert.Equal(t, "hello slide", body)

		ok, err := store.Exists(ctx, key)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("Missing", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		ok, err := store.Exists(ctx, "jobs/none/final/v1.mp4")
		require.NoError(t, err)
		assert.False(t, ok)

		_, err = store.Open(ctx, "jobs/none/final/v1.mp4")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("Overwrite", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		key := domain.AudioKey("job-2", 3, 2)

		require.NoError(t, store.Put(ctx, key, strings.NewReader("first")))
		require.NoError(t, store.Put(ctx, key, strings.NewReader("second")))
		assert.Equal(t, "second", read(t, store, key))
	})

	t.Run("Ping", func(t *testing.T) {
		assert.NoError(t, newStore(t).Ping(context.Background()))
	})
}

func read(t *testing.T, store ports.ArtifactStore, key string) string {
	t.Helper()
	rc, err := store.Open(context.Background(), key)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(data)
}
