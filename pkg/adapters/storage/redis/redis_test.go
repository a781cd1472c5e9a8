package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/danielcregg/powerpoint-to-video-old/pkg/adapters/storage/storetest"
	"github.com/danielcregg/powerpoint-to-video-old/pkg/ports"
)

func newTestStore(t *testing.T, ttl time.Duration) (*JobStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewJobStore(client, ttl, zap.NewNop()), mr
}

func TestJobStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) ports.JobStore {
		store, _ := newTestStore(t, 0)
		return store
	})
}

func TestListSkipsExpiredRecords(t *testing.T) {
	store, mr := newTestStore(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, storetest.NewJob("old", time.Now().Add(-time.Hour))))
	mr.FastForward(2 * time.Hour)
	require.NoError(t, store.Create(ctx, storetest.NewJob("new", time.Now())))

	jobs, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "new", jobs[0].ID)
}

func TestJobKey(t *testing.T) {
	assert.Equal(t, "autopresenter:job:abc", getJobKey("abc"))
}
