package redis

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/danielcregg/powerpoint-to-video-old/pkg/domain"
)

func newTestBus(t *testing.T) (*StreamsEventBus, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	bus, err := NewStreamsEventBus(client, "autopresenter", "test-1", zap.NewNop())
	require.NoError(t, err)
	bus.block = 50 * time.Millisecond
	t.Cleanup(func() { _ = bus.Close() })
	return bus, client
}

func TestPublishAppendsToStream(t *testing.T) {
	bus, client := newTestBus(t)
	ctx := context.Background()

	event := domain.Event{ID: "e1", Type: domain.EventJobSubmitted, JobID: "job-1", Slide: domain.JobSlide}
	require.NoError(t, bus.Publish(ctx, domain.TopicJobs, event))

	msgs, err := client.XRange(ctx, getStreamKey(domain.TopicJobs), "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Values["data"], `"job_id":"job-1"`)
}

func TestSubscribersShareEveryEvent(t *testing.T) {
	bus, _ := newTestBus(t)
	ctx := context.Background()

	var mu sync.Mutex
	got := map[string][]string{}
	handler := func(name string) func(context.Context, domain.Event) error {
		return func(_ context.Context, e domain.Event) error {
			mu.Lock()
			defer mu.Unlock()
			got[name] = append(got[name], e.ID)
			return nil
		}
	}
	require.NoError(t, bus.Subscribe(ctx, domain.TopicJobs, handler("a")))
	require.NoError(t, bus.Subscribe(ctx, domain.TopicJobs, handler("b")))

	for _, id := range []string{"e1", "e2"} {
		require.NoError(t, bus.Publish(ctx, domain.TopicJobs, domain.Event{ID: id, Type: domain.EventUnitCompleted, JobID: "job-1"}))
	}

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got["a"]) == 2 && len(got["b"]) == 2
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"e1", "e2"}, got["a"])
	assert.Equal(t, []string{"e1", "e2"}, got["b"])
}

func TestNewRequiresGroup(t *testing.T) {
	_, err := NewStreamsEventBus(nil, "", "x", zap.NewNop())
	assert.Error(t, err)
}

func TestCloseIsIdempotent(t *testing.T) {
	bus, _ := newTestBus(t)
	require.NoError(t, bus.Subscribe(context.Background(), domain.TopicJobs, func(context.Context, domain.Event) error { return nil }))
	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close())
	assert.Error(t, bus.Subscribe(context.Background(), domain.TopicJobs, func(context.Context, domain.Event) error { return nil }))
}
