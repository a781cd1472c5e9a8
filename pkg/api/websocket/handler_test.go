package websocket

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	eventsmemory "github.com/danielcregg/powerpoint-to-video-old/pkg/adapters/events/memory"
	"github.com/danielcregg/powerpoint-to-video-old/pkg/domain"
)

func TestHandleJobStream(t *testing.T) {
	gin.SetMode(gin.TestMode)
	bus := eventsmemory.NewInMemoryEventBus(zap.NewNop())
	defer bus.Close()

	router := gin.New()
	router.GET("/api/v1/jobs/:id/ws", NewHandler(bus, zap.NewNop()).HandleJobStream)
	srv := httptest.NewServer(router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/jobs/job-1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		return bus.SubscriberCount(domain.TopicJobs) == 1
	}, time.Second, 5*time.Millisecond)

	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, domain.TopicJobs, domain.Event{ID: "e1", Type: domain.EventUnitStarted, JobID: "job-2"}))
	require.NoError(t, bus.Publish(ctx, domain.TopicJobs, domain.Event{
		ID:    "e2",
		Type:  domain.EventUnitCompleted,
		JobID: "job-1",
		Slide: 2,
		Stage: domain.StageAssemble,
		Data:  map[string]interface{}{"strategy": "mpeg4"},
	}))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got domain.Event
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "e2", got.ID, "events of other jobs are filtered")
	assert.Equal(t, domain.StageAssemble, got.Stage)
	assert.Equal(t, "mpeg4", got.Data["strategy"])

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool {
		return bus.SubscriberCount(domain.TopicJobs) == 0
	}, 2*time.Second, 10*time.Millisecond, "subscription ends with the connection")
}
