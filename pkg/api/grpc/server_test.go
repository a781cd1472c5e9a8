package grpc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	grpclib "google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/danielcregg/powerpoint-to-video-old/internal/application/orchestrator"
	artifactsmemory "github.com/danielcregg/powerpoint-to-video-old/pkg/adapters/artifacts/memory"
	metricsprom "github.com/danielcregg/powerpoint-to-video-old/pkg/adapters/metrics/prometheus"
	storagememory "github.com/danielcregg/powerpoint-to-video-old/pkg/adapters/storage/memory"
)

type nopScheduler struct{}

func (nopScheduler) Wake()                {}
func (nopScheduler) CancelJob(string) int { return 0 }

func TestHealthService(t *testing.T) {
	logger := zap.NewNop()
	manager := orchestrator.NewManager(storagememory.NewInMemoryJobStore(), artifactsmemory.NewArtifactStore(),
		nil, metricsprom.NewCollector(prometheus.NewRegistry()), orchestrator.NewValidator(0), nopScheduler{}, logger)

	srv, err := NewServer(&Config{Port: 0, Orchestrator: manager, CheckInterval: 10 * time.Millisecond, Logger: logger})
	require.NoError(t, err)
	go func() { _ = srv.Start() }()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}()

	conn, err := grpclib.NewClient(srv.Addr().String(), grpclib.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()
	client := healthpb.NewHealthClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())

	manager.RegisterCheck("ffmpeg", func(context.Context) error { return errors.New("not installed") })
	require.Eventually(t, func() bool {
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
		return err == nil && resp.GetStatus() == healthpb.HealthCheckResponse_NOT_SERVING
	}, time.Second, 10*time.Millisecond)
}
