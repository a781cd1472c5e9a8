package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/danielcregg/powerpoint-to-video-old/internal/application/orchestrator"
	"github.com/danielcregg/powerpoint-to-video-old/internal/application/pipeline"
	"github.com/danielcregg/powerpoint-to-video-old/internal/application/workers"
	"github.com/danielcregg/powerpoint-to-video-old/internal/config"
	"github.com/danielcregg/powerpoint-to-video-old/internal/executors"
	"github.com/danielcregg/powerpoint-to-video-old/pkg/adapters/artifacts/filesystem"
	artifactsmemory "github.com/danielcregg/powerpoint-to-video-old/pkg/adapters/artifacts/memory"
	"github.com/danielcregg/powerpoint-to-video-old/pkg/adapters/artifacts/s3"
	eventsmemory "github.com/danielcregg/powerpoint-to-video-old/pkg/adapters/events/memory"
	eventsredis "github.com/danielcregg/powerpoint-to-video-old/pkg/adapters/events/redis"
	"github.com/danielcregg/powerpoint-to-video-old/pkg/adapters/llm"
	"github.com/danielcregg/powerpoint-to-video-old/pkg/adapters/metrics/prometheus"
	storagememory "github.com/danielcregg/powerpoint-to-video-old/pkg/adapters/storage/memory"
	redisstorage "github.com/danielcregg/powerpoint-to-video-old/pkg/adapters/storage/redis"
	"github.com/danielcregg/powerpoint-to-video-old/pkg/adapters/storage/sqlite"
	"github.com/danielcregg/powerpoint-to-video-old/pkg/api/grpc"
	"github.com/danielcregg/powerpoint-to-video-old/pkg/api/http"
	"github.com/danielcregg/powerpoint-to-video-old/pkg/api/websocket"
	"github.com/danielcregg/powerpoint-to-video-old/pkg/domain"
	"github.com/danielcregg/powerpoint-to-video-old/pkg/ports"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the pipeline service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			logger, err := newLogger(cfg.LogLevel)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return serve(ctx, cfg, logger)
		},
	}
}

// serve wires every component, runs until ctx is done and shuts down
func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	logger.Info("starting autopresenter",
		zap.String("version", Version),
		zap.String("build_time", BuildTime))

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	lock := flock.New(cfg.LockPath())
	ok, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another autopresenter instance is already running")
	}
	defer func() { _ = lock.Unlock() }()

	var closers []func() error
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				logger.Error("close error", zap.Error(err))
			}
		}
	}()

	var redisClient *goredis.Client
	if cfg.Store.Backend == "redis" || cfg.Redis.Events {
		redisClient = newRedisClient(cfg)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		logger.Info("connected to Redis", zap.String("addr", cfg.Redis.Addr))
		closers = append(closers, redisClient.Close)
	}

	store, err := openJobStore(ctx, cfg, redisClient, logger)
	if err != nil {
		return err
	}
	closers = append(closers, store.Close)

	artifacts, err := openArtifactStore(ctx, cfg, logger)
	if err != nil {
		return err
	}

	eventBus, err := openEventBus(cfg, redisClient, logger)
	if err != nil {
		return err
	}
	closers = append(closers, eventBus.Close)

	metricsCollector := prometheus.NewCollector(nil)

	writer, err := llm.NewWriter(ctx, &llm.Config{
		Provider:          cfg.LLM.Provider,
		APIKey:            cfg.LLM.APIKey,
		Model:             cfg.LLM.Model,
		MaxTokens:         cfg.LLM.MaxTokens,
		MaxWords:          cfg.LLM.MaxWords,
		RequestsPerMinute: cfg.LLM.RequestsPerMinute,
		Burst:             cfg.LLM.Burst,
		Logger:            logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create narration writer: %w", err)
	}
	if c, ok := writer.(io.Closer); ok {
		closers = append(closers, c.Close)
	}

	executorSet := executors.New(executors.Config{
		SOffice:    cfg.Tools.SOffice,
		PDFToPPM:   cfg.Tools.PDFToPPM,
		FFmpeg:     cfg.Tools.FFmpeg,
		TTSCommand: cfg.TTS.Command,
		TTSModel:   cfg.TTS.Model,
		DPI:        cfg.Tools.DPI,
		FPS:        cfg.Tools.FPS,
		WorkDir:    cfg.Tools.WorkDir,
	}, artifacts, writer, executors.ExecRunner{}, logger)
	for tool, err := range executorSet.CheckTools() {
		if err != nil {
			logger.Warn("external tool unavailable", zap.String("tool", tool), zap.Error(err))
		}
	}

	workerPool := workers.NewPool(poolOptions(cfg), store, executorSet, eventBus, metricsCollector, logger)

	orchestratorMgr := orchestrator.NewManager(
		store,
		artifacts,
		eventBus,
		metricsCollector,
		orchestrator.NewValidator(cfg.MaxUploadBytes),
		workerPool,
		logger,
	)
	orchestratorMgr.RegisterCheck("narration_writer", writer.Ping)
	orchestratorMgr.RegisterCheck("tools", func(context.Context) error {
		return toolsError(executorSet.CheckTools())
	})
	orchestratorMgr.RegisterCheck("workers", func(context.Context) error {
		if status := workerPool.Health(); !status.Healthy {
			return errors.New(status.Problem)
		}
		return nil
	})

	recovered, err := orchestratorMgr.Recover(ctx)
	if err != nil {
		return fmt.Errorf("failed to recover jobs: %w", err)
	}
	if recovered > 0 {
		logger.Info("recovered interrupted units", zap.Int("units", recovered))
	}

	if err := workerPool.Start(); err != nil {
		return fmt.Errorf("failed to start worker pool: %w", err)
	}

	httpServer := http.NewServer(&http.Config{
		Port:           cfg.HTTPPort,
		Orchestrator:   orchestratorMgr,
		MaxUploadBytes: cfg.MaxUploadBytes,
		Logger:         logger,
	})
	httpServer.SetupWebSocket(websocket.NewHandler(eventBus, logger))

	grpcServer, err := grpc.NewServer(&grpc.Config{
		Port:          cfg.GRPCPort,
		Orchestrator:  orchestratorMgr,
		CheckInterval: cfg.Workers.HealthCheckInterval,
		Logger:        logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create gRPC server: %w", err)
	}

	serveErr := make(chan error, 2)
	go func() { serveErr <- httpServer.Start() }()
	go func() { serveErr <- grpcServer.Start() }()

	logger.Info("autopresenter started",
		zap.Int("http_port", cfg.HTTPPort),
		zap.Int("grpc_port", cfg.GRPCPort),
		zap.Int("worker_pool_size", cfg.Workers.PoolSize),
		zap.String("store", cfg.Store.Backend),
		zap.String("artifacts", cfg.Artifacts.Backend),
		zap.String("llm_provider", writer.Name()))

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case runErr = <-serveErr:
		logger.Error("server failed", zap.Error(runErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}
	if err := grpcServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("gRPC server shutdown error", zap.Error(err))
	}
	if err := workerPool.Shutdown(shutdownCtx); err != nil {
		logger.Error("worker pool shutdown error", zap.Error(err))
	}

	logger.Info("autopresenter shut down complete")
	return runErr
}

func newRedisClient(cfg *config.Config) *goredis.Client {
	return goredis.NewClient(&goredis.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		MaxRetries:   cfg.Redis.MaxRetries,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})
}

// openJobStore opens the configured job record backend
func openJobStore(ctx context.Context, cfg *config.Config, redisClient *goredis.Client, logger *zap.Logger) (ports.JobStore, error) {
	switch cfg.Store.Backend {
	case "sqlite":
		store, err := sqlite.Open(ctx, cfg.Store.SQLitePath, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open job store: %w", err)
		}
		return store, nil
	case "redis":
		if redisClient == nil {
			redisClient = newRedisClient(cfg)
		}
		return redisstorage.NewJobStore(redisClient, 0, logger), nil
	case "memory":
		logger.Warn("using in-memory job store, jobs will not survive restarts")
		return storagememory.NewInMemoryJobStore(), nil
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", cfg.Store.Backend)
	}
}

// openArtifactStore opens the configured artifact backend
func openArtifactStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (ports.ArtifactStore, error) {
	switch cfg.Artifacts.Backend {
	case "filesystem":
		store, err := filesystem.NewArtifactStore(cfg.Artifacts.Dir)
		if err != nil {
			return nil, fmt.Errorf("failed to open artifact store: %w", err)
		}
		return store, nil
	case "s3":
		store, err := s3.New(ctx, s3.Config{
			Bucket:          cfg.Artifacts.Bucket,
			Region:          cfg.Artifacts.Region,
			Endpoint:        cfg.Artifacts.Endpoint,
			Prefix:          cfg.Artifacts.Prefix,
			Profile:         cfg.Artifacts.Profile,
			AccessKeyID:     cfg.Artifacts.AccessKeyID,
			SecretAccessKey: cfg.Artifacts.SecretAccessKey,
			ForcePathStyle:  cfg.Artifacts.ForcePathStyle,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open artifact store: %w", err)
		}
		return store, nil
	case "memory":
		logger.Warn("using in-memory artifact store, artifacts will not survive restarts")
		return artifactsmemory.NewArtifactStore(), nil
	default:
		return nil, fmt.Errorf("unsupported artifact backend: %s", cfg.Artifacts.Backend)
	}
}

// openEventBus opens Redis Streams when enabled, otherwise an in-process bus.
// Each process reads with its own consumer group so every process sees
// every event.
func openEventBus(cfg *config.Config, redisClient *goredis.Client, logger *zap.Logger) (ports.EventBus, error) {
	if !cfg.Redis.Events {
		return eventsmemory.NewInMemoryEventBus(logger), nil
	}
	hostname, _ := os.Hostname()
	bus, err := eventsredis.NewStreamsEventBus(
		redisClient,
		"autopresenter-"+uuid.New().String(),
		fmt.Sprintf("%s-%d", hostname, os.Getpid()),
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create event bus: %w", err)
	}
	return bus, nil
}

// poolOptions maps worker and timeout settings onto the scheduler
func poolOptions(cfg *config.Config) workers.Options {
	timeouts := make(map[domain.Stage]time.Duration, len(domain.AllStages))
	for _, stage := range domain.AllStages {
		timeouts[stage] = cfg.Timeouts.StageTimeout(string(stage))
	}
	return workers.Options{
		Size:        cfg.Workers.PoolSize,
		PerJobLimit: cfg.Workers.PerJobLimit,
		StageLimits: map[domain.Stage]int{
			domain.StageScript:     cfg.Workers.ScriptLimit,
			domain.StageSynthesize: cfg.Workers.SynthesizeLimit,
			domain.StageAssemble:   cfg.Workers.AssembleLimit,
		},
		Timeouts: timeouts,
		Policy: pipeline.Policy{
			MaxAttempts: cfg.Workers.MaxRetries,
			BaseDelay:   cfg.Workers.RetryDelay,
			MaxDelay:    cfg.Workers.MaxRetryDelay,
		},
		TickInterval:        cfg.Workers.TickInterval,
		HealthCheckInterval: cfg.Workers.HealthCheckInterval,
	}
}

// toolsError joins the failures of a tool availability check
func toolsError(results map[string]error) error {
	var missing []string
	for tool, err := range results {
		if err != nil {
			missing = append(missing, fmt.Sprintf("%s: %v", tool, err))
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return errors.New(strings.Join(missing, "; "))
}
