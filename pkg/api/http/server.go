package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/danielcregg/powerpoint-to-video-old/internal/application/orchestrator"
)

// Server represents the HTTP API server
type Server struct {
	router         *gin.Engine
	server         *http.Server
	orchestrator   *orchestrator.Manager
	maxUploadBytes int64
	logger         *zap.Logger
}

// Config holds HTTP server configuration
type Config struct {
	Port           int
	Orchestrator   *orchestrator.Manager
	MaxUploadBytes int64
	// Gatherer serves /metrics. Nil uses the default registry.
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

// NewServer creates a new HTTP server
func NewServer(cfg *Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(cfg.Logger))
	router.Use(corsMiddleware())

	s := &Server{
		router:         router,
		orchestrator:   cfg.Orchestrator,
		maxUploadBytes: cfg.MaxUploadBytes,
		logger:         cfg.Logger,
	}

	metricsHandler := promhttp.Handler()
	if cfg.Gatherer != nil {
		metricsHandler = promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})
	}
	s.setupRoutes(metricsHandler)

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// setupRoutes configures API routes
func (s *Server) setupRoutes(metricsHandler http.Handler) {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(metricsHandler))

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/jobs", s.handleSubmitJob)
		v1.GET("/jobs", s.handleListJobs)
		v1.GET("/jobs/:id", s.handleGetStatus)
		v1.GET("/jobs/:id/result", s.handleGetResult)
		v1.POST("/jobs/:id/cancel", s.handleCancelJob)

		// Narration
		v1.GET("/jobs/:id/scripts", s.handleGetScripts)
		v1.PUT("/jobs/:id/scripts", s.handleEditScripts)
		v1.PUT("/jobs/:id/slides/:slide/script", s.handleEditScript)
		v1.POST("/jobs/:id/slides/:slide/regenerate", s.handleRegenerateScript)
		v1.GET("/jobs/:id/slides/:slide/image", s.handleGetSlideImage)
	}
}

// SetupWebSocket adds WebSocket handler to the server
func (s *Server) SetupWebSocket(handler interface{}) {
	if wsHandler, ok := handler.(interface {
		HandleJobStream(*gin.Context)
	}); ok {
		s.router.GET("/api/v1/jobs/:id/ws", wsHandler.HandleJobStream)
	}
}

// Handler returns the HTTP handler, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	s.logger.Info("HTTP server shut down complete")
	return nil
}
