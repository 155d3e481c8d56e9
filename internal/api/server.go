package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/mediscan/analysis-server/internal/domain"
	"github.com/mediscan/analysis-server/internal/feedback"
	"github.com/mediscan/analysis-server/internal/middleware"
	"github.com/mediscan/analysis-server/internal/service"
)

// Dependencies carries everything the HTTP layer needs from the rest of
// the application.
type Dependencies struct {
	Analyzer *service.ReportAnalyzer
	Feedback feedback.Store
	Hub      *ProgressHub
	Logger   *logrus.Logger

	// Optional health and stats hooks. Nil hooks are reported as
	// "disabled" rather than unhealthy.
	DatabaseHealth func(ctx context.Context) error
	CachePing      func(ctx context.Context) error
	PredictionPing func(ctx context.Context) error
	BreakerStates  func() map[string]string
	CacheStats     func() service.CacheStats
}

// Server represents the HTTP server
type Server struct {
	configManager domain.ConfigManager
	router        *gin.Engine
	server        *http.Server

	analyzer      *service.ReportAnalyzer
	feedbackStore feedback.Store
	hub           *ProgressHub
	logger        *logrus.Logger

	dbHealth       func(ctx context.Context) error
	cachePing      func(ctx context.Context) error
	predictionPing func(ctx context.Context) error
	breakerStates  func() map[string]string
	cacheStats     func() service.CacheStats
}

// NewServer creates a new HTTP server instance
func NewServer(configManager domain.ConfigManager, deps Dependencies) *Server {
	cfg := configManager.GetConfig()

	// Set Gin mode based on environment
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Add middleware
	router.Use(gin.Recovery())
	router.Use(middleware.AuditLogger())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CorrelationID())
	router.Use(middleware.RequestTimeout(cfg.Server.RequestTimeout))
	router.Use(corsMiddleware())

	server := &Server{
		configManager:  configManager,
		router:         router,
		analyzer:       deps.Analyzer,
		feedbackStore:  deps.Feedback,
		hub:            deps.Hub,
		logger:         deps.Logger,
		dbHealth:       deps.DatabaseHealth,
		cachePing:      deps.CachePing,
		predictionPing: deps.PredictionPing,
		breakerStates:  deps.BreakerStates,
		cacheStats:     deps.CacheStats,
	}

	// Setup routes
	server.setupRoutes()

	return server
}

// Start starts the HTTP server and blocks until the context is
// cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	cfg := s.configManager.GetServerConfig()
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", addr).Info("HTTP server listening")
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return s.server.Shutdown(shutdownCtx)
}

// Handler exposes the router, primarily for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	cfg := s.configManager.GetServerConfig()

	// Health check endpoint
	s.router.GET("/health", s.handleHealth)

	// Live pipeline progress
	s.router.GET("/ws/analyses/:id/progress", s.handleProgressStream)

	// API v1 routes
	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/analyses", middleware.MaxUploadSize(cfg.MaxUploadBytes), s.handleCreateAnalysis)
		v1.GET("/analyses", s.handleListAnalyses)
		v1.GET("/analyses/:id", s.handleGetAnalysis)
		v1.DELETE("/analyses/:id", s.handleDeleteAnalysis)

		v1.GET("/reference-ranges/:labType", s.handleReferenceRanges)
		v1.GET("/cache/stats", s.handleCacheStats)

		v1.POST("/feedback", s.handleSaveFeedback)
		v1.GET("/feedback", s.handleListFeedback)
		v1.GET("/feedback/stats", s.handleFeedbackStats)
		v1.GET("/feedback/export", s.handleExportFeedback)
		v1.POST("/feedback/import", s.handleImportFeedback)
	}
}

// corsMiddleware adds CORS headers to responses
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, X-API-Key")
		c.Header("Access-Control-Expose-Headers", "Content-Length")
		c.Header("Access-Control-Allow-Credentials", "true")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
