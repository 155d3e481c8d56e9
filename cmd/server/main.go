package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/mediscan/analysis-server/internal/api"
	"github.com/mediscan/analysis-server/internal/config"
	"github.com/mediscan/analysis-server/internal/database"
	"github.com/mediscan/analysis-server/internal/domain"
	"github.com/mediscan/analysis-server/internal/feedback"
	"github.com/mediscan/analysis-server/internal/repository"
	"github.com/mediscan/analysis-server/internal/service"
	"github.com/mediscan/analysis-server/pkg/external"
)

func main() {
	// Load configuration
	configManager, err := config.NewManager()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Validate configuration
	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	cfg := configManager.GetConfig()
	logger := newLogger(cfg.Logging)

	logger.WithFields(logrus.Fields{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("Starting MEDiscan analysis server")

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database connection and migrations
	db, err := database.NewConnection(ctx, cfg.Database, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	migrator, err := database.NewMigrationRunner(configManager.GetDatabaseURL(), "migrations", logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize migration runner")
	}
	if err := migrator.Up(); err != nil {
		logger.WithError(err).Fatal("Failed to run database migrations")
	}
	migrator.Close()

	// Collaborator clients behind circuit breakers
	clients := external.NewResilientAnalysisClient(cfg.ExternalAPI, logger)

	// Prediction cache: memory tier always, redis tier when reachable
	var redisTier service.PredictionCache
	var cachePing func(ctx context.Context) error
	cacheClient, err := external.NewCacheClient(cfg.Cache)
	if err != nil {
		logger.WithError(err).Warn("Redis unavailable, running with memory cache only")
	} else {
		defer cacheClient.Close()
		redisTier = cacheClient
		cachePing = cacheClient.Ping
	}

	predictor, err := service.NewCachedRiskPredictor(clients, redisTier, service.PredictionCacheConfig{
		MemorySize: cfg.Cache.MemorySize,
		RedisTTL:   cfg.Cache.DefaultTTL,
	}, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize prediction cache")
	}

	// Feedback store
	feedbackStore, err := newFeedbackStore(configManager)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize feedback store")
	}
	defer feedbackStore.Close()

	// Analysis pipeline
	repo := repository.NewAnalysisRepository(db.Pool, logger)
	hub := api.NewProgressHub(logger)
	analyzer := service.NewReportAnalyzer(clients, predictor, clients, repo, hub, logger)

	server := api.NewServer(configManager, api.Dependencies{
		Analyzer:       analyzer,
		Feedback:       feedbackStore,
		Hub:            hub,
		Logger:         logger,
		DatabaseHealth: db.Health,
		CachePing:      cachePing,
		PredictionPing: clients.PingPrediction,
		BreakerStates:  clients.GetCircuitBreakerStates,
		CacheStats:     predictor.GetCacheStats,
	})

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, gracefully shutting down")
		cancel()
	}()

	// Start server
	if err := server.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Server failed")
	}

	logger.Info("Server stopped")
}

// newLogger builds the application logger from config.
func newLogger(cfg domain.LoggingConfig) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	if cfg.Output == "stderr" {
		logger.SetOutput(os.Stderr)
	} else {
		logger.SetOutput(os.Stdout)
	}

	return logger
}

// newFeedbackStore selects the feedback backend from config.
func newFeedbackStore(configManager *config.Manager) (feedback.Store, error) {
	cfg := configManager.GetConfig()
	switch cfg.Feedback.Backend {
	case "postgres":
		return feedback.NewPostgresStoreFromURL(configManager.GetDatabaseURL())
	default:
		return feedback.NewSQLiteStore(cfg.Feedback.SQLitePath)
	}
}
