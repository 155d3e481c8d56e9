package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/mediscan/analysis-server/internal/domain"
)

// Manager implements the ConfigManager interface using Viper
type Manager struct {
	config *domain.Config
}

// NewManager creates a new configuration manager
func NewManager() (*Manager, error) {
	m := &Manager{}
	if err := m.loadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return m, nil
}

// loadConfig loads configuration from various sources
func (m *Manager) loadConfig() error {
	// Set configuration file name and paths
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/mediscan-analysis/")

	// Set environment variable prefix and enable automatic env binding
	viper.SetEnvPrefix("MEDISCAN")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Set default values
	m.setDefaults()

	// Read configuration file (optional - will use defaults and env vars if not found)
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; using defaults and environment variables
	}

	// Unmarshal configuration into struct
	config := &domain.Config{}
	if err := viper.Unmarshal(config); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.config = config
	return nil
}

// setDefaults sets default configuration values
func (m *Manager) setDefaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.idle_timeout", "120s")
	viper.SetDefault("server.request_timeout", "60s")
	viper.SetDefault("server.max_upload_bytes", 10*1024*1024)
	viper.SetDefault("server.tls_enabled", false)

	// Database defaults
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.database", "mediscan_analysis")
	viper.SetDefault("database.username", "postgres")
	viper.SetDefault("database.password", "")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", "5m")

	// External API defaults
	viper.SetDefault("external_api.ocr.base_url", "http://localhost:8090")
	viper.SetDefault("external_api.ocr.timeout", "60s")
	viper.SetDefault("external_api.ocr.rate_limit", 5)

	viper.SetDefault("external_api.prediction.base_url", "http://localhost:5001")
	viper.SetDefault("external_api.prediction.timeout", "30s")
	viper.SetDefault("external_api.prediction.rate_limit", 10)
	viper.SetDefault("external_api.prediction.use_ensemble", false)

	viper.SetDefault("external_api.narrative.base_url", "http://localhost:8091")
	viper.SetDefault("external_api.narrative.model", "clinical-summary-v2")
	viper.SetDefault("external_api.narrative.timeout", "90s")
	viper.SetDefault("external_api.narrative.rate_limit", 2)

	// Cache defaults
	viper.SetDefault("cache.redis_url", "redis://localhost:6379")
	viper.SetDefault("cache.default_ttl", "24h")
	viper.SetDefault("cache.max_retries", 3)
	viper.SetDefault("cache.pool_size", 10)
	viper.SetDefault("cache.pool_timeout", "4s")
	viper.SetDefault("cache.memory_size", 500)

	// Feedback defaults
	viper.SetDefault("feedback.backend", "sqlite")
	viper.SetDefault("feedback.sqlite_path", "./data/feedback.db")

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.output", "stdout")
}

// GetConfig returns the complete configuration
func (m *Manager) GetConfig() *domain.Config {
	return m.config
}

// GetDatabaseConfig returns database configuration
func (m *Manager) GetDatabaseConfig() *domain.DatabaseConfig {
	return &m.config.Database
}

// GetExternalAPIConfig returns external API configuration
func (m *Manager) GetExternalAPIConfig() *domain.ExternalAPIConfig {
	return &m.config.ExternalAPI
}

// GetServerConfig returns server configuration
func (m *Manager) GetServerConfig() *domain.ServerConfig {
	return &m.config.Server
}

// Reload reloads the configuration
func (m *Manager) Reload() error {
	return m.loadConfig()
}

// Validate validates the configuration
func (m *Manager) Validate() error {
	config := m.config

	// Validate server configuration
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}
	if config.Server.MaxUploadBytes <= 0 {
		return fmt.Errorf("invalid max upload size: %d", config.Server.MaxUploadBytes)
	}

	// Validate database configuration
	if config.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if config.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}
	if config.Database.Username == "" {
		return fmt.Errorf("database username is required")
	}

	// Validate external API URLs
	if config.ExternalAPI.OCR.BaseURL == "" {
		return fmt.Errorf("OCR service base URL is required")
	}
	if config.ExternalAPI.Prediction.BaseURL == "" {
		return fmt.Errorf("prediction service base URL is required")
	}
	if config.ExternalAPI.Narrative.BaseURL == "" {
		return fmt.Errorf("narrative service base URL is required")
	}

	// Validate feedback configuration
	switch config.Feedback.Backend {
	case "sqlite":
		if config.Feedback.SQLitePath == "" {
			return fmt.Errorf("sqlite feedback path is required")
		}
	case "postgres":
	default:
		return fmt.Errorf("invalid feedback backend: %s", config.Feedback.Backend)
	}

	// Validate logging configuration
	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(config.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", config.Logging.Level)
	}

	return nil
}

// GetDatabaseConnectionString returns a formatted database connection string
func (m *Manager) GetDatabaseConnectionString() string {
	db := m.config.Database
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		db.Host, db.Port, db.Username, db.Password, db.Database, db.SSLMode)
}

// GetDatabaseURL returns the database connection string in URL form,
// as expected by the migration runner and the feedback store.
func (m *Manager) GetDatabaseURL() string {
	db := m.config.Database
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		db.Username, db.Password, db.Host, db.Port, db.Database, db.SSLMode)
}

// GetRedisConnectionString returns the Redis connection string
func (m *Manager) GetRedisConnectionString() string {
	return m.config.Cache.RedisURL
}

// IsProduction returns true if running in production mode
func (m *Manager) IsProduction() bool {
	return strings.ToLower(viper.GetString("environment")) == "production"
}

// IsDevelopment returns true if running in development mode
func (m *Manager) IsDevelopment() bool {
	env := strings.ToLower(viper.GetString("environment"))
	return env == "development" || env == "dev" || env == ""
}
