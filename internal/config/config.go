package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"price-tracker-api/internal/logger"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `json:"server" yaml:"server"`
	Database  DatabaseConfig  `json:"database" yaml:"database"`
	Security  SecurityConfig  `json:"security" yaml:"security"`
	RateLimit RateLimitConfig `json:"rate_limit" yaml:"rate_limit"`
	Logging   logger.Config   `json:"logging" yaml:"logging"`
	Redis     RedisConfig     `json:"redis" yaml:"redis"`
	Tracing   TracingConfig   `json:"tracing" yaml:"tracing"`
	Telegram  TelegramConfig  `json:"telegram" yaml:"telegram"`
	Reconcile ReconcileConfig `json:"reconcile" yaml:"reconcile"`
	Features  FeaturesConfig  `json:"features" yaml:"features"`
	Ingest    IngestConfig    `json:"ingest" yaml:"ingest"`
}

// ServerConfig holds server-related configuration.
type ServerConfig struct {
	Port      string `json:"port" yaml:"port"`
	Host      string `json:"host" yaml:"host"`
	EnableTLS bool   `json:"enable_tls" yaml:"enable_tls"`
	CertFile  string `json:"cert_file" yaml:"cert_file"`
	KeyFile   string `json:"key_file" yaml:"key_file"`
}

// DatabaseConfig holds database-related configuration.
type DatabaseConfig struct {
	Path string `json:"path" yaml:"path"`
	// BusyTimeoutMS is how long sqlite waits on a locked database.
	BusyTimeoutMS int `json:"busy_timeout_ms" yaml:"busy_timeout_ms"`
}

// SecurityConfig holds security-related configuration.
type SecurityConfig struct {
	MaxRequestBodySize int64  `json:"max_request_body_size" yaml:"max_request_body_size"`
	AllowedOrigins     string `json:"allowed_origins" yaml:"allowed_origins"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	Rate    int  `json:"rate" yaml:"rate"`
	Window  int  `json:"window" yaml:"window"` // in seconds
}

// RedisConfig selects the cache backend. Disabled means in-memory.
type RedisConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	Addr       string `json:"addr" yaml:"addr"`
	Password   string `json:"password" yaml:"password"`
	DB         int    `json:"db" yaml:"db"`
	TTLSeconds int    `json:"ttl_seconds" yaml:"ttl_seconds"`
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled" yaml:"enabled"`
	Endpoint    string `json:"endpoint" yaml:"endpoint"`
	ServiceName string `json:"service_name" yaml:"service_name"`
	Environment string `json:"environment" yaml:"environment"`
}

// TelegramConfig enables the Telegram notification dispatcher.
type TelegramConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Token   string `json:"token" yaml:"token"`
}

// ReconcileConfig bounds the identity-key conflict retry loop.
type ReconcileConfig struct {
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts"`
}

// FeaturesConfig seeds the feature flag manager.
type FeaturesConfig struct {
	CacheEnabled      bool `json:"cache_enabled" yaml:"cache_enabled"`
	EventHooksEnabled bool `json:"event_hooks_enabled" yaml:"event_hooks_enabled"`
	NotificationDedup bool `json:"notification_dedup" yaml:"notification_dedup"`
}

// IngestConfig bounds concurrent per-source ingestion.
type IngestConfig struct {
	Concurrency int `json:"concurrency" yaml:"concurrency"`
}

// LoadConfig loads configuration from environment variables and/or config file.
// A .env file in the working directory is loaded first if present.
// Environment variables take precedence over config file values.
func LoadConfig(configFile string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:      getEnv("SERVER_PORT", "8080"),
			Host:      getEnv("SERVER_HOST", ""),
			EnableTLS: getEnvBool("SERVER_ENABLE_TLS", false),
			CertFile:  getEnv("SERVER_CERT_FILE", ""),
			KeyFile:   getEnv("SERVER_KEY_FILE", ""),
		},
		Database: DatabaseConfig{
			Path:          getEnv("DATABASE_PATH", "./price_tracker.db"),
			BusyTimeoutMS: getEnvInt("DATABASE_BUSY_TIMEOUT_MS", 5000),
		},
		Security: SecurityConfig{
			MaxRequestBodySize: getEnvInt64("MAX_REQUEST_BODY_SIZE", 10<<20),
			AllowedOrigins:     getEnv("ALLOWED_ORIGINS", "*"),
		},
		RateLimit: RateLimitConfig{
			Enabled: getEnvBool("RATE_LIMIT_ENABLED", true),
			Rate:    getEnvInt("RATE_LIMIT_RATE", 100),
			Window:  getEnvInt("RATE_LIMIT_WINDOW", 60),
		},
		Logging: logger.Config{
			Level:       getEnv("LOG_LEVEL", "info"),
			Development: getEnvBool("LOG_DEVELOPMENT", false),
		},
		Redis: RedisConfig{
			Enabled:    getEnvBool("REDIS_ENABLED", false),
			Addr:       getEnv("REDIS_ADDR", "localhost:6379"),
			Password:   getEnv("REDIS_PASSWORD", ""),
			DB:         getEnvInt("REDIS_DB", 0),
			TTLSeconds: getEnvInt("CACHE_TTL_SECONDS", 300),
		},
		Tracing: TracingConfig{
			Enabled:     getEnvBool("TRACING_ENABLED", false),
			Endpoint:    getEnv("TRACING_ENDPOINT", "http://localhost:14268/api/traces"),
			ServiceName: getEnv("TRACING_SERVICE_NAME", "price-tracker-api"),
			Environment: getEnv("ENVIRONMENT", "development"),
		},
		Telegram: TelegramConfig{
			Enabled: getEnvBool("TELEGRAM_ENABLED", false),
			Token:   getEnv("TELEGRAM_BOT_TOKEN", ""),
		},
		Reconcile: ReconcileConfig{
			MaxAttempts: getEnvInt("RECONCILE_MAX_ATTEMPTS", 3),
		},
		Features: FeaturesConfig{
			CacheEnabled:      getEnvBool("FEATURE_CACHE_ENABLED", true),
			EventHooksEnabled: getEnvBool("FEATURE_EVENT_HOOKS_ENABLED", true),
			NotificationDedup: getEnvBool("FEATURE_NOTIFICATION_DEDUP", true),
		},
		Ingest: IngestConfig{
			Concurrency: getEnvInt("INGEST_CONCURRENCY", 4),
		},
	}

	if configFile != "" {
		if err := loadFromFile(configFile, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	overrideFromEnv(cfg)

	return cfg, nil
}

// loadFromFile loads configuration from a YAML or JSON file, chosen by extension.
func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yml", ".yaml":
		return yaml.Unmarshal(data, cfg)
	default:
		return json.Unmarshal(data, cfg)
	}
}

// overrideFromEnv re-applies environment variables that are explicitly set so
// they win over file values.
func overrideFromEnv(cfg *Config) {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			*dst = strings.ToLower(v) == "true" || v == "1"
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if i, err := strconv.Atoi(v); err == nil {
				*dst = i
			}
		}
	}

	setString("SERVER_PORT", &cfg.Server.Port)
	setString("SERVER_HOST", &cfg.Server.Host)
	setBool("SERVER_ENABLE_TLS", &cfg.Server.EnableTLS)
	setString("SERVER_CERT_FILE", &cfg.Server.CertFile)
	setString("SERVER_KEY_FILE", &cfg.Server.KeyFile)
	setString("DATABASE_PATH", &cfg.Database.Path)
	setInt("DATABASE_BUSY_TIMEOUT_MS", &cfg.Database.BusyTimeoutMS)
	if maxBodySize := os.Getenv("MAX_REQUEST_BODY_SIZE"); maxBodySize != "" {
		if size, err := strconv.ParseInt(maxBodySize, 10, 64); err == nil {
			cfg.Security.MaxRequestBodySize = size
		}
	}
	setString("ALLOWED_ORIGINS", &cfg.Security.AllowedOrigins)
	setBool("RATE_LIMIT_ENABLED", &cfg.RateLimit.Enabled)
	setInt("RATE_LIMIT_RATE", &cfg.RateLimit.Rate)
	setInt("RATE_LIMIT_WINDOW", &cfg.RateLimit.Window)
	setString("LOG_LEVEL", &cfg.Logging.Level)
	setBool("LOG_DEVELOPMENT", &cfg.Logging.Development)
	setBool("REDIS_ENABLED", &cfg.Redis.Enabled)
	setString("REDIS_ADDR", &cfg.Redis.Addr)
	setString("REDIS_PASSWORD", &cfg.Redis.Password)
	setInt("REDIS_DB", &cfg.Redis.DB)
	setInt("CACHE_TTL_SECONDS", &cfg.Redis.TTLSeconds)
	setBool("TRACING_ENABLED", &cfg.Tracing.Enabled)
	setString("TRACING_ENDPOINT", &cfg.Tracing.Endpoint)
	setString("TRACING_SERVICE_NAME", &cfg.Tracing.ServiceName)
	setString("ENVIRONMENT", &cfg.Tracing.Environment)
	setBool("TELEGRAM_ENABLED", &cfg.Telegram.Enabled)
	setString("TELEGRAM_BOT_TOKEN", &cfg.Telegram.Token)
	setInt("RECONCILE_MAX_ATTEMPTS", &cfg.Reconcile.MaxAttempts)
	setBool("FEATURE_CACHE_ENABLED", &cfg.Features.CacheEnabled)
	setBool("FEATURE_EVENT_HOOKS_ENABLED", &cfg.Features.EventHooksEnabled)
	setBool("FEATURE_NOTIFICATION_DEDUP", &cfg.Features.NotificationDedup)
	setInt("INGEST_CONCURRENCY", &cfg.Ingest.Concurrency)
}

// getEnv gets an environment variable or returns the default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable or returns the default value.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt gets an integer environment variable or returns the default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

// getEnvInt64 gets an int64 environment variable or returns the default value.
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.EnableTLS && (c.Server.CertFile == "" || c.Server.KeyFile == "") {
		return fmt.Errorf("cert and key files are required when TLS is enabled")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}
	if c.RateLimit.Enabled {
		if c.RateLimit.Rate <= 0 {
			return fmt.Errorf("rate limit rate must be positive")
		}
		if c.RateLimit.Window <= 0 {
			return fmt.Errorf("rate limit window must be positive")
		}
	}
	if c.Reconcile.MaxAttempts <= 0 {
		return fmt.Errorf("reconcile max attempts must be positive")
	}
	if c.Ingest.Concurrency <= 0 {
		return fmt.Errorf("ingest concurrency must be positive")
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis address is required when redis is enabled")
	}
	if c.Telegram.Enabled && c.Telegram.Token == "" {
		return fmt.Errorf("telegram token is required when telegram is enabled")
	}
	return nil
}
