package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Redis         RedisConfig         `yaml:"redis"`
	Engine        EngineConfig        `yaml:"engine"`
	Notifications NotificationsConfig `yaml:"notifications"`
	SES           SESConfig           `yaml:"ses"`
	Logging       LoggingConfig       `yaml:"logging"`
	Storage       StorageConfig       `yaml:"storage"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
	// AllowedOrigins feeds the CORS middleware.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// GetHost returns the server host, with ECS detection
func (c ServerConfig) GetHost() string {
	// On ECS/container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	// Allow override via environment
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// RedisConfig holds Redis connection settings. Redis backs the plan
// counters and the optional series lock.
type RedisConfig struct {
	URL     string `yaml:"url"`
	Enabled bool   `yaml:"enabled"`
}

// EngineConfig holds the occurrence engine limits
type EngineConfig struct {
	// MaxOccurrences is the ceiling on occurrences a single rule may produce.
	MaxOccurrences       int  `yaml:"max_occurrences"`
	SeriesLockEnabled    bool `yaml:"series_lock_enabled"`
	SeriesLockTTLSeconds int  `yaml:"series_lock_ttl_seconds"`
}

// SeriesLockTTL returns the lock TTL as a duration
func (c EngineConfig) SeriesLockTTL() time.Duration {
	return time.Duration(c.SeriesLockTTLSeconds) * time.Second
}

// NotificationsConfig holds the dispatcher and sink settings
type NotificationsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Workers   int    `yaml:"workers"`
	QueueSize int    `yaml:"queue_size"`
	Sink      string `yaml:"sink"` // "log" or "ses"
	FromEmail string `yaml:"from_email"`
	// TemplatePrefix is prepended to the template name stored in SES.
	TemplatePrefix         string `yaml:"template_prefix"`
	DeliveryTimeoutSeconds int    `yaml:"delivery_timeout_seconds"`
}

// DeliveryTimeout returns the per-notification delivery timeout
func (c NotificationsConfig) DeliveryTimeout() time.Duration {
	return time.Duration(c.DeliveryTimeoutSeconds) * time.Second
}

// SESConfig holds AWS SES API configuration
type SESConfig struct {
	Region         string `yaml:"region"`
	AccessKey      string `yaml:"access_key"`
	SecretKey      string `yaml:"secret_key"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the configured timeout as a duration
func (c SESConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// LoggingConfig holds log output settings
type LoggingConfig struct {
	Level     string `yaml:"level"`
	RedactPII bool   `yaml:"redact_pii"`
}

// StorageConfig selects the persistence backend
type StorageConfig struct {
	Type string `yaml:"type"` // "postgres" or "memory"
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 20
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Engine.MaxOccurrences == 0 {
		cfg.Engine.MaxOccurrences = 365
	}
	if cfg.Engine.SeriesLockTTLSeconds == 0 {
		cfg.Engine.SeriesLockTTLSeconds = 30
	}
	if cfg.Notifications.Workers == 0 {
		cfg.Notifications.Workers = 4
	}
	if cfg.Notifications.QueueSize == 0 {
		cfg.Notifications.QueueSize = 1000
	}
	if cfg.Notifications.Sink == "" {
		cfg.Notifications.Sink = "log"
	}
	if cfg.Notifications.DeliveryTimeoutSeconds == 0 {
		cfg.Notifications.DeliveryTimeoutSeconds = 10
	}
	if cfg.SES.TimeoutSeconds == 0 {
		cfg.SES.TimeoutSeconds = 30
	}
	if cfg.SES.Region == "" {
		cfg.SES.Region = "us-west-2"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Storage.Type == "" {
		cfg.Storage.Type = "postgres"
	}

	if cfg.Engine.MaxOccurrences <= 0 {
		return nil, fmt.Errorf("engine.max_occurrences must be positive, got %d", cfg.Engine.MaxOccurrences)
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars on ECS.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	// Database override (critical for ECS deployment where config.yaml has local defaults)
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		cfg.Database.URL = dbURL
	}
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		cfg.Redis.URL = redisURL
		cfg.Redis.Enabled = true
	}
	if v := os.Getenv("PLANNER_MAX_OCCURRENCES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Engine.MaxOccurrences = n
		}
	}
	if accessKey := os.Getenv("AWS_SES_ACCESS_KEY"); accessKey != "" {
		cfg.SES.AccessKey = accessKey
	}
	if secretKey := os.Getenv("AWS_SES_SECRET_KEY"); secretKey != "" {
		cfg.SES.SecretKey = secretKey
	}
	if region := os.Getenv("AWS_SES_REGION"); region != "" {
		cfg.SES.Region = region
	}
	if from := os.Getenv("NOTIFY_FROM_EMAIL"); from != "" {
		cfg.Notifications.FromEmail = from
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}

	return cfg, nil
}
