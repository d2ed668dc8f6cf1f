package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"progresskit/adapters/redis"
	"progresskit/adapters/sqlx"
)

// Environment represents the deployment environment
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// Config holds the complete application configuration
type Config struct {
	// Environment and profile settings
	Environment Environment `json:"environment" env:"PROGRESSKIT_ENV"`
	Profile     string      `json:"profile" env:"PROGRESSKIT_PROFILE"`

	Server       ServerConfig       `json:"server"`
	Storage      StorageConfig      `json:"storage"`
	Engine       EngineConfig       `json:"engine"`
	Logging      LoggingConfig      `json:"logging"`
	Analytics    AnalyticsConfig    `json:"analytics"`
	Security     SecurityConfig     `json:"security"`
	Integrations IntegrationsConfig `json:"integrations"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Address           string        `json:"address" env:"PROGRESSKIT_SERVER_ADDR"`
	PathPrefix        string        `json:"path_prefix" env:"PROGRESSKIT_SERVER_PATH_PREFIX"`
	CORSOrigin        string        `json:"cors_origin" env:"PROGRESSKIT_SERVER_CORS_ORIGIN"`
	ReadTimeout       time.Duration `json:"read_timeout" env:"PROGRESSKIT_SERVER_READ_TIMEOUT"`
	WriteTimeout      time.Duration `json:"write_timeout" env:"PROGRESSKIT_SERVER_WRITE_TIMEOUT"`
	IdleTimeout       time.Duration `json:"idle_timeout" env:"PROGRESSKIT_SERVER_IDLE_TIMEOUT"`
	ReadHeaderTimeout time.Duration `json:"read_header_timeout" env:"PROGRESSKIT_SERVER_READ_HEADER_TIMEOUT"`
	ShutdownTimeout   time.Duration `json:"shutdown_timeout" env:"PROGRESSKIT_SERVER_SHUTDOWN_TIMEOUT"`
	MaxBodyBytes      int64         `json:"max_body_bytes" env:"PROGRESSKIT_SERVER_MAX_BODY_BYTES"`
}

// Storage adapter names.
const (
	AdapterMemory = "memory"
	AdapterRedis  = "redis"
	AdapterSQL    = "sql"
	AdapterFile   = "file"
)

// StorageConfig holds storage adapter configuration
type StorageConfig struct {
	Adapter string       `json:"adapter" env:"PROGRESSKIT_STORAGE_ADAPTER"`
	Redis   redis.Config `json:"redis,omitempty"`
	SQL     sqlx.Config  `json:"sql,omitempty"`
	File    FileConfig   `json:"file,omitempty"`
}

// FileConfig holds JSON file storage configuration
type FileConfig struct {
	Path string `json:"path" env:"PROGRESSKIT_STORAGE_FILE_PATH"`
}

// EngineConfig tunes the progression engine.
type EngineConfig struct {
	MaxRetries     int           `json:"max_retries" env:"PROGRESSKIT_ENGINE_MAX_RETRIES"`
	InitialBackoff time.Duration `json:"initial_backoff" env:"PROGRESSKIT_ENGINE_INITIAL_BACKOFF"`
	MaxBackoff     time.Duration `json:"max_backoff" env:"PROGRESSKIT_ENGINE_MAX_BACKOFF"`
	StoreTimeout   time.Duration `json:"store_timeout" env:"PROGRESSKIT_ENGINE_STORE_TIMEOUT"`
	// CatalogPath is an optional JSON achievement catalog; empty uses the built-ins.
	CatalogPath string `json:"catalog_path,omitempty" env:"PROGRESSKIT_ENGINE_CATALOG_PATH"`
	// AsyncEvents dispatches events on worker goroutines.
	AsyncEvents bool `json:"async_events" env:"PROGRESSKIT_ENGINE_ASYNC_EVENTS"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string            `json:"level" env:"PROGRESSKIT_LOG_LEVEL"`
	Format     string            `json:"format" env:"PROGRESSKIT_LOG_FORMAT"`
	Output     string            `json:"output" env:"PROGRESSKIT_LOG_OUTPUT"`
	Attributes map[string]string `json:"attributes,omitempty" env:"PROGRESSKIT_LOG_ATTRIBUTES"`
}

// AnalyticsConfig controls aggregation and export of progress metrics.
type AnalyticsConfig struct {
	Enabled           bool          `json:"enabled" env:"PROGRESSKIT_ANALYTICS_ENABLED"`
	AggregateInterval time.Duration `json:"aggregate_interval" env:"PROGRESSKIT_ANALYTICS_INTERVAL"`
	ExportEndpoint    string        `json:"export_endpoint,omitempty" env:"PROGRESSKIT_ANALYTICS_EXPORT_ENDPOINT"`
	ExportAPIKey      string        `json:"export_api_key,omitempty" env:"PROGRESSKIT_ANALYTICS_EXPORT_API_KEY"`
	ExportBatchSize   int           `json:"export_batch_size" env:"PROGRESSKIT_ANALYTICS_EXPORT_BATCH"`
	LogReports        bool          `json:"log_reports" env:"PROGRESSKIT_ANALYTICS_LOG_REPORTS"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	EnableRateLimit bool            `json:"enable_rate_limit" env:"PROGRESSKIT_SECURITY_RATE_LIMIT_ENABLED"`
	RateLimit       RateLimitConfig `json:"rate_limit,omitempty"`
	APIKeys         []string        `json:"api_keys,omitempty" env:"PROGRESSKIT_SECURITY_API_KEYS"`
	AdminKeys       []string        `json:"admin_keys,omitempty" env:"PROGRESSKIT_SECURITY_ADMIN_KEYS"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int `json:"requests_per_minute" env:"PROGRESSKIT_SECURITY_RATE_LIMIT_RPM"`
	BurstSize         int `json:"burst_size" env:"PROGRESSKIT_SECURITY_RATE_LIMIT_BURST"`
}

// IntegrationsConfig configures outbound event delivery.
type IntegrationsConfig struct {
	Webhooks WebhookConfig `json:"webhooks"`
}

// WebhookConfig holds webhook sink settings.
type WebhookConfig struct {
	Endpoints []string      `json:"endpoints,omitempty" env:"PROGRESSKIT_WEBHOOK_ENDPOINTS"`
	Secret    string        `json:"secret,omitempty" env:"PROGRESSKIT_WEBHOOK_SECRET"`
	Events    []string      `json:"events,omitempty" env:"PROGRESSKIT_WEBHOOK_EVENTS"`
	Timeout   time.Duration `json:"timeout" env:"PROGRESSKIT_WEBHOOK_TIMEOUT"`
	MaxTries  int           `json:"max_tries" env:"PROGRESSKIT_WEBHOOK_MAX_TRIES"`
}

// Load loads configuration from environment variables and validates it
func Load() (*Config, error) {
	cfg := DefaultConfig()

	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadDotEnv reads KEY=VALUE files into the process environment without
// overriding variables that are already set. Missing files are skipped.
func LoadDotEnv(paths ...string) error {
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		} else if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("stat %s: %w", p, err)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("load env files: %w", err)
	}
	return nil
}

// validateConfigPath validates that the config file path is safe
func validateConfigPath(path string) error {
	if path == "" {
		return errors.New("config file path cannot be empty")
	}

	cleanPath := filepath.Clean(path)

	if !strings.HasSuffix(strings.ToLower(cleanPath), ".json") {
		return errors.New("config file must have .json extension")
	}

	if _, err := os.Stat(cleanPath); err != nil {
		return fmt.Errorf("config file not accessible: %w", err)
	}

	return nil
}

// LoadFromFile loads configuration from a JSON file
func LoadFromFile(path string) (*Config, error) {
	if err := validateConfigPath(path); err != nil {
		return nil, fmt.Errorf("invalid config file path: %w", err)
	}

	file, err := os.Open(path) // #nosec G304 - Path validated above
	if err != nil {
		return nil, fmt.Errorf("failed to open config file %s: %w", path, err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	// Environment variables override file values
	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults for development
func DefaultConfig() *Config {
	return &Config{
		Environment: EnvDevelopment,
		Profile:     "default",
		Server: ServerConfig{
			Address:           ":8080",
			PathPrefix:        "/api",
			CORSOrigin:        "*",
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   30 * time.Second,
			MaxBodyBytes:      1 << 20,
		},
		Storage: StorageConfig{
			Adapter: AdapterMemory,
			Redis:   redis.DefaultConfig(),
			SQL:     sqlx.DefaultConfig(sqlx.DriverPostgres),
			File: FileConfig{
				Path: "./data/progresskit.json",
			},
		},
		Engine: EngineConfig{
			MaxRetries:     3,
			InitialBackoff: 10 * time.Millisecond,
			MaxBackoff:     200 * time.Millisecond,
			StoreTimeout:   5 * time.Second,
			AsyncEvents:    true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Analytics: AnalyticsConfig{
			Enabled:           true,
			AggregateInterval: time.Hour,
			ExportBatchSize:   10,
		},
		Security: SecurityConfig{
			EnableRateLimit: false,
			RateLimit: RateLimitConfig{
				RequestsPerMinute: 60,
				BurstSize:         10,
			},
			APIKeys: []string{},
		},
		Integrations: IntegrationsConfig{
			Webhooks: WebhookConfig{
				Timeout:  2 * time.Second,
				MaxTries: 3,
			},
		},
	}
}

// Validate validates the configuration and returns detailed error messages
func (c *Config) Validate() error {
	var errs []string

	if c.Environment == "" {
		errs = append(errs, "environment cannot be empty")
	}

	sections := []struct {
		name string
		err  error
	}{
		{"server", c.Server.Validate()},
		{"storage", c.Storage.Validate()},
		{"engine", c.Engine.Validate()},
		{"logging", c.Logging.Validate()},
		{"analytics", c.Analytics.Validate()},
		{"security", c.Security.Validate()},
		{"integrations", c.Integrations.Validate()},
	}
	for _, s := range sections {
		if s.err != nil {
			errs = append(errs, fmt.Sprintf("%s config: %v", s.name, s.err))
		}
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

const redacted = "[REDACTED]"

// String returns a JSON representation of the config (with secrets redacted)
func (c *Config) String() string {
	cfg := *c

	if cfg.Storage.SQL.DSN != "" {
		cfg.Storage.SQL.DSN = redacted
	}
	if cfg.Storage.Redis.Password != "" {
		cfg.Storage.Redis.Password = redacted
	}
	if cfg.Analytics.ExportAPIKey != "" {
		cfg.Analytics.ExportAPIKey = redacted
	}
	if cfg.Integrations.Webhooks.Secret != "" {
		cfg.Integrations.Webhooks.Secret = redacted
	}
	cfg.Security.APIKeys = redactAll(cfg.Security.APIKeys)
	cfg.Security.AdminKeys = redactAll(cfg.Security.AdminKeys)

	data, _ := json.MarshalIndent(cfg, "", "  ")
	return string(data)
}

func redactAll(keys []string) []string {
	if len(keys) == 0 {
		return keys
	}
	out := make([]string, len(keys))
	for i := range out {
		out[i] = redacted
	}
	return out
}
