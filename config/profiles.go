package config

import (
	"fmt"
	"time"
)

// LoadProfile returns a preset configuration for a named environment.
// Environment variables are not applied; see ApplyEnv.
func LoadProfile(name string) (*Config, error) {
	cfg := DefaultConfig()
	cfg.Profile = name

	switch Environment(name) {
	case EnvDevelopment:
		cfg.Environment = EnvDevelopment
		cfg.Logging.Level = "debug"
		cfg.Logging.Format = "text"

	case EnvTesting:
		cfg.Environment = EnvTesting
		cfg.Server.Address = "127.0.0.1:0"
		cfg.Logging.Level = "warn"
		cfg.Engine.AsyncEvents = false
		cfg.Analytics.Enabled = false

	case EnvStaging:
		cfg.Environment = EnvStaging
		cfg.Storage.Adapter = AdapterRedis
		cfg.Security.EnableRateLimit = true
		cfg.Analytics.AggregateInterval = 15 * time.Minute
		cfg.Analytics.LogReports = true

	case EnvProduction:
		cfg.Environment = EnvProduction
		cfg.Server.CORSOrigin = ""
		cfg.Storage.Adapter = AdapterSQL
		cfg.Security.EnableRateLimit = true
		cfg.Security.RateLimit = RateLimitConfig{RequestsPerMinute: 120, BurstSize: 20}
		cfg.Logging.Level = "info"
		cfg.Logging.Format = "json"

	default:
		return nil, fmt.Errorf("unknown profile %q", name)
	}

	return cfg, nil
}

// ApplyEnv overlays environment variables onto cfg and validates the result.
func ApplyEnv(cfg *Config) error {
	if err := loadFromEnv(cfg); err != nil {
		return fmt.Errorf("failed to load config from environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
