package config

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"

	"progresskit/adapters/sqlx"
	"progresskit/core"
)

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	var errs []string

	if s.Address == "" {
		errs = append(errs, "address cannot be empty")
	}
	if s.ReadTimeout <= 0 {
		errs = append(errs, "read_timeout must be positive")
	}
	if s.WriteTimeout <= 0 {
		errs = append(errs, "write_timeout must be positive")
	}
	if s.IdleTimeout <= 0 {
		errs = append(errs, "idle_timeout must be positive")
	}
	if s.ReadHeaderTimeout <= 0 {
		errs = append(errs, "read_header_timeout must be positive")
	}
	if s.ShutdownTimeout <= 0 {
		errs = append(errs, "shutdown_timeout must be positive")
	}
	if s.MaxBodyBytes < 0 {
		errs = append(errs, "max_body_bytes cannot be negative")
	}

	return joinErrs(errs)
}

// Validate validates storage configuration
func (s *StorageConfig) Validate() error {
	var errs []string

	validAdapters := []string{AdapterMemory, AdapterRedis, AdapterSQL, AdapterFile}
	if !slices.Contains(validAdapters, s.Adapter) {
		errs = append(errs, fmt.Sprintf("adapter must be one of: %s", strings.Join(validAdapters, ", ")))
	}

	switch s.Adapter {
	case AdapterFile:
		if err := s.File.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("file config: %v", err))
		}
	case AdapterRedis:
		if s.Redis.Addr == "" {
			errs = append(errs, "redis config: addr cannot be empty")
		}
	case AdapterSQL:
		switch s.SQL.Driver {
		case sqlx.DriverPostgres, sqlx.DriverPgx, sqlx.DriverMySQL:
		default:
			errs = append(errs, fmt.Sprintf("sql config: unsupported driver %q", s.SQL.Driver))
		}
		if s.SQL.DSN == "" {
			errs = append(errs, "sql config: dsn cannot be empty")
		}
	}

	return joinErrs(errs)
}

// Validate validates file storage configuration
func (f *FileConfig) Validate() error {
	if f.Path == "" {
		return errors.New("path cannot be empty")
	}
	return nil
}

// Validate validates engine tuning.
func (e *EngineConfig) Validate() error {
	var errs []string
	if e.MaxRetries < 0 {
		errs = append(errs, "max_retries cannot be negative")
	}
	if e.InitialBackoff <= 0 {
		errs = append(errs, "initial_backoff must be positive")
	}
	if e.MaxBackoff < e.InitialBackoff {
		errs = append(errs, "max_backoff must be >= initial_backoff")
	}
	if e.StoreTimeout <= 0 {
		errs = append(errs, "store_timeout must be positive")
	}
	if e.CatalogPath != "" && !strings.HasSuffix(strings.ToLower(e.CatalogPath), ".json") {
		errs = append(errs, "catalog_path must be a .json file")
	}
	return joinErrs(errs)
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	var errs []string

	if levels := []string{"debug", "info", "warn", "error"}; !slices.Contains(levels, l.Level) {
		errs = append(errs, fmt.Sprintf("level must be one of: %s", strings.Join(levels, ", ")))
	}
	if formats := []string{"json", "text"}; !slices.Contains(formats, l.Format) {
		errs = append(errs, fmt.Sprintf("format must be one of: %s", strings.Join(formats, ", ")))
	}
	if outputs := []string{"stdout", "stderr"}; !slices.Contains(outputs, l.Output) {
		errs = append(errs, fmt.Sprintf("output must be one of: %s", strings.Join(outputs, ", ")))
	}

	return joinErrs(errs)
}

// Validate validates analytics configuration
func (a *AnalyticsConfig) Validate() error {
	if !a.Enabled {
		return nil
	}
	var errs []string
	if a.AggregateInterval <= 0 {
		errs = append(errs, "aggregate_interval must be positive when analytics are enabled")
	}
	if a.ExportEndpoint != "" {
		if err := validateURL(a.ExportEndpoint); err != nil {
			errs = append(errs, fmt.Sprintf("export_endpoint: %v", err))
		}
		if a.ExportBatchSize <= 0 {
			errs = append(errs, "export_batch_size must be > 0")
		}
	}
	return joinErrs(errs)
}

// Validate validates security settings.
func (s SecurityConfig) Validate() error {
	var errs []string
	if s.EnableRateLimit {
		if s.RateLimit.RequestsPerMinute <= 0 {
			errs = append(errs, "rate_limit.requests_per_minute must be > 0 when rate limiting is enabled")
		}
		if s.RateLimit.BurstSize <= 0 {
			errs = append(errs, "rate_limit.burst_size must be > 0 when rate limiting is enabled")
		}
	}
	for i, key := range s.APIKeys {
		if strings.TrimSpace(key) == "" {
			errs = append(errs, fmt.Sprintf("api_keys[%d] is empty", i))
		}
	}
	for i, key := range s.AdminKeys {
		if strings.TrimSpace(key) == "" {
			errs = append(errs, fmt.Sprintf("admin_keys[%d] is empty", i))
		}
	}
	return joinErrs(errs)
}

// Validate validates outbound integrations.
func (i *IntegrationsConfig) Validate() error {
	var errs []string
	w := i.Webhooks
	for n, ep := range w.Endpoints {
		if err := validateURL(ep); err != nil {
			errs = append(errs, fmt.Sprintf("webhooks.endpoints[%d]: %v", n, err))
		}
	}
	known := core.EventTypes()
	for _, ev := range w.Events {
		if !slices.Contains(known, core.EventType(ev)) {
			errs = append(errs, fmt.Sprintf("webhooks.events: unknown event type %q", ev))
		}
	}
	if len(w.Endpoints) > 0 {
		if w.Timeout <= 0 {
			errs = append(errs, "webhooks.timeout must be positive")
		}
		if w.MaxTries <= 0 {
			errs = append(errs, "webhooks.max_tries must be > 0")
		}
	}
	return joinErrs(errs)
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("host cannot be empty")
	}
	return nil
}

func joinErrs(errs []string) error {
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}
