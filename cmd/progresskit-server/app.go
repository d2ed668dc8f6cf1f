package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"progresskit/adapters/jsonfile"
	"progresskit/adapters/memory"
	redisAdapter "progresskit/adapters/redis"
	sqlxAdapter "progresskit/adapters/sqlx"
	"progresskit/analytics"
	"progresskit/api/httpapi"
	"progresskit/catalog"
	"progresskit/config"
	"progresskit/core"
	"progresskit/engine"
	"progresskit/gamify"
	"progresskit/integrations/webhook"
	"progresskit/leaderboard"
	"progresskit/realtime"
)

// Flags are the command line inputs of the server.
type Flags struct {
	ConfigPath string
	Profile    string
	EnvFiles   []string
	SecretsDir string
}

// Backend is a storage adapter that can also enumerate its learners.
type Backend interface {
	engine.Store
	leaderboard.Lister
}

type pinger interface {
	Ping(ctx context.Context) error
}

// App aggregates the assembled server components.
type App struct {
	Config     *config.Config
	Logger     *slog.Logger
	Store      Backend
	Catalog    *catalog.Catalog
	Hub        *realtime.Hub
	Board      *leaderboard.SkipList
	Metrics    *analytics.ProgressMetrics
	Aggregator *analytics.Aggregator
	Exporter   analytics.Exporter
	Webhooks   *webhook.Sink
	Service    *engine.Service
	Handler    http.Handler
	Server     *http.Server
}

func provideConfig(ctx context.Context, f Flags) (*config.Config, error) {
	if err := config.LoadDotEnv(f.EnvFiles...); err != nil {
		return nil, err
	}
	if f.ConfigPath != "" {
		return config.LoadFromFile(f.ConfigPath)
	}

	cfg := config.DefaultConfig()
	if f.Profile != "" {
		var err error
		if cfg, err = config.LoadProfile(f.Profile); err != nil {
			return nil, err
		}
	}
	if f.SecretsDir != "" {
		store := config.ChainSecretStore{config.FileSecretStore{Dir: f.SecretsDir}, config.NewEnvironmentSecretStore()}
		if err := config.ResolveSecrets(ctx, cfg, store); err != nil {
			return nil, fmt.Errorf("resolve secrets: %w", err)
		}
	}
	if err := config.ApplyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func provideLogger(cfg *config.Config) *slog.Logger {
	return setupLogging(cfg)
}

// provideBackend opens the configured storage adapter. The cleanup closes
// connection pools.
func provideBackend(ctx context.Context, cfg *config.Config, log *slog.Logger) (Backend, func(), error) {
	noop := func() {}
	switch cfg.Storage.Adapter {
	case config.AdapterMemory:
		return memory.New(), noop, nil
	case config.AdapterFile:
		s, err := jsonfile.New(cfg.Storage.File.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, noop, nil
	case config.AdapterRedis:
		s, err := redisAdapter.New(cfg.Storage.Redis)
		if err != nil {
			return nil, nil, err
		}
		return s, closer(log, "redis", s.Close), nil
	case config.AdapterSQL:
		s, err := sqlxAdapter.Open(ctx, cfg.Storage.SQL)
		if err != nil {
			return nil, nil, err
		}
		return s, closer(log, "sql", s.Close), nil
	}
	return nil, nil, fmt.Errorf("unknown storage adapter: %s", cfg.Storage.Adapter)
}

func closer(log *slog.Logger, name string, fn func() error) func() {
	return func() {
		if err := fn(); err != nil {
			log.Warn("storage close failed", "adapter", name, "error", err)
		}
	}
}

func provideCatalog(cfg *config.Config) (*catalog.Catalog, error) {
	if cfg.Engine.CatalogPath == "" {
		return catalog.Default(), nil
	}
	return catalog.LoadFile(cfg.Engine.CatalogPath)
}

func provideHub() *realtime.Hub {
	return realtime.NewHub()
}

// provideLeaderboard builds the in-memory board from persisted totals.
func provideLeaderboard(ctx context.Context, store Backend, log *slog.Logger) (*leaderboard.SkipList, error) {
	board := leaderboard.NewSkipList()
	n, err := leaderboard.Seed(ctx, board, store, store)
	if err != nil {
		return nil, fmt.Errorf("seed leaderboard: %w", err)
	}
	log.Info("leaderboard seeded", "learners", n)
	return board, nil
}

func provideMetrics() *analytics.ProgressMetrics {
	return analytics.NewProgressMetrics()
}

func provideAggregator(metrics *analytics.ProgressMetrics, log *slog.Logger) *analytics.Aggregator {
	return analytics.NewAggregator(metrics, log)
}

// provideExporter returns nil when no export target is configured.
func provideExporter(cfg *config.Config, log *slog.Logger) (analytics.Exporter, func()) {
	a := cfg.Analytics
	var exporters []analytics.Exporter
	if a.ExportEndpoint != "" {
		exporters = append(exporters, analytics.NewHTTPExporter(a.ExportEndpoint, a.ExportAPIKey, a.ExportBatchSize))
	}
	if a.LogReports {
		exporters = append(exporters, analytics.NewLogExporter(log))
	}
	if !a.Enabled || len(exporters) == 0 {
		return nil, func() {}
	}
	exp := analytics.NewMultiExporter(exporters...)
	return exp, func() {
		if err := exp.Close(); err != nil {
			log.Warn("analytics exporter close failed", "error", err)
		}
	}
}

func provideService(
	cfg *config.Config,
	log *slog.Logger,
	store Backend,
	cat *catalog.Catalog,
	hub *realtime.Hub,
	board *leaderboard.SkipList,
	agg *analytics.Aggregator,
) (*engine.Service, func()) {
	mode := engine.DispatchSync
	if cfg.Engine.AsyncEvents {
		mode = engine.DispatchAsync
	}
	opts := []gamify.Option{
		gamify.WithStore(store),
		gamify.WithCatalog(cat),
		gamify.WithDispatchMode(mode),
		gamify.WithRealtime(hub),
		gamify.WithLeaderboard(board),
		gamify.WithLogger(log),
		gamify.WithEngineOptions(
			engine.WithRetryPolicy(engine.RetryPolicy{
				MaxRetries:     cfg.Engine.MaxRetries,
				InitialBackoff: cfg.Engine.InitialBackoff,
				MaxBackoff:     cfg.Engine.MaxBackoff,
			}),
			engine.WithStoreTimeout(cfg.Engine.StoreTimeout),
		),
	}
	if cfg.Analytics.Enabled {
		opts = append(opts, gamify.WithAnalytics(agg))
	}
	svc := gamify.New(opts...)
	return svc, svc.Close
}

// provideWebhooks returns nil when no endpoints are configured.
func provideWebhooks(cfg *config.Config, log *slog.Logger, svc *engine.Service) (*webhook.Sink, func()) {
	w := cfg.Integrations.Webhooks
	if len(w.Endpoints) == 0 {
		return nil, func() {}
	}
	types := make([]core.EventType, 0, len(w.Events))
	for _, e := range w.Events {
		types = append(types, core.EventType(e))
	}
	sink := webhook.New(w.Endpoints,
		webhook.WithClient(&http.Client{Timeout: w.Timeout}),
		webhook.WithSecret(w.Secret),
		webhook.WithEvents(types...),
		webhook.WithRetry(w.MaxTries, 200*time.Millisecond),
		webhook.WithLogger(log),
	)
	detach := sink.Attach(svc.Bus())
	log.Info("webhooks enabled", "endpoints", len(w.Endpoints))
	return sink, detach
}

func provideHandler(
	cfg *config.Config,
	log *slog.Logger,
	svc *engine.Service,
	store Backend,
	cat *catalog.Catalog,
	hub *realtime.Hub,
	board *leaderboard.SkipList,
	metrics *analytics.ProgressMetrics,
) http.Handler {
	deps := httpapi.Deps{
		Service:     svc,
		Catalog:     cat,
		Hub:         hub,
		Leaderboard: board,
	}
	if cfg.Analytics.Enabled {
		deps.Metrics = metrics
	}
	if p, ok := store.(pinger); ok {
		deps.Health = p.Ping
	}
	return httpapi.NewMux(deps, httpapi.Options{
		PathPrefix:       cfg.Server.PathPrefix,
		AllowCORSOrigin:  cfg.Server.CORSOrigin,
		APIKeys:          cfg.Security.APIKeys,
		AdminKeys:        cfg.Security.AdminKeys,
		RateLimitEnabled: cfg.Security.EnableRateLimit,
		RateLimitRPM:     cfg.Security.RateLimit.RequestsPerMinute,
		RateLimitBurst:   cfg.Security.RateLimit.BurstSize,
		MaxBodyBytes:     cfg.Server.MaxBodyBytes,
		Logger:           log,
	})
}

func provideServer(cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           handler,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}
}

// setupLogging configures the logger based on configuration.
func setupLogging(cfg *config.Config) *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Logging.Level),
	}

	out := os.Stdout
	if cfg.Logging.Output == "stderr" {
		out = os.Stderr
	}

	switch cfg.Logging.Format {
	case "text":
		handler = slog.NewTextHandler(out, opts)
	default:
		handler = slog.NewJSONHandler(out, opts)
	}

	if len(cfg.Logging.Attributes) > 0 {
		handler = handler.WithAttrs(convertAttributes(cfg.Logging.Attributes))
	}

	logger := slog.New(handler).With("environment", string(cfg.Environment))
	slog.SetDefault(logger)
	return logger
}

// parseLogLevel converts string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}

func convertAttributes(attrs map[string]string) []slog.Attr {
	result := make([]slog.Attr, 0, len(attrs))
	for k, v := range attrs {
		result = append(result, slog.String(k, v))
	}
	return result
}
