package gamify

import (
	"log/slog"

	"progresskit/adapters/memory"
	"progresskit/analytics"
	"progresskit/catalog"
	"progresskit/engine"
	"progresskit/leaderboard"
	"progresskit/realtime"
)

// Option configures the progression service builder.
type Option func(*config)

type config struct {
	store   engine.Store
	catalog engine.Catalog
	mode    engine.DispatchMode
	hub     *realtime.Hub
	board   leaderboard.Board
	hooks   []analytics.Hook
	log     *slog.Logger
	engine  []engine.Option
}

// WithStore sets the persistence adapter.
func WithStore(s engine.Store) Option { return func(c *config) { c.store = s } }

// WithCatalog sets the achievement catalog.
func WithCatalog(cat engine.Catalog) Option { return func(c *config) { c.catalog = cat } }

// WithDispatchMode selects sync or async event dispatch.
func WithDispatchMode(m engine.DispatchMode) Option { return func(c *config) { c.mode = m } }

// WithRealtime wires a realtime hub to receive all engine events.
func WithRealtime(h *realtime.Hub) Option { return func(c *config) { c.hub = h } }

// WithLeaderboard keeps b updated from xp_awarded events.
func WithLeaderboard(b leaderboard.Board) Option { return func(c *config) { c.board = b } }

// WithAnalytics feeds every event to the hooks.
func WithAnalytics(hooks ...analytics.Hook) Option {
	return func(c *config) { c.hooks = append(c.hooks, hooks...) }
}

func WithLogger(l *slog.Logger) Option { return func(c *config) { c.log = l } }

// WithEngineOptions passes options straight to engine.NewService.
func WithEngineOptions(opts ...engine.Option) Option {
	return func(c *config) { c.engine = append(c.engine, opts...) }
}

// New builds a configured Service. If not provided, defaults are used:
//   - store: in-memory
//   - catalog: the built-in achievements
//   - dispatch: async
func New(opts ...Option) *engine.Service {
	cfg := &config{mode: engine.DispatchAsync}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.store == nil {
		cfg.store = memory.New()
	}
	if cfg.catalog == nil {
		cfg.catalog = catalog.Default()
	}
	bus := engine.NewEventBus(cfg.mode)
	engineOpts := cfg.engine
	if cfg.log != nil {
		bus.SetLogger(cfg.log)
		engineOpts = append([]engine.Option{engine.WithLogger(cfg.log)}, engineOpts...)
	}
	svc := engine.NewService(cfg.store, cfg.catalog, bus, engineOpts...)
	if cfg.hub != nil {
		cfg.hub.Attach(bus)
	}
	if cfg.board != nil {
		leaderboard.Attach(cfg.board, bus)
	}
	if len(cfg.hooks) > 0 {
		analytics.Attach(bus, analytics.NewBridge(cfg.hooks...))
	}
	return svc
}
