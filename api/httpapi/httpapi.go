package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	wsadapter "progresskit/adapters/websocket"
	"progresskit/analytics"
	"progresskit/catalog"
	"progresskit/engine"
	"progresskit/leaderboard"
	"progresskit/realtime"
)

// Options configures the HTTP API surface.
type Options struct {
	// PathPrefix, if set, is prepended to all routes (e.g., "/api").
	PathPrefix string
	// AllowCORSOrigin, if non-empty, enables basic CORS with the given origin (use "*" for any).
	AllowCORSOrigin string
	// APIKeys, if non-empty, enables static API key auth via Authorization: Bearer or X-API-Key.
	APIKeys []string
	// AdminKeys, if non-empty, are the only keys accepted on /admin routes.
	AdminKeys []string
	// RateLimitEnabled toggles rate limiting.
	RateLimitEnabled bool
	// RateLimitRPM is the allowed requests per minute per client key.
	RateLimitRPM int
	// RateLimitBurst defines burst capacity.
	RateLimitBurst int
	// MaxBodyBytes caps request bodies, default 1 MiB.
	MaxBodyBytes int64
	Logger       *slog.Logger
}

// Deps are the components the API exposes. Service is required; routes whose
// dependency is nil are not registered.
type Deps struct {
	Service     *engine.Service
	Catalog     *catalog.Catalog
	Hub         *realtime.Hub
	Leaderboard leaderboard.Board
	Metrics     *analytics.ProgressMetrics
	// Health checks the storage backend; nil falls back to a profile read.
	Health func(ctx context.Context) error
}

type api struct {
	deps    Deps
	log     *slog.Logger
	maxBody int64
}

// NewMux builds an http.Handler exposing the progression REST API and WebSocket stream.
// Routes:
//   - POST   {prefix}/learners/{id}/actions
//   - GET    {prefix}/learners/{id}
//   - POST   {prefix}/learners/{id}/achievements/{aid}/viewed
//   - GET    {prefix}/learners/{id}/pathways
//   - POST   {prefix}/learners/{id}/pathways
//   - GET    {prefix}/learners/{id}/pathways/{pid}
//   - POST   {prefix}/learners/{id}/pathways/{pid}/modules/{n}/resources/{rid}
//   - POST   {prefix}/learners/{id}/pathways/{pid}/modules/{n}/quiz
//   - DELETE {prefix}/learners/{id}/pathways/{pid}/modules/{n}/quiz
//   - GET    {prefix}/achievements
//   - PUT    {prefix}/admin/achievements/{aid}
//   - DELETE {prefix}/admin/achievements/{aid}
//   - GET    {prefix}/leaderboard
//   - GET    {prefix}/stats
//   - GET    {prefix}/healthz
//   - WS     {prefix}/ws
func NewMux(deps Deps, opts Options) http.Handler {
	if deps.Service == nil {
		panic("httpapi: nil service")
	}
	a := &api{deps: deps, log: opts.Logger, maxBody: opts.MaxBodyBytes}
	if a.log == nil {
		a.log = slog.Default()
	}
	if a.maxBody <= 0 {
		a.maxBody = 1 << 20
	}

	root := withFallbacks(mux.NewRouter())
	r := root
	if p := strings.TrimSuffix(opts.PathPrefix, "/"); p != "" {
		r = withFallbacks(root.PathPrefix(p).Subrouter())
	}

	r.HandleFunc("/healthz", a.healthCheck).Methods(http.MethodGet)
	if deps.Hub != nil {
		r.Handle("/ws", wsadapter.HandlerWithOptions(deps.Hub, wsadapter.Options{Logger: a.log}))
	}

	l := withFallbacks(r.PathPrefix("/learners/{id}").Subrouter())
	l.HandleFunc("", a.getProfile).Methods(http.MethodGet)
	l.HandleFunc("/actions", a.rewardAction).Methods(http.MethodPost)
	l.HandleFunc("/achievements/{aid}/viewed", a.markViewed).Methods(http.MethodPost)
	l.HandleFunc("/pathways", a.listPathways).Methods(http.MethodGet)
	l.HandleFunc("/pathways", a.startPathway).Methods(http.MethodPost)
	l.HandleFunc("/pathways/{pid}", a.getPathway).Methods(http.MethodGet)
	l.HandleFunc("/pathways/{pid}/modules/{n:[0-9]+}/resources/{rid}", a.completeResource).Methods(http.MethodPost)
	l.HandleFunc("/pathways/{pid}/modules/{n:[0-9]+}/quiz", a.submitQuiz).Methods(http.MethodPost)
	l.HandleFunc("/pathways/{pid}/modules/{n:[0-9]+}/quiz", a.resetQuiz).Methods(http.MethodDelete)

	if deps.Catalog != nil {
		r.HandleFunc("/achievements", a.listAchievements).Methods(http.MethodGet)
		admin := withFallbacks(r.PathPrefix("/admin").Subrouter())
		if len(opts.AdminKeys) > 0 {
			admin.Use(func(next http.Handler) http.Handler { return withAPIKeyAuth(next, opts.AdminKeys) })
		}
		admin.HandleFunc("/achievements/{aid}", a.putAchievement).Methods(http.MethodPut)
		admin.HandleFunc("/achievements/{aid}", a.deleteAchievement).Methods(http.MethodDelete)
	}
	if deps.Leaderboard != nil {
		r.HandleFunc("/leaderboard", a.leaderboard).Methods(http.MethodGet)
	}
	if deps.Metrics != nil {
		r.HandleFunc("/stats", a.stats).Methods(http.MethodGet)
	}

	var handler http.Handler = root
	if len(opts.APIKeys) > 0 {
		keys := append(append([]string{}, opts.APIKeys...), opts.AdminKeys...)
		handler = withAPIKeyAuth(handler, keys, withPrefix(opts.PathPrefix, "/healthz"))
	}
	if opts.AllowCORSOrigin != "" {
		handler = withCORS(handler, opts.AllowCORSOrigin)
	}
	if opts.RateLimitEnabled && opts.RateLimitRPM > 0 && opts.RateLimitBurst > 0 {
		handler = withRateLimit(handler, opts.RateLimitRPM, opts.RateLimitBurst)
	}
	return handler
}

// withFallbacks installs the JSON 404 and 405 responses. Subrouters do not
// inherit them from their parent, so each router needs its own.
func withFallbacks(r *mux.Router) *mux.Router {
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "route not found", nil)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed", nil)
	})
	return r
}

func withPrefix(prefix, path string) string {
	if prefix == "" || prefix == "/" {
		return path
	}
	if prefix[len(prefix)-1] == '/' {
		return prefix[:len(prefix)-1] + path
	}
	return prefix + path
}
