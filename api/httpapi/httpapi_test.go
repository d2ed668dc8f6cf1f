package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mem "progresskit/adapters/memory"
	"progresskit/analytics"
	"progresskit/catalog"
	"progresskit/core"
	"progresskit/engine"
	"progresskit/gamify"
	"progresskit/leaderboard"
	"progresskit/realtime"
)

func newTestDeps(t *testing.T) Deps {
	t.Helper()
	cat := catalog.Default()
	board := leaderboard.NewSkipList()
	metrics := analytics.NewProgressMetrics()
	hub := realtime.NewHub()
	svc := gamify.New(
		gamify.WithStore(mem.New()),
		gamify.WithCatalog(cat),
		gamify.WithDispatchMode(engine.DispatchSync),
		gamify.WithRealtime(hub),
		gamify.WithLeaderboard(board),
		gamify.WithAnalytics(metrics),
	)
	t.Cleanup(svc.Close)
	return Deps{Service: svc, Catalog: cat, Hub: hub, Leaderboard: board, Metrics: metrics}
}

func do(t *testing.T, h http.Handler, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestRewardActionSuccess(t *testing.T) {
	handler := NewMux(newTestDeps(t), Options{PathPrefix: "/api"})

	rec := do(t, handler, http.MethodPost, "/api/learners/Alice/actions", map[string]any{"action": "quiz_completed", "score": 100})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decodeBody[engine.RewardResult](t, rec)
	assert.Equal(t, int64(50), res.XPGained)
	assert.Equal(t, int64(1), res.NewLevel)

	rec = do(t, handler, http.MethodGet, "/api/learners/alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	profile := decodeBody[engine.Profile](t, rec)
	assert.Equal(t, int64(50), profile.TotalXP)
}

func TestRewardActionValidation(t *testing.T) {
	handler := NewMux(newTestDeps(t), Options{PathPrefix: "/api"})

	cases := []struct {
		name string
		body any
		want int
	}{
		{"unknown action", map[string]any{"action": "teleport"}, http.StatusBadRequest},
		{"quiz without score", map[string]any{"action": "quiz_completed"}, http.StatusBadRequest},
		{"score out of range", map[string]any{"action": "quiz_completed", "score": 101}, http.StatusBadRequest},
		{"unknown field", map[string]any{"action": "daily_login", "bonus": 1}, http.StatusBadRequest},
		{"empty body", nil, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, handler, http.MethodPost, "/api/learners/alice/actions", tc.body)
			assert.Equal(t, tc.want, rec.Code, rec.Body.String())
		})
	}

	rec := do(t, handler, http.MethodPost, "/api/learners/%20/actions", map[string]any{"action": "daily_login"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRewardActionIdempotencyKey(t *testing.T) {
	handler := NewMux(newTestDeps(t), Options{})
	body := map[string]any{"action": "assessment_completed", "idempotency_key": "exam-1"}

	first := decodeBody[engine.RewardResult](t, do(t, handler, http.MethodPost, "/learners/bo/actions", body))
	second := decodeBody[engine.RewardResult](t, do(t, handler, http.MethodPost, "/learners/bo/actions", body))
	assert.Equal(t, core.XPAssessment, first.XPGained)
	assert.True(t, second.Duplicate)
	assert.Zero(t, second.XPGained)
}

func TestGetUnknownLearnerReturnsDefaults(t *testing.T) {
	handler := NewMux(newTestDeps(t), Options{PathPrefix: "/api"})
	rec := do(t, handler, http.MethodGet, "/api/learners/unknown", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	p := decodeBody[engine.Profile](t, rec)
	assert.Equal(t, int64(1), p.Level)
	assert.Equal(t, int64(100), p.RequiredXP)
}

func TestPathwayFlow(t *testing.T) {
	handler := NewMux(newTestDeps(t), Options{})
	plan := core.PathwayPlan{ID: "go-basics", Modules: []core.ModulePlan{
		{ID: "syntax", Resources: []string{"video", "reading"}},
		{ID: "types", Resources: []string{"video"}},
	}}

	rec := do(t, handler, http.MethodPost, "/learners/ana/pathways", plan)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	started := decodeBody[core.PathwayProgress](t, rec)
	assert.Equal(t, core.PathwayActive, started.Status)

	rec = do(t, handler, http.MethodPost, "/learners/ana/pathways/go-basics/modules/0/resources/video", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	step := decodeBody[engine.StepResult](t, rec)
	assert.True(t, step.Transition.ResourceCompleted)
	assert.Equal(t, core.XPResource, step.Reward.XPGained)

	rec = do(t, handler, http.MethodPost, "/learners/ana/pathways/go-basics/modules/0/resources/reading", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, handler, http.MethodPost, "/learners/ana/pathways/go-basics/modules/0/quiz", map[string]any{"score": 90})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	step = decodeBody[engine.StepResult](t, rec)
	assert.True(t, step.Transition.ModuleCompleted)
	assert.Equal(t, 50, step.Pathway.Progress)

	rec = do(t, handler, http.MethodDelete, "/learners/ana/pathways/go-basics/modules/0/quiz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	step = decodeBody[engine.StepResult](t, rec)
	assert.True(t, step.Transition.ModuleReverted)
	assert.Equal(t, 0, step.Pathway.Progress)

	rec = do(t, handler, http.MethodGet, "/learners/ana/pathways/go-basics", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, handler, http.MethodGet, "/learners/ana/pathways", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeBody[struct {
		Pathways []core.PathwayProgress `json:"pathways"`
	}](t, rec)
	assert.Len(t, list.Pathways, 1)
}

func TestPathwayErrors(t *testing.T) {
	handler := NewMux(newTestDeps(t), Options{})

	rec := do(t, handler, http.MethodGet, "/learners/ana/pathways/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, handler, http.MethodPost, "/learners/ana/pathways/missing/modules/0/resources/r1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, handler, http.MethodPost, "/learners/ana/pathways", core.PathwayPlan{ID: "empty"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, handler, http.MethodPost, "/learners/ana/pathways/p/modules/x/quiz", map[string]any{"score": 1})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	do(t, handler, http.MethodPost, "/learners/ana/pathways", core.PathwayPlan{ID: "p", Modules: []core.ModulePlan{{ID: "m"}}})
	rec = do(t, handler, http.MethodPost, "/learners/ana/pathways/p/modules/0/quiz", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAchievementViewedAndCatalogAdmin(t *testing.T) {
	deps := newTestDeps(t)
	handler := NewMux(deps, Options{APIKeys: []string{"user"}, AdminKeys: []string{"admin"}})
	userKey := []string{"X-API-Key", "user"}
	adminKey := []string{"Authorization", "Bearer admin"}

	def := core.AchievementDefinition{Name: "Early Bird", Points: 5, Criteria: core.CriteriaStreakDays, Threshold: 1}
	rec := do(t, handler, http.MethodPut, "/admin/achievements/early-bird", def, userKey...)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, handler, http.MethodPut, "/admin/achievements/early-bird", def, adminKey...)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = do(t, handler, http.MethodPut, "/admin/achievements/early-bird", def, adminKey...)
	assert.Equal(t, http.StatusOK, rec.Code)

	bad := def
	bad.ID = "other"
	rec = do(t, handler, http.MethodPut, "/admin/achievements/early-bird", bad, adminKey...)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, handler, http.MethodPost, "/learners/ana/actions", map[string]any{"action": "daily_login"}, userKey...)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, handler, http.MethodPost, "/learners/ana/achievements/early-bird/viewed", nil, userKey...)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"changed": true}, decodeBody[map[string]any](t, rec))

	rec = do(t, handler, http.MethodPost, "/learners/ana/achievements/early-bird/viewed", nil, userKey...)
	assert.Equal(t, map[string]any{"changed": false}, decodeBody[map[string]any](t, rec))

	rec = do(t, handler, http.MethodPost, "/learners/ana/achievements/nope/viewed", nil, userKey...)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, handler, http.MethodGet, "/achievements", nil, userKey...)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeBody[struct {
		Achievements []core.AchievementDefinition `json:"achievements"`
	}](t, rec)
	for _, d := range list.Achievements {
		assert.False(t, d.Hidden, "hidden achievement %s listed", d.ID)
	}

	rec = do(t, handler, http.MethodDelete, "/admin/achievements/early-bird", nil, adminKey...)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, handler, http.MethodDelete, "/admin/achievements/early-bird", nil, adminKey...)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLeaderboardAndStats(t *testing.T) {
	handler := NewMux(newTestDeps(t), Options{})
	for _, l := range []string{"ana", "ben", "ana"} {
		rec := do(t, handler, http.MethodPost, "/learners/"+l+"/actions", map[string]any{"action": "assessment_completed"})
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := do(t, handler, http.MethodGet, "/leaderboard?limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	board := decodeBody[struct {
		Entries []leaderboard.Entry `json:"entries"`
		Total   int                 `json:"total"`
	}](t, rec)
	require.Len(t, board.Entries, 1)
	assert.Equal(t, core.LearnerID("ana"), board.Entries[0].Learner)
	assert.Equal(t, 2, board.Total)

	rec = do(t, handler, http.MethodGet, "/leaderboard?limit=0", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, handler, http.MethodGet, "/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decodeBody[analytics.Summary](t, rec)
	assert.Equal(t, 2, stats.ActiveToday)
	assert.GreaterOrEqual(t, stats.Totals.XP, 3*core.XPAssessment)
}

func TestHealthz(t *testing.T) {
	deps := newTestDeps(t)
	handler := NewMux(deps, Options{APIKeys: []string{"secret"}})
	rec := do(t, handler, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code, "health must not require a key")

	deps.Health = func(context.Context) error { return errors.New("down") }
	handler = NewMux(deps, Options{})
	rec = do(t, handler, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAPIKeyAuth(t *testing.T) {
	handler := NewMux(newTestDeps(t), Options{
		PathPrefix:      "/api",
		APIKeys:         []string{"secret"},
		AllowCORSOrigin: "*",
	})

	rec := do(t, handler, http.MethodGet, "/api/learners/alice", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}

	rec = do(t, handler, http.MethodGet, "/api/learners/alice", nil, "Authorization", "Bearer secret")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	rec = do(t, handler, http.MethodOptions, "/api/learners/alice", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimit(t *testing.T) {
	handler := NewMux(newTestDeps(t), Options{
		PathPrefix:       "/api",
		APIKeys:          []string{"k"},
		RateLimitEnabled: true,
		RateLimitRPM:     1,
		RateLimitBurst:   1,
	})

	rec1 := do(t, handler, http.MethodGet, "/api/learners/alice", nil, "X-API-Key", "k")
	if rec1.Code != http.StatusOK {
		t.Fatalf("expected 200 first request, got %d", rec1.Code)
	}
	rec2 := do(t, handler, http.MethodGet, "/api/learners/alice", nil, "X-API-Key", "k")
	if rec2.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec2.Code)
	}
}

func TestUnknownRouteAndMethod(t *testing.T) {
	handler := NewMux(newTestDeps(t), Options{PathPrefix: "/api"})
	rec := do(t, handler, http.MethodGet, "/api/nowhere", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decodeBody[apiError](t, rec).Code)

	rec = do(t, handler, http.MethodPatch, "/api/learners/alice", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "method_not_allowed", decodeBody[apiError](t, rec).Code)

	rec = do(t, handler, http.MethodPut, "/api/learners/alice/pathways/go/modules/0/quiz", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = do(t, handler, http.MethodGet, "/api/admin/achievements/first-steps", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = do(t, handler, http.MethodGet, "/api/learners/alice/nowhere", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decodeBody[apiError](t, rec).Code)

	rec = do(t, handler, http.MethodGet, "/api/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMethodMismatchWithoutPrefix(t *testing.T) {
	handler := NewMux(newTestDeps(t), Options{})
	rec := do(t, handler, http.MethodPatch, "/learners/alice/actions", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	rec = do(t, handler, http.MethodPost, "/leaderboard", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestStatusFor(t *testing.T) {
	cases := map[error]int{
		core.Errorf("op", core.ErrInvalidInput, "x"):           http.StatusBadRequest,
		core.Errorf("op", core.ErrNotFound, "x"):               http.StatusNotFound,
		core.Errorf("op", core.ErrConcurrentModification, "x"): http.StatusConflict,
		core.Errorf("op", core.ErrStorageUnavailable, "x"):     http.StatusServiceUnavailable,
		context.DeadlineExceeded:                               http.StatusGatewayTimeout,
		errors.New("boom"):                                     http.StatusInternalServerError,
	}
	for err, want := range cases {
		got, _ := statusFor(err)
		assert.Equal(t, want, got, err.Error())
	}
}
