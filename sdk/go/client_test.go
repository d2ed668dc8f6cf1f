package sdk

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mem "progresskit/adapters/memory"
	"progresskit/analytics"
	"progresskit/api/httpapi"
	"progresskit/catalog"
	"progresskit/core"
	"progresskit/engine"
	"progresskit/gamify"
	"progresskit/leaderboard"
	"progresskit/realtime"
)

type testServer struct {
	*httptest.Server
	hub *realtime.Hub
}

func newTestServer(t *testing.T, opts httpapi.Options) *testServer {
	t.Helper()
	cat := catalog.Default()
	hub := realtime.NewHub()
	board := leaderboard.NewSkipList()
	metrics := analytics.NewProgressMetrics()
	svc := gamify.New(
		gamify.WithStore(mem.New()),
		gamify.WithCatalog(cat),
		gamify.WithDispatchMode(engine.DispatchSync),
		gamify.WithRealtime(hub),
		gamify.WithLeaderboard(board),
		gamify.WithAnalytics(metrics),
	)
	t.Cleanup(svc.Close)
	opts.PathPrefix = "/api"
	h := httpapi.NewMux(httpapi.Deps{Service: svc, Catalog: cat, Hub: hub, Leaderboard: board, Metrics: metrics}, opts)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, hub: hub}
}

func TestClient_ActionsProfileLeaderboard(t *testing.T) {
	srv := newTestServer(t, httpapi.Options{APIKeys: []string{"k1"}})
	client, err := NewClient(srv.URL+"/api/", WithAPIKey("k1"))
	require.NoError(t, err)
	ctx := context.Background()

	res, err := client.RewardAction(ctx, "alice", Action{Action: "resource_completed", IdempotencyKey: "r-1"})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, res.XPGained, core.XPResource)

	again, err := client.RewardAction(ctx, "alice", Action{Action: "resource_completed", IdempotencyKey: "r-1"})
	require.NoError(t, err)
	assert.True(t, again.Duplicate)

	score := 80.0
	_, err = client.RewardAction(ctx, "bob", Action{Action: "quiz_completed", Score: &score})
	require.NoError(t, err)

	p, err := client.GetProfile(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, core.LearnerID("alice"), p.LearnerID)
	assert.Equal(t, res.XPGained, p.TotalXP)

	lb, err := client.Leaderboard(ctx, 5)
	require.NoError(t, err)
	require.Len(t, lb.Entries, 2)
	assert.Equal(t, 2, lb.Total)
	assert.GreaterOrEqual(t, lb.Entries[0].Score, lb.Entries[1].Score)
	assert.Equal(t, 1, lb.Entries[0].Position)

	stats, err := client.Stats(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.ActiveToday)

	health, err := client.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "healthy", health.Status)
}

func TestClient_Errors(t *testing.T) {
	srv := newTestServer(t, httpapi.Options{APIKeys: []string{"k1"}})
	ctx := context.Background()

	anon, err := NewClient(srv.URL + "/api")
	require.NoError(t, err)
	_, err = anon.GetProfile(ctx, "alice")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr), "got %v", err)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)

	client, err := NewClient(srv.URL+"/api", WithAuthToken("k1"))
	require.NoError(t, err)

	_, err = client.RewardAction(ctx, "alice", Action{Action: "teleport"})
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "invalid_input", apiErr.Code)
	assert.False(t, apiErr.Retryable())

	_, err = client.GetPathway(ctx, "alice", "nowhere")
	assert.True(t, IsNotFound(err))

	_, err = client.GetProfile(ctx, " ")
	assert.ErrorIs(t, err, ErrEmptyLearnerID)
}

func TestClient_PathwayFlow(t *testing.T) {
	srv := newTestServer(t, httpapi.Options{})
	client, err := NewClient(srv.URL + "/api")
	require.NoError(t, err)
	ctx := context.Background()

	plan := PathwayPlan{ID: "go-basics", Modules: []core.ModulePlan{{ID: "intro", Resources: []string{"video"}}}}
	p, err := client.StartPathway(ctx, "carol", plan)
	require.NoError(t, err)
	assert.Equal(t, core.PathwayActive, p.Status)

	step, err := client.CompleteResource(ctx, "carol", "go-basics", 0, "video")
	require.NoError(t, err)
	assert.True(t, step.Transition.ResourceCompleted)
	assert.Equal(t, core.ModuleQuizPending, step.Pathway.Modules[0].State())

	step, err = client.SubmitQuiz(ctx, "carol", "go-basics", 0, 95)
	require.NoError(t, err)
	assert.True(t, step.Transition.QuizPassed)
	assert.True(t, step.Transition.PathwayCompleted)
	assert.Equal(t, 100, step.Pathway.Progress)

	step, err = client.ResetQuiz(ctx, "carol", "go-basics", 0)
	require.NoError(t, err)
	assert.True(t, step.Transition.PathwayReverted)

	list, err := client.ListPathways(ctx, "carol")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, core.PathwayActive, list[0].Status)
}

func TestClient_AdminCatalog(t *testing.T) {
	srv := newTestServer(t, httpapi.Options{APIKeys: []string{"reader"}, AdminKeys: []string{"admin"}})
	ctx := context.Background()
	admin, err := NewClient(srv.URL+"/api", WithAPIKey("admin"))
	require.NoError(t, err)
	reader, err := NewClient(srv.URL+"/api", WithAPIKey("reader"))
	require.NoError(t, err)

	def := Achievement{ID: "night_owl", Name: "Night Owl", Category: "special", Rarity: core.RarityRare,
		Points: 15, Criteria: core.CriteriaSpecialEvent, Threshold: 1, Params: core.CriteriaParams{Event: "late_study"}}

	_, err = reader.PutAchievement(ctx, def)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)

	got, err := admin.PutAchievement(ctx, def)
	require.NoError(t, err)
	assert.Equal(t, def.ID, got.ID)

	defs, err := reader.ListAchievements(ctx)
	require.NoError(t, err)
	assert.Contains(t, ids(defs), core.AchievementID("night_owl"))

	res, err := reader.RewardAction(ctx, "dave", Action{Action: "special_event", Event: "late_study"})
	require.NoError(t, err)
	assert.Contains(t, ids(res.AchievementsUnlocked), core.AchievementID("night_owl"))

	changed, err := reader.MarkAchievementViewed(ctx, "dave", "night_owl")
	require.NoError(t, err)
	assert.True(t, changed)

	require.NoError(t, admin.DeleteAchievement(ctx, "night_owl"))
	assert.True(t, IsNotFound(admin.DeleteAchievement(ctx, "night_owl")))
}

func ids(defs []Achievement) []core.AchievementID {
	out := make([]core.AchievementID, 0, len(defs))
	for _, d := range defs {
		out = append(out, d.ID)
	}
	return out
}

func TestClient_SubscribeEvents(t *testing.T) {
	srv := newTestServer(t, httpapi.Options{})
	client, err := NewClient(srv.URL + "/api")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	events, err := client.SubscribeEvents(ctx, SubscribeOptions{Learner: "alice", Types: []string{"xp_awarded"}})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return srv.hub.Subscribers() == 1 }, time.Second, 10*time.Millisecond)

	_, err = client.RewardAction(ctx, "bob", Action{Action: "daily_login"})
	require.NoError(t, err)
	_, err = client.RewardAction(ctx, "alice", Action{Action: "daily_login"})
	require.NoError(t, err)

	select {
	case evt := <-events:
		assert.Equal(t, core.EventXPAwarded, evt.Type)
		assert.Equal(t, core.LearnerID("alice"), evt.LearnerID)
	case <-ctx.Done():
		t.Fatal("timed out waiting for event")
	}

	cancel()
	for range events {
	}
}

func TestClient_SubscribeRejectsUnknownType(t *testing.T) {
	srv := newTestServer(t, httpapi.Options{})
	client, err := NewClient(srv.URL + "/api")
	require.NoError(t, err)

	_, err = client.SubscribeEvents(context.Background(), SubscribeOptions{Types: []string{"points_added"}})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr), "got %v", err)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
}

func TestDeriveWSURL(t *testing.T) {
	assert.Equal(t, "ws://localhost:8080/api/ws", deriveWSURL("http://localhost:8080/api"))
	assert.Equal(t, "wss://example.com/ws", deriveWSURL("https://example.com"))
}
