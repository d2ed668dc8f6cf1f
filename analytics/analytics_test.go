package analytics

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"progresskit/core"
	"progresskit/engine"
)

func feed(h Hook, evs ...core.Event) {
	for _, e := range evs {
		h.OnEvent(e)
	}
}

func TestProgressMetricsOnEvent(t *testing.T) {
	m := NewProgressMetrics()
	now := time.Date(2024, 1, 3, 10, 0, 0, 0, time.UTC)
	def := core.AchievementDefinition{ID: "first-steps", Points: 25}

	feed(m,
		core.NewXPAwarded("ana", core.ActionResourceCompleted, 10, 10, now),
		core.NewXPAwarded("ana", core.ActionAchievementReward, 25, 35, now),
		core.NewAchievementUnlocked("ana", def, now),
		core.NewXPAwarded("ben", core.ActionQuizCompleted, 46, 46, now),
		core.NewQuizSubmitted("ben", "intro", 0, 80, true, now),
		core.NewQuizSubmitted("ben", "intro", 1, 20, false, now),
		core.NewModuleCompleted("ben", "intro", 0, now),
		core.NewLevelUp("ana", 2, core.RankNovice, now),
		core.NewStreakUpdated("ana", 3, now),
	)

	day := DayKey(now)
	assert.Equal(t, 2, m.DailyActive(day))
	assert.Equal(t, int64(81), m.XPByDay(day))
	assert.Equal(t, int64(25), m.XPByAction(core.ActionAchievementReward))
	assert.Equal(t, int64(1), m.LevelUpsByDay(day))
	assert.Equal(t, int64(1), m.UnlocksByDay(day))
	assert.Equal(t, int64(1), m.Unlocks("first-steps"))

	s := m.Summary(5, now)
	assert.Equal(t, int64(81), s.Totals.XP)
	assert.Equal(t, int64(1), s.Totals.ModulesCompleted)
	assert.Equal(t, int64(2), s.QuizSubmissions)
	assert.InDelta(t, 0.5, s.QuizPassRate, 1e-9)
	assert.Equal(t, 3, s.LongestStreak)
	assert.Equal(t, 2, s.ActiveToday)
	assert.Equal(t, map[string]int{"2": 1}, s.LevelDistribution)
	require.Len(t, s.TopAchievements, 1)
}

func TestLevelDistributionCountsLearnerOnce(t *testing.T) {
	m := NewProgressMetrics()
	now := time.Now()
	feed(m,
		core.NewLevelUp("ana", 2, core.RankNovice, now),
		core.NewLevelUp("ana", 3, core.RankNovice, now),
		core.NewLevelUp("ben", 2, core.RankNovice, now),
	)
	s := m.Summary(0, now)
	assert.Equal(t, map[string]int{"2": 1, "3": 1}, s.LevelDistribution)
	assert.Equal(t, int64(3), s.Totals.LevelUps)
	assert.Empty(t, s.TopAchievements)
}

func TestAggregateWeeklyMonthly(t *testing.T) {
	m := NewProgressMetrics()
	base := time.Date(2024, 1, 3, 10, 0, 0, 0, time.UTC) // Wednesday
	feed(m,
		core.NewXPAwarded("alice", core.ActionResourceCompleted, 10, 10, base),
		core.NewXPAwarded("bob", core.ActionResourceCompleted, 20, 20, base.AddDate(0, 0, 1)),
		core.NewPathwayCompleted("alice", "intro", base.AddDate(0, 0, 2)),
		core.NewXPAwarded("carol", core.ActionDailyLogin, 5, 5, base.AddDate(0, 0, 7)), // next week
	)
	a := NewAggregator(m, nil)

	weekly, err := a.Aggregate(PeriodWeekly, base)
	require.NoError(t, err)
	assert.Equal(t, "2024-W01", weekly.Key)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), weekly.StartTime)
	assert.Equal(t, int64(30), weekly.XP)
	assert.Equal(t, int64(1), weekly.PathwaysCompleted)
	assert.Equal(t, 2, weekly.ActiveLearners)

	monthly, err := a.Aggregate(PeriodMonthly, base)
	require.NoError(t, err)
	assert.Equal(t, int64(35), monthly.XP)
	assert.Equal(t, 3, monthly.ActiveLearners)

	stored, ok := a.Report(PeriodWeekly, "2024-W01")
	require.True(t, ok)
	assert.Equal(t, weekly, stored)

	_, err = a.Aggregate("hourly", base)
	assert.Error(t, err)
}

func TestAttachAndBridge(t *testing.T) {
	bus := engine.NewEventBus(engine.DispatchSync)
	m := NewProgressMetrics()
	dau := NewDAU()
	detach := Attach(bus, NewBridge(m, dau))

	now := time.Now()
	bus.Publish(context.Background(), core.NewXPAwarded("ana", core.ActionDailyLogin, 5, 5, now))
	detach()
	bus.Publish(context.Background(), core.NewXPAwarded("ben", core.ActionDailyLogin, 5, 5, now))

	assert.Equal(t, 1, dau.Count(DayKey(now)))
	assert.Equal(t, int64(5), m.XPByDay(DayKey(now)))
}

func TestHTTPExporterBatches(t *testing.T) {
	var (
		mu      sync.Mutex
		batches [][]Report
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		var got []Report
		assert.NoError(t, json.Unmarshal(body, &got))
		mu.Lock()
		batches = append(batches, got)
		mu.Unlock()
	}))
	defer srv.Close()

	exp := NewHTTPExporter(srv.URL, "secret", 2)
	ctx := context.Background()
	count := func() int {
		mu.Lock()
		defer mu.Unlock()
		return len(batches)
	}
	require.NoError(t, exp.Export(ctx, Report{Period: PeriodDaily, Key: "2024-01-01"}))
	assert.Equal(t, 0, count())
	require.NoError(t, exp.Export(ctx, Report{Period: PeriodDaily, Key: "2024-01-02"}))
	require.Equal(t, 1, count())
	assert.Len(t, batches[0], 2)

	require.NoError(t, exp.Export(ctx, Report{Period: PeriodWeekly, Key: "2024-W01"}))
	require.NoError(t, exp.Close())
	assert.Equal(t, 2, count())
}

func TestHTTPExporterKeepsBufferOnFailure(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			http.Error(w, "down", http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	exp := NewHTTPExporter(srv.URL, "", 1)
	err := exp.Export(context.Background(), Report{Key: "k"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")

	fail.Store(false)
	require.NoError(t, exp.Flush(context.Background()))
	assert.Empty(t, exp.buffer)
}

func TestMultiExporterJoinsErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	multi := NewMultiExporter(NewLogExporter(nil), NewHTTPExporter(srv.URL, "", 1))
	err := multi.Export(context.Background(), Report{Key: "k"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTPExporter")
}
