// Package storetest holds the behavior every engine.Store adapter must share.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"progresskit/core"
	"progresskit/engine"
)

// Factory returns a fresh empty store for one subtest.
type Factory func(t *testing.T) engine.Store

// Plan is the two module pathway the suite works with.
func Plan() core.PathwayPlan {
	return core.PathwayPlan{ID: "intro", Modules: []core.ModulePlan{
		{ID: "m1", Resources: []string{"r1", "r2"}},
		{ID: "m2", Resources: []string{"r1"}},
	}}
}

// Run exercises the store contract.
func Run(t *testing.T, newStore Factory) {
	t.Run("DefaultLearner", func(t *testing.T) {
		s := newStore(t)
		agg, err := s.GetLearner(context.Background(), "nobody")
		require.NoError(t, err)
		assert.Equal(t, core.LearnerID("nobody"), agg.LearnerID)
		assert.Equal(t, int64(0), agg.Version)
		assert.Equal(t, int64(1), agg.Level.Level)
		assert.Equal(t, int64(100), agg.Level.RequiredXP)
	})

	t.Run("MissingPathway", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetPathway(context.Background(), "nobody", "intro")
		assert.True(t, errors.Is(err, core.ErrNotFound), "got %v", err)
		list, err := s.ListPathways(context.Background(), "nobody")
		require.NoError(t, err)
		assert.Empty(t, list)
	})

	t.Run("CommitRoundTrip", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
		cs := sampleChangeset(t, now)
		require.NoError(t, s.Commit(ctx, cs))

		agg, err := s.GetLearner(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, int64(1), agg.Version)
		assert.Equal(t, int64(60), agg.Level.TotalXP)
		assert.Equal(t, 1, agg.Level.StreakDays)
		assert.True(t, agg.HasProcessed("k1"))
		assert.Equal(t, 2, agg.SpecialEvents["hackathon"])
		require.Len(t, agg.RecentQuizzes, 1)
		assert.Equal(t, 90.0, agg.RecentQuizzes[0].Score)
		prog := agg.Achievements["first-steps"]
		assert.True(t, prog.IsCompleted)
		require.NotNil(t, prog.UnlockedAt)
		assert.True(t, prog.UnlockedAt.Equal(now))

		p, err := s.GetPathway(ctx, "alice", "intro")
		require.NoError(t, err)
		assert.Equal(t, int64(1), p.Version)
		assert.True(t, p.Modules[0].Resources[0].Completed)
		assert.Equal(t, core.PathwayActive, p.Status)

		list, err := s.ListPathways(ctx, "alice")
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, core.PathwayID("intro"), list[0].PathwayID)
	})

	t.Run("StaleLearnerVersionConflicts", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		cs := sampleChangeset(t, time.Now().UTC())
		require.NoError(t, s.Commit(ctx, cs))

		// the same read version again must lose
		err := s.Commit(ctx, cs)
		require.Error(t, err)
		assert.True(t, errors.Is(err, core.ErrConcurrentModification), "got %v", err)
		assert.True(t, core.IsRetryable(err))

		agg, err := s.GetLearner(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, int64(1), agg.Version)
	})

	t.Run("StalePathwayVersionRollsBackEverything", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		cs := sampleChangeset(t, time.Now().UTC())
		require.NoError(t, s.Commit(ctx, cs))

		agg, err := s.GetLearner(ctx, "alice")
		require.NoError(t, err)
		agg.Level.TotalXP = 999
		// learner version is current but the pathway version is stale
		stale := cs.Pathways[0]
		err = s.Commit(ctx, engine.Changeset{Learner: agg, Pathways: []core.PathwayProgress{stale}})
		require.Error(t, err)
		assert.True(t, errors.Is(err, core.ErrConcurrentModification), "got %v", err)

		after, err := s.GetLearner(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, int64(60), after.Level.TotalXP)
		assert.Equal(t, int64(1), after.Version)
	})

	t.Run("LearnersAreIndependent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Commit(ctx, engine.Changeset{Learner: core.NewLearnerAggregate("bob")}))
		require.NoError(t, s.Commit(ctx, engine.Changeset{Learner: core.NewLearnerAggregate("carol")}))
		bob, err := s.GetLearner(ctx, "bob")
		require.NoError(t, err)
		assert.Equal(t, int64(1), bob.Version)
		_, err = s.GetPathway(ctx, "bob", "intro")
		assert.True(t, errors.Is(err, core.ErrNotFound))
	})

	t.Run("RejectsForeignPathway", func(t *testing.T) {
		s := newStore(t)
		p, err := core.NewPathwayProgress("mallory", Plan())
		require.NoError(t, err)
		err = s.Commit(context.Background(), engine.Changeset{Learner: core.NewLearnerAggregate("alice"), Pathways: []core.PathwayProgress{p}})
		assert.True(t, errors.Is(err, core.ErrInvalidInput), "got %v", err)
	})
}

func sampleChangeset(t *testing.T, now time.Time) engine.Changeset {
	t.Helper()
	agg := core.NewLearnerAggregate("alice")
	res, err := core.ApplyXP(agg.Level, 60)
	require.NoError(t, err)
	agg.Level = res.State
	agg.Level.StreakDays = 1
	agg.Level.LastActivityDate = core.StartOfDay(now)
	agg.MarkProcessed("k1", now)
	agg.SpecialEvents["hackathon"] = 2
	agg.RecordQuiz(core.QuizAttempt{PathwayID: "intro", Score: 90, CompletedAt: now})
	unlocked := now
	agg.Achievements["first-steps"] = core.AchievementProgress{AchievementID: "first-steps", Progress: 100, IsCompleted: true, UnlockedAt: &unlocked}

	p, err := core.NewPathwayProgress("alice", Plan())
	require.NoError(t, err)
	_, err = p.CompleteResource(0, "r1", now)
	require.NoError(t, err)
	return engine.Changeset{Learner: agg, Pathways: []core.PathwayProgress{p}}
}
