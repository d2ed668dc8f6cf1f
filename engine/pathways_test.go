package engine_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mem "progresskit/adapters/memory"
	"progresskit/core"
)

func goPlan() core.PathwayPlan {
	return core.PathwayPlan{ID: "go-basics", Modules: []core.ModulePlan{
		{ID: "syntax", Resources: []string{"video", "article"}, PassingScore: 70},
		{ID: "types", Resources: []string{"video"}},
	}}
}

func TestModuleCompletionEndToEnd(t *testing.T) {
	cat := staticCatalog{
		{ID: "first-module", Name: "First Module", Points: 25, Criteria: core.CriteriaModulesCompleted, Threshold: 1},
	}
	svc, _ := newService(t, mem.New(), cat)
	ctx := context.Background()

	p, err := svc.StartPathway(ctx, "nia", goPlan())
	require.NoError(t, err)
	assert.Equal(t, core.PathwayActive, p.Status)
	assert.Equal(t, int64(1), p.Version)

	step, err := svc.CompleteResource(ctx, "nia", "go-basics", 0, "video")
	require.NoError(t, err)
	assert.Equal(t, int64(10), step.Reward.XPGained)
	_, err = svc.CompleteResource(ctx, "nia", "go-basics", 0, "article")
	require.NoError(t, err)

	step, err = svc.SubmitQuiz(ctx, "nia", "go-basics", 0, 80)
	require.NoError(t, err)
	assert.True(t, step.Transition.ModuleCompleted)
	assert.True(t, step.Pathway.Modules[0].Completed)
	assert.Equal(t, 50, step.Pathway.Progress)
	assert.Equal(t, 1, step.Pathway.CurrentModule)
	// quiz 30+16, module 50, achievement 25
	assert.Equal(t, int64(46+50+25), step.Reward.XPGained)
	require.Len(t, step.Reward.AchievementsUnlocked, 1)

	step, err = svc.ResetQuiz(ctx, "nia", "go-basics", 0)
	require.NoError(t, err)
	assert.False(t, step.Pathway.Modules[0].Completed)
	assert.Equal(t, 0, step.Pathway.Progress)
	assert.Equal(t, 1, step.Pathway.CurrentModule)
	assert.Equal(t, int64(0), step.Reward.XPGained)

	stored, err := svc.GetPathway(ctx, "nia", "go-basics")
	require.NoError(t, err)
	assert.Equal(t, 0, stored.Progress)
	assert.False(t, stored.Modules[0].Quiz.Completed)

	// retaking pays quiz XP again but the module only once
	step, err = svc.SubmitQuiz(ctx, "nia", "go-basics", 0, 100)
	require.NoError(t, err)
	assert.True(t, step.Transition.ModuleCompleted)
	assert.Equal(t, int64(50), step.Reward.XPGained)

	prof, err := svc.GetUserGamificationData(ctx, "nia")
	require.NoError(t, err)
	assert.Equal(t, int64(10+10+46+50+25+50), prof.TotalXP)
}

func TestPathwayCompletionPaysOnce(t *testing.T) {
	svc, _ := newService(t, mem.New(), staticCatalog{})
	ctx := context.Background()
	_, err := svc.StartPathway(ctx, "omar", goPlan())
	require.NoError(t, err)

	for _, r := range []string{"video", "article"} {
		_, err := svc.CompleteResource(ctx, "omar", "go-basics", 0, r)
		require.NoError(t, err)
	}
	_, err = svc.SubmitQuiz(ctx, "omar", "go-basics", 0, 90)
	require.NoError(t, err)
	_, err = svc.CompleteResource(ctx, "omar", "go-basics", 1, "video")
	require.NoError(t, err)
	step, err := svc.SubmitQuiz(ctx, "omar", "go-basics", 1, 75)
	require.NoError(t, err)
	assert.True(t, step.Transition.PathwayCompleted)
	assert.Equal(t, core.PathwayCompleted, step.Pathway.Status)
	// quiz 45, module 50, pathway 200
	assert.Equal(t, int64(45+50+200), step.Reward.XPGained)

	_, err = svc.ResetQuiz(ctx, "omar", "go-basics", 1)
	require.NoError(t, err)
	step, err = svc.SubmitQuiz(ctx, "omar", "go-basics", 1, 75)
	require.NoError(t, err)
	assert.True(t, step.Transition.PathwayCompleted)
	assert.Equal(t, int64(45), step.Reward.XPGained)
}

func TestCallerKeyCannotShadowModuleReward(t *testing.T) {
	svc, _ := newService(t, mem.New(), staticCatalog{})
	ctx := context.Background()
	_, err := svc.RewardAction(ctx, "quinn", core.ActionDailyLogin, core.ActionParams{IdempotencyKey: "module:go-basics:0"})
	require.NoError(t, err)
	_, err = svc.RewardAction(ctx, "quinn", core.ActionDailyLogin, core.ActionParams{IdempotencyKey: "pathway:go-basics"})
	require.NoError(t, err)

	_, err = svc.StartPathway(ctx, "quinn", goPlan())
	require.NoError(t, err)
	for _, r := range []string{"video", "article"} {
		_, err := svc.CompleteResource(ctx, "quinn", "go-basics", 0, r)
		require.NoError(t, err)
	}
	step, err := svc.SubmitQuiz(ctx, "quinn", "go-basics", 0, 80)
	require.NoError(t, err)
	require.True(t, step.Transition.ModuleCompleted)
	assert.Equal(t, int64(46+50), step.Reward.XPGained)

	_, err = svc.CompleteResource(ctx, "quinn", "go-basics", 1, "video")
	require.NoError(t, err)
	step, err = svc.SubmitQuiz(ctx, "quinn", "go-basics", 1, 75)
	require.NoError(t, err)
	require.True(t, step.Transition.PathwayCompleted)
	assert.Equal(t, int64(45+50+200), step.Reward.XPGained)
}

func TestFailingQuizEarnsQuizXPOnly(t *testing.T) {
	svc, _ := newService(t, mem.New(), staticCatalog{})
	ctx := context.Background()
	_, err := svc.StartPathway(ctx, "pat", goPlan())
	require.NoError(t, err)
	_, _ = svc.CompleteResource(ctx, "pat", "go-basics", 0, "video")
	_, _ = svc.CompleteResource(ctx, "pat", "go-basics", 0, "article")

	step, err := svc.SubmitQuiz(ctx, "pat", "go-basics", 0, 40)
	require.NoError(t, err)
	assert.False(t, step.Transition.QuizPassed)
	assert.False(t, step.Pathway.Modules[0].Completed)
	assert.Equal(t, int64(38), step.Reward.XPGained)
	assert.Equal(t, 1, step.Pathway.Modules[0].Quiz.Attempts)

	// every attempt is a quiz completion and pays on its own
	step, err = svc.SubmitQuiz(ctx, "pat", "go-basics", 0, 40)
	require.NoError(t, err)
	assert.Equal(t, int64(38), step.Reward.XPGained)
	assert.Equal(t, 2, step.Pathway.Modules[0].Quiz.Attempts)
}

func TestRepeatedResourceIsFree(t *testing.T) {
	svc, _ := newService(t, mem.New(), staticCatalog{})
	ctx := context.Background()
	_, _ = svc.StartPathway(ctx, "quinn", goPlan())
	first, err := svc.CompleteResource(ctx, "quinn", "go-basics", 0, "video")
	require.NoError(t, err)
	second, err := svc.CompleteResource(ctx, "quinn", "go-basics", 0, "video")
	require.NoError(t, err)
	assert.Equal(t, int64(10), first.Reward.XPGained)
	assert.Equal(t, int64(0), second.Reward.XPGained)
}

func TestStartPathwayIsIdempotent(t *testing.T) {
	svc, _ := newService(t, mem.New(), staticCatalog{})
	ctx := context.Background()
	_, _ = svc.StartPathway(ctx, "rae", goPlan())
	_, _ = svc.CompleteResource(ctx, "rae", "go-basics", 0, "video")

	again, err := svc.StartPathway(ctx, "rae", goPlan())
	require.NoError(t, err)
	assert.True(t, again.Modules[0].Resources[0].Completed)

	list, err := svc.ListPathways(ctx, "rae")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestPathwayNotFound(t *testing.T) {
	svc, _ := newService(t, mem.New(), staticCatalog{})
	ctx := context.Background()
	_, err := svc.CompleteResource(ctx, "sam", "nope", 0, "video")
	assert.True(t, errors.Is(err, core.ErrNotFound))
	_, err = svc.GetPathway(ctx, "sam", "nope")
	assert.True(t, errors.Is(err, core.ErrNotFound))

	_, _ = svc.StartPathway(ctx, "sam", goPlan())
	_, err = svc.SubmitQuiz(ctx, "sam", "go-basics", 9, 80)
	assert.True(t, errors.Is(err, core.ErrNotFound))
	_, err = svc.CompleteResource(ctx, "sam", "go-basics", 0, "podcast")
	assert.True(t, errors.Is(err, core.ErrNotFound))
}
