package engine

import (
	"context"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"progresskit/core"
)

// AchievementView joins a definition with the learner's progress on it.
type AchievementView struct {
	core.AchievementDefinition
	Progress    int        `json:"progress"`
	IsCompleted bool       `json:"is_completed"`
	UnlockedAt  *time.Time `json:"unlocked_at,omitempty"`
	IsViewed    bool       `json:"is_viewed"`
}

// Profile is the learner's gamification summary for display.
type Profile struct {
	LearnerID        core.LearnerID    `json:"learner_id"`
	Level            int64             `json:"level"`
	CurrentXP        int64             `json:"current_xp"`
	RequiredXP       int64             `json:"required_xp"`
	TotalXP          int64             `json:"total_xp"`
	Rank             core.Rank         `json:"rank"`
	StreakDays       int               `json:"streak_days"`
	LastActivityDate time.Time         `json:"last_activity_date"`
	Achievements     []AchievementView `json:"achievements"`
	InProgress       []AchievementView `json:"in_progress_achievements"`
	New              []AchievementView `json:"new_achievements"`
}

// GetUserGamificationData reads the learner's level, streak and achievements.
// Unknown learners get the default profile. Hidden achievements appear only
// once unlocked.
func (s *Service) GetUserGamificationData(ctx context.Context, learner core.LearnerID) (Profile, error) {
	id, err := core.NormalizeLearnerID(learner)
	if err != nil {
		return Profile{}, err
	}
	actx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	var (
		agg  core.LearnerAggregate
		defs []core.AchievementDefinition
	)
	g, gctx := errgroup.WithContext(actx)
	g.Go(func() error {
		var err error
		agg, err = s.store.GetLearner(gctx, id)
		return err
	})
	g.Go(func() error {
		var err error
		defs, err = s.catalog.Definitions(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return Profile{}, s.storeErr(ctx, "GetUserGamificationData", err)
	}
	return buildProfile(id, agg, defs), nil
}

func buildProfile(id core.LearnerID, agg core.LearnerAggregate, defs []core.AchievementDefinition) Profile {
	lv := agg.Level
	p := Profile{
		LearnerID:        id,
		Level:            lv.Level,
		CurrentXP:        lv.CurrentXP,
		RequiredXP:       lv.RequiredXP,
		TotalXP:          lv.TotalXP,
		Rank:             lv.Rank,
		StreakDays:       lv.StreakDays,
		LastActivityDate: lv.LastActivityDate,
		Achievements:     []AchievementView{},
		InProgress:       []AchievementView{},
		New:              []AchievementView{},
	}
	for _, def := range defs {
		prog, ok := agg.Achievements[def.ID]
		v := AchievementView{AchievementDefinition: def}
		if ok {
			v.Progress = clampPercent(prog.Progress)
			v.IsCompleted = prog.IsCompleted
			v.UnlockedAt = prog.UnlockedAt
			v.IsViewed = prog.IsViewed
		}
		switch {
		case v.IsCompleted:
			p.Achievements = append(p.Achievements, v)
			if !v.IsViewed {
				p.New = append(p.New, v)
			}
		case !def.Hidden && v.Progress > 0:
			p.InProgress = append(p.InProgress, v)
		}
	}
	sort.SliceStable(p.Achievements, func(i, j int) bool {
		return unlockedAt(p.Achievements[i]).After(unlockedAt(p.Achievements[j]))
	})
	sort.SliceStable(p.InProgress, func(i, j int) bool {
		return p.InProgress[i].Progress > p.InProgress[j].Progress
	})
	return p
}

func unlockedAt(v AchievementView) time.Time {
	if v.UnlockedAt == nil {
		return time.Time{}
	}
	return *v.UnlockedAt
}

// MarkAchievementAsViewed acknowledges an unlocked achievement. It reports
// whether the flag changed; acknowledging a locked or already viewed
// achievement is a no-op.
func (s *Service) MarkAchievementAsViewed(ctx context.Context, learner core.LearnerID, achievement core.AchievementID) (bool, error) {
	id, err := core.NormalizeLearnerID(learner)
	if err != nil {
		return false, err
	}
	if _, err := s.catalog.Definition(ctx, achievement); err != nil {
		return false, err
	}
	t, err := s.run(ctx, id, "MarkAchievementAsViewed", false, func(t *txn) error {
		prog, ok := t.learner.Achievements[achievement]
		if !ok || !prog.IsCompleted || prog.IsViewed {
			return nil
		}
		prog.IsViewed = true
		t.learner.Achievements[achievement] = prog
		t.mutated = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return t.mutated, nil
}
