package core

import (
	"math"
	"time"
)

// BuildSnapshot derives the activity metrics for a learner.
func BuildSnapshot(agg LearnerAggregate, pathways []PathwayProgress) ActivitySnapshot {
	s := ActivitySnapshot{
		StreakDays:    agg.Level.StreakDays,
		SpecialEvents: agg.SpecialEvents,
	}
	for _, p := range pathways {
		s.ModulesCompleted += p.CompletedModules()
		s.ResourcesCompleted += p.CompletedResources()
		if p.Status == PathwayCompleted {
			s.PathwaysCompleted++
		}
		s.HoursSpent += p.HoursSpent()
	}
	s.QuizScores = make([]float64, 0, len(agg.RecentQuizzes))
	for _, q := range agg.RecentQuizzes {
		s.QuizScores = append(s.QuizScores, q.Score)
	}
	return s
}

// Evaluation is the result for one incomplete achievement.
type Evaluation struct {
	Definition    AchievementDefinition
	Progress      AchievementProgress
	JustCompleted bool
	// Err is set for definitions whose criteria could not be resolved.
	Err error
}

// Evaluate measures every incomplete definition against the snapshot.
// Completed achievements are skipped; progress never decreases.
func Evaluate(defs []AchievementDefinition, current map[AchievementID]AchievementProgress, s ActivitySnapshot, now time.Time) []Evaluation {
	out := make([]Evaluation, 0, len(defs))
	for _, def := range defs {
		prev, ok := current[def.ID]
		if !ok {
			prev = AchievementProgress{AchievementID: def.ID}
		}
		if prev.IsCompleted {
			continue
		}
		ev := Evaluation{Definition: def, Progress: prev}
		crit, err := CriterionFor(def)
		if err != nil {
			ev.Err = err
			out = append(out, ev)
			continue
		}
		pct := crit.percent(s, def.Threshold)
		if math.IsNaN(pct) || pct < 0 {
			pct = 0
		}
		if pct >= 100 {
			at := now
			ev.Progress.Progress = 100
			ev.Progress.IsCompleted = true
			ev.Progress.UnlockedAt = &at
			ev.JustCompleted = true
		} else if p := int(math.Floor(pct)); p > ev.Progress.Progress {
			ev.Progress.Progress = p
		}
		out = append(out, ev)
	}
	return out
}
