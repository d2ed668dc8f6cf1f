package core

import (
	"errors"
	"testing"
	"time"
)

func def(id string, c CriteriaType, threshold float64) AchievementDefinition {
	return AchievementDefinition{ID: AchievementID(id), Criteria: c, Threshold: threshold, Points: 10}
}

func TestCriterionForRejectsUnknown(t *testing.T) {
	if _, err := CriterionFor(def("x", "minutes_watched", 1)); !errors.Is(err, ErrInvalidCriteria) {
		t.Fatalf("expected invalid criteria, got %v", err)
	}
	if _, err := CriterionFor(def("x", CriteriaStreakDays, 0)); !errors.Is(err, ErrInvalidCriteria) {
		t.Fatalf("expected invalid criteria for zero threshold, got %v", err)
	}
}

func TestEvaluateMetrics(t *testing.T) {
	now := time.Now()
	snap := ActivitySnapshot{
		ModulesCompleted:   3,
		PathwaysCompleted:  1,
		ResourcesCompleted: 5,
		QuizScores:         []float64{100, 80, 90, 70, 60, 0},
		StreakDays:         7,
		HoursSpent:         2.5,
		SpecialEvents:      map[string]int{"hackathon": 1},
	}
	defs := []AchievementDefinition{
		def("modules", CriteriaModulesCompleted, 6),
		def("pathways", CriteriaPathwaysCompleted, 1),
		def("quiz", CriteriaQuizScore, 80),
		def("streak", CriteriaStreakDays, 14),
		def("resources", CriteriaResourcesCompleted, 10),
		def("time", CriteriaTimeSpent, 10),
		{ID: "event", Criteria: CriteriaSpecialEvent, Threshold: 1, Params: CriteriaParams{Event: "hackathon"}},
	}
	got := map[AchievementID]Evaluation{}
	for _, ev := range Evaluate(defs, nil, snap, now) {
		got[ev.Definition.ID] = ev
	}
	want := map[AchievementID]int{"modules": 50, "pathways": 100, "quiz": 100, "streak": 50, "resources": 50, "time": 25, "event": 100}
	for id, p := range want {
		if got[id].Progress.Progress != p {
			t.Fatalf("%s: want progress %d got %d", id, p, got[id].Progress.Progress)
		}
		if (p == 100) != got[id].JustCompleted {
			t.Fatalf("%s: completion mismatch", id)
		}
	}
}

func TestQuizScoreUsesRecentSamples(t *testing.T) {
	snap := ActivitySnapshot{QuizScores: []float64{50, 50, 100, 100, 100, 100}}
	c := QuizScore{SampleSize: 2}
	if p := c.percent(snap, 100); p != 50 {
		t.Fatalf("want 50 got %v", p)
	}
}

func TestQuizScoreMinSamplesBlocksCompletion(t *testing.T) {
	snap := ActivitySnapshot{QuizScores: []float64{100}}
	d := AchievementDefinition{ID: "q", Criteria: CriteriaQuizScore, Threshold: 90, Params: CriteriaParams{MinSamples: 3}}
	evs := Evaluate([]AchievementDefinition{d}, nil, snap, time.Now())
	if evs[0].JustCompleted || evs[0].Progress.Progress >= 100 {
		t.Fatalf("should not complete with one sample: %+v", evs[0])
	}
}

func TestEvaluateInvalidCriteriaDoesNotBlockOthers(t *testing.T) {
	defs := []AchievementDefinition{def("bad", "unknown", 1), def("streak", CriteriaStreakDays, 1)}
	evs := Evaluate(defs, nil, ActivitySnapshot{StreakDays: 1}, time.Now())
	if len(evs) != 2 {
		t.Fatalf("expected 2 evaluations, got %d", len(evs))
	}
	if evs[0].Err == nil || evs[0].Progress.Progress != 0 {
		t.Fatalf("bad definition should have error and zero progress: %+v", evs[0])
	}
	if !evs[1].JustCompleted {
		t.Fatal("valid definition should complete")
	}
}

func TestEvaluateProgressIsMonotonicAndFrozen(t *testing.T) {
	d := def("streak", CriteriaStreakDays, 10)
	current := map[AchievementID]AchievementProgress{}
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	evs := Evaluate([]AchievementDefinition{d}, current, ActivitySnapshot{StreakDays: 6}, now)
	current[d.ID] = evs[0].Progress
	if current[d.ID].Progress != 60 {
		t.Fatalf("want 60 got %d", current[d.ID].Progress)
	}

	// streak reset must not lower progress
	evs = Evaluate([]AchievementDefinition{d}, current, ActivitySnapshot{StreakDays: 1}, now)
	current[d.ID] = evs[0].Progress
	if current[d.ID].Progress != 60 {
		t.Fatalf("progress decreased to %d", current[d.ID].Progress)
	}

	evs = Evaluate([]AchievementDefinition{d}, current, ActivitySnapshot{StreakDays: 10}, now)
	current[d.ID] = evs[0].Progress
	unlocked := *current[d.ID].UnlockedAt

	evs = Evaluate([]AchievementDefinition{d}, current, ActivitySnapshot{StreakDays: 20}, now.Add(time.Hour))
	if len(evs) != 0 {
		t.Fatalf("completed achievement re-evaluated: %+v", evs)
	}
	if !current[d.ID].UnlockedAt.Equal(unlocked) || current[d.ID].Progress != 100 {
		t.Fatal("completed achievement changed")
	}
}

func TestBuildSnapshot(t *testing.T) {
	agg := NewLearnerAggregate("alice")
	agg.Level.StreakDays = 3
	agg.RecordQuiz(QuizAttempt{Score: 70})
	agg.RecordQuiz(QuizAttempt{Score: 90})

	start := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	p := PathwayProgress{
		Status:         PathwayCompleted,
		StartedAt:      start,
		LastAccessedAt: start.Add(3 * time.Hour),
		Modules: []ModuleProgress{
			{Completed: true, Resources: []ResourceProgress{{Completed: true}, {Completed: true}}},
			{Resources: []ResourceProgress{{Completed: true}, {}}},
		},
	}
	s := BuildSnapshot(agg, []PathwayProgress{p})
	if s.ModulesCompleted != 1 || s.ResourcesCompleted != 3 || s.PathwaysCompleted != 1 {
		t.Fatalf("unexpected counts %+v", s)
	}
	if s.HoursSpent != 3 || s.StreakDays != 3 {
		t.Fatalf("unexpected hours/streak %+v", s)
	}
	if len(s.QuizScores) != 2 || s.QuizScores[0] != 90 {
		t.Fatalf("unexpected quiz scores %v", s.QuizScores)
	}
}
