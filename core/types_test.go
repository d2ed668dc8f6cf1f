package core

import (
	"errors"
	"fmt"
	"math"
	"testing"
	"time"
)

func TestAddSafe(t *testing.T) {
	if v, err := AddSafe(10, 5); err != nil || v != 15 {
		t.Fatalf("got %v %v", v, err)
	}
	if _, err := AddSafe(math.MaxInt64, 1); err == nil {
		t.Fatalf("expected overflow")
	}
}

func TestNormalizeLearnerID(t *testing.T) {
	id, err := NormalizeLearnerID(" Alice ")
	if err != nil || id != "alice" {
		t.Fatalf("got %v %v", id, err)
	}
	if _, err := NormalizeLearnerID("   "); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestValidateID(t *testing.T) {
	if err := ValidateID("first_module-1"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if err := ValidateID("bad id"); err == nil {
		t.Fatalf("expected invalid id err")
	}
}

func TestAggregateCloneIsDeep(t *testing.T) {
	agg := NewLearnerAggregate("alice")
	at := time.Now()
	agg.Achievements["a"] = AchievementProgress{AchievementID: "a", IsCompleted: true, UnlockedAt: &at}
	agg.SpecialEvents["x"] = 1

	cp := agg.Clone()
	cp.SpecialEvents["x"] = 2
	*cp.Achievements["a"].UnlockedAt = at.Add(time.Hour)

	if agg.SpecialEvents["x"] != 1 {
		t.Fatal("special events aliased")
	}
	if !agg.Achievements["a"].UnlockedAt.Equal(at) {
		t.Fatal("unlockedAt aliased")
	}
}

func TestMarkProcessedEvictsOldest(t *testing.T) {
	agg := NewLearnerAggregate("alice")
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < MaxProcessedActions+10; i++ {
		agg.MarkProcessed(fmt.Sprintf("action-%d", i), base.Add(time.Duration(i)*time.Second))
	}
	if len(agg.ProcessedActions) != MaxProcessedActions {
		t.Fatalf("expected %d keys, got %d", MaxProcessedActions, len(agg.ProcessedActions))
	}
	if agg.HasProcessed("action-0") {
		t.Fatal("oldest key should be evicted")
	}
	if agg.HasProcessed("") {
		t.Fatal("empty key is never processed")
	}
}

func TestRecordQuizKeepsMostRecentFirst(t *testing.T) {
	agg := NewLearnerAggregate("alice")
	for i := 0; i < MaxRecentQuizzes+3; i++ {
		agg.RecordQuiz(QuizAttempt{Score: float64(i)})
	}
	if len(agg.RecentQuizzes) != MaxRecentQuizzes {
		t.Fatalf("expected %d quizzes, got %d", MaxRecentQuizzes, len(agg.RecentQuizzes))
	}
	if agg.RecentQuizzes[0].Score != float64(MaxRecentQuizzes+2) {
		t.Fatalf("most recent should be first, got %v", agg.RecentQuizzes[0].Score)
	}
}

func TestErrorKinds(t *testing.T) {
	err := Wrap("Commit", ErrConcurrentModification, errors.New("version 3 != 4"))
	if !errors.Is(err, ErrConcurrentModification) || !IsRetryable(err) {
		t.Fatalf("expected retryable conflict: %v", err)
	}
	if IsRetryable(Errorf("Get", ErrNotFound, "missing")) {
		t.Fatal("not found is not retryable")
	}
	if Wrap("x", ErrNotFound, nil) != nil {
		t.Fatal("wrapping nil must stay nil")
	}
}
