package core

import (
	"errors"
	"math"
	"sort"
	"strings"
	"time"
)

// LearnerID uniquely identifies a learner in the progression domain.
type LearnerID string

// AchievementID identifies an achievement catalog entry.
type AchievementID string

// PathwayID identifies a learning pathway.
type PathwayID string

// LevelState is the per-learner leveling record.
// CurrentXP is always strictly below RequiredXP once an update completes.
type LevelState struct {
	Level            int64     `json:"level"`
	CurrentXP        int64     `json:"current_xp"`
	RequiredXP       int64     `json:"required_xp"`
	TotalXP          int64     `json:"total_xp"`
	StreakDays       int       `json:"streak_days"`
	LastActivityDate time.Time `json:"last_activity_date"`
	Rank             Rank      `json:"rank"`
}

// NewLevelState returns the state a learner starts with.
func NewLevelState() LevelState {
	return LevelState{
		Level:      1,
		CurrentXP:  0,
		RequiredXP: RequiredXPForLevel(1),
		TotalXP:    0,
		Rank:       RankForLevel(1),
	}
}

// AchievementProgress tracks one learner's progress towards one definition.
type AchievementProgress struct {
	AchievementID AchievementID `json:"achievement_id"`
	Progress      int           `json:"progress"`
	IsCompleted   bool          `json:"is_completed"`
	UnlockedAt    *time.Time    `json:"unlocked_at,omitempty"`
	IsViewed      bool          `json:"is_viewed"`
}

// QuizAttempt is a completed quiz submission kept for averaged criteria.
type QuizAttempt struct {
	PathwayID   PathwayID `json:"pathway_id,omitempty"`
	ModuleIndex int       `json:"module_index"`
	Score       float64   `json:"score"`
	CompletedAt time.Time `json:"completed_at"`
}

const (
	// MaxRecentQuizzes bounds the quiz history kept on the aggregate.
	MaxRecentQuizzes = 20
	// MaxProcessedActions bounds the idempotency keys kept on the aggregate.
	MaxProcessedActions = 512
)

// LearnerAggregate is everything the engine mutates for a learner in one commit.
// Version is the optimistic concurrency token; zero means the record was never stored.
type LearnerAggregate struct {
	LearnerID        LearnerID                             `json:"learner_id"`
	Level            LevelState                            `json:"level"`
	Achievements     map[AchievementID]AchievementProgress `json:"achievements"`
	ProcessedActions map[string]time.Time                  `json:"processed_actions"`
	RecentQuizzes    []QuizAttempt                         `json:"recent_quizzes"`
	SpecialEvents    map[string]int                        `json:"special_events"`
	Version          int64                                 `json:"version"`
	Updated          time.Time                             `json:"updated"`
}

// NewLearnerAggregate builds the lazily created default aggregate.
func NewLearnerAggregate(id LearnerID) LearnerAggregate {
	return LearnerAggregate{
		LearnerID:        id,
		Level:            NewLevelState(),
		Achievements:     map[AchievementID]AchievementProgress{},
		ProcessedActions: map[string]time.Time{},
		SpecialEvents:    map[string]int{},
	}
}

// Clone returns a deep copy so callers can mutate without aliasing stored state.
func (a LearnerAggregate) Clone() LearnerAggregate {
	cp := a
	cp.Achievements = make(map[AchievementID]AchievementProgress, len(a.Achievements))
	for k, v := range a.Achievements {
		if v.UnlockedAt != nil {
			t := *v.UnlockedAt
			v.UnlockedAt = &t
		}
		cp.Achievements[k] = v
	}
	cp.ProcessedActions = make(map[string]time.Time, len(a.ProcessedActions))
	for k, v := range a.ProcessedActions {
		cp.ProcessedActions[k] = v
	}
	cp.SpecialEvents = make(map[string]int, len(a.SpecialEvents))
	for k, v := range a.SpecialEvents {
		cp.SpecialEvents[k] = v
	}
	cp.RecentQuizzes = append([]QuizAttempt(nil), a.RecentQuizzes...)
	return cp
}

// HasProcessed reports whether an idempotency key was already applied.
func (a LearnerAggregate) HasProcessed(key string) bool {
	if key == "" {
		return false
	}
	_, ok := a.ProcessedActions[key]
	return ok
}

// MarkProcessed records key, evicting the oldest keys beyond MaxProcessedActions.
func (a *LearnerAggregate) MarkProcessed(key string, at time.Time) {
	if key == "" {
		return
	}
	if a.ProcessedActions == nil {
		a.ProcessedActions = map[string]time.Time{}
	}
	a.ProcessedActions[key] = at
	if len(a.ProcessedActions) <= MaxProcessedActions {
		return
	}
	type entry struct {
		key string
		at  time.Time
	}
	entries := make([]entry, 0, len(a.ProcessedActions))
	for k, v := range a.ProcessedActions {
		entries = append(entries, entry{k, v})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].at.Before(entries[j].at) })
	for _, e := range entries[:len(entries)-MaxProcessedActions] {
		delete(a.ProcessedActions, e.key)
	}
}

// RecordQuiz prepends an attempt to the bounded most-recent-first history.
func (a *LearnerAggregate) RecordQuiz(q QuizAttempt) {
	a.RecentQuizzes = append([]QuizAttempt{q}, a.RecentQuizzes...)
	if len(a.RecentQuizzes) > MaxRecentQuizzes {
		a.RecentQuizzes = a.RecentQuizzes[:MaxRecentQuizzes]
	}
}

// AddSafe adds delta to base ensuring no signed overflow occurs.
func AddSafe(base int64, delta int64) (int64, error) {
	if (delta > 0 && base > math.MaxInt64-delta) || (delta < 0 && base < math.MinInt64-delta) {
		return 0, errors.New("integer overflow in AddSafe")
	}
	return base + delta, nil
}

// NormalizeLearnerID trims and lowercases learner identifiers.
func NormalizeLearnerID(id LearnerID) (LearnerID, error) {
	s := strings.TrimSpace(string(id))
	if s == "" {
		return "", Errorf("NormalizeLearnerID", ErrInvalidInput, "empty learner id")
	}
	return LearnerID(strings.ToLower(s)), nil
}

// ValidateID ensures a non-empty identifier using a simple charset check.
func ValidateID(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return errors.New("empty id")
	}
	for _, r := range s {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_' || r == '.' {
			continue
		}
		return errors.New("invalid id")
	}
	return nil
}
