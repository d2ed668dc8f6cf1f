package core

import (
	"time"

	"github.com/google/uuid"
)

// EventType enumerates domain events.
type EventType string

const (
	EventXPAwarded           EventType = "xp_awarded"
	EventLevelUp             EventType = "level_up"
	EventAchievementUnlocked EventType = "achievement_unlocked"
	EventStreakUpdated       EventType = "streak_updated"
	EventQuizSubmitted       EventType = "quiz_submitted"
	EventModuleCompleted     EventType = "module_completed"
	EventPathwayCompleted    EventType = "pathway_completed"
)

// EventTypes lists every event type the engine publishes.
func EventTypes() []EventType {
	return []EventType{
		EventXPAwarded, EventLevelUp, EventAchievementUnlocked, EventStreakUpdated,
		EventQuizSubmitted, EventModuleCompleted, EventPathwayCompleted,
	}
}

// Event represents an immutable domain event.
type Event struct {
	ID          string         `json:"id"`
	Type        EventType      `json:"type"`
	Time        time.Time      `json:"time"`
	LearnerID   LearnerID      `json:"learner_id"`
	Action      ActionKind     `json:"action,omitempty"`
	Delta       int64          `json:"delta,omitempty"`
	Total       int64          `json:"total,omitempty"`
	Level       int64          `json:"level,omitempty"`
	Rank        Rank           `json:"rank,omitempty"`
	Streak      int            `json:"streak,omitempty"`
	Achievement AchievementID  `json:"achievement,omitempty"`
	PathwayID   PathwayID      `json:"pathway_id,omitempty"`
	ModuleIndex *int           `json:"module_index,omitempty"`
	Score       *float64       `json:"score,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

func newEvent(typ EventType, learner LearnerID, at time.Time) Event {
	return Event{ID: uuid.NewString(), Type: typ, Time: at.UTC(), LearnerID: learner}
}

func NewXPAwarded(learner LearnerID, action ActionKind, delta, total int64, at time.Time) Event {
	e := newEvent(EventXPAwarded, learner, at)
	e.Action, e.Delta, e.Total = action, delta, total
	return e
}

func NewLevelUp(learner LearnerID, level int64, rank Rank, at time.Time) Event {
	e := newEvent(EventLevelUp, learner, at)
	e.Level, e.Rank = level, rank
	return e
}

func NewAchievementUnlocked(learner LearnerID, def AchievementDefinition, at time.Time) Event {
	e := newEvent(EventAchievementUnlocked, learner, at)
	e.Achievement, e.Delta = def.ID, def.Points
	e.Metadata = map[string]any{"category": def.Category, "rarity": def.Rarity}
	return e
}

func NewStreakUpdated(learner LearnerID, streak int, at time.Time) Event {
	e := newEvent(EventStreakUpdated, learner, at)
	e.Streak = streak
	return e
}

func NewQuizSubmitted(learner LearnerID, pathway PathwayID, module int, score float64, passed bool, at time.Time) Event {
	e := newEvent(EventQuizSubmitted, learner, at)
	e.PathwayID, e.ModuleIndex, e.Score = pathway, &module, &score
	e.Metadata = map[string]any{"passed": passed}
	return e
}

func NewModuleCompleted(learner LearnerID, pathway PathwayID, module int, at time.Time) Event {
	e := newEvent(EventModuleCompleted, learner, at)
	e.PathwayID, e.ModuleIndex = pathway, &module
	return e
}

func NewPathwayCompleted(learner LearnerID, pathway PathwayID, at time.Time) Event {
	e := newEvent(EventPathwayCompleted, learner, at)
	e.PathwayID = pathway
	return e
}
