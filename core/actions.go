package core

import (
	"math"
	"strings"
)

// ActionKind enumerates learner actions that earn XP.
type ActionKind string

const (
	ActionResourceCompleted   ActionKind = "resource_completed"
	ActionModuleCompleted     ActionKind = "module_completed"
	ActionPathwayCompleted    ActionKind = "pathway_completed"
	ActionDailyLogin          ActionKind = "daily_login"
	ActionAssessmentCompleted ActionKind = "assessment_completed"
	ActionQuizCompleted       ActionKind = "quiz_completed"
	ActionSpecialEvent        ActionKind = "special_event"

	// ActionAchievementReward credits an unlocked achievement's points. It is
	// produced by the evaluator and never accepted from callers.
	ActionAchievementReward ActionKind = "achievement_reward"
)

// Fixed XP awards.
const (
	XPResource     int64 = 10
	XPModule       int64 = 50
	XPPathway      int64 = 200
	XPDailyLogin   int64 = 5
	XPAssessment   int64 = 25
	XPQuizBase     int64 = 30
	XPQuizMaxBonus int64 = 20
	XPSpecialEvent int64 = 0
)

// ActionParams carries optional inputs of an action.
type ActionParams struct {
	// Score is the quiz score in percent, required for quiz_completed.
	Score *float64 `json:"score,omitempty"`
	// Days is informational for login actions.
	Days int `json:"days,omitempty"`
	// Event names the special event to count.
	Event string `json:"event,omitempty"`
	// Count is how many occurrences of Event to add, default 1.
	Count int `json:"count,omitempty"`
	// IdempotencyKey identifies the action; replays with the same key are ignored.
	IdempotencyKey string `json:"idempotency_key,omitempty"`
	// PathwayID and ModuleIndex tag quiz attempts with their origin.
	PathwayID   PathwayID `json:"pathway_id,omitempty"`
	ModuleIndex int       `json:"module_index,omitempty"`
}

// ParseActionKind validates a wire action name.
func ParseActionKind(s string) (ActionKind, error) {
	k := ActionKind(strings.ToLower(strings.TrimSpace(s)))
	switch k {
	case ActionResourceCompleted, ActionModuleCompleted, ActionPathwayCompleted,
		ActionDailyLogin, ActionAssessmentCompleted, ActionQuizCompleted, ActionSpecialEvent:
		return k, nil
	}
	return "", Errorf("ParseActionKind", ErrInvalidInput, "unknown action %q", s)
}

// QuizXP is the base award plus a bonus proportional to score.
func QuizXP(score float64) int64 {
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return XPQuizBase + int64(math.Floor(score/100*float64(XPQuizMaxBonus)))
}

// XPForAction looks up the award for kind.
func XPForAction(kind ActionKind, params ActionParams) (int64, error) {
	switch kind {
	case ActionResourceCompleted:
		return XPResource, nil
	case ActionModuleCompleted:
		return XPModule, nil
	case ActionPathwayCompleted:
		return XPPathway, nil
	case ActionDailyLogin:
		return XPDailyLogin, nil
	case ActionAssessmentCompleted:
		return XPAssessment, nil
	case ActionQuizCompleted:
		if params.Score == nil {
			return 0, Errorf("XPForAction", ErrInvalidInput, "quiz action requires a score")
		}
		s := *params.Score
		if math.IsNaN(s) || s < 0 || s > 100 {
			return 0, Errorf("XPForAction", ErrInvalidInput, "score %v out of range", s)
		}
		return QuizXP(s), nil
	case ActionSpecialEvent:
		if strings.TrimSpace(params.Event) == "" {
			return 0, Errorf("XPForAction", ErrInvalidInput, "special event requires an event name")
		}
		return XPSpecialEvent, nil
	}
	return 0, Errorf("XPForAction", ErrInvalidInput, "unknown action %q", kind)
}
