package sdk

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"progresskit/analytics"
	"progresskit/core"
	"progresskit/engine"
	"progresskit/leaderboard"
)

// The API speaks the engine's JSON shapes directly.
type (
	Profile         = engine.Profile
	AchievementView = engine.AchievementView
	RewardResult    = engine.RewardResult
	StepResult      = engine.StepResult
	PathwayProgress = core.PathwayProgress
	PathwayPlan     = core.PathwayPlan
	Achievement     = core.AchievementDefinition
	Event           = core.Event
	Summary         = analytics.Summary
	LeaderboardRow  = leaderboard.Entry
)

// Action describes one learner action for RewardAction.
type Action struct {
	Action         string   `json:"action"`
	Score          *float64 `json:"score,omitempty"`
	Days           int      `json:"days,omitempty"`
	Event          string   `json:"event,omitempty"`
	Count          int      `json:"count,omitempty"`
	IdempotencyKey string   `json:"idempotency_key,omitempty"`
}

// Leaderboard is a page of the global ranking.
type Leaderboard struct {
	Entries []LeaderboardRow `json:"entries"`
	Total   int              `json:"total"`
}

// HealthStatus describes the /healthz response.
type HealthStatus struct {
	Status string         `json:"status"`
	Checks map[string]any `json:"checks"`
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int            `json:"-"`
	Code       string         `json:"code"`
	Message    string         `json:"message"`
	Details    map[string]any `json:"details,omitempty"`
	RetryAfter time.Duration  `json:"-"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("request failed: status %d", e.StatusCode)
	}
	return fmt.Sprintf("request failed: status %d: %s: %s", e.StatusCode, e.Code, e.Message)
}

// Retryable reports whether the server marked the failure as transient.
func (e *APIError) Retryable() bool {
	if v, ok := e.Details["retryable"].(bool); ok {
		return v
	}
	return e.StatusCode == http.StatusTooManyRequests
}

func decodeJSON(resp *http.Response, target any) error {
	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		_ = json.NewDecoder(resp.Body).Decode(apiErr)
		if s, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
			apiErr.RetryAfter = time.Duration(s) * time.Second
		}
		return apiErr
	}
	if target == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(target)
}

// ErrEmptyLearnerID is returned when learner id is empty.
var ErrEmptyLearnerID = errors.New("learner id is required")

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}
