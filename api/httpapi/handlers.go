package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"progresskit/core"
)

// actionRequest is the body of POST /learners/{id}/actions.
type actionRequest struct {
	Action         string   `json:"action"`
	Score          *float64 `json:"score,omitempty"`
	Days           int      `json:"days,omitempty"`
	Event          string   `json:"event,omitempty"`
	Count          int      `json:"count,omitempty"`
	IdempotencyKey string   `json:"idempotency_key,omitempty"`
}

type quizRequest struct {
	Score *float64 `json:"score"`
}

func (a *api) learner(w http.ResponseWriter, r *http.Request) (core.LearnerID, bool) {
	id, err := core.NormalizeLearnerID(core.LearnerID(mux.Vars(r)["id"]))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_learner", err.Error(), nil)
		return "", false
	}
	return id, true
}

func moduleIndex(w http.ResponseWriter, r *http.Request) (int, bool) {
	n, err := strconv.Atoi(mux.Vars(r)["n"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_module", "module index must be an integer", nil)
		return 0, false
	}
	return n, true
}

func (a *api) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, a.maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooBig *http.MaxBytesError
		switch {
		case errors.As(err, &tooBig):
			writeError(w, http.StatusRequestEntityTooLarge, "body_too_large", err.Error(), nil)
		case errors.Is(err, io.EOF):
			writeError(w, http.StatusBadRequest, "invalid_body", "request body is empty", nil)
		default:
			writeError(w, http.StatusBadRequest, "invalid_body", err.Error(), nil)
		}
		return false
	}
	return true
}

func (a *api) rewardAction(w http.ResponseWriter, r *http.Request) {
	id, ok := a.learner(w, r)
	if !ok {
		return
	}
	var req actionRequest
	if !a.decode(w, r, &req) {
		return
	}
	kind, err := core.ParseActionKind(req.Action)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	res, err := a.deps.Service.RewardAction(r.Context(), id, kind, core.ActionParams{
		Score:          req.Score,
		Days:           req.Days,
		Event:          req.Event,
		Count:          req.Count,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *api) getProfile(w http.ResponseWriter, r *http.Request) {
	id, ok := a.learner(w, r)
	if !ok {
		return
	}
	p, err := a.deps.Service.GetUserGamificationData(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *api) markViewed(w http.ResponseWriter, r *http.Request) {
	id, ok := a.learner(w, r)
	if !ok {
		return
	}
	changed, err := a.deps.Service.MarkAchievementAsViewed(r.Context(), id, core.AchievementID(mux.Vars(r)["aid"]))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"changed": changed})
}

func (a *api) listPathways(w http.ResponseWriter, r *http.Request) {
	id, ok := a.learner(w, r)
	if !ok {
		return
	}
	list, err := a.deps.Service.ListPathways(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pathways": list})
}

func (a *api) startPathway(w http.ResponseWriter, r *http.Request) {
	id, ok := a.learner(w, r)
	if !ok {
		return
	}
	var plan core.PathwayPlan
	if !a.decode(w, r, &plan) {
		return
	}
	p, err := a.deps.Service.StartPathway(r.Context(), id, plan)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (a *api) getPathway(w http.ResponseWriter, r *http.Request) {
	id, ok := a.learner(w, r)
	if !ok {
		return
	}
	p, err := a.deps.Service.GetPathway(r.Context(), id, core.PathwayID(mux.Vars(r)["pid"]))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *api) completeResource(w http.ResponseWriter, r *http.Request) {
	id, ok := a.learner(w, r)
	if !ok {
		return
	}
	n, ok := moduleIndex(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)
	res, err := a.deps.Service.CompleteResource(r.Context(), id, core.PathwayID(vars["pid"]), n, vars["rid"])
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *api) submitQuiz(w http.ResponseWriter, r *http.Request) {
	id, ok := a.learner(w, r)
	if !ok {
		return
	}
	n, ok := moduleIndex(w, r)
	if !ok {
		return
	}
	var req quizRequest
	if !a.decode(w, r, &req) {
		return
	}
	if req.Score == nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "score is required", nil)
		return
	}
	res, err := a.deps.Service.SubmitQuiz(r.Context(), id, core.PathwayID(mux.Vars(r)["pid"]), n, *req.Score)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *api) resetQuiz(w http.ResponseWriter, r *http.Request) {
	id, ok := a.learner(w, r)
	if !ok {
		return
	}
	n, ok := moduleIndex(w, r)
	if !ok {
		return
	}
	res, err := a.deps.Service.ResetQuiz(r.Context(), id, core.PathwayID(mux.Vars(r)["pid"]), n)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *api) listAchievements(w http.ResponseWriter, r *http.Request) {
	defs, err := a.deps.Catalog.Visible(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"achievements": defs})
}

func (a *api) putAchievement(w http.ResponseWriter, r *http.Request) {
	var def core.AchievementDefinition
	if !a.decode(w, r, &def) {
		return
	}
	aid := core.AchievementID(mux.Vars(r)["aid"])
	if def.ID == "" {
		def.ID = aid
	}
	if def.ID != aid {
		writeError(w, http.StatusBadRequest, "invalid_input", fmt.Sprintf("body id %q does not match path id %q", def.ID, aid), nil)
		return
	}
	created, err := a.deps.Catalog.Put(r.Context(), def)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	a.log.Info("achievement definition saved", "achievement", def.ID, "created", created)
	writeJSON(w, status, def)
}

func (a *api) deleteAchievement(w http.ResponseWriter, r *http.Request) {
	aid := core.AchievementID(mux.Vars(r)["aid"])
	if err := a.deps.Catalog.Delete(r.Context(), aid); err != nil {
		a.fail(w, r, err)
		return
	}
	a.log.Info("achievement definition deleted", "achievement", aid)
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) leaderboard(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 1000 {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be between 1 and 1000", nil)
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": a.deps.Leaderboard.TopN(limit),
		"total":   a.deps.Leaderboard.Len(),
	})
}

func (a *api) stats(w http.ResponseWriter, r *http.Request) {
	top := 10
	if raw := r.URL.Query().Get("top"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid_top", "top must be a non-negative integer", nil)
			return
		}
		top = n
	}
	writeJSON(w, http.StatusOK, a.deps.Metrics.Summary(top, time.Now()))
}

// healthCheck verifies the storage backend answers.
func (a *api) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	var err error
	if a.deps.Health != nil {
		err = a.deps.Health(ctx)
	} else {
		// profile reads of unknown learners never write
		_, err = a.deps.Service.GetUserGamificationData(ctx, "healthcheck_probe")
	}

	status := map[string]any{
		"status": "healthy",
		"checks": map[string]any{"storage": "ok"},
	}
	code := http.StatusOK
	if err != nil {
		code = http.StatusServiceUnavailable
		status["status"] = "unhealthy"
		status["checks"] = map[string]any{"storage": "failed"}
		a.log.Warn("health check failed", "error", err)
	}
	writeJSON(w, code, status)
}
