package engine

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"progresskit/core"
)

// RewardResult is what one reward action changed for the learner.
type RewardResult struct {
	LeveledUp            bool                         `json:"leveled_up"`
	NewLevel             int64                        `json:"new_level"`
	Rank                 core.Rank                    `json:"rank"`
	XPGained             int64                        `json:"xp_gained"`
	AchievementsUnlocked []core.AchievementDefinition `json:"achievements_unlocked"`
	// Duplicate is set when the idempotency key had already been applied.
	Duplicate bool `json:"duplicate,omitempty"`
}

// txn accumulates the mutations of one attempt on private copies of the
// learner's records. Nothing is visible outside until the store commits it.
type txn struct {
	now      time.Time
	learner  core.LearnerAggregate
	pathways map[core.PathwayID]core.PathwayProgress
	dirty    map[core.PathwayID]bool
	events   []core.Event
	result   RewardResult
	step     core.Transition
	mutated  bool
}

func newTxn(agg core.LearnerAggregate, pathways []core.PathwayProgress, now time.Time) *txn {
	t := &txn{
		now:      now,
		learner:  agg.Clone(),
		pathways: make(map[core.PathwayID]core.PathwayProgress, len(pathways)),
		dirty:    map[core.PathwayID]bool{},
	}
	if t.learner.Achievements == nil {
		t.learner.Achievements = map[core.AchievementID]core.AchievementProgress{}
	}
	if t.learner.SpecialEvents == nil {
		t.learner.SpecialEvents = map[string]int{}
	}
	for _, p := range pathways {
		t.pathways[p.PathwayID] = p.Clone()
	}
	return t
}

func validateParams(kind core.ActionKind, params core.ActionParams) error {
	if _, err := core.XPForAction(kind, params); err != nil {
		return err
	}
	if params.Count < 0 {
		return core.Errorf("RewardAction", core.ErrInvalidInput, "negative count %d", params.Count)
	}
	return nil
}

// callerKey namespaces a caller supplied idempotency key so it can never
// collide with the keys derived for pathway rewards.
func callerKey(key string) string {
	if key == "" {
		return ""
	}
	return "action:" + key
}

// reward applies one action. It reports false when the idempotency key was
// already processed, in which case nothing changes.
func (t *txn) reward(kind core.ActionKind, params core.ActionParams) (bool, error) {
	if t.learner.HasProcessed(params.IdempotencyKey) {
		return false, nil
	}
	if err := validateParams(kind, params); err != nil {
		return false, err
	}
	xp, _ := core.XPForAction(kind, params)
	if err := t.credit(kind, xp); err != nil {
		return false, err
	}
	t.touchStreak()
	switch kind {
	case core.ActionQuizCompleted:
		t.learner.RecordQuiz(core.QuizAttempt{
			PathwayID:   params.PathwayID,
			ModuleIndex: params.ModuleIndex,
			Score:       *params.Score,
			CompletedAt: t.now,
		})
	case core.ActionSpecialEvent:
		n := params.Count
		if n == 0 {
			n = 1
		}
		ev := strings.TrimSpace(params.Event)
		t.learner.SpecialEvents[ev] += n
	}
	t.learner.MarkProcessed(params.IdempotencyKey, t.now)
	t.mutated = true
	return true, nil
}

// credit runs xp through the leveling calculator.
func (t *txn) credit(action core.ActionKind, xp int64) error {
	res, err := core.ApplyXP(t.learner.Level, xp)
	if err != nil {
		return err
	}
	t.learner.Level = res.State
	gained, err := core.AddSafe(t.result.XPGained, xp)
	if err != nil {
		return core.Wrap("credit", core.ErrInvalidInput, err)
	}
	t.result.XPGained = gained
	if xp > 0 {
		t.events = append(t.events, core.NewXPAwarded(t.learner.LearnerID, action, xp, res.State.TotalXP, t.now))
	}
	if res.LeveledUp {
		t.result.LeveledUp = true
		t.events = append(t.events, core.NewLevelUp(t.learner.LearnerID, res.State.Level, res.State.Rank, t.now))
	}
	t.mutated = true
	return nil
}

func (t *txn) touchStreak() {
	lv := &t.learner.Level
	r := core.UpdateStreak(lv.LastActivityDate, t.now, lv.StreakDays)
	changed := r.StreakDays != lv.StreakDays
	lv.StreakDays = r.StreakDays
	lv.LastActivityDate = r.LastActivityDate
	if changed {
		t.events = append(t.events, core.NewStreakUpdated(t.learner.LearnerID, r.StreakDays, t.now))
	}
}

// settle evaluates achievements until a pass unlocks nothing. Every pass that
// continues unlocks at least one of the finite definitions, so len(defs)+1
// passes always reach the fixed point.
func (t *txn) settle(defs []core.AchievementDefinition, log *slog.Logger) error {
	for pass := 0; pass <= len(defs); pass++ {
		snap := core.BuildSnapshot(t.learner, t.pathwayList())
		unlocked := 0
		for _, ev := range core.Evaluate(defs, t.learner.Achievements, snap, t.now) {
			id := ev.Definition.ID
			if ev.Err != nil {
				log.Warn("skipping achievement with invalid criteria", "achievement", id, "error", ev.Err)
				continue
			}
			prev, ok := t.learner.Achievements[id]
			if !ev.JustCompleted && (ok && prev.Progress == ev.Progress.Progress || !ok && ev.Progress.Progress == 0) {
				continue
			}
			t.learner.Achievements[id] = ev.Progress
			t.mutated = true
			if !ev.JustCompleted {
				continue
			}
			unlocked++
			t.result.AchievementsUnlocked = append(t.result.AchievementsUnlocked, ev.Definition)
			t.events = append(t.events, core.NewAchievementUnlocked(t.learner.LearnerID, ev.Definition, t.now))
			log.Info("achievement unlocked", "learner", t.learner.LearnerID, "achievement", id, "points", ev.Definition.Points)
			if err := t.credit(core.ActionAchievementReward, ev.Definition.Points); err != nil {
				return err
			}
		}
		if unlocked == 0 {
			return nil
		}
	}
	return nil
}

// pathwayList returns pathways in a stable order.
func (t *txn) pathwayList() []core.PathwayProgress {
	out := make([]core.PathwayProgress, 0, len(t.pathways))
	for _, p := range t.pathways {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PathwayID < out[j].PathwayID })
	return out
}

// putPathway stages p for the commit.
func (t *txn) putPathway(p core.PathwayProgress) {
	t.pathways[p.PathwayID] = p
	t.dirty[p.PathwayID] = true
	t.mutated = true
}

// applyTransition credits the reward actions a state machine step fired. Keys
// are derived from the pathway position so each module and pathway pays once.
func (t *txn) applyTransition(p core.PathwayProgress, tr core.Transition, resourceID string) error {
	t.putPathway(p)
	pos := fmt.Sprintf("%s:%d", p.PathwayID, tr.ModuleIndex)
	if tr.ResourceCompleted {
		if _, err := t.reward(core.ActionResourceCompleted, core.ActionParams{IdempotencyKey: "resource:" + pos + ":" + resourceID}); err != nil {
			return err
		}
	}
	if tr.QuizSubmitted {
		score := tr.QuizScore
		attempts := p.Modules[tr.ModuleIndex].Quiz.Attempts
		params := core.ActionParams{
			Score:          &score,
			PathwayID:      p.PathwayID,
			ModuleIndex:    tr.ModuleIndex,
			IdempotencyKey: fmt.Sprintf("quiz:%s:%d", pos, attempts),
		}
		if _, err := t.reward(core.ActionQuizCompleted, params); err != nil {
			return err
		}
		t.events = append(t.events, core.NewQuizSubmitted(t.learner.LearnerID, p.PathwayID, tr.ModuleIndex, score, tr.QuizPassed, t.now))
	}
	if tr.ModuleCompleted {
		if _, err := t.reward(core.ActionModuleCompleted, core.ActionParams{IdempotencyKey: "module:" + pos}); err != nil {
			return err
		}
		t.events = append(t.events, core.NewModuleCompleted(t.learner.LearnerID, p.PathwayID, tr.ModuleIndex, t.now))
	}
	if tr.PathwayCompleted {
		if _, err := t.reward(core.ActionPathwayCompleted, core.ActionParams{IdempotencyKey: "pathway:" + string(p.PathwayID)}); err != nil {
			return err
		}
		t.events = append(t.events, core.NewPathwayCompleted(t.learner.LearnerID, p.PathwayID, t.now))
	}
	return nil
}

func (t *txn) changeset() Changeset {
	t.learner.Updated = t.now
	cs := Changeset{Learner: t.learner}
	ids := make([]core.PathwayID, 0, len(t.dirty))
	for id := range t.dirty {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		cs.Pathways = append(cs.Pathways, t.pathways[id])
	}
	return cs
}

// committedPathway returns id as stored after the commit.
func (t *txn) committedPathway(id core.PathwayID) core.PathwayProgress {
	p := t.pathways[id]
	if t.dirty[id] {
		p.Version++
	}
	return p
}

func (t *txn) finish() RewardResult {
	r := t.result
	r.NewLevel = t.learner.Level.Level
	r.Rank = t.learner.Level.Rank
	if r.AchievementsUnlocked == nil {
		r.AchievementsUnlocked = []core.AchievementDefinition{}
	}
	return r
}

// clampPercent keeps progress values in the displayable range.
func clampPercent(v int) int {
	return int(math.Max(0, math.Min(100, float64(v))))
}
