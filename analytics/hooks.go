package analytics

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"progresskit/core"
)

// Hook receives domain events for KPI aggregation.
type Hook interface {
	OnEvent(e core.Event)
}

const dayLayout = "2006-01-02"

// DayKey formats t as the UTC day used to index daily metrics.
func DayKey(t time.Time) string { return t.UTC().Format(dayLayout) }

// DAU tracks daily active learners.
type DAU struct {
	mu   sync.Mutex
	days map[string]map[core.LearnerID]struct{}
}

func NewDAU() *DAU { return &DAU{days: map[string]map[core.LearnerID]struct{}{}} }

func (d *DAU) OnEvent(e core.Event) {
	day := DayKey(e.Time)
	d.mu.Lock()
	defer d.mu.Unlock()
	m := d.days[day]
	if m == nil {
		m = map[core.LearnerID]struct{}{}
		d.days[day] = m
	}
	m[e.LearnerID] = struct{}{}
}

func (d *DAU) Count(day string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.days[day])
}

type learnerSet map[core.LearnerID]struct{}

func (s learnerSet) add(id core.LearnerID) { s[id] = struct{}{} }

// ProgressMetrics aggregates the engine's event stream into learning KPIs.
type ProgressMetrics struct {
	mu sync.RWMutex

	dailyActive   map[string]learnerSet
	weeklyActive  map[string]learnerSet
	monthlyActive map[string]learnerSet

	xpByDay    map[string]int64
	xpByAction map[core.ActionKind]int64

	levelUpsByDay     map[string]int64
	levelDistribution map[int64]int
	learnerLevel      map[core.LearnerID]int64

	unlocksByDay         map[string]int64
	unlocksByAchievement map[core.AchievementID]int64

	modulesByDay   map[string]int64
	pathwaysByDay  map[string]int64
	quizSubmitted  int64
	quizPassed     int64
	longestStreaks map[core.LearnerID]int
}

func NewProgressMetrics() *ProgressMetrics {
	return &ProgressMetrics{
		dailyActive:          make(map[string]learnerSet),
		weeklyActive:         make(map[string]learnerSet),
		monthlyActive:        make(map[string]learnerSet),
		xpByDay:              make(map[string]int64),
		xpByAction:           make(map[core.ActionKind]int64),
		levelUpsByDay:        make(map[string]int64),
		levelDistribution:    make(map[int64]int),
		learnerLevel:         make(map[core.LearnerID]int64),
		unlocksByDay:         make(map[string]int64),
		unlocksByAchievement: make(map[core.AchievementID]int64),
		modulesByDay:         make(map[string]int64),
		pathwaysByDay:        make(map[string]int64),
		longestStreaks:       make(map[core.LearnerID]int),
	}
}

func (m *ProgressMetrics) OnEvent(e core.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	day := DayKey(e.Time)
	m.trackActive(e.LearnerID, day, WeekKey(e.Time), MonthKey(e.Time))

	switch e.Type {
	case core.EventXPAwarded:
		if e.Delta > 0 {
			m.xpByDay[day] += e.Delta
			m.xpByAction[e.Action] += e.Delta
		}
	case core.EventLevelUp:
		m.levelUpsByDay[day]++
		// distribution counts each learner once, at their latest level
		if prev, ok := m.learnerLevel[e.LearnerID]; ok {
			if prev >= e.Level {
				return
			}
			m.levelDistribution[prev]--
			if m.levelDistribution[prev] == 0 {
				delete(m.levelDistribution, prev)
			}
		}
		m.learnerLevel[e.LearnerID] = e.Level
		m.levelDistribution[e.Level]++
	case core.EventAchievementUnlocked:
		m.unlocksByDay[day]++
		m.unlocksByAchievement[e.Achievement]++
	case core.EventModuleCompleted:
		m.modulesByDay[day]++
	case core.EventPathwayCompleted:
		m.pathwaysByDay[day]++
	case core.EventQuizSubmitted:
		m.quizSubmitted++
		if passed, _ := e.Metadata["passed"].(bool); passed {
			m.quizPassed++
		}
	case core.EventStreakUpdated:
		if e.Streak > m.longestStreaks[e.LearnerID] {
			m.longestStreaks[e.LearnerID] = e.Streak
		}
	}
}

func (m *ProgressMetrics) trackActive(id core.LearnerID, day, week, month string) {
	for key, sets := range map[string]map[string]learnerSet{day: m.dailyActive, week: m.weeklyActive, month: m.monthlyActive} {
		if sets[key] == nil {
			sets[key] = learnerSet{}
		}
		sets[key].add(id)
	}
}

// DailyActive returns the count of learners active on day (YYYY-MM-DD).
func (m *ProgressMetrics) DailyActive(day string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.dailyActive[day])
}

func (m *ProgressMetrics) WeeklyActive(week string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.weeklyActive[week])
}

func (m *ProgressMetrics) MonthlyActive(month string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.monthlyActive[month])
}

func (m *ProgressMetrics) XPByDay(day string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.xpByDay[day]
}

func (m *ProgressMetrics) XPByAction(kind core.ActionKind) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.xpByAction[kind]
}

func (m *ProgressMetrics) LevelUpsByDay(day string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.levelUpsByDay[day]
}

func (m *ProgressMetrics) UnlocksByDay(day string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.unlocksByDay[day]
}

func (m *ProgressMetrics) Unlocks(id core.AchievementID) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.unlocksByAchievement[id]
}

// day reads every per-day counter for one key; the caller holds the lock.
func (m *ProgressMetrics) day(key string) DayTotals {
	return DayTotals{
		XP:                m.xpByDay[key],
		LevelUps:          m.levelUpsByDay[key],
		Unlocks:           m.unlocksByDay[key],
		ModulesCompleted:  m.modulesByDay[key],
		PathwaysCompleted: m.pathwaysByDay[key],
	}
}

// DayTotals are the additive counters of one day.
type DayTotals struct {
	XP                int64 `json:"xp_awarded"`
	LevelUps          int64 `json:"level_ups"`
	Unlocks           int64 `json:"achievements_unlocked"`
	ModulesCompleted  int64 `json:"modules_completed"`
	PathwaysCompleted int64 `json:"pathways_completed"`
}

func (d *DayTotals) add(o DayTotals) {
	d.XP += o.XP
	d.LevelUps += o.LevelUps
	d.Unlocks += o.Unlocks
	d.ModulesCompleted += o.ModulesCompleted
	d.PathwaysCompleted += o.PathwaysCompleted
}

// AchievementCount pairs an achievement with its unlock count.
type AchievementCount struct {
	Achievement core.AchievementID `json:"achievement"`
	Unlocks     int64              `json:"unlocks"`
}

// Summary is the all-time view served on the stats endpoint.
type Summary struct {
	Totals            DayTotals          `json:"totals"`
	XPByAction        map[string]int64   `json:"xp_by_action"`
	LevelDistribution map[string]int     `json:"level_distribution"`
	TopAchievements   []AchievementCount `json:"top_achievements"`
	QuizSubmissions   int64              `json:"quiz_submissions"`
	QuizPassRate      float64            `json:"quiz_pass_rate"`
	LongestStreak     int                `json:"longest_streak"`
	ActiveToday       int                `json:"active_today"`
}

// Summary reports all-time totals; top is the number of achievements listed.
func (m *ProgressMetrics) Summary(top int, now time.Time) Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := Summary{
		XPByAction:        make(map[string]int64, len(m.xpByAction)),
		LevelDistribution: make(map[string]int, len(m.levelDistribution)),
		QuizSubmissions:   m.quizSubmitted,
		ActiveToday:       len(m.dailyActive[DayKey(now)]),
	}
	for day := range m.dailyActive {
		s.Totals.add(m.day(day))
	}
	for k, v := range m.xpByAction {
		s.XPByAction[string(k)] = v
	}
	for lvl, n := range m.levelDistribution {
		s.LevelDistribution[fmt.Sprint(lvl)] = n
	}
	if m.quizSubmitted > 0 {
		s.QuizPassRate = float64(m.quizPassed) / float64(m.quizSubmitted)
	}
	for _, n := range m.longestStreaks {
		if n > s.LongestStreak {
			s.LongestStreak = n
		}
	}

	s.TopAchievements = make([]AchievementCount, 0, len(m.unlocksByAchievement))
	for id, n := range m.unlocksByAchievement {
		s.TopAchievements = append(s.TopAchievements, AchievementCount{Achievement: id, Unlocks: n})
	}
	sort.Slice(s.TopAchievements, func(i, j int) bool {
		a, b := s.TopAchievements[i], s.TopAchievements[j]
		if a.Unlocks == b.Unlocks {
			return a.Achievement < b.Achievement
		}
		return a.Unlocks > b.Unlocks
	})
	if top >= 0 && len(s.TopAchievements) > top {
		s.TopAchievements = s.TopAchievements[:top]
	}
	return s
}

// WeekKey is the ISO week key, e.g. 2024-W01.
func WeekKey(t time.Time) string {
	year, week := t.UTC().ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}

// MonthKey is the calendar month key, e.g. 2024-01.
func MonthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}
