package core

import (
	"math"
	"strings"
	"time"
)

// PathwayStatus is the pathway-level state.
type PathwayStatus string

const (
	PathwayNotStarted PathwayStatus = "not_started"
	PathwayActive     PathwayStatus = "active"
	PathwayCompleted  PathwayStatus = "completed"
)

// ModuleState is derived from a module's resource and quiz flags.
type ModuleState string

const (
	ModuleNotStarted          ModuleState = "not_started"
	ModuleResourcesInProgress ModuleState = "resources_in_progress"
	ModuleQuizPending         ModuleState = "quiz_pending"
	ModuleCompleted           ModuleState = "completed"
)

// DefaultPassingScore applies to modules whose plan sets none.
const DefaultPassingScore = 70

// ResourceProgress is one resource completion flag.
type ResourceProgress struct {
	ID          string     `json:"id"`
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// QuizRecord is the latest quiz submission of a module.
type QuizRecord struct {
	Completed   bool       `json:"completed"`
	Score       float64    `json:"score"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Attempts    int        `json:"attempts"`
}

// ModuleProgress holds the source-of-truth flags of one module.
type ModuleProgress struct {
	ModuleID     string             `json:"module_id"`
	Resources    []ResourceProgress `json:"resources"`
	Quiz         QuizRecord         `json:"quiz"`
	PassingScore float64            `json:"passing_score"`
	Completed    bool               `json:"completed"`
	CompletedAt  *time.Time         `json:"completed_at,omitempty"`
}

func (m ModuleProgress) resourcesDone() bool {
	for _, r := range m.Resources {
		if !r.Completed {
			return false
		}
	}
	return true
}

func (m ModuleProgress) quizPassed() bool {
	return m.Quiz.Completed && m.Quiz.Score >= m.PassingScore
}

// State derives the module's position in its state machine.
func (m ModuleProgress) State() ModuleState {
	if m.Completed {
		return ModuleCompleted
	}
	if m.resourcesDone() {
		return ModuleQuizPending
	}
	for _, r := range m.Resources {
		if r.Completed {
			return ModuleResourcesInProgress
		}
	}
	if m.Quiz.Completed {
		return ModuleResourcesInProgress
	}
	return ModuleNotStarted
}

// PathwayProgress is owned by one (learner, pathway) pair. Progress, Status and
// CurrentModule are derived from the module flags.
type PathwayProgress struct {
	LearnerID      LearnerID        `json:"learner_id"`
	PathwayID      PathwayID        `json:"pathway_id"`
	Modules        []ModuleProgress `json:"modules"`
	Progress       int              `json:"progress"`
	Status         PathwayStatus    `json:"status"`
	CurrentModule  int              `json:"current_module"`
	StartedAt      time.Time        `json:"started_at"`
	LastAccessedAt time.Time        `json:"last_accessed_at"`
	CompletedAt    *time.Time       `json:"completed_at,omitempty"`
	Version        int64            `json:"version"`
}

// ModulePlan describes a module when a learner starts a pathway.
type ModulePlan struct {
	ID           string   `json:"id"`
	Resources    []string `json:"resources"`
	PassingScore float64  `json:"passing_score,omitempty"`
}

// PathwayPlan describes a pathway's ordered modules.
type PathwayPlan struct {
	ID      PathwayID    `json:"id"`
	Modules []ModulePlan `json:"modules"`
}

// NewPathwayProgress builds untouched progress for plan.
func NewPathwayProgress(learner LearnerID, plan PathwayPlan) (PathwayProgress, error) {
	const op = "NewPathwayProgress"
	if err := ValidateID(string(plan.ID)); err != nil {
		return PathwayProgress{}, Wrap(op, ErrInvalidInput, err)
	}
	if len(plan.Modules) == 0 {
		return PathwayProgress{}, Errorf(op, ErrInvalidInput, "pathway %s has no modules", plan.ID)
	}
	p := PathwayProgress{
		LearnerID: learner,
		PathwayID: plan.ID,
		Modules:   make([]ModuleProgress, 0, len(plan.Modules)),
		Status:    PathwayNotStarted,
	}
	for i, mp := range plan.Modules {
		passing := mp.PassingScore
		if passing == 0 {
			passing = DefaultPassingScore
		}
		if passing < 0 || passing > 100 {
			return PathwayProgress{}, Errorf(op, ErrInvalidInput, "module %d: passing score %v out of range", i, passing)
		}
		id := strings.TrimSpace(mp.ID)
		if id == "" {
			return PathwayProgress{}, Errorf(op, ErrInvalidInput, "module %d: empty id", i)
		}
		m := ModuleProgress{ModuleID: id, PassingScore: passing}
		seen := map[string]struct{}{}
		for _, r := range mp.Resources {
			if _, dup := seen[r]; dup || strings.TrimSpace(r) == "" {
				return PathwayProgress{}, Errorf(op, ErrInvalidInput, "module %s: bad or duplicate resource %q", id, r)
			}
			seen[r] = struct{}{}
			m.Resources = append(m.Resources, ResourceProgress{ID: r})
		}
		p.Modules = append(p.Modules, m)
	}
	return p, nil
}

// Clone returns a deep copy.
func (p PathwayProgress) Clone() PathwayProgress {
	cp := p
	cp.Modules = make([]ModuleProgress, len(p.Modules))
	for i, m := range p.Modules {
		m.Resources = append([]ResourceProgress(nil), m.Resources...)
		cp.Modules[i] = m
	}
	return cp
}

// Transition reports what a state machine step changed.
type Transition struct {
	ModuleIndex       int     `json:"module_index"`
	ResourceCompleted bool    `json:"resource_completed,omitempty"`
	QuizSubmitted     bool    `json:"quiz_submitted,omitempty"`
	QuizPassed        bool    `json:"quiz_passed,omitempty"`
	QuizScore         float64 `json:"quiz_score,omitempty"`
	ModuleCompleted   bool    `json:"module_completed,omitempty"`
	ModuleReverted    bool    `json:"module_reverted,omitempty"`
	PathwayCompleted  bool    `json:"pathway_completed,omitempty"`
	PathwayReverted   bool    `json:"pathway_reverted,omitempty"`
}

func (p *PathwayProgress) module(i int) (*ModuleProgress, error) {
	if i < 0 || i >= len(p.Modules) {
		return nil, Errorf("PathwayProgress", ErrNotFound, "pathway %s has no module %d", p.PathwayID, i)
	}
	return &p.Modules[i], nil
}

func (p *PathwayProgress) touch(now time.Time) {
	if p.StartedAt.IsZero() {
		p.StartedAt = now
	}
	p.LastAccessedAt = now
	if p.Status == PathwayNotStarted {
		p.Status = PathwayActive
	}
}

// Start marks the pathway active. Starting an active pathway only refreshes its access time.
func (p *PathwayProgress) Start(now time.Time) {
	p.touch(now)
}

// CompleteResource flags a resource. Repeating it changes nothing.
func (p *PathwayProgress) CompleteResource(i int, resourceID string, now time.Time) (Transition, error) {
	m, err := p.module(i)
	if err != nil {
		return Transition{}, err
	}
	tr := Transition{ModuleIndex: i}
	for j := range m.Resources {
		r := &m.Resources[j]
		if r.ID != resourceID {
			continue
		}
		p.touch(now)
		if r.Completed {
			return tr, nil
		}
		at := now
		r.Completed = true
		r.CompletedAt = &at
		tr.ResourceCompleted = true
		p.settle(i, now, &tr)
		return tr, nil
	}
	return Transition{}, Errorf("CompleteResource", ErrNotFound, "module %s has no resource %q", m.ModuleID, resourceID)
}

// SubmitQuiz records an attempt. A failing score is kept but does not complete the module.
func (p *PathwayProgress) SubmitQuiz(i int, score float64, now time.Time) (Transition, error) {
	m, err := p.module(i)
	if err != nil {
		return Transition{}, err
	}
	if math.IsNaN(score) || score < 0 || score > 100 {
		return Transition{}, Errorf("SubmitQuiz", ErrInvalidInput, "score %v out of range", score)
	}
	if m.Completed {
		return Transition{}, Errorf("SubmitQuiz", ErrInvalidInput, "module %s already completed; reset the quiz to retake it", m.ModuleID)
	}
	p.touch(now)
	at := now
	m.Quiz.Completed = true
	m.Quiz.Score = score
	m.Quiz.CompletedAt = &at
	m.Quiz.Attempts++
	tr := Transition{ModuleIndex: i, QuizSubmitted: true, QuizScore: score, QuizPassed: m.quizPassed()}
	p.settle(i, now, &tr)
	return tr, nil
}

// ResetQuiz clears the quiz record and reverts a completed module and pathway.
// CurrentModule is left where it is.
func (p *PathwayProgress) ResetQuiz(i int, now time.Time) (Transition, error) {
	m, err := p.module(i)
	if err != nil {
		return Transition{}, err
	}
	p.touch(now)
	tr := Transition{ModuleIndex: i}
	m.Quiz.Completed = false
	m.Quiz.Score = 0
	m.Quiz.CompletedAt = nil
	if m.Completed {
		m.Completed = false
		m.CompletedAt = nil
		tr.ModuleReverted = true
	}
	if p.Status == PathwayCompleted {
		p.Status = PathwayActive
		p.CompletedAt = nil
		tr.PathwayReverted = true
	}
	p.recompute()
	return tr, nil
}

func (p *PathwayProgress) settle(i int, now time.Time, tr *Transition) {
	m := &p.Modules[i]
	if !m.Completed && m.resourcesDone() && m.quizPassed() {
		at := now
		m.Completed = true
		m.CompletedAt = &at
		tr.ModuleCompleted = true
		if next := p.nextIncomplete(i); next > p.CurrentModule {
			p.CurrentModule = next
		}
	}
	p.recompute()
	if p.Status != PathwayCompleted && p.CompletedModules() == len(p.Modules) {
		at := now
		p.Status = PathwayCompleted
		p.CompletedAt = &at
		tr.PathwayCompleted = true
	}
}

// nextIncomplete finds the first incomplete module after i, wrapping to the
// front; with every module done it returns the last index.
func (p *PathwayProgress) nextIncomplete(i int) int {
	n := len(p.Modules)
	for k := 1; k < n; k++ {
		j := (i + k) % n
		if !p.Modules[j].Completed {
			return j
		}
	}
	return n - 1
}

func (p *PathwayProgress) recompute() {
	if len(p.Modules) == 0 {
		p.Progress = 0
		return
	}
	p.Progress = int(math.Round(float64(p.CompletedModules()) / float64(len(p.Modules)) * 100))
}

// CompletedModules counts modules flagged completed.
func (p PathwayProgress) CompletedModules() int {
	n := 0
	for _, m := range p.Modules {
		if m.Completed {
			n++
		}
	}
	return n
}

// CompletedResources counts resource flags set across all modules.
func (p PathwayProgress) CompletedResources() int {
	n := 0
	for _, m := range p.Modules {
		for _, r := range m.Resources {
			if r.Completed {
				n++
			}
		}
	}
	return n
}

// HoursSpent is the wall-clock span between start and last access.
func (p PathwayProgress) HoursSpent() float64 {
	if p.StartedAt.IsZero() || p.LastAccessedAt.Before(p.StartedAt) {
		return 0
	}
	return p.LastAccessedAt.Sub(p.StartedAt).Hours()
}
