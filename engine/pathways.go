package engine

import (
	"context"

	"progresskit/core"
)

// StepResult is the outcome of one pathway state machine step.
type StepResult struct {
	Pathway    core.PathwayProgress `json:"pathway"`
	Transition core.Transition      `json:"transition"`
	Reward     RewardResult         `json:"reward"`
}

// StartPathway creates the learner's progress for plan. Starting an already
// started pathway returns the stored progress unchanged.
func (s *Service) StartPathway(ctx context.Context, learner core.LearnerID, plan core.PathwayPlan) (core.PathwayProgress, error) {
	id, err := core.NormalizeLearnerID(learner)
	if err != nil {
		return core.PathwayProgress{}, err
	}
	fresh, err := core.NewPathwayProgress(id, plan)
	if err != nil {
		return core.PathwayProgress{}, err
	}
	t, err := s.run(ctx, id, "StartPathway", false, func(t *txn) error {
		if _, ok := t.pathways[plan.ID]; ok {
			return nil
		}
		p := fresh.Clone()
		p.Start(t.now)
		t.putPathway(p)
		return nil
	})
	if err != nil {
		return core.PathwayProgress{}, err
	}
	return t.committedPathway(plan.ID), nil
}

// CompleteResource flags a resource and credits the rewards it fires.
func (s *Service) CompleteResource(ctx context.Context, learner core.LearnerID, pathway core.PathwayID, module int, resourceID string) (StepResult, error) {
	return s.step(ctx, learner, pathway, "CompleteResource", func(t *txn, p *core.PathwayProgress) error {
		tr, err := p.CompleteResource(module, resourceID, t.now)
		if err != nil {
			return err
		}
		t.step = tr
		return t.applyTransition(*p, tr, resourceID)
	})
}

// SubmitQuiz records a quiz attempt for a module. Every attempt earns quiz XP;
// a passing score on a module with all resources done completes it.
func (s *Service) SubmitQuiz(ctx context.Context, learner core.LearnerID, pathway core.PathwayID, module int, score float64) (StepResult, error) {
	return s.step(ctx, learner, pathway, "SubmitQuiz", func(t *txn, p *core.PathwayProgress) error {
		tr, err := p.SubmitQuiz(module, score, t.now)
		if err != nil {
			return err
		}
		t.step = tr
		return t.applyTransition(*p, tr, "")
	})
}

// ResetQuiz clears a module's quiz so it can be retaken. XP already credited stays.
func (s *Service) ResetQuiz(ctx context.Context, learner core.LearnerID, pathway core.PathwayID, module int) (StepResult, error) {
	return s.step(ctx, learner, pathway, "ResetQuiz", func(t *txn, p *core.PathwayProgress) error {
		tr, err := p.ResetQuiz(module, t.now)
		if err != nil {
			return err
		}
		t.step = tr
		t.putPathway(*p)
		return nil
	})
}

// GetPathway reads a learner's progress on one pathway.
func (s *Service) GetPathway(ctx context.Context, learner core.LearnerID, pathway core.PathwayID) (core.PathwayProgress, error) {
	id, err := core.NormalizeLearnerID(learner)
	if err != nil {
		return core.PathwayProgress{}, err
	}
	actx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	p, err := s.store.GetPathway(actx, id, pathway)
	if err != nil {
		return core.PathwayProgress{}, s.storeErr(ctx, "GetPathway", err)
	}
	return p, nil
}

// ListPathways reads every pathway the learner started.
func (s *Service) ListPathways(ctx context.Context, learner core.LearnerID) ([]core.PathwayProgress, error) {
	id, err := core.NormalizeLearnerID(learner)
	if err != nil {
		return nil, err
	}
	actx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	ps, err := s.store.ListPathways(actx, id)
	if err != nil {
		return nil, s.storeErr(ctx, "ListPathways", err)
	}
	return ps, nil
}

func (s *Service) step(ctx context.Context, learner core.LearnerID, pathway core.PathwayID, op string, fn func(t *txn, p *core.PathwayProgress) error) (StepResult, error) {
	id, err := core.NormalizeLearnerID(learner)
	if err != nil {
		return StepResult{}, err
	}
	t, err := s.run(ctx, id, op, true, func(t *txn) error {
		p, ok := t.pathways[pathway]
		if !ok {
			return core.Errorf(op, core.ErrNotFound, "learner %s has not started pathway %s", id, pathway)
		}
		return fn(t, &p)
	})
	if err != nil {
		return StepResult{}, err
	}
	return StepResult{Pathway: t.committedPathway(pathway), Transition: t.step, Reward: t.finish()}, nil
}
