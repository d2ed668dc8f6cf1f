package engine

import (
	"context"

	"progresskit/core"
)

// Store persists learner aggregates and pathway progress.
//
// GetLearner returns a default aggregate with Version 0 for unknown learners.
// GetPathway returns core.ErrNotFound when the learner never started the pathway.
// Commit writes the whole changeset or nothing; every record carries the version it
// was read at and the store fails with core.ErrConcurrentModification when the
// stored version moved on. Committed records are stored with Version+1.
type Store interface {
	GetLearner(ctx context.Context, learner core.LearnerID) (core.LearnerAggregate, error)
	GetPathway(ctx context.Context, learner core.LearnerID, pathway core.PathwayID) (core.PathwayProgress, error)
	ListPathways(ctx context.Context, learner core.LearnerID) ([]core.PathwayProgress, error)
	Commit(ctx context.Context, cs Changeset) error
}

// Changeset is the unit of atomic persistence for one learner.
type Changeset struct {
	Learner  core.LearnerAggregate
	Pathways []core.PathwayProgress
}

// Catalog provides achievement definitions to the evaluator.
type Catalog interface {
	Definitions(ctx context.Context) ([]core.AchievementDefinition, error)
	Definition(ctx context.Context, id core.AchievementID) (core.AchievementDefinition, error)
}

// Validate checks the changeset references a single learner and distinct pathways.
func (c Changeset) Validate() error {
	if c.Learner.LearnerID == "" {
		return core.Errorf("Changeset.Validate", core.ErrInvalidInput, "missing learner id")
	}
	seen := make(map[core.PathwayID]struct{}, len(c.Pathways))
	for _, p := range c.Pathways {
		if p.LearnerID != c.Learner.LearnerID {
			return core.Errorf("Changeset.Validate", core.ErrInvalidInput, "pathway %s belongs to %s, not %s", p.PathwayID, p.LearnerID, c.Learner.LearnerID)
		}
		if _, dup := seen[p.PathwayID]; dup {
			return core.Errorf("Changeset.Validate", core.ErrInvalidInput, "pathway %s listed twice", p.PathwayID)
		}
		seen[p.PathwayID] = struct{}{}
	}
	return nil
}
