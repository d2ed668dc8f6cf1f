package memory

import (
	"context"
	"sort"
	"sync"

	"progresskit/core"
	"progresskit/engine"
)

// Store is a concurrent in-memory engine.Store. Commits are checked and
// applied under a single lock.
type Store struct {
	mu       sync.RWMutex
	learners map[core.LearnerID]core.LearnerAggregate
	pathways map[core.LearnerID]map[core.PathwayID]core.PathwayProgress
}

func New() *Store {
	return &Store{
		learners: map[core.LearnerID]core.LearnerAggregate{},
		pathways: map[core.LearnerID]map[core.PathwayID]core.PathwayProgress{},
	}
}

func (s *Store) GetLearner(_ context.Context, id core.LearnerID) (core.LearnerAggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if agg, ok := s.learners[id]; ok {
		return agg.Clone(), nil
	}
	return core.NewLearnerAggregate(id), nil
}

func (s *Store) GetPathway(_ context.Context, id core.LearnerID, pathway core.PathwayID) (core.PathwayProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pathways[id][pathway]
	if !ok {
		return core.PathwayProgress{}, core.Errorf("memory.GetPathway", core.ErrNotFound, "pathway %s for %s", pathway, id)
	}
	return p.Clone(), nil
}

func (s *Store) ListPathways(_ context.Context, id core.LearnerID) ([]core.PathwayProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.PathwayProgress, 0, len(s.pathways[id]))
	for _, p := range s.pathways[id] {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PathwayID < out[j].PathwayID })
	return out, nil
}

func (s *Store) Commit(_ context.Context, cs engine.Changeset) error {
	if err := cs.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(cs); err != nil {
		return err
	}
	s.apply(cs)
	return nil
}

func (s *Store) check(cs engine.Changeset) error {
	id := cs.Learner.LearnerID
	if stored := s.learners[id].Version; stored != cs.Learner.Version {
		return core.Errorf("memory.Commit", core.ErrConcurrentModification, "learner %s at version %d, commit read %d", id, stored, cs.Learner.Version)
	}
	for _, p := range cs.Pathways {
		if stored := s.pathways[id][p.PathwayID].Version; stored != p.Version {
			return core.Errorf("memory.Commit", core.ErrConcurrentModification, "pathway %s at version %d, commit read %d", p.PathwayID, stored, p.Version)
		}
	}
	return nil
}

func (s *Store) apply(cs engine.Changeset) {
	id := cs.Learner.LearnerID
	agg := cs.Learner.Clone()
	agg.Version++
	s.learners[id] = agg
	if len(cs.Pathways) > 0 && s.pathways[id] == nil {
		s.pathways[id] = map[core.PathwayID]core.PathwayProgress{}
	}
	for _, p := range cs.Pathways {
		p = p.Clone()
		p.Version++
		s.pathways[id][p.PathwayID] = p
	}
}

// Learners lists every learner with a stored aggregate.
func (s *Store) Learners(_ context.Context) ([]core.LearnerID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.LearnerID, 0, len(s.learners))
	for id := range s.learners {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// Snapshot is a serializable copy of the whole store.
type Snapshot struct {
	Learners map[core.LearnerID]core.LearnerAggregate                   `json:"learners"`
	Pathways map[core.LearnerID]map[core.PathwayID]core.PathwayProgress `json:"pathways"`
}

// Export deep copies the store contents.
func (s *Store) Export() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.export()
}

func (s *Store) export() Snapshot {
	snap := Snapshot{
		Learners: make(map[core.LearnerID]core.LearnerAggregate, len(s.learners)),
		Pathways: make(map[core.LearnerID]map[core.PathwayID]core.PathwayProgress, len(s.pathways)),
	}
	for id, a := range s.learners {
		snap.Learners[id] = a.Clone()
	}
	for id, ps := range s.pathways {
		m := make(map[core.PathwayID]core.PathwayProgress, len(ps))
		for pid, p := range ps {
			m[pid] = p.Clone()
		}
		snap.Pathways[id] = m
	}
	return snap
}

// Import replaces the store contents with snap.
func (s *Store) Import(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.learners = map[core.LearnerID]core.LearnerAggregate{}
	s.pathways = map[core.LearnerID]map[core.PathwayID]core.PathwayProgress{}
	for id, a := range snap.Learners {
		s.learners[id] = a.Clone()
	}
	for id, ps := range snap.Pathways {
		m := make(map[core.PathwayID]core.PathwayProgress, len(ps))
		for pid, p := range ps {
			m[pid] = p.Clone()
		}
		s.pathways[id] = m
	}
}

// CommitThen applies cs and calls persist with the resulting contents while
// still holding the lock. If persist fails the commit is rolled back.
func (s *Store) CommitThen(cs engine.Changeset, persist func(Snapshot) error) error {
	if err := cs.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(cs); err != nil {
		return err
	}
	id := cs.Learner.LearnerID
	prevLearner, hadLearner := s.learners[id]
	prevPathways := make(map[core.PathwayID]core.PathwayProgress, len(cs.Pathways))
	for _, p := range cs.Pathways {
		if old, ok := s.pathways[id][p.PathwayID]; ok {
			prevPathways[p.PathwayID] = old
		}
	}
	s.apply(cs)
	if err := persist(s.export()); err != nil {
		if hadLearner {
			s.learners[id] = prevLearner
		} else {
			delete(s.learners, id)
		}
		for _, p := range cs.Pathways {
			if old, ok := prevPathways[p.PathwayID]; ok {
				s.pathways[id][p.PathwayID] = old
			} else {
				delete(s.pathways[id], p.PathwayID)
			}
		}
		if len(s.pathways[id]) == 0 {
			delete(s.pathways, id)
		}
		return err
	}
	return nil
}

var _ engine.Store = (*Store)(nil)
