package leaderboard

import (
	cryptorand "crypto/rand"
	"encoding/binary"
	"math/rand/v2"
	"sync"

	"progresskit/core"
)

// A skip list keyed by (score desc, learner asc) for O(log n) updates.

const maxLevel = 16
const pFactor = 0.25

type node struct {
	e    Entry
	next [maxLevel]*node
}

type SkipList struct {
	mu        sync.RWMutex
	head      *node
	lvl       int
	byLearner map[core.LearnerID]*node
	rng       *rand.Rand
}

func NewSkipList() *SkipList {
	var seed [16]byte
	if _, err := cryptorand.Read(seed[:]); err != nil {
		seed = [16]byte{}
	}
	seed1 := binary.BigEndian.Uint64(seed[:8])
	seed2 := binary.BigEndian.Uint64(seed[8:])

	return &SkipList{
		head:      &node{},
		lvl:       1,
		byLearner: map[core.LearnerID]*node{},
		rng:       rand.New(rand.NewPCG(seed1, seed2)),
	}
}

func (s *SkipList) randomLevel() int {
	lvl := 1
	for lvl < maxLevel && s.rng.Float64() < pFactor {
		lvl++
	}
	return lvl
}

func less(a, b Entry) bool {
	if a.Score == b.Score {
		return a.Learner < b.Learner
	}
	return a.Score > b.Score // higher score first
}

// Update inserts or moves learner to a new score.
func (s *SkipList) Update(learner core.LearnerID, score int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateLocked(learner, score)
}

// Raise sets the score only when it is higher than the stored one.
func (s *SkipList) Raise(learner core.LearnerID, score int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.byLearner[learner]; ok && cur.e.Score >= score {
		return false
	}
	s.updateLocked(learner, score)
	return true
}

func (s *SkipList) updateLocked(learner core.LearnerID, score int64) {
	if old, ok := s.byLearner[learner]; ok {
		// remove old node
		s.removeLocked(learner, old.e)
	}
	e := Entry{Learner: learner, Score: score}
	update := [maxLevel]*node{}
	cur := s.head
	for i := s.lvl - 1; i >= 0; i-- {
		for cur.next[i] != nil && less(cur.next[i].e, e) {
			cur = cur.next[i]
		}
		update[i] = cur
	}
	lvl := s.randomLevel()
	if lvl > s.lvl {
		for i := s.lvl; i < lvl; i++ {
			update[i] = s.head
		}
		s.lvl = lvl
	}
	n := &node{e: e}
	for i := 0; i < lvl; i++ {
		n.next[i] = update[i].next[i]
		update[i].next[i] = n
	}
	s.byLearner[learner] = n
}

func (s *SkipList) removeLocked(learner core.LearnerID, e Entry) {
	update := [maxLevel]*node{}
	cur := s.head
	for i := s.lvl - 1; i >= 0; i-- {
		for cur.next[i] != nil && less(cur.next[i].e, e) {
			cur = cur.next[i]
		}
		update[i] = cur
	}
	target := update[0].next[0]
	if target == nil || target.e.Learner != learner {
		return
	}
	for i := 0; i < s.lvl; i++ {
		if update[i].next[i] == target {
			update[i].next[i] = target.next[i]
		}
	}
	delete(s.byLearner, learner)
	for s.lvl > 1 && s.head.next[s.lvl-1] == nil {
		s.lvl--
	}
}

func (s *SkipList) Remove(learner core.LearnerID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.byLearner[learner]; ok {
		s.removeLocked(learner, n.e)
	}
}

func (s *SkipList) TopN(n int) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n <= 0 {
		return nil
	}
	out := make([]Entry, 0, n)
	cur := s.head.next[0]
	for cur != nil && len(out) < n {
		e := cur.e
		e.Position = len(out) + 1
		out = append(out, e)
		cur = cur.next[0]
	}
	return out
}

// Position reports the learner's 1-based standing.
func (s *SkipList) Position(learner core.LearnerID) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	target, ok := s.byLearner[learner]
	if !ok {
		return Entry{}, false
	}
	pos := 1
	for cur := s.head.next[0]; cur != nil && cur != target; cur = cur.next[0] {
		pos++
	}
	e := target.e
	e.Position = pos
	return e, true
}

func (s *SkipList) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byLearner)
}

func (s *SkipList) Get(learner core.LearnerID) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n, ok := s.byLearner[learner]; ok {
		return n.e, true
	}
	return Entry{}, false
}

var _ Board = (*SkipList)(nil)
