package leaderboard

import (
	"context"

	"progresskit/core"
)

// Entry represents a learner's total XP.
type Entry struct {
	Learner core.LearnerID `json:"learner_id"`
	Score   int64          `json:"total_xp"`
	// Position is 1-based and only filled by TopN and Position.
	Position int `json:"position,omitempty"`
}

// Board abstracts leaderboard operations.
type Board interface {
	Update(learner core.LearnerID, score int64)
	// Raise is Update restricted to increases; it reports whether the score moved.
	Raise(learner core.LearnerID, score int64) bool
	Remove(learner core.LearnerID)
	TopN(n int) []Entry
	Get(learner core.LearnerID) (Entry, bool)
	Len() int
}

// Source is the subscription side of an event bus.
type Source interface {
	Subscribe(typ core.EventType, handler func(context.Context, core.Event)) func()
}

// Attach keeps b in sync with the running XP totals carried by xp_awarded events.
// Events only ever raise a score so out-of-order async delivery cannot lower it.
func Attach(b Board, src Source) func() {
	return src.Subscribe(core.EventXPAwarded, func(_ context.Context, ev core.Event) {
		b.Raise(ev.LearnerID, ev.Total)
	})
}

// Lister enumerates stored learners; the storage adapters implement it.
type Lister interface {
	Learners(ctx context.Context) ([]core.LearnerID, error)
}

// Reader loads one learner aggregate.
type Reader interface {
	GetLearner(ctx context.Context, id core.LearnerID) (core.LearnerAggregate, error)
}

// Seed fills b from persisted totals, typically once at startup.
func Seed(ctx context.Context, b Board, lister Lister, reader Reader) (int, error) {
	ids, err := lister.Learners(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, id := range ids {
		agg, err := reader.GetLearner(ctx, id)
		if err != nil {
			return n, err
		}
		b.Raise(id, agg.Level.TotalXP)
		n++
	}
	return n, nil
}
