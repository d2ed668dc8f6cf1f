package memory

import (
	"context"
	"errors"
	"testing"

	"progresskit/adapters/storetest"
	"progresskit/core"
	"progresskit/engine"
)

func TestMemoryStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) engine.Store { return New() })
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	s := New()
	ctx := context.Background()
	agg := core.NewLearnerAggregate("u")
	agg.SpecialEvents["x"] = 1
	if err := s.Commit(ctx, engine.Changeset{Learner: agg}); err != nil {
		t.Fatal(err)
	}
	got, _ := s.GetLearner(ctx, "u")
	got.SpecialEvents["x"] = 42
	again, _ := s.GetLearner(ctx, "u")
	if again.SpecialEvents["x"] != 1 {
		t.Fatal("stored aggregate was aliased")
	}
}

func TestCommitThenRollsBackOnPersistFailure(t *testing.T) {
	s := New()
	ctx := context.Background()
	if err := s.Commit(ctx, engine.Changeset{Learner: core.NewLearnerAggregate("u")}); err != nil {
		t.Fatal(err)
	}
	agg, _ := s.GetLearner(ctx, "u")
	agg.Level.TotalXP = 500
	p, err := core.NewPathwayProgress("u", storetest.Plan())
	if err != nil {
		t.Fatal(err)
	}
	boom := errors.New("disk full")
	err = s.CommitThen(engine.Changeset{Learner: agg, Pathways: []core.PathwayProgress{p}}, func(Snapshot) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("want persist error, got %v", err)
	}
	after, _ := s.GetLearner(ctx, "u")
	if after.Level.TotalXP != 0 || after.Version != 1 {
		t.Fatalf("commit should be rolled back: %+v", after.Level)
	}
	if _, err := s.GetPathway(ctx, "u", "intro"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("pathway should be rolled back, got %v", err)
	}
}

func TestExportImport(t *testing.T) {
	s := New()
	ctx := context.Background()
	_ = s.Commit(ctx, engine.Changeset{Learner: core.NewLearnerAggregate("u")})
	snap := s.Export()

	other := New()
	other.Import(snap)
	ids, _ := other.Learners(ctx)
	if len(ids) != 1 || ids[0] != "u" {
		t.Fatalf("unexpected learners %v", ids)
	}
}
