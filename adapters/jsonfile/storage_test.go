package jsonfile

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"progresskit/adapters/storetest"
	"progresskit/core"
	"progresskit/engine"
)

func TestJSONFileStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) engine.Store {
		s, err := New(filepath.Join(t.TempDir(), "state.json"))
		if err != nil {
			t.Fatalf("new store: %v", err)
		}
		return s
	})
}

func TestStorePersistAndLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	store, err := New(path)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	agg := core.NewLearnerAggregate("alice")
	res, _ := core.ApplyXP(agg.Level, 150)
	agg.Level = res.State
	p, err := core.NewPathwayProgress("alice", storetest.Plan())
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Commit(context.Background(), engine.Changeset{Learner: agg, Pathways: []core.PathwayProgress{p}}); err != nil {
		t.Fatalf("commit: %v", err)
	}

	// ensure file written
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected file at %s", path)
	}

	// reload
	reloaded, err := New(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	got, err := reloaded.GetLearner(context.Background(), "alice")
	if err != nil {
		t.Fatalf("get learner: %v", err)
	}
	if got.Level.Level != 2 || got.Level.TotalXP != 150 || got.Version != 1 {
		t.Fatalf("unexpected level state %+v v%d", got.Level, got.Version)
	}
	if _, err := reloaded.GetPathway(context.Background(), "alice", "intro"); err != nil {
		t.Fatalf("get pathway: %v", err)
	}
}

func TestFailedWriteLeavesNoPartialState(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	store, err := New(path)
	if err != nil {
		t.Fatal(err)
	}
	// a directory where the temp file should go makes the write fail
	if err := os.Mkdir(path+".tmp", 0o755); err != nil {
		t.Fatal(err)
	}
	err = store.Commit(context.Background(), engine.Changeset{Learner: core.NewLearnerAggregate("alice")})
	if !errors.Is(err, core.ErrStorageUnavailable) {
		t.Fatalf("want storage unavailable, got %v", err)
	}
	agg, _ := store.GetLearner(context.Background(), "alice")
	if agg.Version != 0 {
		t.Fatalf("commit should have been rolled back, version %d", agg.Version)
	}
}

func TestFailedRenameIsRetryable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	store, err := New(path)
	if err != nil {
		t.Fatal(err)
	}
	// a non-empty directory at the target path makes the rename fail
	if err := os.MkdirAll(filepath.Join(path, "occupied"), 0o755); err != nil {
		t.Fatal(err)
	}
	err = store.Commit(context.Background(), engine.Changeset{Learner: core.NewLearnerAggregate("bea")})
	var le *os.LinkError
	if !errors.As(err, &le) {
		t.Fatalf("want rename failure, got %v", err)
	}
	if !core.IsRetryable(err) {
		t.Fatalf("rename failure should be retryable: %v", err)
	}
	if _, statErr := os.Stat(path + ".tmp"); !os.IsNotExist(statErr) {
		t.Fatalf("temp file left behind: %v", statErr)
	}
	agg, _ := store.GetLearner(context.Background(), "bea")
	if agg.Version != 0 {
		t.Fatalf("commit should have been rolled back, version %d", agg.Version)
	}
}

func TestCorruptFileFailsToOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := New(path); !errors.Is(err, core.ErrStorageUnavailable) {
		t.Fatalf("want storage unavailable, got %v", err)
	}
}
