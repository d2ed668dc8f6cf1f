package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"progresskit/adapters/memory"
	"progresskit/core"
	"progresskit/engine"
)

// Store persists entire state to a single JSON file.
// Suitable for demos and small deployments. Reads are served from memory;
// a commit is applied in memory, written to disk and undone if the write fails.
type Store struct {
	path string
	mem  *memory.Store
}

func New(path string) (*Store, error) {
	s := &Store{path: path, mem: memory.New()}
	if err := s.load(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, core.Wrap("jsonfile.New", core.ErrStorageUnavailable, err)
		}
	}
	return s, nil
}

func (s *Store) load() error {
	b, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	var snap memory.Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return err
	}
	s.mem.Import(snap)
	return nil
}

// persist writes snap through a temp file. Every failure is reported as
// ErrStorageUnavailable so the engine may retry the commit.
func (s *Store) persist(snap memory.Snapshot) error {
	if err := s.write(snap); err != nil {
		return core.Wrap("jsonfile.Commit", core.ErrStorageUnavailable, err)
	}
	return nil
}

func (s *Store) write(snap memory.Snapshot) error {
	tmp := s.path + ".tmp"
	b, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

func (s *Store) GetLearner(ctx context.Context, id core.LearnerID) (core.LearnerAggregate, error) {
	return s.mem.GetLearner(ctx, id)
}

func (s *Store) GetPathway(ctx context.Context, id core.LearnerID, pathway core.PathwayID) (core.PathwayProgress, error) {
	return s.mem.GetPathway(ctx, id, pathway)
}

func (s *Store) ListPathways(ctx context.Context, id core.LearnerID) ([]core.PathwayProgress, error) {
	return s.mem.ListPathways(ctx, id)
}

func (s *Store) Learners(ctx context.Context) ([]core.LearnerID, error) {
	return s.mem.Learners(ctx)
}

func (s *Store) Commit(ctx context.Context, cs engine.Changeset) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.mem.CommitThen(cs, s.persist)
}

var _ engine.Store = (*Store)(nil)
