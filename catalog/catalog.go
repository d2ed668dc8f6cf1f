// Package catalog holds the achievement definitions the evaluator measures.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"progresskit/core"
)

// Catalog is a concurrency safe, mutable set of achievement definitions.
type Catalog struct {
	mu   sync.RWMutex
	defs map[core.AchievementID]core.AchievementDefinition
}

// New builds a catalog from defs after validating each one.
func New(defs ...core.AchievementDefinition) (*Catalog, error) {
	c := &Catalog{defs: make(map[core.AchievementID]core.AchievementDefinition, len(defs))}
	var errs []error
	for _, d := range defs {
		if err := Validate(d); err != nil {
			errs = append(errs, err)
			continue
		}
		if _, dup := c.defs[d.ID]; dup {
			errs = append(errs, core.Errorf("catalog.New", core.ErrInvalidInput, "duplicate achievement %s", d.ID))
			continue
		}
		c.defs[d.ID] = d
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return c, nil
}

// Default returns a catalog seeded with the built-in achievements.
func Default() *Catalog {
	c, err := New(Defaults()...)
	if err != nil {
		panic(fmt.Sprintf("catalog: invalid built-in definitions: %v", err))
	}
	return c
}

// file is the on-disk catalog layout.
type file struct {
	Achievements []core.AchievementDefinition `json:"achievements"`
}

// LoadFile reads a JSON catalog. Definitions with unknown criteria types are
// rejected here so they never reach the evaluator from configuration.
func LoadFile(path string) (*Catalog, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var f file
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, core.Wrap("catalog.LoadFile", core.ErrInvalidInput, err)
	}
	return New(f.Achievements...)
}

// Validate checks a definition is well formed and its criteria resolvable.
func Validate(d core.AchievementDefinition) error {
	const op = "catalog.Validate"
	if err := core.ValidateID(string(d.ID)); err != nil {
		return core.Wrap(op, core.ErrInvalidInput, err)
	}
	if strings.TrimSpace(d.Name) == "" {
		return core.Errorf(op, core.ErrInvalidInput, "achievement %s: empty name", d.ID)
	}
	if d.Points < 0 {
		return core.Errorf(op, core.ErrInvalidInput, "achievement %s: negative points", d.ID)
	}
	if d.Params.SampleSize < 0 || d.Params.MinSamples < 0 {
		return core.Errorf(op, core.ErrInvalidInput, "achievement %s: negative sample parameters", d.ID)
	}
	if _, err := core.CriterionFor(d); err != nil {
		return err
	}
	return nil
}

// Definitions returns every definition sorted by id.
func (c *Catalog) Definitions(_ context.Context) ([]core.AchievementDefinition, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]core.AchievementDefinition, 0, len(c.defs))
	for _, d := range c.defs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Visible returns the non-hidden definitions.
func (c *Catalog) Visible(ctx context.Context) ([]core.AchievementDefinition, error) {
	all, _ := c.Definitions(ctx)
	out := all[:0]
	for _, d := range all {
		if !d.Hidden {
			out = append(out, d)
		}
	}
	return out, nil
}

func (c *Catalog) Definition(_ context.Context, id core.AchievementID) (core.AchievementDefinition, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.defs[id]
	if !ok {
		return core.AchievementDefinition{}, core.Errorf("catalog.Definition", core.ErrNotFound, "achievement %s", id)
	}
	return d, nil
}

// Put creates or replaces a definition. It reports whether the id was new.
// Learners who already unlocked a replaced definition keep it.
func (c *Catalog) Put(_ context.Context, d core.AchievementDefinition) (bool, error) {
	if err := Validate(d); err != nil {
		return false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, existed := c.defs[d.ID]
	c.defs[d.ID] = d
	return !existed, nil
}

// Delete removes a definition. Stored progress for it is left in place and
// simply no longer evaluated or displayed.
func (c *Catalog) Delete(_ context.Context, id core.AchievementID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.defs[id]; !ok {
		return core.Errorf("catalog.Delete", core.ErrNotFound, "achievement %s", id)
	}
	delete(c.defs, id)
	return nil
}

// Len reports the number of definitions.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.defs)
}
