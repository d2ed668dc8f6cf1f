package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"progresskit/core"
)

// DefaultStoreTimeout bounds every store attempt.
const DefaultStoreTimeout = 5 * time.Second

// Service is the gamification orchestrator. It serializes work per learner,
// runs the reward pipeline on a private copy of the learner's records and
// commits the result in one changeset before publishing events.
type Service struct {
	store        Store
	catalog      Catalog
	bus          *EventBus
	locks        *keyedLocker
	log          *slog.Logger
	now          func() time.Time
	retry        RetryPolicy
	storeTimeout time.Duration
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithClock overrides the time source, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func WithRetryPolicy(p RetryPolicy) Option {
	return func(s *Service) {
		if p.MaxRetries >= 0 {
			s.retry = p
		}
	}
}

func WithStoreTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.storeTimeout = d
		}
	}
}

func NewService(store Store, catalog Catalog, bus *EventBus, opts ...Option) *Service {
	if store == nil || catalog == nil || bus == nil {
		panic("NewService requires non-nil store, catalog, and bus")
	}
	s := &Service{
		store:        store,
		catalog:      catalog,
		bus:          bus,
		locks:        newKeyedLocker(),
		log:          slog.Default(),
		now:          func() time.Time { return time.Now().UTC() },
		retry:        DefaultRetryPolicy(),
		storeTimeout: DefaultStoreTimeout,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Subscribe convenience method.
func (s *Service) Subscribe(typ core.EventType, handler func(context.Context, core.Event)) func() {
	return s.bus.Subscribe(typ, handler)
}

func (s *Service) Publish(ctx context.Context, ev core.Event) {
	s.bus.Publish(ctx, ev)
}

// Bus exposes the event bus for sinks such as the realtime hub.
func (s *Service) Bus() *EventBus { return s.bus }

func (s *Service) Close() { s.bus.Close() }

// RewardAction credits one learner action and everything it unlocks.
func (s *Service) RewardAction(ctx context.Context, learner core.LearnerID, kind core.ActionKind, params core.ActionParams) (RewardResult, error) {
	id, err := core.NormalizeLearnerID(learner)
	if err != nil {
		return RewardResult{}, err
	}
	if err := validateParams(kind, params); err != nil {
		return RewardResult{}, err
	}
	params.IdempotencyKey = callerKey(params.IdempotencyKey)
	t, err := s.run(ctx, id, "RewardAction", true, func(t *txn) error {
		applied, err := t.reward(kind, params)
		if err == nil && !applied {
			t.result.Duplicate = true
		}
		return err
	})
	if err != nil {
		return RewardResult{}, err
	}
	return t.finish(), nil
}

// mutation edits the attempt's staged records.
type mutation func(t *txn) error

// run executes one serialized read-modify-commit cycle. Conflicting commits
// re-run the whole mutation on fresh reads.
func (s *Service) run(ctx context.Context, id core.LearnerID, op string, evaluate bool, mutate mutation) (*txn, error) {
	unlock, err := s.locks.Lock(ctx, id)
	if err != nil {
		// Only the caller's context ends a lock wait.
		return nil, &core.Error{Op: op, Err: err}
	}
	defer unlock()

	var defs []core.AchievementDefinition
	if evaluate {
		if defs, err = s.catalog.Definitions(ctx); err != nil {
			return nil, core.Wrap(op, core.ErrStorageUnavailable, err)
		}
	}

	t, err := withRetry(ctx, s.retry, s.log, op, func(ctx context.Context) (*txn, error) {
		actx, cancel := context.WithTimeout(ctx, s.storeTimeout)
		defer cancel()
		t, err := s.load(actx, id)
		if err != nil {
			return nil, s.storeErr(ctx, op, err)
		}
		if err := mutate(t); err != nil {
			return nil, err
		}
		if !t.mutated {
			return t, nil
		}
		if evaluate {
			if err := t.settle(defs, s.log); err != nil {
				return nil, err
			}
		}
		if err := s.store.Commit(actx, t.changeset()); err != nil {
			return nil, s.storeErr(ctx, op, err)
		}
		return t, nil
	})
	if err != nil {
		return nil, err
	}
	if t.mutated {
		s.log.Debug("committed", "op", op, "learner", id, "version", t.learner.Version+1, "events", len(t.events))
	}
	for _, ev := range t.events {
		s.bus.Publish(ctx, ev)
	}
	return t, nil
}

func (s *Service) load(ctx context.Context, id core.LearnerID) (*txn, error) {
	var (
		agg      core.LearnerAggregate
		pathways []core.PathwayProgress
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		agg, err = s.store.GetLearner(gctx, id)
		return err
	})
	g.Go(func() error {
		var err error
		pathways, err = s.store.ListPathways(gctx, id)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return newTxn(agg, pathways, s.now()), nil
}

// storeErr turns an attempt timeout into a retryable storage error while the
// caller's context is still alive.
func (s *Service) storeErr(parent context.Context, op string, err error) error {
	if parent.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		return core.Wrap(op, core.ErrStorageUnavailable, err)
	}
	return err
}
