package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"progresskit/core"
	"progresskit/engine"
)

// Config holds Redis connection configuration
type Config struct {
	Addr         string        `json:"addr" env:"PROGRESSKIT_REDIS_ADDR"`
	Password     string        `json:"password,omitempty" env:"PROGRESSKIT_REDIS_PASSWORD"`
	DB           int           `json:"db" env:"PROGRESSKIT_REDIS_DB"`
	PoolSize     int           `json:"pool_size" env:"PROGRESSKIT_REDIS_POOL_SIZE"`
	MinIdleConns int           `json:"min_idle_conns" env:"PROGRESSKIT_REDIS_MIN_IDLE_CONNS"`
	DialTimeout  time.Duration `json:"dial_timeout" env:"PROGRESSKIT_REDIS_DIAL_TIMEOUT"`
	ReadTimeout  time.Duration `json:"read_timeout" env:"PROGRESSKIT_REDIS_READ_TIMEOUT"`
	WriteTimeout time.Duration `json:"write_timeout" env:"PROGRESSKIT_REDIS_WRITE_TIMEOUT"`
	// KeyPrefix namespaces every key, e.g. "progresskit:".
	KeyPrefix string `json:"key_prefix" env:"PROGRESSKIT_REDIS_KEY_PREFIX"`
}

// DefaultConfig returns sensible defaults for Redis configuration
func DefaultConfig() Config {
	return Config{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// Store implements engine.Store on Redis.
// Data structure:
// - learner:{id}:aggregate -> JSON LearnerAggregate
// - learner:{id}:pathway:{pathway_id} -> JSON PathwayProgress
// - learner:{id}:pathways -> set of started pathway ids
// - learners -> set of learner ids with a stored aggregate
//
// Commits run under WATCH on every record they touch, check the stored
// versions and write everything in one MULTI/EXEC.
type Store struct {
	client *redis.Client
	prefix string
}

// New creates a new Redis-backed storage with the provided configuration
func New(config Config) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, core.Wrap("redis.New", core.ErrStorageUnavailable, fmt.Errorf("failed to connect to Redis: %w", err))
	}

	return &Store{client: client, prefix: config.KeyPrefix}, nil
}

// NewWithClient creates a Store using an existing Redis client (useful for testing)
func NewWithClient(client *redis.Client, prefix string) *Store {
	return &Store{client: client, prefix: prefix}
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

// Ping reports whether Redis is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) aggregateKey(id core.LearnerID) string {
	return fmt.Sprintf("%slearner:%s:aggregate", s.prefix, id)
}

func (s *Store) pathwayKey(id core.LearnerID, pathway core.PathwayID) string {
	return fmt.Sprintf("%slearner:%s:pathway:%s", s.prefix, id, pathway)
}

func (s *Store) pathwayIndexKey(id core.LearnerID) string {
	return fmt.Sprintf("%slearner:%s:pathways", s.prefix, id)
}

func (s *Store) learnersKey() string {
	return s.prefix + "learners"
}

func unavailable(op string, err error) error {
	return core.Wrap(op, core.ErrStorageUnavailable, err)
}

// getter is satisfied by both *redis.Client and *redis.Tx.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func getJSON[T any](ctx context.Context, c getter, key string, out *T) (bool, error) {
	data, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (s *Store) GetLearner(ctx context.Context, id core.LearnerID) (core.LearnerAggregate, error) {
	var agg core.LearnerAggregate
	ok, err := getJSON(ctx, s.client, s.aggregateKey(id), &agg)
	if err != nil {
		return core.LearnerAggregate{}, unavailable("redis.GetLearner", err)
	}
	if !ok {
		return core.NewLearnerAggregate(id), nil
	}
	return normalize(agg), nil
}

// normalize restores empty maps dropped by JSON null.
func normalize(agg core.LearnerAggregate) core.LearnerAggregate {
	def := core.NewLearnerAggregate(agg.LearnerID)
	if agg.Achievements == nil {
		agg.Achievements = def.Achievements
	}
	if agg.ProcessedActions == nil {
		agg.ProcessedActions = def.ProcessedActions
	}
	if agg.SpecialEvents == nil {
		agg.SpecialEvents = def.SpecialEvents
	}
	return agg
}

func (s *Store) GetPathway(ctx context.Context, id core.LearnerID, pathway core.PathwayID) (core.PathwayProgress, error) {
	var p core.PathwayProgress
	ok, err := getJSON(ctx, s.client, s.pathwayKey(id, pathway), &p)
	if err != nil {
		return core.PathwayProgress{}, unavailable("redis.GetPathway", err)
	}
	if !ok {
		return core.PathwayProgress{}, core.Errorf("redis.GetPathway", core.ErrNotFound, "pathway %s for %s", pathway, id)
	}
	return p, nil
}

func (s *Store) ListPathways(ctx context.Context, id core.LearnerID) ([]core.PathwayProgress, error) {
	ids, err := s.client.SMembers(ctx, s.pathwayIndexKey(id)).Result()
	if err != nil {
		return nil, unavailable("redis.ListPathways", err)
	}
	if len(ids) == 0 {
		return []core.PathwayProgress{}, nil
	}
	sort.Strings(ids)
	keys := make([]string, len(ids))
	for i, pid := range ids {
		keys[i] = s.pathwayKey(id, core.PathwayID(pid))
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, unavailable("redis.ListPathways", err)
	}
	out := make([]core.PathwayProgress, 0, len(vals))
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			// index entry without a record; skip
			continue
		}
		var p core.PathwayProgress
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, unavailable("redis.ListPathways", fmt.Errorf("decode %s: %w", keys[i], err))
		}
		out = append(out, p)
	}
	return out, nil
}

// Learners lists learner ids with a stored aggregate.
func (s *Store) Learners(ctx context.Context) ([]core.LearnerID, error) {
	ids, err := s.client.SMembers(ctx, s.learnersKey()).Result()
	if err != nil {
		return nil, unavailable("redis.Learners", err)
	}
	sort.Strings(ids)
	out := make([]core.LearnerID, len(ids))
	for i, id := range ids {
		out[i] = core.LearnerID(id)
	}
	return out, nil
}

type version struct {
	Version int64 `json:"version"`
}

func (s *Store) Commit(ctx context.Context, cs engine.Changeset) error {
	const op = "redis.Commit"
	if err := cs.Validate(); err != nil {
		return err
	}
	id := cs.Learner.LearnerID
	aggKey := s.aggregateKey(id)
	keys := []string{aggKey}
	for _, p := range cs.Pathways {
		keys = append(keys, s.pathwayKey(id, p.PathwayID))
	}

	learner := cs.Learner.Clone()
	learner.Version++
	aggJSON, err := json.Marshal(learner)
	if err != nil {
		return core.Wrap(op, core.ErrInvalidInput, err)
	}
	pathwayJSON := make([][]byte, len(cs.Pathways))
	for i, p := range cs.Pathways {
		p.Version++
		if pathwayJSON[i], err = json.Marshal(p); err != nil {
			return core.Wrap(op, core.ErrInvalidInput, err)
		}
	}

	txf := func(tx *redis.Tx) error {
		var v version
		if _, err := getJSON(ctx, tx, aggKey, &v); err != nil {
			return unavailable(op, err)
		}
		if v.Version != cs.Learner.Version {
			return core.Errorf(op, core.ErrConcurrentModification, "learner %s at version %d, commit read %d", id, v.Version, cs.Learner.Version)
		}
		for i, p := range cs.Pathways {
			var pv version
			if _, err := getJSON(ctx, tx, keys[i+1], &pv); err != nil {
				return unavailable(op, err)
			}
			if pv.Version != p.Version {
				return core.Errorf(op, core.ErrConcurrentModification, "pathway %s at version %d, commit read %d", p.PathwayID, pv.Version, p.Version)
			}
		}
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, aggKey, aggJSON, 0)
			pipe.SAdd(ctx, s.learnersKey(), string(id))
			for i, p := range cs.Pathways {
				pipe.Set(ctx, keys[i+1], pathwayJSON[i], 0)
				pipe.SAdd(ctx, s.pathwayIndexKey(id), string(p.PathwayID))
			}
			return nil
		})
		return err
	}

	err = s.client.Watch(ctx, txf, keys...)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.TxFailedErr):
		return core.Wrap(op, core.ErrConcurrentModification, err)
	case errors.Is(err, core.ErrConcurrentModification), errors.Is(err, core.ErrStorageUnavailable):
		return err
	default:
		return unavailable(op, err)
	}
}

var _ engine.Store = (*Store)(nil)
