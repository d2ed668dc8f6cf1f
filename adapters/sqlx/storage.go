package sqlx

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"progresskit/core"
	"progresskit/engine"
)

// Driver selects the SQL dialect.
type Driver string

const (
	DriverPostgres Driver = "postgres"
	DriverPgx      Driver = "pgx"
	DriverMySQL    Driver = "mysql"
)

// Config holds SQL connection configuration.
type Config struct {
	Driver          Driver        `json:"driver" env:"PROGRESSKIT_SQL_DRIVER"`
	DSN             string        `json:"dsn,omitempty" env:"PROGRESSKIT_SQL_DSN"`
	MaxOpenConns    int           `json:"max_open_conns" env:"PROGRESSKIT_SQL_MAX_OPEN_CONNS"`
	MaxIdleConns    int           `json:"max_idle_conns" env:"PROGRESSKIT_SQL_MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" env:"PROGRESSKIT_SQL_CONN_MAX_LIFETIME"`
	// AutoMigrate creates the tables on Open.
	AutoMigrate bool `json:"auto_migrate" env:"PROGRESSKIT_SQL_AUTO_MIGRATE"`
}

// DefaultConfig returns pool defaults for driver.
func DefaultConfig(driver Driver) Config {
	return Config{
		Driver:          driver,
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		AutoMigrate:     true,
	}
}

// Store implements engine.Store on PostgreSQL or MySQL.
//
// learner_levels holds one row per learner with the level record, a JSON
// activity column and the version used for optimistic concurrency.
// learner_achievements and pathway_progress hang off it. A commit is one
// transaction: a version checked update (or insert for new learners), an
// upsert per achievement and a version checked write per pathway.
type Store struct {
	db     *sqlx.DB
	driver Driver
}

// Open connects to the database and verifies the connection.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	switch cfg.Driver {
	case DriverPostgres, DriverPgx, DriverMySQL:
	default:
		return nil, core.Errorf("sqlx.Open", core.ErrInvalidInput, "unsupported driver %q", cfg.Driver)
	}
	db, err := sqlx.Open(string(cfg.Driver), cfg.DSN)
	if err != nil {
		return nil, core.Wrap("sqlx.Open", core.ErrStorageUnavailable, err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, core.Wrap("sqlx.Open", core.ErrStorageUnavailable, fmt.Errorf("failed to connect: %w", err))
	}
	s := NewWithDB(db, cfg.Driver)
	if cfg.AutoMigrate {
		if err := s.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return s, nil
}

// NewWithDB wraps an existing connection (useful for testing).
func NewWithDB(db *sqlx.DB, driver Driver) *Store {
	return &Store{db: db, driver: driver}
}

func (s *Store) Close() error { return s.db.Close() }

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range s.schema() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return core.Wrap("sqlx.Migrate", core.ErrStorageUnavailable, err)
		}
	}
	return nil
}

func (s *Store) schema() []string {
	ts := "TIMESTAMPTZ"
	if s.driver == DriverMySQL {
		ts = "DATETIME(6)"
	}
	return []string{
		`CREATE TABLE IF NOT EXISTS learner_levels (
			learner_id VARCHAR(128) PRIMARY KEY,
			level BIGINT NOT NULL,
			current_xp BIGINT NOT NULL,
			required_xp BIGINT NOT NULL,
			total_xp BIGINT NOT NULL,
			streak_days INT NOT NULL,
			last_activity_date ` + ts + ` NULL,
			rank_name VARCHAR(32) NOT NULL,
			activity TEXT NOT NULL,
			version BIGINT NOT NULL,
			updated_at ` + ts + ` NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS learner_achievements (
			learner_id VARCHAR(128) NOT NULL,
			achievement_id VARCHAR(128) NOT NULL,
			progress INT NOT NULL,
			is_completed BOOLEAN NOT NULL,
			unlocked_at ` + ts + ` NULL,
			is_viewed BOOLEAN NOT NULL,
			PRIMARY KEY (learner_id, achievement_id)
		)`,
		`CREATE TABLE IF NOT EXISTS pathway_progress (
			learner_id VARCHAR(128) NOT NULL,
			pathway_id VARCHAR(128) NOT NULL,
			status VARCHAR(32) NOT NULL,
			progress INT NOT NULL,
			current_module INT NOT NULL,
			modules TEXT NOT NULL,
			started_at ` + ts + ` NULL,
			last_accessed_at ` + ts + ` NULL,
			completed_at ` + ts + ` NULL,
			version BIGINT NOT NULL,
			PRIMARY KEY (learner_id, pathway_id)
		)`,
	}
}

type levelRow struct {
	LearnerID        string       `db:"learner_id"`
	Level            int64        `db:"level"`
	CurrentXP        int64        `db:"current_xp"`
	RequiredXP       int64        `db:"required_xp"`
	TotalXP          int64        `db:"total_xp"`
	StreakDays       int          `db:"streak_days"`
	LastActivityDate sql.NullTime `db:"last_activity_date"`
	Rank             string       `db:"rank_name"`
	Activity         string       `db:"activity"`
	Version          int64        `db:"version"`
	UpdatedAt        time.Time    `db:"updated_at"`
}

// activity is the JSON encoded part of the learner row.
type activity struct {
	ProcessedActions map[string]time.Time `json:"processed_actions"`
	RecentQuizzes    []core.QuizAttempt   `json:"recent_quizzes"`
	SpecialEvents    map[string]int       `json:"special_events"`
}

type achievementRow struct {
	AchievementID string       `db:"achievement_id"`
	Progress      int          `db:"progress"`
	IsCompleted   bool         `db:"is_completed"`
	UnlockedAt    sql.NullTime `db:"unlocked_at"`
	IsViewed      bool         `db:"is_viewed"`
}

type pathwayRow struct {
	LearnerID      string       `db:"learner_id"`
	PathwayID      string       `db:"pathway_id"`
	Status         string       `db:"status"`
	Progress       int          `db:"progress"`
	CurrentModule  int          `db:"current_module"`
	Modules        string       `db:"modules"`
	StartedAt      sql.NullTime `db:"started_at"`
	LastAccessedAt sql.NullTime `db:"last_accessed_at"`
	CompletedAt    sql.NullTime `db:"completed_at"`
	Version        int64        `db:"version"`
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func nullTimePtr(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return nullTime(*t)
}

func timePtr(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	t := n.Time.UTC()
	return &t
}

func timeOf(n sql.NullTime) time.Time {
	if !n.Valid {
		return time.Time{}
	}
	return n.Time.UTC()
}

func unavailable(op string, err error) error {
	return core.Wrap(op, core.ErrStorageUnavailable, err)
}

func (s *Store) GetLearner(ctx context.Context, id core.LearnerID) (core.LearnerAggregate, error) {
	const op = "sqlx.GetLearner"
	var row levelRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`SELECT learner_id, level, current_xp, required_xp, total_xp, streak_days,
		last_activity_date, rank_name, activity, version, updated_at FROM learner_levels WHERE learner_id = ?`), string(id))
	if errors.Is(err, sql.ErrNoRows) {
		return core.NewLearnerAggregate(id), nil
	}
	if err != nil {
		return core.LearnerAggregate{}, unavailable(op, err)
	}
	agg := core.NewLearnerAggregate(id)
	agg.Level = core.LevelState{
		Level:            row.Level,
		CurrentXP:        row.CurrentXP,
		RequiredXP:       row.RequiredXP,
		TotalXP:          row.TotalXP,
		StreakDays:       row.StreakDays,
		LastActivityDate: timeOf(row.LastActivityDate),
		Rank:             core.Rank(row.Rank),
	}
	agg.Version = row.Version
	agg.Updated = row.UpdatedAt.UTC()
	var act activity
	if row.Activity != "" {
		if err := json.Unmarshal([]byte(row.Activity), &act); err != nil {
			return core.LearnerAggregate{}, unavailable(op, fmt.Errorf("decode activity: %w", err))
		}
	}
	if act.ProcessedActions != nil {
		agg.ProcessedActions = act.ProcessedActions
	}
	if act.SpecialEvents != nil {
		agg.SpecialEvents = act.SpecialEvents
	}
	agg.RecentQuizzes = act.RecentQuizzes

	var rows []achievementRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`SELECT achievement_id, progress, is_completed, unlocked_at, is_viewed
		FROM learner_achievements WHERE learner_id = ?`), string(id)); err != nil {
		return core.LearnerAggregate{}, unavailable(op, err)
	}
	for _, r := range rows {
		agg.Achievements[core.AchievementID(r.AchievementID)] = core.AchievementProgress{
			AchievementID: core.AchievementID(r.AchievementID),
			Progress:      r.Progress,
			IsCompleted:   r.IsCompleted,
			UnlockedAt:    timePtr(r.UnlockedAt),
			IsViewed:      r.IsViewed,
		}
	}
	return agg, nil
}

const pathwayColumns = `learner_id, pathway_id, status, progress, current_module, modules, started_at, last_accessed_at, completed_at, version`

func (s *Store) GetPathway(ctx context.Context, id core.LearnerID, pathway core.PathwayID) (core.PathwayProgress, error) {
	var row pathwayRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`SELECT `+pathwayColumns+` FROM pathway_progress WHERE learner_id = ? AND pathway_id = ?`), string(id), string(pathway))
	if errors.Is(err, sql.ErrNoRows) {
		return core.PathwayProgress{}, core.Errorf("sqlx.GetPathway", core.ErrNotFound, "pathway %s for %s", pathway, id)
	}
	if err != nil {
		return core.PathwayProgress{}, unavailable("sqlx.GetPathway", err)
	}
	return decodePathway(row)
}

func (s *Store) ListPathways(ctx context.Context, id core.LearnerID) ([]core.PathwayProgress, error) {
	var rows []pathwayRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`SELECT `+pathwayColumns+` FROM pathway_progress WHERE learner_id = ? ORDER BY pathway_id`), string(id)); err != nil {
		return nil, unavailable("sqlx.ListPathways", err)
	}
	out := make([]core.PathwayProgress, 0, len(rows))
	for _, r := range rows {
		p, err := decodePathway(r)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func decodePathway(r pathwayRow) (core.PathwayProgress, error) {
	p := core.PathwayProgress{
		LearnerID:      core.LearnerID(r.LearnerID),
		PathwayID:      core.PathwayID(r.PathwayID),
		Status:         core.PathwayStatus(r.Status),
		Progress:       r.Progress,
		CurrentModule:  r.CurrentModule,
		StartedAt:      timeOf(r.StartedAt),
		LastAccessedAt: timeOf(r.LastAccessedAt),
		CompletedAt:    timePtr(r.CompletedAt),
		Version:        r.Version,
	}
	if err := json.Unmarshal([]byte(r.Modules), &p.Modules); err != nil {
		return core.PathwayProgress{}, unavailable("sqlx.decodePathway", fmt.Errorf("decode modules of %s: %w", r.PathwayID, err))
	}
	return p, nil
}

// Learners lists learner ids with a stored level record.
func (s *Store) Learners(ctx context.Context) ([]core.LearnerID, error) {
	var ids []string
	if err := s.db.SelectContext(ctx, &ids, `SELECT learner_id FROM learner_levels ORDER BY learner_id`); err != nil {
		return nil, unavailable("sqlx.Learners", err)
	}
	out := make([]core.LearnerID, len(ids))
	for i, id := range ids {
		out[i] = core.LearnerID(id)
	}
	return out, nil
}

func (s *Store) Commit(ctx context.Context, cs engine.Changeset) (err error) {
	const op = "sqlx.Commit"
	if err := cs.Validate(); err != nil {
		return err
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return unavailable(op, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = s.writeLearner(ctx, tx, cs.Learner); err != nil {
		return err
	}
	if err = s.writeAchievements(ctx, tx, cs.Learner); err != nil {
		return err
	}
	for _, p := range cs.Pathways {
		if err = s.writePathway(ctx, tx, p); err != nil {
			return err
		}
	}
	if err = tx.Commit(); err != nil {
		return unavailable(op, err)
	}
	return nil
}

func (s *Store) writeLearner(ctx context.Context, tx *sqlx.Tx, agg core.LearnerAggregate) error {
	const op = "sqlx.Commit"
	act, err := json.Marshal(activity{
		ProcessedActions: agg.ProcessedActions,
		RecentQuizzes:    agg.RecentQuizzes,
		SpecialEvents:    agg.SpecialEvents,
	})
	if err != nil {
		return core.Wrap(op, core.ErrInvalidInput, err)
	}
	lv := agg.Level
	updated := agg.Updated
	if updated.IsZero() {
		updated = time.Now().UTC()
	}
	if agg.Version == 0 {
		_, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO learner_levels (learner_id, level, current_xp, required_xp, total_xp,
			streak_days, last_activity_date, rank_name, activity, version, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			string(agg.LearnerID), lv.Level, lv.CurrentXP, lv.RequiredXP, lv.TotalXP, lv.StreakDays,
			nullTime(lv.LastActivityDate), string(lv.Rank), string(act), int64(1), updated)
		if isUniqueViolation(err) {
			return core.Errorf(op, core.ErrConcurrentModification, "learner %s was created concurrently", agg.LearnerID)
		}
		if err != nil {
			return unavailable(op, err)
		}
		return nil
	}
	res, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE learner_levels SET level = ?, current_xp = ?, required_xp = ?, total_xp = ?,
		streak_days = ?, last_activity_date = ?, rank_name = ?, activity = ?, version = version + 1, updated_at = ?
		WHERE learner_id = ? AND version = ?`),
		lv.Level, lv.CurrentXP, lv.RequiredXP, lv.TotalXP, lv.StreakDays, nullTime(lv.LastActivityDate),
		string(lv.Rank), string(act), updated, string(agg.LearnerID), agg.Version)
	if err != nil {
		return unavailable(op, err)
	}
	return checkAffected(res, op, "learner %s changed since version %d", agg.LearnerID, agg.Version)
}

func checkAffected(res sql.Result, op, format string, args ...any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable(op, err)
	}
	if n == 0 {
		return core.Errorf(op, core.ErrConcurrentModification, format, args...)
	}
	return nil
}

func (s *Store) upsertAchievementSQL() string {
	if s.driver == DriverMySQL {
		return `INSERT INTO learner_achievements (learner_id, achievement_id, progress, is_completed, unlocked_at, is_viewed)
			VALUES (?, ?, ?, ?, ?, ?) ON DUPLICATE KEY UPDATE progress = VALUES(progress), is_completed = VALUES(is_completed),
			unlocked_at = VALUES(unlocked_at), is_viewed = VALUES(is_viewed)`
	}
	return `INSERT INTO learner_achievements (learner_id, achievement_id, progress, is_completed, unlocked_at, is_viewed)
		VALUES (?, ?, ?, ?, ?, ?) ON CONFLICT (learner_id, achievement_id) DO UPDATE SET progress = EXCLUDED.progress,
		is_completed = EXCLUDED.is_completed, unlocked_at = EXCLUDED.unlocked_at, is_viewed = EXCLUDED.is_viewed`
}

func (s *Store) writeAchievements(ctx context.Context, tx *sqlx.Tx, agg core.LearnerAggregate) error {
	if len(agg.Achievements) == 0 {
		return nil
	}
	ids := make([]string, 0, len(agg.Achievements))
	for id := range agg.Achievements {
		ids = append(ids, string(id))
	}
	sort.Strings(ids)
	q := tx.Rebind(s.upsertAchievementSQL())
	for _, id := range ids {
		a := agg.Achievements[core.AchievementID(id)]
		if _, err := tx.ExecContext(ctx, q, string(agg.LearnerID), id, a.Progress, a.IsCompleted, nullTimePtr(a.UnlockedAt), a.IsViewed); err != nil {
			return unavailable("sqlx.Commit", err)
		}
	}
	return nil
}

func (s *Store) writePathway(ctx context.Context, tx *sqlx.Tx, p core.PathwayProgress) error {
	const op = "sqlx.Commit"
	modules, err := json.Marshal(p.Modules)
	if err != nil {
		return core.Wrap(op, core.ErrInvalidInput, err)
	}
	if p.Version == 0 {
		_, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO pathway_progress (`+pathwayColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			string(p.LearnerID), string(p.PathwayID), string(p.Status), p.Progress, p.CurrentModule, string(modules),
			nullTime(p.StartedAt), nullTime(p.LastAccessedAt), nullTimePtr(p.CompletedAt), int64(1))
		if isUniqueViolation(err) {
			return core.Errorf(op, core.ErrConcurrentModification, "pathway %s was started concurrently", p.PathwayID)
		}
		if err != nil {
			return unavailable(op, err)
		}
		return nil
	}
	res, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE pathway_progress SET status = ?, progress = ?, current_module = ?, modules = ?,
		started_at = ?, last_accessed_at = ?, completed_at = ?, version = version + 1
		WHERE learner_id = ? AND pathway_id = ? AND version = ?`),
		string(p.Status), p.Progress, p.CurrentModule, string(modules), nullTime(p.StartedAt), nullTime(p.LastAccessedAt),
		nullTimePtr(p.CompletedAt), string(p.LearnerID), string(p.PathwayID), p.Version)
	if err != nil {
		return unavailable(op, err)
	}
	return checkAffected(res, op, "pathway %s changed since version %d", p.PathwayID, p.Version)
}

// isUniqueViolation recognizes duplicate key errors from every supported driver.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	return false
}

var _ engine.Store = (*Store)(nil)
