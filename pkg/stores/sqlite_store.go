package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/recordloom/recordloom/pkg/engine"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// SQLiteStore implements the engine.EntityStore facade using SQLite.
type SQLiteStore struct {
	db   *sql.DB
	path string
	cfg  Config
}

var _ engine.EntityStore = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	return &SQLiteStore{
		path: cfg.Path,
		cfg:  cfg,
	}, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	if s.path == ":memory:" {
		// An in-memory database exists per connection; the pool must not
		// hand out a second, empty one.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		db.SetMaxOpenConns(s.cfg.MaxOpenConns)
		db.SetMaxIdleConns(s.cfg.MaxIdleConns)
		db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	// Ensure foreign keys are enabled (connection-level setting)
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}

// Begin starts a Serializable transaction.
func (s *SQLiteStore) Begin(ctx context.Context) (engine.Tx, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelSerializable,
	})
	if err != nil {
		return nil, engine.NewStoreError(err, "failed to begin transaction")
	}
	return &sqliteTx{tx: tx}, nil
}

// GetEntity retrieves an entity by ID, including soft-deleted ones.
func (s *SQLiteStore) GetEntity(ctx context.Context, id string) (*engine.Entity, error) {
	return getEntity(ctx, s.db, id)
}

// ListEntitiesByModel retrieves all entities of a model.
func (s *SQLiteStore) ListEntitiesByModel(ctx context.Context, modelID string, includeDeleted bool) ([]*engine.Entity, error) {
	return listEntitiesByModel(ctx, s.db, modelID, includeDeleted)
}

// GetRun retrieves a wizard run by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*engine.WizardRun, error) {
	return getRun(ctx, s.db, id)
}

// GetChangelogEntry retrieves a changelog entry by ID.
func (s *SQLiteStore) GetChangelogEntry(ctx context.Context, id string) (*engine.ChangelogEntry, error) {
	return getChangelogEntry(ctx, s.db, id)
}

// ListChangelog lists an entity's changelog entries, newest first.
func (s *SQLiteStore) ListChangelog(ctx context.Context, entityID string, limit, offset int) ([]*engine.ChangelogEntry, error) {
	return listChangelog(ctx, s.db, entityID, limit, offset)
}

// sqliteTx implements engine.Tx over one *sql.Tx.
type sqliteTx struct {
	tx *sql.Tx
}

var _ engine.Tx = (*sqliteTx)(nil)

func (t *sqliteTx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return engine.NewStoreError(err, "failed to commit transaction")
	}
	return nil
}

func (t *sqliteTx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return engine.NewStoreError(err, "failed to roll back transaction")
	}
	return nil
}

func (t *sqliteTx) GetEntity(ctx context.Context, id string) (*engine.Entity, error) {
	return getEntity(ctx, t.tx, id)
}

func (t *sqliteTx) ListEntitiesByModel(ctx context.Context, modelID string, includeDeleted bool) ([]*engine.Entity, error) {
	return listEntitiesByModel(ctx, t.tx, modelID, includeDeleted)
}

func (t *sqliteTx) GetRun(ctx context.Context, id string) (*engine.WizardRun, error) {
	return getRun(ctx, t.tx, id)
}

func (t *sqliteTx) GetChangelogEntry(ctx context.Context, id string) (*engine.ChangelogEntry, error) {
	return getChangelogEntry(ctx, t.tx, id)
}

func (t *sqliteTx) ListChangelog(ctx context.Context, entityID string, limit, offset int) ([]*engine.ChangelogEntry, error) {
	return listChangelog(ctx, t.tx, entityID, limit, offset)
}

// CreateEntity persists a new entity.
func (t *sqliteTx) CreateEntity(ctx context.Context, e *engine.Entity) error {
	vals, err := json.Marshal(e.Values)
	if err != nil {
		return engine.NewStoreError(err, "failed to encode entity values")
	}

	query := `
		INSERT INTO entities (id, model_id, vals, state_id, owner_id, deleted, deleted_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = t.tx.ExecContext(ctx, query,
		e.ID,
		e.ModelID,
		string(vals),
		e.StateID,
		e.OwnerID,
		boolToInt(e.Deleted),
		e.DeletedAt,
		e.CreatedAt,
		e.UpdatedAt,
	)
	if err != nil {
		return engine.NewStoreError(err, "failed to create entity %s", e.ID)
	}
	return nil
}

// UpdateEntity persists a full entity row.
func (t *sqliteTx) UpdateEntity(ctx context.Context, e *engine.Entity) error {
	vals, err := json.Marshal(e.Values)
	if err != nil {
		return engine.NewStoreError(err, "failed to encode entity values")
	}

	query := `
		UPDATE entities
		SET vals = ?, state_id = ?, owner_id = ?, deleted = ?, deleted_at = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := t.tx.ExecContext(ctx, query,
		string(vals),
		e.StateID,
		e.OwnerID,
		boolToInt(e.Deleted),
		e.DeletedAt,
		e.UpdatedAt,
		e.ID,
	)
	if err != nil {
		return engine.NewStoreError(err, "failed to update entity %s", e.ID)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return engine.NewStoreError(err, "failed to get rows affected")
	}
	if rows == 0 {
		return engine.NewNotFoundError("entity not found: %s", e.ID)
	}
	return nil
}

// CreateRun persists a new wizard run.
func (t *sqliteTx) CreateRun(ctx context.Context, run *engine.WizardRun) error {
	steps, err := json.Marshal(run.Steps)
	if err != nil {
		return engine.NewStoreError(err, "failed to encode run steps")
	}

	query := `
		INSERT INTO wizard_runs (id, wizard_id, user_id, status, current_step_index, steps, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = t.tx.ExecContext(ctx, query,
		run.ID,
		run.WizardID,
		run.UserID,
		run.Status,
		run.CurrentStepIndex,
		string(steps),
		run.Version,
		run.CreatedAt,
		run.UpdatedAt,
	)
	if err != nil {
		return engine.NewStoreError(err, "failed to create wizard run %s", run.ID)
	}
	return nil
}

// UpdateRun persists a wizard run guarded by the optimistic version check.
func (t *sqliteTx) UpdateRun(ctx context.Context, run *engine.WizardRun) error {
	steps, err := json.Marshal(run.Steps)
	if err != nil {
		return engine.NewStoreError(err, "failed to encode run steps")
	}

	query := `
		UPDATE wizard_runs
		SET status = ?, current_step_index = ?, steps = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?
	`
	result, err := t.tx.ExecContext(ctx, query,
		run.Status,
		run.CurrentStepIndex,
		string(steps),
		run.UpdatedAt,
		run.ID,
		run.Version,
	)
	if err != nil {
		return engine.NewStoreError(err, "failed to update wizard run %s", run.ID)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return engine.NewStoreError(err, "failed to get rows affected")
	}
	if rows == 0 {
		// Either the run vanished or another submission won the race.
		if _, err := getRun(ctx, t.tx, run.ID); err != nil {
			return err
		}
		return engine.NewSequenceError("wizard run %s was modified concurrently", run.ID)
	}

	run.Version++
	return nil
}

// AppendChangelog appends an immutable changelog entry.
func (t *sqliteTx) AppendChangelog(ctx context.Context, entry *engine.ChangelogEntry) error {
	var changes, snapshot *string
	if entry.Changes != nil {
		b, err := json.Marshal(entry.Changes)
		if err != nil {
			return engine.NewStoreError(err, "failed to encode changelog changes")
		}
		s := string(b)
		changes = &s
	}
	if entry.Snapshot != nil {
		b, err := json.Marshal(entry.Snapshot)
		if err != nil {
			return engine.NewStoreError(err, "failed to encode changelog snapshot")
		}
		s := string(b)
		snapshot = &s
	}

	query := `
		INSERT INTO changelog (id, entity_id, change_type, changes, snapshot, reverts_id, actor, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := t.tx.ExecContext(ctx, query,
		entry.ID,
		entry.EntityID,
		entry.Type,
		changes,
		snapshot,
		nullable(entry.RevertsID),
		entry.Actor,
		entry.Timestamp,
	)
	if err != nil {
		return engine.NewStoreError(err, "failed to append changelog entry %s", entry.ID)
	}
	return nil
}

// dbtx abstracts *sql.DB and *sql.Tx for the shared query helpers.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const entityColumns = `id, model_id, vals, state_id, owner_id, deleted, deleted_at, created_at, updated_at`

func scanEntity(scanner interface{ Scan(...any) error }) (*engine.Entity, error) {
	e := &engine.Entity{}
	var vals string
	var stateID sql.NullString
	var deleted int
	var deletedAt sql.NullTime
	err := scanner.Scan(
		&e.ID,
		&e.ModelID,
		&vals,
		&stateID,
		&e.OwnerID,
		&deleted,
		&deletedAt,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	e.StateID = stateID.String
	e.Deleted = deleted != 0
	if deletedAt.Valid {
		t := deletedAt.Time
		e.DeletedAt = &t
	}
	if err := json.Unmarshal([]byte(vals), &e.Values); err != nil {
		return nil, fmt.Errorf("failed to decode entity values: %w", err)
	}
	return e, nil
}

func getEntity(ctx context.Context, q dbtx, id string) (*engine.Entity, error) {
	query := `SELECT ` + entityColumns + ` FROM entities WHERE id = ?`

	e, err := scanEntity(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engine.NewNotFoundError("entity not found: %s", id)
	}
	if err != nil {
		return nil, engine.NewStoreError(err, "failed to get entity %s", id)
	}
	return e, nil
}

func listEntitiesByModel(ctx context.Context, q dbtx, modelID string, includeDeleted bool) ([]*engine.Entity, error) {
	query := `SELECT ` + entityColumns + ` FROM entities WHERE model_id = ?`
	if !includeDeleted {
		query += ` AND deleted = 0`
	}
	query += ` ORDER BY created_at ASC`

	rows, err := q.QueryContext(ctx, query, modelID)
	if err != nil {
		return nil, engine.NewStoreError(err, "failed to list entities of model %s", modelID)
	}
	defer rows.Close()

	entities := []*engine.Entity{}
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, engine.NewStoreError(err, "failed to scan entity")
		}
		entities = append(entities, e)
	}
	if err := rows.Err(); err != nil {
		return nil, engine.NewStoreError(err, "error iterating entities")
	}
	return entities, nil
}

func getRun(ctx context.Context, q dbtx, id string) (*engine.WizardRun, error) {
	query := `
		SELECT id, wizard_id, user_id, status, current_step_index, steps, version, created_at, updated_at
		FROM wizard_runs
		WHERE id = ?
	`

	run := &engine.WizardRun{}
	var steps string
	err := q.QueryRowContext(ctx, query, id).Scan(
		&run.ID,
		&run.WizardID,
		&run.UserID,
		&run.Status,
		&run.CurrentStepIndex,
		&steps,
		&run.Version,
		&run.CreatedAt,
		&run.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engine.NewNotFoundError("wizard run not found: %s", id)
	}
	if err != nil {
		return nil, engine.NewStoreError(err, "failed to get wizard run %s", id)
	}

	if err := json.Unmarshal([]byte(steps), &run.Steps); err != nil {
		return nil, engine.NewStoreError(err, "failed to decode run steps")
	}
	return run, nil
}

const changelogColumns = `id, entity_id, change_type, changes, snapshot, reverts_id, actor, ts`

func scanChangelogEntry(scanner interface{ Scan(...any) error }) (*engine.ChangelogEntry, error) {
	entry := &engine.ChangelogEntry{}
	var changes, snapshot, revertsID sql.NullString
	err := scanner.Scan(
		&entry.ID,
		&entry.EntityID,
		&entry.Type,
		&changes,
		&snapshot,
		&revertsID,
		&entry.Actor,
		&entry.Timestamp,
	)
	if err != nil {
		return nil, err
	}

	entry.RevertsID = revertsID.String
	if changes.Valid {
		if err := json.Unmarshal([]byte(changes.String), &entry.Changes); err != nil {
			return nil, fmt.Errorf("failed to decode changelog changes: %w", err)
		}
	}
	if snapshot.Valid {
		if err := json.Unmarshal([]byte(snapshot.String), &entry.Snapshot); err != nil {
			return nil, fmt.Errorf("failed to decode changelog snapshot: %w", err)
		}
	}
	return entry, nil
}

func getChangelogEntry(ctx context.Context, q dbtx, id string) (*engine.ChangelogEntry, error) {
	query := `SELECT ` + changelogColumns + ` FROM changelog WHERE id = ?`

	entry, err := scanChangelogEntry(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engine.NewNotFoundError("changelog entry not found: %s", id)
	}
	if err != nil {
		return nil, engine.NewStoreError(err, "failed to get changelog entry %s", id)
	}
	return entry, nil
}

func listChangelog(ctx context.Context, q dbtx, entityID string, limit, offset int) ([]*engine.ChangelogEntry, error) {
	query := `
		SELECT ` + changelogColumns + `
		FROM changelog
		WHERE entity_id = ?
		ORDER BY ts DESC, id DESC
		LIMIT ? OFFSET ?
	`

	rows, err := q.QueryContext(ctx, query, entityID, limit, offset)
	if err != nil {
		return nil, engine.NewStoreError(err, "failed to list changelog for entity %s", entityID)
	}
	defer rows.Close()

	entries := []*engine.ChangelogEntry{}
	for rows.Next() {
		entry, err := scanChangelogEntry(rows)
		if err != nil {
			return nil, engine.NewStoreError(err, "failed to scan changelog entry")
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, engine.NewStoreError(err, "error iterating changelog entries")
	}
	return entries, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
