package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-migrate/migrate/v4"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/piwi3910/tasklist/pkg/telemetry"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// metaNextTaskID is the store_meta key holding the next id to allocate.
const metaNextTaskID = "next_task_id"

var validate = validator.New()

// SQLiteStore owns the task database and the dirty/flush protocol.
//
// Mutations are staged in memory (Insert, Replace, Remove) and only reach
// the database on Flush. Reads (Load, Lookup) see persisted rows with the
// staged changes applied. All methods are safe for concurrent use.
type SQLiteStore struct {
	mu sync.Mutex

	cfg     Config
	db      *sql.DB
	openErr *StoreError

	pending *changeSet
	dirty   bool

	now     func() time.Time
	logger  *telemetry.Logger
	metrics *telemetry.Metrics
}

// Option configures a SQLiteStore.
type Option func(*SQLiteStore)

// WithLogger sets the logger. The store only logs at debug level.
func WithLogger(logger *telemetry.Logger) Option {
	return func(s *SQLiteStore) {
		s.logger = logger
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(metrics *telemetry.Metrics) Option {
	return func(s *SQLiteStore) {
		s.metrics = metrics
	}
}

// WithClock overrides the time source used to stamp records.
func WithClock(now func() time.Time) Option {
	return func(s *SQLiteStore) {
		s.now = now
	}
}

// NewSQLiteStore creates a new SQLite store instance. Nothing is opened
// until the first call that needs the database.
func NewSQLiteStore(cfg Config, opts ...Option) (*SQLiteStore, error) {
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid store config: %w", err)
	}

	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = defaultBusyTimeout
	}

	s := &SQLiteStore{
		cfg:     cfg,
		pending: newChangeSet(),
		now:     time.Now,
		logger:  telemetry.NopLogger(),
		metrics: telemetry.NopMetrics(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.NewComponentLogger("store")

	return s, nil
}

// Path returns the configured database path.
func (s *SQLiteStore) Path() string {
	return s.cfg.Path
}

// EnsureOpen opens the database on first use and applies the schema.
//
// Success is remembered, so later calls are free. Failure is remembered
// too: every later call, and every other operation, returns the same
// KindOpenFailed error until Reopen succeeds.
func (s *SQLiteStore) EnsureOpen(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureOpenLocked(ctx)
}

// Reopen discards a remembered open failure and tries again. It is a no-op
// on an open store.
func (s *SQLiteStore) Reopen(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return nil
	}
	s.openErr = nil
	return s.ensureOpenLocked(ctx)
}

func (s *SQLiteStore) ensureOpenLocked(ctx context.Context) error {
	if s.db != nil {
		return nil
	}
	if s.openErr != nil {
		return s.openErr
	}

	db, err := s.open(ctx)
	if err != nil {
		s.openErr = newOpenError(err)
		s.metrics.RecordStoreError(string(KindOpenFailed))
		return s.openErr
	}

	s.db = db
	s.logger.WithField("path", s.cfg.Path).Debug("store opened")
	return nil
}

// open connects and applies the schema.
func (s *SQLiteStore) open(ctx context.Context) (*sql.DB, error) {
	db, err := sql.Open("sqlite", s.dsn())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite has one writer, and ":memory:" is per connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := migrateSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// dsn builds the modernc connection string with per-connection pragmas.
func (s *SQLiteStore) dsn() string {
	pragmas := []string{
		fmt.Sprintf("_pragma=busy_timeout(%d)", s.cfg.BusyTimeout.Milliseconds()),
		"_pragma=foreign_keys(1)",
	}
	if s.cfg.Path != MemoryPath {
		pragmas = append(pragmas, "_pragma=journal_mode(WAL)", "_pragma=synchronous(NORMAL)")
	}
	return s.cfg.Path + "?" + strings.Join(pragmas, "&")
}

// migrateSchema applies the embedded migrations.
func migrateSchema(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlitemigrate.WithInstance(db, &sqlitemigrate.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	// m.Close would close db as well, so the instance is just dropped
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// reserveID takes the next id from the counter in store_meta. The counter is
// advanced in the database itself, so handles in other processes never get
// the same id. A missing counter starts after MAX(id).
func reserveID(ctx context.Context, db *sql.DB) (int64, error) {
	var id int64
	err := db.QueryRowContext(ctx, `
		INSERT INTO store_meta (key, value)
		VALUES (?, (SELECT COALESCE(MAX(id), 0) + 2 FROM tasks))
		ON CONFLICT(key) DO UPDATE SET value = MAX(value + 1, excluded.value)
		RETURNING value - 1
	`, metaNextTaskID).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to reserve task id: %w", err)
	}
	return id, nil
}

// Load returns every record in creation order, with staged changes applied.
// An empty store yields an empty, non-nil slice.
func (s *SQLiteStore) Load(ctx context.Context) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureOpenLocked(ctx); err != nil {
		return nil, err
	}

	rows, err := s.queryAll(ctx)
	if err != nil {
		s.metrics.RecordStoreError(string(KindFetchFailed))
		return nil, newFetchError("load", 0, err)
	}

	return s.pending.overlay(rows), nil
}

// Lookup finds a record by id, consulting staged changes first.
func (s *SQLiteStore) Lookup(ctx context.Context, id int64) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureOpenLocked(ctx); err != nil {
		return Record{}, false, err
	}

	if rec, found, decided := s.pending.lookup(id); decided {
		return rec, found, nil
	}

	rec, err := s.queryOne(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		s.metrics.RecordStoreError(string(KindFetchFailed))
		return Record{}, false, newFetchError("lookup", id, err)
	}

	return rec, true, nil
}

// Insert reserves a new id and stages a record with the given title. The
// reservation is the only write Insert makes; a failed one is KindSaveFailed
// and stages nothing.
func (s *SQLiteStore) Insert(ctx context.Context, title string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureOpenLocked(ctx); err != nil {
		return Record{}, err
	}

	id, err := reserveID(ctx, s.db)
	if err != nil {
		s.metrics.RecordStoreError(string(KindSaveFailed))
		return Record{}, newSaveError("insert", err)
	}

	now := s.now().UTC()
	rec := Record{
		ID:        id,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.pending.insert(rec)
	s.markDirty()
	s.logger.WithTaskID(rec.ID).Debug("staged insert")

	return rec, nil
}

// Replace stages rec as the new state of an existing record and returns it
// with UpdatedAt stamped. Callers check existence with Lookup first.
func (s *SQLiteStore) Replace(ctx context.Context, rec Record) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureOpenLocked(ctx); err != nil {
		return Record{}, err
	}

	rec.UpdatedAt = s.now().UTC()
	s.pending.replace(rec)
	s.markDirty()
	s.logger.WithTaskID(rec.ID).Debug("staged update")

	return rec, nil
}

// Remove stages the deletion of a record. Callers check existence with
// Lookup first.
func (s *SQLiteStore) Remove(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureOpenLocked(ctx); err != nil {
		return err
	}

	s.pending.remove(id)
	s.markDirty()
	s.logger.WithTaskID(id).Debug("staged delete")

	return nil
}

// markDirty records that staged state differs from the database.
func (s *SQLiteStore) markDirty() {
	s.dirty = true
	s.metrics.SetPendingChanges(s.pending.size())
}

// Dirty reports whether there are changes since the last successful flush.
func (s *SQLiteStore) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

// Pending returns the number of staged row changes.
func (s *SQLiteStore) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending.size()
}

// Flush commits staged changes in one transaction.
//
// A clean store returns immediately without touching the database. On
// failure the staged changes and the dirty flag are kept, so calling Flush
// again retries the same write.
func (s *SQLiteStore) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureOpenLocked(ctx); err != nil {
		return err
	}

	if !s.dirty {
		s.metrics.RecordFlush(telemetry.FlushSkipped, 0)
		return nil
	}

	timer := telemetry.NewTimer()
	if err := s.writePending(ctx); err != nil {
		s.metrics.RecordFlush(telemetry.FlushFailed, timer.Duration())
		s.metrics.RecordStoreError(string(KindSaveFailed))
		return newSaveError("flush", err)
	}

	changes := s.pending.size()
	s.pending.reset()
	s.dirty = false

	s.metrics.RecordFlush(telemetry.FlushWritten, timer.Duration())
	s.metrics.SetPendingChanges(0)
	s.logger.WithField("changes", changes).Debug("flushed")

	return nil
}

// writePending writes deletes, inserts and updates.
func (s *SQLiteStore) writePending(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	for _, id := range s.pending.deletedIDs() {
		if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete task %d: %w", id, err)
		}
	}

	for _, rec := range s.pending.inserted {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO tasks (id, title, created_at, updated_at)
			VALUES (?, ?, ?, ?)
		`,
			rec.ID,
			rec.Title,
			rec.CreatedAt.UnixNano(),
			rec.UpdatedAt.UnixNano(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert task %d: %w", rec.ID, err)
		}
	}

	for _, rec := range s.pending.updatedRecords() {
		_, err := tx.ExecContext(ctx, `
			UPDATE tasks SET title = ?, updated_at = ? WHERE id = ?
		`,
			rec.Title,
			rec.UpdatedAt.UnixNano(),
			rec.ID,
		)
		if err != nil {
			return fmt.Errorf("failed to update task %d: %w", rec.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}

	return nil
}

func (s *SQLiteStore) queryAll(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, created_at, updated_at
		FROM tasks
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}

	return records, nil
}

func (s *SQLiteStore) queryOne(ctx context.Context, id int64) (Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, created_at, updated_at
		FROM tasks
		WHERE id = ?
	`, id)
	return scanRecord(row)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (Record, error) {
	var (
		rec                  Record
		createdAt, updatedAt int64
	)
	if err := row.Scan(&rec.ID, &rec.Title, &createdAt, &updatedAt); err != nil {
		return Record{}, err
	}
	rec.CreatedAt = time.Unix(0, createdAt).UTC()
	rec.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return rec, nil
}

// HealthCheck verifies the database connection.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureOpenLocked(ctx); err != nil {
		return err
	}

	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	return nil
}

// Close closes the database. Unflushed changes are discarded; flush first
// to keep them. Later operations fail with KindOpenFailed until Reopen.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.openErr = newOpenError(errStoreClosed)
	s.pending.reset()
	s.dirty = false
	s.metrics.SetPendingChanges(0)

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
