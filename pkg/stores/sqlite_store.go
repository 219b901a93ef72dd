package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/rs/zerolog"

	"github.com/openfroyo/installengine/pkg/actions"
	"github.com/openfroyo/installengine/pkg/engine"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// sequenceTables maps sequence table kinds to their SQL tables.
var sequenceTables = map[engine.TableKind]string{
	engine.TableUI:      "ui_sequence",
	engine.TableExecute: "execute_sequence",
}

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger zerolog.Logger
}

// Config holds SQLite store configuration
type Config struct {
	Path   string
	Logger zerolog.Logger
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	return &SQLiteStore{
		path:   cfg.Path,
		logger: cfg.Logger.With().Str("component", "store").Logger(),
	}, nil
}

// Init opens the database. The store uses a single connection: the session
// is single-threaded and an in-memory database exists per connection.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := s.path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_txlock=immediate"
	if s.path != ":memory:" {
		dsn += "&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
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

	driver, err := migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// BeginTx starts a new transaction
func (s *SQLiteStore) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, nil)
}

// ImportTables replaces the contents of the given sequence tables. Tables not
// present in the map are left untouched.
func (s *SQLiteStore) ImportTables(ctx context.Context, tables map[engine.TableKind][]engine.SequenceEntry) error {
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for kind, entries := range tables {
		table, ok := sequenceTables[kind]
		if !ok {
			return fmt.Errorf("unknown sequence table: %q", kind)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}

		stmt, err := tx.PrepareContext(ctx,
			"INSERT INTO "+table+" (action, condition, sequence) VALUES (?, ?, ?)")
		if err != nil {
			return fmt.Errorf("failed to prepare insert: %w", err)
		}
		for _, e := range entries {
			if err := e.Validate(); err != nil {
				_ = stmt.Close()
				return fmt.Errorf("invalid %s row: %w", table, err)
			}
			if _, err := stmt.ExecContext(ctx, e.Action, e.Condition, e.Sequence); err != nil {
				_ = stmt.Close()
				return fmt.Errorf("failed to insert %s row %s: %w", table, e.Action, err)
			}
		}
		_ = stmt.Close()
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit tables: %w", err)
	}
	return nil
}

// Read yields the positive-sequence rows of table ordered by sequence and
// then by insertion order. A table that cannot be read yields nothing.
func (s *SQLiteStore) Read(ctx context.Context, table engine.TableKind) iter.Seq[engine.SequenceEntry] {
	return s.query(ctx, table, "WHERE sequence > 0 ORDER BY sequence, id")
}

// Lookup yields the rows of table whose sequence equals sequence.
func (s *SQLiteStore) Lookup(ctx context.Context, table engine.TableKind, sequence int) iter.Seq[engine.SequenceEntry] {
	return s.query(ctx, table, "WHERE sequence = ? ORDER BY id", sequence)
}

// query loads every matching row before yielding so the connection is free
// while handlers run.
func (s *SQLiteStore) query(ctx context.Context, kind engine.TableKind, clause string, args ...any) iter.Seq[engine.SequenceEntry] {
	return func(yield func(engine.SequenceEntry) bool) {
		entries, err := s.loadEntries(ctx, kind, clause, args...)
		if err != nil {
			s.logger.Warn().Err(err).Str("table", string(kind)).Msg("Sequence table unavailable")
			return
		}
		for _, e := range entries {
			if ctx.Err() != nil || !yield(e) {
				return
			}
		}
	}
}

func (s *SQLiteStore) loadEntries(ctx context.Context, kind engine.TableKind, clause string, args ...any) ([]engine.SequenceEntry, error) {
	table, ok := sequenceTables[kind]
	if !ok {
		return nil, fmt.Errorf("unknown sequence table: %q", kind)
	}
	if s.db == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	rows, err := s.db.QueryContext(ctx, "SELECT action, condition, sequence FROM "+table+" "+clause, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", table, err)
	}
	defer rows.Close()

	var entries []engine.SequenceEntry
	for rows.Next() {
		var e engine.SequenceEntry
		if err := rows.Scan(&e.Action, &e.Condition, &e.Sequence); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", table, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s: %w", table, err)
	}
	return entries, nil
}

// RecordRun inserts a run or updates the mutable columns of an existing one.
func (s *SQLiteStore) RecordRun(ctx context.Context, run *Run) error {
	query := `
		INSERT INTO runs (id, product, version, product_code, status, ui, result_code, outcome,
			properties, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			result_code = excluded.result_code,
			outcome = excluded.outcome,
			properties = excluded.properties,
			error = excluded.error,
			completed_at = excluded.completed_at
	`

	properties := run.Properties
	if properties == "" {
		properties = "{}"
	}

	_, err := s.db.ExecContext(ctx, query,
		run.ID,
		run.Product,
		run.Version,
		run.ProductCode,
		run.Status,
		run.UI,
		run.ResultCode,
		run.Outcome,
		properties,
		run.Error,
		run.StartedAt,
		run.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}

	return nil
}

const runColumns = `id, product, version, product_code, status, ui, result_code, outcome,
	properties, error, started_at, completed_at`

func scanRun(row interface{ Scan(...any) error }) (*Run, error) {
	run := &Run{}
	err := row.Scan(
		&run.ID,
		&run.Product,
		&run.Version,
		&run.ProductCode,
		&run.Status,
		&run.UI,
		&run.ResultCode,
		&run.Outcome,
		&run.Properties,
		&run.Error,
		&run.StartedAt,
		&run.CompletedAt,
	)
	return run, err
}

// GetRun retrieves a run by ID
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	run, err := scanRun(s.db.QueryRowContext(ctx, "SELECT "+runColumns+" FROM runs WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return run, nil
}

// ListRuns lists runs with pagination, newest first
func (s *SQLiteStore) ListRuns(ctx context.Context, limit, offset int) ([]*Run, error) {
	query := "SELECT " + runColumns + " FROM runs ORDER BY started_at DESC, id LIMIT ? OFFSET ?"

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// DeleteRun deletes a run and its events and operations
func (s *SQLiteStore) DeleteRun(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("run not found: %s", id)
	}

	return nil
}

// AppendActionEvent appends an action event to the log
func (s *SQLiteStore) AppendActionEvent(ctx context.Context, event *ActionEvent) error {
	query := `
		INSERT INTO action_events (run_id, action, phase, result_code, error, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		event.RunID,
		event.Action,
		event.Phase,
		event.ResultCode,
		event.Error,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append action event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get event ID: %w", err)
	}

	event.ID = id
	return nil
}

// ListActionEvents returns the events of a run in the order they were appended
func (s *SQLiteStore) ListActionEvents(ctx context.Context, runID string) ([]*ActionEvent, error) {
	query := `
		SELECT id, run_id, action, phase, result_code, error, timestamp
		FROM action_events
		WHERE run_id = ?
		ORDER BY id
	`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list action events: %w", err)
	}
	defer rows.Close()

	events := []*ActionEvent{}
	for rows.Next() {
		event := &ActionEvent{}
		err := rows.Scan(
			&event.ID,
			&event.RunID,
			&event.Action,
			&event.Phase,
			&event.ResultCode,
			&event.Error,
			&event.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan action event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating action events: %w", err)
	}

	return events, nil
}

// RecordOperations stores the ledger operations of a run in one transaction
func (s *SQLiteStore) RecordOperations(ctx context.Context, runID string, ops []actions.Operation) error {
	if len(ops) == 0 {
		return nil
	}

	tx, err := s.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var b strings.Builder
	b.WriteString("INSERT INTO operations (run_id, action, kind, target, detail, timestamp) VALUES ")
	args := make([]any, 0, len(ops)*6)
	for i, op := range ops {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(?, ?, ?, ?, ?, ?)")
		at := op.At
		if at.IsZero() {
			at = time.Now()
		}
		args = append(args, runID, op.Action, op.Kind, op.Target, op.Detail, at)
	}

	if _, err := tx.ExecContext(ctx, b.String(), args...); err != nil {
		return fmt.Errorf("failed to record operations: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit operations: %w", err)
	}
	return nil
}

// ListOperations returns the operations of a run in order
func (s *SQLiteStore) ListOperations(ctx context.Context, runID string) ([]*OperationRecord, error) {
	query := `
		SELECT id, run_id, action, kind, target, detail, timestamp
		FROM operations
		WHERE run_id = ?
		ORDER BY id
	`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list operations: %w", err)
	}
	defer rows.Close()

	records := []*OperationRecord{}
	for rows.Next() {
		rec := &OperationRecord{}
		err := rows.Scan(
			&rec.ID,
			&rec.RunID,
			&rec.Action,
			&rec.Kind,
			&rec.Target,
			&rec.Detail,
			&rec.At,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan operation: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating operations: %w", err)
	}

	return records, nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}
