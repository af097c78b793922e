package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/dataxchange/dxp/pkg/engine"
	"github.com/dataxchange/dxp/pkg/providers"
	"github.com/dataxchange/dxp/pkg/record"
	"github.com/dataxchange/dxp/pkg/telemetry"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db   *sql.DB
	path string
	cfg  Config
}

var _ Store = (*SQLiteStore)(nil)

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

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

	// Every connection to :memory: opens its own database.
	if cfg.Path == ":memory:" {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = -1
	}

	return &SQLiteStore{
		path: cfg.Path,
		cfg:  cfg,
	}, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

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

// WithTx runs fn in a serializable transaction. The transaction is rolled
// back when fn returns an error or panics.
func (s *SQLiteStore) WithTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// SaveRun inserts the run or updates its status, timing and error.
func (s *SQLiteStore) SaveRun(ctx context.Context, run *engine.RunReport) error {
	query := `
		INSERT INTO runs (id, kind, package, status, started_at, completed_at, duration_ms, error, context, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			completed_at = excluded.completed_at,
			duration_ms = excluded.duration_ms,
			error = excluded.error,
			context = excluded.context,
			updated_at = excluded.updated_at
	`

	var runCtx *string
	if len(run.Context) > 0 {
		data, err := json.Marshal(run.Context)
		if err != nil {
			return fmt.Errorf("failed to encode run context: %w", err)
		}
		encoded := string(data)
		runCtx = &encoded
	}

	now := time.Now()
	_, err := s.db.ExecContext(ctx, query,
		run.ID,
		run.Kind,
		run.Package,
		string(run.Status),
		run.StartedAt,
		run.CompletedAt,
		run.Duration.Milliseconds(),
		nullString(run.Error),
		runCtx,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}

	return nil
}

// GetRun retrieves a run by ID together with its action outcomes
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	query := `
		SELECT id, kind, package, status, started_at, completed_at, duration_ms, error, context, created_at, updated_at
		FROM runs
		WHERE id = ?
	`

	run, err := scanRun(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	run.Outcomes, err = s.ListOutcomes(ctx, id)
	if err != nil {
		return nil, err
	}

	return run, nil
}

// ListRuns retrieves runs with pagination, most recent first
func (s *SQLiteStore) ListRuns(ctx context.Context, limit, offset int) ([]*Run, error) {
	query := `
		SELECT id, kind, package, status, started_at, completed_at, duration_ms, error, context, created_at, updated_at
		FROM runs
		ORDER BY started_at DESC, created_at DESC
		LIMIT ? OFFSET ?
	`

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

// DeleteRun deletes a run with its outcomes, events and records.
func (s *SQLiteStore) DeleteRun(ctx context.Context, id string) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, "DELETE FROM runs WHERE id = ?", id)
		if err != nil {
			return fmt.Errorf("failed to delete run: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return fmt.Errorf("run not found: %s", id)
		}

		for _, table := range []string{"events", "records"} {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE run_id = ?", id); err != nil {
				return fmt.Errorf("failed to delete run %s: %w", table, err)
			}
		}
		return nil
	})
}

// SaveOutcome inserts or replaces the outcome of one action of a run
func (s *SQLiteStore) SaveOutcome(ctx context.Context, runID string, outcome *engine.ActionOutcome) error {
	query := `
		INSERT INTO action_outcomes (
			run_id, action, provider, status, started_at, completed_at, duration_ms, rows_read, records, failed_rows, error
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, action) DO UPDATE SET
			provider = excluded.provider,
			status = excluded.status,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at,
			duration_ms = excluded.duration_ms,
			rows_read = excluded.rows_read,
			records = excluded.records,
			failed_rows = excluded.failed_rows,
			error = excluded.error
	`

	_, err := s.db.ExecContext(ctx, query,
		runID,
		outcome.Action,
		outcome.Provider,
		string(outcome.Status),
		nullTime(outcome.StartedAt),
		nullTime(outcome.CompletedAt),
		outcome.Duration.Milliseconds(),
		outcome.Stats.Rows,
		outcome.Stats.Records,
		outcome.Stats.Failed,
		nullString(outcome.Error),
	)
	if err != nil {
		return fmt.Errorf("failed to save outcome: %w", err)
	}

	return nil
}

// ListOutcomes retrieves the action outcomes of a run in the order they were saved
func (s *SQLiteStore) ListOutcomes(ctx context.Context, runID string) ([]*Outcome, error) {
	query := `
		SELECT id, run_id, action, provider, status, started_at, completed_at, duration_ms, rows_read, records, failed_rows, error
		FROM action_outcomes
		WHERE run_id = ?
		ORDER BY id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list outcomes: %w", err)
	}
	defer rows.Close()

	outcomes := []*Outcome{}
	for rows.Next() {
		o := &Outcome{}
		err := rows.Scan(
			&o.ID,
			&o.RunID,
			&o.Action,
			&o.Provider,
			&o.Status,
			&o.StartedAt,
			&o.CompletedAt,
			&o.DurationMS,
			&o.Rows,
			&o.Records,
			&o.FailedRows,
			&o.Error,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan outcome: %w", err)
		}
		outcomes = append(outcomes, o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating outcomes: %w", err)
	}

	return outcomes, nil
}

// AppendEvent appends a new event to the log
func (s *SQLiteStore) AppendEvent(ctx context.Context, event *Event) error {
	query := `
		INSERT INTO events (run_id, action, type, level, message, details, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	result, err := s.db.ExecContext(ctx, query,
		event.RunID,
		event.Action,
		event.Type,
		event.Level,
		event.Message,
		event.Details,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get event ID: %w", err)
	}

	event.ID = id
	return nil
}

// GetEvents retrieves events with optional filters and pagination
func (s *SQLiteStore) GetEvents(ctx context.Context, filter EventFilter) ([]*Event, error) {
	query := `
		SELECT id, run_id, action, type, level, message, details, timestamp
		FROM events
		WHERE (? IS NULL OR run_id = ?)
		  AND (? IS NULL OR action = ?)
		  AND (? IS NULL OR level = ?)
		ORDER BY timestamp DESC, id DESC
		LIMIT ? OFFSET ?
	`

	limit := filter.Limit
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, query,
		filter.RunID, filter.RunID,
		filter.Action, filter.Action,
		filter.Level, filter.Level,
		limit, filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	defer rows.Close()

	events := []*Event{}
	for rows.Next() {
		event := &Event{}
		err := rows.Scan(
			&event.ID,
			&event.RunID,
			&event.Action,
			&event.Type,
			&event.Level,
			&event.Message,
			&event.Details,
			&event.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}

// EventSubscriber returns a telemetry subscriber that appends every
// published event to the log. Failures are reported to onError, which may
// be nil.
func (s *SQLiteStore) EventSubscriber(ctx context.Context, onError func(error)) telemetry.EventSubscriber {
	return func(ev telemetry.Event) {
		stored := &Event{
			RunID:     nullString(ev.RunID),
			Action:    nullString(ev.Action),
			Type:      ev.Type,
			Level:     EventLevel(ev.Level),
			Message:   ev.Message,
			Timestamp: ev.Timestamp,
		}
		if len(ev.Data) > 0 {
			if data, err := json.Marshal(ev.Data); err == nil {
				details := string(data)
				stored.Details = &details
			}
		}
		if err := s.AppendEvent(ctx, stored); err != nil && onError != nil {
			onError(err)
		}
	}
}

// Put stores a record produced by an import provider
func (s *SQLiteStore) Put(ctx context.Context, rec *providers.Record) error {
	query := `
		INSERT INTO records (run_id, action, subject, key, parent, fields, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	var fields *string
	if rec.Fields != nil {
		data, err := json.Marshal(rec.Fields)
		if err != nil {
			return fmt.Errorf("failed to encode record fields: %w", err)
		}
		encoded := string(data)
		fields = &encoded
	}

	_, err := s.db.ExecContext(ctx, query,
		rec.RunID,
		rec.Action,
		strings.ToLower(rec.Subject),
		rec.Key,
		rec.Parent,
		fields,
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to put record: %w", err)
	}

	return nil
}

// Records lists stored records in insertion order
func (s *SQLiteStore) Records(ctx context.Context, q providers.RecordQuery) ([]*providers.Record, error) {
	if q.Subject == "" {
		return nil, fmt.Errorf("record subject is required")
	}

	var runID *string
	switch {
	case q.RunID != "":
		runID = &q.RunID
	case q.Latest:
		var latest string
		err := s.db.QueryRowContext(ctx,
			"SELECT run_id FROM records WHERE subject = ? ORDER BY id DESC LIMIT 1",
			q.Subject,
		).Scan(&latest)
		if errors.Is(err, sql.ErrNoRows) {
			return []*providers.Record{}, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to find latest run: %w", err)
		}
		runID = &latest
	}

	query := `
		SELECT run_id, action, subject, key, parent, fields, created_at
		FROM records
		WHERE subject = ?
		  AND (? IS NULL OR run_id = ?)
		ORDER BY id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, q.Subject, runID, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	records := []*providers.Record{}
	for rows.Next() {
		rec := &providers.Record{}
		var fields *string
		err := rows.Scan(
			&rec.RunID,
			&rec.Action,
			&rec.Subject,
			&rec.Key,
			&rec.Parent,
			&fields,
			&rec.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		if fields != nil {
			rec.Fields = record.New()
			if err := json.Unmarshal([]byte(*fields), rec.Fields); err != nil {
				return nil, fmt.Errorf("failed to decode record fields: %w", err)
			}
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
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

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*Run, error) {
	run := &Run{}
	err := row.Scan(
		&run.ID,
		&run.Kind,
		&run.Package,
		&run.Status,
		&run.StartedAt,
		&run.CompletedAt,
		&run.DurationMS,
		&run.Error,
		&run.Context,
		&run.CreatedAt,
		&run.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return run, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
