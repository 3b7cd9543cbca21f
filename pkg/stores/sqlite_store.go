package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements the Journal interface using SQLite
type SQLiteStore struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// Config holds SQLite store configuration
type Config struct {
	Path string
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	return &SQLiteStore{
		path: cfg.Path,
		now:  time.Now,
	}, nil
}

// Open creates, initializes and migrates a store at path.
func Open(ctx context.Context, path string) (*SQLiteStore, error) {
	s, err := NewSQLiteStore(Config{Path: path})
	if err != nil {
		return nil, err
	}
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// One writer per process; concurrent magebox invocations rely on the
	// busy timeout.
	db.SetMaxOpenConns(1)

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

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
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

// StartRun creates a new run record
func (s *SQLiteStore) StartRun(ctx context.Context, command, root string) (*Run, error) {
	run := &Run{
		ID:        uuid.NewString(),
		Command:   command,
		Root:      root,
		Status:    RunStatusRunning,
		StartedAt: s.now().UTC(),
	}

	query := `
		INSERT INTO runs (id, command, root, status, started_at)
		VALUES (?, ?, ?, ?, ?)
	`
	if _, err := s.db.ExecContext(ctx, query, run.ID, run.Command, run.Root, run.Status, run.StartedAt); err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	return run, nil
}

// FinishRun updates the status of a run
func (s *SQLiteStore) FinishRun(ctx context.Context, id string, status RunStatus, runErr error) error {
	if !status.Terminal() {
		return fmt.Errorf("status %s does not end a run", status)
	}

	var errMsg *string
	if runErr != nil {
		msg := runErr.Error()
		errMsg = &msg
	}

	query := `
		UPDATE runs
		SET status = ?, error = ?, completed_at = ?
		WHERE id = ?
	`
	result, err := s.db.ExecContext(ctx, query, status, errMsg, s.now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update run status: %w", err)
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	run := &Run{}
	var completedAt sql.NullTime
	var errMsg sql.NullString
	if err := row.Scan(&run.ID, &run.Command, &run.Root, &run.Status, &run.StartedAt, &completedAt, &errMsg); err != nil {
		return nil, err
	}
	if completedAt.Valid {
		t := completedAt.Time
		run.CompletedAt = &t
	}
	if errMsg.Valid {
		run.Error = &errMsg.String
	}
	return run, nil
}

// GetRun retrieves a run by ID
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	query := `
		SELECT id, command, root, status, started_at, completed_at, error
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

	return run, nil
}

// ListRuns lists runs with pagination, most recent first
func (s *SQLiteStore) ListRuns(ctx context.Context, limit, offset int) ([]*Run, error) {
	query := `
		SELECT id, command, root, status, started_at, completed_at, error
		FROM runs
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
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

// RecordOperation appends an operation to its run
func (s *SQLiteStore) RecordOperation(ctx context.Context, op *Operation) error {
	if op.RecordedAt.IsZero() {
		op.RecordedAt = s.now().UTC()
	}

	query := `
		INSERT INTO operations (run_id, name, status, exit_code, completed, total, duration_ms, error, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query,
		op.RunID,
		op.Name,
		op.Status,
		op.ExitCode,
		op.Completed,
		op.Total,
		op.Duration.Milliseconds(),
		op.Error,
		op.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record operation: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get operation id: %w", err)
	}
	op.ID = id

	return nil
}

// ListOperations lists the operations of a run in recording order
func (s *SQLiteStore) ListOperations(ctx context.Context, runID string) ([]*Operation, error) {
	query := `
		SELECT id, run_id, name, status, exit_code, completed, total, duration_ms, error, recorded_at
		FROM operations
		WHERE run_id = ?
		ORDER BY id
	`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list operations: %w", err)
	}
	defer rows.Close()

	var ops []*Operation
	for rows.Next() {
		op := &Operation{}
		var durationMS int64
		var errMsg sql.NullString
		if err := rows.Scan(&op.ID, &op.RunID, &op.Name, &op.Status, &op.ExitCode, &op.Completed, &op.Total, &durationMS, &errMsg, &op.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan operation: %w", err)
		}
		op.Duration = time.Duration(durationMS) * time.Millisecond
		if errMsg.Valid {
			op.Error = &errMsg.String
		}
		ops = append(ops, op)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating operations: %w", err)
	}

	return ops, nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}

// Discard is a Journal that records nothing. It is used when the journal is
// disabled or cannot be opened.
type Discard struct{}

func (Discard) StartRun(_ context.Context, command, root string) (*Run, error) {
	return &Run{ID: uuid.NewString(), Command: command, Root: root, Status: RunStatusRunning, StartedAt: time.Now().UTC()}, nil
}

func (Discard) FinishRun(context.Context, string, RunStatus, error) error    { return nil }
func (Discard) GetRun(_ context.Context, id string) (*Run, error)            { return nil, fmt.Errorf("run not found: %s", id) }
func (Discard) ListRuns(context.Context, int, int) ([]*Run, error)           { return nil, nil }
func (Discard) RecordOperation(context.Context, *Operation) error            { return nil }
func (Discard) ListOperations(context.Context, string) ([]*Operation, error) { return nil, nil }
func (Discard) Close() error                                                 { return nil }

var (
	_ Journal = (*SQLiteStore)(nil)
	_ Journal = Discard{}
)
