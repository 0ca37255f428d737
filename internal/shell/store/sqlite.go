package store

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
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/artpar/stagehand/internal/core/domain"
	"github.com/artpar/stagehand/internal/core/lifecycle"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// =============================================================================
// Executor Interface - Shared by DB and Transaction
// =============================================================================

// executor abstracts database operations that can be performed on both
// a database connection and a transaction.
type executor interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	NamedExecContext(ctx context.Context, query string, arg any) (sql.Result, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// =============================================================================
// SQLiteStore
// =============================================================================

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store and runs migrations.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite3", dsn+"?_foreign_keys=on")
	if err != nil {
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to open database", ErrConnectionFailed)
	}
	// A single connection serializes writers and keeps :memory: databases
	// shared across calls.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to ping database", ErrConnectionFailed)
	}

	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", err.Error(), ErrMigrationFailed)
	}

	return &SQLiteStore{db: db}, nil
}

// runMigrations runs database migrations using embedded SQL files.
func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// =============================================================================
// Environment Operations
// =============================================================================

// environmentRow represents an environment row in the database.
type environmentRow struct {
	ID           string `db:"id"`
	Name         string `db:"name"`
	Mode         string `db:"mode"`
	ProjectDir   string `db:"project_dir"`
	WorkDir      string `db:"work_dir"`
	ProjectName  string `db:"project_name"`
	ComposeFiles string `db:"compose_files"`
	Phase        string `db:"phase"`
	State        string `db:"state"`
	ErrorMessage string `db:"error_message"`
	CreatedAt    string `db:"created_at"`
	UpdatedAt    string `db:"updated_at"`
}

// CreateEnvironment inserts a new environment. A reused ID is reported as
// ErrDuplicateID even when the name collides too.
func (s *SQLiteStore) CreateEnvironment(ctx context.Context, env *domain.Environment) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return NewStoreError("CreateEnvironment", "environment", env.ID, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	var count int
	if err := tx.GetContext(ctx, &count, `SELECT COUNT(*) FROM environments WHERE id = ?`, env.ID); err != nil {
		return NewStoreError("CreateEnvironment", "environment", env.ID, err.Error(), err)
	}
	if count > 0 {
		return NewStoreError("CreateEnvironment", "environment", env.ID, "environment with this ID already exists", ErrDuplicateID)
	}

	if err := createEnvironment(ctx, tx, env); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return NewStoreError("CreateEnvironment", "environment", env.ID, "failed to commit", err)
	}
	return nil
}

func (s *SQLiteStore) GetEnvironment(ctx context.Context, id string) (*domain.Environment, error) {
	return getEnvironment(ctx, s.db, id)
}

func (s *SQLiteStore) GetEnvironmentByName(ctx context.Context, name string) (*domain.Environment, error) {
	query := `SELECT * FROM environments WHERE name = ?`

	var row environmentRow
	if err := s.db.GetContext(ctx, &row, query, name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetEnvironmentByName", "environment", name, "environment not found", ErrNotFound)
		}
		return nil, NewStoreError("GetEnvironmentByName", "environment", name, err.Error(), err)
	}
	return rowToEnvironment(&row)
}

func (s *SQLiteStore) UpdateEnvironment(ctx context.Context, env *domain.Environment) error {
	return updateEnvironment(ctx, s.db, env)
}

func (s *SQLiteStore) DeleteEnvironment(ctx context.Context, id string) error {
	query := `DELETE FROM environments WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return NewStoreError("DeleteEnvironment", "environment", id, err.Error(), err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return NewStoreError("DeleteEnvironment", "environment", id, "environment not found", ErrNotFound)
	}

	return nil
}

func (s *SQLiteStore) ListEnvironments(ctx context.Context, opts ListOptions) ([]domain.Environment, error) {
	opts = opts.Normalize()
	query := `SELECT * FROM environments ORDER BY created_at DESC, id LIMIT ? OFFSET ?`
	args := []any{opts.Limit, opts.Offset}
	if opts.ActiveOnly {
		query = `SELECT * FROM environments WHERE state NOT IN (?, ?) ORDER BY created_at DESC, id LIMIT ? OFFSET ?`
		args = append([]any{string(lifecycle.StateUninitialized), string(lifecycle.StateTornDown)}, args...)
	}

	var rows []environmentRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, NewStoreError("ListEnvironments", "environment", "", err.Error(), err)
	}

	envs := make([]domain.Environment, 0, len(rows))
	for _, row := range rows {
		env, err := rowToEnvironment(&row)
		if err != nil {
			return nil, err
		}
		envs = append(envs, *env)
	}

	return envs, nil
}

// RecordPhase applies a phase outcome to the environment and appends it to
// the phase history in one transaction.
func (s *SQLiteStore) RecordPhase(ctx context.Context, id string, phase lifecycle.Phase, phaseErr error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return NewStoreError("RecordPhase", "environment", id, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	env, err := getEnvironment(ctx, tx, id)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	env.ApplyPhase(phase, phaseErr, now)
	if err := updateEnvironment(ctx, tx, env); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO phase_events (environment_id, phase, error_message, recorded_at) VALUES (?, ?, ?, ?)`,
		id, string(phase), env.Error, now.Format(time.RFC3339Nano))
	if err != nil {
		return NewStoreError("RecordPhase", "environment", id, err.Error(), err)
	}

	if err := tx.Commit(); err != nil {
		return NewStoreError("RecordPhase", "environment", id, "failed to commit", err)
	}
	return nil
}

type phaseEventRow struct {
	EnvironmentID string `db:"environment_id"`
	Phase         string `db:"phase"`
	ErrorMessage  string `db:"error_message"`
	RecordedAt    string `db:"recorded_at"`
}

// ListPhaseEvents returns the recorded phases of an environment, oldest first.
func (s *SQLiteStore) ListPhaseEvents(ctx context.Context, id string) ([]PhaseEvent, error) {
	query := `SELECT environment_id, phase, error_message, recorded_at FROM phase_events WHERE environment_id = ? ORDER BY id`

	var rows []phaseEventRow
	if err := s.db.SelectContext(ctx, &rows, query, id); err != nil {
		return nil, NewStoreError("ListPhaseEvents", "environment", id, err.Error(), err)
	}

	events := make([]PhaseEvent, 0, len(rows))
	for _, row := range rows {
		recordedAt, _ := time.Parse(time.RFC3339Nano, row.RecordedAt)
		events = append(events, PhaseEvent{
			EnvironmentID: row.EnvironmentID,
			Phase:         lifecycle.Phase(row.Phase),
			Error:         row.ErrorMessage,
			RecordedAt:    recordedAt,
		})
	}
	return events, nil
}

func createEnvironment(ctx context.Context, exec executor, env *domain.Environment) error {
	filesJSON, err := json.Marshal(env.ComposeFiles)
	if err != nil {
		return NewStoreError("CreateEnvironment", "environment", env.ID, "failed to serialize compose files", ErrInvalidData)
	}

	query := `
		INSERT INTO environments (
			id, name, mode, project_dir, work_dir, project_name, compose_files,
			phase, state, error_message, created_at, updated_at
		) VALUES (
			:id, :name, :mode, :project_dir, :work_dir, :project_name, :compose_files,
			:phase, :state, :error_message, :created_at, :updated_at
		)`

	_, err = exec.NamedExecContext(ctx, query, environmentToRow(env, string(filesJSON)))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: environments.id") {
			return NewStoreError("CreateEnvironment", "environment", env.ID, "environment with this ID already exists", ErrDuplicateID)
		}
		if strings.Contains(err.Error(), "UNIQUE constraint failed: environments.name") {
			return NewStoreError("CreateEnvironment", "environment", env.ID, "environment name "+env.Name+" is taken", ErrDuplicateName)
		}
		return NewStoreError("CreateEnvironment", "environment", env.ID, err.Error(), err)
	}

	return nil
}

func getEnvironment(ctx context.Context, exec executor, id string) (*domain.Environment, error) {
	query := `SELECT * FROM environments WHERE id = ?`

	var row environmentRow
	if err := exec.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetEnvironment", "environment", id, "environment not found", ErrNotFound)
		}
		return nil, NewStoreError("GetEnvironment", "environment", id, err.Error(), err)
	}

	return rowToEnvironment(&row)
}

func updateEnvironment(ctx context.Context, exec executor, env *domain.Environment) error {
	filesJSON, err := json.Marshal(env.ComposeFiles)
	if err != nil {
		return NewStoreError("UpdateEnvironment", "environment", env.ID, "failed to serialize compose files", ErrInvalidData)
	}

	query := `
		UPDATE environments SET
			name = :name,
			mode = :mode,
			project_dir = :project_dir,
			work_dir = :work_dir,
			project_name = :project_name,
			compose_files = :compose_files,
			phase = :phase,
			state = :state,
			error_message = :error_message,
			updated_at = :updated_at
		WHERE id = :id`

	result, err := exec.NamedExecContext(ctx, query, environmentToRow(env, string(filesJSON)))
	if err != nil {
		return NewStoreError("UpdateEnvironment", "environment", env.ID, err.Error(), err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return NewStoreError("UpdateEnvironment", "environment", env.ID, "environment not found", ErrNotFound)
	}

	return nil
}

// =============================================================================
// Row Conversion Functions
// =============================================================================

func environmentToRow(env *domain.Environment, filesJSON string) map[string]any {
	return map[string]any{
		"id":            env.ID,
		"name":          env.Name,
		"mode":          string(env.Mode),
		"project_dir":   env.ProjectDir,
		"work_dir":      env.WorkDir,
		"project_name":  env.ProjectName,
		"compose_files": filesJSON,
		"phase":         string(env.Phase),
		"state":         string(env.State),
		"error_message": env.Error,
		"created_at":    env.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updated_at":    env.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// rowToEnvironment converts a database row to a domain.Environment.
func rowToEnvironment(row *environmentRow) (*domain.Environment, error) {
	createdAt, _ := time.Parse(time.RFC3339Nano, row.CreatedAt)
	updatedAt, _ := time.Parse(time.RFC3339Nano, row.UpdatedAt)

	var files []string
	if row.ComposeFiles != "" {
		if err := json.Unmarshal([]byte(row.ComposeFiles), &files); err != nil {
			return nil, NewStoreError("rowToEnvironment", "environment", row.ID, "failed to parse compose files", ErrInvalidData)
		}
	}

	return &domain.Environment{
		ID:           row.ID,
		Name:         row.Name,
		Mode:         domain.Mode(row.Mode),
		ProjectDir:   row.ProjectDir,
		WorkDir:      row.WorkDir,
		ProjectName:  row.ProjectName,
		ComposeFiles: files,
		Phase:        lifecycle.Phase(row.Phase),
		State:        lifecycle.State(row.State),
		Error:        row.ErrorMessage,
		CreatedAt:    createdAt,
		UpdatedAt:    updatedAt,
	}, nil
}
