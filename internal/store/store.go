package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"loom/internal/config"
	"loom/internal/phase"
	"loom/internal/pipeline"
)

// ErrNotFound indicates no pipeline exists for the requested project.
var ErrNotFound = errors.New("pipeline not found")

// ErrStaleWrite indicates a save based on a stale read. The record on disk
// is left unchanged; the caller may reload and retry.
var ErrStaleWrite = errors.New("stale write")

// Store persists pipeline state in SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the pipeline database.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := cfg.StatePath()
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string { return s.path }

// Create inserts a fresh pipeline aggregate.
func (s *Store) Create(ctx context.Context, state *pipeline.State) error {
	if state == nil {
		return errors.New("state is nil")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertPipeline(ctx, tx, state); err != nil {
		return err
	}
	if err := replacePhases(ctx, tx, state); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create: %w", err)
	}
	return nil
}

// Load fetches the pipeline aggregate for a project along with any ordering
// warnings. Warnings are non-fatal: a damaged record still loads so the
// caller can decide whether to halt.
func (s *Store) Load(ctx context.Context, projectID string) (*pipeline.State, []string, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT project_id, version, current_phase, warnings_json, created_at, updated_at
         FROM pipelines WHERE project_id = ?`, projectID)

	state, err := scanPipeline(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, projectID)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load pipeline: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT name, status, retry_count, blocked_reason, block_history_json,
                exceptions_json, outputs_json, started_at, completed_at
         FROM pipeline_phases WHERE project_id = ? ORDER BY position`, projectID)
	if err != nil {
		return nil, nil, fmt.Errorf("load phases: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		record, err := scanPhase(rows)
		if err != nil {
			return nil, nil, err
		}
		state.Phases = append(state.Phases, record)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	return state, state.Validate(), nil
}

// Save persists the aggregate with a compare-and-swap against base, the
// version the caller loaded. A write whose base no longer matches the row on
// disk fails with ErrStaleWrite and leaves the record untouched. Audit
// entries are appended in the same transaction.
func (s *Store) Save(ctx context.Context, state *pipeline.State, base int64, events ...pipeline.TransitionEvent) error {
	if state == nil {
		return errors.New("state is nil")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	warnings, err := marshalStrings(state.Warnings)
	if err != nil {
		return err
	}
	state.UpdatedAt = time.Now().UTC()
	res, err := tx.ExecContext(ctx,
		`UPDATE pipelines
         SET version = ?, current_phase = ?, warnings_json = ?, updated_at = ?
         WHERE project_id = ? AND version = ?`,
		state.Version,
		nullableString(string(state.CurrentPhase)),
		warnings,
		state.UpdatedAt.Format(time.RFC3339Nano),
		state.ProjectID,
		base,
	)
	if err != nil {
		return fmt.Errorf("update pipeline: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		if exists, existsErr := s.pipelineExists(ctx, state.ProjectID); existsErr == nil && !exists {
			return fmt.Errorf("%w: %s", ErrNotFound, state.ProjectID)
		}
		return fmt.Errorf("%w: project %s at base version %d", ErrStaleWrite, state.ProjectID, base)
	}

	if err := replacePhases(ctx, tx, state); err != nil {
		return err
	}
	for _, event := range events {
		if err := insertEvent(ctx, tx, event); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	return nil
}

// Reset retires the current pipeline and installs a fresh one under a new
// project identifier. The retired record and its transition history are
// preserved for audit.
func (s *Store) Reset(ctx context.Context, projectID string, fresh *pipeline.State) error {
	if fresh == nil {
		return errors.New("fresh state is nil")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reset tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE pipelines SET active = 0, updated_at = ? WHERE project_id = ? AND active = 1`,
		time.Now().UTC().Format(time.RFC3339Nano), projectID)
	if err != nil {
		return fmt.Errorf("retire pipeline: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, projectID)
	}

	if err := insertPipeline(ctx, tx, fresh); err != nil {
		return err
	}
	if err := replacePhases(ctx, tx, fresh); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reset: %w", err)
	}
	return nil
}

// ActiveProject returns the identifier of the most recently updated active
// pipeline.
func (s *Store) ActiveProject(ctx context.Context) (string, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT project_id FROM pipelines WHERE active = 1 ORDER BY updated_at DESC LIMIT 1`)
	var projectID string
	if err := row.Scan(&projectID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("active project: %w", err)
	}
	return projectID, nil
}

// Summary describes a pipeline row for listings.
type Summary struct {
	ProjectID    string
	Version      int64
	CurrentPhase phase.Name
	Active       bool
	UpdatedAt    time.Time
}

// List returns all pipelines, most recently updated first.
func (s *Store) List(ctx context.Context) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT project_id, version, current_phase, active, updated_at
         FROM pipelines ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list pipelines: %w", err)
	}
	defer rows.Close()

	var summaries []Summary
	for rows.Next() {
		var (
			summary    Summary
			current    sql.NullString
			active     int
			updatedRaw string
		)
		if err := rows.Scan(&summary.ProjectID, &summary.Version, &current, &active, &updatedRaw); err != nil {
			return nil, err
		}
		summary.CurrentPhase = phase.Name(current.String)
		summary.Active = active != 0
		if updated, err := parseTimeString(updatedRaw); err == nil {
			summary.UpdatedAt = updated
		}
		summaries = append(summaries, summary)
	}
	return summaries, rows.Err()
}

// History returns the transition log for a project in causal order.
func (s *Store) History(ctx context.Context, projectID string) ([]pipeline.TransitionEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT project_id, from_version, to_version, event_type, phase, next_phase, detail, created_at
         FROM transition_events WHERE project_id = ? ORDER BY id`, projectID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	defer rows.Close()

	var events []pipeline.TransitionEvent
	for rows.Next() {
		var (
			event      pipeline.TransitionEvent
			eventType  string
			phaseName  string
			nextPhase  sql.NullString
			detail     sql.NullString
			createdRaw string
		)
		if err := rows.Scan(&event.ProjectID, &event.FromVersion, &event.ToVersion,
			&eventType, &phaseName, &nextPhase, &detail, &createdRaw); err != nil {
			return nil, err
		}
		event.Type = pipeline.EventType(eventType)
		event.Phase = phase.Name(phaseName)
		event.NextPhase = phase.Name(nextPhase.String)
		event.Detail = detail.String
		if created, err := parseTimeString(createdRaw); err == nil {
			event.Timestamp = created
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// Health captures diagnostic information about the pipeline database.
type Health struct {
	DBPath         string
	IntegrityCheck bool
	Pipelines      int
	Events         int
}

// CheckHealth returns diagnostic information about the database.
func (s *Store) CheckHealth(ctx context.Context) (Health, error) {
	health := Health{DBPath: s.path}

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM pipelines").Scan(&health.Pipelines); err != nil {
		return health, fmt.Errorf("count pipelines: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM transition_events").Scan(&health.Events); err != nil {
		return health, fmt.Errorf("count events: %w", err)
	}

	var integrity string
	if err := s.db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&integrity); err != nil {
		return health, fmt.Errorf("integrity check: %w", err)
	}
	health.IntegrityCheck = integrity == "ok"
	return health, nil
}

func (s *Store) pipelineExists(ctx context.Context, projectID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM pipelines WHERE project_id = ?", projectID).Scan(&count)
	return count > 0, err
}
