package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"loom/internal/phase"
	"loom/internal/pipeline"
)

func insertPipeline(ctx context.Context, tx *sql.Tx, state *pipeline.State) error {
	warnings, err := marshalStrings(state.Warnings)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO pipelines (project_id, version, current_phase, warnings_json, active, created_at, updated_at)
         VALUES (?, ?, ?, ?, 1, ?, ?)`,
		state.ProjectID,
		state.Version,
		nullableString(string(state.CurrentPhase)),
		warnings,
		state.CreatedAt.Format(time.RFC3339Nano),
		state.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert pipeline: %w", err)
	}
	return nil
}

func replacePhases(ctx context.Context, tx *sql.Tx, state *pipeline.State) error {
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM pipeline_phases WHERE project_id = ?`, state.ProjectID); err != nil {
		return fmt.Errorf("clear phases: %w", err)
	}
	for i, record := range state.Phases {
		blockHistory, err := marshalStrings(record.BlockHistory)
		if err != nil {
			return err
		}
		exceptions, err := marshalStrings(record.Exceptions)
		if err != nil {
			return err
		}
		outputs, err := marshalOutputs(record.Outputs)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO pipeline_phases (
                project_id, position, name, status, retry_count, blocked_reason,
                block_history_json, exceptions_json, outputs_json, started_at, completed_at
             ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			state.ProjectID,
			i,
			string(record.Name),
			string(record.Status),
			record.RetryCount,
			nullableString(record.BlockedReason),
			blockHistory,
			exceptions,
			outputs,
			nullableTime(record.StartedAt),
			nullableTime(record.CompletedAt),
		)
		if err != nil {
			return fmt.Errorf("insert phase %s: %w", record.Name, err)
		}
	}
	return nil
}

func insertEvent(ctx context.Context, tx *sql.Tx, event pipeline.TransitionEvent) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO transition_events (
            project_id, from_version, to_version, event_type, phase, next_phase, detail, created_at
         ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ProjectID,
		event.FromVersion,
		event.ToVersion,
		string(event.Type),
		string(event.Phase),
		nullableString(string(event.NextPhase)),
		nullableString(event.Detail),
		event.Timestamp.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert transition event: %w", err)
	}
	return nil
}

func scanPipeline(row *sql.Row) (*pipeline.State, error) {
	var (
		state      pipeline.State
		current    sql.NullString
		warnings   sql.NullString
		createdRaw string
		updatedRaw string
	)
	if err := row.Scan(&state.ProjectID, &state.Version, &current, &warnings, &createdRaw, &updatedRaw); err != nil {
		return nil, err
	}
	state.CurrentPhase = phase.Name(current.String)
	if warnings.Valid {
		parsed, err := unmarshalStrings(warnings.String)
		if err != nil {
			return nil, fmt.Errorf("decode warnings: %w", err)
		}
		state.Warnings = parsed
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		state.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		state.UpdatedAt = updated
	}
	return &state, nil
}

func scanPhase(rows *sql.Rows) (pipeline.PhaseRecord, error) {
	var (
		record        pipeline.PhaseRecord
		name          string
		status        string
		blockedReason sql.NullString
		blockHistory  sql.NullString
		exceptions    sql.NullString
		outputs       sql.NullString
		startedRaw    sql.NullString
		completedRaw  sql.NullString
	)
	if err := rows.Scan(&name, &status, &record.RetryCount, &blockedReason,
		&blockHistory, &exceptions, &outputs, &startedRaw, &completedRaw); err != nil {
		return record, fmt.Errorf("scan phase: %w", err)
	}
	record.Name = phase.Name(name)
	record.Status = pipeline.Status(status)
	record.BlockedReason = blockedReason.String
	if blockHistory.Valid {
		parsed, err := unmarshalStrings(blockHistory.String)
		if err != nil {
			return record, fmt.Errorf("decode block history: %w", err)
		}
		record.BlockHistory = parsed
	}
	if exceptions.Valid {
		parsed, err := unmarshalStrings(exceptions.String)
		if err != nil {
			return record, fmt.Errorf("decode exceptions: %w", err)
		}
		record.Exceptions = parsed
	}
	if outputs.Valid && outputs.String != "" {
		if err := json.Unmarshal([]byte(outputs.String), &record.Outputs); err != nil {
			return record, fmt.Errorf("decode outputs: %w", err)
		}
	}
	if startedRaw.Valid {
		if started, err := parseTimeString(startedRaw.String); err == nil {
			record.StartedAt = &started
		}
	}
	if completedRaw.Valid {
		if completed, err := parseTimeString(completedRaw.String); err == nil {
			record.CompletedAt = &completed
		}
	}
	return record, nil
}

func marshalStrings(values []string) (any, error) {
	if len(values) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(values)
	if err != nil {
		return nil, fmt.Errorf("marshal string list: %w", err)
	}
	return string(data), nil
}

func unmarshalStrings(raw string) ([]string, error) {
	if raw == "" {
		return nil, nil
	}
	var values []string
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil, err
	}
	return values, nil
}

func marshalOutputs(refs []pipeline.ArtifactRef) (any, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(refs)
	if err != nil {
		return nil, fmt.Errorf("marshal outputs: %w", err)
	}
	return string(data), nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC().Format(time.RFC3339Nano)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	return time.Parse(time.RFC3339Nano, value)
}
