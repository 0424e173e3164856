package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Run statuses recorded in research_runs.status.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// The transcript store is write-only: runs are recorded for operators and
// never read back into a research request.

func (db *PostgresDB) CreateRun(ctx context.Context, id uuid.UUID, question, languagePreference string) error {
	query := `
		INSERT INTO research_runs (id, question, language_preference, status)
		VALUES ($1, $2, NULLIF($3, ''), $4)
	`
	if _, err := db.Pool.Exec(ctx, query, id, question, languagePreference, StatusRunning); err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

func (db *PostgresDB) UpdateRunState(ctx context.Context, id uuid.UUID, state json.RawMessage) error {
	_, err := db.Pool.Exec(ctx,
		"UPDATE research_runs SET state = $2, updated_at = NOW() WHERE id = $1",
		id, state)
	if err != nil {
		return fmt.Errorf("failed to save run state: %w", err)
	}
	return nil
}

// FinishRun records the terminal status. report is empty for failed runs.
func (db *PostgresDB) FinishRun(ctx context.Context, id uuid.UUID, status, report, errMsg string) error {
	_, err := db.Pool.Exec(ctx,
		"UPDATE research_runs SET status = $2, report = NULLIF($3, ''), error = NULLIF($4, ''), updated_at = NOW() WHERE id = $1",
		id, status, report, errMsg)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	return nil
}

func (db *PostgresDB) InsertLog(ctx context.Context, runID uuid.UUID, ts time.Time, level, message string, metadata []byte) error {
	query := `
		INSERT INTO research_logs (run_id, timestamp, level, message, metadata)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := db.Pool.Exec(ctx, query, runID, ts, level, message, metadata); err != nil {
		return fmt.Errorf("failed to insert log: %w", err)
	}
	return nil
}
