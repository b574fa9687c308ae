package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/tazhate/calmirror/internal/domain"
)

// === Sync runs ===

// RecordRun stores the history entry of a finished run.
func (s *Storage) RecordRun(ctx context.Context, run domain.RunRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_runs (id, started_at, finished_at, status, created, updated, deleted, skipped, errors, failure)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.StartedAt.UTC(), run.FinishedAt.UTC(), string(run.Status),
		run.Result.Created, run.Result.Updated, run.Result.Deleted, run.Result.Skipped,
		run.ErrorsText(), run.Failure,
	)
	if err != nil {
		return fmt.Errorf("record run %s: %w", run.ID, err)
	}
	return nil
}

// ListRuns returns the latest runs, newest first.
func (s *Storage) ListRuns(ctx context.Context, limit int) ([]domain.RunRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, finished_at, status, created, updated, deleted, skipped, errors, failure
		 FROM sync_runs ORDER BY started_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.RunRecord
	for rows.Next() {
		var (
			run      domain.RunRecord
			status   string
			errs     string
			finished sql.NullTime
		)
		if err := rows.Scan(
			&run.ID, &run.StartedAt, &finished, &status,
			&run.Result.Created, &run.Result.Updated, &run.Result.Deleted, &run.Result.Skipped,
			&errs, &run.Failure,
		); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		run.Status = domain.RunStatus(status)
		if finished.Valid {
			run.FinishedAt = finished.Time
		}
		if errs != "" {
			run.Result.Errors = strings.Split(errs, "\n")
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
