package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/openparl/parlingest/internal/store"
)

// RunStore implements store.RunRepository on Postgres.
type RunStore struct {
	pool PoolIface
}

// NewRunStore wraps an existing pool.
func NewRunStore(pool PoolIface) (*RunStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &RunStore{pool: pool}, nil
}

// StartRun inserts the running row for a new run.
func (s *RunStore) StartRun(ctx context.Context, id, mode string, startedAt time.Time) error {
	query := `
		INSERT INTO pipeline_runs (id, mode, started_at, status)
		VALUES ($1, $2, $3, 'running');
	`
	if _, err := s.pool.Exec(ctx, query, id, mode, startedAt); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// CompleteRun marks the run finished with its final status and totals.
func (s *RunStore) CompleteRun(
	ctx context.Context,
	id string,
	finishedAt time.Time,
	status store.RunStatus,
	totals store.RunTotals,
	errMsg *string,
) error {
	query := `
		UPDATE pipeline_runs
		SET finished_at = $2,
			status = $3,
			discovered = $4,
			succeeded = $5,
			skipped = $6,
			failed = $7,
			schema_mismatches = $8,
			records_imported = $9,
			error_message = $10
		WHERE id = $1;
	`
	tag, err := s.pool.Exec(ctx, query,
		id,
		finishedAt,
		status,
		totals.Discovered,
		totals.Succeeded,
		totals.Skipped,
		totals.Failed,
		totals.SchemaMismatches,
		totals.RecordsImported,
		errMsg,
	)
	if err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

const runColumns = `id, mode, started_at, finished_at, status, discovered,
	succeeded, skipped, failed, schema_mismatches, records_imported, error_message`

// GetRun loads a single run or returns store.ErrNotFound.
func (s *RunStore) GetRun(ctx context.Context, id string) (store.Run, error) {
	query := `SELECT ` + runColumns + ` FROM pipeline_runs WHERE id = $1;`
	run, err := scanRun(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Run{}, store.ErrNotFound
		}
		return store.Run{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// ListRuns returns runs filtered by optional status, most recent first.
func (s *RunStore) ListRuns(ctx context.Context, status *store.RunStatus, limit, offset int) ([]store.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + runColumns + `
		FROM pipeline_runs
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3;`
	rows, err := s.pool.Query(ctx, query, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []store.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

func scanRun(row pgx.Row) (store.Run, error) {
	var run store.Run
	err := row.Scan(
		&run.ID,
		&run.Mode,
		&run.StartedAt,
		&run.FinishedAt,
		&run.Status,
		&run.Totals.Discovered,
		&run.Totals.Succeeded,
		&run.Totals.Skipped,
		&run.Totals.Failed,
		&run.Totals.SchemaMismatches,
		&run.Totals.RecordsImported,
		&run.ErrorMessage,
	)
	if err != nil {
		return store.Run{}, err
	}
	return run, nil
}
