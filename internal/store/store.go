// Package store declares the persistence interfaces for pipeline runs and
// extracted entity rows. Implementations live under internal/storage.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/openparl/parlingest/internal/entity"
)

// ErrNotFound signals that the requested run does not exist.
var ErrNotFound = errors.New("run record not found")

// RunStatus mirrors the pipeline_runs status column.
type RunStatus string

// Run statuses persisted in pipeline_runs.status.
const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	RunCanceled  RunStatus = "canceled"
)

// ParseRunStatus validates an external status label.
func ParseRunStatus(raw string) (RunStatus, bool) {
	switch RunStatus(raw) {
	case RunRunning, RunSucceeded, RunFailed, RunCanceled:
		return RunStatus(raw), true
	default:
		return "", false
	}
}

// RunTotals aggregates what one run accomplished.
type RunTotals struct {
	Discovered       int64
	Succeeded        int64
	Skipped          int64
	Failed           int64
	SchemaMismatches int64
	RecordsImported  int64
}

// Run models the pipeline_runs table for API responses.
type Run struct {
	// ID is the UUIDv7 minted when the run starts.
	ID string
	// Mode is the operating mode label (full, discover, import, retry).
	Mode string
	// StartedAt captures when the run was first marked running.
	StartedAt time.Time
	// FinishedAt is nil until the run reaches a terminal status.
	FinishedAt *time.Time
	Status     RunStatus
	Totals     RunTotals
	// ErrorMessage optionally stores the final failure reason.
	ErrorMessage *string
}

// RunRepository persists run lifecycle rows.
type RunRepository interface {
	// StartRun inserts the running row for a new run.
	StartRun(ctx context.Context, id, mode string, startedAt time.Time) error
	// CompleteRun marks the run finished with its final status and totals.
	CompleteRun(ctx context.Context, id string, finishedAt time.Time, status RunStatus, totals RunTotals, errMsg *string) error
	// GetRun loads a single run or returns ErrNotFound.
	GetRun(ctx context.Context, id string) (Run, error)
	// ListRuns returns runs filtered by optional status plus limit/offset.
	ListRuns(ctx context.Context, status *RunStatus, limit, offset int) ([]Run, error)
}

// EntityWriter applies one file's extracted rows. ApplyBatch must be atomic:
// either every row in the batch lands or none do.
type EntityWriter interface {
	ApplyBatch(ctx context.Context, batch entity.Batch) error
}
