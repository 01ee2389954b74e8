package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openparl/parlingest/internal/progress"
	"github.com/openparl/parlingest/internal/store"
)

// StoreSink persists run lifecycle rows via a store.RunRepository. It
// accumulates per-run totals from file events across batches so the final row
// carries the complete tally.
type StoreSink struct {
	repo   store.RunRepository
	logger *zap.Logger

	mu     sync.Mutex
	totals map[uuid.UUID]store.RunTotals
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.RunRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{
		repo:   repo,
		logger: logger,
		totals: make(map[uuid.UUID]store.RunTotals),
	}
}

// Consume folds file events into run totals and forwards lifecycle changes to
// the repository. It respects ctx deadlines and returns repository errors
// verbatim.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	for _, evt := range batch {
		runID := evt.RunUUID()
		switch evt.Stage {
		case progress.StageRunStart:
			if err := s.repo.StartRun(ctx, runID.String(), evt.Mode, evt.TS); err != nil {
				return fmt.Errorf("start run: %w", err)
			}
		case progress.StageDiscoveryDone:
			s.addDiscovered(runID, evt.Records)
		case progress.StageFileDone:
			s.addFileOutcome(runID, evt)
		case progress.StageRunDone, progress.StageRunError:
			if err := s.completeRun(ctx, runID, evt); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *StoreSink) addDiscovered(runID uuid.UUID, count int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	totals := s.totals[runID]
	totals.Discovered += count
	s.totals[runID] = totals
}

func (s *StoreSink) addFileOutcome(runID uuid.UUID, evt progress.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	totals := s.totals[runID]
	switch evt.Outcome {
	case progress.OutcomeImported:
		totals.Succeeded++
	case progress.OutcomeSkipped:
		totals.Skipped++
	case progress.OutcomeFailed:
		totals.Failed++
	case progress.OutcomeMismatch:
		totals.SchemaMismatches++
	}
	totals.RecordsImported += evt.Records
	s.totals[runID] = totals
}

func (s *StoreSink) completeRun(ctx context.Context, runID uuid.UUID, evt progress.Event) error {
	s.mu.Lock()
	totals := s.totals[runID]
	delete(s.totals, runID)
	s.mu.Unlock()

	status := store.RunSucceeded
	switch {
	case evt.Stage == progress.StageRunError:
		status = store.RunFailed
	case evt.Outcome == progress.OutcomeCanceled:
		status = store.RunCanceled
	}
	var errMsg *string
	if evt.Note != "" {
		errMsg = &evt.Note
	}
	if err := s.repo.CompleteRun(ctx, runID.String(), evt.TS, status, totals, errMsg); err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
