package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/openparl/parlingest/internal/store"
)

// RunStore is an in-memory store.RunRepository for development and tests.
type RunStore struct {
	mu   sync.RWMutex
	runs map[string]store.Run
}

// NewRunStore constructs an empty RunStore.
func NewRunStore() *RunStore {
	return &RunStore{runs: make(map[string]store.Run)}
}

// StartRun inserts the running row for a new run.
func (s *RunStore) StartRun(_ context.Context, id, mode string, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[id]; exists {
		return errors.New("run already exists")
	}
	s.runs[id] = store.Run{
		ID:        id,
		Mode:      mode,
		StartedAt: startedAt,
		Status:    store.RunRunning,
	}
	return nil
}

// CompleteRun marks the run finished with its final status and totals.
func (s *RunStore) CompleteRun(
	_ context.Context,
	id string,
	finishedAt time.Time,
	status store.RunStatus,
	totals store.RunTotals,
	errMsg *string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return store.ErrNotFound
	}
	run.FinishedAt = &finishedAt
	run.Status = status
	run.Totals = totals
	run.ErrorMessage = errMsg
	s.runs[id] = run
	return nil
}

// GetRun loads a single run or returns store.ErrNotFound.
func (s *RunStore) GetRun(_ context.Context, id string) (store.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return store.Run{}, store.ErrNotFound
	}
	return copyRun(run), nil
}

// ListRuns returns runs filtered by optional status, most recent first.
func (s *RunStore) ListRuns(_ context.Context, status *store.RunStatus, limit, offset int) ([]store.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matches := make([]store.Run, 0, len(s.runs))
	for _, run := range s.runs {
		if status != nil && run.Status != *status {
			continue
		}
		matches = append(matches, copyRun(run))
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].StartedAt.Equal(matches[j].StartedAt) {
			return matches[i].ID < matches[j].ID
		}
		return matches[i].StartedAt.After(matches[j].StartedAt)
	})

	if limit <= 0 {
		limit = 50
	}
	if offset >= len(matches) {
		return nil, nil
	}
	matches = matches[offset:]
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func copyRun(r store.Run) store.Run {
	out := r
	if r.FinishedAt != nil {
		ts := *r.FinishedAt
		out.FinishedAt = &ts
	}
	if r.ErrorMessage != nil {
		msg := *r.ErrorMessage
		out.ErrorMessage = &msg
	}
	return out
}
