package memory

import (
	"context"
	"sync"

	"github.com/openparl/parlingest/internal/entity"
)

// EntityStore is an in-memory store.EntityWriter. Batches are kept whole so
// tests can inspect exactly what an import produced; runs without a database
// use it to exercise the full pipeline against throwaway state.
type EntityStore struct {
	mu      sync.RWMutex
	batches []entity.Batch
	rows    int
}

// NewEntityStore constructs an empty EntityStore.
func NewEntityStore() *EntityStore {
	return &EntityStore{}
}

// ApplyBatch records the batch. Empty batches are dropped, matching the
// relational writer which skips the transaction entirely.
func (s *EntityStore) ApplyBatch(_ context.Context, batch entity.Batch) error {
	if batch.Empty() {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.batches = append(s.batches, batch)
	s.rows += batch.Count()
	return nil
}

// Batches returns a copy of every applied batch in application order.
func (s *EntityStore) Batches() []entity.Batch {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]entity.Batch(nil), s.batches...)
}

// RowsApplied returns the total row count across all applied batches.
func (s *EntityStore) RowsApplied() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rows
}
