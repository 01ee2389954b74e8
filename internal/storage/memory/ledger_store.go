package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/openparl/parlingest/internal/ledger"
)

// LedgerStore is an in-memory ledger.Repository for development and tests.
type LedgerStore struct {
	mu   sync.RWMutex
	rows map[string]ledger.Record
}

// NewLedgerStore constructs an empty LedgerStore.
func NewLedgerStore() *LedgerStore {
	return &LedgerStore{rows: make(map[string]ledger.Record)}
}

// UpsertPending registers a discovered file, keeping status and import
// history for known URLs.
func (s *LedgerStore) UpsertPending(_ context.Context, rec ledger.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := rec.UpdatedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}

	existing, ok := s.rows[rec.URL]
	if !ok {
		rec.Status = ledger.StatusPending
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = now
		}
		rec.UpdatedAt = now
		s.rows[rec.URL] = copyRecord(rec)
		return nil
	}

	existing.DisplayName = rec.DisplayName
	existing.LogicalType = rec.LogicalType
	existing.Category = rec.Category
	existing.Legislature = rec.Legislature
	existing.SubSeries = rec.SubSeries
	existing.Session = rec.Session
	existing.Number = rec.Number
	existing.UpdatedAt = now
	s.rows[rec.URL] = existing
	return nil
}

// Claim moves a claimable row into processing and returns its prior state.
func (s *LedgerStore) Claim(_ context.Context, url string, at time.Time) (ledger.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[url]
	if !ok || !row.Status.Claimable() {
		return ledger.Record{}, false, nil
	}

	prior := copyRecord(row)
	row.Status = ledger.StatusProcessing
	started := at
	row.ProcessingStartedAt = &started
	row.ProcessingCompletedAt = nil
	row.UpdatedAt = at
	s.rows[url] = row
	return prior, true, nil
}

// Complete finalizes the row for url with the attempt result.
func (s *LedgerStore) Complete(_ context.Context, url string, res ledger.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[url]
	if !ok {
		return ledger.ErrNotFound
	}

	row.Status = res.Status
	if res.ContentHash != "" {
		row.ContentHash = res.ContentHash
	}
	if res.ByteSize > 0 {
		row.ByteSize = res.ByteSize
	}
	// A failed attempt keeps the record count from the last good import.
	if res.Status != ledger.StatusFailed {
		row.RecordsImported = res.Records
	}
	row.ErrorDetail = res.ErrorDetail
	row.SchemaIssues = append([]string(nil), res.SchemaIssues...)
	completed := res.At
	row.ProcessingCompletedAt = &completed
	row.UpdatedAt = res.At
	s.rows[url] = row
	return nil
}

// ResetStale returns processing rows claimed before cutoff to pending.
func (s *LedgerStore) ResetStale(_ context.Context, cutoff, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for url, row := range s.rows {
		if row.Status != ledger.StatusProcessing {
			continue
		}
		if row.ProcessingStartedAt == nil || row.ProcessingStartedAt.Before(cutoff) {
			row.Status = ledger.StatusPending
			row.UpdatedAt = at
			s.rows[url] = row
			n++
		}
	}
	return n, nil
}

// ResetFailed returns failed and schema-mismatch rows to pending.
func (s *LedgerStore) ResetFailed(_ context.Context, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for url, row := range s.rows {
		if row.Status != ledger.StatusFailed && row.Status != ledger.StatusSchemaMismatch {
			continue
		}
		row.Status = ledger.StatusPending
		row.ErrorDetail = ""
		row.SchemaIssues = nil
		row.UpdatedAt = at
		s.rows[url] = row
		n++
	}
	return n, nil
}

// Get loads one row or returns ledger.ErrNotFound.
func (s *LedgerStore) Get(_ context.Context, url string) (ledger.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.rows[url]
	if !ok {
		return ledger.Record{}, ledger.ErrNotFound
	}
	return copyRecord(row), nil
}

// List returns rows matching q, most recently updated first.
func (s *LedgerStore) List(_ context.Context, q ledger.Query) ([]ledger.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matches := make([]ledger.Record, 0, len(s.rows))
	for _, row := range s.rows {
		if q.Status != nil && row.Status != *q.Status {
			continue
		}
		if q.Category != "" && row.Category != q.Category {
			continue
		}
		if q.Legislature != nil && row.Legislature != *q.Legislature {
			continue
		}
		matches = append(matches, copyRecord(row))
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].UpdatedAt.Equal(matches[j].UpdatedAt) {
			return matches[i].URL < matches[j].URL
		}
		return matches[i].UpdatedAt.After(matches[j].UpdatedAt)
	})

	limit := q.Limit
	if limit <= 0 {
		limit = ledger.DefaultListLimit
	}
	if q.Offset >= len(matches) {
		return nil, nil
	}
	matches = matches[q.Offset:]
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func copyRecord(r ledger.Record) ledger.Record {
	out := r
	out.SchemaIssues = append([]string(nil), r.SchemaIssues...)
	if r.ProcessingStartedAt != nil {
		ts := *r.ProcessingStartedAt
		out.ProcessingStartedAt = &ts
	}
	if r.ProcessingCompletedAt != nil {
		ts := *r.ProcessingCompletedAt
		out.ProcessingCompletedAt = &ts
	}
	return out
}
