package memory

import (
	"context"
	"testing"
	"time"

	"github.com/openparl/parlingest/internal/ingest"
	"github.com/openparl/parlingest/internal/ledger"
)

func TestLedgerStoreLifecycle(t *testing.T) {
	t.Parallel()

	store := NewLedgerStore()
	ctx := context.Background()
	t0 := time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC)

	rec := ledger.Record{
		URL:         "https://app.parlamento.pt/dados/iniciativas17.xml",
		DisplayName: "Iniciativas17.xml",
		LogicalType: ingest.TypeIniciativas,
		Category:    "iniciativas",
		Legislature: 17,
		UpdatedAt:   t0,
	}
	if err := store.UpsertPending(ctx, rec); err != nil {
		t.Fatalf("UpsertPending() error = %v", err)
	}

	prior, ok, err := store.Claim(ctx, rec.URL, t0.Add(time.Minute))
	if err != nil || !ok {
		t.Fatalf("Claim() = (%v, %v)", ok, err)
	}
	if prior.Status != ledger.StatusPending || prior.ContentHash != "" {
		t.Fatalf("unexpected prior row: %+v", prior)
	}

	// A second claim must lose while the row is processing.
	if _, ok, err := store.Claim(ctx, rec.URL, t0.Add(time.Minute)); err != nil || ok {
		t.Fatalf("second Claim() = (%v, %v), want not claimable", ok, err)
	}

	res := ledger.Result{
		Status:      ledger.StatusCompleted,
		ContentHash: "abc123",
		ByteSize:    512,
		Records:     42,
		At:          t0.Add(2 * time.Minute),
	}
	if err := store.Complete(ctx, rec.URL, res); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	row, err := store.Get(ctx, rec.URL)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if row.Status != ledger.StatusCompleted || row.RecordsImported != 42 || row.ContentHash != "abc123" {
		t.Fatalf("unexpected completed row: %+v", row)
	}
	if row.ProcessingStartedAt == nil || row.ProcessingCompletedAt == nil {
		t.Fatalf("expected processing timestamps, got %+v", row)
	}

	// Re-discovery keeps the completed status and history.
	rec.DisplayName = "Iniciativas17_renamed.xml"
	if err := store.UpsertPending(ctx, rec); err != nil {
		t.Fatalf("UpsertPending() refresh error = %v", err)
	}
	row, err = store.Get(ctx, rec.URL)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if row.Status != ledger.StatusCompleted || row.RecordsImported != 42 {
		t.Fatalf("refresh must not reset import history: %+v", row)
	}
	if row.DisplayName != "Iniciativas17_renamed.xml" {
		t.Fatalf("refresh should update descriptor columns: %+v", row)
	}

	// Completed rows stay claimable so unchanged content can be skipped.
	prior, ok, err = store.Claim(ctx, rec.URL, t0.Add(3*time.Minute))
	if err != nil || !ok {
		t.Fatalf("re-Claim() = (%v, %v)", ok, err)
	}
	if prior.Status != ledger.StatusCompleted || prior.ContentHash != "abc123" {
		t.Fatalf("prior state must expose the last hash: %+v", prior)
	}
}

func TestLedgerStoreFailureKeepsLastGoodImport(t *testing.T) {
	t.Parallel()

	store := NewLedgerStore()
	ctx := context.Background()
	t0 := time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC)
	url := "https://app.parlamento.pt/dados/peticoes17.xml"

	if err := store.UpsertPending(ctx, ledger.Record{URL: url, UpdatedAt: t0}); err != nil {
		t.Fatalf("UpsertPending() error = %v", err)
	}
	if _, _, err := store.Claim(ctx, url, t0); err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	if err := store.Complete(ctx, url, ledger.Result{
		Status: ledger.StatusCompleted, ContentHash: "h1", ByteSize: 10, Records: 7, At: t0,
	}); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	if _, _, err := store.Claim(ctx, url, t0.Add(time.Hour)); err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	if err := store.Complete(ctx, url, ledger.Result{
		Status: ledger.StatusFailed, ErrorDetail: "download: network (…): timeout", At: t0.Add(time.Hour),
	}); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	row, err := store.Get(ctx, url)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if row.Status != ledger.StatusFailed || row.ErrorDetail == "" {
		t.Fatalf("expected failed row with detail: %+v", row)
	}
	if row.RecordsImported != 7 || row.ContentHash != "h1" {
		t.Fatalf("failure must keep the last good import: %+v", row)
	}
}

func TestLedgerStoreResets(t *testing.T) {
	t.Parallel()

	store := NewLedgerStore()
	ctx := context.Background()
	t0 := time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC)

	urls := map[string]ledger.Status{
		"https://example.pt/a.xml": ledger.StatusFailed,
		"https://example.pt/b.xml": ledger.StatusSchemaMismatch,
		"https://example.pt/c.xml": ledger.StatusCompleted,
	}
	for url, status := range urls {
		if err := store.UpsertPending(ctx, ledger.Record{URL: url, UpdatedAt: t0}); err != nil {
			t.Fatalf("UpsertPending() error = %v", err)
		}
		if _, _, err := store.Claim(ctx, url, t0); err != nil {
			t.Fatalf("Claim() error = %v", err)
		}
		if err := store.Complete(ctx, url, ledger.Result{Status: status, SchemaIssues: []string{"x"}, At: t0}); err != nil {
			t.Fatalf("Complete() error = %v", err)
		}
	}

	n, err := store.ResetFailed(ctx, t0.Add(time.Minute))
	if err != nil || n != 2 {
		t.Fatalf("ResetFailed() = (%d, %v), want 2", n, err)
	}
	row, _ := store.Get(ctx, "https://example.pt/b.xml")
	if row.Status != ledger.StatusPending || len(row.SchemaIssues) != 0 {
		t.Fatalf("reset row should be clean pending: %+v", row)
	}
	row, _ = store.Get(ctx, "https://example.pt/c.xml")
	if row.Status != ledger.StatusCompleted {
		t.Fatalf("completed rows are not retried: %+v", row)
	}

	// Orphan one claim and hold a fresh one; only the orphan comes back.
	stale := "https://example.pt/stale.xml"
	fresh := "https://example.pt/fresh.xml"
	for url, claimedAt := range map[string]time.Time{stale: t0, fresh: t0.Add(50 * time.Minute)} {
		if err := store.UpsertPending(ctx, ledger.Record{URL: url, UpdatedAt: t0}); err != nil {
			t.Fatalf("UpsertPending() error = %v", err)
		}
		if _, _, err := store.Claim(ctx, url, claimedAt); err != nil {
			t.Fatalf("Claim() error = %v", err)
		}
	}
	n, err = store.ResetStale(ctx, t0.Add(30*time.Minute), t0.Add(time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("ResetStale() = (%d, %v), want 1", n, err)
	}
	row, _ = store.Get(ctx, stale)
	if row.Status != ledger.StatusPending {
		t.Fatalf("stale claim should return to pending: %+v", row)
	}
	row, _ = store.Get(ctx, fresh)
	if row.Status != ledger.StatusProcessing {
		t.Fatalf("live claim must stay owned by its worker: %+v", row)
	}
}

func TestLedgerStoreList(t *testing.T) {
	t.Parallel()

	store := NewLedgerStore()
	ctx := context.Background()
	t0 := time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC)

	rows := []ledger.Record{
		{URL: "https://example.pt/ini16.xml", Category: "iniciativas", Legislature: 16, UpdatedAt: t0},
		{URL: "https://example.pt/ini17.xml", Category: "iniciativas", Legislature: 17, UpdatedAt: t0.Add(time.Minute)},
		{URL: "https://example.pt/pet17.xml", Category: "peticoes", Legislature: 17, UpdatedAt: t0.Add(2 * time.Minute)},
	}
	for _, rec := range rows {
		if err := store.UpsertPending(ctx, rec); err != nil {
			t.Fatalf("UpsertPending() error = %v", err)
		}
	}

	got, err := store.List(ctx, ledger.Query{Category: "iniciativas"})
	if err != nil || len(got) != 2 {
		t.Fatalf("List(category) = (%d rows, %v), want 2", len(got), err)
	}
	if got[0].URL != "https://example.pt/ini17.xml" {
		t.Fatalf("expected most recently updated first, got %+v", got[0])
	}

	leg := 17
	pending := ledger.StatusPending
	got, err = store.List(ctx, ledger.Query{Status: &pending, Legislature: &leg})
	if err != nil || len(got) != 2 {
		t.Fatalf("List(status+legislature) = (%d rows, %v), want 2", len(got), err)
	}

	got, err = store.List(ctx, ledger.Query{Limit: 1, Offset: 1})
	if err != nil || len(got) != 1 {
		t.Fatalf("List(limit/offset) = (%d rows, %v), want 1", len(got), err)
	}
}
