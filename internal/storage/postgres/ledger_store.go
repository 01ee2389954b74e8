package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/openparl/parlingest/internal/ledger"
)

// LedgerStore implements ledger.Repository on Postgres.
type LedgerStore struct {
	pool PoolIface
}

// NewLedgerStore wraps an existing pool.
func NewLedgerStore(pool PoolIface) (*LedgerStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &LedgerStore{pool: pool}, nil
}

const ledgerColumns = `url, display_name, logical_type, category, legislature,
	sub_series, session, number, content_hash, byte_size, status, error_detail,
	schema_issues, records_imported, processing_started_at,
	processing_completed_at, created_at, updated_at`

// UpsertPending registers a discovered file. Known URLs only refresh the
// descriptor columns; status and import history stay untouched.
func (s *LedgerStore) UpsertPending(ctx context.Context, rec ledger.Record) error {
	at := rec.UpdatedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	query := `
		INSERT INTO import_files (
			url, display_name, logical_type, category, legislature,
			sub_series, session, number, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'pending', $9, $9)
		ON CONFLICT (url) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			logical_type = EXCLUDED.logical_type,
			category = EXCLUDED.category,
			legislature = EXCLUDED.legislature,
			sub_series = EXCLUDED.sub_series,
			session = EXCLUDED.session,
			number = EXCLUDED.number,
			updated_at = EXCLUDED.updated_at;
	`
	_, err := s.pool.Exec(ctx, query,
		rec.URL,
		rec.DisplayName,
		rec.LogicalType,
		rec.Category,
		rec.Legislature,
		rec.SubSeries,
		rec.Session,
		rec.Number,
		at,
	)
	if err != nil {
		return fmt.Errorf("upsert pending file: %w", err)
	}
	return nil
}

// Claim locks a claimable row, marks it processing, and returns its prior
// state. SKIP LOCKED lets concurrent workers pass over rows another worker
// holds instead of queueing on them.
func (s *LedgerStore) Claim(ctx context.Context, url string, at time.Time) (ledger.Record, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return ledger.Record{}, false, fmt.Errorf("begin claim: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := `SELECT ` + ledgerColumns + `
		FROM import_files
		WHERE url = $1
		FOR UPDATE SKIP LOCKED;`
	rec, err := scanLedgerRecord(tx.QueryRow(ctx, query, url))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ledger.Record{}, false, nil
		}
		return ledger.Record{}, false, fmt.Errorf("select for claim: %w", err)
	}
	if !rec.Status.Claimable() {
		return ledger.Record{}, false, nil
	}

	update := `
		UPDATE import_files
		SET status = 'processing',
			processing_started_at = $2,
			processing_completed_at = NULL,
			updated_at = $2
		WHERE url = $1;
	`
	if _, err := tx.Exec(ctx, update, url, at); err != nil {
		return ledger.Record{}, false, fmt.Errorf("mark processing: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return ledger.Record{}, false, fmt.Errorf("commit claim: %w", err)
	}
	return rec, true, nil
}

// Complete finalizes the row for url. Failed attempts keep the content hash,
// byte size and record count from the last good import.
func (s *LedgerStore) Complete(ctx context.Context, url string, res ledger.Result) error {
	issues := res.SchemaIssues
	if issues == nil {
		issues = []string{}
	}
	query := `
		UPDATE import_files
		SET status = $2,
			content_hash = CASE WHEN $3 = '' THEN content_hash ELSE $3 END,
			byte_size = CASE WHEN $4 = 0 THEN byte_size ELSE $4 END,
			records_imported = CASE WHEN $2 = 'failed' THEN records_imported ELSE $5 END,
			error_detail = $6,
			schema_issues = $7,
			processing_completed_at = $8,
			updated_at = $8
		WHERE url = $1;
	`
	tag, err := s.pool.Exec(ctx, query,
		url,
		res.Status,
		res.ContentHash,
		res.ByteSize,
		res.Records,
		res.ErrorDetail,
		issues,
		res.At,
	)
	if err != nil {
		return fmt.Errorf("complete file: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ledger.ErrNotFound
	}
	return nil
}

// ResetStale returns processing rows claimed before cutoff to pending.
func (s *LedgerStore) ResetStale(ctx context.Context, cutoff, at time.Time) (int64, error) {
	query := `
		UPDATE import_files
		SET status = 'pending', updated_at = $2
		WHERE status = 'processing' AND processing_started_at < $1;
	`
	tag, err := s.pool.Exec(ctx, query, cutoff, at)
	if err != nil {
		return 0, fmt.Errorf("reset stale claims: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ResetFailed returns failed and schema-mismatch rows to pending.
func (s *LedgerStore) ResetFailed(ctx context.Context, at time.Time) (int64, error) {
	query := `
		UPDATE import_files
		SET status = 'pending', error_detail = '', schema_issues = '{}', updated_at = $1
		WHERE status IN ('failed', 'schema_mismatch');
	`
	tag, err := s.pool.Exec(ctx, query, at)
	if err != nil {
		return 0, fmt.Errorf("reset failed files: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Get loads one row or returns ledger.ErrNotFound.
func (s *LedgerStore) Get(ctx context.Context, url string) (ledger.Record, error) {
	query := `SELECT ` + ledgerColumns + ` FROM import_files WHERE url = $1;`
	rec, err := scanLedgerRecord(s.pool.QueryRow(ctx, query, url))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ledger.Record{}, ledger.ErrNotFound
		}
		return ledger.Record{}, fmt.Errorf("get file: %w", err)
	}
	return rec, nil
}

// List returns rows matching q, most recently updated first.
func (s *LedgerStore) List(ctx context.Context, q ledger.Query) ([]ledger.Record, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = ledger.DefaultListLimit
	}
	var status *string
	if q.Status != nil {
		v := string(*q.Status)
		status = &v
	}
	var category *string
	if q.Category != "" {
		category = &q.Category
	}

	query := `SELECT ` + ledgerColumns + `
		FROM import_files
		WHERE ($1::text IS NULL OR status = $1)
		  AND ($2::text IS NULL OR category = $2)
		  AND ($3::int IS NULL OR legislature = $3)
		ORDER BY updated_at DESC, url ASC
		LIMIT $4 OFFSET $5;`
	rows, err := s.pool.Query(ctx, query, status, category, q.Legislature, limit, q.Offset)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	var out []ledger.Record
	for rows.Next() {
		rec, err := scanLedgerRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan file row: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	return out, nil
}

func scanLedgerRecord(row pgx.Row) (ledger.Record, error) {
	var rec ledger.Record
	err := row.Scan(
		&rec.URL,
		&rec.DisplayName,
		&rec.LogicalType,
		&rec.Category,
		&rec.Legislature,
		&rec.SubSeries,
		&rec.Session,
		&rec.Number,
		&rec.ContentHash,
		&rec.ByteSize,
		&rec.Status,
		&rec.ErrorDetail,
		&rec.SchemaIssues,
		&rec.RecordsImported,
		&rec.ProcessingStartedAt,
		&rec.ProcessingCompletedAt,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return ledger.Record{}, err
	}
	return rec, nil
}
