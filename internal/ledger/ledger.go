// Package ledger declares the per-file accounting that makes imports
// incremental and idempotent. Every discovered file owns exactly one row,
// keyed by canonical URL, and every import attempt moves that row through
// the status lifecycle.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/openparl/parlingest/internal/ingest"
)

// ErrNotFound signals that no ledger row exists for the URL.
var ErrNotFound = errors.New("ledger record not found")

// DefaultListLimit bounds List results when the query does not set a limit.
const DefaultListLimit = 100

// Status is the import lifecycle position persisted in import_files.status.
type Status string

// Ledger statuses.
const (
	StatusPending        Status = "pending"
	StatusProcessing     Status = "processing"
	StatusCompleted      Status = "completed"
	StatusFailed         Status = "failed"
	StatusSchemaMismatch Status = "schema_mismatch"
)

// Claimable reports whether an import worker may take the row. Completed
// rows stay claimable: re-running verifies the content hash and skips the
// expensive work when nothing changed. Failed and schema-mismatch rows are
// terminal; only an explicit reset returns them to pending.
func (s Status) Claimable() bool {
	return s == StatusPending || s == StatusCompleted
}

// ParseStatus validates an external status label, as received on API query
// strings.
func ParseStatus(raw string) (Status, bool) {
	switch Status(raw) {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusSchemaMismatch:
		return Status(raw), true
	default:
		return "", false
	}
}

// Record is one ledger row.
type Record struct {
	// URL is the canonical form produced by ingest.CanonicalURL.
	URL         string
	DisplayName string
	LogicalType ingest.LogicalType
	Category    string
	Legislature int
	// SubSeries, Session and Number capture the archive position for the
	// deeper hierarchies (budget series, journal sessions).
	SubSeries string
	Session   string
	Number    string
	// ContentHash is the SHA-256 of the last downloaded body, hex encoded.
	ContentHash string
	ByteSize    int64
	Status      Status
	ErrorDetail string
	// SchemaIssues holds the full validation issue list for schema_mismatch
	// rows.
	SchemaIssues    []string
	RecordsImported int
	// ProcessingStartedAt is set on claim; ProcessingCompletedAt on any
	// terminal transition.
	ProcessingStartedAt   *time.Time
	ProcessingCompletedAt *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// FromDescriptor builds the pending row for a discovered file.
func FromDescriptor(d ingest.FileDescriptor) Record {
	return Record{
		URL:         d.URL,
		DisplayName: d.DisplayName,
		LogicalType: d.Type,
		Category:    d.Category,
		Legislature: d.Legislature,
		SubSeries:   d.Path.SubSeries,
		Session:     d.Path.Session,
		Number:      d.Path.Number,
		Status:      StatusPending,
	}
}

// Descriptor rebuilds the discovery-time descriptor from the stored columns,
// so backlog-driven runs can process rows without revisiting the archive.
func (r Record) Descriptor() ingest.FileDescriptor {
	return ingest.FileDescriptor{
		URL:         r.URL,
		DisplayName: r.DisplayName,
		Type:        r.LogicalType,
		Category:    r.Category,
		Legislature: r.Legislature,
		Path: ingest.ArchivePath{
			SubSeries: r.SubSeries,
			Session:   r.Session,
			Number:    r.Number,
		},
	}
}

// Result finalizes one processing attempt.
type Result struct {
	Status       Status
	ContentHash  string
	ByteSize     int64
	Records      int
	ErrorDetail  string
	SchemaIssues []string
	At           time.Time
}

// Query filters List. Nil pointer fields match everything.
type Query struct {
	Status      *Status
	Category    string
	Legislature *int
	Limit       int
	Offset      int
}

// Repository persists ledger rows.
type Repository interface {
	// UpsertPending registers a discovered file. New URLs start pending;
	// known URLs only refresh the descriptor columns and keep their status
	// and import history.
	UpsertPending(ctx context.Context, rec Record) error

	// Claim atomically moves a claimable row into processing and returns the
	// row as it was before the claim. ok is false when the row is absent or
	// another worker holds it.
	Claim(ctx context.Context, url string, at time.Time) (Record, bool, error)

	// Complete finalizes the processing row for url with the attempt result.
	Complete(ctx context.Context, url string, res Result) error

	// ResetStale returns processing rows whose claim predates cutoff to
	// pending, recovering files orphaned by an interrupted run.
	ResetStale(ctx context.Context, cutoff, at time.Time) (int64, error)

	// ResetFailed returns failed and schema-mismatch rows to pending so a
	// retry pass picks them up.
	ResetFailed(ctx context.Context, at time.Time) (int64, error)

	// Get loads one row or returns ErrNotFound.
	Get(ctx context.Context, url string) (Record, error)

	// List returns rows matching q, most recently updated first.
	List(ctx context.Context, q Query) ([]Record, error)
}
