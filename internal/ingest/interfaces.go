package ingest

import (
	"context"
	"io"
	"time"
)

// HeadProbe carries the response metadata from a HEAD request.
type HeadProbe struct {
	StatusCode    int
	ContentLength int64
	ContentType   string
	LastModified  time.Time
}

// Fetcher retrieves portal resources with retry and politeness applied.
// Head is a best-effort probe: it reports ok=false instead of failing, since
// probe results only ever skip work, never gate it.
type Fetcher interface {
	Get(ctx context.Context, url string) ([]byte, error)
	Head(ctx context.Context, url string) (HeadProbe, bool)
}

// BlobStore is the staging location for downloaded portal files. Providers
// exist for the local filesystem, GCS, and memory (tests).
type BlobStore interface {
	// Put writes data under path and returns the provider URI.
	Put(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
	// Open returns a reader over a previously staged file.
	Open(ctx context.Context, path string) (io.ReadCloser, error)
	// Exists reports whether a staged copy is already present.
	Exists(ctx context.Context, path string) (bool, error)
}

// ImportNotice is published after a file import completes, so downstream
// consumers can react without polling the ledger.
type ImportNotice struct {
	URL         string      `json:"url"`
	Category    string      `json:"category"`
	Type        LogicalType `json:"logical_type"`
	Legislature int         `json:"legislature"`
	ContentHash string      `json:"content_hash"`
	Records     int         `json:"records_imported"`
	CompletedAt time.Time   `json:"completed_at"`
}

// Notifier pushes completion notices to an external channel (Pub/Sub or
// similar). Implementations must tolerate being a no-op.
type Notifier interface {
	Publish(ctx context.Context, notice ImportNotice) (string, error)
	Close() error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
