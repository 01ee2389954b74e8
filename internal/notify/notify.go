// Package notify provides completion-notice publishers. Notification is an
// optional stage of the pipeline; Nop is the default when no channel is
// configured.
package notify

import (
	"context"

	"github.com/openparl/parlingest/internal/ingest"
)

// Nop discards every notice.
type Nop struct{}

// Publish drops the notice and reports an empty message ID.
func (Nop) Publish(context.Context, ingest.ImportNotice) (string, error) {
	return "", nil
}

// Close is a no-op.
func (Nop) Close() error { return nil }
