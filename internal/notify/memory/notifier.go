// Package memory contains an in-memory notifier implementation for tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/openparl/parlingest/internal/ingest"
)

// Notifier stores published notices for inspection.
type Notifier struct {
	mu      sync.RWMutex
	notices []ingest.ImportNotice
}

// New returns a memory Notifier.
func New() *Notifier {
	return &Notifier{}
}

// Publish records the notice and returns a pseudo ID.
func (n *Notifier) Publish(_ context.Context, notice ingest.ImportNotice) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
	return fmt.Sprintf("memory-%d", len(n.notices)), nil
}

// Notices returns the recorded publishes.
func (n *Notifier) Notices() []ingest.ImportNotice {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]ingest.ImportNotice, len(n.notices))
	copy(out, n.notices)
	return out
}

// Close is a no-op for the memory notifier.
func (n *Notifier) Close() error { return nil }
