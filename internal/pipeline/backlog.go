package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/openparl/parlingest/internal/ingest"
)

// errBacklogClosed signals an enqueue after intake stopped.
var errBacklogClosed = errors.New("backlog closed")

// backlog is the bounded handoff between the feeder and the download pool.
// It tracks queued URLs so each file is in flight at most once per run;
// Release frees the slot after the file reaches a terminal outcome.
type backlog struct {
	ch chan ingest.FileDescriptor

	mu       sync.Mutex
	inflight map[string]struct{}
	closed   bool
}

func newBacklog(depth int) *backlog {
	if depth <= 0 {
		depth = 1
	}
	return &backlog{
		ch:       make(chan ingest.FileDescriptor, depth),
		inflight: make(map[string]struct{}),
	}
}

// Enqueue queues a descriptor unless its URL is already in flight, in which
// case it reports false without queuing. Only the feeder goroutine may call
// Enqueue, and it must not race Close.
func (b *backlog) Enqueue(ctx context.Context, d ingest.FileDescriptor) (bool, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return false, errBacklogClosed
	}
	if _, dup := b.inflight[d.URL]; dup {
		b.mu.Unlock()
		return false, nil
	}
	b.inflight[d.URL] = struct{}{}
	b.mu.Unlock()

	select {
	case <-ctx.Done():
		b.Release(d.URL)
		return false, fmt.Errorf("backlog enqueue canceled: %w", ctx.Err())
	case b.ch <- d:
		return true, nil
	}
}

// Dequeue blocks for the next descriptor. ok is false once the backlog is
// closed and drained. A canceled context wins over queued descriptors, so
// cancelation stops the dispatch of new work immediately.
func (b *backlog) Dequeue(ctx context.Context) (ingest.FileDescriptor, bool, error) {
	if err := ctx.Err(); err != nil {
		return ingest.FileDescriptor{}, false, fmt.Errorf("backlog dequeue canceled: %w", err)
	}
	select {
	case <-ctx.Done():
		return ingest.FileDescriptor{}, false, fmt.Errorf("backlog dequeue canceled: %w", ctx.Err())
	case d, open := <-b.ch:
		if !open {
			return ingest.FileDescriptor{}, false, nil
		}
		return d, true, nil
	}
}

// Release frees the in-flight slot for a URL.
func (b *backlog) Release(url string) {
	b.mu.Lock()
	delete(b.inflight, url)
	b.mu.Unlock()
}

// Close stops intake. Descriptors already queued remain dequeueable.
func (b *backlog) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.ch)
}
