// Package memory provides in-memory persistence for development and tests.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/openparl/parlingest/internal/metrics"
)

// BlobStore stages file content in memory and returns pseudo URIs.
type BlobStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewBlobStore creates an in-memory blob store.
func NewBlobStore() *BlobStore {
	return &BlobStore{data: make(map[string][]byte)}
}

// Put persists the content and returns a memory:// URI.
func (s *BlobStore) Put(_ context.Context, path string, _ string, data io.Reader) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	byteData, err := io.ReadAll(data)
	if err != nil {
		return "", fmt.Errorf("failed to read data from reader: %w", err)
	}

	s.mu.Lock()
	s.data[path] = append([]byte(nil), byteData...)
	s.mu.Unlock()

	metrics.ObserveStagedFile("memory")
	return fmt.Sprintf("memory://%s", path), nil
}

// Open returns a reader over previously staged content.
func (s *BlobStore) Open(_ context.Context, path string) (io.ReadCloser, error) {
	s.mu.RLock()
	byteData, ok := s.data[path]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no staged content at %q", path)
	}
	return io.NopCloser(bytes.NewReader(byteData)), nil
}

// Exists reports whether path has been staged.
func (s *BlobStore) Exists(_ context.Context, path string) (bool, error) {
	s.mu.RLock()
	_, ok := s.data[path]
	s.mu.RUnlock()
	return ok, nil
}
