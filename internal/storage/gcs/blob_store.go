// Package gcs provides a blob store backed by Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/openparl/parlingest/internal/metrics"
)

// Config captures the parameters required to stage files in GCS.
type Config struct {
	Bucket string
	// Prefix is prepended to every object key, keeping staged archives
	// under one folder of a shared bucket.
	Prefix string
}

// BlobStore stages files in a GCS bucket.
type BlobStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// New creates a GCS-backed blob store.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &BlobStore{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

func (s *BlobStore) key(p string) string {
	if s.prefix == "" {
		return p
	}
	return path.Join(s.prefix, p)
}

// Put uploads data to the bucket and returns a gs:// URI.
func (s *BlobStore) Put(ctx context.Context, p string, contentType string, r io.Reader) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", fmt.Errorf("path is required")
	}
	key := s.key(p)
	writer := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}
	if _, err := io.Copy(writer, r); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return "", fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	metrics.ObserveStagedFile("gcs")
	return fmt.Sprintf("gs://%s/%s", s.bucket, key), nil
}

// Open returns a reader over a previously staged object.
func (s *BlobStore) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	r, err := s.client.Bucket(s.bucket).Object(s.key(p)).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("open object: %w", err)
	}
	return r, nil
}

// Exists reports whether the object has been staged.
func (s *BlobStore) Exists(ctx context.Context, p string) (bool, error) {
	_, err := s.client.Bucket(s.bucket).Object(s.key(p)).Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("stat object: %w", err)
	}
	return true, nil
}
