package memory

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/openparl/parlingest/internal/metrics"
)

func TestBlobStoreRoundTrip(t *testing.T) {
	t.Parallel()

	metrics.Init()

	store := NewBlobStore()
	ctx := context.Background()
	path := "iniciativas/17/Iniciativas17.xml"

	exists, err := store.Exists(ctx, path)
	if err != nil || exists {
		t.Fatalf("Exists() before put = (%v, %v)", exists, err)
	}

	uri, err := store.Put(ctx, path, "application/xml", bytes.NewReader([]byte("<a/>")))
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if uri != "memory://"+path {
		t.Fatalf("Put() uri = %q", uri)
	}

	exists, err = store.Exists(ctx, path)
	if err != nil || !exists {
		t.Fatalf("Exists() after put = (%v, %v)", exists, err)
	}

	rc, err := store.Open(ctx, path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if string(data) != "<a/>" {
		t.Fatalf("unexpected staged content %q", data)
	}

	if _, err := store.Open(ctx, "missing"); err == nil {
		t.Fatal("Open(missing) should error")
	}
	if _, err := store.Put(ctx, "", "", bytes.NewReader(nil)); err == nil {
		t.Fatal("Put with empty path should error")
	}
}
