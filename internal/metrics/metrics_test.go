package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeHost(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://app.parlamento.pt/path", "app.parlamento.pt"},
		{"standard https", "https://App.Parlamento.PT/path", "app.parlamento.pt"},
		{"no scheme", "debates.parlamento.pt/catalogo", "debates.parlamento.pt"},
		{"just host", "example.com", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"ip address", "192.168.1.1", "192.168.1.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeHost(tc.input); got != tc.expected {
				t.Errorf("SanitizeHost(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInit(t *testing.T) {
	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if downloadsTotal == nil || downloadBytesTotal == nil ||
		httpRetriesTotal == nil || retryDelaySeconds == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}

	ObserveDownload("https://app.parlamento.pt/doc.xml", "ok", 2048)
	if val := testutil.ToFloat64(downloadsTotal.WithLabelValues("app.parlamento.pt", "ok")); val != 1 {
		t.Errorf("Expected downloadsTotal to be 1, got %f", val)
	}
	if val := testutil.ToFloat64(downloadBytesTotal.WithLabelValues("app.parlamento.pt")); val != 2048 {
		t.Errorf("Expected downloadBytesTotal to be 2048, got %f", val)
	}

	ObserveRetry("https://app.parlamento.pt/doc.xml", 2*time.Second)
	if val := testutil.ToFloat64(httpRetriesTotal.WithLabelValues("app.parlamento.pt")); val != 1 {
		t.Errorf("Expected httpRetriesTotal to be 1, got %f", val)
	}

	IncActiveWorkers("download")
	IncActiveWorkers("download")
	DecActiveWorkers("download")
	if val := testutil.ToFloat64(activeWorkers.WithLabelValues("download")); val != 1 {
		t.Errorf("Expected one active download worker, got %f", val)
	}

	ObserveStagedFile("local")
	if val := testutil.ToFloat64(stagedFilesTotal.WithLabelValues("local")); val != 1 {
		t.Errorf("Expected stagedFilesTotal to be 1, got %f", val)
	}
}

func FuzzSanitizeHost(f *testing.F) {
	testcases := []string{"http://app.parlamento.pt", "https://debates.parlamento.pt", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, rawURL string) {
		got := SanitizeHost(rawURL)
		if got == "" {
			t.Errorf("SanitizeHost(%q) returned empty string", rawURL)
		}
	})
}
