package ingest

import (
	"errors"
	"fmt"
)

// ErrorKind buckets per-file failures into the pipeline's taxonomy. Kinds map
// one-to-one onto terminal ledger statuses: schema failures become
// schema_mismatch, everything else becomes failed.
type ErrorKind string

// Error kinds recorded on the ledger.
const (
	KindNetwork    ErrorKind = "network"
	KindHTTPStatus ErrorKind = "http_status"
	KindParse      ErrorKind = "parse"
	KindSchema     ErrorKind = "schema"
	KindWrite      ErrorKind = "write"
)

// Error is the typed failure recorded at file granularity. It wraps the
// underlying cause so errors.Is/As keep working through the taxonomy.
type Error struct {
	Kind ErrorKind
	Op   string
	URL  string
	Err  error
}

// NewError builds a taxonomy error around cause.
func NewError(kind ErrorKind, op, url string, cause error) *Error {
	return &Error{Kind: kind, Op: op, URL: url, Err: cause}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s (%s)", e.Op, e.Kind, e.URL)
	}
	return fmt.Sprintf("%s: %s (%s): %v", e.Op, e.Kind, e.URL, e.Err)
}

// Unwrap exposes the cause for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf extracts the taxonomy kind from err, or "" when err carries none.
func KindOf(err error) ErrorKind {
	var ie *Error
	if errors.As(err, &ie) {
		return ie.Kind
	}
	return ""
}

// StatusError reports a non-2xx HTTP response. Status errors are never
// retried: the portal answers 404 for retired archives and 403 for throttled
// clients, and hammering either helps nobody.
type StatusError struct {
	Code int
	URL  string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.Code, e.URL)
}

// IsStatusError reports whether err wraps a StatusError and returns its code.
func IsStatusError(err error) (int, bool) {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code, true
	}
	return 0, false
}
