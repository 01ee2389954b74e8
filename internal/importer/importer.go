// Package importer executes the per-file import pipeline: gate on the
// ledger row, obtain the file body, hash it, skip unchanged content, claim
// the row and stage the download, parse and validate, extract entities, and
// record the outcome. The work is split into a network phase (Fetch) and a
// parse/write phase (Import) so the orchestrator can bound each
// independently; Process runs both back to back. Every failure is caught at
// the file boundary and lands on the ledger.
package importer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/openparl/parlingest/internal/document"
	"github.com/openparl/parlingest/internal/extract"
	"github.com/openparl/parlingest/internal/ingest"
	"github.com/openparl/parlingest/internal/ledger"
	"github.com/openparl/parlingest/internal/notify"
	"github.com/openparl/parlingest/internal/progress"
	"github.com/openparl/parlingest/internal/schema"
	"github.com/openparl/parlingest/internal/store"
)

// Hasher digests downloaded bodies for ledger change detection.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Result is the outcome of one processed descriptor, aggregated by the
// orchestrator into the run summary.
type Result struct {
	Outcome progress.Outcome
	// Records is the number of entity rows written for the file.
	Records int
	// Err is the terminal error recorded on the ledger; nil unless the
	// outcome is failed or schema_mismatch.
	Err error
}

// Staged carries one claimed, downloaded file from the download phase to the
// import phase.
type Staged struct {
	desc    ingest.FileDescriptor
	body    []byte
	hash    string
	size    int64
	runID   [16]byte
	started time.Time
}

// URL identifies the staged file for logs and backlog release.
func (s *Staged) URL() string { return s.desc.URL }

// Importer processes one discovered file at a time. It is safe for
// concurrent use: all mutable state lives in the ledger and stores.
type Importer struct {
	fetcher  ingest.Fetcher
	blobs    ingest.BlobStore
	records  ledger.Repository
	entities store.EntityWriter
	hasher   Hasher
	notifier ingest.Notifier
	clock    ingest.Clock
	events   progress.Emitter
	logger   *zap.Logger
}

// New constructs an Importer. A nil notifier disables notices; a nil emitter
// disables progress events; a nil logger silences it.
func New(
	fetcher ingest.Fetcher,
	blobs ingest.BlobStore,
	records ledger.Repository,
	entities store.EntityWriter,
	hasher Hasher,
	notifier ingest.Notifier,
	clock ingest.Clock,
	events progress.Emitter,
	logger *zap.Logger,
) *Importer {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Importer{
		fetcher:  fetcher,
		blobs:    blobs,
		records:  records,
		entities: entities,
		hasher:   hasher,
		notifier: notifier,
		clock:    clock,
		events:   events,
		logger:   logger,
	}
}

// Process runs the whole import pipeline for one descriptor.
func (imp *Importer) Process(ctx context.Context, runID [16]byte, d ingest.FileDescriptor) Result {
	st, res := imp.Fetch(ctx, runID, d)
	if st == nil {
		return res
	}
	return imp.Import(ctx, st)
}

// Fetch gates the descriptor on its ledger row and obtains the file body. A
// nil Staged means the file is already settled (not claimable, unchanged, or
// failed) and the Result is terminal; otherwise the Staged value must be
// handed to Import.
func (imp *Importer) Fetch(ctx context.Context, runID [16]byte, d ingest.FileDescriptor) (*Staged, Result) {
	started := imp.clock.Now()

	prior, err := imp.records.Get(ctx, d.URL)
	if errors.Is(err, ledger.ErrNotFound) {
		imp.logger.Debug("url not registered", zap.String("url", d.URL))
		return nil, Result{Outcome: progress.OutcomeSkipped}
	}
	if err != nil {
		imp.logger.Error("ledger read failed",
			zap.String("url", d.URL),
			zap.Error(err),
		)
		return nil, Result{Outcome: progress.OutcomeFailed, Err: fmt.Errorf("read %s: %w", d.URL, err)}
	}
	if !prior.Status.Claimable() {
		imp.logger.Debug("ledger row not claimable",
			zap.String("url", d.URL),
			zap.String("status", string(prior.Status)),
		)
		return nil, Result{Outcome: progress.OutcomeSkipped}
	}

	imp.emit(progress.Event{
		RunID:    runID,
		TS:       started,
		Stage:    progress.StageFileStart,
		Category: d.Category,
		URL:      d.URL,
	})
	t := task{runID: runID, d: d, started: started}

	// A completed row is hashed before it is claimed, so an unchanged file
	// settles without any ledger write. The backlog guarantees no other
	// task owns the URL in the meantime.
	claimed := prior.Status != ledger.StatusCompleted
	if claimed {
		if res, ok := imp.takeClaim(ctx, t); !ok {
			return nil, res
		}
	}

	body, err := imp.obtain(ctx, d, prior)
	if err != nil {
		if !claimed {
			if res, ok := imp.takeClaim(ctx, t); !ok {
				return nil, res
			}
		}
		return nil, imp.fail(ctx, t, err, 0)
	}
	size := int64(len(body))

	hash, err := imp.hasher.Hash(body)
	if err != nil {
		if !claimed {
			if res, ok := imp.takeClaim(ctx, t); !ok {
				return nil, res
			}
		}
		return nil, imp.fail(ctx, t, fmt.Errorf("hash content: %w", err), size)
	}

	if !claimed {
		if prior.ContentHash == hash {
			imp.logger.Debug("content unchanged, skipping",
				zap.String("url", d.URL),
				zap.String("hash", hash),
			)
			return nil, imp.finish(t, attempt{Result: Result{Outcome: progress.OutcomeSkipped}, bytes: size})
		}
		if res, ok := imp.takeClaim(ctx, t); !ok {
			return nil, res
		}
	}

	return &Staged{desc: d, body: body, hash: hash, size: size, runID: runID, started: started}, Result{}
}

// takeClaim moves the row into processing for this attempt. ok is false when
// the claim could not be taken; the Result then carries the terminal outcome
// for the file.
func (imp *Importer) takeClaim(ctx context.Context, t task) (Result, bool) {
	_, ok, err := imp.records.Claim(ctx, t.d.URL, t.started)
	if err != nil {
		imp.logger.Error("ledger claim failed",
			zap.String("url", t.d.URL),
			zap.Error(err),
		)
		return imp.finish(t, attempt{Result: Result{
			Outcome: progress.OutcomeFailed,
			Err:     fmt.Errorf("claim %s: %w", t.d.URL, err),
		}}), false
	}
	if !ok {
		imp.logger.Debug("ledger row no longer claimable", zap.String("url", t.d.URL))
		return imp.finish(t, attempt{Result: Result{Outcome: progress.OutcomeSkipped}}), false
	}
	return Result{}, true
}

// Import parses, validates, extracts, and writes a staged file, then
// finalizes the ledger row.
func (imp *Importer) Import(ctx context.Context, st *Staged) Result {
	d := st.desc
	t := task{runID: st.runID, d: d, started: st.started}

	format := d.Format()
	if !format.Parseable() {
		// Reference documents and packaged archives are staged and
		// accounted for, never imported.
		imp.complete(ctx, d, ledger.Result{
			Status:      ledger.StatusCompleted,
			ContentHash: st.hash,
			ByteSize:    st.size,
			At:          imp.clock.Now(),
		})
		imp.publish(ctx, d, st.hash, 0)
		return imp.finish(t, attempt{Result: Result{Outcome: progress.OutcomeImported}, bytes: st.size})
	}

	tree, err := imp.parse(d, format, st.body)
	if err != nil {
		return imp.fail(ctx, t, err, st.size)
	}

	if exp, known := schema.For(d.Type); known {
		if issues := exp.Validate(tree); len(issues) > 0 {
			imp.complete(ctx, d, ledger.Result{
				Status:       ledger.StatusSchemaMismatch,
				ContentHash:  st.hash,
				ByteSize:     st.size,
				ErrorDetail:  fmt.Sprintf("%d schema issues", len(issues)),
				SchemaIssues: issues,
				At:           imp.clock.Now(),
			})
			cause := ingest.NewError(ingest.KindSchema, "validate", d.URL,
				fmt.Errorf("%d issues, first: %s", len(issues), issues[0]))
			return imp.finish(t, attempt{
				Result: Result{Outcome: progress.OutcomeMismatch, Err: cause},
				bytes:  st.size,
			})
		}
	}

	fn, known := extract.For(d.Type)
	if !known {
		// Families without relational rows (the journals) and unclassified
		// content complete with zero records.
		imp.complete(ctx, d, ledger.Result{
			Status:      ledger.StatusCompleted,
			ContentHash: st.hash,
			ByteSize:    st.size,
			At:          imp.clock.Now(),
		})
		imp.publish(ctx, d, st.hash, 0)
		return imp.finish(t, attempt{Result: Result{Outcome: progress.OutcomeImported}, bytes: st.size})
	}

	batch := fn(tree, extract.Source{Legislature: d.Legislature, SubSeries: d.Path.SubSeries})
	if err := imp.entities.ApplyBatch(ctx, batch); err != nil {
		return imp.fail(ctx, t,
			ingest.NewError(ingest.KindWrite, "apply batch", d.URL, err), st.size)
	}

	records := batch.Count()
	imp.complete(ctx, d, ledger.Result{
		Status:      ledger.StatusCompleted,
		ContentHash: st.hash,
		ByteSize:    st.size,
		Records:     records,
		At:          imp.clock.Now(),
	})
	imp.publish(ctx, d, st.hash, records)

	return imp.finish(t, attempt{
		Result: Result{Outcome: progress.OutcomeImported, Records: records},
		bytes:  st.size,
	})
}

// task is the per-file context threaded through the terminal helpers.
type task struct {
	runID   [16]byte
	d       ingest.FileDescriptor
	started time.Time
}

// attempt extends Result with fields only the emitters need.
type attempt struct {
	Result
	bytes int64
}

func (a attempt) note() string {
	if a.Err == nil {
		return ""
	}
	return a.Err.Error()
}

// obtain returns the file body, reusing a staged copy when one exists and
// still matches the portal's advertised size. A fresh download is staged
// before use.
func (imp *Importer) obtain(ctx context.Context, d ingest.FileDescriptor, prior ledger.Record) ([]byte, error) {
	stage := ingest.StagePath(d)

	exists, err := imp.blobs.Exists(ctx, stage)
	if err != nil {
		imp.logger.Warn("staged copy check failed",
			zap.String("path", stage),
			zap.Error(err),
		)
	}
	if exists && !imp.stagedCopyStale(ctx, d.URL, prior) {
		body, err := imp.readStaged(ctx, stage)
		if err == nil {
			imp.logger.Debug("reusing staged copy", zap.String("path", stage))
			return body, nil
		}
		imp.logger.Warn("staged copy unreadable, downloading",
			zap.String("path", stage),
			zap.Error(err),
		)
	}

	body, err := imp.fetcher.Get(ctx, d.URL)
	if err != nil {
		return nil, err
	}
	if _, err := imp.blobs.Put(ctx, stage, contentTypeFor(d.Format()), bytes.NewReader(body)); err != nil {
		return nil, ingest.NewError(ingest.KindWrite, "stage download", d.URL, err)
	}
	return body, nil
}

// stagedCopyStale asks the portal whether the resource outgrew the last
// recorded import. The probe is advisory: without an answer the staged copy
// is trusted.
func (imp *Importer) stagedCopyStale(ctx context.Context, url string, prior ledger.Record) bool {
	if prior.ByteSize <= 0 {
		return false
	}
	probe, ok := imp.fetcher.Head(ctx, url)
	if !ok || probe.ContentLength <= 0 {
		return false
	}
	return probe.ContentLength != prior.ByteSize
}

func (imp *Importer) readStaged(ctx context.Context, stage string) ([]byte, error) {
	rc, err := imp.blobs.Open(ctx, stage)
	if err != nil {
		return nil, err
	}
	defer rc.Close() //nolint:errcheck
	return io.ReadAll(rc)
}

func (imp *Importer) parse(d ingest.FileDescriptor, format ingest.FileFormat, body []byte) (*document.Node, error) {
	if format == ingest.FormatJSON {
		return document.ParseJSON(d.URL, bytes.NewReader(body))
	}
	return document.ParseXML(d.URL, bytes.NewReader(body))
}

// fail finalizes a claimed row as failed and maps the error into the result.
func (imp *Importer) fail(ctx context.Context, t task, cause error, size int64) Result {
	imp.complete(ctx, t.d, ledger.Result{
		Status:      ledger.StatusFailed,
		ByteSize:    size,
		ErrorDetail: cause.Error(),
		At:          imp.clock.Now(),
	})
	imp.logger.Warn("file import failed",
		zap.String("url", t.d.URL),
		zap.String("kind", string(ingest.KindOf(cause))),
		zap.Error(cause),
	)
	return imp.finish(t, attempt{Result: Result{Outcome: progress.OutcomeFailed, Err: cause}, bytes: size})
}

// finish emits the FILE_DONE event and unwraps the result.
func (imp *Importer) finish(t task, a attempt) Result {
	imp.emit(progress.Event{
		RunID:    t.runID,
		TS:       imp.clock.Now(),
		Stage:    progress.StageFileDone,
		Category: t.d.Category,
		URL:      t.d.URL,
		Outcome:  a.Outcome,
		Records:  int64(a.Records),
		Bytes:    a.bytes,
		Dur:      imp.clock.Now().Sub(t.started),
		Note:     a.note(),
	})
	return a.Result
}

// complete records the attempt result. A completion that cannot be persisted
// leaves the row processing; the next run's stale reset reclaims it.
func (imp *Importer) complete(ctx context.Context, d ingest.FileDescriptor, res ledger.Result) {
	if err := imp.records.Complete(ctx, d.URL, res); err != nil {
		imp.logger.Error("ledger completion failed",
			zap.String("url", d.URL),
			zap.String("status", string(res.Status)),
			zap.Error(err),
		)
	}
}

// publish sends the completion notice. Delivery is best effort; the import
// itself already succeeded.
func (imp *Importer) publish(ctx context.Context, d ingest.FileDescriptor, hash string, records int) {
	notice := ingest.ImportNotice{
		URL:         d.URL,
		Category:    d.Category,
		Type:        d.Type,
		Legislature: d.Legislature,
		ContentHash: hash,
		Records:     records,
		CompletedAt: imp.clock.Now(),
	}
	if _, err := imp.notifier.Publish(ctx, notice); err != nil {
		imp.logger.Warn("completion notice failed",
			zap.String("url", d.URL),
			zap.Error(err),
		)
	}
}

func (imp *Importer) emit(evt progress.Event) {
	if imp.events == nil {
		return
	}
	imp.events.Emit(evt)
}

func contentTypeFor(format ingest.FileFormat) string {
	switch format {
	case ingest.FormatXML:
		return "application/xml"
	case ingest.FormatJSON:
		return "application/json"
	case ingest.FormatPDF:
		return "application/pdf"
	case ingest.FormatZip:
		return "application/zip"
	default:
		return "application/octet-stream"
	}
}
