// Package pipeline orchestrates acquisition runs. A feeder (archive
// discovery or a ledger backlog replay) fills a bounded backlog; a download
// pool claims rows and stages file bodies; an import pool parses, validates,
// and writes them. The pools are sized independently so network-bound and
// write-bound work can be tuned apart.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openparl/parlingest/internal/config"
	"github.com/openparl/parlingest/internal/discover"
	"github.com/openparl/parlingest/internal/importer"
	"github.com/openparl/parlingest/internal/ingest"
	"github.com/openparl/parlingest/internal/ledger"
	"github.com/openparl/parlingest/internal/metrics"
	"github.com/openparl/parlingest/internal/progress"
)

// Mode selects what a run does.
type Mode string

// Supported run modes.
const (
	// ModeFull discovers the archive and imports everything claimable.
	ModeFull Mode = "full"
	// ModeDiscover registers discovered files on the ledger without
	// importing them.
	ModeDiscover Mode = "discover"
	// ModeImport replays the pending ledger backlog without discovery.
	ModeImport Mode = "import"
	// ModeRetry returns failed rows to pending, then replays the backlog.
	ModeRetry Mode = "retry"
)

// ParseMode validates an external mode label.
func ParseMode(raw string) (Mode, bool) {
	switch Mode(raw) {
	case ModeFull, ModeDiscover, ModeImport, ModeRetry:
		return Mode(raw), true
	default:
		return "", false
	}
}

// IDSource mints run identifiers.
type IDSource interface {
	NewID() (string, error)
}

// Summary reports what one run accomplished.
type Summary struct {
	RunID            string
	Mode             Mode
	Discovered       int64
	Succeeded        int64
	Skipped          int64
	Failed           int64
	SchemaMismatches int64
	RecordsImported  int64
}

// Options tunes run behavior. Zero values fall back to defaults.
type Options struct {
	DownloadWorkers int
	ImportWorkers   int
	BacklogDepth    int
	// Formats is the allow-list of file formats admitted to the ledger and
	// backlog. Empty admits XML only.
	Formats []ingest.FileFormat
	// StopOnFirstError cancels scheduling of further files after the first
	// file-level failure; work already in flight finishes.
	StopOnFirstError bool
	// StaleAfter bounds how long a processing claim may be held before a
	// later run reclaims the row.
	StaleAfter time.Duration
	// HeartbeatInterval spaces RUN_HEARTBEAT events.
	HeartbeatInterval time.Duration
	// ListPageSize bounds ledger pages during backlog replay.
	ListPageSize int
}

// OptionsFromConfig maps the loaded pipeline section onto Options.
func OptionsFromConfig(cfg config.PipelineConfig) Options {
	return Options{
		DownloadWorkers:  cfg.DownloadWorkers,
		ImportWorkers:    cfg.ImportWorkers,
		BacklogDepth:     cfg.BacklogDepth,
		Formats:          cfg.FormatAllowList(),
		StopOnFirstError: cfg.StopOnFirstError,
	}
}

const (
	defaultDownloadWorkers = 4
	defaultImportWorkers   = 2
	defaultBacklogDepth    = 1024
	defaultStaleAfter      = time.Hour
	defaultHeartbeat       = 30 * time.Second
	defaultListPageSize    = 500
)

// Pipeline executes acquisition runs over the shared stores.
type Pipeline struct {
	disc    *discover.Discoverer
	imp     *importer.Importer
	records ledger.Repository
	ids     IDSource
	clock   ingest.Clock
	events  progress.Emitter
	logger  *zap.Logger
	opts    Options

	formats map[ingest.FileFormat]struct{}
}

// New constructs a Pipeline. A nil logger silences it.
func New(
	disc *discover.Discoverer,
	imp *importer.Importer,
	records ledger.Repository,
	ids IDSource,
	clock ingest.Clock,
	events progress.Emitter,
	logger *zap.Logger,
	opts Options,
) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.DownloadWorkers <= 0 {
		opts.DownloadWorkers = defaultDownloadWorkers
	}
	if opts.ImportWorkers <= 0 {
		opts.ImportWorkers = defaultImportWorkers
	}
	if opts.BacklogDepth <= 0 {
		opts.BacklogDepth = defaultBacklogDepth
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = defaultStaleAfter
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = defaultHeartbeat
	}
	if opts.ListPageSize <= 0 {
		opts.ListPageSize = defaultListPageSize
	}
	formats := make(map[ingest.FileFormat]struct{}, len(opts.Formats))
	for _, f := range opts.Formats {
		formats[f] = struct{}{}
	}
	if len(formats) == 0 {
		formats[ingest.FormatXML] = struct{}{}
	}
	return &Pipeline{
		disc:    disc,
		imp:     imp,
		records: records,
		ids:     ids,
		clock:   clock,
		events:  events,
		logger:  logger,
		opts:    opts,
		formats: formats,
	}
}

// Run executes one acquisition run in the given mode and reports its
// summary. File-level failures are counted, not returned; the error covers
// run-level conditions (cancelation, reset or discovery failure, or the
// stop-on-first-error trigger).
func (p *Pipeline) Run(ctx context.Context, mode Mode) (Summary, error) {
	idStr, err := p.ids.NewID()
	if err != nil {
		return Summary{}, fmt.Errorf("mint run id: %w", err)
	}
	parsed, err := uuid.Parse(idStr)
	if err != nil {
		return Summary{}, fmt.Errorf("parse run id %q: %w", idStr, err)
	}
	runID := progress.UUIDToBytes(parsed)

	startedAt := p.clock.Now()
	summary := Summary{RunID: idStr, Mode: mode}

	p.emit(progress.Event{
		RunID: runID,
		TS:    startedAt,
		Stage: progress.StageRunStart,
		Mode:  string(mode),
	})
	p.logger.Info("run started",
		zap.String("run_id", idStr),
		zap.String("mode", string(mode)),
	)

	if err := p.reset(ctx, mode); err != nil {
		return p.finalize(ctx, runID, startedAt, summary, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	t := &tracker{stopOnErr: p.opts.StopOnFirstError, cancel: cancel}
	stopHB := p.startHeartbeat(runID, t)

	var discovered int64
	var runErr error
	switch mode {
	case ModeDiscover:
		discovered, runErr = p.discoverFeed(runCtx, nil)
		p.emitDiscoveryDone(runID, discovered)
	case ModeFull:
		discovered, runErr = p.runPools(runCtx, runID, p.discoverFeed, t)
	case ModeImport, ModeRetry:
		discovered, runErr = p.runPools(runCtx, runID, p.replayFeed, t)
	default:
		runErr = fmt.Errorf("unknown run mode %q", mode)
	}
	stopHB()

	// A stop-on-first-error halt cancels the feeder too; report the failure
	// that triggered it rather than the induced cancelation.
	if stopErr := t.stopErr(); stopErr != nil {
		runErr = stopErr
	}

	summary.Discovered = discovered
	t.fill(&summary)

	return p.finalize(ctx, runID, startedAt, summary, runErr)
}

// reset reclaims rows abandoned by crashed runs and, in retry mode, returns
// failed rows to pending.
func (p *Pipeline) reset(ctx context.Context, mode Mode) error {
	if mode == ModeDiscover {
		return nil
	}
	now := p.clock.Now()
	n, err := p.records.ResetStale(ctx, now.Add(-p.opts.StaleAfter), now)
	if err != nil {
		return fmt.Errorf("reset stale claims: %w", err)
	}
	if n > 0 {
		p.logger.Warn("reclaimed stale processing rows", zap.Int64("rows", n))
	}
	if mode != ModeRetry {
		return nil
	}
	n, err = p.records.ResetFailed(ctx, now)
	if err != nil {
		return fmt.Errorf("reset failed rows: %w", err)
	}
	p.logger.Info("failed rows returned to pending", zap.Int64("rows", n))
	return nil
}

type enqueueFunc func(d ingest.FileDescriptor) error

type feedFunc func(ctx context.Context, enqueue enqueueFunc) (int64, error)

// runPools drives the feeder and both worker pools, returning the feeder's
// descriptor count and error once every in-flight file has settled.
func (p *Pipeline) runPools(ctx context.Context, runID [16]byte, feed feedFunc, t *tracker) (int64, error) {
	bl := newBacklog(p.opts.BacklogDepth)
	staged := make(chan *importer.Staged, p.opts.ImportWorkers)

	// Cancelation gates the feeder and the dequeue only. Files already in
	// flight run on a detached context so they reach their next ledger
	// write instead of stranding a claimed row in processing.
	work := context.WithoutCancel(ctx)

	var downloads, imports sync.WaitGroup
	for i := 0; i < p.opts.DownloadWorkers; i++ {
		p.logger.Debug("starting download worker", zap.Int("worker", i))
		downloads.Add(1)
		go p.downloadWorker(ctx, work, runID, bl, staged, t, &downloads)
	}
	for i := 0; i < p.opts.ImportWorkers; i++ {
		p.logger.Debug("starting import worker", zap.Int("worker", i))
		imports.Add(1)
		go p.importWorker(work, bl, staged, t, &imports)
	}

	discovered, feedErr := feed(ctx, func(d ingest.FileDescriptor) error {
		_, err := bl.Enqueue(ctx, d)
		return err
	})
	p.emitDiscoveryDone(runID, discovered)

	bl.Close()
	downloads.Wait()
	close(staged)
	imports.Wait()

	return discovered, feedErr
}

// discoverFeed walks the archive, registers every admitted file on the
// ledger, and queues it when an enqueue target is given.
func (p *Pipeline) discoverFeed(ctx context.Context, enqueue enqueueFunc) (int64, error) {
	var discovered int64
	err := p.disc.Discover(ctx, func(d ingest.FileDescriptor) error {
		if !p.admits(d.Format()) {
			p.logger.Debug("format not admitted",
				zap.String("url", d.URL),
				zap.String("format", string(d.Format())),
			)
			return nil
		}
		if err := p.records.UpsertPending(ctx, ledger.FromDescriptor(d)); err != nil {
			return fmt.Errorf("register %s: %w", d.URL, err)
		}
		discovered++
		if enqueue == nil {
			return nil
		}
		return enqueue(d)
	})
	return discovered, err
}

// replayFeed queues the pending ledger backlog. The rows are collected
// before the first enqueue, while no worker can be claiming, so offset
// paging sees a stable set.
func (p *Pipeline) replayFeed(ctx context.Context, enqueue enqueueFunc) (int64, error) {
	pending := ledger.StatusPending
	var backlog []ingest.FileDescriptor
	for offset := 0; ; offset += p.opts.ListPageSize {
		page, err := p.records.List(ctx, ledger.Query{
			Status: &pending,
			Limit:  p.opts.ListPageSize,
			Offset: offset,
		})
		if err != nil {
			return 0, fmt.Errorf("list pending rows: %w", err)
		}
		for _, rec := range page {
			backlog = append(backlog, rec.Descriptor())
		}
		if len(page) < p.opts.ListPageSize {
			break
		}
	}

	var queued int64
	for _, d := range backlog {
		if !p.admits(d.Format()) {
			continue
		}
		if err := enqueue(d); err != nil {
			return queued, err
		}
		queued++
	}
	return queued, nil
}

func (p *Pipeline) downloadWorker(ctx, work context.Context, runID [16]byte, bl *backlog, staged chan<- *importer.Staged, t *tracker, wg *sync.WaitGroup) {
	defer wg.Done()
	metrics.IncActiveWorkers("download")
	defer metrics.DecActiveWorkers("download")
	for {
		d, ok, err := bl.Dequeue(ctx)
		if err != nil || !ok {
			return
		}
		st, res := p.imp.Fetch(work, runID, d)
		if st == nil {
			bl.Release(d.URL)
			t.apply(res)
			continue
		}
		// Import workers drain the channel until it closes, so a staged
		// file is never abandoned after its row was claimed.
		staged <- st
	}
}

func (p *Pipeline) importWorker(work context.Context, bl *backlog, staged <-chan *importer.Staged, t *tracker, wg *sync.WaitGroup) {
	defer wg.Done()
	metrics.IncActiveWorkers("import")
	defer metrics.DecActiveWorkers("import")
	for st := range staged {
		res := p.imp.Import(work, st)
		bl.Release(st.URL())
		t.apply(res)
	}
}

// startHeartbeat emits periodic RUN_HEARTBEAT events until the returned stop
// function is called.
func (p *Pipeline) startHeartbeat(runID [16]byte, t *tracker) (stop func()) {
	quit := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(p.opts.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-quit:
				return
			case <-ticker.C:
				p.emit(progress.Event{
					RunID:   runID,
					TS:      p.clock.Now(),
					Stage:   progress.StageRunHB,
					Records: t.files(),
				})
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() { close(quit) })
		<-done
	}
}

// finalize emits the terminal run event and settles the returned error.
// Caller cancelation takes precedence over run errors it induced.
func (p *Pipeline) finalize(ctx context.Context, runID [16]byte, startedAt time.Time, summary Summary, runErr error) (Summary, error) {
	finished := p.clock.Now()
	elapsed := finished.Sub(startedAt)

	switch {
	case ctx.Err() != nil:
		p.emit(progress.Event{
			RunID:   runID,
			TS:      finished,
			Stage:   progress.StageRunDone,
			Outcome: progress.OutcomeCanceled,
			Dur:     elapsed,
		})
		p.logger.Warn("run canceled",
			zap.String("run_id", summary.RunID),
			zap.Duration("elapsed", elapsed),
		)
		return summary, fmt.Errorf("run canceled: %w", ctx.Err())
	case runErr != nil:
		p.emit(progress.Event{
			RunID: runID,
			TS:    finished,
			Stage: progress.StageRunError,
			Dur:   elapsed,
			Note:  runErr.Error(),
		})
		p.logger.Error("run failed",
			zap.String("run_id", summary.RunID),
			zap.Duration("elapsed", elapsed),
			zap.Error(runErr),
		)
		return summary, runErr
	default:
		p.emit(progress.Event{
			RunID: runID,
			TS:    finished,
			Stage: progress.StageRunDone,
			Dur:   elapsed,
		})
		p.logger.Info("run finished",
			zap.String("run_id", summary.RunID),
			zap.String("mode", string(summary.Mode)),
			zap.Int64("discovered", summary.Discovered),
			zap.Int64("succeeded", summary.Succeeded),
			zap.Int64("skipped", summary.Skipped),
			zap.Int64("failed", summary.Failed),
			zap.Int64("schema_mismatches", summary.SchemaMismatches),
			zap.Int64("records_imported", summary.RecordsImported),
			zap.Duration("elapsed", elapsed),
		)
		return summary, nil
	}
}

func (p *Pipeline) emitDiscoveryDone(runID [16]byte, discovered int64) {
	p.emit(progress.Event{
		RunID:   runID,
		TS:      p.clock.Now(),
		Stage:   progress.StageDiscoveryDone,
		Records: discovered,
	})
}

func (p *Pipeline) admits(format ingest.FileFormat) bool {
	_, ok := p.formats[format]
	return ok
}

func (p *Pipeline) emit(evt progress.Event) {
	if p.events == nil {
		return
	}
	p.events.Emit(evt)
}

// tracker accumulates worker outcomes and triggers the stop-on-first-error
// cancelation.
type tracker struct {
	stopOnErr bool
	cancel    context.CancelFunc

	mu         sync.Mutex
	succeeded  int64
	skipped    int64
	failed     int64
	mismatches int64
	records    int64
	haltErr    error
	halted     bool
}

func (t *tracker) apply(res importer.Result) {
	t.mu.Lock()
	switch res.Outcome {
	case progress.OutcomeImported:
		t.succeeded++
	case progress.OutcomeSkipped:
		t.skipped++
	case progress.OutcomeFailed:
		t.failed++
	case progress.OutcomeMismatch:
		t.mismatches++
	}
	t.records += int64(res.Records)
	halt := t.stopOnErr && !t.halted && res.Outcome == progress.OutcomeFailed
	if halt {
		t.halted = true
		t.haltErr = res.Err
	}
	t.mu.Unlock()

	if halt {
		t.cancel()
	}
}

// files reports how many files have settled so far.
func (t *tracker) files() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.succeeded + t.skipped + t.failed + t.mismatches
}

// stopErr reports the failure that triggered a stop-on-first-error halt.
func (t *tracker) stopErr() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.halted {
		return nil
	}
	return fmt.Errorf("stopped after first failure: %w", t.haltErr)
}

func (t *tracker) fill(s *Summary) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s.Succeeded = t.succeeded
	s.Skipped = t.skipped
	s.Failed = t.failed
	s.SchemaMismatches = t.mismatches
	s.RecordsImported = t.records
}
