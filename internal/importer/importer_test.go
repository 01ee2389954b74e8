package importer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openparl/parlingest/internal/entity"
	"github.com/openparl/parlingest/internal/hash/sha256"
	"github.com/openparl/parlingest/internal/ingest"
	"github.com/openparl/parlingest/internal/ledger"
	"github.com/openparl/parlingest/internal/metrics"
	notifymem "github.com/openparl/parlingest/internal/notify/memory"
	"github.com/openparl/parlingest/internal/progress"
	storemem "github.com/openparl/parlingest/internal/storage/memory"
)

const iniciativasXML = `<ArrayOfIniciativas>
	<Iniciativa>
		<IniId>121380</IniId>
		<IniLeg>XV</IniLeg>
		<IniNr>40</IniNr>
		<IniDescTipo>Projeto de Lei</IniDescTipo>
		<IniTitulo>Altera o regime do arrendamento urbano</IniTitulo>
		<IniAutorGrupoParlamentar>PS</IniAutorGrupoParlamentar>
		<IniDataEntrada>2023-01-12</IniDataEntrada>
	</Iniciativa>
	<Iniciativa>
		<IniId>121411</IniId>
		<IniLeg>XV</IniLeg>
		<IniNr>41</IniNr>
		<IniDescTipo>Proposta de Lei</IniDescTipo>
		<IniTitulo>Orcamento retificativo</IniTitulo>
		<IniAutorGrupoParlamentar>GOV</IniAutorGrupoParlamentar>
		<IniDataEntrada>2023-01-13</IniDataEntrada>
	</Iniciativa>
</ArrayOfIniciativas>`

const iniciativasChangedXML = `<ArrayOfIniciativas>
	<Iniciativa>
		<IniId>121500</IniId>
		<IniLeg>XV</IniLeg>
		<IniNr>42</IniNr>
		<IniDescTipo>Projeto de Resolucao</IniDescTipo>
		<IniTitulo>Recomenda ao Governo a revisao do regime</IniTitulo>
		<IniDataEntrada>2023-02-01</IniDataEntrada>
	</Iniciativa>
</ArrayOfIniciativas>`

const biografiaSemIDXML = `<RegistoBiografico>
	<Deputado>
		<DepNomeParlamentar>Ana Gomes</DepNomeParlamentar>
	</Deputado>
</RegistoBiografico>`

type fakeFetcher struct {
	mu      sync.Mutex
	body    []byte
	err     error
	probe   ingest.HeadProbe
	probeOK bool
	gets    int
}

func (f *fakeFetcher) Get(_ context.Context, _ string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	if f.err != nil {
		return nil, f.err
	}
	return append([]byte(nil), f.body...), nil
}

func (f *fakeFetcher) Head(_ context.Context, _ string) (ingest.HeadProbe, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.probe, f.probeOK
}

func (f *fakeFetcher) getCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gets
}

func (f *fakeFetcher) set(body []byte, probe ingest.HeadProbe, probeOK bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.body = body
	f.probe = probe
	f.probeOK = probeOK
}

type fakeEntityWriter struct {
	mu      sync.Mutex
	fail    error
	batches []entity.Batch
}

func (w *fakeEntityWriter) ApplyBatch(_ context.Context, b entity.Batch) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fail != nil {
		return w.fail
	}
	w.batches = append(w.batches, b)
	return nil
}

func (w *fakeEntityWriter) applied() []entity.Batch {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]entity.Batch, len(w.batches))
	copy(out, w.batches)
	return out
}

type fakeClock struct{ now time.Time }

func (c fakeClock) Now() time.Time { return c.now }

type collectEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (c *collectEmitter) Emit(evt progress.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
}

func (c *collectEmitter) all() []progress.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]progress.Event, len(c.events))
	copy(out, c.events)
	return out
}

// writeCountLedger counts mutating ledger calls so skip paths can prove they
// left the rows alone.
type writeCountLedger struct {
	*storemem.LedgerStore
	mu        sync.Mutex
	claims    int
	completes int
}

func (s *writeCountLedger) Claim(ctx context.Context, url string, at time.Time) (ledger.Record, bool, error) {
	s.mu.Lock()
	s.claims++
	s.mu.Unlock()
	return s.LedgerStore.Claim(ctx, url, at)
}

func (s *writeCountLedger) Complete(ctx context.Context, url string, res ledger.Result) error {
	s.mu.Lock()
	s.completes++
	s.mu.Unlock()
	return s.LedgerStore.Complete(ctx, url, res)
}

func (s *writeCountLedger) counts() (claims, completes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.claims, s.completes
}

type fixture struct {
	fetcher  *fakeFetcher
	blobs    *storemem.BlobStore
	rows     *storemem.LedgerStore
	entities *fakeEntityWriter
	notices  *notifymem.Notifier
	emitter  *collectEmitter
	imp      *Importer
}

var testRunID = [16]byte{0xaa, 0x01}

func newFixture(t *testing.T, body string) *fixture {
	t.Helper()
	metrics.Init()

	fx := &fixture{
		fetcher:  &fakeFetcher{body: []byte(body)},
		blobs:    storemem.NewBlobStore(),
		rows:     storemem.NewLedgerStore(),
		entities: &fakeEntityWriter{},
		notices:  notifymem.New(),
		emitter:  &collectEmitter{},
	}
	fx.imp = New(
		fx.fetcher,
		fx.blobs,
		fx.rows,
		fx.entities,
		sha256.New(),
		fx.notices,
		fakeClock{now: time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC)},
		fx.emitter,
		nil,
	)
	return fx
}

func (fx *fixture) seed(t *testing.T, d ingest.FileDescriptor) {
	t.Helper()
	require.NoError(t, fx.rows.UpsertPending(context.Background(), ledger.FromDescriptor(d)))
}

func iniciativasDescriptor() ingest.FileDescriptor {
	return ingest.FileDescriptor{
		URL:         "https://example.test/doc?fich=IniciativasXV.xml",
		DisplayName: "IniciativasXV.xml",
		Type:        ingest.TypeIniciativas,
		Category:    "Iniciativas",
		Legislature: 15,
	}
}

func TestProcessImportsNewFile(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, iniciativasXML)
	d := iniciativasDescriptor()
	fx.seed(t, d)

	res := fx.imp.Process(context.Background(), testRunID, d)
	require.NoError(t, res.Err)
	require.Equal(t, progress.OutcomeImported, res.Outcome)
	require.Equal(t, 2, res.Records)

	rec, err := fx.rows.Get(context.Background(), d.URL)
	require.NoError(t, err)
	require.Equal(t, ledger.StatusCompleted, rec.Status)
	require.Equal(t, 2, rec.RecordsImported)
	require.Len(t, rec.ContentHash, 64)
	require.Equal(t, int64(len(iniciativasXML)), rec.ByteSize)

	staged, err := fx.blobs.Exists(context.Background(), ingest.StagePath(d))
	require.NoError(t, err)
	require.True(t, staged)

	batches := fx.entities.applied()
	require.Len(t, batches, 1)
	require.Len(t, batches[0].Initiatives, 2)
	first := batches[0].Initiatives[0]
	require.Equal(t, "121380", first.ExternalID)
	require.Equal(t, 15, first.Legislature)
	require.Equal(t, "Projeto de Lei", first.Kind)
	require.Equal(t, "PS", first.Author)

	notices := fx.notices.Notices()
	require.Len(t, notices, 1)
	require.Equal(t, rec.ContentHash, notices[0].ContentHash)
	require.Equal(t, 2, notices[0].Records)

	events := fx.emitter.all()
	require.Len(t, events, 2)
	require.Equal(t, progress.StageFileStart, events[0].Stage)
	require.Equal(t, progress.StageFileDone, events[1].Stage)
	require.Equal(t, progress.OutcomeImported, events[1].Outcome)
	require.Equal(t, int64(2), events[1].Records)
	require.Equal(t, int64(len(iniciativasXML)), events[1].Bytes)
}

func TestProcessSkipsUnchangedContent(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, iniciativasXML)
	d := iniciativasDescriptor()
	fx.seed(t, d)

	first := fx.imp.Process(context.Background(), testRunID, d)
	require.Equal(t, progress.OutcomeImported, first.Outcome)

	second := fx.imp.Process(context.Background(), testRunID, d)
	require.NoError(t, second.Err)
	require.Equal(t, progress.OutcomeSkipped, second.Outcome)
	require.Zero(t, second.Records)

	// The staged copy satisfied the second pass without re-downloading.
	require.Equal(t, 1, fx.fetcher.getCount())
	require.Len(t, fx.entities.applied(), 1)
	require.Len(t, fx.notices.Notices(), 1)

	rec, err := fx.rows.Get(context.Background(), d.URL)
	require.NoError(t, err)
	require.Equal(t, ledger.StatusCompleted, rec.Status)
	require.Equal(t, 2, rec.RecordsImported)

	events := fx.emitter.all()
	require.Len(t, events, 4)
	last := events[3]
	require.Equal(t, progress.StageFileDone, last.Stage)
	require.Equal(t, progress.OutcomeSkipped, last.Outcome)
	require.Zero(t, last.Records)
}

func TestProcessUnchangedRunLeavesLedgerUntouched(t *testing.T) {
	t.Parallel()
	metrics.Init()

	rows := &writeCountLedger{LedgerStore: storemem.NewLedgerStore()}
	fetcher := &fakeFetcher{body: []byte(iniciativasXML)}
	clock := fakeClock{now: time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC)}
	imp := New(fetcher, storemem.NewBlobStore(), rows, &fakeEntityWriter{}, sha256.New(), nil, clock, nil, nil)

	ctx := context.Background()
	d := iniciativasDescriptor()
	require.NoError(t, rows.UpsertPending(ctx, ledger.FromDescriptor(d)))

	first := imp.Process(ctx, testRunID, d)
	require.Equal(t, progress.OutcomeImported, first.Outcome)
	before, err := rows.Get(ctx, d.URL)
	require.NoError(t, err)

	second := imp.Process(ctx, testRunID, d)
	require.Equal(t, progress.OutcomeSkipped, second.Outcome)

	// One claim and one completion from the import; the unchanged pass
	// wrote nothing, not even a timestamp refresh.
	claims, completes := rows.counts()
	require.Equal(t, 1, claims)
	require.Equal(t, 1, completes)

	after, err := rows.Get(ctx, d.URL)
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestProcessRefetchesWhenPortalReportsNewSize(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, iniciativasXML)
	d := iniciativasDescriptor()
	fx.seed(t, d)

	first := fx.imp.Process(context.Background(), testRunID, d)
	require.Equal(t, progress.OutcomeImported, first.Outcome)
	require.Equal(t, 2, first.Records)

	fx.fetcher.set([]byte(iniciativasChangedXML),
		ingest.HeadProbe{StatusCode: 200, ContentLength: int64(len(iniciativasChangedXML))}, true)

	second := fx.imp.Process(context.Background(), testRunID, d)
	require.NoError(t, second.Err)
	require.Equal(t, progress.OutcomeImported, second.Outcome)
	require.Equal(t, 1, second.Records)

	require.Equal(t, 2, fx.fetcher.getCount())

	rec, err := fx.rows.Get(context.Background(), d.URL)
	require.NoError(t, err)
	require.Equal(t, 1, rec.RecordsImported)
	require.Equal(t, int64(len(iniciativasChangedXML)), rec.ByteSize)

	batches := fx.entities.applied()
	require.Len(t, batches, 2)
	require.Equal(t, "121500", batches[1].Initiatives[0].ExternalID)
}

func TestProcessSchemaMismatchWritesNothing(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, biografiaSemIDXML)
	d := ingest.FileDescriptor{
		URL:         "https://example.test/doc?fich=RegistoBiograficoXV.xml",
		DisplayName: "RegistoBiograficoXV.xml",
		Type:        ingest.TypeRegistoBiografico,
		Category:    "Registo Biografico",
		Legislature: 15,
	}
	fx.seed(t, d)

	res := fx.imp.Process(context.Background(), testRunID, d)
	require.Equal(t, progress.OutcomeMismatch, res.Outcome)
	require.Zero(t, res.Records)
	require.Equal(t, ingest.KindSchema, ingest.KindOf(res.Err))

	require.Empty(t, fx.entities.applied())
	require.Empty(t, fx.notices.Notices())

	rec, err := fx.rows.Get(context.Background(), d.URL)
	require.NoError(t, err)
	require.Equal(t, ledger.StatusSchemaMismatch, rec.Status)
	require.NotEmpty(t, rec.SchemaIssues)
	require.Zero(t, rec.RecordsImported)

	events := fx.emitter.all()
	require.Equal(t, progress.OutcomeMismatch, events[len(events)-1].Outcome)
	require.NotEmpty(t, events[len(events)-1].Note)
}

func TestProcessRecordsDownloadFailure(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, "")
	d := iniciativasDescriptor()
	fx.seed(t, d)
	fx.fetcher.err = ingest.NewError(ingest.KindHTTPStatus, "get", d.URL,
		&ingest.StatusError{Code: 404, URL: d.URL})

	res := fx.imp.Process(context.Background(), testRunID, d)
	require.Equal(t, progress.OutcomeFailed, res.Outcome)
	require.Equal(t, ingest.KindHTTPStatus, ingest.KindOf(res.Err))

	rec, err := fx.rows.Get(context.Background(), d.URL)
	require.NoError(t, err)
	require.Equal(t, ledger.StatusFailed, rec.Status)
	require.Contains(t, rec.ErrorDetail, "404")

	staged, err := fx.blobs.Exists(context.Background(), ingest.StagePath(d))
	require.NoError(t, err)
	require.False(t, staged)
}

func TestProcessStagesReferenceDocumentWithoutRows(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, "%PDF-1.4 fake journal issue")
	d := ingest.FileDescriptor{
		URL:         "https://example.test/doc?fich=dar_s1_n07.pdf",
		DisplayName: "dar_s1_n07.pdf",
		Type:        ingest.TypeDiarios,
		Category:    "Diarios",
		Legislature: 15,
		Path:        ingest.ArchivePath{SubSeries: "DAR I Serie"},
	}
	fx.seed(t, d)

	res := fx.imp.Process(context.Background(), testRunID, d)
	require.NoError(t, res.Err)
	require.Equal(t, progress.OutcomeImported, res.Outcome)
	require.Zero(t, res.Records)

	rec, err := fx.rows.Get(context.Background(), d.URL)
	require.NoError(t, err)
	require.Equal(t, ledger.StatusCompleted, rec.Status)
	require.Zero(t, rec.RecordsImported)

	staged, err := fx.blobs.Exists(context.Background(), ingest.StagePath(d))
	require.NoError(t, err)
	require.True(t, staged)

	require.Empty(t, fx.entities.applied())
	notices := fx.notices.Notices()
	require.Len(t, notices, 1)
	require.Zero(t, notices[0].Records)
}

func TestProcessRecordsWriteFailure(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, iniciativasXML)
	d := iniciativasDescriptor()
	fx.seed(t, d)
	fx.entities.fail = errors.New("deadlock detected")

	res := fx.imp.Process(context.Background(), testRunID, d)
	require.Equal(t, progress.OutcomeFailed, res.Outcome)
	require.Equal(t, ingest.KindWrite, ingest.KindOf(res.Err))

	rec, err := fx.rows.Get(context.Background(), d.URL)
	require.NoError(t, err)
	require.Equal(t, ledger.StatusFailed, rec.Status)
	require.Contains(t, rec.ErrorDetail, "deadlock")
	require.Empty(t, fx.notices.Notices())
}

func TestProcessSkipsRowHeldByAnotherWorker(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, iniciativasXML)
	d := iniciativasDescriptor()
	fx.seed(t, d)

	_, ok, err := fx.rows.Claim(context.Background(), d.URL, time.Now())
	require.NoError(t, err)
	require.True(t, ok)

	res := fx.imp.Process(context.Background(), testRunID, d)
	require.Equal(t, progress.OutcomeSkipped, res.Outcome)
	require.Zero(t, fx.fetcher.getCount())
	require.Empty(t, fx.emitter.all())
}
