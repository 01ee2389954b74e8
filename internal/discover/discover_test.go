package discover

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openparl/parlingest/internal/httpclient"
	"github.com/openparl/parlingest/internal/ingest"
	"github.com/openparl/parlingest/internal/metrics"
)

// newArchiveServer serves the given path->HTML pages; every other path is a
// plain 404 so broken references exercise the skip path.
func newArchiveServer(t *testing.T, pages map[string]string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	for path, body := range pages {
		page := body
		mux.HandleFunc(path, func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			fmt.Fprint(w, page)
		})
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestFetcher(t *testing.T) ingest.Fetcher {
	t.Helper()
	metrics.Init()
	return httpclient.New(httpclient.Options{MaxRetries: 0, Timeout: 5 * time.Second}, nil, nil)
}

func collect(t *testing.T, d *Discoverer) []ingest.FileDescriptor {
	t.Helper()
	var got []ingest.FileDescriptor
	err := d.Discover(context.Background(), func(fd ingest.FileDescriptor) error {
		got = append(got, fd)
		return nil
	})
	require.NoError(t, err)
	return got
}

func TestDiscoverWalksFlatArchive(t *testing.T) {
	t.Parallel()

	// The root lists a download twice with the query parameters in a
	// different order, links one healthy subpage and one that 404s, and
	// carries a block with no anchor at all.
	srv := newArchiveServer(t, map[string]string{
		"/arquivo": `<html><body>
			<div class="archive-item"><a href="/doc?fich=IniciativasXV.xml&amp;Inline=true"> IniciativasXV.xml </a><span>2023-01-12</span></div>
			<div class="archive-item"><a href="/arquivo/peticoes">Peticoes Arquivo Historico</a></div>
			<div class="archive-item"><a href="/doc?Inline=true&amp;fich=IniciativasXV.xml">IniciativasXV.xml</a></div>
			<div class="archive-item"><a href="/arquivo/indisponivel">Atividades Arquivo</a></div>
			<div class="archive-item"><span>sem ligacao</span></div>
		</body></html>`,
		"/arquivo/peticoes": `<html><body>
			<div class="archive-item"><a href="/doc?fich=PeticoesXIV_json.txt&amp;Inline=true">PeticoesXIV_json.txt</a></div>
		</body></html>`,
	})

	d := New(newTestFetcher(t), Config{Roots: []string{srv.URL + "/arquivo"}}, nil)
	got := collect(t, d)

	want := []ingest.FileDescriptor{
		{
			URL:         srv.URL + "/doc?fich=IniciativasXV.xml",
			DisplayName: "IniciativasXV.xml",
			Type:        ingest.TypeIniciativas,
			Category:    "Iniciativas",
			Legislature: 15,
		},
		{
			URL:         srv.URL + "/doc?fich=PeticoesXIV_json.txt",
			DisplayName: "PeticoesXIV_json.txt",
			Type:        ingest.TypePeticoes.JSONVariant(),
			Category:    "Peticoes",
			Legislature: 14,
			Path:        ingest.ArchivePath{Trail: []string{"Peticoes Arquivo Historico"}},
		},
	}
	require.Equal(t, want, got)
}

func TestDiscoverDeepSeriesHierarchy(t *testing.T) {
	t.Parallel()

	// Each level of a series walk has a fixed meaning. The journal issue
	// number trailing the file name must not be misread as a legislature;
	// the XV hierarchy level is authoritative.
	srv := newArchiveServer(t, map[string]string{
		"/series": `<html><body>
			<div class="archive-item"><a href="/series/dar1">DAR I Serie</a></div>
		</body></html>`,
		"/series/dar1": `<html><body>
			<div class="archive-item"><a href="/series/dar1/xv">XV</a></div>
		</body></html>`,
		"/series/dar1/xv": `<html><body>
			<div class="archive-item"><a href="/series/dar1/xv/s1">Sessao Legislativa 1</a></div>
		</body></html>`,
		"/series/dar1/xv/s1": `<html><body>
			<div class="archive-item"><a href="/series/dar1/xv/s1/n07">Numero 07</a></div>
		</body></html>`,
		"/series/dar1/xv/s1/n07": `<html><body>
			<div class="archive-item"><a href="/doc?fich=dar_s1_n07.pdf&amp;Inline=true">dar_s1_n07.pdf</a></div>
		</body></html>`,
	})

	d := New(newTestFetcher(t), Config{SeriesRoots: []string{srv.URL + "/series"}}, nil)
	got := collect(t, d)

	want := []ingest.FileDescriptor{
		{
			URL:         srv.URL + "/doc?fich=dar_s1_n07.pdf",
			DisplayName: "dar_s1_n07.pdf",
			Type:        ingest.TypeDiarios,
			Category:    "Diarios",
			Legislature: 15,
			Path: ingest.ArchivePath{
				SubSeries: "DAR I Serie",
				Session:   "Sessao Legislativa 1",
				Number:    "Numero 07",
				Trail:     []string{"DAR I Serie", "XV", "Sessao Legislativa 1", "Numero 07"},
			},
		},
	}
	require.Equal(t, want, got)
}

func TestDiscoverStopsAtMaxDepth(t *testing.T) {
	t.Parallel()

	srv := newArchiveServer(t, map[string]string{
		"/arquivo": `<html><body>
			<div class="archive-item"><a href="/arquivo/nivel1">Iniciativas Arquivo</a></div>
		</body></html>`,
		"/arquivo/nivel1": `<html><body>
			<div class="archive-item"><a href="/doc?fich=IniciativasXIV.xml">IniciativasXIV.xml</a></div>
			<div class="archive-item"><a href="/arquivo/nivel2">XIII Legislatura</a></div>
		</body></html>`,
		"/arquivo/nivel2": `<html><body>
			<div class="archive-item"><a href="/doc?fich=IniciativasXIII.xml">IniciativasXIII.xml</a></div>
		</body></html>`,
	})

	d := New(newTestFetcher(t), Config{Roots: []string{srv.URL + "/arquivo"}, MaxDepth: 1}, nil)
	got := collect(t, d)

	require.Len(t, got, 1)
	require.Equal(t, srv.URL+"/doc?fich=IniciativasXIV.xml", got[0].URL)
	require.Equal(t, 14, got[0].Legislature)
}

func TestDiscoverEmitErrorStopsWalk(t *testing.T) {
	t.Parallel()

	srv := newArchiveServer(t, map[string]string{
		"/arquivo": `<html><body>
			<div class="archive-item"><a href="/doc?fich=IniciativasXV.xml">IniciativasXV.xml</a></div>
			<div class="archive-item"><a href="/doc?fich=IniciativasXIV.xml">IniciativasXIV.xml</a></div>
		</body></html>`,
	})

	d := New(newTestFetcher(t), Config{Roots: []string{srv.URL + "/arquivo"}}, nil)

	sentinel := errors.New("backlog full")
	calls := 0
	err := d.Discover(context.Background(), func(ingest.FileDescriptor) error {
		calls++
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)
	require.Equal(t, 1, calls)
}

func TestDiscoverCanceledContext(t *testing.T) {
	t.Parallel()

	srv := newArchiveServer(t, map[string]string{
		"/arquivo": `<html><body>
			<div class="archive-item"><a href="/doc?fich=IniciativasXV.xml">IniciativasXV.xml</a></div>
		</body></html>`,
	})

	d := New(newTestFetcher(t), Config{Roots: []string{srv.URL + "/arquivo"}}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := d.Discover(ctx, func(ingest.FileDescriptor) error {
		t.Fatal("no descriptor should be emitted after cancellation")
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
}
