package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openparl/parlingest/internal/config"
	"github.com/openparl/parlingest/internal/pipeline"
)

func memoryConfig() config.Config {
	return config.Config{
		Server: config.ServerConfig{Port: 0},
		Portal: config.PortalConfig{
			UserAgent:   "parlingest-test",
			RatePerHost: 100,
			Burst:       10,
			MaxDepth:    4,
		},
		HTTP: config.HTTPConfig{TimeoutSeconds: 10, BackoffMultiplier: 2},
		Pipeline: config.PipelineConfig{
			DownloadWorkers: 2,
			ImportWorkers:   1,
			BacklogDepth:    16,
			Formats:         []string{"xml"},
		},
		Staging: config.StagingConfig{Provider: "memory"},
		Notify:  config.NotifyConfig{Provider: "memory"},
		Logging: config.LoggingConfig{Development: true},
	}
}

func TestBuildMemoryProviders(t *testing.T) {
	a, err := Build(context.Background(), memoryConfig())
	require.NoError(t, err)
	require.NotNil(t, a.Pipeline())
	require.NotNil(t, a.Logger())

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, a.Close(context.Background()))
}

func TestBuildRejectsUnknownProviders(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{
			name:   "staging",
			mutate: func(c *config.Config) { c.Staging.Provider = "s3" },
			want:   "unknown staging provider",
		},
		{
			name:   "notify",
			mutate: func(c *config.Config) { c.Notify.Provider = "kafka" },
			want:   "unknown notify provider",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := memoryConfig()
			tt.mutate(&cfg)
			_, err := Build(context.Background(), cfg)
			require.ErrorContains(t, err, tt.want)
		})
	}
}

func TestRunFullThenOpsVisibility(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/arquivo", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, `<html><body>
			<div class="archive-item"><a href="/docs/IniciativasXV.xml">IniciativasXV.xml</a></div>
		</body></html>`)
	})
	mux.HandleFunc("/docs/IniciativasXV.xml", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprint(w, `<ArrayOfIniciativas>
			<Iniciativa>
				<IniId>121380</IniId>
				<IniLeg>XV</IniLeg>
				<IniTitulo>Altera o regime do arrendamento urbano</IniTitulo>
			</Iniciativa>
			<Iniciativa>
				<IniId>121411</IniId>
				<IniLeg>XV</IniLeg>
				<IniTitulo>Orcamento retificativo</IniTitulo>
			</Iniciativa>
		</ArrayOfIniciativas>`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	cfg := memoryConfig()
	cfg.Portal.Roots = []string{srv.URL + "/arquivo"}

	a, err := Build(context.Background(), cfg)
	require.NoError(t, err)

	summary, err := a.Run(context.Background(), pipeline.ModeFull)
	require.NoError(t, err)
	require.Equal(t, int64(1), summary.Discovered)
	require.Equal(t, int64(1), summary.Succeeded)
	require.Equal(t, int64(2), summary.RecordsImported)

	// Close flushes the progress hub, so the store sink has persisted the
	// run before the ops API is queried.
	require.NoError(t, a.Close(context.Background()))

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs?status=succeeded", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Runs []struct {
			Mode   string `json:"mode"`
			Status string `json:"status"`
			Totals struct {
				Succeeded       int `json:"succeeded"`
				RecordsImported int `json:"records_imported"`
			} `json:"totals"`
		} `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Runs, 1)
	require.Equal(t, "full", body.Runs[0].Mode)
	require.Equal(t, 1, body.Runs[0].Totals.Succeeded)
	require.Equal(t, 2, body.Runs[0].Totals.RecordsImported)
}

func TestServeRequiresPort(t *testing.T) {
	a, err := Build(context.Background(), memoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	err = a.Serve(context.Background())
	require.ErrorContains(t, err, "ops server disabled")
}
