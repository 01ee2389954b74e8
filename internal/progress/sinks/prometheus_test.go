package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/openparl/parlingest/internal/progress"
)

// TestPrometheusSinkRecordsMetrics ensures counters and histograms are incremented from events.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	runID := progress.UUIDToBytes(uuid.New())
	batch := []progress.Event{
		{RunID: runID, TS: time.Now(), Stage: progress.StageRunStart, Mode: "full"},
		{
			RunID:    runID,
			TS:       time.Now().Add(10 * time.Second),
			Stage:    progress.StageFileDone,
			Category: "iniciativas",
			URL:      "https://app.parlamento.pt/dados/iniciativas15.xml",
			Outcome:  progress.OutcomeImported,
			Records:  40,
			Bytes:    1024,
			Dur:      200 * time.Millisecond,
		},
		{RunID: runID, TS: time.Now().Add(15 * time.Second), Stage: progress.StageRunDone, Dur: 15 * time.Second},
	}

	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsStarted))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("success")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("error")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsRunning))

	require.InDelta(
		t,
		1.0,
		testutil.ToFloat64(sink.filesProcessed.WithLabelValues("iniciativas", string(progress.OutcomeImported))),
		1e-9,
	)
	require.InDelta(t, 40.0, testutil.ToFloat64(sink.recordsImported.WithLabelValues("iniciativas")), 1e-9)
	require.Equal(t, 1, testutil.CollectAndCount(sink.importDuration, "parlingest_import_duration_seconds"))
}

// TestPrometheusSinkTracksCanceledRuns labels canceled completions distinctly.
func TestPrometheusSinkTracksCanceledRuns(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	runID := progress.UUIDToBytes(uuid.New())
	batch := []progress.Event{
		{RunID: runID, TS: time.Now(), Stage: progress.StageRunStart, Mode: "full"},
		{RunID: runID, TS: time.Now(), Stage: progress.StageRunDone, Outcome: progress.OutcomeCanceled},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("canceled")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsRunning))
}
