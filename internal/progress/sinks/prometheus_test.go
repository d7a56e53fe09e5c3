package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/paperscraper/internal/progress"
)

// TestPrometheusSinkRecordsMetrics ensures counters and histograms follow the events.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	batchID := progress.UUIDToBytes(uuid.New())
	now := time.Now()
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{BatchID: batchID, TS: now, Stage: progress.StageBatchStart, Total: 2},
		{BatchID: batchID, TS: now, Stage: progress.StageBatchStart, Total: 2},
	}))
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.batchesRunning), 1e-9)

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{
			BatchID:  batchID,
			TS:       now,
			Stage:    progress.StageAttemptDone,
			RecordID: "p1",
			Strategy: "arxiv",
			Result:   progress.ResultFailed,
			Dur:      200 * time.Millisecond,
		},
		{
			BatchID:  batchID,
			TS:       now,
			Stage:    progress.StageAttemptDone,
			RecordID: "p1",
			Strategy: "pmc",
			Result:   progress.ResultSuccess,
			Dur:      time.Second,
		},
		{BatchID: batchID, TS: now, Stage: progress.StageRecordDone, RecordID: "p1", Result: progress.ResultSuccess, Dur: time.Second},
		{BatchID: batchID, TS: now, Stage: progress.StageBatchDone, Total: 2, Succeeded: 1, Dur: 3 * time.Second},
	}))

	require.InDelta(t, 2.0, testutil.ToFloat64(sink.batchesStarted), 1e-9)
	require.InDelta(t, 0.0, testutil.ToFloat64(sink.batchesRunning), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.attempts.WithLabelValues("arxiv", progress.ResultFailed)), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.attempts.WithLabelValues("pmc", progress.ResultSuccess)), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.records.WithLabelValues(progress.ResultSuccess)), 1e-9)
	require.Equal(t, 2, testutil.CollectAndCount(sink.attemptDuration, "paperscraper_attempt_duration_seconds"))
	require.Equal(t, 1, testutil.CollectAndCount(sink.batchRuntime, "paperscraper_batch_runtime_seconds"))
}

func TestPrometheusSinkRejectsDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
