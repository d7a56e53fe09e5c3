package progress

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/paperscraper/internal/scraper"
)

// TestHubFlushesWhenBatchIsFull verifies the size trigger.
func TestHubFlushesWhenBatchIsFull(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{BufferSize: 8, MaxBatchEvents: 2, MaxBatchWait: time.Minute}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(sampleEvent(StageBatchStart))
	hub.Emit(sampleEvent(StageBatchStart))
	require.Eventually(t, func() bool {
		b := sink.Batches()
		return len(b) == 1 && len(b[0]) == 2
	}, time.Second, 10*time.Millisecond)
}

// TestHubFlushesOnTimer verifies a partial batch is delivered after MaxBatchWait.
func TestHubFlushesOnTimer(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{BufferSize: 4, MaxBatchEvents: 10, MaxBatchWait: 25 * time.Millisecond}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(sampleEvent(StageBatchStart))
	require.Eventually(t, func() bool {
		return len(sink.Batches()) == 1
	}, time.Second, 5*time.Millisecond)
}

// TestHubEmitNeverBlocks asserts a full buffer drops instead of blocking.
func TestHubEmitNeverBlocks(t *testing.T) {
	t.Parallel()

	hub := &Hub{
		events:  make(chan Event),
		logger:  zap.NewNop(),
		dropLog: dropThrottle{interval: time.Hour},
	}
	start := time.Now()
	hub.Emit(sampleEvent(StageBatchStart))
	hub.Emit(sampleEvent(StageBatchStart))
	require.Less(t, time.Since(start), 50*time.Millisecond)
	assert.Equal(t, int64(2), hub.Dropped())
}

// TestHubDrainsOnClose ensures pending events reach sinks before Close returns.
func TestHubDrainsOnClose(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{BufferSize: 4, MaxBatchEvents: 100, MaxBatchWait: time.Minute}, sink)
	hub.Emit(sampleEvent(StageBatchStart))

	require.NoError(t, hub.Close(context.Background()))
	require.NoError(t, hub.Close(context.Background()))
	require.Len(t, sink.Batches(), 1)
	require.Len(t, sink.Batches()[0], 1)
	assert.True(t, sink.closed())

	hub.Emit(sampleEvent(StageBatchStart))
	require.Len(t, sink.Batches(), 1)
}

// TestHubSurvivesSinkErrors keeps delivering to healthy sinks.
func TestHubSurvivesSinkErrors(t *testing.T) {
	t.Parallel()

	good := newStubSink()
	bad := sinkFunc(func(context.Context, []Event) error { return errors.New("down") })
	hub := NewHub(Config{MaxBatchEvents: 1}, bad, nil, good)
	hub.Emit(sampleEvent(StageBatchStart))
	require.NoError(t, hub.Close(context.Background()))
	assert.Len(t, good.Batches(), 1)
}

func TestEventValidate(t *testing.T) {
	t.Parallel()

	assert.NoError(t, sampleEvent(StageBatchStart).Validate())
	assert.NoError(t, sampleEvent(StageAttemptDone).Validate())
	assert.NoError(t, sampleEvent(StageRecordDone).Validate())

	missingBatch := sampleEvent(StageBatchDone)
	missingBatch.BatchID = [16]byte{}
	assert.Error(t, missingBatch.Validate())

	noStrategy := sampleEvent(StageAttemptDone)
	noStrategy.Strategy = ""
	assert.Error(t, noStrategy.Validate())

	badResult := sampleEvent(StageRecordDone)
	badResult.Result = "maybe"
	assert.Error(t, badResult.Validate())

	unknown := sampleEvent("NOPE")
	assert.Error(t, unknown.Validate())

	negative := sampleEvent(StageBatchDone)
	negative.Dur = -time.Second
	assert.Error(t, negative.Validate())
}

func TestObserverEmitsBatchEvents(t *testing.T) {
	t.Parallel()

	rec := &recordingEmitter{}
	obs := NewObserver(rec)
	id := uuid.New()
	ctx := scraper.ContextWithBatchID(context.Background(), id)

	obs.BatchStarted(ctx, 3)
	obs.AttemptDone(ctx, scraper.Attempt{
		RecordID: "p1",
		Strategy: "arxiv",
		Priority: 10,
		Status:   scraper.StatusFailed,
		Err:      errors.New("timeout"),
		Duration: time.Second,
	})
	obs.RecordDone(ctx, scraper.RecordResult{RecordID: "p1", Title: "T", Success: true, Destination: "/d/p1.pdf"})
	obs.BatchDone(ctx, scraper.BatchSummary{Attempted: 3, Succeeded: 1})
	obs.BatchStarted(context.Background(), 1)

	events := rec.list()
	require.Len(t, events, 4)
	for _, evt := range events {
		assert.Equal(t, id, evt.BatchUUID())
		assert.NoError(t, evt.Validate())
	}
	assert.Equal(t, 3, events[0].Total)
	assert.Equal(t, ResultFailed, events[1].Result)
	assert.Equal(t, "timeout", events[1].Note)
	assert.Equal(t, ResultSuccess, events[2].Result)
	assert.Equal(t, 1, events[3].Succeeded)
}

func TestLogReporterNeverFails(t *testing.T) {
	t.Parallel()

	r := NewLogReporter(nil)
	require.NoError(t, r.Report(context.Background(), "T", scraper.OutcomeMap{"a": scraper.StatusFailed}))
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingEmitter) Emit(evt Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recordingEmitter) list() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

type stubSink struct {
	mu       sync.Mutex
	batches  [][]Event
	isClosed bool
}

func newStubSink() *stubSink {
	return &stubSink{}
}

func (s *stubSink) Consume(_ context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]Event(nil), batch...))
	return nil
}

func (s *stubSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.isClosed = true
	return nil
}

func (s *stubSink) closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isClosed
}

func (s *stubSink) Batches() [][]Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]Event, len(s.batches))
	for i, b := range s.batches {
		out[i] = append([]Event(nil), b...)
	}
	return out
}

func sampleEvent(stage Stage) Event {
	evt := Event{
		BatchID: UUIDToBytes(uuid.New()),
		TS:      time.Now(),
		Stage:   stage,
	}
	switch stage {
	case StageAttemptDone:
		evt.RecordID = "p1"
		evt.Strategy = "arxiv"
		evt.Result = ResultSuccess
	case StageRecordDone:
		evt.RecordID = "p1"
		evt.Result = ResultFailed
	}
	return evt
}
