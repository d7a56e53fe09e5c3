package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/paperscraper/internal/progress"
)

// PrometheusSink exports batch, record and strategy attempt metrics.
type PrometheusSink struct {
	batchesStarted prometheus.Counter
	batchesRunning prometheus.Gauge
	batchRuntime   prometheus.Histogram

	attempts        *prometheus.CounterVec
	attemptDuration *prometheus.HistogramVec
	records         *prometheus.CounterVec
	recordDuration  *prometheus.HistogramVec

	tracker *batchTracker
}

// NewPrometheusSink registers its collectors with reg, or the default
// registerer when reg is nil.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		batchesStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "paperscraper_batches_started_total",
			Help: "Batches started.",
		}),
		batchesRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "paperscraper_batches_running",
			Help: "Batches currently running.",
		}),
		batchRuntime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "paperscraper_batch_runtime_seconds",
			Help:    "Wall time per completed batch.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "paperscraper_attempts_total",
			Help: "Strategy attempts partitioned by strategy and result.",
		}, []string{"strategy", "result"}),
		attemptDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "paperscraper_attempt_duration_seconds",
			Help:    "Strategy attempt duration including validation.",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"strategy"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "paperscraper_records_total",
			Help: "Records completed partitioned by result.",
		}, []string{"result"}),
		recordDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "paperscraper_record_duration_seconds",
			Help:    "Time spent on one record across all strategies.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300, 900},
		}, []string{"result"}),
		tracker: newBatchTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.batchesStarted,
		s.batchesRunning,
		s.batchRuntime,
		s.attempts,
		s.attemptDuration,
		s.records,
		s.recordDuration,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors. Safe for concurrent use.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageBatchStart:
			s.batchesStarted.Inc()
			if s.tracker.start(evt.BatchID) {
				s.batchesRunning.Inc()
			}
		case progress.StageBatchDone:
			if evt.Dur > 0 {
				s.batchRuntime.Observe(evt.Dur.Seconds())
			}
			if s.tracker.complete(evt.BatchID) {
				s.batchesRunning.Dec()
			}
		case progress.StageAttemptDone:
			s.attempts.WithLabelValues(evt.Strategy, evt.Result).Inc()
			if evt.Dur > 0 {
				s.attemptDuration.WithLabelValues(evt.Strategy).Observe(evt.Dur.Seconds())
			}
		case progress.StageRecordDone:
			s.records.WithLabelValues(evt.Result).Inc()
			if evt.Dur > 0 {
				s.recordDuration.WithLabelValues(evt.Result).Observe(evt.Dur.Seconds())
			}
		}
	}
	return nil
}

// Close is a no-op.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type batchTracker struct {
	mu      sync.Mutex
	running map[[16]byte]struct{}
}

func newBatchTracker() *batchTracker {
	return &batchTracker{running: make(map[[16]byte]struct{})}
}

func (t *batchTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *batchTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
