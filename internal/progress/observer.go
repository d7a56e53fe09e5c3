package progress

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/paperscraper/internal/scraper"
)

// Observer adapts scraper.Observer callbacks into Events. Callbacks outside a
// batch (no batch id on the context) are ignored.
type Observer struct {
	emitter Emitter
	now     func() time.Time
}

var _ scraper.Observer = (*Observer)(nil)

// NewObserver returns an Observer emitting to emitter.
func NewObserver(emitter Emitter) *Observer {
	return &Observer{emitter: emitter, now: func() time.Time { return time.Now().UTC() }}
}

// BatchStarted implements scraper.Observer.
func (o *Observer) BatchStarted(ctx context.Context, total int) {
	o.emit(ctx, Event{Stage: StageBatchStart, Total: total})
}

// AttemptDone implements scraper.Observer.
func (o *Observer) AttemptDone(ctx context.Context, a scraper.Attempt) {
	evt := Event{
		Stage:    StageAttemptDone,
		RecordID: a.RecordID,
		Strategy: a.Strategy,
		Priority: a.Priority,
		Result:   result(a.Status == scraper.StatusSuccess),
		Dur:      a.Duration,
	}
	if a.Err != nil {
		evt.Note = a.Err.Error()
	}
	o.emit(ctx, evt)
}

// RecordDone implements scraper.Observer.
func (o *Observer) RecordDone(ctx context.Context, r scraper.RecordResult) {
	o.emit(ctx, Event{
		Stage:    StageRecordDone,
		RecordID: r.RecordID,
		Title:    r.Title,
		Result:   result(r.Success),
		Dur:      r.Duration,
		Note:     r.Destination,
	})
}

// BatchDone implements scraper.Observer.
func (o *Observer) BatchDone(ctx context.Context, s scraper.BatchSummary) {
	o.emit(ctx, Event{
		Stage:     StageBatchDone,
		Total:     s.Attempted,
		Succeeded: s.Succeeded,
		Dur:       s.Duration,
	})
}

func (o *Observer) emit(ctx context.Context, evt Event) {
	if o == nil || o.emitter == nil {
		return
	}
	id, ok := scraper.BatchIDFromContext(ctx)
	if !ok || id == uuid.Nil {
		return
	}
	evt.BatchID = UUIDToBytes(id)
	evt.TS = o.now()
	o.emitter.Emit(evt)
}

func result(success bool) string {
	if success {
		return ResultSuccess
	}
	return ResultFailed
}

// NewLogReporter returns a scraper.Reporter that logs every outcome snapshot
// at debug level.
func NewLogReporter(logger *zap.Logger) scraper.Reporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return scraper.ReporterFunc(func(_ context.Context, title string, outcomes scraper.OutcomeMap) error {
		fields := make([]zap.Field, 0, len(outcomes)+1)
		fields = append(fields, zap.String("title", title))
		for name, status := range outcomes {
			fields = append(fields, zap.String("strategy."+name, string(status)))
		}
		logger.Debug("strategy outcomes", fields...)
		return nil
	})
}
