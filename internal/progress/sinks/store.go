package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/paperscraper/internal/progress"
	"github.com/JakeFAU/paperscraper/internal/store"
)

// StoreSink persists events through a store.AttemptRepository. Consecutive
// attempts are written in one call; event order is otherwise preserved so a
// record is never completed before its attempts exist.
type StoreSink struct {
	repo   store.AttemptRepository
	logger *zap.Logger
}

// NewStoreSink returns a StoreSink for repo.
func NewStoreSink(repo store.AttemptRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume writes the batch and stops at the first repository error.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	var attempts []store.Attempt
	flushAttempts := func() error {
		if len(attempts) == 0 {
			return nil
		}
		if err := s.repo.RecordAttempts(ctx, attempts); err != nil {
			return fmt.Errorf("record attempts: %w", err)
		}
		attempts = nil
		return nil
	}

	for _, evt := range batch {
		if evt.Stage == progress.StageAttemptDone {
			attempts = append(attempts, toAttempt(evt))
			continue
		}
		if err := flushAttempts(); err != nil {
			return err
		}
		if err := s.apply(ctx, evt); err != nil {
			return err
		}
	}
	return flushAttempts()
}

func (s *StoreSink) apply(ctx context.Context, evt progress.Event) error {
	batchID := evt.BatchUUID()
	switch evt.Stage {
	case progress.StageBatchStart:
		if err := s.repo.StartBatch(ctx, batchID, evt.TS, evt.Total); err != nil {
			return fmt.Errorf("start batch: %w", err)
		}
	case progress.StageRecordDone:
		outcome := store.RecordOutcome{
			BatchID:    batchID,
			RecordID:   evt.RecordID,
			Title:      evt.Title,
			Result:     evt.Result,
			DurationMs: evt.Dur.Milliseconds(),
			At:         evt.TS,
		}
		if evt.Result == progress.ResultSuccess {
			outcome.Destination = evt.Note
		}
		if err := s.repo.CompleteRecord(ctx, outcome); err != nil {
			return fmt.Errorf("complete record: %w", err)
		}
	case progress.StageBatchDone:
		if err := s.repo.CompleteBatch(ctx, batchID, evt.TS, evt.Total, evt.Succeeded); err != nil {
			return fmt.Errorf("complete batch: %w", err)
		}
	default:
		s.logger.Debug("store sink ignoring event", zap.String("stage", string(evt.Stage)))
	}
	return nil
}

func toAttempt(evt progress.Event) store.Attempt {
	a := store.Attempt{
		BatchID:    evt.BatchUUID(),
		RecordID:   evt.RecordID,
		Strategy:   evt.Strategy,
		Priority:   evt.Priority,
		Result:     evt.Result,
		DurationMs: evt.Dur.Milliseconds(),
		At:         evt.TS,
	}
	if evt.Note != "" {
		note := evt.Note
		a.Error = &note
	}
	return a
}

// Close is a no-op.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
