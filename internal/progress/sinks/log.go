package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/paperscraper/internal/progress"
)

// LogSink writes every event as a structured log line.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink returns a LogSink.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs the batch. Attempts and records log at debug, batch milestones at info.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("batch_id", evt.BatchUUID().String()),
			zap.String("stage", string(evt.Stage)),
			zap.Duration("dur", evt.Dur),
		}
		switch evt.Stage {
		case progress.StageAttemptDone:
			fields = append(fields,
				zap.String("record_id", evt.RecordID),
				zap.String("strategy", evt.Strategy),
				zap.Int("priority", evt.Priority),
				zap.String("result", evt.Result),
			)
			if evt.Note != "" {
				fields = append(fields, zap.String("note", evt.Note))
			}
			s.logger.Debug("progress event", fields...)
		case progress.StageRecordDone:
			fields = append(fields,
				zap.String("record_id", evt.RecordID),
				zap.String("title", evt.Title),
				zap.String("result", evt.Result),
			)
			s.logger.Debug("progress event", fields...)
		default:
			fields = append(fields, zap.Int("total", evt.Total), zap.Int("succeeded", evt.Succeeded))
			s.logger.Info("progress event", fields...)
		}
	}
	return nil
}

// Close is a no-op.
func (s *LogSink) Close(context.Context) error {
	return nil
}
