package scraper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/paperscraper/internal/id"
)

// DefaultBatchSize is the window size used when BatchOptions.BatchSize <= 0.
const DefaultBatchSize = 10

// Transform converts a successfully fetched record into result metadata.
type Transform func(ctx context.Context, rec Record) (any, error)

// BatchOptions configures BatchScrape.
type BatchOptions struct {
	// Transform defaults to returning the record unchanged.
	Transform Transform
	// BatchSize is the number of records scraped concurrently per window.
	BatchSize int
	// Limit stops launching windows once this many results exist. Zero means no limit.
	Limit int
}

// BatchResult maps an artifact path to its transformed record.
type BatchResult map[string]any

type batchIDKey struct{}

// ContextWithBatchID attaches a batch id to ctx.
func ContextWithBatchID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, batchIDKey{}, id)
}

// BatchIDFromContext returns the batch id set by BatchScrape, if any.
func BatchIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(batchIDKey{}).(uuid.UUID)
	return id, ok
}

type windowResult struct {
	path  string
	value any
}

// BatchScrape scrapes records in consecutive windows of opts.BatchSize. All
// records of a window run concurrently and each gets its global position as
// rotation index. Windows run sequentially; after each one the limit is
// checked. Artifacts land in dir under DestinationPath. A record's failure only
// removes it from the result.
func (s *Scraper) BatchScrape(ctx context.Context, records []Record, dir string, opts BatchOptions) (BatchResult, error) {
	if opts.Limit < 0 {
		return nil, fmt.Errorf("limit must be >= 0")
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	transform := opts.Transform
	if transform == nil {
		transform = func(_ context.Context, rec Record) (any, error) { return rec, nil }
	}

	if _, ok := BatchIDFromContext(ctx); !ok {
		batchID, err := id.NewBatchID()
		if err != nil {
			return nil, err
		}
		ctx = ContextWithBatchID(ctx, batchID)
	}
	batchID, _ := BatchIDFromContext(ctx)
	logger := s.logger.With(zap.String("batch_id", batchID.String()))

	start := time.Now()
	s.observer.BatchStarted(ctx, len(records))
	aggregated := make(BatchResult)
	summary := BatchSummary{}

	for windowStart := 0; windowStart < len(records); windowStart += batchSize {
		if err := ctx.Err(); err != nil {
			logger.Warn("batch canceled", zap.Error(err))
			break
		}
		windowEnd := min(windowStart+batchSize, len(records))
		window := records[windowStart:windowEnd]
		results := s.runWindow(ctx, logger, window, windowStart, dir, transform)
		for _, r := range results {
			if r == nil {
				continue
			}
			aggregated[r.path] = r.value
		}
		summary.Windows++
		summary.Attempted += len(window)
		logger.Info("batch window finished",
			zap.Int("window_start", windowStart),
			zap.Int("window_size", len(window)),
			zap.Int("results", len(aggregated)),
		)
		if opts.Limit > 0 && len(aggregated) >= opts.Limit {
			break
		}
	}

	summary.Succeeded = len(aggregated)
	summary.Duration = time.Since(start)
	s.observer.BatchDone(ctx, summary)
	return aggregated, nil
}

func (s *Scraper) runWindow(
	ctx context.Context,
	logger *zap.Logger,
	window []Record,
	offset int,
	dir string,
	transform Transform,
) []*windowResult {
	results := make([]*windowResult, len(window))
	var wg sync.WaitGroup
	for j, rec := range window {
		wg.Add(1)
		go func(j int, rec Record) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					logger.Error("record scrape panicked", zap.String("record_id", rec.RecordID()), zap.Any("panic", r))
				}
			}()
			path := DestinationPath(dir, rec.RecordID())
			if !s.Scrape(ctx, rec, path, offset+j, nil) {
				return
			}
			value, err := transform(ctx, rec)
			if err != nil {
				logger.Warn("transform failed", zap.String("record_id", rec.RecordID()), zap.Error(err))
				return
			}
			results[j] = &windowResult{path: path, value: value}
		}(j, rec)
	}
	wg.Wait()
	return results
}
