package scraper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("github.com/JakeFAU/paperscraper/internal/scraper")

// Scraper runs the registry's plan for one record at a time.
type Scraper struct {
	registry        *Registry
	validator       Validator
	reporter        Reporter
	observer        Observer
	logger          *zap.Logger
	strategyTimeout time.Duration
}

// ScraperOption customizes a Scraper.
type ScraperOption func(*Scraper)

// WithReporter sets the default reporter used when Scrape is given nil.
func WithReporter(reporter Reporter) ScraperOption {
	return func(s *Scraper) {
		s.reporter = reporter
	}
}

// WithObserver attaches an Observer for attempt and completion events.
func WithObserver(observer Observer) ScraperOption {
	return func(s *Scraper) {
		if observer != nil {
			s.observer = observer
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) ScraperOption {
	return func(s *Scraper) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithStrategyTimeout bounds every single strategy invocation. Zero disables it.
func WithStrategyTimeout(timeout time.Duration) ScraperOption {
	return func(s *Scraper) {
		s.strategyTimeout = timeout
	}
}

// New builds a Scraper over registry. validator is consulted for strategies
// registered with validation enabled.
func New(registry *Registry, validator Validator, opts ...ScraperOption) (*Scraper, error) {
	if registry == nil {
		return nil, errors.New("registry is required")
	}
	if validator == nil {
		return nil, errors.New("validator is required")
	}
	s := &Scraper{
		registry:  registry,
		validator: validator,
		observer:  nopObserver{},
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.strategyTimeout < 0 {
		return nil, fmt.Errorf("strategy timeout must be >= 0")
	}
	return s, nil
}

// tierStart reduces rotation into [0, n) before any addition so extreme
// rotations cannot overflow.
func tierStart(rotation, n int) int {
	start := rotation % n
	if start < 0 {
		start += n
	}
	return start
}

// Registry returns the registry backing this Scraper.
func (s *Scraper) Registry() *Registry {
	return s.registry
}

// Scrape tries every tier in descending priority until one strategy writes a
// validated artifact to dest. Inside a tier of size n the strategy at
// (rotation+offset) mod n is tried for offset 0..n-1. reporter falls back to
// the Scraper's default when nil. Strategy faults are recorded as failures and
// never returned.
func (s *Scraper) Scrape(ctx context.Context, rec Record, dest string, rotation int, reporter Reporter) bool {
	if reporter == nil {
		reporter = s.reporter
	}
	ctx, span := tracer.Start(ctx, "scraper.Scrape", trace.WithAttributes(
		attribute.String("paper.record_id", rec.RecordID()),
		attribute.Int("scraper.rotation", rotation),
	))
	defer span.End()

	start := time.Now()
	plan := s.registry.Plan()
	outcomes := make(OutcomeMap, plan.Len())
	for _, tier := range plan {
		for _, strategy := range tier.Strategies {
			outcomes[strategy.Name] = StatusNone
		}
	}
	logger := s.logger.With(zap.String("record_id", rec.RecordID()))

	for _, tier := range plan {
		n := len(tier.Strategies)
		first := tierStart(rotation, n)
		for offset := 0; offset < n; offset++ {
			strategy := tier.Strategies[(first+offset)%n]
			if s.attempt(ctx, logger, strategy, rec, dest) {
				outcomes[strategy.Name] = StatusSuccess
				logger.Debug("scrape succeeded", zap.String("strategy", strategy.Name))
				s.report(ctx, logger, reporter, rec, outcomes)
				s.finish(ctx, rec, dest, true, outcomes, start)
				span.SetAttributes(attribute.String("scraper.strategy", strategy.Name))
				return true
			}
			outcomes[strategy.Name] = StatusFailed
		}
		s.report(ctx, logger, reporter, rec, outcomes)
	}
	logger.Debug("all strategies exhausted", zap.Int("strategies", plan.Len()))
	span.SetStatus(codes.Error, "no strategy produced a valid artifact")
	s.finish(ctx, rec, dest, false, outcomes, start)
	return false
}

func (s *Scraper) attempt(ctx context.Context, logger *zap.Logger, strategy *Strategy, rec Record, dest string) bool {
	ctx, span := tracer.Start(ctx, "scraper.attempt", trace.WithAttributes(
		attribute.String("scraper.strategy", strategy.Name),
		attribute.Int("scraper.priority", strategy.Priority),
	))
	defer span.End()

	start := time.Now()
	ok, err := s.invoke(ctx, strategy, rec, dest)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "strategy fault")
		logger.Warn("strategy failed", zap.String("strategy", strategy.Name), zap.Error(err))
	} else if ok && strategy.Validate && !s.validator.Check(dest) {
		logger.Debug("artifact failed validation", zap.String("strategy", strategy.Name), zap.String("path", dest))
		ok = false
	}
	status := StatusFailed
	if ok {
		status = StatusSuccess
	}
	span.SetAttributes(attribute.Bool("scraper.success", ok))
	s.observer.AttemptDone(ctx, Attempt{
		RecordID: rec.RecordID(),
		Strategy: strategy.Name,
		Priority: strategy.Priority,
		Status:   status,
		Err:      err,
		Duration: time.Since(start),
	})
	return ok
}

// invoke is the fault boundary around a strategy: returned errors and panics
// both come back as a *StrategyFault.
func (s *Scraper) invoke(ctx context.Context, strategy *Strategy, rec Record, dest string) (ok bool, err error) {
	if s.strategyTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.strategyTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			ok = false
			err = &StrategyFault{
				Strategy: strategy.Name,
				RecordID: rec.RecordID(),
				Panicked: true,
				Err:      fmt.Errorf("%v", r),
			}
		}
	}()
	ok, err = strategy.fetch(ctx, rec, dest, strategy.Resources)
	if err != nil {
		return false, &StrategyFault{Strategy: strategy.Name, RecordID: rec.RecordID(), Err: err}
	}
	return ok, nil
}

func (s *Scraper) report(ctx context.Context, logger *zap.Logger, reporter Reporter, rec Record, outcomes OutcomeMap) {
	if reporter == nil {
		return
	}
	if err := reporter.Report(ctx, rec.RecordTitle(), outcomes.Clone()); err != nil {
		logger.Warn("reporter failed", zap.Error(err))
	}
}

func (s *Scraper) finish(ctx context.Context, rec Record, dest string, success bool, outcomes OutcomeMap, start time.Time) {
	s.observer.RecordDone(ctx, RecordResult{
		RecordID:    rec.RecordID(),
		Title:       rec.RecordTitle(),
		Destination: dest,
		Success:     success,
		Outcomes:    outcomes.Clone(),
		Duration:    time.Since(start),
	})
}
