// Package app wires configuration into the long-lived services shared by the
// fetch, search and serve commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/paperscraper/internal/archiver"
	"github.com/JakeFAU/paperscraper/internal/config"
	"github.com/JakeFAU/paperscraper/internal/id"
	"github.com/JakeFAU/paperscraper/internal/progress"
	"github.com/JakeFAU/paperscraper/internal/progress/sinks"
	"github.com/JakeFAU/paperscraper/internal/publisher"
	"github.com/JakeFAU/paperscraper/internal/publisher/pubsub"
	"github.com/JakeFAU/paperscraper/internal/scraper"
	"github.com/JakeFAU/paperscraper/internal/search/semanticscholar"
	"github.com/JakeFAU/paperscraper/internal/session"
	"github.com/JakeFAU/paperscraper/internal/storage"
	"github.com/JakeFAU/paperscraper/internal/storage/gcs"
	"github.com/JakeFAU/paperscraper/internal/storage/local"
	"github.com/JakeFAU/paperscraper/internal/storage/memory"
	"github.com/JakeFAU/paperscraper/internal/storage/postgres"
	"github.com/JakeFAU/paperscraper/internal/store"
	"github.com/JakeFAU/paperscraper/internal/strategies"
	"github.com/JakeFAU/paperscraper/internal/validator/pdf"
)

// searchRatePerSecond keeps unauthenticated Semantic Scholar traffic under its shared limit.
const searchRatePerSecond = 1.0

// App holds the services built from one Config.
type App struct {
	Config   config.Config
	Logger   *zap.Logger
	Registry *scraper.Registry
	Scraper  *scraper.Scraper
	Search   *semanticscholar.Client
	Attempts store.AttemptRepository
	Hub      *progress.Hub
	Archiver *archiver.Archiver

	archive bool
	closers []namedCloser
}

type namedCloser struct {
	name  string
	close func(context.Context) error
}

// Option customizes New.
type Option func(*options)

type options struct {
	registerer prometheus.Registerer
	blobs      storage.BlobStore
	publisher  publisher.Publisher
	attempts   store.AttemptRepository
	validator  scraper.Validator
}

// WithRegisterer registers progress metrics on reg instead of the default registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithBlobStore overrides the configured storage backend.
func WithBlobStore(b storage.BlobStore) Option {
	return func(o *options) { o.blobs = b }
}

// WithPublisher overrides the configured Pub/Sub publisher.
func WithPublisher(p publisher.Publisher) Option {
	return func(o *options) { o.publisher = p }
}

// WithAttemptRepository overrides the configured attempt store.
func WithAttemptRepository(r store.AttemptRepository) Option {
	return func(o *options) { o.attempts = r }
}

// WithValidator replaces the PDF validator used by the scraper.
func WithValidator(v scraper.Validator) Option {
	return func(o *options) { o.validator = v }
}

// New builds every service. On error, whatever was already built is closed.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&o)
	}
	a := &App{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close(context.WithoutCancel(ctx))
		}
	}()

	if err := a.initAttempts(ctx, o); err != nil {
		return nil, err
	}
	if err := a.initHub(o); err != nil {
		return nil, err
	}
	if err := a.initScraper(o); err != nil {
		return nil, err
	}
	if err := a.initSearch(); err != nil {
		return nil, err
	}
	if err := a.initArchiver(ctx, o); err != nil {
		return nil, err
	}
	logger.Info("application ready",
		zap.Strings("strategies", a.Registry.Names()),
		zap.String("storage", cfg.Storage.Backend),
		zap.Bool("archive", a.archive),
	)
	return a, nil
}

func (a *App) onClose(name string, fn func(context.Context) error) {
	a.closers = append(a.closers, namedCloser{name: name, close: fn})
}

func (a *App) initAttempts(ctx context.Context, o options) error {
	switch {
	case o.attempts != nil:
		a.Attempts = o.attempts
	case a.Config.DB.DSN != "":
		pg, err := postgres.NewAttemptStore(ctx, postgres.Config{
			DSN:         a.Config.DB.DSN,
			TablePrefix: a.Config.DB.TablePrefix,
			MaxConns:    a.Config.DB.MaxConns,
		})
		if err != nil {
			return fmt.Errorf("attempt store: %w", err)
		}
		a.onClose("postgres", func(context.Context) error { pg.Close(); return nil })
		if a.Config.DB.EnsureSchema {
			if err := pg.EnsureSchema(ctx); err != nil {
				return err
			}
		}
		a.Attempts = pg
	default:
		a.Attempts = memory.NewAttemptStore()
	}
	return nil
}

func (a *App) initHub(o options) error {
	promSink, err := sinks.NewPrometheusSink(o.registerer)
	if err != nil {
		return fmt.Errorf("prometheus sink: %w", err)
	}
	a.Hub = progress.NewHub(progress.Config{
		BufferSize:     a.Config.Progress.BufferSize,
		MaxBatchEvents: a.Config.Progress.MaxBatchEvents,
		MaxBatchWait:   a.Config.Progress.MaxBatchWait(),
		SinkTimeout:    a.Config.Progress.SinkTimeout(),
		Logger:         a.Logger,
	},
		sinks.NewLogSink(a.Logger),
		promSink,
		sinks.NewStoreSink(a.Attempts, a.Logger),
	)
	a.onClose("progress hub", a.Hub.Close)
	return nil
}

func (a *App) initScraper(o options) error {
	cfg := a.Config
	base := session.Config{Timeout: cfg.Scraper.HTTPTimeout(), Logger: a.Logger}
	if cfg.Scraper.UserAgent != "" {
		base.Headers = session.RandomHeaders()
		base.Headers.Set("User-Agent", cfg.Scraper.UserAgent)
	}

	strategyCfg := strategies.Config{
		ArXivBase:     cfg.Scraper.ArXivBaseURL,
		PMCBase:       cfg.Scraper.PMCBaseURL,
		DOIMirrorBase: cfg.Scraper.DOI2PDFBaseURL,
		RatePerSecond: cfg.Scraper.RatePerSecond(),
		Timeout:       cfg.Scraper.HTTPTimeout(),
	}
	if cfg.Headless.Enabled {
		browser, err := strategies.NewPublisher(strategies.PublisherConfig{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Scraper.UserAgent,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
		})
		if err != nil {
			return fmt.Errorf("headless publisher: %w", err)
		}
		a.onClose("headless browser", func(context.Context) error { return browser.Close() })
		strategyCfg.Publisher = browser
	}

	registry, err := strategies.NewDefaultRegistry(strategyCfg, session.Factory(base), a.Logger)
	if err != nil {
		return fmt.Errorf("register strategies: %w", err)
	}
	a.Registry = registry
	a.onClose("strategy sessions", func(context.Context) error { return registry.Close() })

	validator := o.validator
	if validator == nil {
		validator = pdf.New(a.Logger)
	}
	s, err := scraper.New(registry, validator,
		scraper.WithObserver(progress.NewObserver(a.Hub)),
		scraper.WithReporter(progress.NewLogReporter(a.Logger)),
		scraper.WithLogger(a.Logger),
		scraper.WithStrategyTimeout(cfg.Scraper.StrategyTimeout()),
	)
	if err != nil {
		return fmt.Errorf("build scraper: %w", err)
	}
	a.Scraper = s
	return nil
}

func (a *App) initSearch() error {
	sess := session.New("semanticscholar", session.Config{
		RatePerSecond: searchRatePerSecond,
		Timeout:       a.Config.Scraper.HTTPTimeout(),
		Logger:        a.Logger,
	})
	a.onClose("search session", func(context.Context) error { return sess.Close() })

	opts := []semanticscholar.Option{
		semanticscholar.WithPageSize(a.Config.Search.PageSize),
		semanticscholar.WithLogger(a.Logger),
	}
	if a.Config.Search.Endpoint != "" {
		opts = append(opts, semanticscholar.WithEndpoint(a.Config.Search.Endpoint))
	}
	if a.Config.Search.APIKey != "" {
		opts = append(opts, semanticscholar.WithAPIKey(a.Config.Search.APIKey))
	}
	client, err := semanticscholar.New(sess, opts...)
	if err != nil {
		return fmt.Errorf("search client: %w", err)
	}
	a.Search = client
	return nil
}

func (a *App) initArchiver(ctx context.Context, o options) error {
	cfg := a.Config
	blobs := o.blobs
	if blobs == nil {
		switch cfg.Storage.Backend {
		case config.BackendMemory:
			blobs = memory.NewBlobStore()
		case config.BackendLocal:
			l, err := local.New(cfg.Storage.LocalDir)
			if err != nil {
				return fmt.Errorf("local storage: %w", err)
			}
			blobs = l
		case config.BackendGCS:
			g, err := gcs.NewFromEnv(ctx, cfg.Storage.GCSBucket)
			if err != nil {
				return fmt.Errorf("gcs storage: %w", err)
			}
			a.onClose("gcs", func(context.Context) error { return g.Close() })
			blobs = g
		}
	}

	pub := o.publisher
	if pub == nil && cfg.PubSub.TopicName != "" {
		p, err := pubsub.Dial(ctx, cfg.PubSub.ProjectID, cfg.PubSub.TopicName)
		if err != nil {
			return fmt.Errorf("pubsub: %w", err)
		}
		a.onClose("pubsub", func(context.Context) error { return p.Close() })
		pub = p
	}

	a.archive = blobs != nil || pub != nil
	a.Archiver = archiver.New(blobs, pub, cfg.PubSub.TopicName, cfg.Storage.Prefix, archiver.WithLogger(a.Logger))
	return nil
}

// Run is the outcome of one Fetch.
type Run struct {
	BatchID  uuid.UUID
	// Batches lists every batch the run started; SearchAndFetch starts one per page.
	Batches  []uuid.UUID
	Result   scraper.BatchResult
	Archived []archiver.Notification
	// ArchiveErr collects upload and publish failures; the scrape itself succeeded.
	ArchiveErr error
}

// Fetch batch-scrapes records into the configured output directory and then
// archives the artifacts when storage or publishing is configured. Zero
// batchSize or limit fall back to the configured values.
func (a *App) Fetch(ctx context.Context, records []scraper.Record, transform scraper.Transform, batchSize, limit int) (Run, error) {
	if batchSize <= 0 {
		batchSize = a.Config.Scraper.BatchSize
	}
	if limit == 0 {
		limit = a.Config.Scraper.Limit
	}
	batchID, ok := scraper.BatchIDFromContext(ctx)
	if !ok {
		var err error
		if batchID, err = id.NewBatchID(); err != nil {
			return Run{}, err
		}
		ctx = scraper.ContextWithBatchID(ctx, batchID)
	}

	result, err := a.Scraper.BatchScrape(ctx, records, a.Config.Scraper.OutputDir, scraper.BatchOptions{
		Transform: transform,
		BatchSize: batchSize,
		Limit:     limit,
	})
	if err != nil {
		return Run{}, err
	}
	run := Run{BatchID: batchID, Batches: []uuid.UUID{batchID}, Result: result}
	if a.archive && len(result) > 0 {
		run.Archived, run.ArchiveErr = a.Archiver.Archive(ctx, result, records...)
	}
	return run, nil
}

// SearchAndFetch pages through the Semantic Scholar results for query and
// fetches each page as its own batch until limit papers are fetched or the
// results run out. A non-positive limit falls back to scraper.limit; zero
// there fetches every page. On a search error the pages fetched so far are
// returned with the error.
func (a *App) SearchAndFetch(ctx context.Context, query string, transform scraper.Transform, batchSize, limit int) (Run, error) {
	if limit <= 0 {
		limit = a.Config.Scraper.Limit
	}
	run := Run{Result: scraper.BatchResult{}}
	var archiveErrs []error
	pageSize := a.Search.PageSize()
	for offset := 0; ; offset += pageSize {
		page, err := a.Search.SearchPage(ctx, query, offset)
		if err != nil {
			run.ArchiveErr = errors.Join(archiveErrs...)
			return run, fmt.Errorf("search page at offset %d: %w", offset, err)
		}
		if len(page.Papers) > 0 {
			remaining := 0
			if limit > 0 {
				remaining = limit - len(run.Result)
			}
			pageRun, err := a.Fetch(ctx, semanticscholar.Records(page.Papers), transform, batchSize, remaining)
			if err != nil {
				run.ArchiveErr = errors.Join(archiveErrs...)
				return run, err
			}
			if run.BatchID == uuid.Nil {
				run.BatchID = pageRun.BatchID
			}
			run.Batches = append(run.Batches, pageRun.BatchID)
			for path, value := range pageRun.Result {
				run.Result[path] = value
			}
			run.Archived = append(run.Archived, pageRun.Archived...)
			if pageRun.ArchiveErr != nil {
				archiveErrs = append(archiveErrs, pageRun.ArchiveErr)
			}
		}
		a.Logger.Debug("search page processed",
			zap.String("query", query),
			zap.Int("offset", offset),
			zap.Int("papers", len(page.Papers)),
			zap.Int("fetched", len(run.Result)),
		)
		if (limit > 0 && len(run.Result) >= limit) || len(page.Papers) == 0 ||
			!page.HasMore(pageSize) || ctx.Err() != nil {
			break
		}
	}
	run.ArchiveErr = errors.Join(archiveErrs...)
	return run, nil
}

// Progress returns the attempt repository backing the progress endpoints.
func (a *App) Progress() store.AttemptRepository {
	return a.Attempts
}

// Close releases services in reverse construction order and joins their errors.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
