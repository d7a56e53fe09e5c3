package strategies

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/paperscraper/internal/scraper"
)

// DefaultSetVersion identifies the composition of NewDefaultRegistry. Bump it
// whenever a strategy, priority or rate changes.
const DefaultSetVersion = "2"

// Priorities of the default strategies.
const (
	RepositoryPriority = 10
	MirrorPriority     = 5
	PublisherPriority  = 3
)

// Config selects and tunes the default strategy set.
type Config struct {
	ArXivBase     string
	PMCBase       string
	DOIMirrorBase string
	// RatePerSecond applies to every session. Zero uses scraper.DefaultRatePerSecond.
	RatePerSecond float64
	Timeout       time.Duration
	// Publisher enables the headless strategy when non-nil.
	Publisher *Publisher
}

// NewDefaultRegistry registers, in order: arxiv, pmc and openaccess at
// RepositoryPriority, doi2pdf at MirrorPriority when a mirror is configured and
// publisher at PublisherPriority when a headless browser is supplied.
func NewDefaultRegistry(cfg Config, factory scraper.SessionFactory, logger *zap.Logger) (*scraper.Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	rate := cfg.RatePerSecond
	if rate == 0 {
		rate = scraper.DefaultRatePerSecond
	}
	arxivBase := cfg.ArXivBase
	if arxivBase == "" {
		arxivBase = DefaultArXivBase
	}
	pmcBase := cfg.PMCBase
	if pmcBase == "" {
		pmcBase = DefaultPMCBase
	}

	type entry struct {
		name     string
		fetch    scraper.FetchFunc
		priority int
	}
	entries := []entry{
		{name: "arxiv", fetch: ArXiv(arxivBase), priority: RepositoryPriority},
		{name: "pmc", fetch: PubMedCentral(pmcBase), priority: RepositoryPriority},
		{name: "openaccess", fetch: OpenAccess, priority: RepositoryPriority},
	}
	if cfg.DOIMirrorBase != "" {
		mirror, err := NewDOIMirror(cfg.DOIMirrorBase, cfg.Timeout)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry{name: "doi2pdf", fetch: mirror.Fetch, priority: MirrorPriority})
	}
	if cfg.Publisher != nil {
		entries = append(entries, entry{name: "publisher", fetch: cfg.Publisher.Fetch, priority: PublisherPriority})
	}

	registry := scraper.NewRegistry(factory)
	for _, e := range entries {
		err := registry.Register(e.name, e.fetch, scraper.WithPriority(e.priority), scraper.WithSession(rate))
		if err != nil {
			return nil, errors.Join(fmt.Errorf("register %s: %w", e.name, err), registry.Close())
		}
	}
	logger.Info("strategy registry ready",
		zap.String("set_version", DefaultSetVersion),
		zap.Strings("strategies", registry.Names()),
	)
	return registry, nil
}
