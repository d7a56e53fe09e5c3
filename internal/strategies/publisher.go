package strategies

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/paperscraper/internal/scraper"
)

const citationPDFScript = `(() => {
  const el = document.querySelector('meta[name="citation_pdf_url"]');
  return el ? el.content : "";
})()`

// PublisherConfig controls the headless browser used by Publisher.
type PublisherConfig struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
}

// Publisher renders a record's landing page in headless Chrome, reads the
// citation_pdf_url meta tag and downloads the linked PDF.
type Publisher struct {
	cfg         PublisherConfig
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewPublisher starts an exec allocator. Chrome itself is launched lazily on
// the first fetch.
func NewPublisher(cfg PublisherConfig) (*Publisher, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	return &Publisher{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close stops the browser allocator.
func (p *Publisher) Close() error {
	p.allocCancel()
	return nil
}

// Fetch implements scraper.FetchFunc.
func (p *Publisher) Fetch(ctx context.Context, rec scraper.Record, dest string, res scraper.Resources) (bool, error) {
	if res.Session == nil {
		return false, ErrNoSession
	}
	landing, ok := landingPage(rec)
	if !ok {
		return false, nil
	}
	pdfURL, err := p.citationPDF(ctx, landing)
	if err != nil {
		return false, err
	}
	if pdfURL == "" {
		return false, nil
	}
	return download(ctx, res.Session, pdfURL, dest)
}

// landingPage prefers the DOI resolver over the catalog page, which never
// carries publisher meta tags.
func landingPage(rec scraper.Record) (string, bool) {
	if doi, ok := externalID(rec, SourceDOI); ok {
		return "https://doi.org/" + doi, true
	}
	if pager, ok := rec.(scraper.LandingPager); ok {
		if link := strings.TrimSpace(pager.LandingURL()); link != "" {
			return link, true
		}
	}
	return "", false
}

func (p *Publisher) citationPDF(ctx context.Context, landing string) (string, error) {
	if err := p.acquire(ctx); err != nil {
		return "", err
	}
	defer p.release()

	taskCtx, taskCancel := chromedp.NewContext(p.allocator)
	defer taskCancel()
	taskCtx, cancel := context.WithTimeout(taskCtx, p.cfg.NavigationTimeout)
	defer cancel()
	// follow the caller's cancellation as well
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var pdfURL string
	actions := []chromedp.Action{
		p.networkSetup(),
		chromedp.Navigate(landing),
		chromedp.WaitReady("head", chromedp.ByQuery),
		chromedp.Evaluate(citationPDFScript, &pdfURL),
	}
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		return "", fmt.Errorf("render %s: %w", landing, err)
	}
	return strings.TrimSpace(pdfURL), nil
}

func (p *Publisher) networkSetup() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if p.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(p.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

func (p *Publisher) acquire(ctx context.Context) error {
	if p.limiter == nil {
		return nil
	}
	select {
	case p.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (p *Publisher) release() {
	if p.limiter == nil {
		return
	}
	select {
	case <-p.limiter:
	default:
	}
}
