package strategies

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/paperscraper/internal/scraper"
)

var downloadButton = regexp.MustCompile(`location\.href='(.*?download=true)'`)

// DOIMirror resolves DOIs through a mirror that renders a download button on
// <base>/<doi>.
type DOIMirror struct {
	base    string
	timeout time.Duration
}

// NewDOIMirror returns a DOIMirror rooted at base.
func NewDOIMirror(base string, timeout time.Duration) (*DOIMirror, error) {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		return nil, fmt.Errorf("doi mirror base url is required")
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &DOIMirror{base: base, timeout: timeout}, nil
}

// Fetch implements scraper.FetchFunc.
func (m *DOIMirror) Fetch(ctx context.Context, rec scraper.Record, dest string, res scraper.Resources) (bool, error) {
	if res.Session == nil {
		return false, ErrNoSession
	}
	doi, ok := recordDOI(rec)
	if !ok {
		return false, nil
	}
	pdfURL, found, err := m.findDownload(ctx, res.Session, fmt.Sprintf("%s/%s", m.base, doi))
	if err != nil || !found {
		return false, err
	}
	return download(ctx, res.Session, m.absolute(pdfURL), dest)
}

func (m *DOIMirror) absolute(link string) string {
	switch {
	case strings.HasPrefix(link, "//"):
		return "https:" + link
	case strings.HasPrefix(link, "http://"), strings.HasPrefix(link, "https://"):
		return link
	default:
		return m.base + link
	}
}

func (m *DOIMirror) findDownload(ctx context.Context, sess scraper.Session, pageURL string) (string, bool, error) {
	var (
		link       string
		statusCode int
		fetchErr   error
	)
	collector := colly.NewCollector(colly.Async(false), colly.StdlibContext(ctx))
	collector.WithTransport(roundTripper(sess))
	collector.SetRequestTimeout(m.timeout)
	collector.OnResponse(func(r *colly.Response) {
		if match := downloadButton.FindSubmatch(r.Body); match != nil {
			link = string(match[1])
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			statusCode = r.StatusCode
		}
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(pageURL)
	}()
	select {
	case <-ctx.Done():
		return "", false, fmt.Errorf("doi mirror canceled: %w", ctx.Err())
	case err := <-done:
		// an HTTP status error means the mirror has no copy
		if statusCode != 0 {
			return "", false, nil
		}
		if err == nil {
			err = fetchErr
		}
		if err != nil {
			return "", false, fmt.Errorf("doi mirror visit: %w", err)
		}
	}
	return link, link != "", nil
}
