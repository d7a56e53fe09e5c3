// Package semanticscholar queries the Semantic Scholar graph API for papers
// and turns them into citations.
package semanticscholar

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/paperscraper/internal/scraper"
)

// DefaultEndpoint is the paper search endpoint.
const DefaultEndpoint = "https://api.semanticscholar.org/graph/v1/paper/search"

// DefaultPageSize is the number of papers requested per call.
const DefaultPageSize = 100

// Fields requested for every paper.
var Fields = []string{
	"citationStyles",
	"externalIds",
	"url",
	"openAccessPdf",
	"year",
	"isOpenAccess",
	"influentialCitationCount",
	"tldr",
	"title",
}

// Doer sends HTTP requests. scraper.Session and *http.Client both satisfy it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Page is one page of search results.
type Page struct {
	Total  int              `json:"total"`
	Offset int              `json:"offset"`
	Next   int              `json:"next"`
	Papers []*scraper.Paper `json:"data"`
}

// HasMore reports whether results exist past this page.
func (p Page) HasMore(pageSize int) bool {
	return p.Offset+pageSize < p.Total
}

// Client searches papers.
type Client struct {
	doer     Doer
	endpoint string
	apiKey   string
	pageSize int
	logger   *zap.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithEndpoint overrides the search endpoint.
func WithEndpoint(endpoint string) Option {
	return func(c *Client) {
		if endpoint != "" {
			c.endpoint = endpoint
		}
	}
}

// WithAPIKey sends key as x-api-key.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = strings.TrimSpace(key)
	}
}

// WithPageSize sets the page size.
func WithPageSize(size int) Option {
	return func(c *Client) {
		if size > 0 {
			c.pageSize = size
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New returns a Client sending through doer.
func New(doer Doer, opts ...Option) (*Client, error) {
	if doer == nil {
		return nil, fmt.Errorf("http client is required")
	}
	c := &Client{
		doer:     doer,
		endpoint: DefaultEndpoint,
		pageSize: DefaultPageSize,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// PageSize returns the configured page size.
func (c *Client) PageSize() int { return c.pageSize }

// SearchPage returns the page starting at offset, sorted by influential
// citation count, highest first.
func (c *Client) SearchPage(ctx context.Context, query string, offset int) (Page, error) {
	if strings.TrimSpace(query) == "" {
		return Page{}, fmt.Errorf("query is required")
	}
	params := url.Values{}
	params.Set("query", query)
	params.Set("fields", strings.Join(Fields, ","))
	params.Set("limit", strconv.Itoa(c.pageSize))
	params.Set("offset", strconv.Itoa(offset))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return Page{}, fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}
	resp, err := c.doer.Do(req)
	if err != nil {
		return Page{}, fmt.Errorf("search papers: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Page{}, fmt.Errorf("search papers: %s %s", resp.Status, strings.TrimSpace(string(body)))
	}
	var page Page
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return Page{}, fmt.Errorf("decode search response: %w", err)
	}
	page.Offset = offset
	page.Papers = slices.DeleteFunc(page.Papers, func(p *scraper.Paper) bool {
		return p == nil || p.PaperID == ""
	})
	slices.SortStableFunc(page.Papers, func(a, b *scraper.Paper) int {
		return cmp.Compare(b.InfluentialCitationCount, a.InfluentialCitationCount)
	})
	c.logger.Debug("search page fetched",
		zap.String("query", query),
		zap.Int("total", page.Total),
		zap.Int("offset", offset),
		zap.Int("papers", len(page.Papers)),
	)
	return page, nil
}

// Search collects up to max papers across pages.
func (c *Client) Search(ctx context.Context, query string, max int) ([]*scraper.Paper, error) {
	var out []*scraper.Paper
	for offset := 0; ; offset += c.pageSize {
		page, err := c.SearchPage(ctx, query, offset)
		if err != nil {
			return nil, err
		}
		out = append(out, page.Papers...)
		if (max > 0 && len(out) >= max) || !page.HasMore(c.pageSize) || len(page.Papers) == 0 {
			break
		}
	}
	if max > 0 && len(out) > max {
		out = out[:max]
	}
	return out, nil
}

// Records converts papers to scraper records.
func Records(papers []*scraper.Paper) []scraper.Record {
	out := make([]scraper.Record, len(papers))
	for i, p := range papers {
		out[i] = p
	}
	return out
}
