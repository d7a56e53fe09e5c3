package semanticscholar

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/paperscraper/internal/scraper"
)

type fakeAPI struct {
	mu      sync.Mutex
	total   int
	queries []http.Header
	offsets []int
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	f.mu.Lock()
	f.queries = append(f.queries, r.Header.Clone())
	f.offsets = append(f.offsets, offset)
	f.mu.Unlock()

	papers := []map[string]any{}
	for i := offset; i < min(offset+limit, f.total); i++ {
		papers = append(papers, map[string]any{
			"paperId":                  fmt.Sprintf("p%d", i),
			"title":                    fmt.Sprintf("Paper %d", i),
			"influentialCitationCount": i % 3,
			"externalIds":              map[string]any{"ArXiv": fmt.Sprintf("2401.%05d", i), "CorpusId": 1000 + i},
		})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"total": f.total, "offset": offset, "data": papers})
}

func TestSearchPageSortsAndSendsKey(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{total: 5}
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		api.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)

	c, err := New(srv.Client(), WithEndpoint(srv.URL), WithAPIKey(" secret "), WithPageSize(5))
	require.NoError(t, err)

	page, err := c.SearchPage(context.Background(), "protein folding", 0)
	require.NoError(t, err)
	require.Len(t, page.Papers, 5)
	assert.Equal(t, 5, page.Total)
	assert.False(t, page.HasMore(5))

	counts := make([]int, len(page.Papers))
	for i, p := range page.Papers {
		counts[i] = p.InfluentialCitationCount
	}
	assert.Equal(t, []int{2, 1, 1, 0, 0}, counts)
	assert.Equal(t, "p2", page.Papers[0].PaperID)
	id, ok := page.Papers[0].ExternalID("CorpusId")
	require.True(t, ok)
	assert.Equal(t, "1002", id)

	require.Len(t, api.queries, 1)
	assert.Equal(t, "secret", api.queries[0].Get("x-api-key"))
	assert.Contains(t, gotQuery, "fields=citationStyles%2CexternalIds")
	assert.Contains(t, gotQuery, "query=protein+folding")
}

func TestSearchPagesUntilMax(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{total: 25}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	c, err := New(srv.Client(), WithEndpoint(srv.URL), WithPageSize(10))
	require.NoError(t, err)

	papers, err := c.Search(context.Background(), "q", 15)
	require.NoError(t, err)
	assert.Len(t, papers, 15)
	assert.Equal(t, []int{0, 10}, api.offsets)
	assert.Empty(t, api.queries[0].Get("x-api-key"))

	all, err := c.Search(context.Background(), "q", 0)
	require.NoError(t, err)
	assert.Len(t, all, 25)
	assert.Len(t, Records(all), 25)
}

func TestSearchPageReportsHTTPErrors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "too many requests", http.StatusTooManyRequests)
	}))
	t.Cleanup(srv.Close)

	c, err := New(srv.Client(), WithEndpoint(srv.URL))
	require.NoError(t, err)
	_, err = c.SearchPage(context.Background(), "q", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
	assert.Contains(t, err.Error(), "too many requests")

	_, err = c.SearchPage(context.Background(), "  ", 0)
	require.Error(t, err)

	_, err = New(nil)
	require.Error(t, err)
}

func TestCitationFromPaper(t *testing.T) {
	t.Parallel()

	p := &scraper.Paper{
		PaperID: "abc",
		Title:   "Attention Is All You Need",
		Year:    2017,
		URL:     "https://www.semanticscholar.org/paper/abc",
		CitationStyles: &scraper.CitationStyles{
			BibTeX: "@['JournalArticle', 'Conference']{Vaswani2017AttentionIA,\n title={Attention is All you Need},\n}",
		},
		Tldr: &scraper.Tldr{Text: "Transformers."},
	}
	v, err := CitationTransform(context.Background(), p)
	require.NoError(t, err)
	c, ok := v.(Citation)
	require.True(t, ok)
	assert.Equal(t, "Vaswani2017AttentionIA", c.Key)
	assert.True(t, strings.HasPrefix(c.BibTeX, "@article{"))
	assert.Equal(t, "Transformers.", c.Tldr)
	assert.Equal(t, 2017, c.Year)
	assert.Equal(t, p.URL, c.URL)

	_, err = NewCitation(&scraper.Paper{PaperID: "x"})
	require.ErrorIs(t, err, ErrNoBibTeX)
	_, err = NewCitation(&scraper.Paper{PaperID: "x", CitationStyles: &scraper.CitationStyles{BibTeX: "@article"}})
	require.Error(t, err)
}

func TestCleanBibTeX(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "@article{k,}", CleanBibTeX("@None{k,}"))
	assert.Equal(t, "@inbook{k,}", CleanBibTeX("@['BookSection']{k,}"))
	assert.Equal(t, "@book{k,}", CleanBibTeX("@['Book']{k,}"))
	assert.Equal(t, "@article{k,}", CleanBibTeX("@['Unknown']{k,}"))
	assert.Equal(t, "@misc{k,}", CleanBibTeX("@['Dataset']{k,}"))
	assert.Equal(t, "@inproceedings{k,}", CleanBibTeX("@inproceedings{k,}"))
}
