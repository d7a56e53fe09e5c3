package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/paperscraper/internal/app"
	"github.com/JakeFAU/paperscraper/internal/config"
	"github.com/JakeFAU/paperscraper/internal/scraper"
	"github.com/JakeFAU/paperscraper/internal/search/semanticscholar"
	"github.com/JakeFAU/paperscraper/internal/storage/memory"
	"github.com/JakeFAU/paperscraper/internal/store"
)

type mockApp struct {
	mu        sync.Mutex
	papers    []*scraper.Paper
	searchErr error
	fetchErr  error
	fetched   []scraper.Record
	transform scraper.Transform
	batchSize int
	limit     int
	query     string
	closed    int
}

func (m *mockApp) Fetch(ctx context.Context, records []scraper.Record, transform scraper.Transform, batchSize, limit int) (app.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetch(ctx, records, transform, batchSize, limit)
}

func (m *mockApp) fetch(ctx context.Context, records []scraper.Record, transform scraper.Transform, batchSize, limit int) (app.Run, error) {
	m.fetched = records
	m.transform = transform
	m.batchSize = batchSize
	m.limit = limit
	if m.fetchErr != nil {
		return app.Run{}, m.fetchErr
	}
	result := scraper.BatchResult{}
	for _, rec := range records {
		var value any = rec
		if transform != nil {
			v, err := transform(ctx, rec)
			if err != nil {
				continue
			}
			value = v
		}
		result[filepath.Join("papers", rec.RecordID()+".pdf")] = value
	}
	return app.Run{BatchID: uuid.MustParse("0190b3a2-0000-7000-8000-000000000001"), Result: result}, nil
}

func (m *mockApp) SearchAndFetch(ctx context.Context, query string, transform scraper.Transform, batchSize, limit int) (app.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.query = query
	m.limit = limit
	if m.searchErr != nil {
		return app.Run{}, m.searchErr
	}
	if len(m.papers) == 0 {
		return app.Run{Result: scraper.BatchResult{}}, nil
	}
	return m.fetch(ctx, semanticscholar.Records(m.papers), transform, batchSize, limit)
}

func (m *mockApp) Progress() store.AttemptRepository { return memory.NewAttemptStore() }

func (m *mockApp) Close(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed++
	return nil
}

// useMockApp swaps the application factory; tests using it must not run in parallel.
func useMockApp(t *testing.T, m *mockApp) {
	t.Helper()
	prev := newApp
	newApp = func(context.Context, config.Config, *zap.Logger) (Application, error) {
		return m, nil
	}
	t.Cleanup(func() { newApp = prev })
}

func runCmd(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetIn(bytes.NewBufferString(stdin))
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestFetchCommandReadsStdin(t *testing.T) {
	m := &mockApp{}
	useMockApp(t, m)

	input := `[{"paperId":"p1","title":"One","externalIds":{"ArXiv":"2401.00001"}},{"title":"no id"},{"paperId":"p2","title":"Two"}]`
	out, err := runCmd(t, input, "fetch", "--input", "-", "--batch-size", "3", "--limit", "5")
	require.NoError(t, err)

	require.Len(t, m.fetched, 2)
	assert.Equal(t, "p1", m.fetched[0].RecordID())
	assert.Nil(t, m.transform)
	assert.Equal(t, 3, m.batchSize)
	assert.Equal(t, 5, m.limit)
	assert.Equal(t, 1, m.closed)

	var summary runSummary
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.Equal(t, "0190b3a2-0000-7000-8000-000000000001", summary.BatchID)
	assert.Equal(t, 2, summary.Requested)
	assert.Equal(t, 2, summary.Fetched)
	assert.Contains(t, summary.Results, filepath.Join("papers", "p2.pdf"))
}

func TestFetchCommandReadsFile(t *testing.T) {
	m := &mockApp{}
	useMockApp(t, m)

	file := filepath.Join(t.TempDir(), "papers.json")
	require.NoError(t, os.WriteFile(file, []byte(`[{"paperId":"p1"}]`), 0o600))
	_, err := runCmd(t, "", "fetch", "-i", file)
	require.NoError(t, err)
	require.Len(t, m.fetched, 1)
}

func TestFetchCommandErrors(t *testing.T) {
	tests := []struct {
		name  string
		app   *mockApp
		stdin string
		args  []string
	}{
		{name: "missing input flag", app: &mockApp{}, args: []string{"fetch"}},
		{name: "invalid json", app: &mockApp{}, stdin: "{", args: []string{"fetch", "-i", "-"}},
		{name: "no papers", app: &mockApp{}, stdin: "[]", args: []string{"fetch", "-i", "-"}},
		{name: "missing file", app: &mockApp{}, args: []string{"fetch", "-i", "/does/not/exist.json"}},
		{name: "fetch fails", app: &mockApp{fetchErr: errors.New("boom")}, stdin: `[{"paperId":"p"}]`, args: []string{"fetch", "-i", "-"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			useMockApp(t, tt.app)
			_, err := runCmd(t, tt.stdin, tt.args...)
			require.Error(t, err)
		})
	}
}

func TestSearchCommandPrintsCitations(t *testing.T) {
	m := &mockApp{papers: []*scraper.Paper{
		{
			PaperID:        "p1",
			Title:          "Attention",
			Year:           2017,
			CitationStyles: &scraper.CitationStyles{BibTeX: "@['JournalArticle']{Vaswani2017Attention,\n title={Attention}\n}"},
		},
		{PaperID: "p2", Title: "No bibtex"},
	}}
	useMockApp(t, m)

	out, err := runCmd(t, "", "search", "attention", "is", "all", "--limit", "3")
	require.NoError(t, err)
	assert.Equal(t, "attention is all", m.query)
	assert.Equal(t, 3, m.limit)
	require.NotNil(t, m.transform)

	var got map[string]map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got, 1)
	citation := got[filepath.Join("papers", "p1.pdf")]
	assert.Equal(t, "Vaswani2017Attention", citation["key"])
	assert.Equal(t, "Attention", citation["title"])
}

func TestSearchCommandWithoutHits(t *testing.T) {
	m := &mockApp{}
	useMockApp(t, m)

	out, err := runCmd(t, "", "search", "nothing")
	require.NoError(t, err)
	assert.JSONEq(t, "{}", out)
	assert.Nil(t, m.fetched)
	assert.Equal(t, defaultSearchLimit, m.limit)
}

func TestSearchCommandSurfacesSearchError(t *testing.T) {
	useMockApp(t, &mockApp{searchErr: errors.New("429")})
	_, err := runCmd(t, "", "search", "q")
	require.ErrorContains(t, err, "search")
}

func TestRootSurfacesFactoryError(t *testing.T) {
	prev := newApp
	newApp = func(context.Context, config.Config, *zap.Logger) (Application, error) {
		return nil, errors.New("db down")
	}
	t.Cleanup(func() { newApp = prev })

	_, err := runCmd(t, "[]", "fetch", "-i", "-")
	require.ErrorContains(t, err, "db down")
}

func TestListenAddrHonorsPortEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	assert.Equal(t, ":9090", listenAddr(8080))

	t.Setenv("PORT", "bogus")
	assert.Equal(t, ":8080", listenAddr(8080))
}

func TestServeShutsDownOnCancel(t *testing.T) {
	m := &mockApp{}
	cfg, err := config.Load("")
	require.NoError(t, err)
	rt := &runtime{cfg: cfg, logger: zap.NewNop(), app: m}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, rt, "127.0.0.1:0") }()
	cancel()
	require.NoError(t, <-done)
}
