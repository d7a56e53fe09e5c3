package scraper

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recordsWithIDs(ids ...string) []Record {
	out := make([]Record, len(ids))
	for i, id := range ids {
		out[i] = testRecord{id: id, title: "title " + id}
	}
	return out
}

// perRecord returns a fetch func that succeeds only for ids in ok and logs
// every record it sees.
func perRecord(seen *sync.Map, ok map[string]bool) FetchFunc {
	return func(_ context.Context, rec Record, _ string, _ Resources) (bool, error) {
		seen.Store(rec.RecordID(), true)
		return ok[rec.RecordID()], nil
	}
}

func TestBatchScrapeStopsLaunchingWindowsAtLimit(t *testing.T) {
	t.Parallel()

	var seen sync.Map
	r := NewRegistry(nil)
	all := map[string]bool{"1": true, "2": true, "3": true, "4": true, "5": true}
	require.NoError(t, r.Register("always", perRecord(&seen, all), WithValidation(false)))
	s := newTestScraper(t, r, acceptAll)

	dir := t.TempDir()
	result, err := s.BatchScrape(context.Background(), recordsWithIDs("1", "2", "3", "4", "5"), dir, BatchOptions{
		BatchSize: 2,
		Limit:     3,
	})
	require.NoError(t, err)

	// windows {1,2} and {3,4} run; the limit is reached after the second window.
	assert.Len(t, result, 4)
	_, fifth := seen.Load("5")
	assert.False(t, fifth)
	for _, id := range []string{"1", "2", "3", "4"} {
		_, ok := seen.Load(id)
		assert.True(t, ok, id)
		assert.Contains(t, result, filepath.Join(dir, id+".pdf"))
	}
}

func TestBatchScrapeExcludesFailures(t *testing.T) {
	t.Parallel()

	var seen sync.Map
	r := NewRegistry(nil)
	require.NoError(t, r.Register("some", perRecord(&seen, map[string]bool{"a": true, "c": true}), WithValidation(false)))
	s := newTestScraper(t, r, acceptAll)

	dir := t.TempDir()
	result, err := s.BatchScrape(context.Background(), recordsWithIDs("a", "b", "c"), dir, BatchOptions{})
	require.NoError(t, err)
	require.Len(t, result, 2)

	value := result[filepath.Join(dir, "a.pdf")]
	assert.Equal(t, testRecord{id: "a", title: "title a"}, value)
	assert.NotContains(t, result, filepath.Join(dir, "b.pdf"))
}

func TestBatchScrapeAppliesTransform(t *testing.T) {
	t.Parallel()

	var seen sync.Map
	r := NewRegistry(nil)
	require.NoError(t, r.Register("all", perRecord(&seen, map[string]bool{"x": true, "y": true}), WithValidation(false)))
	s := newTestScraper(t, r, acceptAll)

	transform := func(_ context.Context, rec Record) (any, error) {
		if rec.RecordID() == "y" {
			return nil, errors.New("no citation")
		}
		return "cite:" + rec.RecordID(), nil
	}
	dir := t.TempDir()
	result, err := s.BatchScrape(context.Background(), recordsWithIDs("x", "y"), dir, BatchOptions{Transform: transform})
	require.NoError(t, err)
	assert.Equal(t, BatchResult{filepath.Join(dir, "x.pdf"): "cite:x"}, result)
}

func TestBatchScrapeUsesGlobalRotation(t *testing.T) {
	t.Parallel()

	var (
		mu    sync.Mutex
		first = map[string]string{}
	)
	fetch := func(name string) FetchFunc {
		return func(_ context.Context, rec Record, _ string, _ Resources) (bool, error) {
			mu.Lock()
			defer mu.Unlock()
			if _, ok := first[rec.RecordID()]; !ok {
				first[rec.RecordID()] = name
			}
			return true, nil
		}
	}
	r := NewRegistry(nil)
	require.NoError(t, r.Register("s0", fetch("s0"), WithValidation(false)))
	require.NoError(t, r.Register("s1", fetch("s1"), WithValidation(false)))
	s := newTestScraper(t, r, acceptAll)

	_, err := s.BatchScrape(context.Background(), recordsWithIDs("r0", "r1", "r2", "r3", "r4"), t.TempDir(), BatchOptions{BatchSize: 2})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"r0": "s0", "r1": "s1", "r2": "s0", "r3": "s1", "r4": "s0"}, first)
}

func TestBatchScrapeNotifiesObserverAndCarriesBatchID(t *testing.T) {
	t.Parallel()

	var (
		mu  sync.Mutex
		ids []uuid.UUID
	)
	r := NewRegistry(nil)
	require.NoError(t, r.Register("a", func(ctx context.Context, _ Record, _ string, _ Resources) (bool, error) {
		id, ok := BatchIDFromContext(ctx)
		if ok {
			mu.Lock()
			ids = append(ids, id)
			mu.Unlock()
		}
		return true, nil
	}, WithValidation(false)))
	obs := &recordingObserver{}
	s := newTestScraper(t, r, acceptAll, WithObserver(obs))

	want := uuid.New()
	ctx := ContextWithBatchID(context.Background(), want)
	_, err := s.BatchScrape(ctx, recordsWithIDs("1", "2", "3"), t.TempDir(), BatchOptions{BatchSize: 2})
	require.NoError(t, err)

	require.Len(t, ids, 3)
	for _, id := range ids {
		assert.Equal(t, want, id)
	}
	assert.Equal(t, []int{3}, obs.started)
	require.Len(t, obs.done, 1)
	assert.Equal(t, 3, obs.done[0].Attempted)
	assert.Equal(t, 3, obs.done[0].Succeeded)
	assert.Equal(t, 2, obs.done[0].Windows)
}

func TestBatchScrapeRejectsNegativeLimit(t *testing.T) {
	t.Parallel()

	s := newTestScraper(t, NewRegistry(nil), acceptAll)
	_, err := s.BatchScrape(context.Background(), nil, t.TempDir(), BatchOptions{Limit: -1})
	require.Error(t, err)
}

func TestBatchScrapeStopsOnCanceledContext(t *testing.T) {
	t.Parallel()

	var seen sync.Map
	r := NewRegistry(nil)
	require.NoError(t, r.Register("a", perRecord(&seen, map[string]bool{"1": true}), WithValidation(false)))
	s := newTestScraper(t, r, acceptAll)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result, err := s.BatchScrape(ctx, recordsWithIDs("1"), t.TempDir(), BatchOptions{})
	require.NoError(t, err)
	assert.Empty(t, result)
	_, ok := seen.Load("1")
	assert.False(t, ok)
}

func TestDestinationPathIsDeterministic(t *testing.T) {
	t.Parallel()

	first := DestinationPath("/data", "2401.00001")
	assert.Equal(t, first, DestinationPath("/data", "2401.00001"))
	assert.Equal(t, filepath.Join("/data", "2401.00001.pdf"), first)
	assert.Equal(t, filepath.Join("/data", "10.1000_xyz.pdf"), DestinationPath("/data", "10.1000/xyz"))
}
