package scraper

import (
	"context"
	"maps"
	"net/http"
	"path/filepath"
	"strings"
	"time"
)

// Status is the per-strategy outcome recorded for one record.
type Status string

// Outcome values stored in an OutcomeMap.
const (
	StatusNone    Status = "none"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// OutcomeMap maps strategy names to their outcome for a single record.
type OutcomeMap map[string]Status

// Clone returns an independent copy safe to hand to reporters.
func (m OutcomeMap) Clone() OutcomeMap {
	return maps.Clone(m)
}

// Record is anything the engine can fetch an artifact for.
type Record interface {
	RecordID() string
	RecordTitle() string
}

// ExternalIDer exposes source-specific identifiers (ArXiv, DOI, PubMedCentral, ...).
type ExternalIDer interface {
	ExternalID(source string) (string, bool)
}

// OpenAccessLinker exposes a direct open-access artifact URL.
type OpenAccessLinker interface {
	OpenAccessURL() string
}

// LandingPager exposes the human-facing landing page of a record.
type LandingPager interface {
	LandingURL() string
}

// Session is a shared, rate-limited network client bound to a strategy.
type Session interface {
	Do(req *http.Request) (*http.Response, error)
	Close() error
}

// Resources are the handles a strategy receives on every invocation.
type Resources struct {
	Session Session
}

// FetchFunc fetches rec into dest. Returning true asserts a candidate artifact
// was written. Ordinary not-found conditions return false; errors are reserved
// for transport faults.
type FetchFunc func(ctx context.Context, rec Record, dest string, res Resources) (bool, error)

// Validator decides whether the file at path is a usable artifact. It must not
// panic and must return false for missing or empty files.
type Validator interface {
	Check(path string) bool
}

// ValidatorFunc adapts a function to Validator.
type ValidatorFunc func(path string) bool

// Check calls f(path).
func (f ValidatorFunc) Check(path string) bool {
	return f(path)
}

// Reporter receives outcome snapshots after every tier and once more on success.
type Reporter interface {
	Report(ctx context.Context, title string, outcomes OutcomeMap) error
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(ctx context.Context, title string, outcomes OutcomeMap) error

// Report calls f.
func (f ReporterFunc) Report(ctx context.Context, title string, outcomes OutcomeMap) error {
	return f(ctx, title, outcomes)
}

// Attempt describes one strategy invocation for one record.
type Attempt struct {
	RecordID string
	Strategy string
	Priority int
	Status   Status
	Err      error
	Duration time.Duration
}

// RecordResult describes the terminal outcome of one orchestration.
type RecordResult struct {
	RecordID    string
	Title       string
	Destination string
	Success     bool
	Outcomes    OutcomeMap
	Duration    time.Duration
}

// BatchSummary describes a finished BatchScrape call.
type BatchSummary struct {
	Attempted int
	Succeeded int
	Windows   int
	Duration  time.Duration
}

// Observer is notified of attempts and completions. It never influences the
// orchestration and must be safe for concurrent use.
type Observer interface {
	BatchStarted(ctx context.Context, total int)
	AttemptDone(ctx context.Context, attempt Attempt)
	RecordDone(ctx context.Context, result RecordResult)
	BatchDone(ctx context.Context, summary BatchSummary)
}

type nopObserver struct{}

func (nopObserver) BatchStarted(context.Context, int)        {}
func (nopObserver) AttemptDone(context.Context, Attempt)     {}
func (nopObserver) RecordDone(context.Context, RecordResult) {}
func (nopObserver) BatchDone(context.Context, BatchSummary)  {}

// DestinationPath derives the artifact path for a record id inside dir.
func DestinationPath(dir, id string) string {
	safe := strings.NewReplacer("/", "_", "\\", "_").Replace(id)
	return filepath.Join(dir, safe+".pdf")
}
