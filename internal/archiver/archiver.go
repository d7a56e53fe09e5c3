// Package archiver copies fetched papers to a blob store and announces each
// copy on a topic.
package archiver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/paperscraper/internal/clock/system"
	"github.com/JakeFAU/paperscraper/internal/hash/sha256"
	"github.com/JakeFAU/paperscraper/internal/publisher"
	"github.com/JakeFAU/paperscraper/internal/scraper"
	"github.com/JakeFAU/paperscraper/internal/storage"
)

// Hasher digests a file on disk.
type Hasher interface {
	HashFile(path string) (string, int64, error)
}

// Clock supplies notification timestamps.
type Clock interface {
	Now() time.Time
}

// Notification is published once per archived paper.
type Notification struct {
	RecordID  string    `json:"record_id"`
	Path      string    `json:"path"`
	BlobURI   string    `json:"blob_uri"`
	Hash      string    `json:"hash"`
	Size      int64     `json:"size"`
	Timestamp time.Time `json:"timestamp"`
}

// Archiver uploads and announces batch results.
type Archiver struct {
	blobs  storage.BlobStore
	pub    publisher.Publisher
	topic  string
	prefix string
	hasher Hasher
	clock  Clock
	logger *zap.Logger
}

// Option customizes an Archiver.
type Option func(*Archiver)

// WithHasher overrides the SHA-256 hasher.
func WithHasher(h Hasher) Option { return func(a *Archiver) { a.hasher = h } }

// WithClock overrides the wall clock.
func WithClock(c Clock) Option { return func(a *Archiver) { a.clock = c } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(a *Archiver) { a.logger = l } }

// New builds an Archiver. A nil blob store or publisher disables that step.
func New(blobs storage.BlobStore, pub publisher.Publisher, topic, prefix string, opts ...Option) *Archiver {
	if blobs == nil {
		blobs = storage.Nop{}
	}
	if pub == nil {
		pub = publisher.Nop{}
	}
	a := &Archiver{
		blobs:  blobs,
		pub:    pub,
		topic:  topic,
		prefix: strings.Trim(prefix, "/"),
		hasher: sha256.New(),
		clock:  system.New(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Archive processes every destination in result. Paths are handled in sorted
// order; a failure on one path does not stop the others and all failures are
// returned joined. records supplies the ids written into notifications; a
// path with no matching record falls back to its file name.
func (a *Archiver) Archive(ctx context.Context, result scraper.BatchResult, records ...scraper.Record) ([]Notification, error) {
	ids := indexRecordIDs(records)
	paths := make([]string, 0, len(result))
	for p := range result {
		paths = append(paths, p)
	}
	slices.Sort(paths)

	var (
		out  []Notification
		errs []error
	)
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		n, err := a.archiveOne(ctx, p, recordID(ids, p))
		if err != nil {
			a.logger.Warn("archive failed", zap.String("path", p), zap.Error(err))
			errs = append(errs, fmt.Errorf("archive %s: %w", p, err))
			continue
		}
		a.logger.Debug("archived", zap.String("record_id", n.RecordID), zap.String("blob_uri", n.BlobURI))
		out = append(out, n)
	}
	return out, errors.Join(errs...)
}

// indexRecordIDs maps destination file names back to record ids, since
// DestinationPath rewrites separators inside ids.
func indexRecordIDs(records []scraper.Record) map[string]string {
	ids := make(map[string]string, len(records))
	for _, rec := range records {
		if rec == nil {
			continue
		}
		ids[filepath.Base(scraper.DestinationPath("", rec.RecordID()))] = rec.RecordID()
	}
	return ids
}

func recordID(ids map[string]string, p string) string {
	if id, ok := ids[filepath.Base(p)]; ok {
		return id
	}
	return strings.TrimSuffix(filepath.Base(p), filepath.Ext(p))
}

func (a *Archiver) archiveOne(ctx context.Context, p, recordID string) (Notification, error) {
	sum, size, err := a.hasher.HashFile(p)
	if err != nil {
		return Notification{}, err
	}
	// #nosec G304 -- p is a destination produced by the scraper.
	f, err := os.Open(p)
	if err != nil {
		return Notification{}, fmt.Errorf("open: %w", err)
	}
	defer func() { _ = f.Close() }()

	uri, err := a.blobs.PutObject(ctx, a.ObjectPath(sum), storage.PDFContentType, f)
	if err != nil {
		return Notification{}, fmt.Errorf("upload: %w", err)
	}
	n := Notification{
		RecordID:  recordID,
		Path:      p,
		BlobURI:   uri,
		Hash:      sum,
		Size:      size,
		Timestamp: a.clock.Now(),
	}
	if _, err := a.pub.Publish(ctx, a.topic, n); err != nil {
		return Notification{}, fmt.Errorf("publish: %w", err)
	}
	return n, nil
}

// ObjectPath is the content-addressed key for a digest.
func (a *Archiver) ObjectPath(sum string) string {
	return path.Join(a.prefix, sum+".pdf")
}
