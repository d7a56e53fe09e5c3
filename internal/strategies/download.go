package strategies

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/JakeFAU/paperscraper/internal/scraper"
)

// maxArtifactBytes caps a single download.
const maxArtifactBytes = 256 << 20

// ErrNoSession is returned when a strategy runs without a bound session.
var ErrNoSession = errors.New("strategy requires a session")

var notPaperMarkers = [][]byte{
	[]byte("Invalid article ID"),
	[]byte("No paper"),
}

// likelyPDF rejects bodies that are error pages served with status 200.
func likelyPDF(body []byte) bool {
	for _, marker := range notPaperMarkers {
		if bytes.Contains(body, marker) {
			return false
		}
	}
	return true
}

// download fetches url through sess and writes the body to dest. A non-200
// status, an error page or a body over maxArtifactBytes is reported as false
// with no error.
func download(ctx context.Context, sess scraper.Session, url, dest string) (bool, error) {
	return downloadCapped(ctx, sess, url, dest, maxArtifactBytes)
}

func downloadCapped(ctx context.Context, sess scraper.Session, url, dest string, maxBytes int64) (bool, error) {
	if sess == nil {
		return false, ErrNoSession
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, fmt.Errorf("build request: %w", err)
	}
	resp, err := sess.Do(req)
	if err != nil {
		return false, fmt.Errorf("get %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
		return false, nil
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return false, fmt.Errorf("read %s: %w", url, err)
	}
	if int64(len(body)) > maxBytes {
		return false, nil
	}
	if !likelyPDF(body) {
		return false, nil
	}
	if err := writeArtifact(dest, body); err != nil {
		return false, err
	}
	return true, nil
}

// writeArtifact replaces dest atomically so a concurrent validator never sees
// a partial file.
func writeArtifact(dest string, body []byte) error {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".fetch-*")
	if err != nil {
		return fmt.Errorf("create temp artifact: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(body); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close artifact: %w", err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("move artifact into place: %w", err)
	}
	return nil
}

func externalID(rec scraper.Record, source string) (string, bool) {
	ider, ok := rec.(scraper.ExternalIDer)
	if !ok {
		return "", false
	}
	return ider.ExternalID(source)
}

// roundTripper returns an http.RoundTripper that sends through sess.
func roundTripper(sess scraper.Session) http.RoundTripper {
	if rt, ok := sess.(interface{ RoundTripper() http.RoundTripper }); ok {
		return rt.RoundTripper()
	}
	return roundTripperFunc(sess.Do)
}

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}
