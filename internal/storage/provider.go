// Package storage defines where archived papers are copied after a batch.
package storage

import (
	"context"
	"io"
)

// PDFContentType is set on every archived object.
const PDFContentType = "application/pdf"

// BlobStore uploads an object and returns a URI that locates it.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Nop discards uploads. It is used when storage.backend is "none".
type Nop struct{}

// PutObject drains r and returns an empty URI.
func (Nop) PutObject(_ context.Context, _ string, _ string, r io.Reader) (string, error) {
	_, err := io.Copy(io.Discard, r)
	return "", err
}
