// Package id mints the identifiers used for batches and requests.
package id

import (
	"fmt"

	"github.com/google/uuid"
)

// NewBatchID returns a UUIDv7 so batch ids sort by creation time.
func NewBatchID() (uuid.UUID, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.Nil, fmt.Errorf("generate batch id: %w", err)
	}
	return id, nil
}

// NewRequestID returns a random UUIDv4 string.
func NewRequestID() string {
	return uuid.NewString()
}

// ParseBatchID parses s and rejects the nil UUID.
func ParseBatchID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse batch id: %w", err)
	}
	if id == uuid.Nil {
		return uuid.Nil, fmt.Errorf("parse batch id: nil uuid")
	}
	return id, nil
}
