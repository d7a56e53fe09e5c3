package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested batch does not exist.
var ErrNotFound = errors.New("batch not found")

// BatchStatus mirrors the batch_runs status column.
type BatchStatus string

// Batch statuses.
const (
	BatchRunning BatchStatus = "running"
	BatchDone    BatchStatus = "done"
)

// BatchRun is one BatchScrape invocation.
type BatchRun struct {
	ID         uuid.UUID   `json:"id"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
	Status     BatchStatus `json:"status"`
	Total      int         `json:"total"`
	Attempted  int         `json:"attempted"`
	Succeeded  int         `json:"succeeded"`
}

// Attempt is one strategy invocation for one record.
type Attempt struct {
	BatchID    uuid.UUID `json:"batch_id"`
	RecordID   string    `json:"record_id"`
	Strategy   string    `json:"strategy"`
	Priority   int       `json:"priority"`
	Result     string    `json:"result"`
	Error      *string   `json:"error,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	At         time.Time `json:"at"`
}

// RecordOutcome is the terminal result of one record in a batch.
type RecordOutcome struct {
	BatchID     uuid.UUID `json:"batch_id"`
	RecordID    string    `json:"record_id"`
	Title       string    `json:"title"`
	Result      string    `json:"result"`
	Destination string    `json:"destination,omitempty"`
	DurationMs  int64     `json:"duration_ms"`
	At          time.Time `json:"at"`
}

// AttemptRepository persists batch progress.
type AttemptRepository interface {
	// StartBatch records a running batch. Repeated calls are idempotent.
	StartBatch(ctx context.Context, batchID uuid.UUID, startedAt time.Time, total int) error
	// RecordAttempts appends strategy attempts.
	RecordAttempts(ctx context.Context, attempts []Attempt) error
	// CompleteRecord stores a record's terminal outcome.
	CompleteRecord(ctx context.Context, outcome RecordOutcome) error
	// CompleteBatch marks the batch done with its final counts.
	CompleteBatch(ctx context.Context, batchID uuid.UUID, finishedAt time.Time, attempted, succeeded int) error

	// GetBatch loads one batch or returns ErrNotFound.
	GetBatch(ctx context.Context, batchID uuid.UUID) (BatchRun, error)
	// ListBatches returns batches, newest first.
	ListBatches(ctx context.Context, limit, offset int) ([]BatchRun, error)
	// ListRecords returns the record outcomes of one batch.
	ListRecords(ctx context.Context, batchID uuid.UUID, limit, offset int) ([]RecordOutcome, error)
	// ListAttempts returns the attempts made for one record of a batch.
	ListAttempts(ctx context.Context, batchID uuid.UUID, recordID string) ([]Attempt, error)
}
