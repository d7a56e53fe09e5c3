package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/paperscraper/internal/store"
)

// AttemptStore is an in-memory store.AttemptRepository for development and tests.
type AttemptStore struct {
	mu       sync.RWMutex
	batches  map[uuid.UUID]store.BatchRun
	records  map[uuid.UUID][]store.RecordOutcome
	attempts map[uuid.UUID][]store.Attempt
}

var _ store.AttemptRepository = (*AttemptStore)(nil)

// NewAttemptStore constructs an empty AttemptStore.
func NewAttemptStore() *AttemptStore {
	return &AttemptStore{
		batches:  make(map[uuid.UUID]store.BatchRun),
		records:  make(map[uuid.UUID][]store.RecordOutcome),
		attempts: make(map[uuid.UUID][]store.Attempt),
	}
}

// StartBatch implements store.AttemptRepository.
func (s *AttemptStore) StartBatch(_ context.Context, batchID uuid.UUID, startedAt time.Time, total int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.batches[batchID]; ok {
		return nil
	}
	s.batches[batchID] = store.BatchRun{
		ID:        batchID,
		StartedAt: startedAt,
		Status:    store.BatchRunning,
		Total:     total,
	}
	return nil
}

// RecordAttempts implements store.AttemptRepository.
func (s *AttemptStore) RecordAttempts(_ context.Context, attempts []store.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range attempts {
		s.attempts[a.BatchID] = append(s.attempts[a.BatchID], a)
	}
	return nil
}

// CompleteRecord implements store.AttemptRepository. A second outcome for the
// same record replaces the first.
func (s *AttemptStore) CompleteRecord(_ context.Context, o store.RecordOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.records[o.BatchID]
	for i := range list {
		if list[i].RecordID == o.RecordID {
			list[i] = o
			return nil
		}
	}
	s.records[o.BatchID] = append(list, o)
	return nil
}

// CompleteBatch implements store.AttemptRepository.
func (s *AttemptStore) CompleteBatch(
	_ context.Context,
	batchID uuid.UUID,
	finishedAt time.Time,
	attempted, succeeded int,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.batches[batchID]
	if !ok {
		return fmt.Errorf("complete batch %s: %w", batchID, store.ErrNotFound)
	}
	run.FinishedAt = &finishedAt
	run.Status = store.BatchDone
	run.Attempted = attempted
	run.Succeeded = succeeded
	s.batches[batchID] = run
	return nil
}

// GetBatch implements store.AttemptRepository.
func (s *AttemptStore) GetBatch(_ context.Context, batchID uuid.UUID) (store.BatchRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.batches[batchID]
	if !ok {
		return store.BatchRun{}, store.ErrNotFound
	}
	return run, nil
}

// ListBatches implements store.AttemptRepository.
func (s *AttemptStore) ListBatches(_ context.Context, limit, offset int) ([]store.BatchRun, error) {
	s.mu.RLock()
	runs := make([]store.BatchRun, 0, len(s.batches))
	for _, run := range s.batches {
		runs = append(runs, run)
	}
	s.mu.RUnlock()

	slices.SortFunc(runs, func(a, b store.BatchRun) int {
		return b.StartedAt.Compare(a.StartedAt)
	})
	return page(runs, limit, offset), nil
}

// ListRecords implements store.AttemptRepository.
func (s *AttemptStore) ListRecords(_ context.Context, batchID uuid.UUID, limit, offset int) ([]store.RecordOutcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return page(slices.Clone(s.records[batchID]), limit, offset), nil
}

// ListAttempts implements store.AttemptRepository.
func (s *AttemptStore) ListAttempts(_ context.Context, batchID uuid.UUID, recordID string) ([]store.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.Attempt
	for _, a := range s.attempts[batchID] {
		if a.RecordID == recordID {
			out = append(out, a)
		}
	}
	return out, nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
