package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/paperscraper/internal/id"
	"github.com/JakeFAU/paperscraper/internal/store"
)

const (
	defaultBatchLimit  = 50
	maxBatchLimit      = 500
	defaultRecordLimit = 100
	maxRecordLimit     = 1000
	progressTimeout    = 3 * time.Second
)

// ProgressHandler exposes read-only batch progress endpoints.
type ProgressHandler struct {
	repo    store.AttemptRepository
	timeout time.Duration
	logger  *zap.Logger
}

// NewProgressHandler wires the repository and logger.
func NewProgressHandler(repo store.AttemptRepository, logger *zap.Logger) *ProgressHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProgressHandler{repo: repo, timeout: progressTimeout, logger: logger}
}

// ListBatches handles GET /v1/batches?limit=&offset= and returns {"batches": [...]}.
func (h *ProgressHandler) ListBatches(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultBatchLimit, maxBatchLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	batches, err := h.repo.ListBatches(ctx, limit, offset)
	if err != nil {
		h.logger.Error("list batches failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list batches")
		return
	}
	if batches == nil {
		batches = []store.BatchRun{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"batches": batches})
}

// GetBatch handles GET /v1/batches/{batch_id}. Unknown ids yield 404.
func (h *ProgressHandler) GetBatch(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}
	batchID, err := parseBatchID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	batch, err := h.repo.GetBatch(ctx, batchID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "batch not found")
			return
		}
		h.logger.Error("get batch failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load batch")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"batch": batch})
}

// ListRecords handles GET /v1/batches/{batch_id}/records?limit=&offset=.
func (h *ProgressHandler) ListRecords(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}
	batchID, err := parseBatchID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultRecordLimit, maxRecordLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	records, err := h.repo.ListRecords(ctx, batchID, limit, offset)
	if err != nil {
		h.logger.Error("list records failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list records")
		return
	}
	if records == nil {
		records = []store.RecordOutcome{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records})
}

// ListAttempts handles GET /v1/batches/{batch_id}/records/{record_id}/attempts.
func (h *ProgressHandler) ListAttempts(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}
	batchID, err := parseBatchID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	recordID := strings.TrimSpace(chi.URLParam(r, "record_id"))
	if recordID == "" {
		writeError(w, http.StatusBadRequest, "record_id is required")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	attempts, err := h.repo.ListAttempts(ctx, batchID, recordID)
	if err != nil {
		h.logger.Error("list attempts failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list attempts")
		return
	}
	if attempts == nil {
		attempts = []store.Attempt{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"attempts": attempts})
}

func (h *ProgressHandler) available(w http.ResponseWriter) bool {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "progress repository unavailable")
		return false
	}
	return true
}

func parseBatchID(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "batch_id")
	if raw == "" {
		return uuid.UUID{}, errors.New("batch_id is required")
	}
	batchID, err := id.ParseBatchID(raw)
	if err != nil {
		return uuid.UUID{}, errors.New("invalid batch_id")
	}
	return batchID, nil
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if raw := q.Get("limit"); raw != "" {
		val, err := strconv.Atoi(raw)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		limit = min(val, maxLimit)
	}
	offset := 0
	if raw := q.Get("offset"); raw != "" {
		val, err := strconv.Atoi(raw)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}
