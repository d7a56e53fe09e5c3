package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/paperscraper/internal/app"
	"github.com/JakeFAU/paperscraper/internal/id"
	"github.com/JakeFAU/paperscraper/internal/scraper"
	"github.com/JakeFAU/paperscraper/internal/store"
	"github.com/JakeFAU/paperscraper/internal/telemetry"
)

const maxScrapeBody = 8 << 20

// Fetcher runs one batch scrape.
type Fetcher interface {
	Fetch(ctx context.Context, records []scraper.Record, transform scraper.Transform, batchSize, limit int) (app.Run, error)
}

// Config tunes the server.
type Config struct {
	RequestTimeout time.Duration
	// MaxRecords caps a single scrape request. Zero means no cap.
	MaxRecords int
}

// Server wires HTTP handlers to the scraper and the progress store.
type Server struct {
	router   chi.Router
	fetcher  Fetcher
	progress *ProgressHandler
	logger   *zap.Logger
	cfg      Config

	// background runs outlive their request; baseCtx is canceled by Shutdown.
	baseCtx    context.Context
	cancelBase context.CancelFunc
	inflight   sync.WaitGroup
}

// NewServer constructs a Server with middleware and routes.
func NewServer(fetcher Fetcher, repo store.AttemptRepository, logger *zap.Logger, cfg Config) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Minute
	}
	baseCtx, cancel := context.WithCancel(context.Background())
	s := &Server{
		fetcher:    fetcher,
		progress:   NewProgressHandler(repo, logger),
		logger:     logger,
		cfg:        cfg,
		baseCtx:    baseCtx,
		cancelBase: cancel,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(telemetry.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", telemetry.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(timeoutMiddleware(cfg.RequestTimeout))
		r.Post("/scrape", s.scrape)
		r.Route("/batches", func(r chi.Router) {
			r.Get("/", s.progress.ListBatches)
			r.Route("/{batch_id}", func(r chi.Router) {
				r.Get("/", s.progress.GetBatch)
				r.Get("/records", s.progress.ListRecords)
				r.Get("/records/{record_id}/attempts", s.progress.ListAttempts)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Shutdown cancels background scrapes and waits for them, or for ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancelBase()
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for background scrapes: %w", ctx.Err())
	}
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if s.fetcher == nil {
		writeError(w, http.StatusServiceUnavailable, "scraper unavailable")
		return
	}
	if s.baseCtx.Err() != nil {
		writeError(w, http.StatusServiceUnavailable, "shutting down")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type scrapeRequest struct {
	Papers    []*scraper.Paper `json:"papers"`
	BatchSize int              `json:"batch_size"`
	Limit     int              `json:"limit"`
	// Wait keeps the request open until the batch is done.
	Wait bool `json:"wait"`
}

type fetchedDTO struct {
	Path   string `json:"path"`
	Record any    `json:"record"`
}

type scrapeResponse struct {
	BatchID      string       `json:"batch_id"`
	Status       string       `json:"status"`
	Fetched      []fetchedDTO `json:"fetched,omitempty"`
	Archived     any          `json:"archived,omitempty"`
	ArchiveError string       `json:"archive_error,omitempty"`
}

func (s *Server) scrape(w http.ResponseWriter, r *http.Request) {
	if s.fetcher == nil {
		writeError(w, http.StatusServiceUnavailable, "scraper unavailable")
		return
	}
	var req scrapeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxScrapeBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	records, err := s.toRecords(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	batchID, err := id.NewBatchID()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to allocate batch id")
		return
	}

	if req.Wait {
		ctx := scraper.ContextWithBatchID(r.Context(), batchID)
		run, err := s.fetcher.Fetch(ctx, records, nil, req.BatchSize, req.Limit)
		if err != nil {
			s.logger.Error("scrape failed", zap.String("batch_id", batchID.String()), zap.Error(err))
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, toScrapeResponse(run))
		return
	}

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		ctx := scraper.ContextWithBatchID(s.baseCtx, batchID)
		run, err := s.fetcher.Fetch(ctx, records, nil, req.BatchSize, req.Limit)
		if err != nil {
			s.logger.Error("background scrape failed", zap.String("batch_id", batchID.String()), zap.Error(err))
			return
		}
		s.logger.Info("background scrape finished",
			zap.String("batch_id", batchID.String()),
			zap.Int("fetched", len(run.Result)),
		)
	}()
	writeJSON(w, http.StatusAccepted, scrapeResponse{BatchID: batchID.String(), Status: string(store.BatchRunning)})
}

func (s *Server) toRecords(req scrapeRequest) ([]scraper.Record, error) {
	if len(req.Papers) == 0 {
		return nil, errors.New("papers required")
	}
	if s.cfg.MaxRecords > 0 && len(req.Papers) > s.cfg.MaxRecords {
		return nil, fmt.Errorf("at most %d papers per request", s.cfg.MaxRecords)
	}
	if req.BatchSize < 0 {
		return nil, errors.New("batch_size must be >= 0")
	}
	if req.Limit < 0 {
		return nil, errors.New("limit must be >= 0")
	}
	records := make([]scraper.Record, 0, len(req.Papers))
	for i, p := range req.Papers {
		if p == nil || p.PaperID == "" {
			return nil, fmt.Errorf("papers[%d]: paperId required", i)
		}
		records = append(records, p)
	}
	return records, nil
}

func toScrapeResponse(run app.Run) scrapeResponse {
	resp := scrapeResponse{
		BatchID: run.BatchID.String(),
		Status:  string(store.BatchDone),
		Fetched: make([]fetchedDTO, 0, len(run.Result)),
	}
	for path, rec := range run.Result {
		resp.Fetched = append(resp.Fetched, fetchedDTO{Path: path, Record: rec})
	}
	sort.Slice(resp.Fetched, func(i, j int) bool { return resp.Fetched[i].Path < resp.Fetched[j].Path })
	if len(run.Archived) > 0 {
		resp.Archived = run.Archived
	}
	if run.ArchiveErr != nil {
		resp.ArchiveError = run.ArchiveErr.Error()
	}
	return resp
}
