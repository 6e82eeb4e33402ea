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

	"github.com/JakeFAU/neuronav/internal/store"
)

const (
	defaultBatchLimit = 50
	maxBatchLimit     = 500
	batchTimeout      = 3 * time.Second
)

// BatchHandler exposes read-only scrape batch progress.
type BatchHandler struct {
	repo    store.BatchRepository
	timeout time.Duration
	logger  *zap.Logger
}

// NewBatchHandler wires the repository and logger. A nil repo makes every
// route answer 503.
func NewBatchHandler(repo store.BatchRepository, logger *zap.Logger) *BatchHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BatchHandler{repo: repo, timeout: batchTimeout, logger: logger}
}

// ListBatches handles GET /api/batches?status=&limit=&offset= and returns
// {"batches": [...]}.
func (h *BatchHandler) ListBatches(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "progress repository unavailable")
		return
	}
	limit, offset, err := parseLimitOffset(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var status *store.BatchStatus
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		st := store.BatchStatus(strings.ToLower(raw))
		if !st.Valid() {
			writeError(w, http.StatusBadRequest, "invalid status")
			return
		}
		status = &st
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	runs, err := h.repo.ListBatches(ctx, status, limit, offset)
	if err != nil {
		h.logger.Error("list batches failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list batches")
		return
	}
	out := make([]batchDTO, 0, len(runs))
	for _, run := range runs {
		out = append(out, toBatchDTO(run))
	}
	writeJSON(w, http.StatusOK, map[string]any{"batches": out})
}

// GetBatch handles GET /api/batches/{batch_id} and returns {"batch": {...}}.
func (h *BatchHandler) GetBatch(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "progress repository unavailable")
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "batch_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid batch_id")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	run, err := h.repo.GetBatch(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "batch not found")
			return
		}
		h.logger.Error("get batch failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load batch")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"batch": toBatchDTO(run)})
}

func parseLimitOffset(r *http.Request) (int, int, error) {
	q := r.URL.Query()
	limit := defaultBatchLimit
	if raw := q.Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		limit = min(v, maxBatchLimit)
	}
	offset := 0
	if raw := q.Get("offset"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = v
	}
	return limit, offset, nil
}

type batchDTO struct {
	ID         string     `json:"id"`
	Model      string     `json:"model"`
	Layer      uint32     `json:"layer"`
	Total      int64      `json:"total"`
	Fetched    int64      `json:"fetched"`
	Skipped    int64      `json:"skipped"`
	Failed     int64      `json:"failed"`
	StartedAt  time.Time  `json:"started_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Status     string     `json:"status"`
	Error      *string    `json:"error,omitempty"`
}

func toBatchDTO(run store.BatchRun) batchDTO {
	return batchDTO{
		ID:         run.ID.String(),
		Model:      run.Model,
		Layer:      run.Layer,
		Total:      run.Total,
		Fetched:    run.Fetched,
		Skipped:    run.Skipped,
		Failed:     run.Failed,
		StartedAt:  run.StartedAt,
		UpdatedAt:  run.UpdatedAt,
		FinishedAt: run.FinishedAt,
		Status:     string(run.Status),
		Error:      run.ErrorMessage,
	}
}
