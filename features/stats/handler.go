package stats

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"polyglotd/backend/internal/middleware"
)

type DocumentRepo interface {
	Count(ctx context.Context) (int, error)
}

type JobRepo interface {
	Count(ctx context.Context) (int, error)
}

type VectorStore interface {
	CountChunks(ctx context.Context) (int, error)
}

type CacheCounter interface {
	Count(ctx context.Context) (int, error)
}

type Handler struct {
	docRepo     DocumentRepo
	jobRepo     JobRepo
	vectorStore VectorStore
	cache       CacheCounter
}

func NewHandler(d DocumentRepo, j JobRepo, v VectorStore, c CacheCounter) *Handler {
	return &Handler{docRepo: d, jobRepo: j, vectorStore: v, cache: c}
}

type StatsResponse struct {
	Documents    int `json:"documents"`
	Chunks       int `json:"chunks"`
	FailedJobs   int `json:"failed_jobs"`
	CacheEntries int `json:"cache_entries"`
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	slog.InfoContext(ctx, "getting stats", "correlationId", correlationID)

	dCount, err := h.docRepo.Count(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count documents", "error", err, "correlationId", correlationID)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count documents", http.StatusInternalServerError)
		return
	}

	jCount, err := h.jobRepo.Count(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count jobs", "error", err, "correlationId", correlationID)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count jobs", http.StatusInternalServerError)
		return
	}

	cCount, err := h.vectorStore.CountChunks(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count chunks", "error", err, "correlationId", correlationID)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count chunks", http.StatusInternalServerError)
		return
	}

	// Cache stats are best effort.
	cacheCount := 0
	if h.cache != nil {
		if n, err := h.cache.Count(ctx); err == nil {
			cacheCount = n
		} else {
			slog.WarnContext(ctx, "failed to count cache entries", "error", err)
		}
	}

	resp := StatsResponse{
		Documents:    dCount,
		Chunks:       cCount,
		FailedJobs:   jCount,
		CacheEntries: cacheCount,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": resp}); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
