package query

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"polyglotd/backend/internal/middleware"
	"polyglotd/backend/internal/retrieval"
)

// Retriever is the retrieval pipeline entry point.
type Retriever interface {
	Retrieve(ctx context.Context, req retrieval.Request) (*retrieval.Response, error)
}

type Handler struct {
	retriever Retriever
}

func NewHandler(retriever Retriever) *Handler {
	return &Handler{retriever: retriever}
}

func (h *Handler) Query(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req retrieval.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(ctx, w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}

	resp, err := h.retriever.Retrieve(ctx, req)
	if err != nil {
		switch {
		case errors.Is(err, retrieval.ErrEmptyQuery):
			h.writeError(ctx, w, "VALIDATION_ERROR", "Query is required", http.StatusBadRequest)
		case errors.Is(err, retrieval.ErrEmbeddingUnavailable):
			slog.ErrorContext(ctx, "embedding unavailable", "error", err)
			h.writeError(ctx, w, "EMBEDDING_UNAVAILABLE", "Embedding service unavailable", http.StatusBadGateway)
		case errors.Is(err, retrieval.ErrIndexUnavailable):
			slog.ErrorContext(ctx, "index unavailable", "error", err)
			h.writeError(ctx, w, "INDEX_UNAVAILABLE", "Search index unavailable", http.StatusServiceUnavailable)
		case errors.Is(err, context.Canceled):
			// Client went away, nothing to write.
		default:
			slog.ErrorContext(ctx, "query failed", "error", err)
			h.writeError(ctx, w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
		}
		return
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
