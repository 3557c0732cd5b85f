package stats

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"scholar/internal/middleware"
)

// Counter is satisfied by the task and job repositories and by the chunk index.
type Counter interface {
	Count(ctx context.Context) (int, error)
}

type Handler struct {
	taskRepo Counter
	jobRepo  Counter
	index    Counter
}

func NewHandler(tasks, jobs, index Counter) *Handler {
	return &Handler{taskRepo: tasks, jobRepo: jobs, index: index}
}

type StatsResponse struct {
	Tasks      int `json:"tasks"`
	Chunks     int `json:"chunks"`
	FailedJobs int `json:"failed_jobs"`
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	tCount, err := h.taskRepo.Count(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count tasks", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count tasks", http.StatusInternalServerError)
		return
	}

	jCount, err := h.jobRepo.Count(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count jobs", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count jobs", http.StatusInternalServerError)
		return
	}

	cCount, err := h.index.Count(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count indexed chunks", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count indexed chunks", http.StatusInternalServerError)
		return
	}

	resp := StatsResponse{
		Tasks:      tCount,
		Chunks:     cCount,
		FailedJobs: jCount,
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
