package job

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"scholar/internal/config"
	"scholar/internal/middleware"
)

type Handler struct {
	service *Service
}

func NewHandler(s *Service) *Handler {
	return &Handler{service: s}
}

// List returns failed research runs, newest first. ?task_id= narrows the list
// to the runs of one task.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	taskID := strings.TrimSpace(r.URL.Query().Get("task_id"))
	if taskID != "" {
		if _, err := uuid.Parse(taskID); err != nil {
			h.writeError(ctx, w, "INVALID_ARGUMENT", "task_id must be a task UUID", http.StatusBadRequest)
			return
		}
	}

	jobs, err := h.service.List(ctx, taskID)
	if err != nil {
		slog.ErrorContext(ctx, "failed to list failed runs", "task_id", taskID, "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		return
	}
	if jobs == nil {
		jobs = []Job{}
	}

	tasks := map[string]struct{}{}
	for _, j := range jobs {
		if j.TaskID != "" {
			tasks[j.TaskID] = struct{}{}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	resp := map[string]interface{}{
		"data": jobs,
		"meta": map[string]int{"count": len(jobs), "tasks": len(tasks)},
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

// Retry republishes the run message of a failed job so its task runs again.
func (h *Handler) Retry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	j, err := h.service.Retry(ctx, id)
	if err != nil {
		attrs := []any{"job_id", id, "error", err}
		if j != nil {
			attrs = append(attrs, "task_id", j.TaskID, "handler", j.Handler)
		}
		slog.ErrorContext(ctx, "failed to retry research run", attrs...)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			h.writeError(ctx, w, "NOT_FOUND", "Failed run not found", http.StatusNotFound)
		case errors.Is(err, ErrPublishTimeout):
			h.writeError(ctx, w, "UNAVAILABLE", err.Error(), http.StatusServiceUnavailable)
		default:
			h.writeError(ctx, w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		}
		return
	}

	slog.InfoContext(ctx, "research run requeued", "job_id", id, "task_id", j.TaskID, "previous_error", j.Error)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	resp := map[string]interface{}{
		"data": map[string]string{
			"job_id":  j.ID,
			"task_id": j.TaskID,
			"topic":   config.TopicResearchRun,
		},
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
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
