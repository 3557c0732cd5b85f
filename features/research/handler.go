package research

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"scholar/internal/apperr"
	"scholar/internal/domain"
	"scholar/internal/essay"
	"scholar/internal/ingest"
	"scholar/internal/middleware"
	"scholar/internal/workflow"
)

type Handler struct {
	service     *Service
	uploadDir   string
	maxUploadMB int64
}

func NewHandler(service *Service, uploadDir string, maxUploadMB int64) *Handler {
	if maxUploadMB <= 0 {
		maxUploadMB = 50
	}
	return &Handler{service: service, uploadDir: uploadDir, maxUploadMB: maxUploadMB}
}

type createRequest struct {
	Topic        string             `json:"topic"`
	Requirements string             `json:"requirements"`
	Options      domain.TaskOptions `json:"options"`
	PDFs         []domain.PDFInput  `json:"pdfs"`
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}

	task, err := h.service.Create(r.Context(), req.Topic, req.Requirements, req.Options, req.PDFs)
	if err != nil {
		h.fail(r.Context(), w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]interface{}{"data": task})
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.service.List(r.Context())
	if err != nil {
		h.fail(r.Context(), w, err)
		return
	}
	if tasks == nil {
		tasks = []domain.ResearchTask{}
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": tasks,
		"meta": map[string]int{"count": len(tasks)},
	})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	task, err := h.service.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(r.Context(), w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"data": task})
}

func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	st, err := h.service.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(r.Context(), w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"data": st})
}

func (h *Handler) Run(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.service.Run(r.Context(), id); err != nil {
		h.fail(r.Context(), w, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"data": map[string]string{"id": id, "status": "queued"},
	})
}

func (h *Handler) Essay(w http.ResponseWriter, r *http.Request) {
	e, err := h.service.Result(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(r.Context(), w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"data": e})
}

func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	format := r.URL.Query().Get("format")
	if format == "" {
		format = essay.FormatTXT
	}

	e, err := h.service.Result(r.Context(), id)
	if err != nil {
		h.fail(r.Context(), w, err)
		return
	}
	body, err := essay.Render(e, format)
	if err != nil {
		h.fail(r.Context(), w, err)
		return
	}

	w.Header().Set("Content-Type", essay.ContentType(format))
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="essay-%s.%s"`, id, format))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		slog.ErrorContext(r.Context(), "failed to write essay", "error", err)
	}
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), r.PathValue("id")); err != nil {
		h.fail(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// UploadPDF stores a multipart "file" under the upload directory and
// attaches it to the task. "kind" and "title" form fields are optional.
func (h *Handler) UploadPDF(w http.ResponseWriter, r *http.Request) {
	limit := h.maxUploadMB << 20
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(limit); err != nil {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "File too large", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "Unable to retrieve file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	if !ingest.SupportedExt(header.Filename) {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "Unsupported file type", http.StatusBadRequest)
		return
	}

	if err := os.MkdirAll(h.uploadDir, 0o750); err != nil {
		slog.ErrorContext(r.Context(), "failed to create upload directory", "error", err, "path", filepath.Clean(h.uploadDir))
		h.writeError(r.Context(), w, "INTERNAL_ERROR", "Failed to create upload directory", http.StatusInternalServerError)
		return
	}

	filename := fmt.Sprintf("%s_%s", uuid.New().String(), filepath.Base(header.Filename))
	path := filepath.Clean(filepath.Join(h.uploadDir, filename))

	dst, err := os.Create(path) // #nosec G304 -- path is a UUID plus the sanitized basename
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to create file", "error", err, "path", path)
		h.writeError(r.Context(), w, "INTERNAL_ERROR", "Failed to save file", http.StatusInternalServerError)
		return
	}
	_, copyErr := io.Copy(dst, file)
	closeErr := dst.Close()
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(path)
		h.writeError(r.Context(), w, "INTERNAL_ERROR", "Failed to write file", http.StatusInternalServerError)
		return
	}

	title := r.FormValue("title")
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(header.Filename), filepath.Ext(header.Filename))
	}
	task, err := h.service.AttachPDF(r.Context(), r.PathValue("id"), domain.PDFInput{
		Path:  path,
		Kind:  domain.SourceKind(r.FormValue("kind")),
		Title: title,
	})
	if err != nil {
		if removeErr := os.Remove(path); removeErr != nil {
			slog.WarnContext(r.Context(), "failed to clean up uploaded file", "error", removeErr, "path", path)
		}
		h.fail(r.Context(), w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]interface{}{"data": task})
}

// fail maps service errors onto the error envelope.
func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, apperr.ErrConfig):
		h.writeError(ctx, w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
	case errors.Is(err, sql.ErrNoRows):
		h.writeError(ctx, w, "NOT_FOUND", "Research task not found", http.StatusNotFound)
	case errors.Is(err, workflow.ErrTaskCompleted),
		errors.Is(err, workflow.ErrTaskRunning),
		errors.Is(err, ErrNotCompleted):
		h.writeError(ctx, w, "CONFLICT", err.Error(), http.StatusConflict)
	default:
		slog.ErrorContext(ctx, "operation failed", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
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
