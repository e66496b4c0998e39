// handler.go — основной обработчик API, реализующий openapi.ServerInterface.
// Объединяет health и файловые обработчики.
package handlers

import (
	"log/slog"
	"net/http"

	"github.com/bigkaa/goartstore/file-service/internal/api/openapi"
)

// APIHandler — основной обработчик API File Service.
type APIHandler struct {
	files  *FilesHandler
	health *HealthHandler
	logger *slog.Logger
}

var _ openapi.ServerInterface = (*APIHandler)(nil)

// NewAPIHandler создаёт основной обработчик API.
func NewAPIHandler(
	files *FilesHandler,
	health *HealthHandler,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		files:  files,
		health: health,
		logger: logger.With(slog.String("component", "api_handler")),
	}
}

// --- Файловые операции ---

// ListFiles — GET /api/v1/files.
func (h *APIHandler) ListFiles(w http.ResponseWriter, r *http.Request, params openapi.ListFilesParams) {
	h.files.ListFiles(w, r, params)
}

// UploadFile — POST /api/v1/files.
func (h *APIHandler) UploadFile(w http.ResponseWriter, r *http.Request) {
	h.files.UploadFile(w, r)
}

// GetFileMetadata — GET /api/v1/files/{file_id}.
func (h *APIHandler) GetFileMetadata(w http.ResponseWriter, r *http.Request, fileId openapi.FileId) {
	h.files.GetFileMetadata(w, r, fileId)
}

// UpdateFileMetadata — PATCH /api/v1/files/{file_id}.
func (h *APIHandler) UpdateFileMetadata(w http.ResponseWriter, r *http.Request, fileId openapi.FileId) {
	h.files.UpdateFileMetadata(w, r, fileId)
}

// DeleteFile — DELETE /api/v1/files/{file_id}.
func (h *APIHandler) DeleteFile(w http.ResponseWriter, r *http.Request, fileId openapi.FileId) {
	h.files.DeleteFile(w, r, fileId)
}

// DownloadFile — GET /api/v1/files/{file_id}/download.
func (h *APIHandler) DownloadFile(w http.ResponseWriter, r *http.Request, fileId openapi.FileId) {
	h.files.DownloadFile(w, r, fileId)
}

// --- Health endpoints (делегируются в HealthHandler) ---

// HealthLive — liveness probe.
func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

// HealthReady — readiness probe.
func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

// GetMetrics — Prometheus метрики.
func (h *APIHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.health.GetMetrics(w, r)
}
