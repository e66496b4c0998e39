// files.go — HTTP handlers файловых операций File Service.
// Upload, Download, List, Get metadata, Update metadata, Delete.
package handlers

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	playground "github.com/go-playground/validator/v10"
	openapi_types "github.com/oapi-codegen/runtime/types"

	"github.com/bigkaa/goartstore/file-service/internal/api/errors"
	"github.com/bigkaa/goartstore/file-service/internal/api/middleware"
	"github.com/bigkaa/goartstore/file-service/internal/api/openapi"
	"github.com/bigkaa/goartstore/file-service/internal/domain/model"
	"github.com/bigkaa/goartstore/file-service/internal/service"
	"github.com/bigkaa/goartstore/file-service/internal/validator"
)

const (
	// multipartOverhead — запас сверх размера файла на поля и заголовки частей.
	multipartOverhead = 1 << 20
	// maxFieldSize — предельный размер текстового поля формы.
	maxFieldSize = 4 << 10
)

// FileService — операции сервисного слоя, используемые handlers.
type FileService interface {
	Upload(ctx context.Context, p service.UploadParams) (*model.FileRecord, error)
	Download(ctx context.Context, id string) (*model.FileRecord, io.ReadCloser, error)
	Get(ctx context.Context, id string) (*model.FileRecord, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, p service.ListParams) (*service.ListResult, error)
	UpdateMetadata(ctx context.Context, id string, p service.UpdateParams) (*model.FileRecord, error)
}

// FilesHandler — обработчик файловых endpoints.
type FilesHandler struct {
	svc         FileService
	maxFileSize int64
	validate    *playground.Validate
	logger      *slog.Logger
}

// NewFilesHandler создаёт обработчик файловых endpoints.
// maxFileSize ограничивает тело запроса загрузки.
func NewFilesHandler(svc FileService, maxFileSize int64, logger *slog.Logger) *FilesHandler {
	return &FilesHandler{
		svc:         svc,
		maxFileSize: maxFileSize,
		validate:    playground.New(),
		logger:      logger.With(slog.String("component", "files_handler")),
	}
}

// uploadForm — поля multipart формы загрузки, предшествующие части file.
// Здесь проверяется только формат полей; содержательные правила
// (имя, тип, размер, checksum) применяет сервисный слой со своими кодами.
type uploadForm struct {
	Size        int64  `validate:"gte=0"`
	ContentType string `validate:"max=255"`
	Checksum    string `validate:"max=128"`
	FileName    string `validate:"max=4096"`
}

// updateRequest — тело PATCH /api/v1/files/{file_id}.
type updateRequest struct {
	FileName    *string `json:"fileName,omitempty" validate:"omitempty,min=1,max=255"`
	ContentType *string `json:"contentType,omitempty" validate:"omitempty,min=1,max=255"`
}

// fileResponse — метаданные файла в ответах API.
// Путь хранения и статус не раскрываются.
type fileResponse struct {
	FileId         openapi_types.UUID `json:"fileId"` //nolint:revive // имя поля контракта
	FileName       string             `json:"fileName"`
	Size           int64              `json:"size"`
	ContentType    string             `json:"contentType"`
	Checksum       string             `json:"checksum"`
	UploadedAt     time.Time          `json:"uploadedAt"`
	UploadedBy     string             `json:"uploadedBy,omitempty"`
	LastAccessedAt *time.Time         `json:"lastAccessedAt,omitempty"`
}

// fileListResponse — страница листинга.
type fileListResponse struct {
	Items  []fileResponse `json:"items"`
	Total  int            `json:"total"`
	Offset int            `json:"offset"`
	Limit  int            `json:"limit"`
}

// UploadFile обрабатывает POST /api/v1/files.
// Multipart form читается потоком: поля size, contentType и опционально
// checksum, fileName должны предшествовать части file. Тело части file
// передаётся в сервис без буферизации на диске.
func (h *FilesHandler) UploadFile(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxFileSize+multipartOverhead)

	mr, err := r.MultipartReader()
	if err != nil {
		errors.ValidationError(w, "Ожидается multipart/form-data")
		return
	}

	form, file, sizeSet, err := h.readUploadForm(mr)
	if err != nil {
		h.writeUploadFormError(w, err)
		return
	}
	defer file.Close()

	if !sizeSet {
		errors.ValidationError(w, "Поле 'size' обязательно и должно предшествовать 'file'")
		return
	}
	if err := h.validate.Struct(form); err != nil {
		errors.ValidationError(w, describeValidation(err))
		return
	}

	rec, err := h.svc.Upload(r.Context(), service.UploadParams{
		FileName:         form.FileName,
		ContentType:      form.ContentType,
		Size:             form.Size,
		Reader:           file,
		ExpectedChecksum: form.Checksum,
		UploadedBy:       middleware.SubjectFromContext(r.Context()),
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toFileResponse(rec))
}

// readUploadForm читает поля формы до части file и возвращает её.
func (h *FilesHandler) readUploadForm(mr *multipart.Reader) (uploadForm, *multipart.Part, bool, error) {
	var (
		form    uploadForm
		sizeSet bool
	)

	for {
		part, err := mr.NextPart()
		if stderrors.Is(err, io.EOF) {
			return form, nil, false, errMissingFilePart
		}
		if err != nil {
			return form, nil, false, err
		}

		name := part.FormName()
		if name == "file" {
			if form.FileName == "" {
				form.FileName = partFileName(part)
			}
			if form.ContentType == "" {
				form.ContentType = part.Header.Get("Content-Type")
			}
			return form, part, sizeSet, nil
		}

		value, err := readField(part)
		_ = part.Close()
		if err != nil {
			return form, nil, false, err
		}

		switch name {
		case "size":
			size, perr := strconv.ParseInt(value, 10, 64)
			if perr != nil {
				return form, nil, false, fieldError("Поле 'size' должно быть целым числом")
			}
			form.Size = size
			sizeSet = true
		case "contentType":
			form.ContentType = value
		case "checksum":
			form.Checksum = value
		case "fileName":
			form.FileName = value
		}
	}
}

// fieldError — ошибка формата поля формы.
type fieldError string

func (e fieldError) Error() string { return string(e) }

var errMissingFilePart = fieldError("Поле 'file' обязательно")

func (h *FilesHandler) writeUploadFormError(w http.ResponseWriter, err error) {
	var (
		fe     fieldError
		maxErr *http.MaxBytesError
	)
	switch {
	case stderrors.As(err, &fe):
		errors.ValidationError(w, fe.Error())
	case stderrors.As(err, &maxErr):
		errors.FileTooLarge(w, fmt.Sprintf("Тело запроса превышает %d байт", maxErr.Limit))
	default:
		h.logger.Debug("Ошибка чтения multipart", slog.String("error", err.Error()))
		errors.ValidationError(w, "Некорректное multipart-тело запроса")
	}
}

// readField читает текстовое поле формы с ограничением размера.
func readField(part *multipart.Part) (string, error) {
	data, err := io.ReadAll(io.LimitReader(part, maxFieldSize+1))
	if err != nil {
		return "", err
	}
	if len(data) > maxFieldSize {
		return "", fieldError(fmt.Sprintf("Поле '%s' длиннее %d байт", part.FormName(), maxFieldSize))
	}
	return strings.TrimSpace(string(data)), nil
}

// partFileName возвращает filename из Content-Disposition как есть.
// multipart.Part.FileName отбрасывает каталоги, а имя с путём должно
// дойти до валидатора и быть отклонено.
func partFileName(part *multipart.Part) string {
	_, params, err := mime.ParseMediaType(part.Header.Get("Content-Disposition"))
	if err != nil {
		return ""
	}
	return params["filename"]
}

// DownloadFile обрабатывает GET /api/v1/files/{file_id}/download.
// Поддерживает If-None-Match → 304 по ETag (checksum).
func (h *FilesHandler) DownloadFile(w http.ResponseWriter, r *http.Request, fileId openapi.FileId) {
	id := fileId.String()

	if inm := r.Header.Get("If-None-Match"); inm != "" {
		rec, err := h.svc.Get(r.Context(), id)
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		if etagMatches(inm, etag(rec)) {
			w.Header().Set("ETag", etag(rec))
			w.Header().Set("X-Checksum-SHA256", rec.ChecksumValue())
			w.WriteHeader(http.StatusNotModified)
			return
		}
	}

	rec, rc, err := h.svc.Download(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	defer rc.Close()

	header := w.Header()
	header.Set("Content-Type", rec.ContentType)
	header.Set("Content-Length", strconv.FormatInt(rec.Size, 10))
	header.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": rec.FileName}))
	header.Set("X-Checksum-SHA256", rec.ChecksumValue())
	header.Set("ETag", etag(rec))
	header.Set("Cache-Control", "private, no-cache")
	w.WriteHeader(http.StatusOK)

	// Поток сервиса копирует данные через буфер пула (io.WriterTo)
	n, err := io.Copy(w, rc)
	if err != nil {
		// Заголовки уже отправлены: клиент получит обрезанное тело
		h.logger.Error("Ошибка отдачи файла",
			slog.String("file_id", id),
			slog.Int64("sent", n),
			slog.String("error", err.Error()),
		)
	}
}

// ListFiles обрабатывает GET /api/v1/files.
func (h *FilesHandler) ListFiles(w http.ResponseWriter, r *http.Request, params openapi.ListFilesParams) {
	p := service.ListParams{
		FileName:    params.FileName,
		ContentType: params.ContentType,
		Checksum:    params.Checksum,
	}
	if params.Offset != nil {
		p.Offset = *params.Offset
	}
	if params.Limit != nil {
		if *params.Limit == 0 {
			errors.WriteError(w, http.StatusBadRequest, "INVALID_LIMIT",
				fmt.Sprintf("limit должен быть в диапазоне 1-%d", service.MaxListLimit))
			return
		}
		p.Limit = *params.Limit
	}

	res, err := h.svc.List(r.Context(), p)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	items := make([]fileResponse, 0, len(res.Items))
	for _, rec := range res.Items {
		items = append(items, toFileResponse(rec))
	}
	writeJSON(w, http.StatusOK, fileListResponse{
		Items:  items,
		Total:  res.Total,
		Offset: res.Offset,
		Limit:  res.Limit,
	})
}

// GetFileMetadata обрабатывает GET /api/v1/files/{file_id}.
func (h *FilesHandler) GetFileMetadata(w http.ResponseWriter, r *http.Request, fileId openapi.FileId) {
	rec, err := h.svc.Get(r.Context(), fileId.String())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.Header().Set("ETag", etag(rec))
	writeJSON(w, http.StatusOK, toFileResponse(rec))
}

// UpdateFileMetadata обрабатывает PATCH /api/v1/files/{file_id}.
// Обновляет fileName и/или contentType.
func (h *FilesHandler) UpdateFileMetadata(w http.ResponseWriter, r *http.Request, fileId openapi.FileId) {
	var req updateRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxFieldSize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		errors.ValidationError(w, "Некорректный JSON: ожидаются поля fileName и/или contentType")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		errors.ValidationError(w, describeValidation(err))
		return
	}

	rec, err := h.svc.UpdateMetadata(r.Context(), fileId.String(), service.UpdateParams{
		FileName:    req.FileName,
		ContentType: req.ContentType,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toFileResponse(rec))
}

// DeleteFile обрабатывает DELETE /api/v1/files/{file_id}.
// Soft delete; повторное удаление тоже возвращает 204.
func (h *FilesHandler) DeleteFile(w http.ResponseWriter, r *http.Request, fileId openapi.FileId) {
	if err := h.svc.Delete(r.Context(), fileId.String()); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeServiceError преобразует ошибку сервисного слоя в HTTP-ответ.
// Клиент получает только публичное сообщение, причина пишется в лог.
func (h *FilesHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var maxErr *http.MaxBytesError
	if stderrors.As(err, &maxErr) {
		errors.FileTooLarge(w, fmt.Sprintf("Тело запроса превышает %d байт", maxErr.Limit))
		return
	}

	code, message := errors.CodeInternalError, "Внутренняя ошибка сервера"
	var svcErr *service.Error
	if stderrors.As(err, &svcErr) {
		code, message = svcErr.Code, svcErr.PublicMessage()
	}

	switch {
	case code == validator.CodeFileTooLarge:
		errors.WriteError(w, http.StatusRequestEntityTooLarge, code, message)
	case stderrors.Is(err, service.ErrChecksumMismatch):
		errors.WriteError(w, http.StatusUnprocessableEntity, code, message)
	case stderrors.Is(err, service.ErrInvalidInput):
		errors.WriteError(w, http.StatusBadRequest, code, message)
	case stderrors.Is(err, service.ErrNotFound):
		errors.WriteError(w, http.StatusNotFound, code, message)
	case stderrors.Is(err, service.ErrBusy):
		w.Header().Set("Retry-After", "1")
		errors.WriteError(w, http.StatusServiceUnavailable, code, message)
	default:
		h.logger.Error("Ошибка обработки запроса",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		errors.WriteError(w, http.StatusInternalServerError, code, message)
	}
}

// describeValidation формирует сообщение по первой ошибке go-playground/validator.
func describeValidation(err error) string {
	var verrs playground.ValidationErrors
	if stderrors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Sprintf("Поле '%s' не прошло проверку '%s'", lowerFirst(fe.Field()), fe.Tag())
	}
	return "Некорректные параметры запроса"
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

// toFileResponse преобразует доменную модель в API-формат.
func toFileResponse(rec *model.FileRecord) fileResponse {
	var fileID openapi_types.UUID
	_ = fileID.UnmarshalText([]byte(rec.ID))

	return fileResponse{
		FileId:         fileID,
		FileName:       rec.FileName,
		Size:           rec.Size,
		ContentType:    rec.ContentType,
		Checksum:       rec.ChecksumValue(),
		UploadedAt:     rec.CreatedAt,
		UploadedBy:     rec.UploadedBy,
		LastAccessedAt: rec.LastAccessedAt,
	}
}

// etag — ETag файла: checksum в кавычках.
func etag(rec *model.FileRecord) string {
	return `"` + rec.ChecksumValue() + `"`
}

// etagMatches проверяет заголовок If-None-Match (список, W/, *).
func etagMatches(header, current string) bool {
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || strings.TrimPrefix(candidate, "W/") == current {
			return true
		}
	}
	return false
}

// writeJSON вспомогательная функция для записи JSON-ответа.
func writeJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}
